// Package config holds the guardrail configuration snapshot. A snapshot is
// loaded once by the caller and passed by value into every admission
// decision; nothing in the engine re-reads configuration mid-transaction.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fia-cloud/fia/pkg/money"
)

// Snapshot is an immutable view of the active configuration.
type Snapshot struct {
	CostGuardrails    CostGuardrails         `json:"cost_guardrails" yaml:"cost_guardrails" toml:"cost_guardrails"`
	RunSettings       RunSettings            `json:"run_settings" yaml:"run_settings" toml:"run_settings"`
	TriggerThresholds map[string]interface{} `json:"trigger_thresholds,omitempty" yaml:"trigger_thresholds,omitempty" toml:"trigger_thresholds,omitempty"`
	Paths             map[string]interface{} `json:"paths,omitempty" yaml:"paths,omitempty" toml:"paths,omitempty"`
	API               map[string]interface{} `json:"api,omitempty" yaml:"api,omitempty" toml:"api,omitempty"`
}

// CostGuardrails bound monthly spend.
type CostGuardrails struct {
	MonthlyHardStop     money.Amount `json:"monthly_hard_stop" yaml:"monthly_hard_stop" toml:"monthly_hard_stop"`
	ReservationTTLHours float64      `json:"reservation_ttl_hours" yaml:"reservation_ttl_hours" toml:"reservation_ttl_hours"`
	CostPerCPUMinute    money.Rate   `json:"cost_per_cpu_minute" yaml:"cost_per_cpu_minute" toml:"cost_per_cpu_minute"`
}

// RunSettings bound what may run.
type RunSettings struct {
	DryRun               bool `json:"dry_run" yaml:"dry_run" toml:"dry_run"`
	LiveMode             bool `json:"live_mode" yaml:"live_mode" toml:"live_mode"`
	MaxConcurrentFlyJobs int  `json:"max_concurrent_fly_jobs" yaml:"max_concurrent_fly_jobs" toml:"max_concurrent_fly_jobs"`
}

// Default returns the built-in configuration used when no document is
// provided. Dry-run is on so a fresh install never spends on paid APIs.
func Default() Snapshot {
	return Snapshot{
		CostGuardrails: CostGuardrails{
			MonthlyHardStop:     money.MustParseAmount("25"),
			ReservationTTLHours: 2,
			CostPerCPUMinute:    money.MustParseRate("0.0004"),
		},
		RunSettings: RunSettings{
			DryRun:               true,
			MaxConcurrentFlyJobs: 2,
		},
	}
}

// maxTTLHours bounds the TTL so it fits in a time.Duration.
const maxTTLHours = float64(math.MaxInt64) / float64(time.Hour)

// ReservationTTL converts the configured hours into a duration.
func (s Snapshot) ReservationTTL() time.Duration {
	return time.Duration(s.CostGuardrails.ReservationTTLHours * float64(time.Hour))
}

// EstimateCost converts CPU-minutes into cost at the configured rate.
func (s Snapshot) EstimateCost(cpuMinutes float64) (money.Amount, error) {
	return s.CostGuardrails.CostPerCPUMinute.Cost(cpuMinutes)
}

// Validate checks that every guardrail is usable.
func (s Snapshot) Validate() error {
	var problems []string

	if s.CostGuardrails.MonthlyHardStop <= 0 {
		problems = append(problems, "cost_guardrails.monthly_hard_stop must be positive")
	}
	switch ttl := s.CostGuardrails.ReservationTTLHours; {
	case math.IsNaN(ttl) || ttl <= 0:
		problems = append(problems, "cost_guardrails.reservation_ttl_hours must be positive")
	case ttl >= maxTTLHours:
		problems = append(problems, fmt.Sprintf("cost_guardrails.reservation_ttl_hours must be below %.0f", maxTTLHours))
	}
	if s.RunSettings.MaxConcurrentFlyJobs < 1 {
		problems = append(problems, "run_settings.max_concurrent_fly_jobs must be at least 1")
	}
	if s.RunSettings.DryRun && s.RunSettings.LiveMode {
		problems = append(problems, "run_settings.dry_run and run_settings.live_mode are mutually exclusive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
