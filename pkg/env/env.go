package env

import (
	"strings"
	"time"

	"github.com/fia-cloud/fia/pkg/log"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var variables = new(Environment)

// Process the environment variables set for fia.
func Process() error {
	if err := envconfig.Process("fia", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	// set the log level
	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by fia.
type Environment struct {
	LogLevel          string        `split_words:"true" default:"info"`
	Port              int           `default:"8080"`
	NodeID            string        `split_words:"true" default:""` // hostname
	DatabaseType      string        `split_words:"true" default:"sqlite"`
	DatabaseDSN       string        `split_words:"true" default:"file:fia.db?_txlock=immediate&_busy_timeout=5000"`
	Timezone          Location      `default:"UTC"`
	ConfigPath        string        `split_words:"true" default:"config/defaults.json"`
	DryRun            string        `split_words:"true" default:""`
	SweepInterval     time.Duration `split_words:"true" default:"2m"`
	SweepBatchSize    int           `split_words:"true" default:"256"`
	RollupSchedule    string        `split_words:"true" default:"*/15 * * * *"`
	RetryAttempts     uint64        `split_words:"true" default:"5"`
	RetryInitialDelay time.Duration `split_words:"true" default:"50ms"`
	TraceExporter     string        `split_words:"true" default:""`
	TraceEndpoint     string        `split_words:"true" default:""`
	TraceSampleRatio  float64       `split_words:"true" default:"1"`
	GraphiQL          bool          `envconfig:"GRAPHIQL" default:"false"`
}

// Location is a time zone name decoded into a *time.Location. Month and
// day keys are always computed in this single zone.
type Location struct {
	*time.Location
}

// Decode implements envconfig.Decoder.
func (l *Location) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		value = "UTC"
	}

	loc, err := time.LoadLocation(value)
	if err != nil {
		return errors.Wrapf(err, "invalid timezone %q", value)
	}

	l.Location = loc
	return nil
}

// Get returns the decoded location, falling back to UTC.
func (l Location) Get() *time.Location {
	if l.Location == nil {
		return time.UTC
	}
	return l.Location
}
