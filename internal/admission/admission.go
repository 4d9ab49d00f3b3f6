// Package admission decides whether a run may reserve compute. Every
// decision reads the ledger and the outstanding reservations inside one
// serializable transaction; a grant writes the reservation, the ledger
// estimate and the run record in that same transaction.
package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fia-cloud/fia/internal/anomaly"
	"github.com/fia-cloud/fia/internal/config"
	"github.com/fia-cloud/fia/internal/event"
	"github.com/fia-cloud/fia/internal/ledger"
	"github.com/fia-cloud/fia/internal/metrics"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/internal/reservation"
	"github.com/fia-cloud/fia/internal/run"
	"github.com/fia-cloud/fia/internal/tracing"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/fia-cloud/fia/pkg/money"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidEstimate = errors.New("estimated cpu minutes must be a positive finite number")
	ErrInvalidRunID    = errors.New("run id is required")

	// ErrDuplicateRun is returned when the run id was already admitted.
	ErrDuplicateRun = run.ErrDuplicateRun
	// ErrUnknownStage is returned for stages the pipeline does not run.
	ErrUnknownStage = run.ErrUnknownStage
)

// Reason explains a denial.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonBudgetExceeded      Reason = "budget_exceeded"
	ReasonConcurrencyExceeded Reason = "concurrency_exceeded"
	ReasonDryRunBlocked       Reason = "dry_run_blocked"
)

var denialKinds = map[Reason]anomaly.Kind{
	ReasonBudgetExceeded:      anomaly.KindDeniedBudget,
	ReasonConcurrencyExceeded: anomaly.KindDeniedConcurrency,
	ReasonDryRunBlocked:       anomaly.KindDeniedDryRun,
}

// Request asks for compute for one run.
type Request struct {
	RunID               string            `json:"run_id"`
	Stage               string            `json:"stage"`
	EstimatedCPUMinutes float64           `json:"estimated_cpu_minutes"`
	Meta                datatypes.JSONMap `json:"meta,omitempty"`
}

// Decision is the outcome of an admission request. Denials are decisions,
// not errors.
type Decision struct {
	Granted       bool                `json:"granted"`
	Reason        Reason              `json:"reason,omitempty"`
	RunID         string              `json:"run_id"`
	Stage         run.Stage           `json:"stage"`
	Month         string              `json:"month"`
	EstimatedCost money.Amount        `json:"estimated_cost"`
	ProjectedCost money.Amount        `json:"projected_cost"`
	HardStop      money.Amount        `json:"hard_stop"`
	Outstanding   int64               `json:"outstanding"`
	MaxConcurrent int                 `json:"max_concurrent"`
	Reservation   *models.Reservation `json:"reservation,omitempty"`
}

// Controller grants or denies admission requests.
type Controller struct {
	db           *gorm.DB
	ledger       *ledger.Ledger
	reservations *reservation.Store
	runs         *run.Store
	recorder     anomaly.Recorder
	events       event.Publisher
	now          func() time.Time
}

func NewController(db *gorm.DB, l *ledger.Ledger, reservations *reservation.Store, runs *run.Store) *Controller {
	if db == nil {
		panic("admission controller requires database")
	}
	if l == nil {
		l = ledger.New(db, time.UTC)
	}
	if reservations == nil {
		reservations = reservation.NewStore(db, l)
	}
	if runs == nil {
		runs = run.NewStore(db)
	}
	return &Controller{
		db:           db,
		ledger:       l,
		reservations: reservations,
		runs:         runs,
		events:       event.Discard,
		now:          time.Now,
	}
}

// WithRecorder routes denials into the anomaly rollup.
func (c *Controller) WithRecorder(recorder anomaly.Recorder) *Controller {
	clone := *c
	clone.recorder = recorder
	return &clone
}

// WithEvents publishes decisions to pub.
func (c *Controller) WithEvents(pub event.Publisher) *Controller {
	clone := *c
	if pub == nil {
		pub = event.Discard
	}
	clone.events = pub
	return &clone
}

// WithClock overrides the time source for the controller and its stores.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	clone := *c
	clone.now = now
	clone.ledger = c.ledger.WithClock(now)
	clone.reservations = c.reservations.WithClock(now)
	clone.runs = c.runs.WithClock(now)
	return &clone
}

// RequestAdmission evaluates req against snap. Checks run in a fixed order:
// budget, then concurrency, then dry-run. No retries happen here; storage
// conflicts surface to the caller.
func (c *Controller) RequestAdmission(ctx context.Context, snap config.Snapshot, req Request) (Decision, error) {
	ctx, span := tracing.Start(ctx, "admission.request",
		attribute.String("run_id", req.RunID),
		attribute.String("stage", req.Stage),
		attribute.Float64("estimated_cpu_minutes", req.EstimatedCPUMinutes),
	)
	decision, err := c.requestAdmission(ctx, snap, req)
	span.SetAttributes(
		attribute.Bool("granted", decision.Granted),
		attribute.String("reason", string(decision.Reason)),
	)
	tracing.End(span, err)
	return decision, err
}

func (c *Controller) requestAdmission(ctx context.Context, snap config.Snapshot, req Request) (Decision, error) {
	req.RunID = strings.TrimSpace(req.RunID)
	if req.RunID == "" {
		return Decision{}, ErrInvalidRunID
	}
	stage, err := run.ParseStage(req.Stage)
	if err != nil {
		return Decision{}, err
	}
	if math.IsNaN(req.EstimatedCPUMinutes) || math.IsInf(req.EstimatedCPUMinutes, 0) || req.EstimatedCPUMinutes <= 0 {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidEstimate, req.EstimatedCPUMinutes)
	}
	if err := snap.Validate(); err != nil {
		return Decision{}, err
	}

	cost, err := snap.EstimateCost(req.EstimatedCPUMinutes)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidEstimate, err)
	}

	now := c.now().UTC()
	decision := Decision{
		RunID:         req.RunID,
		Stage:         stage,
		Month:         c.ledger.MonthKey(now),
		EstimatedCost: cost,
		HardStop:      snap.CostGuardrails.MonthlyHardStop,
		MaxConcurrent: snap.RunSettings.MaxConcurrentFlyJobs,
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		l := c.ledger.WithTx(tx)
		reservations := c.reservations.WithTx(tx)
		runs := c.runs.WithTx(tx)

		if err := ensureUnused(ctx, runs, reservations, req.RunID); err != nil {
			return err
		}

		usage, err := l.GetMonth(ctx, decision.Month)
		if err != nil {
			return err
		}
		decision.ProjectedCost = usage.CostEstimated.Add(cost)

		decision.Outstanding, err = reservations.CountOutstanding(ctx, now)
		if err != nil {
			return err
		}

		decision.Reason = evaluate(snap, stage, usage.CostEstimated, cost, decision.Outstanding)
		if decision.Reason != ReasonNone {
			return nil
		}

		r, err := reservations.Create(ctx, reservation.CreateParams{
			RunID:               req.RunID,
			EstimatedCPUMinutes: req.EstimatedCPUMinutes,
			EstimatedCost:       cost,
			Rate:                snap.CostGuardrails.CostPerCPUMinute,
			TTL:                 snap.ReservationTTL(),
		})
		if err != nil {
			return err
		}
		if err := reservations.Activate(ctx, r); err != nil {
			return err
		}
		if err := l.AddEstimated(ctx, decision.Month, req.EstimatedCPUMinutes, cost); err != nil {
			return err
		}
		if _, err := runs.Open(ctx, req.RunID, stage, req.Meta, now); err != nil {
			return err
		}

		decision.Granted = true
		decision.Reservation = r
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Decision{}, err
	}

	c.observe(now, decision)
	return decision, nil
}

func ensureUnused(ctx context.Context, runs *run.Store, reservations *reservation.Store, runID string) error {
	exists, err := runs.Exists(ctx, runID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}

	prior, err := reservations.ForRun(ctx, runID)
	if err != nil {
		return err
	}
	if len(prior) > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}
	return nil
}

// evaluate compares the estimate against the remaining headroom so a huge
// estimate cannot wrap the projected total past the hard stop.
func evaluate(snap config.Snapshot, stage run.Stage, spent, cost money.Amount, outstanding int64) Reason {
	if cost > snap.CostGuardrails.MonthlyHardStop.Sub(spent) {
		return ReasonBudgetExceeded
	}
	if outstanding >= int64(snap.RunSettings.MaxConcurrentFlyJobs) {
		return ReasonConcurrencyExceeded
	}
	if snap.RunSettings.DryRun && stage.ConsumesPaidAPIs() {
		return ReasonDryRunBlocked
	}
	return ReasonNone
}

func (c *Controller) observe(now time.Time, d Decision) {
	if d.Granted {
		metrics.AdmissionsTotal.WithLabelValues(string(d.Stage), "granted").Inc()
		metrics.ReservationsOutstanding.Set(float64(d.Outstanding + 1))
		metrics.CostEstimatedMicros.Add(float64(d.EstimatedCost.Micros()))

		c.events.Publish(event.NewEvent(event.TypeAdmissionGranted, d.RunID, d.Reservation.ID.String(), d))
		c.events.Publish(event.NewEvent(event.TypeRunOpened, d.RunID, "", map[string]interface{}{"stage": d.Stage}))

		log.Info("admission granted",
			"run_id", d.RunID,
			"stage", d.Stage,
			"reservation_id", d.Reservation.ID,
			"estimated_cost", d.EstimatedCost.String(),
			"projected_cost", d.ProjectedCost.String(),
			"expires_at", d.Reservation.ExpiresAt)
		return
	}

	metrics.AdmissionsTotal.WithLabelValues(string(d.Stage), string(d.Reason)).Inc()
	metrics.ReservationsOutstanding.Set(float64(d.Outstanding))
	if c.recorder != nil {
		c.recorder.RecordEvent(now.In(c.ledger.Location()).Format("2006-01-02"), denialKinds[d.Reason])
	}
	c.events.Publish(event.NewEvent(event.TypeAdmissionDenied, d.RunID, "", d))

	log.Warn("admission denied",
		"run_id", d.RunID,
		"stage", d.Stage,
		"reason", d.Reason,
		"projected_cost", d.ProjectedCost.String(),
		"hard_stop", d.HardStop.String(),
		"outstanding", d.Outstanding)
}
