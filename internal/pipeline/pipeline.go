// Package pipeline is the caller side of the engine: it asks for admission,
// runs the stage, reports usage and closes the run. Transient storage
// conflicts are retried here with bounded exponential backoff.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fia-cloud/fia/internal/admission"
	"github.com/fia-cloud/fia/internal/config"
	"github.com/fia-cloud/fia/internal/metrics"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/internal/reservation"
	"github.com/fia-cloud/fia/internal/run"
	"github.com/fia-cloud/fia/internal/tracing"
	"github.com/fia-cloud/fia/pkg/db"
	"github.com/fia-cloud/fia/pkg/jsonmap"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
)

// ErrDenied is returned by Execute when admission is refused.
var ErrDenied = errors.New("admission denied")

// RetryPolicy bounds retries of transient storage conflicts.
type RetryPolicy struct {
	Attempts     uint64
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:     5,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     2 * time.Second,
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.Attempts), ctx)
}

// Completion reports how an admitted run ended.
type Completion struct {
	RunID            string
	ReservationID    uuid.UUID
	ActualCPUMinutes float64
	Success          bool
	Details          datatypes.JSONMap
}

// Outcome is what a stage function reports back.
type Outcome struct {
	ActualCPUMinutes float64
	Details          datatypes.JSONMap
}

// StageFunc runs one admitted stage.
type StageFunc func(ctx context.Context, d admission.Decision) (Outcome, error)

// Coordinator drives runs through admission, execution and completion.
type Coordinator struct {
	admission    *admission.Controller
	reservations *reservation.Store
	runs         *run.Store
	config       config.Source
	policy       RetryPolicy
}

func NewCoordinator(ctrl *admission.Controller, reservations *reservation.Store, runs *run.Store, source config.Source) *Coordinator {
	if ctrl == nil || reservations == nil || runs == nil || source == nil {
		panic("pipeline coordinator requires admission, reservations, runs and config")
	}
	return &Coordinator{
		admission:    ctrl,
		reservations: reservations,
		runs:         runs,
		config:       source,
		policy:       DefaultRetryPolicy,
	}
}

// WithRetryPolicy overrides the retry bounds.
func (c *Coordinator) WithRetryPolicy(p RetryPolicy) *Coordinator {
	clone := *c
	clone.policy = p
	return &clone
}

// Admit loads the current configuration once and requests admission.
func (c *Coordinator) Admit(ctx context.Context, req admission.Request) (admission.Decision, error) {
	snap, err := c.config.Snapshot(ctx)
	if err != nil {
		return admission.Decision{}, fmt.Errorf("load config: %w", err)
	}

	var decision admission.Decision
	err = c.retry(ctx, "admit", func() error {
		d, err := c.admission.RequestAdmission(ctx, snap, req)
		if err != nil {
			return err
		}
		decision = d
		return nil
	})
	return decision, err
}

// Release reports usage for a reservation, retrying storage conflicts.
func (c *Coordinator) Release(ctx context.Context, id uuid.UUID, actualCPUMinutes float64) (*models.Reservation, error) {
	var released *models.Reservation
	err := c.retry(ctx, "release", func() error {
		r, err := c.reservations.Release(ctx, id, actualCPUMinutes)
		if err != nil {
			return err
		}
		released = r
		return nil
	})
	return released, err
}

// CloseRun closes a run, retrying storage conflicts.
func (c *Coordinator) CloseRun(ctx context.Context, runID string, endedAt time.Time, success bool, details datatypes.JSONMap) (*models.RunLog, error) {
	var closed *models.RunLog
	err := c.retry(ctx, "close", func() error {
		r, err := c.runs.Close(ctx, runID, endedAt, success, details)
		if err != nil {
			return err
		}
		closed = r
		return nil
	})
	return closed, err
}

// Complete releases the reservation with the reported usage and closes the
// run. A reservation that expired first still closes the run; the release
// error is returned alongside the closed record.
func (c *Coordinator) Complete(ctx context.Context, done Completion) (*models.Reservation, *models.RunLog, error) {
	released, releaseErr := c.Release(ctx, done.ReservationID, done.ActualCPUMinutes)
	if releaseErr != nil && !errors.Is(releaseErr, reservation.ErrReservationExpired) {
		return nil, nil, releaseErr
	}

	details := done.Details
	if releaseErr != nil {
		details = jsonmap.With(details, "reason", "reservation_expired")
	}

	closed, err := c.CloseRun(ctx, done.RunID, time.Time{}, done.Success && releaseErr == nil, details)
	if err != nil {
		return released, nil, err
	}
	return released, closed, releaseErr
}

// Execute admits req, runs fn and completes the run with its outcome. A
// denial returns the decision together with ErrDenied.
func (c *Coordinator) Execute(ctx context.Context, req admission.Request, fn StageFunc) (decision admission.Decision, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.execute",
		attribute.String("run_id", req.RunID),
		attribute.String("stage", req.Stage),
	)
	defer func() { tracing.End(span, err) }()

	decision, err = c.Admit(ctx, req)
	if err != nil {
		return decision, err
	}
	if !decision.Granted {
		return decision, fmt.Errorf("%w: %s", ErrDenied, decision.Reason)
	}

	info := run.Info{ID: decision.RunID, Stage: decision.Stage}
	if decision.Reservation != nil {
		info.ReservationID = decision.Reservation.ID
	}
	ctx = run.NewContext(ctx, info)
	outcome, runErr := fn(ctx, decision)

	details := outcome.Details
	if runErr != nil {
		details = jsonmap.With(details, "error", runErr.Error())
		log.Error("stage failed", append(info.LogFields(), "error", runErr)...)
	}

	_, _, err = c.Complete(ctx, Completion{
		RunID:            decision.RunID,
		ReservationID:    decision.Reservation.ID,
		ActualCPUMinutes: outcome.ActualCPUMinutes,
		Success:          runErr == nil,
		Details:          details,
	})
	if runErr != nil {
		return decision, errors.Join(runErr, err)
	}
	return decision, err
}

func (c *Coordinator) retry(ctx context.Context, operation string, fn func() error) error {
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !db.IsConflict(err) {
			return backoff.Permanent(err)
		}
		return err
	}, c.policy.backoff(ctx), func(err error, wait time.Duration) {
		metrics.RetriesTotal.WithLabelValues(operation).Inc()
		log.Warn("retrying after storage conflict", "operation", operation, "wait", wait, "error", err)
	})
}
