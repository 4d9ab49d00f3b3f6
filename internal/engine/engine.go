// Package engine wires the admission-control components over one database
// handle so the API, the CLI and the background loops share them.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fia-cloud/fia/internal/admission"
	"github.com/fia-cloud/fia/internal/anomaly"
	"github.com/fia-cloud/fia/internal/config"
	"github.com/fia-cloud/fia/internal/event"
	"github.com/fia-cloud/fia/internal/ledger"
	"github.com/fia-cloud/fia/internal/pipeline"
	"github.com/fia-cloud/fia/internal/reservation"
	"github.com/fia-cloud/fia/internal/run"
	"github.com/fia-cloud/fia/internal/sweeper"
	"github.com/fia-cloud/fia/internal/trigger"
	"github.com/fia-cloud/fia/internal/trigger/cron"
	"github.com/fia-cloud/fia/pkg/env"
	"github.com/fia-cloud/fia/pkg/log"
	"gorm.io/gorm"
)

// Options tune the engine. Zero values take the defaults.
type Options struct {
	Location       *time.Location
	ConfigPath     string
	DryRunOverride string
	SweepInterval  time.Duration
	SweepBatchSize int
	SweepWorkers   int
	RollupSchedule string
	Retry          pipeline.RetryPolicy
	Now            func() time.Time
}

// OptionsFromEnv maps process variables onto Options.
func OptionsFromEnv(vars env.Environment) Options {
	return Options{
		Location:       vars.Timezone.Get(),
		ConfigPath:     vars.ConfigPath,
		DryRunOverride: vars.DryRun,
		SweepInterval:  vars.SweepInterval,
		SweepBatchSize: vars.SweepBatchSize,
		RollupSchedule: vars.RollupSchedule,
		Retry: pipeline.RetryPolicy{
			Attempts:     vars.RetryAttempts,
			InitialDelay: vars.RetryInitialDelay,
			MaxDelay:     pipeline.DefaultRetryPolicy.MaxDelay,
		},
	}
}

type Engine struct {
	DB           *gorm.DB
	Location     *time.Location
	Bus          event.Bus
	Rollup       *anomaly.Rollup
	Ledger       *ledger.Ledger
	Reservations *reservation.Store
	Runs         *run.Store
	Admission    *admission.Controller
	Configs      *config.Store
	Config       *config.Resolver
	Coordinator  *pipeline.Coordinator
	Sweeper      *sweeper.Sweeper

	rollupSchedule string
	now            func() time.Time
}

func New(db *gorm.DB, opts Options) *Engine {
	if db == nil {
		panic("engine requires database")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = pipeline.DefaultRetryPolicy
	}
	if opts.SweepWorkers <= 0 {
		opts.SweepWorkers = 4
	}

	bus := event.New()
	rollup := anomaly.New(db, opts.Location).WithClock(opts.Now)
	l := ledger.New(db, opts.Location).WithClock(opts.Now)
	reservations := reservation.NewStore(db, l).
		WithClock(opts.Now).
		WithRecorder(rollup).
		WithEvents(bus).
		WithBatchSize(opts.SweepBatchSize)
	runs := run.NewStore(db).
		WithClock(opts.Now).
		WithRecorder(rollup, opts.Location)
	ctrl := admission.NewController(db, l, reservations, runs).
		WithClock(opts.Now).
		WithRecorder(rollup).
		WithEvents(bus)

	configs := config.NewStore(db)
	resolver := &config.Resolver{
		Store:          configs,
		Path:           opts.ConfigPath,
		DryRunOverride: opts.DryRunOverride,
	}

	return &Engine{
		DB:           db,
		Location:     opts.Location,
		Bus:          bus,
		Rollup:       rollup,
		Ledger:       l,
		Reservations: reservations,
		Runs:         runs,
		Admission:    ctrl,
		Configs:      configs,
		Config:       resolver,
		Coordinator: pipeline.NewCoordinator(ctrl, reservations, runs, resolver).
			WithRetryPolicy(opts.Retry),
		Sweeper: sweeper.New(reservations, runs, opts.SweepWorkers, opts.SweepInterval).
			WithClock(opts.Now),
		rollupSchedule: opts.RollupSchedule,
		now:            opts.Now,
	}
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Run drives the expiry sweeper and the rollup flush schedule until ctx is
// done. Buffered anomaly counters are flushed once more on the way out.
func (e *Engine) Run(ctx context.Context) error {
	var flush *cron.Cron
	if e.rollupSchedule != "" {
		var err error
		if flush, err = cron.New("anomaly-rollup", e.rollupSchedule, e.Location, e.FlushRollups); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("launching expiry sweeper")
		if err := e.Sweeper.Run(ctx); err != nil {
			log.Error("expiry sweeper exited", "error", err)
		}
	}()

	if flush != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			trigger.ListenAll(ctx, flush)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.FlushRollups(flushCtx); err != nil {
		log.Error("final anomaly rollup flush failure", "error", err)
	}

	return nil
}

// FlushRollups persists every buffered anomaly day.
func (e *Engine) FlushRollups(ctx context.Context) error {
	summaries, err := e.Rollup.FlushAll(ctx)
	for _, s := range summaries {
		e.Bus.Publish(event.NewEvent(event.TypeRollupFlushed, "", "", s))
	}
	return err
}

// ReconcileReport is the outcome of a one-shot reconciliation pass.
type ReconcileReport struct {
	Sweep sweeper.Report `json:"sweep"`
	Usage ledger.Report  `json:"usage"`
}

// Reconcile sweeps expired reservations, closes their runs, flushes the
// anomaly rollup and reports the current month against the hard stop.
func (e *Engine) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	snap, err := e.Config.Snapshot(ctx)
	if err != nil {
		return report, err
	}

	sweepReport, sweepErr := e.Sweeper.SweepOnce(ctx)
	report.Sweep = sweepReport

	flushErr := e.FlushRollups(ctx)

	usage, err := e.Ledger.Report(ctx, e.Ledger.MonthKey(e.now()), snap.CostGuardrails.MonthlyHardStop)
	if err != nil {
		return report, errors.Join(sweepErr, flushErr, err)
	}
	report.Usage = usage

	return report, errors.Join(sweepErr, flushErr)
}
