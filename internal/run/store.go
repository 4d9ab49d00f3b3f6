// Package run is the run tracker: an append-only audit log of pipeline runs
// and the signals and results they produce.
package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fia-cloud/fia/internal/anomaly"
	"github.com/fia-cloud/fia/internal/metrics"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicateRun   = errors.New("run already exists")
	ErrUnknownRun     = errors.New("run not found")
	ErrInvalidEndTime = errors.New("run cannot end before it started")
)

// Store reads and writes run_log, signals and results.
type Store struct {
	db       *gorm.DB
	recorder anomaly.Recorder
	location *time.Location
	now      func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	if db == nil {
		panic("run store requires database")
	}
	return &Store{db: db, location: time.UTC, now: time.Now}
}

// WithRecorder routes failed closes into the anomaly rollup, keyed by day in
// location.
func (s *Store) WithRecorder(recorder anomaly.Recorder, location *time.Location) *Store {
	clone := *s
	clone.recorder = recorder
	if location != nil {
		clone.location = location
	}
	return &clone
}

// WithTx returns a store bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	clone := *s
	clone.db = tx
	return &clone
}

// WithClock overrides the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	clone := *s
	clone.now = now
	return &clone
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Exists reports whether runID has a run_log row.
func (s *Store) Exists(ctx context.Context, runID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.RunLog{}).
		Where("run_id = ?", runID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Open creates the run record. It fails with ErrDuplicateRun when runID has
// been used before.
func (s *Store) Open(ctx context.Context, runID string, stage Stage, meta datatypes.JSONMap, startedAt time.Time) (*models.RunLog, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	if startedAt.IsZero() {
		startedAt = s.now()
	}

	record := &models.RunLog{
		RunID:     runID,
		Stage:     string(stage),
		Meta:      meta,
		StartedAt: startedAt.UTC(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
		}
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}

	log.Debug("run opened", "run_id", runID, "stage", stage)
	return record, nil
}

// Close records the end of a run. Closing an already closed run is a no-op
// that returns the stored record unchanged.
func (s *Store) Close(ctx context.Context, runID string, endedAt time.Time, success bool, details datatypes.JSONMap) (*models.RunLog, error) {
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	endedAt = endedAt.UTC()

	record, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if record.Closed() {
		log.Debug("run already closed", "run_id", runID)
		return record, nil
	}
	if endedAt.Before(record.StartedAt) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEndTime, runID)
	}

	result := s.db.WithContext(ctx).
		Model(&models.RunLog{}).
		Where("run_id = ? AND ended_at IS NULL", runID).
		Updates(map[string]interface{}{
			"ended_at": endedAt,
			"success":  success,
			"details":  details,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// A concurrent close won; report what it stored.
		return s.Get(ctx, runID)
	}

	record.EndedAt = &endedAt
	record.Success = &success
	record.Details = details

	status := "succeeded"
	if !success {
		status = "failed"
		if s.recorder != nil {
			s.recorder.RecordEvent(endedAt.In(s.location).Format("2006-01-02"), anomaly.KindRunFailed)
		}
	}
	metrics.RunsClosedTotal.WithLabelValues(record.Stage, status).Inc()
	metrics.RunDurationSeconds.WithLabelValues(record.Stage, status).Observe(endedAt.Sub(record.StartedAt).Seconds())

	log.Info("run closed", "run_id", runID, "stage", record.Stage, "success", success)
	return record, nil
}

// Get returns the run record or ErrUnknownRun.
func (s *Store) Get(ctx context.Context, runID string) (*models.RunLog, error) {
	record := &models.RunLog{}
	err := s.db.WithContext(ctx).First(record, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Stage    Stage
	OpenOnly bool
	Limit    int
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.RunLog, error) {
	q := s.db.WithContext(ctx).Model(&models.RunLog{}).Order("started_at DESC")
	if filter.Stage != "" {
		q = q.Where("stage = ?", string(filter.Stage))
	}
	if filter.OpenOnly {
		q = q.Where("ended_at IS NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var runs []models.RunLog
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// AddSignal stores a stage output for ticker under runID.
func (s *Store) AddSignal(ctx context.Context, runID, ticker string, payload datatypes.JSONMap) (*models.Signal, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	signal := &models.Signal{
		ID:        uuid.New(),
		RunID:     runID,
		Ticker:    normalizeTicker(ticker),
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(signal).Error; err != nil {
		return nil, err
	}
	return signal, nil
}

// AddResult stores a deep-analysis output for ticker under runID.
func (s *Store) AddResult(ctx context.Context, runID, ticker string, payload datatypes.JSONMap) (*models.Result, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	result := &models.Result{
		ID:        uuid.New(),
		RunID:     runID,
		Ticker:    normalizeTicker(ticker),
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// Signals lists the signals of runID in creation order.
func (s *Store) Signals(ctx context.Context, runID string) ([]models.Signal, error) {
	var out []models.Signal
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&out).Error
	return out, err
}

// Results lists the results of runID in creation order.
func (s *Store) Results(ctx context.Context, runID string) ([]models.Result, error) {
	var out []models.Result
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *Store) requireRun(ctx context.Context, runID string) error {
	ok, err := s.Exists(ctx, runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return nil
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
