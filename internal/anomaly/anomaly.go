// Package anomaly aggregates anomalous outcomes (denials, expirations,
// failed runs) into one summary per day. Counters live in memory; each
// flush folds them into the day's row, replacing its snapshot, and drains
// what it wrote from the buffer. Several processes can therefore flush the
// same day without erasing each other's counts.
package anomaly

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fia-cloud/fia/internal/metrics"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dayLayout = "2006-01-02"

// Kind names a class of anomalous event.
type Kind string

const (
	KindDeniedBudget       Kind = "admission_denied_budget"
	KindDeniedConcurrency  Kind = "admission_denied_concurrency"
	KindDeniedDryRun       Kind = "admission_denied_dry_run"
	KindReservationExpired Kind = "reservation_expired"
	KindReleaseAfterExpiry Kind = "release_after_expiry"
	KindRunFailed          Kind = "run_failed"
)

// Recorder accepts anomaly events.
type Recorder interface {
	RecordEvent(day string, kind Kind)
}

// Summary is the flushed snapshot of one day.
type Summary struct {
	Day       string         `json:"day"`
	Counts    map[Kind]int64 `json:"counts"`
	Total     int64          `json:"total"`
	FlushedAt time.Time      `json:"flushed_at"`
}

// Rollup buffers per-day counters and persists them to anomaly_rollups.
type Rollup struct {
	db       *gorm.DB
	location *time.Location
	now      func() time.Time

	mu     sync.Mutex
	counts map[string]map[Kind]int64
}

func New(db *gorm.DB, location *time.Location) *Rollup {
	if db == nil {
		panic("anomaly rollup requires database")
	}
	if location == nil {
		location = time.UTC
	}
	return &Rollup{
		db:       db,
		location: location,
		now:      time.Now,
		counts:   make(map[string]map[Kind]int64),
	}
}

// WithClock returns a rollup using now as its time source. Buffered
// counters are copied, not shared.
func (r *Rollup) WithClock(now func() time.Time) *Rollup {
	clone := New(r.db, r.location)
	clone.now = now

	r.mu.Lock()
	defer r.mu.Unlock()
	for day, byKind := range r.counts {
		clone.counts[day] = copyCounts(byKind)
	}
	return clone
}

// DayKey returns the canonical day key for t.
func (r *Rollup) DayKey(t time.Time) string {
	return t.In(r.location).Format(dayLayout)
}

// RecordEvent increments kind for day.
func (r *Rollup) RecordEvent(day string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKind, ok := r.counts[day]
	if !ok {
		byKind = make(map[Kind]int64)
		r.counts[day] = byKind
	}
	byKind[kind]++

	metrics.AnomalyEventsTotal.WithLabelValues(string(kind)).Inc()
}

// Pending returns a copy of the unflushed counters for day.
func (r *Rollup) Pending(day string) map[Kind]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return copyCounts(r.counts[day])
}

// Flush adds the buffered counters for day to its persisted snapshot and
// drains them from the buffer. The returned summary is the stored total.
func (r *Rollup) Flush(ctx context.Context, day string) (Summary, error) {
	if _, err := time.ParseInLocation(dayLayout, day, r.location); err != nil {
		return Summary{}, fmt.Errorf("invalid day %q: %w", day, err)
	}

	delta := r.Pending(day)

	var summary Summary
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := storedCounts(ctx, tx, day)
		if err != nil {
			return err
		}
		summary = r.merge(day, stored, delta)
		return persist(ctx, tx, summary)
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Summary{}, err
	}

	r.drain(day, delta)

	metrics.AnomalyFlushesTotal.Inc()
	log.Info("anomaly rollup flushed", "day", day, "total", summary.Total)
	return summary, nil
}

// FlushAll flushes every buffered day plus today.
func (r *Rollup) FlushAll(ctx context.Context) ([]Summary, error) {
	today := r.DayKey(r.now())

	r.mu.Lock()
	days := make([]string, 0, len(r.counts)+1)
	for day := range r.counts {
		days = append(days, day)
	}
	r.mu.Unlock()

	if !contains(days, today) {
		days = append(days, today)
	}
	sort.Strings(days)

	summaries := make([]Summary, 0, len(days))
	var errs []error
	for _, day := range days {
		summary, err := r.Flush(ctx, day)
		if err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", day, err))
			continue
		}
		summaries = append(summaries, summary)
	}

	return summaries, errors.Join(errs...)
}

// Get reads the persisted snapshot for day.
func (r *Rollup) Get(ctx context.Context, day string) (*models.AnomalyRollup, error) {
	row := &models.AnomalyRollup{}
	if err := r.db.WithContext(ctx).First(row, "day = ?", day).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *Rollup) merge(day string, stored, delta map[Kind]int64) Summary {
	summary := Summary{
		Day:       day,
		Counts:    make(map[Kind]int64, len(stored)+len(delta)),
		FlushedAt: r.now().UTC(),
	}
	for _, counts := range []map[Kind]int64{stored, delta} {
		for kind, n := range counts {
			summary.Counts[kind] += n
			summary.Total += n
		}
	}
	return summary
}

// drain subtracts flushed counts. Events recorded after the flush read
// its buffer stay behind for the next flush.
func (r *Rollup) drain(day string, flushed map[Kind]int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKind, ok := r.counts[day]
	if !ok {
		return
	}
	for kind, n := range flushed {
		byKind[kind] -= n
		if byKind[kind] <= 0 {
			delete(byKind, kind)
		}
	}
	if len(byKind) == 0 {
		delete(r.counts, day)
	}
}

func storedCounts(ctx context.Context, tx *gorm.DB, day string) (map[Kind]int64, error) {
	var rows []models.AnomalyRollup
	if err := tx.WithContext(ctx).Where("day = ?", day).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	raw, ok := rows[0].Summary["counts"]
	if !ok {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	counts := make(map[Kind]int64)
	if err := json.Unmarshal(encoded, &counts); err != nil {
		return nil, fmt.Errorf("rollup %s has unreadable counts: %w", day, err)
	}
	return counts, nil
}

func persist(ctx context.Context, tx *gorm.DB, summary Summary) error {
	counts := make(map[string]interface{}, len(summary.Counts))
	for kind, n := range summary.Counts {
		counts[string(kind)] = n
	}

	row := &models.AnomalyRollup{
		ID:  uuid.New(),
		Day: summary.Day,
		Summary: datatypes.JSONMap{
			"counts":     counts,
			"total":      summary.Total,
			"flushed_at": summary.FlushedAt.Format(time.RFC3339Nano),
		},
		CreatedAt: summary.FlushedAt,
		UpdatedAt: summary.FlushedAt,
	}

	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "day"}},
			DoUpdates: clause.AssignmentColumns([]string{"summary", "updated_at"}),
		}).
		Create(row).Error
}

func copyCounts(in map[Kind]int64) map[Kind]int64 {
	out := make(map[Kind]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
