package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fia-cloud/fia/internal/anomaly"
	"github.com/fia-cloud/fia/internal/ledger"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/internal/reservation"
	"github.com/fia-cloud/fia/internal/run"
	"github.com/fia-cloud/fia/internal/testutil"
	"github.com/fia-cloud/fia/pkg/money"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestSweepOnceClosesAbandonedRuns(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenTestDB(t)
	clock := testutil.NewClock(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))
	rollup := anomaly.New(db, time.UTC).WithClock(clock.Now)

	l := ledger.New(db, time.UTC)
	reservations := reservation.NewStore(db, l).WithClock(clock.Now).WithRecorder(rollup)
	runs := run.NewStore(db).WithClock(clock.Now).WithRecorder(rollup, time.UTC)

	for _, runID := range []string{"a", "b"} {
		_, err := runs.Open(ctx, runID, run.StageOne, nil, clock.Now())
		require.NoError(t, err)
		r, err := reservations.Create(ctx, reservation.CreateParams{
			RunID:               runID,
			EstimatedCPUMinutes: 1,
			EstimatedCost:       money.MustParseAmount("1"),
			Rate:                money.MustParseRate("1"),
			TTL:                 time.Hour,
		})
		require.NoError(t, err)
		require.NoError(t, reservations.Activate(ctx, r))
	}

	sw := New(reservations, runs, 2, time.Minute).WithClock(clock.Now)

	report, err := sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Expired)

	clock.Advance(2 * time.Hour)
	report, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Expired, 2)
	assert.Equal(t, []string{"a", "b"}, report.RunsClosed)

	closed, err := runs.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, closed.Success)
	assert.False(t, *closed.Success)
	assert.Equal(t, "reservation_expired", closed.Details["reason"])

	pending := rollup.Pending("2025-09-01")
	assert.Equal(t, int64(2), pending[anomaly.KindReservationExpired])
	assert.Equal(t, int64(2), pending[anomaly.KindRunFailed])

	report, err = sw.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Expired)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sweeps int32
	exp := &fakeExpirer{onSweep: func() {
		if atomic.AddInt32(&sweeps, 1) == 3 {
			cancel()
		}
	}}

	sw := New(exp, &fakeCloser{}, 1, time.Millisecond)
	require.NoError(t, sw.Run(ctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&sweeps), int32(3))
}

func TestRunContinuesAfterSweepErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sweeps int32
	exp := &fakeExpirer{
		err: errors.New("database is locked"),
		onSweep: func() {
			if atomic.AddInt32(&sweeps, 1) == 2 {
				cancel()
			}
		},
	}

	sw := New(exp, &fakeCloser{}, 1, time.Millisecond)
	require.NoError(t, sw.Run(ctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&sweeps), int32(2))
}

type fakeExpirer struct {
	err     error
	onSweep func()
}

func (f *fakeExpirer) SweepExpired(context.Context, time.Time) ([]uuid.UUID, error) {
	if f.onSweep != nil {
		f.onSweep()
	}
	return nil, f.err
}

func (f *fakeExpirer) Get(_ context.Context, id uuid.UUID) (*models.Reservation, error) {
	return &models.Reservation{ID: id}, nil
}

type fakeCloser struct{}

func (fakeCloser) Close(context.Context, string, time.Time, bool, datatypes.JSONMap) (*models.RunLog, error) {
	return &models.RunLog{}, nil
}
