package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/fia-cloud/fia/internal/metrics"
	metricstest "github.com/fia-cloud/fia/internal/metrics/testutil"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

type RollupTestSuite struct {
	suite.Suite
	db     *gorm.DB
	clock  *testutil.Clock
	rollup *Rollup
}

func (s *RollupTestSuite) SetupTest() {
	s.db = testutil.OpenTestDB(s.T())
	s.clock = testutil.NewClock(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	s.rollup = New(s.db, time.UTC).WithClock(s.clock.Now)
	metrics.AnomalyEventsTotal.Reset()
}

func (s *RollupTestSuite) TestFlushPersistsCounts() {
	day := s.rollup.DayKey(s.clock.Now())
	s.rollup.RecordEvent(day, KindDeniedBudget)
	s.rollup.RecordEvent(day, KindDeniedBudget)
	s.rollup.RecordEvent(day, KindReservationExpired)

	summary, err := s.rollup.Flush(context.Background(), day)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), summary.Total)
	assert.Equal(s.T(), int64(2), summary.Counts[KindDeniedBudget])

	row, err := s.rollup.Get(context.Background(), day)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 3, row.Summary["total"])

	assert.Equal(s.T(), 2.0, metricstest.CounterValue(s.T(), metrics.AnomalyEventsTotal, string(KindDeniedBudget)))
}

func (s *RollupTestSuite) TestRepeatedFlushesKeepOneRow() {
	ctx := context.Background()
	day := "2025-03-14"

	s.rollup.RecordEvent(day, KindRunFailed)
	_, err := s.rollup.Flush(ctx, day)
	require.NoError(s.T(), err)

	s.rollup.RecordEvent(day, KindRunFailed)
	_, err = s.rollup.Flush(ctx, day)
	require.NoError(s.T(), err)

	testutil.AssertCount(s.T(), s.db, &models.AnomalyRollup{}, 1)
	row, err := s.rollup.Get(ctx, day)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 2, row.Summary["total"])
}

func (s *RollupTestSuite) TestFlushRejectsBadDay() {
	_, err := s.rollup.Flush(context.Background(), "14/03/2025")
	assert.Error(s.T(), err)
}

func (s *RollupTestSuite) TestFlushAllDrainsBuffer() {
	ctx := context.Background()
	s.rollup.RecordEvent("2025-03-13", KindDeniedDryRun)
	s.rollup.RecordEvent("2025-03-14", KindDeniedConcurrency)

	summaries, err := s.rollup.FlushAll(ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), summaries, 2)
	assert.Equal(s.T(), "2025-03-13", summaries[0].Day)

	assert.Empty(s.T(), s.rollup.Pending("2025-03-13"))
	assert.Empty(s.T(), s.rollup.Pending("2025-03-14"))
	testutil.AssertCount(s.T(), s.db, &models.AnomalyRollup{}, 2)

	again, err := s.rollup.FlushAll(ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), again, 1)
	assert.Equal(s.T(), int64(1), again[0].Counts[KindDeniedConcurrency])
}

func (s *RollupTestSuite) TestProcessesSharingDayKeepEachOthersCounts() {
	ctx := context.Background()
	day := "2025-03-14"
	server := s.rollup
	oneShot := New(s.db, time.UTC).WithClock(s.clock.Now)

	for i := 0; i < 3; i++ {
		server.RecordEvent(day, KindDeniedDryRun)
	}
	_, err := server.Flush(ctx, day)
	require.NoError(s.T(), err)

	summaries, err := oneShot.FlushAll(ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), summaries, 1)
	assert.Equal(s.T(), int64(3), summaries[0].Counts[KindDeniedDryRun])

	oneShot.RecordEvent(day, KindReservationExpired)
	_, err = oneShot.Flush(ctx, day)
	require.NoError(s.T(), err)

	summary, err := server.Flush(ctx, day)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(4), summary.Total)
	assert.Equal(s.T(), int64(1), summary.Counts[KindReservationExpired])

	row, err := server.Get(ctx, day)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 4, row.Summary["total"])
}

func (s *RollupTestSuite) TestEventRecordedDuringFlushIsKept() {
	ctx := context.Background()
	yesterday := "2025-03-13"
	s.rollup.RecordEvent(yesterday, KindDeniedBudget)

	recorded := false
	err := s.db.Callback().Create().Before("gorm:create").Register("test:late_event", func(tx *gorm.DB) {
		if recorded || tx.Statement.Schema == nil || tx.Statement.Schema.Table != "anomaly_rollups" {
			return
		}
		recorded = true
		s.rollup.RecordEvent(yesterday, KindDeniedBudget)
	})
	require.NoError(s.T(), err)
	defer func() { _ = s.db.Callback().Create().Remove("test:late_event") }()

	first, err := s.rollup.Flush(ctx, yesterday)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), first.Total)
	assert.Equal(s.T(), int64(1), s.rollup.Pending(yesterday)[KindDeniedBudget])

	_, err = s.rollup.FlushAll(ctx)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), s.rollup.Pending(yesterday))

	row, err := s.rollup.Get(ctx, yesterday)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 2, row.Summary["total"])
}

func (s *RollupTestSuite) TestWithClockReturnsCopy() {
	s.rollup.RecordEvent("2025-03-14", KindRunFailed)
	later := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)

	moved := s.rollup.WithClock(func() time.Time { return later })
	moved.RecordEvent("2025-03-14", KindRunFailed)

	assert.Equal(s.T(), "2025-03-14", s.rollup.DayKey(s.rollup.now()))
	assert.Equal(s.T(), "2025-03-20", moved.DayKey(moved.now()))
	assert.Equal(s.T(), int64(1), s.rollup.Pending("2025-03-14")[KindRunFailed])
	assert.Equal(s.T(), int64(2), moved.Pending("2025-03-14")[KindRunFailed])
}

func (s *RollupTestSuite) TestFlushAllWritesEmptyToday() {
	summaries, err := s.rollup.FlushAll(context.Background())
	require.NoError(s.T(), err)
	require.Len(s.T(), summaries, 1)
	assert.Equal(s.T(), int64(0), summaries[0].Total)
}

func (s *RollupTestSuite) TestDayKeyUsesLocation() {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(s.T(), err)
	r := New(s.db, tokyo)
	assert.Equal(s.T(), "2025-03-15", r.DayKey(time.Date(2025, 3, 14, 20, 0, 0, 0, time.UTC)))
}

func TestRollupTestSuite(t *testing.T) {
	suite.Run(t, new(RollupTestSuite))
}
