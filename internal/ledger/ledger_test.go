package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fia-cloud/fia/internal/testutil"
	"github.com/fia-cloud/fia/pkg/money"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LedgerSuite struct {
	suite.Suite
	ledger *Ledger
	ctx    context.Context
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ledger = New(testutil.OpenTestDB(s.T()), time.UTC)
	s.ctx = context.Background()
}

func (s *LedgerSuite) TestUnknownMonthReadsZero() {
	usage, err := s.ledger.GetMonth(s.ctx, "2026-10")
	s.Require().NoError(err)
	s.Equal("2026-10", usage.Month)
	s.Zero(usage.CostEstimated)
	s.Zero(usage.CPUMinutesActual)
}

func (s *LedgerSuite) TestDeltasAccumulate() {
	s.Require().NoError(s.ledger.AddEstimated(s.ctx, "2026-10", 10, money.MustParseAmount("5")))
	s.Require().NoError(s.ledger.AddEstimated(s.ctx, "2026-10", 2.5, money.MustParseAmount("1.25")))
	s.Require().NoError(s.ledger.AddActual(s.ctx, "2026-10", 8, money.MustParseAmount("4")))
	s.Require().NoError(s.ledger.AddEstimated(s.ctx, "2026-11", 1, money.MustParseAmount("0.5")))

	oct, err := s.ledger.GetMonth(s.ctx, "2026-10")
	s.Require().NoError(err)
	s.InDelta(12.5, oct.CPUMinutesEstimated, 1e-9)
	s.Equal(money.MustParseAmount("6.25"), oct.CostEstimated)
	s.InDelta(8, oct.CPUMinutesActual, 1e-9)
	s.Equal(money.MustParseAmount("4"), oct.CostActual)

	nov, err := s.ledger.GetMonth(s.ctx, "2026-11")
	s.Require().NoError(err)
	s.Equal(money.MustParseAmount("0.5"), nov.CostEstimated)
	s.Zero(nov.CostActual)
}

func (s *LedgerSuite) TestOverflowLeavesMonthUnchanged() {
	huge := money.FromMicros(9223372036854000000)
	s.Require().NoError(s.ledger.AddActual(s.ctx, "2026-10", 1, money.MustParseAmount("90")))
	s.Require().NoError(s.ledger.AddEstimated(s.ctx, "2026-10", 1, huge))

	s.ErrorIs(s.ledger.AddActual(s.ctx, "2026-10", 1, huge), ErrOverflow)

	oct, err := s.ledger.GetMonth(s.ctx, "2026-10")
	s.Require().NoError(err)
	s.Equal(money.MustParseAmount("90"), oct.CostActual)
	s.InDelta(1, oct.CPUMinutesActual, 1e-9)
	s.Equal(huge, oct.CostEstimated)
}

func (s *LedgerSuite) TestRejectsNegativeAndInvalid() {
	s.ErrorIs(s.ledger.AddEstimated(s.ctx, "2026-10", -1, money.Zero), ErrNegativeDelta)
	s.ErrorIs(s.ledger.AddActual(s.ctx, "2026-10", 1, money.FromMicros(-5)), ErrNegativeDelta)
	s.Error(s.ledger.AddActual(s.ctx, "", 1, money.Zero))

	_, err := s.ledger.GetMonth(s.ctx, "October")
	s.Error(err)
}

func (s *LedgerSuite) TestConcurrentDeltasAreNotLost() {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(s.T(), s.ledger.AddEstimated(s.ctx, "2026-10", 1, money.MustParseAmount("1")))
		}()
	}
	wg.Wait()

	usage, err := s.ledger.GetMonth(s.ctx, "2026-10")
	s.Require().NoError(err)
	s.Equal(money.MustParseAmount("20"), usage.CostEstimated)
	s.InDelta(20, usage.CPUMinutesEstimated, 1e-9)
}

func (s *LedgerSuite) TestMonthKeyUsesCanonicalZone() {
	ny, err := time.LoadLocation("America/New_York")
	s.Require().NoError(err)

	// 02:00 UTC on Nov 1 is still Oct 31 in New York.
	instant := time.Date(2026, 11, 1, 2, 0, 0, 0, time.UTC)
	s.Equal("2026-11", s.ledger.MonthKey(instant))
	s.Equal("2026-10", New(testutil.OpenTestDB(s.T()), ny).MonthKey(instant))
}

func (s *LedgerSuite) TestReportVariance() {
	s.Require().NoError(s.ledger.AddEstimated(s.ctx, "2026-10", 20, money.MustParseAmount("10")))
	s.Require().NoError(s.ledger.AddActual(s.ctx, "2026-10", 14, money.MustParseAmount("7")))

	report, err := s.ledger.Report(s.ctx, "2026-10", money.MustParseAmount("100"))
	s.Require().NoError(err)
	s.Equal(money.MustParseAmount("90"), report.Remaining)
	s.Equal("-3", report.CostVariance.String())
	s.InDelta(-6, report.CPUMinutesVariance, 1e-9)
}
