package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ModelsTestSuite struct {
	suite.Suite
}

func (s *ModelsTestSuite) TestReservationTransitions() {
	assert.True(s.T(), ReservationPending.CanTransition(ReservationActive))
	assert.True(s.T(), ReservationPending.CanTransition(ReservationExpired))
	assert.True(s.T(), ReservationActive.CanTransition(ReservationReleased))
	assert.True(s.T(), ReservationActive.CanTransition(ReservationExpired))

	assert.False(s.T(), ReservationPending.CanTransition(ReservationReleased))
	assert.False(s.T(), ReservationReleased.CanTransition(ReservationExpired))
	assert.False(s.T(), ReservationExpired.CanTransition(ReservationActive))
	assert.False(s.T(), ReservationActive.CanTransition(ReservationPending))

	assert.True(s.T(), ReservationReleased.Terminal())
	assert.True(s.T(), ReservationExpired.Terminal())
	assert.False(s.T(), ReservationActive.Terminal())
}

func (s *ModelsTestSuite) TestReservationSources() {
	assert.Equal(s.T(), []ReservationStatus{ReservationActive}, ReservationReleased.Sources())
	assert.Equal(s.T(), []ReservationStatus{ReservationPending, ReservationActive}, ReservationExpired.Sources())
	assert.Empty(s.T(), ReservationPending.Sources())
}

func (s *ModelsTestSuite) TestParseReservationStatus() {
	st, err := ParseReservationStatus("active")
	s.Require().NoError(err)
	assert.Equal(s.T(), ReservationActive, st)

	_, err = ParseReservationStatus("cancelled")
	assert.Error(s.T(), err)
}

func (s *ModelsTestSuite) TestReservationOutstanding() {
	now := time.Now().UTC()
	r := &Reservation{Status: ReservationActive, ExpiresAt: now.Add(time.Minute)}
	assert.True(s.T(), r.Outstanding(now))
	assert.False(s.T(), r.Outstanding(now.Add(2*time.Minute)))

	r.Status = ReservationReleased
	assert.False(s.T(), r.Outstanding(now))
}

func (s *ModelsTestSuite) TestTableNames() {
	assert.Equal(s.T(), "run_log", RunLog{}.TableName())
	assert.Equal(s.T(), "fly_reservations", Reservation{}.TableName())
	assert.Equal(s.T(), "monthly_usage", MonthlyUsage{}.TableName())
	assert.Equal(s.T(), "anomaly_rollups", AnomalyRollup{}.TableName())
	assert.Equal(s.T(), "fia_configs", FiaConfig{}.TableName())
	assert.Len(s.T(), All, 7)
}

func TestModelsTestSuite(t *testing.T) {
	suite.Run(t, new(ModelsTestSuite))
}
