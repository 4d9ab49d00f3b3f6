package metrics

import (
	"testing"

	metrictestutil "github.com/fia-cloud/fia/internal/metrics/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
)

type MetricsSuite struct {
	suite.Suite
	registry *prometheus.Registry
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsSuite))
}

func (s *MetricsSuite) SetupTest() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(All()...)
}

func (s *MetricsSuite) TestAdmissionsTotalIncrements() {
	before := metrictestutil.CounterValue(s.T(), AdmissionsTotal, "stage2", "denied_budget")
	AdmissionsTotal.WithLabelValues("stage2", "denied_budget").Inc()
	AdmissionsTotal.WithLabelValues("stage2", "denied_budget").Inc()

	after := metrictestutil.CounterValue(s.T(), AdmissionsTotal, "stage2", "denied_budget")
	s.Equal(before+2, after)
}

func (s *MetricsSuite) TestPlainCounterAndGauge() {
	before := metrictestutil.Value(s.T(), ReservationsExpiredTotal)
	ReservationsExpiredTotal.Add(3)
	s.Equal(before+3, metrictestutil.Value(s.T(), ReservationsExpiredTotal))

	ReservationsOutstanding.Set(4)
	s.Equal(float64(4), metrictestutil.Value(s.T(), ReservationsOutstanding))
}

func (s *MetricsSuite) TestRunDurationObserves() {
	RunDurationSeconds.WithLabelValues("stage1", "succeeded").Observe(42.5)

	families, err := s.registry.Gather()
	s.Require().NoError(err)

	found := false
	for _, fam := range families {
		if fam.GetName() != "fia_run_duration_seconds" {
			continue
		}
		for _, m := range fam.GetMetric() {
			if h := m.GetHistogram(); h != nil && h.GetSampleCount() > 0 {
				found = true
			}
		}
	}
	s.True(found, "expected fia_run_duration_seconds to have observations")
}

func (s *MetricsSuite) TestAllNamesArePrefixed() {
	AdmissionsTotal.WithLabelValues("stage1", "granted").Inc()
	AnomalyEventsTotal.WithLabelValues("run_failed").Inc()
	RunsClosedTotal.WithLabelValues("stage1", "failed").Inc()
	RetriesTotal.WithLabelValues("admission").Inc()
	TransitionContentionTotal.WithLabelValues("expired").Inc()
	RunDurationSeconds.WithLabelValues("stage1", "failed").Observe(1)

	families, err := s.registry.Gather()
	s.Require().NoError(err)
	s.NotEmpty(families)
	for _, fam := range families {
		s.Contains(fam.GetName(), "fia_")
	}
}
