package infra

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"patient-portal/middleware/ratelimit/domain"
)

// PrometheusStatsStore exporta as decisões como séries prometheus com labels
// category e outcome. Chaves de cliente nunca viram label.
type PrometheusStatsStore struct {
	decisions *prometheus.CounterVec
	delays    *prometheus.HistogramVec
}

func NewPrometheusStatsStore(reg prometheus.Registerer) (*PrometheusStatsStore, error) {
	s := &PrometheusStatsStore{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admission decisions by category and outcome.",
		}, []string{"category", "outcome"}),
		delays: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "admission",
			Name:      "delay_seconds",
			Help:      "Delay imposed by progressive policies.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20},
		}, []string{"category"}),
	}
	for _, c := range []prometheus.Collector{s.decisions, s.delays} {
		err := reg.Register(c)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.decisions.WithLabelValues(string(ev.Category), ev.Outcome.String()).Inc()
	if ev.Outcome == domain.OutcomeDelay {
		s.delays.WithLabelValues(string(ev.Category)).Observe(ev.Delay.Seconds())
	}
	return nil
}
