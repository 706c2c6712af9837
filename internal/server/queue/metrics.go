package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects worker pool counters for the /metrics endpoint.
type Metrics struct {
	jobsProcessed *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	queueDepth    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attachsync_jobs_processed_total",
			Help: "Sync jobs processed, by job type and outcome.",
		}, []string{"job_type", "outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attachsync_job_duration_seconds",
			Help:    "Time spent executing one sync job.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attachsync_queue_depth",
			Help: "Number of queued sync jobs.",
		}),
	}
	for _, c := range []prometheus.Collector{m.jobsProcessed, m.jobDuration, m.queueDepth} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observe(jobType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, outcome).Inc()
	m.jobDuration.Observe(seconds)
}

func (m *Metrics) setDepth(n int64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
