package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the dispatcher's Prometheus collectors.
type Metrics struct {
	Submissions     *prometheus.CounterVec
	Deliveries      *prometheus.CounterVec
	Attempts        *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	DeliveryLatency prometheus.Histogram
}

// NewMetrics builds the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orderbot",
				Subsystem: "dispatch",
				Name:      "submissions_total",
				Help:      "Submitted notification jobs by admission result",
			},
			[]string{"admission"},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orderbot",
				Subsystem: "dispatch",
				Name:      "deliveries_total",
				Help:      "Terminal job outcomes (sent, failed, discarded, dropped)",
			},
			[]string{"result"},
		),
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orderbot",
				Subsystem: "dispatch",
				Name:      "attempts_total",
				Help:      "Send attempts by classified outcome",
			},
			[]string{"outcome"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "orderbot",
				Subsystem: "dispatch",
				Name:      "queue_depth",
				Help:      "Jobs waiting in the buffer",
			},
		),
		DeliveryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "orderbot",
				Subsystem: "dispatch",
				Name:      "delivery_latency_seconds",
				Help:      "Time from job creation to successful delivery",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Submissions, m.Deliveries, m.Attempts, m.QueueDepth, m.DeliveryLatency)
	}
	return m
}
