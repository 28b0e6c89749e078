package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "scheduling"

// BookingMetrics counts appointment transitions and their latency.
type BookingMetrics struct {
	transitions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	expired     prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking operations by name and outcome",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "operation_seconds",
			Help:      "Latency of booking operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "holds_expired_total",
			Help:      "Holds moved to expired by the sweeper",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.latency, m.expired)
	return m
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) AddExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

// DispatchMetrics tracks side-effect delivery.
type DispatchMetrics struct {
	attempts  *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	depth     prometheus.Gauge
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Collaborator calls by task kind and result",
		}, []string{"kind", "result"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "exhausted_total",
			Help:      "Tasks abandoned after their last retry",
		}, []string{"kind"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Tasks waiting for a worker",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.attempts, m.exhausted, m.depth)
	return m
}

func (m *DispatchMetrics) ObserveAttempt(kind, result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(kind, result).Inc()
}

func (m *DispatchMetrics) ObserveExhausted(kind string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(kind).Inc()
}

func (m *DispatchMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
}

// GeoMetrics tracks doctor searches.
type GeoMetrics struct {
	queries *prometheus.CounterVec
	results prometheus.Histogram
}

func NewGeoMetrics(reg prometheus.Registerer) *GeoMetrics {
	m := &GeoMetrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "geo",
			Name:      "queries_total",
			Help:      "Doctor searches by outcome",
		}, []string{"outcome"}),
		results: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "geo",
			Name:      "query_results",
			Help:      "Doctors returned per search page",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.queries, m.results)
	return m
}

func (m *GeoMetrics) ObserveQuery(outcome string, results int) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.results.Observe(float64(results))
}
