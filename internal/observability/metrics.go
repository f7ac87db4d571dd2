package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reminder_engine"

// Metrics holds the Prometheus collectors shared by the API and worker processes.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	scheduleOutcomesTotal *prometheus.CounterVec
	jobsSubmittedTotal    *prometheus.CounterVec
	notificationsSent     *prometheus.CounterVec
	notificationsFailed   *prometheus.CounterVec
	notificationsSkipped  *prometheus.CounterVec
	deliveryDuration      *prometheus.HistogramVec
	workerInflight        prometheus.Gauge
	retriesScheduledTotal prometheus.Counter
	leasesRecoveredTotal  *prometheus.CounterVec
	queueJobs             *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		scheduleOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_schedule_outcomes_total",
				Help:      "Reminder scheduling calls by outcome.",
			},
			[]string{"outcome"},
		),
		jobsSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_jobs_submitted_total",
				Help:      "Per-offset reminder submissions by result (added, duplicate, past_due).",
			},
			[]string{"result"},
		),
		notificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Notifications accepted by the delivery gateway.",
			},
			[]string{"kind"},
		),
		notificationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_failed_total",
				Help:      "Failed delivery attempts by kind and classification.",
			},
			[]string{"kind", "reason"},
		),
		notificationsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_skipped_total",
				Help:      "Notifications skipped without a delivery attempt.",
			},
			[]string{"kind", "reason"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_duration_seconds",
				Help:      "Delivery gateway call duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_inflight_jobs",
				Help:      "Reminder jobs currently being processed.",
			},
		),
		retriesScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminder_retries_scheduled_total",
				Help:      "Failed reminder attempts handed back to the queue for retry.",
			},
		),
		leasesRecoveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_leases_recovered_total",
				Help:      "Expired leases recovered by the reaper, by result (requeued, failed).",
			},
			[]string{"result"},
		),
		queueJobs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_jobs",
				Help:      "Jobs in the reminder queue by state.",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.scheduleOutcomesTotal,
		m.jobsSubmittedTotal,
		m.notificationsSent,
		m.notificationsFailed,
		m.notificationsSkipped,
		m.deliveryDuration,
		m.workerInflight,
		m.retriesScheduledTotal,
		m.leasesRecoveredTotal,
		m.queueJobs,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncScheduleOutcome(outcome string) {
	if m == nil {
		return
	}
	m.scheduleOutcomesTotal.WithLabelValues(label(outcome)).Inc()
}

func (m *Metrics) IncJobSubmitted(result string) {
	if m == nil {
		return
	}
	m.jobsSubmittedTotal.WithLabelValues(label(result)).Inc()
}

func (m *Metrics) IncNotificationSent(kind string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(label(kind)).Inc()
}

func (m *Metrics) IncNotificationFailed(kind string, reason string) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(label(kind), label(reason)).Inc()
}

func (m *Metrics) IncNotificationSkipped(kind string, reason string) {
	if m == nil {
		return
	}
	m.notificationsSkipped.WithLabelValues(label(kind), label(reason)).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(kind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveryDuration.WithLabelValues(label(kind)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) IncRetryScheduled() {
	if m == nil {
		return
	}
	m.retriesScheduledTotal.Inc()
}

func (m *Metrics) AddLeasesRecovered(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.leasesRecoveredTotal.WithLabelValues(label(result)).Add(float64(n))
}

func (m *Metrics) SetQueueJobs(state string, n int64) {
	if m == nil {
		return
	}
	m.queueJobs.WithLabelValues(label(state)).Set(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func label(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
