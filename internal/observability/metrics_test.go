package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsReminderCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncScheduleOutcome("Scheduled")
	metrics.IncJobSubmitted("added")
	metrics.IncJobSubmitted("duplicate")
	metrics.IncNotificationSent("reminder")
	metrics.IncNotificationFailed("reminder", "transient")
	metrics.IncNotificationSkipped("reminder", "")
	metrics.ObserveDeliveryDuration("reminder", 120*time.Millisecond)
	metrics.IncWorkerInFlight()
	metrics.DecWorkerInFlight()
	metrics.IncRetryScheduled()
	metrics.AddLeasesRecovered("requeued", 2)
	metrics.AddLeasesRecovered("failed", 0)
	metrics.SetQueueJobs("delayed", 7)

	if got := testutil.ToFloat64(metrics.scheduleOutcomesTotal.WithLabelValues("scheduled")); got != 1 {
		t.Fatalf("reminder_schedule_outcomes_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.jobsSubmittedTotal.WithLabelValues("duplicate")); got != 1 {
		t.Fatalf("reminder_jobs_submitted_total{duplicate} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsSent.WithLabelValues("reminder")); got != 1 {
		t.Fatalf("notifications_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsFailed.WithLabelValues("reminder", "transient")); got != 1 {
		t.Fatalf("notifications_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsSkipped.WithLabelValues("reminder", "unknown")); got != 1 {
		t.Fatalf("notifications_skipped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight); got != 0 {
		t.Fatalf("worker_inflight_jobs = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.retriesScheduledTotal); got != 1 {
		t.Fatalf("reminder_retries_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.leasesRecoveredTotal.WithLabelValues("requeued")); got != 2 {
		t.Fatalf("queue_leases_recovered_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.queueJobs.WithLabelValues("delayed")); got != 7 {
		t.Fatalf("queue_jobs = %v, want 7", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncNotificationSent("reminder")
	metrics.IncWorkerInFlight()
	metrics.SetQueueJobs("active", 1)
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/v1/events/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/events/abc", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/v1/events/:id", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	if _, err := app.Test(httptest.NewRequest("GET", "/boom", nil)); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
