package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
)

const namespace = "deskbill"

const (
	ErrorClassTransient = "transient"
	ErrorClassRejected  = "rejected"
	ErrorClassConflict  = "conflict"
	ErrorClassNotFound  = "not_found"
	ErrorClassTimeout   = "timeout"
	ErrorClassUnknown   = "unknown"
)

// Metrics holds the billing engine's Prometheus instruments. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	resyncResults   *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	processorErrors *prometheus.CounterVec
	bookingOutcomes *prometheus.CounterVec
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		resyncResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_resync_total",
			Help:      "Subscription price resync results by status.",
		}, []string{"status"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Verified processor webhook events by type and outcome.",
		}, []string{"event_type", "outcome"}),
		processorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_errors_total",
			Help:      "Processor call failures by step and error class.",
		}, []string{"step", "class"}),
		bookingOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_billing_outcomes_total",
			Help:      "Recurring booking creation outcomes.",
		}, []string{"outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_job_runs_total",
			Help:      "Scheduler job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_job_duration_seconds",
			Help:      "Scheduler job duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	for _, c := range []prometheus.Collector{
		m.resyncResults, m.webhookEvents, m.processorErrors, m.bookingOutcomes, m.jobRuns, m.jobDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveResync(status string) {
	if m == nil {
		return
	}
	m.resyncResults.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) ObserveProcessorError(step string, err error) {
	if m == nil || err == nil {
		return
	}
	m.processorErrors.WithLabelValues(step, ClassifyProcessorError(err)).Inc()
}

func (m *Metrics) ObserveBookingOutcome(outcome string) {
	if m == nil {
		return
	}
	m.bookingOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveJob(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// ClassifyProcessorError maps an error to a low-cardinality label.
func ClassifyProcessorError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	case errors.Is(err, paymentdomain.ErrProcessorTransient):
		return ErrorClassTransient
	case errors.Is(err, paymentdomain.ErrProcessorRejected):
		return ErrorClassRejected
	case errors.Is(err, paymentdomain.ErrProcessorConflict):
		return ErrorClassConflict
	case errors.Is(err, paymentdomain.ErrResourceNotFound):
		return ErrorClassNotFound
	default:
		return ErrorClassUnknown
	}
}
