package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shardmsg"

// Dispatch results
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

// Receipt outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeTimeout  = "timeout"
	OutcomeCanceled = "cancelled"
)

// Metrics contains the Prometheus collectors of the message pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	SeqnoRetries     prometheus.Counter

	// Receipt metrics
	ReceiptPolls      prometheus.Counter
	ReceiptPollErrors prometheus.Counter
	ReceiptOutcomes   *prometheus.CounterVec
}

// NewMetrics initializes and registers metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "The total number of dispatches by mode and result",
			},
			[]string{"mode", "result"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Time from dispatch start to delivery or failure",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		SeqnoRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seqno_retries_total",
			Help:      "The total number of resubmissions after a seqno mismatch",
		}),
		ReceiptPolls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_polls_total",
			Help:      "The total number of receipt lookups",
		}),
		ReceiptPollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_poll_errors_total",
			Help:      "The total number of receipt lookups that failed in transport",
		}),
		ReceiptOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "receipt_outcomes_total",
				Help:      "The total number of receipt waits by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *Metrics) RecordDispatch(mode, result string, started time.Time) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(mode, result).Inc()
	m.DispatchDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
}

func (m *Metrics) RecordSeqnoRetry() {
	if m == nil {
		return
	}
	m.SeqnoRetries.Inc()
}

func (m *Metrics) RecordReceiptPoll(err error) {
	if m == nil {
		return
	}
	m.ReceiptPolls.Inc()
	if err != nil {
		m.ReceiptPollErrors.Inc()
	}
}

func (m *Metrics) RecordReceiptOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ReceiptOutcomes.WithLabelValues(outcome).Inc()
}
