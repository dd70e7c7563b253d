package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(registry)

	m.RecordDispatch("async", ResultDelivered, time.Now())
	m.RecordDispatch("async", ResultDelivered, time.Now())
	m.RecordDispatch("sync", ResultFailed, time.Now())
	m.RecordSeqnoRetry()
	m.RecordReceiptPoll(nil)
	m.RecordReceiptPoll(errors.New("boom"))
	m.RecordReceiptOutcome(OutcomeTimeout)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.DispatchTotal.WithLabelValues("async", ResultDelivered)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DispatchTotal.WithLabelValues("sync", ResultFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SeqnoRetries))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ReceiptPolls))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReceiptPollErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReceiptOutcomes.WithLabelValues(OutcomeTimeout)))

	count, err := testutil.GatherAndCount(registry, "shardmsg_dispatch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordDispatch("sync", ResultDelivered, time.Now())
		m.RecordSeqnoRetry()
		m.RecordReceiptPoll(nil)
		m.RecordReceiptOutcome(OutcomeSuccess)
	})
}
