package receipt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/metrics"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type step struct {
	receipt *types.Receipt
	err     error
}

// scriptedFetcher replays steps in order and then keeps returning nothing
type scriptedFetcher struct {
	mu     sync.Mutex
	steps  []step
	calls  int
	onPoll func(call int)
}

func (f *scriptedFetcher) GetReceipt(ctx context.Context, hash types.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	var s step
	if len(f.steps) > 0 {
		s = f.steps[0]
		f.steps = f.steps[1:]
	}
	onPoll := f.onPoll
	f.mu.Unlock()

	if onPoll != nil {
		onPoll(call)
	}
	return s.receipt, s.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testHash = crypto.Keccak256Hash([]byte("message"))

func fastOptions(attempts int) WaitOptions {
	return WaitOptions{MaxAttempts: attempts, Interval: time.Millisecond}
}

func TestWaiter_Wait_ImmediateReceipt(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{{receipt: &types.Receipt{Success: true, MessageHash: testHash}}}}
	w := NewWaiter(fetcher, nil, zaptest.NewLogger(t))

	receipt, err := w.Wait(context.Background(), testHash, fastOptions(5))
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, 1, fetcher.Calls())
}

func TestWaiter_Wait_ExhaustsExactlyMaxAttempts(t *testing.T) {
	for _, attempts := range []int{1, 3, 7} {
		fetcher := &scriptedFetcher{}
		w := NewWaiter(fetcher, nil, zaptest.NewLogger(t))

		_, err := w.Wait(context.Background(), testHash, fastOptions(attempts))
		timeout, ok := types.IsReceiptTimeout(err)
		require.True(t, ok, "expected ReceiptTimeoutError, got %v", err)
		assert.Equal(t, attempts, timeout.Attempts)
		assert.Equal(t, testHash, timeout.Hash)
		assert.Nil(t, timeout.LastErr)
		assert.Equal(t, attempts, fetcher.Calls())
	}
}

func TestWaiter_Wait_FailedReceiptIsNotAnError(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{},
		{receipt: &types.Receipt{Success: false, Status: "execution failed", ErrorMessage: "reverted"}},
	}}
	w := NewWaiter(fetcher, nil, zaptest.NewLogger(t))

	receipt, err := w.Wait(context.Background(), testHash, fastOptions(5))
	require.NoError(t, err)
	assert.False(t, receipt.Success)
	assert.Equal(t, "reverted", receipt.ErrorMessage)
	assert.Equal(t, 2, fetcher.Calls())
}

func TestWaiter_Wait_TransportErrorsConsumeAttempts(t *testing.T) {
	lookupErr := errors.New("connection refused")
	fetcher := &scriptedFetcher{steps: []step{{err: lookupErr}, {err: lookupErr}, {err: lookupErr}}}
	w := NewWaiter(fetcher, nil, zaptest.NewLogger(t))

	_, err := w.Wait(context.Background(), testHash, fastOptions(3))
	timeout, ok := types.IsReceiptTimeout(err)
	require.True(t, ok)
	assert.ErrorIs(t, err, lookupErr)
	assert.Equal(t, lookupErr, timeout.LastErr)
	assert.Equal(t, 3, fetcher.Calls())
}

func TestWaiter_Wait_RecoversAfterTransportError(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []step{
		{err: errors.New("timeout")},
		{receipt: &types.Receipt{Success: true}},
	}}
	w := NewWaiter(fetcher, nil, zaptest.NewLogger(t))

	receipt, err := w.Wait(context.Background(), testHash, fastOptions(3))
	require.NoError(t, err)
	assert.True(t, receipt.Success)
}

func TestWaiter_Wait_UntilComplete(t *testing.T) {
	pending := &types.Receipt{Success: true, OutReceipts: []*types.Receipt{nil}}
	done := &types.Receipt{Success: true, OutReceipts: []*types.Receipt{{Success: true}}}

	t.Run("returns first receipt by default", func(t *testing.T) {
		fetcher := &scriptedFetcher{steps: []step{{receipt: pending}, {receipt: done}}}
		w := NewWaiter(fetcher, nil, zaptest.NewLogger(t))

		receipt, err := w.Wait(context.Background(), testHash, fastOptions(5))
		require.NoError(t, err)
		assert.False(t, receipt.Complete())
		assert.Equal(t, 1, fetcher.Calls())
	})

	t.Run("waits for out receipts", func(t *testing.T) {
		fetcher := &scriptedFetcher{steps: []step{{receipt: pending}, {receipt: done}}}
		w := NewWaiter(fetcher, nil, zaptest.NewLogger(t))

		opts := fastOptions(5)
		opts.UntilComplete = true
		receipt, err := w.Wait(context.Background(), testHash, opts)
		require.NoError(t, err)
		assert.True(t, receipt.Complete())
		assert.Equal(t, 2, fetcher.Calls())
	})
}

func TestWaiter_Wait_CancelledBeforeFirstPoll(t *testing.T) {
	fetcher := &scriptedFetcher{}
	w := NewWaiter(fetcher, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Wait(ctx, testHash, fastOptions(3))
	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.Equal(t, 0, fetcher.Calls())
}

func TestWaiter_Wait_CancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &scriptedFetcher{onPoll: func(call int) {
		if call == 2 {
			cancel()
		}
	}}
	w := NewWaiter(fetcher, nil, zaptest.NewLogger(t))

	start := time.Now()
	_, err := w.Wait(ctx, testHash, WaitOptions{MaxAttempts: 10, Interval: 20 * time.Millisecond})
	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.Equal(t, 2, fetcher.Calls())
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaiter_Wait_InvalidOptions(t *testing.T) {
	w := NewWaiter(&scriptedFetcher{}, nil, nil)

	_, err := w.Wait(context.Background(), testHash, WaitOptions{MaxAttempts: 0})
	assert.Error(t, err)
	_, err = w.Wait(context.Background(), testHash, WaitOptions{MaxAttempts: 1, Interval: -time.Second})
	assert.Error(t, err)
}

func TestWaiter_Wait_RecordsMetrics(t *testing.T) {
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	fetcher := &scriptedFetcher{steps: []step{{err: errors.New("boom")}, {}, {receipt: &types.Receipt{Success: false}}}}
	w := NewWaiter(fetcher, m, zaptest.NewLogger(t))

	_, err := w.Wait(context.Background(), testHash, fastOptions(5))
	require.NoError(t, err)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.ReceiptPolls))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReceiptPollErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReceiptOutcomes.WithLabelValues(metrics.OutcomeFailure)))
}
