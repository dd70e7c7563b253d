package dispatcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/message"
	"github.com/Layr-Labs/shardmsg-go/pkg/metrics"
	"github.com/Layr-Labs/shardmsg-go/pkg/seqno"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/Layr-Labs/shardmsg-go/pkg/testutil"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// countingSigner records Sign calls and can be told to fail
type countingSigner struct {
	signer.ISigner
	signs atomic.Int32
	fail  atomic.Bool
}

func (c *countingSigner) Sign(hash types.Hash) (*types.Signature, error) {
	c.signs.Add(1)
	if c.fail.Load() {
		return nil, &types.SigningError{Err: errors.New("hsm unavailable")}
	}
	return c.ISigner.Sign(hash)
}

type harness struct {
	node       *testutil.MockNode
	signer     *countingSigner
	sender     *testutil.TestAccount
	sameShard  types.Address
	otherShard types.Address
	metrics    *metrics.Metrics
	dispatcher *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	codec, err := address.NewCodec(4)
	require.NoError(t, err)

	node := testutil.NewMockNode(1, logger)
	sender := testutil.NewTestAccount(t, node, codec, 1)
	s := &countingSigner{ISigner: sender.Signer}
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())

	return &harness{
		node:       node,
		signer:     s,
		sender:     sender,
		sameShard:  testutil.NewTestAccount(t, nil, codec, 1).Address,
		otherShard: testutil.NewTestAccount(t, nil, codec, 2).Address,
		metrics:    m,
		dispatcher: NewDispatcher(node, s, codec, seqno.NewTracker(node, logger), nil, m, logger),
	}
}

func (h *harness) nodeCalls() int {
	return h.node.ChainIdCalls() + h.node.GetSeqnoCalls() + h.node.SendRawCalls() + h.node.GetReceiptCalls()
}

func (h *harness) syncParams() SendParams {
	return SendParams{
		FromShard: 1,
		To:        h.sameShard,
		FeeCredit: uint256.NewInt(100000),
		Mode:      ModeSync,
	}
}

func TestDispatcher_Send_Sync(t *testing.T) {
	h := newHarness(t)

	result, err := h.dispatcher.Send(context.Background(), h.syncParams())
	require.NoError(t, err)

	assert.Equal(t, h.sender.Address, result.From)
	assert.Equal(t, h.sameShard, result.To)
	assert.Equal(t, uint32(1), result.ChainId)
	assert.Equal(t, uint64(0), result.Seqno)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, ModeSync, result.Mode)

	expected, err := message.MessageHash(result.Envelope)
	require.NoError(t, err)
	assert.Equal(t, expected, result.Hash)

	pub, err := signer.RecoverEnvelopeSigner(result.Envelope)
	require.NoError(t, err)
	assert.Equal(t, h.sender.Signer.PublicKey(), pub)

	assert.Equal(t, uint64(1), h.node.Seqno(h.sender.Address))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(h.metrics.DispatchTotal.WithLabelValues("sync", metrics.ResultDelivered)))
}

func TestDispatcher_Send_SequentialSeqnos(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for want := uint64(0); want < 3; want++ {
		result, err := h.dispatcher.Send(ctx, h.syncParams())
		require.NoError(t, err)
		assert.Equal(t, want, result.Seqno)
	}
}

func TestDispatcher_Send_ConcurrentSeqnosStrictlyIncrease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.dispatcher.Send(ctx, h.syncParams())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	submitted := h.node.Submitted()
	require.Len(t, submitted, n)
	seqnos := make([]uint64, 0, n)
	for i, env := range submitted {
		// the node accepts in submission order, so seqnos must already be ordered
		assert.Equal(t, uint64(i), env.Seqno)
		seqnos = append(seqnos, env.Seqno)
	}
	assert.True(t, sort.SliceIsSorted(seqnos, func(i, j int) bool { return seqnos[i] < seqnos[j] }))
}

func TestDispatcher_Send_ShardGuard(t *testing.T) {
	h := newHarness(t)
	params := h.syncParams()
	params.To = h.otherShard

	_, err := h.dispatcher.Send(context.Background(), params)
	require.Error(t, err)

	shardErr, ok := types.IsInvalidShardId(err)
	require.True(t, ok, "expected InvalidShardIdError, got %v", err)
	assert.Equal(t, uint16(2), shardErr.ShardId)

	dispatchErr, ok := IsDispatchError(err)
	require.True(t, ok)
	assert.Equal(t, State_Idle, dispatchErr.State)

	assert.Equal(t, int32(0), h.signer.signs.Load())
	assert.Equal(t, 0, h.nodeCalls())
}

func TestDispatcher_Send_AsyncCrossShard(t *testing.T) {
	h := newHarness(t)
	params := h.syncParams()
	params.To = h.otherShard
	params.Mode = ModeAsync

	result, err := h.dispatcher.Send(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, h.otherShard, result.Envelope.To)
	assert.Equal(t, int32(1), h.signer.signs.Load())
}

func TestDispatcher_Send_ValidationBeforeIO(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		mutate func(p *SendParams)
	}{
		{name: "unknown mode", mutate: func(p *SendParams) { p.Mode = "" }},
		{name: "sender shard out of range", mutate: func(p *SendParams) { p.FromShard = 9 }},
		{name: "destination shard out of range", mutate: func(p *SendParams) { p.To[0], p.To[1] = 0x00, 0x09 }},
		{name: "payload too large", mutate: func(p *SendParams) { p.Payload = make([]byte, message.MaxPayloadSize+1) }},
		{name: "fee credit too large", mutate: func(p *SendParams) {
			p.FeeCredit = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := h.syncParams()
			params.Mode = ModeAsync
			tt.mutate(&params)

			_, err := h.dispatcher.Send(context.Background(), params)
			require.Error(t, err)
			dispatchErr, ok := IsDispatchError(err)
			require.True(t, ok)
			assert.Equal(t, State_Idle, dispatchErr.State)
		})
	}
	assert.Equal(t, 0, h.nodeCalls())
	assert.Equal(t, int32(0), h.signer.signs.Load())
}

func TestDispatcher_Send_RetriesOnceAfterSeqnoMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.dispatcher.Send(ctx, h.syncParams())
	require.NoError(t, err)

	// the chain forgot the first message, so the local cursor (1) is ahead of it
	h.node.SetSeqno(h.sender.Address, 0)

	result, err := h.dispatcher.Send(ctx, h.syncParams())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.Seqno)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 3, h.node.SendRawCalls())
	assert.Equal(t, float64(1), promtestutil.ToFloat64(h.metrics.SeqnoRetries))
}

func TestDispatcher_Send_LogFields(t *testing.T) {
	h := newHarness(t)
	core, logs := observer.New(zapcore.DebugLevel)
	codec, err := address.NewCodec(4)
	require.NoError(t, err)
	logger := zap.New(core)
	d := NewDispatcher(h.node, h.signer, codec, seqno.NewTracker(h.node, logger), nil, h.metrics, logger)
	ctx := context.Background()

	_, err = d.Send(ctx, h.syncParams())
	require.NoError(t, err)
	h.node.SetSeqno(h.sender.Address, 0)
	result, err := d.Send(ctx, h.syncParams())
	require.NoError(t, err)

	delivered := logs.FilterMessage("Message delivered").AllUntimed()
	require.Len(t, delivered, 2)
	fields := delivered[1].ContextMap()
	assert.Equal(t, result.Hash.Hex(), fields["hash"])
	assert.Equal(t, result.From.Hex(), fields["from"])
	assert.Equal(t, uint64(0), fields["seqno"])
	assert.Equal(t, int64(2), fields["attempts"])
	assert.NotEmpty(t, fields["dispatchId"])

	rejected := logs.FilterMessage("Seqno rejected by node, refetching").AllUntimed()
	require.Len(t, rejected, 1)
	fields = rejected[0].ContextMap()
	assert.Equal(t, h.sender.Address.Hex(), fields["address"])
	assert.Equal(t, uint64(1), fields["seqno"])
	assert.Contains(t, fields["reason"], "expected 0, got 1")

	transitions := logs.FilterMessage("Dispatch state transition").AllUntimed()
	require.NotEmpty(t, transitions)
	assert.Equal(t, State_Idle.String(), transitions[0].ContextMap()["from"])
}

func TestDispatcher_Send_SecondMismatchIsSurfaced(t *testing.T) {
	h := newHarness(t)
	h.node.InjectSendError(&types.SeqnoMismatchError{Reason: "seqno too low"})
	h.node.InjectSendError(&types.SeqnoMismatchError{Reason: "seqno too low"})

	_, err := h.dispatcher.Send(context.Background(), h.syncParams())
	require.Error(t, err)

	mismatch, ok := types.IsSeqnoMismatch(err)
	require.True(t, ok, "expected SeqnoMismatchError, got %v", err)
	assert.Equal(t, h.sender.Address, mismatch.Address)

	dispatchErr, ok := IsDispatchError(err)
	require.True(t, ok)
	assert.Equal(t, State_Submit, dispatchErr.State)
	assert.Equal(t, 2, h.node.SendRawCalls())
	assert.Equal(t, int32(2), h.signer.signs.Load())
}

func TestDispatcher_Send_TransportErrorNotRetried(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.node.InjectSendError(errors.New("connection reset"))

	_, err := h.dispatcher.Send(ctx, h.syncParams())
	require.Error(t, err)
	dispatchErr, ok := IsDispatchError(err)
	require.True(t, ok)
	assert.Equal(t, State_Submit, dispatchErr.State)
	assert.Equal(t, 1, h.node.SendRawCalls())

	// the failed send did not consume a seqno
	result, err := h.dispatcher.Send(ctx, h.syncParams())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.Seqno)
}

func TestDispatcher_Send_SigningError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.signer.fail.Store(true)

	_, err := h.dispatcher.Send(ctx, h.syncParams())
	require.Error(t, err)
	_, ok := types.IsSigning(err)
	assert.True(t, ok)
	dispatchErr, ok := IsDispatchError(err)
	require.True(t, ok)
	assert.Equal(t, State_Sign, dispatchErr.State)
	assert.Equal(t, 0, h.node.SendRawCalls())

	h.signer.fail.Store(false)
	result, err := h.dispatcher.Send(ctx, h.syncParams())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), result.Seqno)
}

func TestDispatcher_Send_ChainIdError(t *testing.T) {
	h := newHarness(t)
	h.node.SetChainIdError(errors.New("node unreachable"))

	_, err := h.dispatcher.Send(context.Background(), h.syncParams())
	require.Error(t, err)
	dispatchErr, ok := IsDispatchError(err)
	require.True(t, ok)
	assert.Equal(t, State_FetchSeqno, dispatchErr.State)
	assert.Contains(t, err.Error(), "node unreachable")
}

func TestDispatcher_Send_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.dispatcher.Send(ctx, h.syncParams())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrCancelled))

	dispatchErr, ok := IsDispatchError(err)
	require.True(t, ok)
	assert.Equal(t, State_FetchSeqno, dispatchErr.State)
	assert.Equal(t, 0, h.nodeCalls())
	assert.Equal(t, int32(0), h.signer.signs.Load())
	assert.Equal(t, float64(1), promtestutil.ToFloat64(h.metrics.DispatchTotal.WithLabelValues("sync", metrics.ResultCancelled)))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "FetchSeqno", State_FetchSeqno.String())
	assert.Equal(t, "Delivered", State_Delivered.String())
	assert.Equal(t, "Unknown", State(42).String())
	assert.True(t, State_Failed.Terminal())
	assert.False(t, State_Submit.Terminal())
}
