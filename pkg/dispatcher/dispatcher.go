package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/message"
	"github.com/Layr-Labs/shardmsg-go/pkg/metrics"
	"github.com/Layr-Labs/shardmsg-go/pkg/seqno"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/Layr-Labs/shardmsg-go/pkg/transport"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

type Mode string

const (
	// ModeSync requires sender and destination on the same shard
	ModeSync Mode = "sync"
	// ModeAsync may cross shards
	ModeAsync Mode = "async"
)

func (m Mode) String() string {
	return string(m)
}

func (m Mode) Valid() bool {
	return m == ModeSync || m == ModeAsync
}

// maxSubmitAttempts allows exactly one resubmission after a seqno mismatch
const maxSubmitAttempts = 2

// ChainIdSource provides the chain id embedded in every envelope
type ChainIdSource interface {
	ChainId(ctx context.Context) (uint32, error)
}

type SendParams struct {
	// FromShard selects which of the signer's addresses sends the message
	FromShard uint16
	To        types.Address
	Payload   []byte
	// FeeCredit defaults to zero when nil
	FeeCredit *uint256.Int
	IsDeploy  bool
	Mode      Mode
}

type Result struct {
	// Hash identifies the message on the node and equals message.MessageHash of Envelope
	Hash     types.Hash
	From     types.Address
	To       types.Address
	ChainId  uint32
	Seqno    uint64
	Mode     Mode
	Attempts int
	Envelope *types.MessageEnvelope
}

// DispatchError reports the state in which a dispatch failed
type DispatchError struct {
	State State
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed in state %s: %v", e.State, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func IsDispatchError(err error) (*DispatchError, bool) {
	var e *DispatchError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

type Dispatcher struct {
	node     transport.INodeClient
	signer   signer.ISigner
	codec    *address.Codec
	tracker  *seqno.Tracker
	chainIds ChainIdSource
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewDispatcher(
	node transport.INodeClient,
	s signer.ISigner,
	codec *address.Codec,
	tracker *seqno.Tracker,
	chainIds ChainIdSource,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chainIds == nil {
		chainIds = node
	}
	return &Dispatcher{
		node:     node,
		signer:   s,
		codec:    codec,
		tracker:  tracker,
		chainIds: chainIds,
		metrics:  m,
		logger:   logger,
	}
}

// dispatch carries the state of a single Send call
type dispatch struct {
	id     string
	params SendParams
	from   types.Address
	state  State
	logger *zap.Logger
}

func (d *dispatch) transition(next State) {
	d.logger.Sugar().Debugw("Dispatch state transition",
		"from", d.state.String(),
		"to", next.String(),
	)
	d.state = next
}

func (d *dispatch) fail(err error) error {
	failedIn := d.state
	d.transition(State_Failed)
	return &DispatchError{State: failedIn, Err: err}
}

// Send runs one message through FetchSeqno, Build, Sign, Serialize and Submit.
// A seqno mismatch reported by the node is retried once with a freshly fetched seqno.
func (dp *Dispatcher) Send(ctx context.Context, params SendParams) (*Result, error) {
	started := time.Now()
	id := uuid.New().String()
	d := &dispatch{
		id:     id,
		params: params,
		state:  State_Idle,
		logger: dp.logger.With(zap.String("dispatchId", id)),
	}

	result, err := dp.run(ctx, d)

	mode := params.Mode.String()
	switch {
	case err == nil:
		dp.metrics.RecordDispatch(mode, metrics.ResultDelivered, started)
		d.logger.Sugar().Infow("Message delivered",
			"hash", result.Hash.Hex(),
			"from", result.From.Hex(),
			"to", result.To.Hex(),
			"seqno", result.Seqno,
			"attempts", result.Attempts,
		)
	case errors.Is(err, types.ErrCancelled):
		dp.metrics.RecordDispatch(mode, metrics.ResultCancelled, started)
		d.logger.Sugar().Infow("Dispatch cancelled", "error", err)
	default:
		dp.metrics.RecordDispatch(mode, metrics.ResultFailed, started)
		d.logger.Sugar().Warnw("Dispatch failed", "error", err)
	}
	return result, err
}

func (dp *Dispatcher) run(ctx context.Context, d *dispatch) (*Result, error) {
	if err := dp.validate(d); err != nil {
		return nil, d.fail(err)
	}

	for attempt := 1; ; attempt++ {
		result, err := dp.attempt(ctx, d)
		if err == nil {
			result.Attempts = attempt
			d.transition(State_Delivered)
			return result, nil
		}

		mismatch, ok := types.IsSeqnoMismatch(err)
		if !ok || attempt >= maxSubmitAttempts {
			return nil, err
		}

		d.logger.Sugar().Warnw("Seqno rejected by node, refetching",
			"address", d.from.Hex(),
			"seqno", mismatch.Seqno,
			"reason", mismatch.Reason,
		)
		dp.tracker.Invalidate(d.from)
		dp.metrics.RecordSeqnoRetry()
		d.state = State_Idle
	}
}

// validate runs in Idle and performs no I/O
func (dp *Dispatcher) validate(d *dispatch) error {
	p := d.params
	if !p.Mode.Valid() {
		return fmt.Errorf("unknown dispatch mode %q", p.Mode)
	}
	if err := dp.codec.ValidateShard(p.FromShard); err != nil {
		return err
	}
	if err := dp.codec.ValidateShard(dp.codec.ShardOf(p.To)); err != nil {
		return err
	}
	if len(p.Payload) > message.MaxPayloadSize {
		return &types.SerializationError{
			Field:  "payload",
			Reason: fmt.Sprintf("%d bytes exceeds maximum of %d", len(p.Payload), message.MaxPayloadSize),
		}
	}
	if p.FeeCredit != nil && p.FeeCredit.BitLen() > message.MaxFeeCreditBits {
		return &types.SerializationError{
			Field:  "feeCredit",
			Reason: fmt.Sprintf("value needs %d bits, maximum is %d", p.FeeCredit.BitLen(), message.MaxFeeCreditBits),
		}
	}

	from, err := dp.signer.Address(p.FromShard)
	if err != nil {
		return fmt.Errorf("failed to derive sender address: %w", err)
	}
	d.from = from

	if p.Mode == ModeSync && !dp.codec.SameShard(from, p.To) {
		return &types.InvalidShardIdError{
			ShardId: dp.codec.ShardOf(p.To),
			Reason: fmt.Sprintf("synchronous send from shard %d cannot reach shard %d",
				dp.codec.ShardOf(from), dp.codec.ShardOf(p.To)),
		}
	}
	return nil
}

// attempt runs FetchSeqno through Submit once. The seqno lease is held until the node
// has accepted or rejected the envelope.
func (dp *Dispatcher) attempt(ctx context.Context, d *dispatch) (*Result, error) {
	d.transition(State_FetchSeqno)
	if ctx.Err() != nil {
		return nil, d.fail(types.ErrCancelled)
	}
	chainId, err := dp.chainIds.ChainId(ctx)
	if err != nil {
		return nil, d.fail(cancelledOr(ctx, fmt.Errorf("failed to get chain id: %w", err)))
	}
	lease, err := dp.tracker.Acquire(ctx, d.from)
	if err != nil {
		return nil, d.fail(cancelledOr(ctx, err))
	}

	d.transition(State_Build)
	env := &types.MessageEnvelope{
		IsDeploy: d.params.IsDeploy,
		To:       d.params.To,
		ChainId:  chainId,
		Seqno:    lease.Seqno,
		Payload:  d.params.Payload,
	}
	if d.params.FeeCredit != nil {
		env.FeeCredit.Set(d.params.FeeCredit)
	}

	d.transition(State_Sign)
	signed, err := signer.SignEnvelope(dp.signer, env)
	if err != nil {
		lease.Release()
		return nil, d.fail(asSigningError(err))
	}

	d.transition(State_Serialize)
	encoded, err := message.Encode(signed)
	if err != nil {
		lease.Release()
		return nil, d.fail(err)
	}

	d.transition(State_Submit)
	if ctx.Err() != nil {
		lease.Release()
		return nil, d.fail(types.ErrCancelled)
	}
	hash, err := dp.node.SendRaw(ctx, encoded)
	if err != nil {
		lease.Release()
		if mismatch, ok := types.IsSeqnoMismatch(err); ok {
			if mismatch.Address.IsEmpty() {
				mismatch.Address = d.from
			}
			mismatch.Seqno = lease.Seqno
		}
		return nil, d.fail(cancelledOr(ctx, err))
	}
	lease.Commit()

	return &Result{
		Hash:     hash,
		From:     d.from,
		To:       d.params.To,
		ChainId:  chainId,
		Seqno:    lease.Seqno,
		Mode:     d.params.Mode,
		Envelope: signed,
	}, nil
}

// cancelledOr maps any failure observed after ctx ended to ErrCancelled
func cancelledOr(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, types.ErrCancelled) {
		return types.ErrCancelled
	}
	return err
}

// asSigningError keeps encoding errors as they are and wraps anything else from the signer
func asSigningError(err error) error {
	if _, ok := types.IsSerialization(err); ok {
		return err
	}
	if _, ok := types.IsSigning(err); ok {
		return err
	}
	return &types.SigningError{Err: err}
}
