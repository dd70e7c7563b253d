package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// JSON-RPC method names served by the node
const (
	MethodChainId    = "eth_chainId"
	MethodGetSeqno   = "eth_getTransactionCount"
	MethodSendRaw    = "eth_sendRawTransaction"
	MethodGetReceipt = "eth_getInMessageReceipt"

	blockTagLatest = "latest"
)

// INodeClient is the narrow surface of the node that the message pipeline depends on.
// Every call is cancellable through ctx.
type INodeClient interface {
	// ChainId returns the network's chain id
	ChainId(ctx context.Context) (uint32, error)

	// GetSeqno returns the next expected sequence number for addr
	GetSeqno(ctx context.Context, addr types.Address) (uint64, error)

	// SendRaw submits a canonical signed envelope and returns the node's message identifier
	SendRaw(ctx context.Context, encoded []byte) (types.Hash, error)

	// GetReceipt returns nil, nil while no receipt is available
	GetReceipt(ctx context.Context, hash types.Hash) (*types.Receipt, error)
}

// RetryConfig configures retry behavior for idempotent reads
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      2 * time.Second,
	BackoffMultiple: 2.0,
}

// RPCClientConfig configures the JSON-RPC node client
type RPCClientConfig struct {
	Url string
	// RequestsPerSecond limits outgoing calls; zero disables limiting
	RequestsPerSecond float64
	Burst             int
	Retry             *RetryConfig
}

// RPCClient implements INodeClient over go-ethereum's JSON-RPC client
type RPCClient struct {
	client  *rpc.Client
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *zap.Logger
}

var _ INodeClient = (*RPCClient)(nil)

// NewRPCClient dials the node at cfg.Url
func NewRPCClient(ctx context.Context, cfg *RPCClientConfig, logger *zap.Logger) (*RPCClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Url == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	client, err := rpc.DialContext(ctx, cfg.Url)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to dial node at %s", cfg.Url)
	}
	return NewRPCClientWithClient(client, cfg, logger), nil
}

// NewRPCClientWithClient wraps an existing rpc.Client, e.g. an in-process one
func NewRPCClientWithClient(client *rpc.Client, cfg *RPCClientConfig, logger *zap.Logger) *RPCClient {
	if cfg == nil {
		cfg = &RPCClientConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	retry := DefaultRetryConfig
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	return &RPCClient{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		retry:   retry,
		logger:  logger,
	}
}

func (c *RPCClient) Close() {
	c.client.Close()
}

func (c *RPCClient) ChainId(ctx context.Context) (uint32, error) {
	var result hexutil.Uint64
	if err := c.callWithRetry(ctx, &result, MethodChainId); err != nil {
		return 0, err
	}
	if uint64(result) > uint64(^uint32(0)) {
		return 0, &TransportError{Method: MethodChainId, Message: fmt.Sprintf("chain id %d does not fit in 32 bits", uint64(result))}
	}
	return uint32(result), nil
}

func (c *RPCClient) GetSeqno(ctx context.Context, addr types.Address) (uint64, error) {
	var result hexutil.Uint64
	if err := c.callWithRetry(ctx, &result, MethodGetSeqno, addr.Hex(), blockTagLatest); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// SendRaw is never retried here: a resubmission is a new dispatch decision
func (c *RPCClient) SendRaw(ctx context.Context, encoded []byte) (types.Hash, error) {
	var result common.Hash
	err := c.call(ctx, &result, MethodSendRaw, hexutil.Bytes(encoded))
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.IsSeqnoRejection() {
			return types.EmptyHash, &types.SeqnoMismatchError{Reason: te.Message}
		}
		return types.EmptyHash, err
	}
	return result, nil
}

func (c *RPCClient) GetReceipt(ctx context.Context, hash types.Hash) (*types.Receipt, error) {
	var result *RPCReceipt
	if err := c.call(ctx, &result, MethodGetReceipt, hash); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.ToReceipt(), nil
}

func (c *RPCClient) callWithRetry(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	backoff := c.retry.InitialBackoff
	var err error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		err = c.call(ctx, result, method, args...)
		if err == nil || errors.Is(err, types.ErrCancelled) || !isTransient(err) {
			return err
		}
		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		c.logger.Sugar().Debugw("Retrying node call", "method", method, "attempt", attempt+1, "error", err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return pkgerrors.Wrapf(types.ErrCancelled, "%s", method)
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiple)
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}
	return err
}

func (c *RPCClient) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	// Wait only fails when ctx is done or its deadline would pass before a token frees up
	if err := c.limiter.Wait(ctx); err != nil {
		return pkgerrors.Wrapf(types.ErrCancelled, "%s: %v", method, err)
	}

	err := c.client.CallContext(ctx, result, method, args...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return pkgerrors.Wrapf(types.ErrCancelled, "%s", method)
	}

	te := &TransportError{Method: method, Message: err.Error(), Err: err}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		te.Code = rpcErr.ErrorCode()
	}
	c.logger.Sugar().Debugw("Node call failed", "method", method, "code", te.Code, "error", err)
	return te
}

// TransportError is a failure reported by, or while reaching, the node
type TransportError struct {
	Method string
	// Code is the JSON-RPC error code, zero for connection-level failures
	Code    int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport error calling %s (code %d): %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("transport error calling %s: %s", e.Method, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsSeqnoRejection reports whether the node rejected the message for its sequence number.
// Only the dedicated error code counts; other node errors mentioning the field are not retried.
func (e *TransportError) IsSeqnoRejection() bool {
	return e.Code == types.SeqnoMismatchErrorCode
}

func IsTransportError(err error) (*TransportError, bool) {
	var e *TransportError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// isTransient treats connection-level failures as retryable and node-reported errors as final
func isTransient(err error) bool {
	te, ok := IsTransportError(err)
	return ok && te.Code == 0
}
