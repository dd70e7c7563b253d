package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/dispatcher"
	"github.com/Layr-Labs/shardmsg-go/pkg/metrics"
	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/receipt"
	"github.com/Layr-Labs/shardmsg-go/pkg/seqno"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/Layr-Labs/shardmsg-go/pkg/transport"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// ErrNoJournal is returned by History when the client was built without a journal
var ErrNoJournal = errors.New("message journal is not configured")

// ClientConfig holds the dependencies of a Client
type ClientConfig struct {
	Node   transport.INodeClient
	Signer signer.ISigner
	Codec  *address.Codec
	// ShardId is the sender shard used when SendParams.FromShard is nil
	ShardId uint16
	// Journal is optional; when set every delivered message and its outcome is recorded
	Journal persistence.IMessageJournal
	// Metrics is optional
	Metrics *metrics.Metrics
	// Receipt is used by WaitForReceipt when the caller passes zero options
	Receipt receipt.WaitOptions
	Logger  *zap.Logger
}

// SendParams describes a message to build, sign and submit
type SendParams struct {
	// FromShard overrides the client's default sender shard
	FromShard *uint16
	To        types.Address
	Payload   []byte
	FeeCredit *uint256.Int
	IsDeploy  bool
	// Mode defaults to dispatcher.ModeSync
	Mode dispatcher.Mode
}

// Client is the entry point for deriving addresses, sending messages and waiting for receipts
type Client struct {
	node        transport.INodeClient
	signer      signer.ISigner
	codec       *address.Codec
	shardId     uint16
	journal     persistence.IMessageJournal
	waitOptions receipt.WaitOptions
	logger      *zap.Logger

	tracker    *seqno.Tracker
	dispatcher *dispatcher.Dispatcher
	waiter     *receipt.Waiter

	chainIdMu  sync.Mutex
	chainId    uint32
	hasChainId bool
}

var _ dispatcher.ChainIdSource = (*Client)(nil)

// NewClient creates a new client
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.Node == nil {
		return nil, fmt.Errorf("node client is required")
	}
	if config.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config.Codec == nil {
		return nil, fmt.Errorf("address codec is required")
	}
	if err := config.Codec.ValidateShard(config.ShardId); err != nil {
		return nil, fmt.Errorf("invalid default shard: %w", err)
	}

	waitOptions := config.Receipt
	if waitOptions.MaxAttempts == 0 {
		waitOptions = receipt.DefaultWaitOptions()
	}

	c := &Client{
		node:        config.Node,
		signer:      config.Signer,
		codec:       config.Codec,
		shardId:     config.ShardId,
		journal:     config.Journal,
		waitOptions: waitOptions,
		logger:      config.Logger,
	}
	c.tracker = seqno.NewTracker(config.Node, config.Logger)
	c.dispatcher = dispatcher.NewDispatcher(config.Node, config.Signer, config.Codec, c.tracker, c, config.Metrics, config.Logger)
	c.waiter = receipt.NewWaiter(config.Node, config.Metrics, config.Logger)
	return c, nil
}

// DeriveAddress computes the address of publicKey with salt on shardId
func (c *Client) DeriveAddress(publicKey []byte, salt address.Salt, shardId uint16) (types.Address, error) {
	return c.codec.Derive(publicKey, salt, shardId)
}

// Address returns the signer's address on shardId
func (c *Client) Address(shardId uint16) (types.Address, error) {
	return c.signer.Address(shardId)
}

// DefaultAddress returns the signer's address on the client's default shard
func (c *Client) DefaultAddress() (types.Address, error) {
	return c.signer.Address(c.shardId)
}

func (c *Client) Codec() *address.Codec {
	return c.codec
}

// ChainId returns the node's chain id. The first successful answer is kept for the
// lifetime of the client; failures are not remembered.
func (c *Client) ChainId(ctx context.Context) (uint32, error) {
	c.chainIdMu.Lock()
	defer c.chainIdMu.Unlock()

	if c.hasChainId {
		return c.chainId, nil
	}
	if ctx.Err() != nil {
		return 0, types.ErrCancelled
	}

	chainId, err := c.node.ChainId(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, types.ErrCancelled
		}
		return 0, fmt.Errorf("failed to fetch chain id: %w", err)
	}
	c.chainId = chainId
	c.hasChainId = true
	c.logger.Sugar().Debugw("Cached chain id", "chainId", chainId)
	return chainId, nil
}

// Send builds, signs and submits a message and returns the full dispatch result
func (c *Client) Send(ctx context.Context, params SendParams) (*dispatcher.Result, error) {
	fromShard := c.shardId
	if params.FromShard != nil {
		fromShard = *params.FromShard
	}
	mode := params.Mode
	if mode == "" {
		mode = dispatcher.ModeSync
	}

	result, err := c.dispatcher.Send(ctx, dispatcher.SendParams{
		FromShard: fromShard,
		To:        params.To,
		Payload:   params.Payload,
		FeeCredit: params.FeeCredit,
		IsDeploy:  params.IsDeploy,
		Mode:      mode,
	})
	if err != nil {
		return nil, err
	}

	c.record(result)
	return result, nil
}

// BuildAndSend builds, signs and submits a message and returns its hash
func (c *Client) BuildAndSend(ctx context.Context, params SendParams) (types.Hash, error) {
	result, err := c.Send(ctx, params)
	if err != nil {
		return types.EmptyHash, err
	}
	return result.Hash, nil
}

// WaitForReceipt polls for the receipt of hash. Zero options select the client defaults.
// An on-chain failure is returned as a receipt with Success false, not as an error.
func (c *Client) WaitForReceipt(ctx context.Context, hash types.Hash, opts receipt.WaitOptions) (*types.Receipt, error) {
	if opts == (receipt.WaitOptions{}) {
		opts = c.waitOptions
	}

	r, err := c.waiter.Wait(ctx, hash, opts)
	if err == nil {
		c.updateStatus(hash, persistence.StatusForReceipt(r), r)
	} else if _, ok := types.IsReceiptTimeout(err); ok {
		c.updateStatus(hash, persistence.MessageStatus_Timeout, nil)
	}
	return r, err
}

// SendAndWait sends a message and waits for its receipt. The dispatch result is returned
// even when waiting fails.
func (c *Client) SendAndWait(ctx context.Context, params SendParams, opts receipt.WaitOptions) (*dispatcher.Result, *types.Receipt, error) {
	result, err := c.Send(ctx, params)
	if err != nil {
		return nil, nil, err
	}
	r, err := c.WaitForReceipt(ctx, result.Hash, opts)
	if err != nil {
		return result, nil, err
	}
	return result, r, nil
}

// History lists the journaled messages sent from addr ordered by seqno
func (c *Client) History(from types.Address) ([]*persistence.MessageRecord, error) {
	if c.journal == nil {
		return nil, ErrNoJournal
	}
	records, err := c.journal.ListMessagesBySender(from)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for %s: %w", from.Hex(), err)
	}
	return records, nil
}

// Pending lists journaled messages whose receipt has not been observed yet
func (c *Client) Pending() ([]*persistence.MessageRecord, error) {
	if c.journal == nil {
		return nil, ErrNoJournal
	}
	records, err := c.journal.ListMessagesByStatus(persistence.MessageStatus_Pending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	return records, nil
}

// record journals a delivered message. Journal failures are logged and never fail the send.
func (c *Client) record(result *dispatcher.Result) {
	if c.journal == nil {
		return
	}
	now := time.Now().UnixMilli()
	err := c.journal.SaveMessage(&persistence.MessageRecord{
		Hash:        result.Hash,
		From:        result.From,
		To:          result.To,
		ChainId:     result.ChainId,
		Seqno:       result.Seqno,
		Mode:        result.Mode.String(),
		Status:      persistence.MessageStatus_Pending,
		SubmittedAt: now,
		UpdatedAt:   now,
	})
	if err != nil {
		c.logger.Sugar().Warnw("Failed to journal message", "hash", result.Hash.Hex(), "error", err)
	}
}

func (c *Client) updateStatus(hash types.Hash, status persistence.MessageStatus, r *types.Receipt) {
	if c.journal == nil {
		return
	}
	err := c.journal.UpdateStatus(hash, status, r)
	switch {
	case err == nil:
	case errors.Is(err, persistence.ErrMessageNotFound):
		// sent by another client or before the journal existed
		c.logger.Sugar().Debugw("Receipt for unjournaled message", "hash", hash.Hex())
	default:
		c.logger.Sugar().Warnw("Failed to update journaled message", "hash", hash.Hex(), "status", status, "error", err)
	}
}
