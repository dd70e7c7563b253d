package receipt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/metrics"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 10
	DefaultInterval    = time.Second
)

// Fetcher looks up receipts; nil, nil means not yet available
type Fetcher interface {
	GetReceipt(ctx context.Context, hash types.Hash) (*types.Receipt, error)
}

type WaitOptions struct {
	// MaxAttempts is the number of lookups before giving up
	MaxAttempts int
	// Interval is the pause between lookups
	Interval time.Duration
	// UntilComplete keeps polling while outgoing cross-shard receipts are pending
	UntilComplete bool
}

func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		MaxAttempts: DefaultMaxAttempts,
		Interval:    DefaultInterval,
	}
}

func (o WaitOptions) validate() error {
	if o.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", o.MaxAttempts)
	}
	if o.Interval < 0 {
		return fmt.Errorf("interval cannot be negative, got %s", o.Interval)
	}
	return nil
}

type Waiter struct {
	fetcher Fetcher
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewWaiter(fetcher Fetcher, m *metrics.Metrics, logger *zap.Logger) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{
		fetcher: fetcher,
		metrics: m,
		logger:  logger,
	}
}

// Wait polls for the receipt of hash. It returns the first available receipt, successful or
// not, a ReceiptTimeoutError after exactly opts.MaxAttempts lookups, or ErrCancelled.
func (w *Waiter) Wait(ctx context.Context, hash types.Hash, opts WaitOptions) (*types.Receipt, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			w.metrics.RecordReceiptOutcome(metrics.OutcomeCanceled)
			return nil, types.ErrCancelled
		}

		receipt, err := w.fetcher.GetReceipt(ctx, hash)
		w.metrics.RecordReceiptPoll(err)
		switch {
		case err != nil:
			if errors.Is(err, types.ErrCancelled) || ctx.Err() != nil {
				w.metrics.RecordReceiptOutcome(metrics.OutcomeCanceled)
				return nil, types.ErrCancelled
			}
			lastErr = err
			w.logger.Sugar().Warnw("Receipt lookup failed",
				"hash", hash.Hex(),
				"attempt", attempt,
				"error", err,
			)
		case receipt == nil:
			w.logger.Sugar().Debugw("Receipt not yet available", "hash", hash.Hex(), "attempt", attempt)
		case opts.UntilComplete && !receipt.Complete():
			w.logger.Sugar().Debugw("Receipt has pending out receipts", "hash", hash.Hex(), "attempt", attempt)
		default:
			outcome := metrics.OutcomeSuccess
			if !receipt.Success {
				outcome = metrics.OutcomeFailure
			}
			w.metrics.RecordReceiptOutcome(outcome)
			w.logger.Sugar().Infow("Receipt received",
				"hash", hash.Hex(),
				"success", receipt.Success,
				"status", receipt.Status,
				"attempt", attempt,
			)
			return receipt, nil
		}

		if attempt == opts.MaxAttempts {
			break
		}
		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.metrics.RecordReceiptOutcome(metrics.OutcomeCanceled)
			return nil, types.ErrCancelled
		case <-timer.C:
		}
	}

	w.metrics.RecordReceiptOutcome(metrics.OutcomeTimeout)
	return nil, &types.ReceiptTimeoutError{
		Hash:     hash,
		Attempts: opts.MaxAttempts,
		LastErr:  lastErr,
	}
}
