package seqno

import (
	"context"
	"fmt"
	"sync"

	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"go.uber.org/zap"
)

// Fetcher returns the on-chain sequence number of an address
type Fetcher interface {
	GetSeqno(ctx context.Context, addr types.Address) (uint64, error)
}

// Tracker hands out sequence numbers per sender address. Holders of a Lease for the same
// address are serialized, so the next acquisition only resolves once the previous holder
// committed or released. Different addresses never contend.
type Tracker struct {
	fetcher Fetcher
	logger  *zap.Logger

	mu       sync.Mutex
	accounts map[types.Address]*account
}

type account struct {
	// sem is a one-slot semaphore so that lock acquisition can honor ctx
	sem chan struct{}
	// cursor is the next seqno this client would use, valid only when hasCursor is set
	cursor    uint64
	hasCursor bool
}

func NewTracker(fetcher Fetcher, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		fetcher:  fetcher,
		logger:   logger,
		accounts: make(map[types.Address]*account),
	}
}

func (t *Tracker) account(addr types.Address) *account {
	t.mu.Lock()
	defer t.mu.Unlock()
	acc, ok := t.accounts[addr]
	if !ok {
		acc = &account{sem: make(chan struct{}, 1)}
		t.accounts[addr] = acc
	}
	return acc
}

// Lease is exclusive ownership of the next sequence number of one address.
// Exactly one of Commit or Release takes effect; later calls are no-ops.
type Lease struct {
	Address types.Address
	Seqno   uint64

	tracker *Tracker
	acc     *account
	once    sync.Once
}

// Acquire waits for the address lock, fetches the on-chain seqno and resolves
// max(onChain, local cursor). A cancelled ctx returns ErrCancelled without fetching.
func (t *Tracker) Acquire(ctx context.Context, addr types.Address) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.ErrCancelled
	}
	acc := t.account(addr)

	select {
	case acc.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, types.ErrCancelled
	}

	onChain, err := t.fetcher.GetSeqno(ctx, addr)
	if err != nil {
		<-acc.sem
		if ctx.Err() != nil {
			return nil, types.ErrCancelled
		}
		return nil, fmt.Errorf("failed to fetch seqno for %s: %w", addr.Hex(), err)
	}

	// the cursor is only touched while holding sem
	seqno := onChain
	if acc.hasCursor && acc.cursor > seqno {
		seqno = acc.cursor
	}

	t.logger.Sugar().Debugw("Acquired seqno lease",
		"address", addr.Hex(),
		"onChain", onChain,
		"seqno", seqno,
	)
	return &Lease{Address: addr, Seqno: seqno, tracker: t, acc: acc}, nil
}

// Commit records that Seqno was consumed and unlocks the address
func (l *Lease) Commit() {
	l.once.Do(func() {
		l.acc.cursor = l.Seqno + 1
		l.acc.hasCursor = true
		<-l.acc.sem
	})
}

// Release unlocks the address without advancing the cursor
func (l *Lease) Release() {
	l.once.Do(func() {
		<-l.acc.sem
	})
}

// Next acquires and immediately commits, returning the reserved seqno
func (t *Tracker) Next(ctx context.Context, addr types.Address) (uint64, error) {
	lease, err := t.Acquire(ctx, addr)
	if err != nil {
		return 0, err
	}
	lease.Commit()
	return lease.Seqno, nil
}

// Invalidate forgets the local cursor so the next acquisition uses only the on-chain value.
// It waits for any current holder of the address to finish.
func (t *Tracker) Invalidate(addr types.Address) {
	acc := t.account(addr)
	acc.sem <- struct{}{}
	acc.cursor = 0
	acc.hasCursor = false
	<-acc.sem

	t.logger.Sugar().Debugw("Invalidated seqno cursor", "address", addr.Hex())
}

// Cursor returns the local cursor for addr, if one is set
func (t *Tracker) Cursor(addr types.Address) (uint64, bool) {
	acc := t.account(addr)
	acc.sem <- struct{}{}
	defer func() { <-acc.sem }()
	return acc.cursor, acc.hasCursor
}
