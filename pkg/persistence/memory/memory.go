package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"go.uber.org/zap"
)

// MemoryJournal is an in-memory implementation of IMessageJournal.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies records to prevent external mutation.
type MemoryJournal struct {
	mu sync.RWMutex

	// hash -> record
	messages map[types.Hash]*persistence.MessageRecord

	closed bool
}

var _ persistence.IMessageJournal = (*MemoryJournal)(nil)

// NewMemoryJournal creates a new in-memory journal.
func NewMemoryJournal(logger *zap.Logger) *MemoryJournal {
	if logger != nil {
		logger.Sugar().Warnw("Using in-memory message journal, history is lost on restart")
	}
	return &MemoryJournal{
		messages: make(map[types.Hash]*persistence.MessageRecord),
	}
}

// SaveMessage persists a message record.
func (m *MemoryJournal) SaveMessage(record *persistence.MessageRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil MessageRecord")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.messages[record.Hash] = record.Copy()
	return nil
}

// LoadMessage retrieves a message record by hash.
func (m *MemoryJournal) LoadMessage(hash types.Hash) (*persistence.MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	record, exists := m.messages[hash]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return record.Copy(), nil
}

// UpdateStatus sets the outcome of an existing record.
func (m *MemoryJournal) UpdateStatus(hash types.Hash, status persistence.MessageStatus, receipt *types.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	record, exists := m.messages[hash]
	if !exists {
		return fmt.Errorf("%w: %s", persistence.ErrMessageNotFound, hash.Hex())
	}
	record.ApplyStatus(status, receipt, time.Now())
	return nil
}

// ListMessagesBySender returns the records sent from addr ordered by seqno.
func (m *MemoryJournal) ListMessagesBySender(from types.Address) ([]*persistence.MessageRecord, error) {
	return m.list(func(r *persistence.MessageRecord) bool { return r.From == from }, persistence.SortBySeqno)
}

// ListMessagesByStatus returns the records with status ordered by submission time.
func (m *MemoryJournal) ListMessagesByStatus(status persistence.MessageStatus) ([]*persistence.MessageRecord, error) {
	return m.list(func(r *persistence.MessageRecord) bool { return r.Status == status }, persistence.SortBySubmission)
}

func (m *MemoryJournal) list(
	match func(*persistence.MessageRecord) bool,
	order func([]*persistence.MessageRecord),
) ([]*persistence.MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*persistence.MessageRecord, 0)
	for _, record := range m.messages {
		if match(record) {
			result = append(result, record.Copy())
		}
	}
	order(result)
	return result, nil
}

// DeleteMessage removes a record.
func (m *MemoryJournal) DeleteMessage(hash types.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	delete(m.messages, hash)
	return nil
}

// Close marks the journal as closed.
func (m *MemoryJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.messages = nil
	return nil
}

// HealthCheck verifies the journal is operational.
func (m *MemoryJournal) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}
