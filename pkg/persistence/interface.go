package persistence

import (
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
)

// IMessageJournal records dispatched messages and their receipt outcomes so that a client
// can report sender history and resume waiting after a restart.
// All implementations must be thread-safe; dispatches for different senders run concurrently.
//
// The interface supports:
// - Message records (save, load, delete) keyed by message hash
// - Outcome updates once a receipt arrives or polling gives up
// - Listing by sender (ordered by seqno) and by status
// - Lifecycle management (close, health check)
type IMessageJournal interface {
	// SaveMessage persists a record keyed by its hash, overwriting any existing record.
	SaveMessage(record *MessageRecord) error

	// LoadMessage retrieves a record by message hash.
	// Returns nil if the record doesn't exist, error only on storage failure.
	LoadMessage(hash types.Hash) (*MessageRecord, error)

	// UpdateStatus sets the status of an existing record and attaches the receipt, if any.
	// Returns ErrMessageNotFound if no record exists for hash.
	UpdateStatus(hash types.Hash, status MessageStatus, receipt *types.Receipt) error

	// ListMessagesBySender returns every record sent from addr sorted by seqno (ascending).
	// Returns empty slice if none exist.
	ListMessagesBySender(from types.Address) ([]*MessageRecord, error)

	// ListMessagesByStatus returns every record with the given status sorted by submission time.
	ListMessagesByStatus(status MessageStatus) ([]*MessageRecord, error)

	// DeleteMessage removes a record.
	// Idempotent - returns nil if the record doesn't exist.
	DeleteMessage(hash types.Hash) error

	// Close cleanly shuts down the journal.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations return errors.
	Close() error

	// HealthCheck verifies the journal is operational.
	HealthCheck() error
}
