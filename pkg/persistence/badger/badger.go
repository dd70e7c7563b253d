package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Key prefixes for namespacing
const (
	keyPrefixMessage     = "msg:"
	keyPrefixSender      = "sender:"
	keyPrefixStatus      = "status:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// BadgerJournal is a durable IMessageJournal backed by a local Badger database.
// Records are stored as JSON under msg:<hash>; sender and status listings use
// index keys that sort by seqno and point back at the hash.
type BadgerJournal struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ persistence.IMessageJournal = (*BadgerJournal)(nil)

// NewBadgerJournal opens the database at dataPath with SyncWrites enabled and starts
// a background value log GC.
func NewBadgerJournal(dataPath string, logger *zap.Logger) (*BadgerJournal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = newBadgerLogger(logger)
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bj := &BadgerJournal{
		db:     db,
		logger: logger,
	}

	if err := bj.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bj.gcCancel = cancel
	bj.gcWg.Add(1)
	go bj.runGC(ctx)

	logger.Sugar().Infow("Badger message journal initialized", "path", absPath)

	return bj, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerJournal) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

// runGC runs periodic garbage collection in the background
func (b *BadgerJournal) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func messageKey(hash types.Hash) []byte {
	return []byte(keyPrefixMessage + hash.Hex())
}

func senderPrefix(from types.Address) string {
	return keyPrefixSender + from.Hex() + ":"
}

// senderKey zero-pads the seqno so that lexicographic key order is seqno order
func senderKey(r *persistence.MessageRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", senderPrefix(r.From), r.Seqno, r.Hash.Hex()))
}

func statusPrefix(status persistence.MessageStatus) string {
	return keyPrefixStatus + string(status) + ":"
}

func statusKey(r *persistence.MessageRecord) []byte {
	return []byte(statusPrefix(r.Status) + r.Hash.Hex())
}

// readRecord returns nil when the record doesn't exist
func readRecord(txn *badgerdb.Txn, hash types.Hash) (*persistence.MessageRecord, error) {
	item, err := txn.Get(messageKey(hash))
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var data []byte
	err = item.Value(func(val []byte) error {
		data = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return persistence.UnmarshalMessageRecord(data)
}

// writeRecord stores record and moves its index keys away from previous, if any
func writeRecord(txn *badgerdb.Txn, record, previous *persistence.MessageRecord) error {
	if previous != nil {
		if err := txn.Delete(senderKey(previous)); err != nil {
			return err
		}
		if err := txn.Delete(statusKey(previous)); err != nil {
			return err
		}
	}

	data, err := persistence.MarshalMessageRecord(record)
	if err != nil {
		return err
	}
	if err := txn.Set(messageKey(record.Hash), data); err != nil {
		return err
	}
	hash := record.Hash.Bytes()
	if err := txn.Set(senderKey(record), hash); err != nil {
		return err
	}
	return txn.Set(statusKey(record), hash)
}

// SaveMessage persists a message record
func (b *BadgerJournal) SaveMessage(record *persistence.MessageRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil MessageRecord")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		previous, err := readRecord(txn, record.Hash)
		if err != nil {
			return err
		}
		return writeRecord(txn, record, previous)
	})
	if err != nil {
		return fmt.Errorf("failed to save MessageRecord: %w", err)
	}
	return nil
}

// LoadMessage retrieves a message record by hash
func (b *BadgerJournal) LoadMessage(hash types.Hash) (*persistence.MessageRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	var record *persistence.MessageRecord
	err := b.db.View(func(txn *badgerdb.Txn) error {
		var err error
		record, err = readRecord(txn, hash)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load MessageRecord: %w", err)
	}
	return record, nil
}

// UpdateStatus sets the outcome of an existing record
func (b *BadgerJournal) UpdateStatus(hash types.Hash, status persistence.MessageStatus, receipt *types.Receipt) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		previous, err := readRecord(txn, hash)
		if err != nil {
			return fmt.Errorf("failed to load MessageRecord: %w", err)
		}
		if previous == nil {
			return fmt.Errorf("%w: %s", persistence.ErrMessageNotFound, hash.Hex())
		}
		updated := previous.Copy()
		updated.ApplyStatus(status, receipt, time.Now())
		return writeRecord(txn, updated, previous)
	})
}

// ListMessagesBySender returns the records sent from addr ordered by seqno
func (b *BadgerJournal) ListMessagesBySender(from types.Address) ([]*persistence.MessageRecord, error) {
	records, err := b.listByIndex(senderPrefix(from))
	if err != nil {
		return nil, err
	}
	// index order already follows seqno, this only breaks ties
	persistence.SortBySeqno(records)
	return records, nil
}

// ListMessagesByStatus returns the records with status ordered by submission time
func (b *BadgerJournal) ListMessagesByStatus(status persistence.MessageStatus) ([]*persistence.MessageRecord, error) {
	records, err := b.listByIndex(statusPrefix(status))
	if err != nil {
		return nil, err
	}
	persistence.SortBySubmission(records)
	return records, nil
}

// listByIndex iterates index keys under prefix and resolves each to its record
func (b *BadgerJournal) listByIndex(prefix string) ([]*persistence.MessageRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, persistence.ErrClosed
	}

	records := make([]*persistence.MessageRecord, 0)
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var hash types.Hash
			err := item.Value(func(val []byte) error {
				hash = common.BytesToHash(val)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read index value: %w", err)
			}

			record, err := readRecord(txn, hash)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to read MessageRecord, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}
			if record == nil {
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list MessageRecords: %w", err)
	}
	return records, nil
}

// DeleteMessage removes a record and its index keys
func (b *BadgerJournal) DeleteMessage(hash types.Hash) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		previous, err := readRecord(txn, hash)
		if err != nil {
			return err
		}
		if previous == nil {
			return nil
		}
		if err := txn.Delete(senderKey(previous)); err != nil {
			return err
		}
		if err := txn.Delete(statusKey(previous)); err != nil {
			return err
		}
		return txn.Delete(messageKey(hash))
	})
}

// Close shuts down the journal
func (b *BadgerJournal) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger message journal closed")
	return nil
}

// HealthCheck verifies the journal is operational
func (b *BadgerJournal) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return persistence.ErrClosed
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
