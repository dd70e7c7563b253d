package sql

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// messageRow is the table layout. The full record is kept as JSON in Data; the other
// columns exist for lookups and ordering.
type messageRow struct {
	Hash        string `gorm:"column:hash;primaryKey"`
	Sender      string `gorm:"column:sender;not null;index:idx_messages_sender_seqno,priority:1"`
	Seqno       uint64 `gorm:"column:seqno;not null;index:idx_messages_sender_seqno,priority:2"`
	Status      string `gorm:"column:status;not null;index"`
	SubmittedAt int64  `gorm:"column:submitted_at;not null"`
	Data        string `gorm:"column:data;type:text;not null"`
}

func (messageRow) TableName() string {
	return "messages"
}

func newRow(record *persistence.MessageRecord) (*messageRow, error) {
	data, err := persistence.MarshalMessageRecord(record)
	if err != nil {
		return nil, err
	}
	return &messageRow{
		Hash:        record.Hash.Hex(),
		Sender:      record.From.Hex(),
		Seqno:       record.Seqno,
		Status:      string(record.Status),
		SubmittedAt: record.SubmittedAt,
		Data:        string(data),
	}, nil
}

func (r *messageRow) record() (*persistence.MessageRecord, error) {
	return persistence.UnmarshalMessageRecord([]byte(r.Data))
}

// SQLJournal is an IMessageJournal stored in a SQLite database through gorm.
type SQLJournal struct {
	db     *gorm.DB
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

var _ persistence.IMessageJournal = (*SQLJournal)(nil)

// NewSQLJournal opens (or creates) the SQLite database at path and migrates the schema.
// An empty path opens a private in-memory database.
func NewSQLJournal(path string, logger *zap.Logger) (*SQLJournal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := "file::memory:"
	if path != "" {
		dsn = fmt.Sprintf("file:%s?cache=shared", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// sqlite allows a single writer; an in-memory database also lives on one connection
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&messageRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}

	logger.Sugar().Infow("SQL message journal initialized", "dsn", dsn)
	return &SQLJournal{db: db, logger: logger}, nil
}

// SaveMessage persists a message record
func (s *SQLJournal) SaveMessage(record *persistence.MessageRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil MessageRecord")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	row, err := newRow(record)
	if err != nil {
		return err
	}
	if err := s.db.Save(row).Error; err != nil {
		return fmt.Errorf("failed to save MessageRecord: %w", err)
	}
	return nil
}

func loadRow(db *gorm.DB, hash types.Hash) (*messageRow, error) {
	var row messageRow
	err := db.Where("hash = ?", hash.Hex()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// LoadMessage retrieves a message record by hash
func (s *SQLJournal) LoadMessage(hash types.Hash) (*persistence.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	row, err := loadRow(s.db, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load MessageRecord: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return row.record()
}

// UpdateStatus sets the outcome of an existing record
func (s *SQLJournal) UpdateStatus(hash types.Hash, status persistence.MessageStatus, receipt *types.Receipt) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		row, err := loadRow(tx, hash)
		if err != nil {
			return fmt.Errorf("failed to load MessageRecord: %w", err)
		}
		if row == nil {
			return fmt.Errorf("%w: %s", persistence.ErrMessageNotFound, hash.Hex())
		}
		record, err := row.record()
		if err != nil {
			return err
		}
		record.ApplyStatus(status, receipt, time.Now())

		updated, err := newRow(record)
		if err != nil {
			return err
		}
		return tx.Save(updated).Error
	})
}

// ListMessagesBySender returns the records sent from addr ordered by seqno
func (s *SQLJournal) ListMessagesBySender(from types.Address) ([]*persistence.MessageRecord, error) {
	return s.list(s.db.Where("sender = ?", from.Hex()).Order("seqno ASC").Order("submitted_at ASC"))
}

// ListMessagesByStatus returns the records with status ordered by submission time
func (s *SQLJournal) ListMessagesByStatus(status persistence.MessageStatus) ([]*persistence.MessageRecord, error) {
	return s.list(s.db.Where("status = ?", string(status)).Order("submitted_at ASC").Order("hash ASC"))
}

func (s *SQLJournal) list(query *gorm.DB) ([]*persistence.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, persistence.ErrClosed
	}

	var rows []messageRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list MessageRecords: %w", err)
	}

	records := make([]*persistence.MessageRecord, 0, len(rows))
	for i := range rows {
		record, err := rows[i].record()
		if err != nil {
			s.logger.Sugar().Warnw("Failed to unmarshal MessageRecord, skipping",
				"hash", rows[i].Hash, "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// DeleteMessage removes a record
func (s *SQLJournal) DeleteMessage(hash types.Hash) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	if err := s.db.Where("hash = ?", hash.Hex()).Delete(&messageRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete MessageRecord: %w", err)
	}
	return nil
}

// Close releases the database handle
func (s *SQLJournal) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite database: %w", err)
	}

	s.logger.Sugar().Info("SQL message journal closed")
	return nil
}

// HealthCheck verifies the journal is operational
func (s *SQLJournal) HealthCheck() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return persistence.ErrClosed
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}
