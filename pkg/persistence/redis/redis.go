package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixMessage     = "shardmsg:msg:"
	keyPrefixSender      = "shardmsg:sender:"
	keyPrefixStatus      = "shardmsg:status:"
	keySchemaVersion     = "shardmsg:metadata:schema_version"
	currentSchemaVersion = "v1"

	operationTimeout = 5 * time.Second
	// maxTxRetries bounds optimistic transaction retries when a watched record changes
	maxTxRetries = 5
)

// RedisJournal is an IMessageJournal backed by Redis, suitable for sharing history
// between several client processes.
//
// Records are JSON strings under shardmsg:msg:<hash>. Each sender has a sorted set
// scored by seqno and each status a plain set, both holding message hashes.
type RedisJournal struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

var _ persistence.IMessageJournal = (*RedisJournal)(nil)

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "team-a:" gives "team-a:shardmsg:msg:0x..."
	KeyPrefix string
}

// NewRedisJournal connects to Redis and initializes the schema version key.
func NewRedisJournal(cfg *RedisConfig, logger *zap.Logger) (*RedisJournal, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, pkgerrors.Wrapf(err, "failed to connect to Redis at %s", cfg.Address)
	}

	rj := &RedisJournal{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rj.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis message journal initialized",
		"address", cfg.Address,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	)
	return rj, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisJournal) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisJournal) messageKey(hash types.Hash) string {
	return r.prefixKey(keyPrefixMessage + hash.Hex())
}

func (r *RedisJournal) senderKey(from types.Address) string {
	return r.prefixKey(keyPrefixSender + from.Hex())
}

func (r *RedisJournal) statusKey(status persistence.MessageStatus) string {
	return r.prefixKey(keyPrefixStatus + string(status))
}

// initSchema initializes or validates the schema version
func (r *RedisJournal) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}
	return nil
}

// getter is satisfied by both the client and a watched transaction
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getRecord returns nil when the record doesn't exist
func getRecord(ctx context.Context, c getter, key string) (*persistence.MessageRecord, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return persistence.UnmarshalMessageRecord(data)
}

// writeRecord queues the record and its index entries, removing those of previous
func (r *RedisJournal) writeRecord(ctx context.Context, pipe redis.Pipeliner, record, previous *persistence.MessageRecord) error {
	data, err := persistence.MarshalMessageRecord(record)
	if err != nil {
		return err
	}
	member := record.Hash.Hex()

	if previous != nil {
		if previous.From != record.From {
			pipe.ZRem(ctx, r.senderKey(previous.From), member)
		}
		if previous.Status != record.Status {
			pipe.SRem(ctx, r.statusKey(previous.Status), member)
		}
	}
	pipe.Set(ctx, r.messageKey(record.Hash), data, 0)
	pipe.ZAdd(ctx, r.senderKey(record.From), redis.Z{Score: float64(record.Seqno), Member: member})
	pipe.SAdd(ctx, r.statusKey(record.Status), member)
	return nil
}

// update runs fn as an optimistic transaction watching the record key
func (r *RedisJournal) update(ctx context.Context, hash types.Hash, fn func(tx *redis.Tx, previous *persistence.MessageRecord) error) error {
	key := r.messageKey(hash)
	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = r.client.Watch(ctx, func(tx *redis.Tx) error {
			previous, err := getRecord(ctx, tx, key)
			if err != nil {
				return err
			}
			return fn(tx, previous)
		}, key)
		if err != redis.TxFailedErr {
			return err
		}
		r.logger.Sugar().Debugw("Redis transaction conflict, retrying", "key", key, "attempt", i+1)
	}
	return err
}

// SaveMessage persists a message record
func (r *RedisJournal) SaveMessage(record *persistence.MessageRecord) error {
	if record == nil {
		return fmt.Errorf("cannot save nil MessageRecord")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	err := r.update(ctx, record.Hash, func(tx *redis.Tx, previous *persistence.MessageRecord) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.writeRecord(ctx, pipe, record, previous)
		})
		return err
	})
	if err != nil {
		return pkgerrors.Wrap(err, "failed to save MessageRecord")
	}
	return nil
}

// LoadMessage retrieves a message record by hash
func (r *RedisJournal) LoadMessage(hash types.Hash) (*persistence.MessageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	record, err := getRecord(ctx, r.client, r.messageKey(hash))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load MessageRecord")
	}
	return record, nil
}

// UpdateStatus sets the outcome of an existing record
func (r *RedisJournal) UpdateStatus(hash types.Hash, status persistence.MessageStatus, receipt *types.Receipt) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	return r.update(ctx, hash, func(tx *redis.Tx, previous *persistence.MessageRecord) error {
		if previous == nil {
			return fmt.Errorf("%w: %s", persistence.ErrMessageNotFound, hash.Hex())
		}
		updated := previous.Copy()
		updated.ApplyStatus(status, receipt, time.Now())
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.writeRecord(ctx, pipe, updated, previous)
		})
		return err
	})
}

// ListMessagesBySender returns the records sent from addr ordered by seqno
func (r *RedisJournal) ListMessagesBySender(from types.Address) ([]*persistence.MessageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	indexKey := r.senderKey(from)
	hashes, err := r.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list messages for %s", from.Hex())
	}

	records, err := r.fetchRecords(ctx, hashes, func(stale string) {
		r.client.ZRem(ctx, indexKey, stale)
	})
	if err != nil {
		return nil, err
	}
	persistence.SortBySeqno(records)
	return records, nil
}

// ListMessagesByStatus returns the records with status ordered by submission time
func (r *RedisJournal) ListMessagesByStatus(status persistence.MessageStatus) ([]*persistence.MessageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	indexKey := r.statusKey(status)
	hashes, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list %s messages", status)
	}

	records, err := r.fetchRecords(ctx, hashes, func(stale string) {
		r.client.SRem(ctx, indexKey, stale)
	})
	if err != nil {
		return nil, err
	}
	persistence.SortBySubmission(records)
	return records, nil
}

// fetchRecords loads the records for hashes with MGET; index entries without a record
// are passed to dropStale.
func (r *RedisJournal) fetchRecords(ctx context.Context, hashes []string, dropStale func(string)) ([]*persistence.MessageRecord, error) {
	records := make([]*persistence.MessageRecord, 0, len(hashes))
	if len(hashes) == 0 {
		return records, nil
	}

	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = r.prefixKey(keyPrefixMessage + h)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to fetch MessageRecords")
	}

	for i, val := range values {
		if val == nil {
			dropStale(hashes[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for MessageRecord", "key", keys[i])
			continue
		}

		record, err := persistence.UnmarshalMessageRecord([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal MessageRecord, skipping",
				"key", keys[i], "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// DeleteMessage removes a record and its index entries
func (r *RedisJournal) DeleteMessage(hash types.Hash) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	return r.update(ctx, hash, func(tx *redis.Tx, previous *persistence.MessageRecord) error {
		if previous == nil {
			return nil
		}
		member := hash.Hex()
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, r.messageKey(hash))
			pipe.ZRem(ctx, r.senderKey(previous.From), member)
			pipe.SRem(ctx, r.statusKey(previous.Status), member)
			return nil
		})
		return err
	})
}

// Close shuts down the journal
func (r *RedisJournal) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis message journal closed")
	return nil
}

// HealthCheck verifies the journal is operational
func (r *RedisJournal) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	_, err := r.client.Get(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err == redis.Nil {
		return fmt.Errorf("schema version not found - database may not be properly initialized")
	}
	if err != nil {
		return fmt.Errorf("failed to verify schema version: %w", err)
	}
	return nil
}
