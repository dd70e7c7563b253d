package client

import (
	"context"
	"fmt"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/config"
	"github.com/Layr-Labs/shardmsg-go/pkg/metrics"
	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/persistence/badger"
	"github.com/Layr-Labs/shardmsg-go/pkg/persistence/memory"
	"github.com/Layr-Labs/shardmsg-go/pkg/persistence/redis"
	journalsql "github.com/Layr-Labs/shardmsg-go/pkg/persistence/sql"
	"github.com/Layr-Labs/shardmsg-go/pkg/receipt"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer/localSigner"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer/mnemonicSigner"
	"github.com/Layr-Labs/shardmsg-go/pkg/transport"
	"go.uber.org/zap"
)

// Closer releases the resources opened by NewClientFromConfig
type Closer func() error

// NewClientFromConfig dials the node, loads the signer and opens the journal described by cfg.
// The returned Closer closes the journal and the node connection.
func NewClientFromConfig(ctx context.Context, cfg *config.ClientConfig, m *metrics.Metrics, logger *zap.Logger) (*Client, Closer, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid client config: %w", err)
	}

	codec, err := address.NewCodec(cfg.ShardCount)
	if err != nil {
		return nil, nil, err
	}

	s, err := NewSignerFromConfig(&cfg.Signer, codec, logger)
	if err != nil {
		return nil, nil, err
	}

	node, err := transport.NewRPCClient(ctx, &transport.RPCClientConfig{
		Url:               cfg.RpcUrl,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	journal, err := NewJournalFromConfig(&cfg.Journal, logger)
	if err != nil {
		node.Close()
		return nil, nil, err
	}

	c, err := NewClient(&ClientConfig{
		Node:    node,
		Signer:  s,
		Codec:   codec,
		ShardId: cfg.Signer.ShardId,
		Journal: journal,
		Metrics: m,
		Receipt: receipt.WaitOptions{
			MaxAttempts:   cfg.Receipt.MaxAttempts,
			Interval:      cfg.Receipt.Interval,
			UntilComplete: cfg.Receipt.UntilComplete,
		},
		Logger: logger,
	})
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		node.Close()
		return nil, nil, err
	}

	closer := func() error {
		defer node.Close()
		if journal != nil {
			return journal.Close()
		}
		return nil
	}
	return c, closer, nil
}

// NewSignerFromConfig builds a local signer from a private key or a mnemonic signer from a phrase
func NewSignerFromConfig(cfg *config.SignerConfig, codec *address.Codec, logger *zap.Logger) (signer.ISigner, error) {
	salt := address.ZeroSalt
	if cfg.Salt != "" {
		var err error
		salt, err = address.SaltFromHex(cfg.Salt)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.PrivateKey != "":
		s, err := localSigner.NewLocalSignerFromHex(cfg.PrivateKey, codec, salt, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create local signer: %w", err)
		}
		return s, nil
	case cfg.Mnemonic != "":
		s, err := mnemonicSigner.NewMnemonicSigner(cfg.Mnemonic, "", cfg.DerivationPath, codec, salt, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create mnemonic signer: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("either a private key or a mnemonic is required")
	}
}

// NewJournalFromConfig opens the journal backend selected by cfg.Type. JournalType_None yields nil.
func NewJournalFromConfig(cfg *config.JournalConfig, logger *zap.Logger) (persistence.IMessageJournal, error) {
	switch cfg.Type {
	case config.JournalType_None:
		return nil, nil
	case config.JournalType_Memory:
		return memory.NewMemoryJournal(logger), nil
	case config.JournalType_Badger:
		return badger.NewBadgerJournal(cfg.Path, logger)
	case config.JournalType_Redis:
		return redis.NewRedisJournal(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		}, logger)
	case config.JournalType_SQL:
		return journalsql.NewSQLJournal(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported journal type %q", cfg.Type)
	}
}
