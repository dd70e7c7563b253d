package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Layr-Labs/shardmsg-go/pkg/config"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	loadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadDotEnv loads SHARDMSG_* variables from .env (or SHARDMSG_ENV_FILE) before flags are parsed
func loadDotEnv() {
	path := os.Getenv("SHARDMSG_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("failed to load %s: %v", path, err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "shardmsg",
		Usage: "Build, sign and send messages to a sharded chain",
		Description: `A client for a sharded account-based chain.

This client can:
- Derive account addresses for any shard
- Build, sign and submit messages with automatic seqno management
- Wait for receipts, including outgoing cross-shard messages
- Keep a local journal of sent messages`,
		Version: "0.1.0",
		Writer:  out,
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			{
				Name:  "address",
				Usage: "Derive the signer's address, or the address of any public key",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "shard",
						Usage: "Shard to derive for (default: the configured shard)",
						Value: -1,
					},
					&cli.StringFlag{
						Name:  "pubkey",
						Usage: "Compressed public key (hex) to derive for instead of the signer's",
					},
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Print the address on every shard",
					},
				},
				Action: addressCommand,
			},
			{
				Name:   "chain-id",
				Usage:  "Print the chain id reported by the node",
				Action: chainIdCommand,
			},
			{
				Name:  "send",
				Usage: "Build, sign and submit a message",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "to",
						Usage:    "Destination address",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "payload",
						Usage: "Payload as 0x-prefixed hex",
					},
					&cli.StringFlag{
						Name:  "fee-credit",
						Usage: "Fee credit as a decimal integer",
						Value: "0",
					},
					&cli.BoolFlag{
						Name:  "async",
						Usage: "Send asynchronously, allowing a destination on another shard",
					},
					&cli.BoolFlag{
						Name:  "deploy",
						Usage: "Mark the message as a deployment",
					},
					&cli.BoolFlag{
						Name:  "wait",
						Usage: "Wait for the receipt after sending",
					},
					&cli.BoolFlag{
						Name:  "until-complete",
						Usage: "With --wait, also wait for outgoing cross-shard receipts",
					},
				},
				Action: sendCommand,
			},
			{
				Name:  "receipt",
				Usage: "Wait for the receipt of a message",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "hash",
						Usage:    "Message hash",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "attempts",
						Usage: "Number of lookups before giving up (default: from config)",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Pause between lookups (default: from config)",
					},
					&cli.BoolFlag{
						Name:  "until-complete",
						Usage: "Also wait for outgoing cross-shard receipts",
					},
				},
				Action: receiptCommand,
			},
			{
				Name:  "history",
				Usage: "List journaled messages of an address",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "address",
						Usage: "Sender address (default: the signer's address)",
					},
					&cli.BoolFlag{
						Name:  "pending",
						Usage: "List every message still waiting for a receipt instead",
					},
				},
				Action: historyCommand,
			},
			{
				Name:   "keygen",
				Usage:  "Generate a new private key and print its addresses",
				Action: keygenCommand,
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Path to a YAML config file",
			EnvVars: []string{config.EnvConfigFile},
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Usage:   "Node JSON-RPC URL",
			Value:   config.DefaultRPCURL,
			EnvVars: []string{config.EnvRPCURL},
		},
		&cli.StringFlag{
			Name:    "private-key",
			Usage:   "Hex private key of the sender",
			EnvVars: []string{config.EnvPrivateKey},
		},
		&cli.StringFlag{
			Name:    "mnemonic",
			Usage:   "BIP-39 mnemonic of the sender",
			EnvVars: []string{config.EnvMnemonic},
		},
		&cli.StringFlag{
			Name:    "derivation-path",
			Usage:   "BIP-32 derivation path used with --mnemonic",
			Value:   config.DefaultDerivationPath,
			EnvVars: []string{config.EnvDerivationPath},
		},
		&cli.StringFlag{
			Name:    "salt",
			Usage:   "Address salt (hex, up to 32 bytes)",
			EnvVars: []string{config.EnvSalt},
		},
		&cli.UintFlag{
			Name:    "shard-id",
			Usage:   "Sender shard",
			Value:   1,
			EnvVars: []string{config.EnvShardId},
		},
		&cli.UintFlag{
			Name:    "shard-count",
			Usage:   "Number of shards in the network",
			Value:   uint(config.DefaultShardCount),
			EnvVars: []string{config.EnvShardCount},
		},
		&cli.Float64Flag{
			Name:    "rps",
			Usage:   "Maximum node requests per second (0 disables limiting)",
			Value:   config.DefaultRequestsPerSecond,
			EnvVars: []string{config.EnvRPS},
		},
		&cli.StringFlag{
			Name:    "journal-type",
			Usage:   "Message journal: memory, badger, redis or sql (empty disables)",
			EnvVars: []string{config.EnvJournalType},
		},
		&cli.StringFlag{
			Name:    "journal-path",
			Usage:   "Directory (badger) or database file (sql) of the journal",
			EnvVars: []string{config.EnvJournalPath},
		},
		&cli.StringFlag{
			Name:    "redis-address",
			Usage:   "Redis host:port for the redis journal",
			EnvVars: []string{config.EnvRedisAddress},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "Enable debug logging",
			EnvVars: []string{config.EnvVerbose},
		},
	}
}
