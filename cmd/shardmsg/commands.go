package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/client"
	"github.com/Layr-Labs/shardmsg-go/pkg/config"
	"github.com/Layr-Labs/shardmsg-go/pkg/dispatcher"
	"github.com/Layr-Labs/shardmsg-go/pkg/logger"
	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/receipt"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer/localSigner"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// resolveConfig layers the optional config file, then flags and SHARDMSG_* variables, over the defaults
func resolveConfig(c *cli.Context) (*config.ClientConfig, error) {
	cfg := config.NewDefaultClientConfig()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadClientConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("rpc-url") {
		cfg.RpcUrl = c.String("rpc-url")
	}
	if c.IsSet("private-key") {
		cfg.Signer.PrivateKey = c.String("private-key")
	}
	if c.IsSet("mnemonic") {
		cfg.Signer.Mnemonic = c.String("mnemonic")
	}
	if c.IsSet("derivation-path") {
		cfg.Signer.DerivationPath = c.String("derivation-path")
	}
	if c.IsSet("salt") {
		cfg.Signer.Salt = c.String("salt")
	}
	if c.IsSet("shard-id") {
		shardId, err := uint16Flag(c, "shard-id")
		if err != nil {
			return nil, err
		}
		cfg.Signer.ShardId = shardId
	}
	if c.IsSet("shard-count") {
		shardCount, err := uint16Flag(c, "shard-count")
		if err != nil {
			return nil, err
		}
		cfg.ShardCount = shardCount
	}
	if c.IsSet("rps") {
		cfg.RequestsPerSecond = c.Float64("rps")
	}
	if c.IsSet("journal-type") {
		cfg.Journal.Type = config.JournalType(c.String("journal-type"))
	}
	if c.IsSet("journal-path") {
		cfg.Journal.Path = c.String("journal-path")
	}
	if c.IsSet("redis-address") {
		cfg.Journal.RedisAddress = c.String("redis-address")
	}
	if c.Bool("verbose") {
		cfg.Debug = true
	}
	return cfg, nil
}

func newLogger(cfg *config.ClientConfig) (*zap.Logger, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return l, nil
}

// createClient creates a client with its node connection and journal from CLI context
func createClient(c *cli.Context) (*client.Client, client.Closer, *config.ClientConfig, error) {
	cfg, err := resolveConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	l, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	cl, closer, err := client.NewClientFromConfig(c.Context, cfg, nil, l)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create client: %w", err)
	}
	return cl, closer, cfg, nil
}

// addressCommand handles the address subcommand. It needs no node connection.
func addressCommand(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	codec, err := address.NewCodec(cfg.ShardCount)
	if err != nil {
		return err
	}

	var publicKey []byte
	if pub := c.String("pubkey"); pub != "" {
		publicKey, err = hexutil.Decode(pub)
		if err != nil {
			return fmt.Errorf("failed to decode public key: %w", err)
		}
	} else {
		l, err := newLogger(cfg)
		if err != nil {
			return err
		}
		s, err := client.NewSignerFromConfig(&cfg.Signer, codec, l)
		if err != nil {
			return err
		}
		publicKey = s.PublicKey()
	}

	salt := address.ZeroSalt
	if cfg.Signer.Salt != "" {
		salt, err = address.SaltFromHex(cfg.Signer.Salt)
		if err != nil {
			return err
		}
	}

	shards := []uint16{cfg.Signer.ShardId}
	if shard := c.Int("shard"); shard >= 0 {
		if shard > math.MaxUint16 {
			return fmt.Errorf("--shard %d exceeds the maximum shard id %d", shard, math.MaxUint16)
		}
		shards = []uint16{uint16(shard)}
	}
	if c.Bool("all") {
		shards = allShards(cfg.ShardCount)
	}

	t := newTable(c.App.Writer)
	t.AppendHeader(table.Row{"Shard", "Address"})
	for _, shard := range shards {
		addr, err := codec.Derive(publicKey, salt, shard)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{shard, addr.Hex()})
	}
	t.Render()
	return nil
}

// chainIdCommand handles the chain-id subcommand
func chainIdCommand(c *cli.Context) error {
	cl, closer, _, err := createClient(c)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()

	chainId, err := cl.ChainId(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d (%s)\n", chainId, config.NetworkName(chainId))
	return nil
}

// sendCommand handles the send subcommand
func sendCommand(c *cli.Context) error {
	cl, closer, cfg, err := createClient(c)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()

	params, err := sendParamsFromFlags(c, cl.Codec())
	if err != nil {
		return err
	}

	if !c.Bool("wait") {
		result, err := cl.Send(c.Context, params)
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
		printResult(c.App.Writer, result)
		return nil
	}

	opts := waitOptionsFromConfig(cfg)
	opts.UntilComplete = opts.UntilComplete || c.Bool("until-complete")
	result, r, err := cl.SendAndWait(c.Context, params, opts)
	if result != nil {
		printResult(c.App.Writer, result)
	}
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	printReceipt(c.App.Writer, r)
	return nil
}

func sendParamsFromFlags(c *cli.Context, codec *address.Codec) (client.SendParams, error) {
	to, err := codec.ParseAddress(c.String("to"))
	if err != nil {
		return client.SendParams{}, fmt.Errorf("invalid destination: %w", err)
	}

	var payload []byte
	if p := c.String("payload"); p != "" {
		payload, err = hexutil.Decode(p)
		if err != nil {
			return client.SendParams{}, fmt.Errorf("failed to decode payload: %w", err)
		}
	}

	feeCredit, err := uint256.FromDecimal(c.String("fee-credit"))
	if err != nil {
		return client.SendParams{}, fmt.Errorf("invalid fee credit %q: %w", c.String("fee-credit"), err)
	}

	mode := dispatcher.ModeSync
	if c.Bool("async") {
		mode = dispatcher.ModeAsync
	}

	return client.SendParams{
		To:        to,
		Payload:   payload,
		FeeCredit: feeCredit,
		IsDeploy:  c.Bool("deploy"),
		Mode:      mode,
	}, nil
}

func waitOptionsFromConfig(cfg *config.ClientConfig) receipt.WaitOptions {
	return receipt.WaitOptions{
		MaxAttempts:   cfg.Receipt.MaxAttempts,
		Interval:      cfg.Receipt.Interval,
		UntilComplete: cfg.Receipt.UntilComplete,
	}
}

// receiptCommand handles the receipt subcommand
func receiptCommand(c *cli.Context) error {
	hash, err := parseHash(c.String("hash"))
	if err != nil {
		return err
	}

	cl, closer, cfg, err := createClient(c)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()

	opts := waitOptionsFromConfig(cfg)
	if c.IsSet("attempts") {
		opts.MaxAttempts = c.Int("attempts")
	}
	if c.IsSet("interval") {
		opts.Interval = c.Duration("interval")
	}
	opts.UntilComplete = opts.UntilComplete || c.Bool("until-complete")

	r, err := cl.WaitForReceipt(c.Context, hash, opts)
	if err != nil {
		return fmt.Errorf("failed to get receipt: %w", err)
	}
	printReceipt(c.App.Writer, r)
	return nil
}

func parseHash(s string) (types.Hash, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return types.EmptyHash, fmt.Errorf("invalid message hash: %w", err)
	}
	if len(raw) != len(types.EmptyHash) {
		return types.EmptyHash, fmt.Errorf("invalid message hash: expected %d bytes, got %d", len(types.EmptyHash), len(raw))
	}
	return types.Hash(raw), nil
}

// historyCommand handles the history subcommand
func historyCommand(c *cli.Context) error {
	cl, closer, _, err := createClient(c)
	if err != nil {
		return err
	}
	defer func() { _ = closer() }()

	var records []*persistence.MessageRecord
	if c.Bool("pending") {
		records, err = cl.Pending()
		if err != nil {
			return err
		}
	} else {
		from, err := cl.DefaultAddress()
		if err != nil {
			return err
		}
		if s := c.String("address"); s != "" {
			from, err = cl.Codec().ParseAddress(s)
			if err != nil {
				return err
			}
		}
		records, err = cl.History(from)
		if err != nil {
			return err
		}
	}

	printHistory(c.App.Writer, records)
	return nil
}

// keygenCommand handles the keygen subcommand
func keygenCommand(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}
	codec, err := address.NewCodec(cfg.ShardCount)
	if err != nil {
		return err
	}
	salt := address.ZeroSalt
	if cfg.Signer.Salt != "" {
		salt, err = address.SaltFromHex(cfg.Signer.Salt)
		if err != nil {
			return err
		}
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	s, err := localSigner.NewLocalSigner(key, codec, salt, zap.NewNop())
	if err != nil {
		return err
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Private key: %s\n", hexutil.Encode(crypto.FromECDSA(key)))
	fmt.Fprintf(out, "Public key:  %s\n", hexutil.Encode(s.PublicKey()))
	fmt.Fprintf(out, "Salt:        %s\n", salt.Hex())

	t := newTable(out)
	t.AppendHeader(table.Row{"Shard", "Address"})
	for _, shard := range allShards(cfg.ShardCount) {
		addr, err := s.Address(shard)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{shard, addr.Hex()})
	}
	t.Render()
	return nil
}

// uint16Flag reads an unsigned flag that has to fit a shard id or shard count
func uint16Flag(c *cli.Context, name string) (uint16, error) {
	v := c.Uint(name)
	if v > math.MaxUint16 {
		return 0, fmt.Errorf("--%s %d exceeds the maximum of %d", name, v, math.MaxUint16)
	}
	return uint16(v), nil
}

func allShards(count uint16) []uint16 {
	shards := make([]uint16, 0, count)
	for shard := uint16(0); shard < count; shard++ {
		shards = append(shards, shard)
	}
	return shards
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	return t
}

func printResult(out io.Writer, result *dispatcher.Result) {
	t := newTable(out)
	t.AppendRows([]table.Row{
		{"Hash", result.Hash.Hex()},
		{"From", result.From.Hex()},
		{"To", result.To.Hex()},
		{"Chain", result.ChainId},
		{"Seqno", result.Seqno},
		{"Mode", result.Mode},
		{"Attempts", result.Attempts},
	})
	t.Render()
}

// printReceipt renders the receipt tree one row per receipt, indented by depth
func printReceipt(out io.Writer, r *types.Receipt) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Receipt", "Success", "Status", "Block", "Gas Used", "Error"})
	var walk func(r *types.Receipt, depth int)
	walk = func(r *types.Receipt, depth int) {
		label := strings.Repeat("  ", depth) + "└ out"
		if depth == 0 {
			label = "message"
		}
		if r == nil {
			t.AppendRow(table.Row{label, "", "pending", "", "", ""})
			return
		}
		t.AppendRow(table.Row{label, r.Success, r.Status, r.BlockRef, r.GasUsed, r.ErrorMessage})
		for _, child := range r.OutReceipts {
			walk(child, depth+1)
		}
	}
	walk(r, 0)
	t.Render()
}

func printHistory(out io.Writer, records []*persistence.MessageRecord) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Seqno", "Hash", "To", "Mode", "Status", "Submitted"})
	for _, r := range records {
		submitted := time.UnixMilli(r.SubmittedAt).UTC().Format(time.RFC3339)
		t.AppendRow(table.Row{r.Seqno, r.Hash.Hex(), r.To.Hex(), r.Mode, r.Status, submitted})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(records)})
	t.Render()
}
