package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Environment variable names for the shardmsg CLI
const (
	EnvRPCURL         = "SHARDMSG_RPC_URL"
	EnvPrivateKey     = "SHARDMSG_PRIVATE_KEY"
	EnvMnemonic       = "SHARDMSG_MNEMONIC"
	EnvDerivationPath = "SHARDMSG_DERIVATION_PATH"
	EnvSalt           = "SHARDMSG_SALT"
	EnvShardId        = "SHARDMSG_SHARD_ID"
	EnvShardCount     = "SHARDMSG_SHARD_COUNT"
	EnvRPS            = "SHARDMSG_RPS"
	EnvJournalType    = "SHARDMSG_JOURNAL_TYPE"
	EnvJournalPath    = "SHARDMSG_JOURNAL_PATH"
	EnvRedisAddress   = "SHARDMSG_REDIS_ADDRESS"
	EnvVerbose        = "SHARDMSG_VERBOSE"
	EnvConfigFile     = "SHARDMSG_CONFIG"
)

type ChainId uint32

const (
	ChainId_Mainnet ChainId = 1
	ChainId_Testnet ChainId = 11
	ChainId_Devnet  ChainId = 31337
)

type ChainName string

const (
	ChainName_Mainnet ChainName = "mainnet"
	ChainName_Testnet ChainName = "testnet"
	ChainName_Devnet  ChainName = "devnet"
)

var ChainIdToName = map[ChainId]ChainName{
	ChainId_Mainnet: ChainName_Mainnet,
	ChainId_Testnet: ChainName_Testnet,
	ChainId_Devnet:  ChainName_Devnet,
}
var ChainNameToId = map[ChainName]ChainId{
	ChainName_Mainnet: ChainId_Mainnet,
	ChainName_Testnet: ChainId_Testnet,
	ChainName_Devnet:  ChainId_Devnet,
}

// NetworkName returns the well-known name for chainId, or "unknown"
func NetworkName(chainId uint32) ChainName {
	if name, ok := ChainIdToName[ChainId(chainId)]; ok {
		return name
	}
	return "unknown"
}

const (
	DefaultShardCount        uint16  = 4
	DefaultRequestsPerSecond float64 = 20
	DefaultBurst                     = 5
	DefaultReceiptAttempts           = 10
	DefaultReceiptInterval           = time.Second
	DefaultDerivationPath            = "m/44'/60'/0'/0/0"
	DefaultRPCURL                    = "http://localhost:8529"
)

type JournalType string

const (
	JournalType_None   JournalType = ""
	JournalType_Memory JournalType = "memory"
	JournalType_Badger JournalType = "badger"
	JournalType_Redis  JournalType = "redis"
	JournalType_SQL    JournalType = "sql"
)

// SignerConfig selects exactly one key source.
type SignerConfig struct {
	PrivateKey     string `json:"privateKey" yaml:"privateKey"`
	Mnemonic       string `json:"mnemonic" yaml:"mnemonic"`
	DerivationPath string `json:"derivationPath" yaml:"derivationPath"`
	// Salt is a hex value of up to 32 bytes; empty means zero
	Salt    string `json:"salt" yaml:"salt"`
	ShardId uint16 `json:"shardId" yaml:"shardId"`
}

func (sc *SignerConfig) Validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch {
	case sc.PrivateKey == "" && sc.Mnemonic == "":
		allErrors = append(allErrors, field.Required(path.Child("privateKey"), "one of privateKey or mnemonic is required"))
	case sc.PrivateKey != "" && sc.Mnemonic != "":
		allErrors = append(allErrors, field.Forbidden(path.Child("mnemonic"), "privateKey and mnemonic are mutually exclusive"))
	}

	if sc.PrivateKey != "" {
		key := sc.PrivateKey
		if !strings.HasPrefix(key, "0x") {
			key = "0x" + key
		}
		if len(key) != 66 { // 0x + 64 hex chars
			allErrors = append(allErrors, field.Invalid(path.Child("privateKey"), "<redacted>",
				fmt.Sprintf("private key must be 32 bytes (64 hex chars), got %d chars", len(key)-2)))
		} else if _, err := hexutil.Decode(key); err != nil {
			allErrors = append(allErrors, field.Invalid(path.Child("privateKey"), "<redacted>", "private key must be hex"))
		}
	}

	if sc.Mnemonic != "" && sc.DerivationPath != "" && !strings.HasPrefix(sc.DerivationPath, "m/") {
		allErrors = append(allErrors, field.Invalid(path.Child("derivationPath"), sc.DerivationPath, "derivation path must start with m/"))
	}

	if sc.Salt != "" {
		raw, err := hexutil.Decode(sc.Salt)
		if err != nil {
			allErrors = append(allErrors, field.Invalid(path.Child("salt"), sc.Salt, "salt must be 0x-prefixed hex"))
		} else if len(raw) > 32 {
			allErrors = append(allErrors, field.TooLong(path.Child("salt"), sc.Salt, 32))
		}
	}
	return allErrors
}

type JournalConfig struct {
	Type          JournalType `json:"type" yaml:"type"`
	Path          string      `json:"path" yaml:"path"`
	RedisAddress  string      `json:"redisAddress" yaml:"redisAddress"`
	RedisPassword string      `json:"redisPassword" yaml:"redisPassword"`
	RedisDB       int         `json:"redisDb" yaml:"redisDb"`
	KeyPrefix     string      `json:"keyPrefix" yaml:"keyPrefix"`
}

func (jc *JournalConfig) Validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch jc.Type {
	case JournalType_None, JournalType_Memory:
	case JournalType_Badger, JournalType_SQL:
		if jc.Path == "" {
			allErrors = append(allErrors, field.Required(path.Child("path"), fmt.Sprintf("path is required for %s journal", jc.Type)))
		}
	case JournalType_Redis:
		if jc.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "redisAddress is required for redis journal"))
		}
		if jc.RedisDB < 0 || jc.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redisDb"), jc.RedisDB, "must be between 0 and 15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), jc.Type,
			[]string{string(JournalType_Memory), string(JournalType_Badger), string(JournalType_Redis), string(JournalType_SQL)}))
	}
	return allErrors
}

type ReceiptConfig struct {
	MaxAttempts   int           `json:"maxAttempts" yaml:"maxAttempts"`
	Interval      time.Duration `json:"interval" yaml:"interval"`
	UntilComplete bool          `json:"untilComplete" yaml:"untilComplete"`
}

func (rc *ReceiptConfig) Validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	if rc.MaxAttempts < 1 {
		allErrors = append(allErrors, field.Invalid(path.Child("maxAttempts"), rc.MaxAttempts, "must be at least 1"))
	}
	if rc.Interval < 0 {
		allErrors = append(allErrors, field.Invalid(path.Child("interval"), rc.Interval.String(), "must not be negative"))
	}
	return allErrors
}

// ClientConfig is the complete configuration of a shardmsg client
type ClientConfig struct {
	RpcUrl            string        `json:"rpcUrl" yaml:"rpcUrl"`
	ShardCount        uint16        `json:"shardCount" yaml:"shardCount"`
	RequestsPerSecond float64       `json:"requestsPerSecond" yaml:"requestsPerSecond"`
	Burst             int           `json:"burst" yaml:"burst"`
	Signer            SignerConfig  `json:"signer" yaml:"signer"`
	Journal           JournalConfig `json:"journal" yaml:"journal"`
	Receipt           ReceiptConfig `json:"receipt" yaml:"receipt"`
	Debug             bool          `json:"debug" yaml:"debug"`
}

// NewDefaultClientConfig returns a config with every optional value populated
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RpcUrl:            DefaultRPCURL,
		ShardCount:        DefaultShardCount,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		Signer: SignerConfig{
			DerivationPath: DefaultDerivationPath,
			ShardId:        1,
		},
		Receipt: ReceiptConfig{
			MaxAttempts: DefaultReceiptAttempts,
			Interval:    DefaultReceiptInterval,
		},
	}
}

// Validate validates the client configuration
func (c *ClientConfig) Validate() error {
	var allErrors field.ErrorList
	if c.RpcUrl == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("rpcUrl"), "rpcUrl is required"))
	}
	if c.ShardCount == 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("shardCount"), c.ShardCount, "must be greater than zero"))
	} else if c.Signer.ShardId >= c.ShardCount {
		allErrors = append(allErrors, field.Invalid(field.NewPath("signer", "shardId"), c.Signer.ShardId,
			fmt.Sprintf("must be less than shardCount %d", c.ShardCount)))
	}
	if c.RequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestsPerSecond"), c.RequestsPerSecond, "must not be negative"))
	}
	if c.Burst < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("burst"), c.Burst, "must not be negative"))
	}
	allErrors = append(allErrors, c.Signer.Validate(field.NewPath("signer"))...)
	allErrors = append(allErrors, c.Journal.Validate(field.NewPath("journal"))...)
	allErrors = append(allErrors, c.Receipt.Validate(field.NewPath("receipt"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// LoadClientConfigFile reads a YAML (or JSON) config file on top of the defaults
func LoadClientConfigFile(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseClientConfig(data)
}

// ParseClientConfig decodes YAML bytes on top of NewDefaultClientConfig
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	cfg := NewDefaultClientConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return cfg, nil
}
