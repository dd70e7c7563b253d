package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newApp(&out).Run(append([]string{"shardmsg"}, args...))
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	out, err := run(t, "--shard-count", "3", "keygen")
	require.NoError(t, err)

	assert.Contains(t, out, "Private key: 0x")
	assert.Contains(t, out, "Public key:  0x")
	// one row per shard, each address carrying its shard prefix
	addresses := regexp.MustCompile(`\b0x000[0-9a-f]{37}\b`).FindAllString(out, -1)
	require.Len(t, addresses, 3)
	for i, addr := range addresses {
		assert.True(t, strings.HasPrefix(addr, fmt.Sprintf("0x%04x", i)), addr)
	}
}

func TestAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	privateKey := hexutil.Encode(crypto.FromECDSA(key))
	publicKey := crypto.CompressPubkey(&key.PublicKey)

	codec, err := address.NewCodec(4)
	require.NoError(t, err)
	expected, err := codec.Derive(publicKey, address.ZeroSalt, 2)
	require.NoError(t, err)

	t.Run("Signer", func(t *testing.T) {
		out, err := run(t, "--private-key", privateKey, "address", "--shard", "2")
		require.NoError(t, err)
		assert.Contains(t, out, expected.Hex())
	})

	t.Run("PublicKey", func(t *testing.T) {
		out, err := run(t, "address", "--pubkey", hexutil.Encode(publicKey), "--shard", "2")
		require.NoError(t, err)
		assert.Contains(t, out, expected.Hex())
	})

	t.Run("All", func(t *testing.T) {
		out, err := run(t, "--private-key", privateKey, "address", "--all")
		require.NoError(t, err)
		assert.Contains(t, out, expected.Hex())
		assert.Equal(t, 4, strings.Count(out, "0x"))
	})

	t.Run("Salt", func(t *testing.T) {
		salted, err := codec.Derive(publicKey, address.SaltFromUint64(5), 2)
		require.NoError(t, err)
		out, err := run(t, "--salt", "0x05", "address", "--pubkey", hexutil.Encode(publicKey), "--shard", "2")
		require.NoError(t, err)
		assert.Contains(t, out, salted.Hex())
	})

	t.Run("ShardOutOfRange", func(t *testing.T) {
		_, err := run(t, "--private-key", privateKey, "address", "--shard", "9")
		assert.Error(t, err)
	})

	t.Run("NoKey", func(t *testing.T) {
		_, err := run(t, "address")
		assert.Error(t, err)
	})
}

func TestGlobalFlags(t *testing.T) {
	t.Run("Verbose", func(t *testing.T) {
		out, err := run(t, "--verbose", "--shard-count", "2", "keygen")
		require.NoError(t, err)
		assert.Contains(t, out, "Private key: 0x")
	})

	t.Run("Version", func(t *testing.T) {
		out, err := run(t, "-v")
		require.NoError(t, err)
		assert.Contains(t, out, "0.1.0")
	})
}

func TestShardFlagRange(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	privateKey := hexutil.Encode(crypto.FromECDSA(key))

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"shard id in range", []string{"--shard-id", "3", "address"}, false},
		{"shard id wraps to a valid shard", []string{"--shard-id", "65537", "address"}, true},
		{"shard id at max is outside shard count", []string{"--shard-id", "65535", "address"}, true},
		{"shard count wraps to a valid count", []string{"--shard-count", "65540", "address"}, true},
		{"shard count at max", []string{"--shard-count", "65535", "--shard-id", "65534", "address"}, false},
		{"address shard wraps to a valid shard", []string{"address", "--shard", "65537"}, true},
		{"address shard in range", []string{"address", "--shard", "2"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"--private-key", privateKey}, tt.args...)...)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHistory_EmptyJournal(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	journalPath := filepath.Join(t.TempDir(), "journal.db")

	// the http transport dials lazily, so listing history needs no running node
	out, err := run(t,
		"--private-key", hexutil.Encode(crypto.FromECDSA(key)),
		"--journal-type", "sql",
		"--journal-path", journalPath,
		"history",
	)
	require.NoError(t, err)
	assert.Contains(t, strings.ToUpper(out), "TOTAL")
	_, err = os.Stat(journalPath)
	assert.NoError(t, err)
}

func TestHistory_NoJournal(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = run(t, "--private-key", hexutil.Encode(crypto.FromECDSA(key)), "history")
	assert.Error(t, err)
}

func TestParseHash(t *testing.T) {
	h := crypto.Keccak256Hash([]byte("message"))
	parsed, err := parseHash(h.Hex())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = parseHash("0x1234")
	assert.Error(t, err)
	_, err = parseHash("not hex")
	assert.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	publicKey := crypto.CompressPubkey(&key.PublicKey)

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := "shardCount: 8\nsigner:\n  privateKey: \"" + hexutil.Encode(crypto.FromECDSA(key)) + "\"\n  shardId: 6\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))

	codec, err := address.NewCodec(8)
	require.NoError(t, err)
	expected, err := codec.Derive(publicKey, address.ZeroSalt, 6)
	require.NoError(t, err)

	out, err := run(t, "--config", path, "address")
	require.NoError(t, err)
	assert.Contains(t, out, expected.Hex())
}
