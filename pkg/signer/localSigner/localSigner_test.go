package localSigner

import (
	"math/big"
	"testing"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testPrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testPublicKey  = "0x038318535b54105d4a7aae60c08fc45f9687181b4fdfc625bd1a753fa7397fed75"
)

func newTestSigner(t *testing.T) *LocalSigner {
	t.Helper()
	codec, err := address.NewCodec(4)
	require.NoError(t, err)
	s, err := NewLocalSignerFromHex(testPrivateKey, codec, address.ZeroSalt, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestLocalSigner_PublicKey(t *testing.T) {
	s := newTestSigner(t)
	assert.Equal(t, testPublicKey, hexutil.Encode(s.PublicKey()))
	assert.Equal(t, signer.Kind_Local, s.Kind())

	// callers get a copy
	pub := s.PublicKey()
	pub[0] = 0xff
	assert.Equal(t, testPublicKey, hexutil.Encode(s.PublicKey()))
}

func TestLocalSigner_HexPrefixOptional(t *testing.T) {
	codec, err := address.NewCodec(4)
	require.NoError(t, err)
	s, err := NewLocalSignerFromHex(testPrivateKey[2:], codec, address.ZeroSalt, nil)
	require.NoError(t, err)
	assert.Equal(t, testPublicKey, hexutil.Encode(s.PublicKey()))
}

func TestLocalSigner_Address(t *testing.T) {
	s := newTestSigner(t)

	addr, err := s.Address(1)
	require.NoError(t, err)
	assert.Equal(t, "0x000152f4608179afe814d8192a5d05ceffd2c73e", addr.Hex())

	_, err = s.Address(4)
	_, ok := types.IsInvalidShardId(err)
	assert.True(t, ok)
}

func TestLocalSigner_Sign(t *testing.T) {
	s := newTestSigner(t)
	hash := crypto.Keccak256Hash([]byte("shardmsg"))

	sig, err := s.Sign(hash)
	require.NoError(t, err)
	assert.LessOrEqual(t, sig.V, byte(1))

	// RFC6979: same key and digest give the same signature
	again, err := s.Sign(hash)
	require.NoError(t, err)
	assert.Equal(t, sig, again)

	// low-S
	halfN := new(big.Int).Rsh(crypto.S256().Params().N, 1)
	assert.True(t, new(big.Int).SetBytes(sig.S[:]).Cmp(halfN) <= 0)

	recovered, err := signer.RecoverPublicKey(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), recovered)
	assert.True(t, signer.Verify(s.PublicKey(), hash, sig))

	other := crypto.Keccak256Hash([]byte("other"))
	assert.False(t, signer.Verify(s.PublicKey(), other, sig))
}

func TestLocalSigner_InvalidKeys(t *testing.T) {
	codec, err := address.NewCodec(4)
	require.NoError(t, err)

	tests := []struct {
		name string
		key  string
	}{
		{name: "not hex", key: "0xnothex"},
		{name: "too short", key: "0x1234"},
		{name: "zero scalar", key: "0x0000000000000000000000000000000000000000000000000000000000000000"},
		{name: "above curve order", key: "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLocalSignerFromHex(tt.key, codec, address.ZeroSalt, nil)
			assert.Error(t, err)
		})
	}

	_, err = NewLocalSigner(nil, codec, address.ZeroSalt, nil)
	assert.Error(t, err)
}
