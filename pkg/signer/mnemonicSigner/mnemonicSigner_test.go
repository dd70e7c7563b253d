package mnemonicSigner

import (
	"testing"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testMnemonic = "test test test test test test test test test test test junk"

func TestDerivePrivateKey_KnownAccounts(t *testing.T) {
	tests := []struct {
		path       string
		privateKey string
		publicKey  string
	}{
		{
			path:       "m/44'/60'/0'/0/0",
			privateKey: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
			publicKey:  "0x038318535b54105d4a7aae60c08fc45f9687181b4fdfc625bd1a753fa7397fed75",
		},
		{
			path:       "m/44'/60'/0'/0/1",
			privateKey: "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
			publicKey:  "0x02ba5734d8f7091719471e7f7ed6b9df170dc70cc661ca05e688601ad984f068b0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			key, err := DerivePrivateKey(testMnemonic, "", tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.privateKey, hexutil.Encode(crypto.FromECDSA(key)))
			assert.Equal(t, tt.publicKey, hexutil.Encode(crypto.CompressPubkey(&key.PublicKey)))
		})
	}
}

func TestNewMnemonicSigner(t *testing.T) {
	codec, err := address.NewCodec(4)
	require.NoError(t, err)

	s, err := NewMnemonicSigner("  "+testMnemonic+"\n", "", "", codec, address.ZeroSalt, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, signer.Kind_Mnemonic, s.Kind())
	assert.Equal(t, DefaultDerivationPath, s.DerivationPath())
	assert.Equal(t, "0x038318535b54105d4a7aae60c08fc45f9687181b4fdfc625bd1a753fa7397fed75", hexutil.Encode(s.PublicKey()))

	addr, err := s.Address(1)
	require.NoError(t, err)
	assert.Equal(t, "0x000152f4608179afe814d8192a5d05ceffd2c73e", addr.Hex())

	hash := crypto.Keccak256Hash([]byte("hello"))
	sig, err := s.Sign(hash)
	require.NoError(t, err)
	assert.True(t, signer.Verify(s.PublicKey(), hash, sig))
}

func TestNewMnemonicSigner_Passphrase(t *testing.T) {
	plain, err := DerivePrivateKey(testMnemonic, "", DefaultDerivationPath)
	require.NoError(t, err)
	salted, err := DerivePrivateKey(testMnemonic, "extra", DefaultDerivationPath)
	require.NoError(t, err)
	assert.NotEqual(t, crypto.FromECDSA(plain), crypto.FromECDSA(salted))
}

func TestDerivePrivateKey_InvalidMnemonic(t *testing.T) {
	_, err := DerivePrivateKey("test test test test test test test test test test test zzzz", "", DefaultDerivationPath)
	assert.Error(t, err)

	_, err = DerivePrivateKey("not a mnemonic", "", DefaultDerivationPath)
	assert.Error(t, err)
}

func TestParseDerivationPath(t *testing.T) {
	h := uint32(hdkeychain.HardenedKeyStart)

	tests := []struct {
		path    string
		want    []uint32
		wantErr bool
	}{
		{path: "m/44'/60'/0'/0/0", want: []uint32{44 + h, 60 + h, h, 0, 0}},
		{path: "m/44h/60h/1h/0/7", want: []uint32{44 + h, 60 + h, 1 + h, 0, 7}},
		{path: "m/0", want: []uint32{0}},
		{path: "m", wantErr: true},
		{path: "44'/60'", wantErr: true},
		{path: "m/x", wantErr: true},
		{path: "m/-1", wantErr: true},
		{path: "m/2147483648", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParseDerivationPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
