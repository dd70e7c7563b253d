package signer_test

import (
	"testing"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/message"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer/localSigner"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigner(t *testing.T) signer.ISigner {
	t.Helper()
	codec, err := address.NewCodec(4)
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := localSigner.NewLocalSigner(key, codec, address.SaltFromUint64(7), nil)
	require.NoError(t, err)
	return s
}

func testEnvelope(t *testing.T) *types.MessageEnvelope {
	to, err := types.HexToAddress("0x00014d32484975431eceb6835f81458e086cbe5f")
	require.NoError(t, err)
	return &types.MessageEnvelope{
		To:        to,
		ChainId:   1,
		Seqno:     3,
		Payload:   []byte{0x01, 0x02},
		FeeCredit: *uint256.NewInt(100000),
	}
}

func TestSignEnvelope(t *testing.T) {
	s := newSigner(t)
	env := testEnvelope(t)

	signed, err := signer.SignEnvelope(s, env)
	require.NoError(t, err)

	assert.False(t, env.IsSigned(), "input envelope must not be modified")
	assert.Len(t, signed.AuthData, types.SignatureLength)
	assert.True(t, env.Equal(signed.WithoutAuthData()))

	pub, err := signer.RecoverEnvelopeSigner(signed)
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), pub)

	signingHash, err := message.SigningHash(signed)
	require.NoError(t, err)
	sig, err := types.SignatureFromBytes(signed.AuthData)
	require.NoError(t, err)
	assert.True(t, signer.Verify(s.PublicKey(), signingHash, sig))

	msgHash, err := message.MessageHash(signed)
	require.NoError(t, err)
	assert.NotEqual(t, signingHash, msgHash)
}

func TestRecoverEnvelopeSigner_TamperedEnvelope(t *testing.T) {
	s := newSigner(t)
	signed, err := signer.SignEnvelope(s, testEnvelope(t))
	require.NoError(t, err)

	signed.Seqno++
	pub, err := signer.RecoverEnvelopeSigner(signed)
	if err == nil {
		assert.NotEqual(t, s.PublicKey(), pub)
	}
}

func TestRecoverEnvelopeSigner_Unsigned(t *testing.T) {
	_, err := signer.RecoverEnvelopeSigner(testEnvelope(t))
	_, ok := types.IsSerialization(err)
	assert.True(t, ok)
}

func TestVerify_RejectsWrongKeyAndNil(t *testing.T) {
	a := newSigner(t)
	b := newSigner(t)
	hash := crypto.Keccak256Hash([]byte("payload"))

	sig, err := a.Sign(hash)
	require.NoError(t, err)

	assert.True(t, signer.Verify(a.PublicKey(), hash, sig))
	assert.False(t, signer.Verify(b.PublicKey(), hash, sig))
	assert.False(t, signer.Verify(a.PublicKey(), hash, nil))
}
