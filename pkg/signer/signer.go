package signer

import (
	"bytes"
	"fmt"

	"github.com/Layr-Labs/shardmsg-go/pkg/message"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type Kind string

const (
	Kind_Local    Kind = "local"
	Kind_Mnemonic Kind = "mnemonic"
)

func (k Kind) String() string {
	return string(k)
}

// ISigner owns exactly one secp256k1 key pair and produces recoverable signatures with it.
// Implementations never expose the private key.
type ISigner interface {
	Kind() Kind

	// Sign signs a 32-byte digest. The result is deterministic (RFC6979) and low-S, with V in {0,1}.
	Sign(hash types.Hash) (*types.Signature, error)

	// PublicKey returns the 33-byte compressed public key
	PublicKey() []byte

	// Address derives the account address of this key on the given shard using the signer's salt
	Address(shardId uint16) (types.Address, error)
}

// RecoverPublicKey returns the compressed public key that produced sig over hash
func RecoverPublicKey(hash types.Hash, sig *types.Signature) ([]byte, error) {
	if sig == nil {
		return nil, fmt.Errorf("signature is nil")
	}
	pub, err := crypto.SigToPub(hash[:], sig.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.CompressPubkey(pub), nil
}

// Verify reports whether sig is a valid signature of hash by publicKey (compressed form).
// High-S signatures are rejected.
func Verify(publicKey []byte, hash types.Hash, sig *types.Signature) bool {
	if sig == nil {
		return false
	}
	raw := sig.Bytes()
	if !crypto.VerifySignature(publicKey, hash[:], raw[:64]) {
		return false
	}
	recovered, err := RecoverPublicKey(hash, sig)
	if err != nil {
		return false
	}
	return bytes.Equal(recovered, publicKey)
}

// SignEnvelope signs the signing hash of env and returns a copy with AuthData set to the
// 65-byte signature. The input envelope is not modified.
func SignEnvelope(s ISigner, env *types.MessageEnvelope) (*types.MessageEnvelope, error) {
	hash, err := message.SigningHash(env)
	if err != nil {
		return nil, err
	}
	sig, err := s.Sign(hash)
	if err != nil {
		return nil, err
	}
	signed := env.Copy()
	signed.AuthData = sig.Bytes()
	return signed, nil
}

// RecoverEnvelopeSigner returns the compressed public key that signed env
func RecoverEnvelopeSigner(env *types.MessageEnvelope) ([]byte, error) {
	sig, err := types.SignatureFromBytes(env.AuthData)
	if err != nil {
		return nil, err
	}
	hash, err := message.SigningHash(env)
	if err != nil {
		return nil, err
	}
	return RecoverPublicKey(hash, sig)
}
