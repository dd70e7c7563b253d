package localSigner

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// LocalSigner signs with a raw secp256k1 private key held in memory
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  []byte
	codec      *address.Codec
	salt       address.Salt
	logger     *zap.Logger
}

var _ signer.ISigner = (*LocalSigner)(nil)

func NewLocalSigner(
	privateKey *ecdsa.PrivateKey,
	codec *address.Codec,
	salt address.Salt,
	logger *zap.Logger,
) (*LocalSigner, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	if codec == nil {
		return nil, fmt.Errorf("address codec cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalSigner{
		privateKey: privateKey,
		publicKey:  crypto.CompressPubkey(&privateKey.PublicKey),
		codec:      codec,
		salt:       salt,
		logger:     logger,
	}, nil
}

// NewLocalSignerFromBytes loads a 32-byte private scalar
func NewLocalSignerFromBytes(privateKey []byte, codec *address.Codec, salt address.Salt, logger *zap.Logger) (*LocalSigner, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error loading private key: %w", err)
	}
	return NewLocalSigner(key, codec, salt, logger)
}

// NewLocalSignerFromHex loads a hex private key; the 0x prefix is optional
func NewLocalSignerFromHex(privateKey string, codec *address.Codec, salt address.Salt, logger *zap.Logger) (*LocalSigner, error) {
	if !strings.HasPrefix(privateKey, "0x") {
		privateKey = "0x" + privateKey
	}
	raw, err := hexutil.Decode(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error decoding private key hex")
	}
	return NewLocalSignerFromBytes(raw, codec, salt, logger)
}

func (ls *LocalSigner) Kind() signer.Kind {
	return signer.Kind_Local
}

func (ls *LocalSigner) Sign(hash types.Hash) (*types.Signature, error) {
	raw, err := crypto.Sign(hash[:], ls.privateKey)
	if err != nil {
		return nil, &types.SigningError{Err: err}
	}
	sig, err := types.SignatureFromBytes(raw)
	if err != nil {
		return nil, &types.SigningError{Err: err}
	}
	ls.logger.Sugar().Debugw("Signed digest", "hash", hash.Hex(), "publicKey", hexutil.Encode(ls.publicKey))
	return sig, nil
}

func (ls *LocalSigner) PublicKey() []byte {
	out := make([]byte, len(ls.publicKey))
	copy(out, ls.publicKey)
	return out
}

func (ls *LocalSigner) Address(shardId uint16) (types.Address, error) {
	return ls.codec.Derive(ls.publicKey, ls.salt, shardId)
}

func (ls *LocalSigner) Salt() address.Salt {
	return ls.salt
}
