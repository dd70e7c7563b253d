package mnemonicSigner

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"strings"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer/localSigner"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
	"go.uber.org/zap"
)

const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// MnemonicSigner derives its key from a BIP-39 phrase along a BIP-32 path and then signs
// exactly like a LocalSigner.
type MnemonicSigner struct {
	*localSigner.LocalSigner
	path string
}

var _ signer.ISigner = (*MnemonicSigner)(nil)

// NewMnemonicSigner derives the key at path (DefaultDerivationPath when empty).
// passphrase is the optional BIP-39 passphrase.
func NewMnemonicSigner(
	mnemonic string,
	passphrase string,
	path string,
	codec *address.Codec,
	salt address.Salt,
	logger *zap.Logger,
) (*MnemonicSigner, error) {
	if path == "" {
		path = DefaultDerivationPath
	}
	key, err := DerivePrivateKey(mnemonic, passphrase, path)
	if err != nil {
		return nil, err
	}
	ls, err := localSigner.NewLocalSigner(key, codec, salt, logger)
	if err != nil {
		return nil, err
	}
	return &MnemonicSigner{LocalSigner: ls, path: path}, nil
}

func (ms *MnemonicSigner) Kind() signer.Kind {
	return signer.Kind_Mnemonic
}

func (ms *MnemonicSigner) DerivationPath() string {
	return ms.path
}

// DerivePrivateKey turns a mnemonic into the secp256k1 key at the given BIP-32 path
func DerivePrivateKey(mnemonic, passphrase, path string) (*ecdsa.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	indexes, err := ParseDerivationPath(path)
	if err != nil {
		return nil, err
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to create seed: %w", err)
	}
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, idx := range indexes {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child key %d: %w", idx, err)
		}
	}

	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return crypto.ToECDSA(ecPriv.Serialize())
}

// ParseDerivationPath parses paths such as m/44'/60'/0'/0/0. Both ' and h mark hardened indexes.
func ParseDerivationPath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) < 2 || parts[0] != "m" {
		return nil, fmt.Errorf("invalid derivation path %q: must start with m/", path)
	}

	indexes := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation path %q: bad component %q", path, part)
		}
		if n >= 1<<31 {
			return nil, fmt.Errorf("invalid derivation path %q: component %d out of range", path, n)
		}
		idx := uint32(n)
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}
