// Package address derives deterministic account addresses that embed a shard id.
//
// An address is laid out as shardId (2 bytes, big-endian) followed by the 18 low-order
// bytes of keccak256(publicKey(33) || salt(32) || shardId(2)). Extracting the shard is a
// pure function of the address bytes.
package address

import (
	"encoding/binary"
	"fmt"

	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	// CompressedPublicKeyLength is the size of a compressed secp256k1 public key
	CompressedPublicKeyLength = 33
	// SaltLength is the fixed width of the salt in the derivation preimage
	SaltLength = 32
	// DiscriminatorLength is the number of digest bytes kept in the address
	DiscriminatorLength = types.AddressLength - types.ShardIdLength

	preimageLength = CompressedPublicKeyLength + SaltLength + types.ShardIdLength
)

// Salt is a 32-byte big-endian value mixed into the address derivation
type Salt [SaltLength]byte

// ZeroSalt is the default salt
var ZeroSalt = Salt{}

func SaltFromUint64(v uint64) Salt {
	var s Salt
	binary.BigEndian.PutUint64(s[SaltLength-8:], v)
	return s
}

func SaltFromUint256(v *uint256.Int) Salt {
	return Salt(v.Bytes32())
}

// SaltFromBytes left-pads b to 32 bytes
func SaltFromBytes(b []byte) (Salt, error) {
	var s Salt
	if len(b) > SaltLength {
		return s, fmt.Errorf("salt must be at most %d bytes, got %d", SaltLength, len(b))
	}
	copy(s[SaltLength-len(b):], b)
	return s, nil
}

// SaltFromHex parses a hex salt of up to 32 bytes
func SaltFromHex(s string) (Salt, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return ZeroSalt, fmt.Errorf("invalid salt hex: %w", err)
	}
	return SaltFromBytes(raw)
}

func (s Salt) Hex() string {
	return hexutil.Encode(s[:])
}

// Codec derives and inspects addresses for a network with a fixed number of shards
type Codec struct {
	shardCount uint16
}

// NewCodec creates a codec for shard ids in [0, shardCount)
func NewCodec(shardCount uint16) (*Codec, error) {
	if shardCount == 0 {
		return nil, fmt.Errorf("shard count must be greater than zero")
	}
	return &Codec{shardCount: shardCount}, nil
}

func (c *Codec) ShardCount() uint16 {
	return c.shardCount
}

// ValidateShard returns an InvalidShardIdError if shardId is outside the configured range
func (c *Codec) ValidateShard(shardId uint16) error {
	if shardId >= c.shardCount {
		return &types.InvalidShardIdError{
			ShardId: shardId,
			Reason:  fmt.Sprintf("must be less than shard count %d", c.shardCount),
		}
	}
	return nil
}

// Derive computes the address for (publicKey, salt, shardId)
func (c *Codec) Derive(publicKey []byte, salt Salt, shardId uint16) (types.Address, error) {
	if err := ValidatePublicKey(publicKey); err != nil {
		return types.EmptyAddress, err
	}
	if err := c.ValidateShard(shardId); err != nil {
		return types.EmptyAddress, err
	}

	digest := crypto.Keccak256(preimage(publicKey, salt, shardId))

	var addr types.Address
	binary.BigEndian.PutUint16(addr[:types.ShardIdLength], shardId)
	copy(addr[types.ShardIdLength:], digest[len(digest)-DiscriminatorLength:])
	return addr, nil
}

// ShardOf extracts the shard id from an address
func (c *Codec) ShardOf(addr types.Address) uint16 {
	return addr.ShardId()
}

// SameShard reports whether both addresses live on the same shard
func (c *Codec) SameShard(a, b types.Address) bool {
	return c.ShardOf(a) == c.ShardOf(b)
}

// ParseAddress parses a hex address and checks that its shard is in range
func (c *Codec) ParseAddress(s string) (types.Address, error) {
	addr, err := types.HexToAddress(s)
	if err != nil {
		return types.EmptyAddress, err
	}
	if err := c.ValidateShard(addr.ShardId()); err != nil {
		return types.EmptyAddress, err
	}
	return addr, nil
}

// ValidatePublicKey checks that pub is a 33-byte compressed point on secp256k1
func ValidatePublicKey(pub []byte) error {
	if len(pub) != CompressedPublicKeyLength {
		return &types.InvalidPublicKeyError{
			Length: len(pub),
			Reason: fmt.Sprintf("expected %d-byte compressed key", CompressedPublicKeyLength),
		}
	}
	if _, err := crypto.DecompressPubkey(pub); err != nil {
		return &types.InvalidPublicKeyError{Length: len(pub), Reason: "not a point on secp256k1"}
	}
	return nil
}

func preimage(publicKey []byte, salt Salt, shardId uint16) []byte {
	buf := make([]byte, 0, preimageLength)
	buf = append(buf, publicKey...)
	buf = append(buf, salt[:]...)
	buf = binary.BigEndian.AppendUint16(buf, shardId)
	return buf
}
