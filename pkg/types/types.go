package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

const (
	// AddressLength is the width of an account address in bytes
	AddressLength = 20
	// ShardIdLength is the number of leading address bytes that carry the shard id
	ShardIdLength = 2
	// SignatureLength is the wire size of R || S || V
	SignatureLength = 65
)

// Hash is a 32-byte keccak256 digest
type Hash = common.Hash

// EmptyHash is the zero hash
var EmptyHash = Hash{}

// Address identifies an account on a specific shard.
// Bytes [0:2] hold the shard id (big-endian), bytes [2:20] hold the account discriminator.
type Address [AddressLength]byte

// EmptyAddress is the zero address (shard 0, zero discriminator)
var EmptyAddress = Address{}

// BytesToAddress returns an Address from b. If b is larger than AddressLength the leading
// bytes are cropped, if it is smaller it is left-padded.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// HexToAddress strictly parses a hex address; the 0x prefix is optional.
func HexToAddress(s string) (Address, error) {
	trimmed := s
	if len(trimmed) >= 2 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != 2*AddressLength {
		return EmptyAddress, fmt.Errorf("invalid address length: expected %d hex chars, got %d", 2*AddressLength, len(trimmed))
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return EmptyAddress, fmt.Errorf("invalid address hex %q: %w", s, err)
	}
	return BytesToAddress(raw), nil
}

// ShardId extracts the shard id embedded in the address
func (a Address) ShardId() uint16 {
	return binary.BigEndian.Uint16(a[:ShardIdLength])
}

func (a Address) Bytes() []byte {
	return a[:]
}

func (a Address) Hex() string {
	return hexutil.Encode(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

func (a Address) IsEmpty() bool {
	return a == EmptyAddress
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(input []byte) error {
	parsed, err := HexToAddress(string(input))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Signature is a recoverable secp256k1 signature.
// V is the recovery id and is always 0 or 1.
type Signature struct {
	R [32]byte
	S [32]byte
	V byte
}

// Bytes returns the 65-byte R || S || V wire form
func (s *Signature) Bytes() []byte {
	out := make([]byte, SignatureLength)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

func (s *Signature) Hex() string {
	return hexutil.Encode(s.Bytes())
}

// SignatureFromBytes parses the 65-byte R || S || V form
func SignatureFromBytes(b []byte) (*Signature, error) {
	if len(b) != SignatureLength {
		return nil, &SerializationError{Field: "signature", Reason: fmt.Sprintf("expected %d bytes, got %d", SignatureLength, len(b))}
	}
	if b[64] > 1 {
		return nil, &SerializationError{Field: "signature", Reason: fmt.Sprintf("recovery id must be 0 or 1, got %d", b[64])}
	}
	sig := &Signature{V: b[64]}
	copy(sig.R[:], b[0:32])
	copy(sig.S[:], b[32:64])
	return sig, nil
}

// MessageEnvelope is the external message submitted to the network.
// It is immutable once signed, except for AuthData which only the signing step sets.
type MessageEnvelope struct {
	IsDeploy  bool
	To        Address
	ChainId   uint32
	Seqno     uint64
	Payload   []byte
	FeeCredit uint256.Int
	AuthData  []byte
}

// IsSigned reports whether auth data has been attached
func (e *MessageEnvelope) IsSigned() bool {
	return len(e.AuthData) > 0
}

// WithoutAuthData returns a copy of the envelope with AuthData cleared
func (e *MessageEnvelope) WithoutAuthData() *MessageEnvelope {
	c := e.Copy()
	c.AuthData = nil
	return c
}

// Copy returns a deep copy
func (e *MessageEnvelope) Copy() *MessageEnvelope {
	c := *e
	if len(e.Payload) > 0 {
		c.Payload = bytes.Clone(e.Payload)
	} else {
		c.Payload = nil
	}
	if len(e.AuthData) > 0 {
		c.AuthData = bytes.Clone(e.AuthData)
	} else {
		c.AuthData = nil
	}
	return &c
}

// Equal compares field values; nil and empty byte slices are equivalent.
func (e *MessageEnvelope) Equal(o *MessageEnvelope) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.IsDeploy == o.IsDeploy &&
		e.To == o.To &&
		e.ChainId == o.ChainId &&
		e.Seqno == o.Seqno &&
		bytes.Equal(e.Payload, o.Payload) &&
		e.FeeCredit.Eq(&o.FeeCredit) &&
		bytes.Equal(e.AuthData, o.AuthData)
}
