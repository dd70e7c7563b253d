// Package message implements the canonical binary encoding of external message envelopes
// and the two hashes derived from it.
//
// Layout (integers big-endian, length prefixes are uint32):
//
//	isDeploy   1 byte, 0x00 or 0x01
//	to         len || 20 bytes
//	chainId    4 bytes
//	seqno      8 bytes
//	payload    len || bytes
//	feeCredit  16 bytes (uint128)
//	authData   len || bytes
//
// The signing hash covers every section except authData. The message hash covers the
// full encoding and identifies the message once it has been signed.
package message

import (
	"encoding/binary"
	"fmt"

	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"golang.org/x/crypto/sha3"
)

const (
	// MaxPayloadSize bounds the payload section
	MaxPayloadSize = 1 << 20
	// MaxAuthDataSize bounds the authData section
	MaxAuthDataSize = 256
	// MaxFeeCreditBits is the width of the feeCredit field
	MaxFeeCreditBits = 128

	lengthPrefixSize = 4
	feeCreditSize    = MaxFeeCreditBits / 8

	deployFalse byte = 0x00
	deployTrue  byte = 0x01
)

// Encode returns the canonical encoding of the full envelope, including authData
func Encode(env *types.MessageEnvelope) ([]byte, error) {
	return encode(env, true)
}

// EncodeForSigning returns the encoding of every field except authData
func EncodeForSigning(env *types.MessageEnvelope) ([]byte, error) {
	return encode(env, false)
}

// SigningHash is the keccak256 digest that the signer signs
func SigningHash(env *types.MessageEnvelope) (types.Hash, error) {
	data, err := EncodeForSigning(env)
	if err != nil {
		return types.EmptyHash, err
	}
	return HashBytes(data), nil
}

// MessageHash is the identifier of a signed envelope, computed over the full encoding
func MessageHash(env *types.MessageEnvelope) (types.Hash, error) {
	if env != nil && !env.IsSigned() {
		return types.EmptyHash, &types.SerializationError{Field: "authData", Reason: "message hash requires a signed envelope"}
	}
	data, err := Encode(env)
	if err != nil {
		return types.EmptyHash, err
	}
	return HashBytes(data), nil
}

// HashBytes returns keccak256(data). For a canonical encoding it equals MessageHash of the decoded envelope.
func HashBytes(data []byte) types.Hash {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	var out types.Hash
	h.Sum(out[:0])
	return out
}

func encode(env *types.MessageEnvelope, withAuthData bool) ([]byte, error) {
	if env == nil {
		return nil, &types.SerializationError{Field: "envelope", Reason: "nil envelope"}
	}
	if len(env.Payload) > MaxPayloadSize {
		return nil, &types.SerializationError{
			Field:  "payload",
			Reason: fmt.Sprintf("%d bytes exceeds maximum of %d", len(env.Payload), MaxPayloadSize),
		}
	}
	if env.FeeCredit.BitLen() > MaxFeeCreditBits {
		return nil, &types.SerializationError{
			Field:  "feeCredit",
			Reason: fmt.Sprintf("value needs %d bits, maximum is %d", env.FeeCredit.BitLen(), MaxFeeCreditBits),
		}
	}

	size := 1 + lengthPrefixSize + types.AddressLength + 4 + 8 + lengthPrefixSize + len(env.Payload) + feeCreditSize
	if withAuthData {
		if len(env.AuthData) > MaxAuthDataSize {
			return nil, &types.SerializationError{
				Field:  "authData",
				Reason: fmt.Sprintf("%d bytes exceeds maximum of %d", len(env.AuthData), MaxAuthDataSize),
			}
		}
		size += lengthPrefixSize + len(env.AuthData)
	}

	buf := make([]byte, 0, size)
	if env.IsDeploy {
		buf = append(buf, deployTrue)
	} else {
		buf = append(buf, deployFalse)
	}
	buf = appendVar(buf, env.To[:])
	buf = binary.BigEndian.AppendUint32(buf, env.ChainId)
	buf = binary.BigEndian.AppendUint64(buf, env.Seqno)
	buf = appendVar(buf, env.Payload)
	feeCredit := env.FeeCredit.Bytes32()
	buf = append(buf, feeCredit[32-feeCreditSize:]...)
	if withAuthData {
		buf = appendVar(buf, env.AuthData)
	}
	return buf, nil
}

func appendVar(buf []byte, data []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

// Decode parses a full encoding. Truncated input, trailing bytes and any non-canonical
// field produce a SerializationError.
func Decode(data []byte) (*types.MessageEnvelope, error) {
	r := &reader{data: data}
	env := &types.MessageEnvelope{}

	deploy, err := r.readFixed("isDeploy", 1)
	if err != nil {
		return nil, err
	}
	switch deploy[0] {
	case deployFalse:
		env.IsDeploy = false
	case deployTrue:
		env.IsDeploy = true
	default:
		return nil, &types.SerializationError{Field: "isDeploy", Reason: fmt.Sprintf("invalid boolean byte 0x%02x", deploy[0])}
	}

	to, err := r.readVar("to", types.AddressLength)
	if err != nil {
		return nil, err
	}
	if len(to) != types.AddressLength {
		return nil, &types.SerializationError{Field: "to", Reason: fmt.Sprintf("expected %d bytes, got %d", types.AddressLength, len(to))}
	}
	copy(env.To[:], to)

	chainId, err := r.readFixed("chainId", 4)
	if err != nil {
		return nil, err
	}
	env.ChainId = binary.BigEndian.Uint32(chainId)

	seqno, err := r.readFixed("seqno", 8)
	if err != nil {
		return nil, err
	}
	env.Seqno = binary.BigEndian.Uint64(seqno)

	if env.Payload, err = r.readVar("payload", MaxPayloadSize); err != nil {
		return nil, err
	}

	feeCredit, err := r.readFixed("feeCredit", feeCreditSize)
	if err != nil {
		return nil, err
	}
	env.FeeCredit.SetBytes(feeCredit)

	if env.AuthData, err = r.readVar("authData", MaxAuthDataSize); err != nil {
		return nil, err
	}

	if remaining := len(r.data) - r.offset; remaining != 0 {
		return nil, &types.SerializationError{Field: "envelope", Reason: fmt.Sprintf("%d trailing bytes", remaining)}
	}
	return env, nil
}

type reader struct {
	data   []byte
	offset int
}

func (r *reader) readFixed(field string, n int) ([]byte, error) {
	if len(r.data)-r.offset < n {
		return nil, &types.SerializationError{
			Field:  field,
			Reason: fmt.Sprintf("truncated: need %d bytes, have %d", n, len(r.data)-r.offset),
		}
	}
	out := r.data[r.offset : r.offset+n]
	r.offset += n
	return out, nil
}

// readVar reads a length-prefixed section; zero-length sections decode to nil
func (r *reader) readVar(field string, max int) ([]byte, error) {
	prefix, err := r.readFixed(field, lengthPrefixSize)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix)
	if uint64(n) > uint64(max) {
		return nil, &types.SerializationError{Field: field, Reason: fmt.Sprintf("length %d exceeds maximum of %d", n, max)}
	}
	body, err := r.readFixed(field, int(n))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, body)
	return out, nil
}
