package types

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when a context is cancelled at a suspension point
var ErrCancelled = errors.New("operation cancelled")

// InvalidPublicKeyError is returned for keys of the wrong length or not on the curve
type InvalidPublicKeyError struct {
	Length int
	Reason string
}

func (e *InvalidPublicKeyError) Error() string {
	return fmt.Sprintf("invalid public key (%d bytes): %s", e.Length, e.Reason)
}

// IsInvalidPublicKey checks whether err is an InvalidPublicKeyError and returns it
func IsInvalidPublicKey(err error) (*InvalidPublicKeyError, bool) {
	var e *InvalidPublicKeyError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// InvalidShardIdError is returned for shard ids outside the configured range and for
// synchronous sends that would cross shards.
type InvalidShardIdError struct {
	ShardId uint16
	Reason  string
}

func (e *InvalidShardIdError) Error() string {
	return fmt.Sprintf("invalid shard id %d: %s", e.ShardId, e.Reason)
}

func IsInvalidShardId(err error) (*InvalidShardIdError, bool) {
	var e *InvalidShardIdError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// SerializationError is returned for malformed, oversized or truncated encodings
type SerializationError struct {
	Field  string
	Reason string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error in %s: %s", e.Field, e.Reason)
}

func IsSerialization(err error) (*SerializationError, bool) {
	var e *SerializationError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// SigningError wraps a failure of the underlying signing operation
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing failed: %v", e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}

func IsSigning(err error) (*SigningError, bool) {
	var e *SigningError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// SeqnoMismatchErrorCode is the JSON-RPC error code a node uses to reject a stale sequence number
const SeqnoMismatchErrorCode = -32010

// SeqnoMismatchError is reported when the node rejects a message for a stale sequence number.
// It is recoverable by refetching the seqno and retrying once.
type SeqnoMismatchError struct {
	Address Address
	Seqno   uint64
	Reason  string
}

func (e *SeqnoMismatchError) Error() string {
	return fmt.Sprintf("seqno mismatch for %s (seqno %d): %s", e.Address.Hex(), e.Seqno, e.Reason)
}

// ErrorCode lets a JSON-RPC server report the rejection under SeqnoMismatchErrorCode
func (e *SeqnoMismatchError) ErrorCode() int {
	return SeqnoMismatchErrorCode
}

func IsSeqnoMismatch(err error) (*SeqnoMismatchError, bool) {
	var e *SeqnoMismatchError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ReceiptTimeoutError is returned when polling exhausts its attempts without any receipt.
// It is distinct from an on-chain failure, which arrives as a Receipt with Success == false.
type ReceiptTimeoutError struct {
	Hash     Hash
	Attempts int
	LastErr  error
}

func (e *ReceiptTimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("no receipt for message %s after %d attempts (last error: %v)", e.Hash.Hex(), e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("no receipt for message %s after %d attempts", e.Hash.Hex(), e.Attempts)
}

func (e *ReceiptTimeoutError) Unwrap() error {
	return e.LastErr
}

func IsReceiptTimeout(err error) (*ReceiptTimeoutError, bool) {
	var e *ReceiptTimeoutError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
