package persistence

import (
	"errors"
	"sort"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/types"
)

// ErrMessageNotFound is returned by UpdateStatus for unknown hashes
var ErrMessageNotFound = errors.New("message not found in journal")

// ErrClosed is returned by every operation after Close
var ErrClosed = errors.New("persistence layer is closed")

type MessageStatus string

const (
	// MessageStatus_Pending means submitted with no receipt observed yet
	MessageStatus_Pending MessageStatus = "pending"
	// MessageStatus_Executed means a successful receipt was observed
	MessageStatus_Executed MessageStatus = "executed"
	// MessageStatus_ExecutionFailed means the receipt reported an on-chain failure
	MessageStatus_ExecutionFailed MessageStatus = "execution_failed"
	// MessageStatus_Timeout means receipt polling was exhausted
	MessageStatus_Timeout MessageStatus = "timeout"
)

func (s MessageStatus) String() string {
	return string(s)
}

// StatusForReceipt maps an observed receipt to a journal status
func StatusForReceipt(receipt *types.Receipt) MessageStatus {
	if receipt == nil {
		return MessageStatus_Pending
	}
	if !receipt.Success {
		return MessageStatus_ExecutionFailed
	}
	return MessageStatus_Executed
}

// MessageRecord is the journal entry of one dispatched message.
type MessageRecord struct {
	// Hash is the message identifier returned by the node and the primary key
	Hash    types.Hash    `json:"hash"`
	From    types.Address `json:"from"`
	To      types.Address `json:"to"`
	ChainId uint32        `json:"chainId"`
	Seqno   uint64        `json:"seqno"`
	// Mode is the dispatch mode, "sync" or "async"
	Mode   string        `json:"mode"`
	Status MessageStatus `json:"status"`

	// SubmittedAt and UpdatedAt are unix milliseconds
	SubmittedAt int64 `json:"submittedAt"`
	UpdatedAt   int64 `json:"updatedAt"`

	Receipt *types.Receipt `json:"receipt,omitempty"`
}

// Copy returns a deep copy of the record
func (r *MessageRecord) Copy() *MessageRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Receipt = copyReceipt(r.Receipt)
	return &c
}

// ApplyStatus sets status and receipt and bumps UpdatedAt
func (r *MessageRecord) ApplyStatus(status MessageStatus, receipt *types.Receipt, now time.Time) {
	r.Status = status
	if receipt != nil {
		r.Receipt = copyReceipt(receipt)
	}
	r.UpdatedAt = now.UnixMilli()
}

func copyReceipt(r *types.Receipt) *types.Receipt {
	if r == nil {
		return nil
	}
	c := *r
	if r.OutReceipts != nil {
		c.OutReceipts = make([]*types.Receipt, len(r.OutReceipts))
		for i, out := range r.OutReceipts {
			c.OutReceipts[i] = copyReceipt(out)
		}
	}
	return &c
}

// SortBySeqno orders records by seqno, then by submission time
func SortBySeqno(records []*MessageRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Seqno != records[j].Seqno {
			return records[i].Seqno < records[j].Seqno
		}
		return records[i].SubmittedAt < records[j].SubmittedAt
	})
}

// SortBySubmission orders records by submission time, then by hash
func SortBySubmission(records []*MessageRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].SubmittedAt != records[j].SubmittedAt {
			return records[i].SubmittedAt < records[j].SubmittedAt
		}
		return records[i].Hash.Hex() < records[j].Hash.Hex()
	})
}
