package transport

import (
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCReceipt is the JSON form of a receipt returned by eth_getInMessageReceipt.
// A null entry in OutReceipts is an emitted message that has not been processed yet.
type RPCReceipt struct {
	Success      bool           `json:"success"`
	Status       string         `json:"status"`
	BlockRef     string         `json:"blockRef"`
	MessageHash  common.Hash    `json:"messageHash"`
	GasUsed      hexutil.Uint64 `json:"gasUsed"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	OutReceipts  []*RPCReceipt  `json:"outReceipts"`
}

func (r *RPCReceipt) ToReceipt() *types.Receipt {
	if r == nil {
		return nil
	}
	receipt := &types.Receipt{
		Success:      r.Success,
		Status:       r.Status,
		BlockRef:     r.BlockRef,
		MessageHash:  r.MessageHash,
		GasUsed:      uint64(r.GasUsed),
		ErrorMessage: r.ErrorMessage,
	}
	if len(r.OutReceipts) > 0 {
		receipt.OutReceipts = make([]*types.Receipt, len(r.OutReceipts))
		for i, out := range r.OutReceipts {
			receipt.OutReceipts[i] = out.ToReceipt()
		}
	}
	return receipt
}

func NewRPCReceipt(r *types.Receipt) *RPCReceipt {
	if r == nil {
		return nil
	}
	out := &RPCReceipt{
		Success:      r.Success,
		Status:       r.Status,
		BlockRef:     r.BlockRef,
		MessageHash:  r.MessageHash,
		GasUsed:      hexutil.Uint64(r.GasUsed),
		ErrorMessage: r.ErrorMessage,
	}
	if len(r.OutReceipts) > 0 {
		out.OutReceipts = make([]*RPCReceipt, len(r.OutReceipts))
		for i, child := range r.OutReceipts {
			out.OutReceipts[i] = NewRPCReceipt(child)
		}
	}
	return out
}
