package types

// Receipt is the outcome of a message as reported by the node.
// A receipt with Success == false is an on-chain execution failure, which is data and not an error.
type Receipt struct {
	Success      bool       `json:"success"`
	Status       string     `json:"status,omitempty"`
	BlockRef     string     `json:"blockRef,omitempty"`
	MessageHash  Hash       `json:"messageHash"`
	GasUsed      uint64     `json:"gasUsed"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	// OutReceipts holds receipts of messages emitted by this one; a nil entry is still pending.
	OutReceipts  []*Receipt `json:"outReceipts,omitempty"`
}

// Complete reports whether every emitted message in the receipt tree has a receipt
func (r *Receipt) Complete() bool {
	if r == nil {
		return false
	}
	for _, out := range r.OutReceipts {
		if !out.Complete() {
			return false
		}
	}
	return true
}

// Failures returns every receipt in the tree that failed execution, root first
func (r *Receipt) Failures() []*Receipt {
	if r == nil {
		return nil
	}
	var failed []*Receipt
	if !r.Success {
		failed = append(failed, r)
	}
	for _, out := range r.OutReceipts {
		failed = append(failed, out.Failures()...)
	}
	return failed
}

// AllSucceeded reports whether the tree is complete and no receipt in it failed
func (r *Receipt) AllSucceeded() bool {
	return r.Complete() && len(r.Failures()) == 0
}
