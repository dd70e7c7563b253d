package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/Layr-Labs/shardmsg-go/pkg/message"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer"
	"github.com/Layr-Labs/shardmsg-go/pkg/transport"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const (
	ReceiptStatusExecuted = "executed"
	ReceiptStatusFailed   = "execution failed"
	mockGasUsed           = 21000
)

type mockMessage struct {
	envelope *types.MessageEnvelope
	from     types.Address
	polls    int
	block    uint64
}

// MockNode implements INodeClient in memory. It validates signatures and sequence numbers
// the way a node would and produces receipts after a configurable number of polls.
type MockNode struct {
	mu     sync.Mutex
	logger *zap.Logger

	chainId  uint32
	accounts map[string]types.Address
	seqnos   map[types.Address]uint64
	messages map[types.Hash]*mockMessage
	order    []types.Hash
	block    uint64

	receiptDelay    int
	crossShardDelay int
	failExecution   bool

	sendErrs    []error
	receiptErrs []error
	chainIdErr  error

	chainIdCalls    int
	getSeqnoCalls   int
	sendRawCalls    int
	getReceiptCalls int
}

var _ transport.INodeClient = (*MockNode)(nil)

func NewMockNode(chainId uint32, logger *zap.Logger) *MockNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockNode{
		logger:   logger,
		chainId:  chainId,
		accounts: make(map[string]types.Address),
		seqnos:   make(map[types.Address]uint64),
		messages: make(map[types.Hash]*mockMessage),
	}
}

// RegisterAccount tells the node which address a compressed public key signs for
func (m *MockNode) RegisterAccount(publicKey []byte, addr types.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[hexutil.Encode(publicKey)] = addr
}

func (m *MockNode) SetSeqno(addr types.Address, seqno uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqnos[addr] = seqno
}

func (m *MockNode) Seqno(addr types.Address) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seqnos[addr]
}

// SetReceiptDelay makes GetReceipt return nothing for the first polls of every message
func (m *MockNode) SetReceiptDelay(polls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiptDelay = polls
}

// SetCrossShardDelay keeps the out receipt of a cross-shard message pending for extra polls
func (m *MockNode) SetCrossShardDelay(polls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crossShardDelay = polls
}

// SetFailExecution makes every receipt report an on-chain execution failure
func (m *MockNode) SetFailExecution(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failExecution = fail
}

// InjectSendError queues an error for the next SendRaw call
func (m *MockNode) InjectSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErrs = append(m.sendErrs, err)
}

// InjectReceiptError queues an error for the next GetReceipt call
func (m *MockNode) InjectReceiptError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiptErrs = append(m.receiptErrs, err)
}

func (m *MockNode) SetChainIdError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainIdErr = err
}

func (m *MockNode) ChainIdCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainIdCalls
}

func (m *MockNode) GetSeqnoCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSeqnoCalls
}

func (m *MockNode) SendRawCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sendRawCalls
}

func (m *MockNode) GetReceiptCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getReceiptCalls
}

// Submitted returns every accepted envelope in submission order
func (m *MockNode) Submitted() []*types.MessageEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.MessageEnvelope, 0, len(m.order))
	for _, h := range m.order {
		out = append(out, m.messages[h].envelope.Copy())
	}
	return out
}

func (m *MockNode) ChainId(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chainIdCalls++
	if m.chainIdErr != nil {
		return 0, m.chainIdErr
	}
	return m.chainId, nil
}

func (m *MockNode) GetSeqno(ctx context.Context, addr types.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getSeqnoCalls++
	return m.seqnos[addr], nil
}

func (m *MockNode) SendRaw(ctx context.Context, encoded []byte) (types.Hash, error) {
	if err := ctx.Err(); err != nil {
		return types.EmptyHash, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendRawCalls++

	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		return types.EmptyHash, err
	}

	env, err := message.Decode(encoded)
	if err != nil {
		return types.EmptyHash, fmt.Errorf("invalid message: %w", err)
	}
	if env.ChainId != m.chainId {
		return types.EmptyHash, fmt.Errorf("invalid message: chain id %d, node runs %d", env.ChainId, m.chainId)
	}
	pub, err := signer.RecoverEnvelopeSigner(env)
	if err != nil {
		return types.EmptyHash, fmt.Errorf("invalid signature: %w", err)
	}
	from, ok := m.accounts[hexutil.Encode(pub)]
	if !ok {
		return types.EmptyHash, fmt.Errorf("unknown sender for public key %s", hexutil.Encode(pub))
	}

	expected := m.seqnos[from]
	if env.Seqno != expected {
		return types.EmptyHash, &types.SeqnoMismatchError{
			Address: from,
			Seqno:   env.Seqno,
			Reason:  fmt.Sprintf("seqno mismatch: expected %d, got %d", expected, env.Seqno),
		}
	}
	m.seqnos[from] = expected + 1

	hash := message.HashBytes(encoded)
	m.block++
	m.messages[hash] = &mockMessage{envelope: env, from: from, block: m.block}
	m.order = append(m.order, hash)

	m.logger.Sugar().Debugw("MockNode accepted message",
		"hash", hash.Hex(),
		"from", from.Hex(),
		"to", env.To.Hex(),
		"seqno", env.Seqno,
	)
	return hash, nil
}

func (m *MockNode) GetReceipt(ctx context.Context, hash types.Hash) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getReceiptCalls++

	if len(m.receiptErrs) > 0 {
		err := m.receiptErrs[0]
		m.receiptErrs = m.receiptErrs[1:]
		return nil, err
	}

	msg, ok := m.messages[hash]
	if !ok {
		return nil, nil
	}
	msg.polls++
	if msg.polls <= m.receiptDelay {
		return nil, nil
	}

	receipt := &types.Receipt{
		Success:     !m.failExecution,
		Status:      ReceiptStatusExecuted,
		BlockRef:    fmt.Sprintf("%d:%d", msg.from.ShardId(), msg.block),
		MessageHash: hash,
		GasUsed:     mockGasUsed,
	}
	if m.failExecution {
		receipt.Status = ReceiptStatusFailed
		receipt.ErrorMessage = "execution reverted"
		return receipt, nil
	}

	if msg.from.ShardId() != msg.envelope.To.ShardId() {
		if msg.polls-m.receiptDelay <= m.crossShardDelay {
			receipt.OutReceipts = []*types.Receipt{nil}
		} else {
			receipt.OutReceipts = []*types.Receipt{{
				Success:  true,
				Status:   ReceiptStatusExecuted,
				BlockRef: fmt.Sprintf("%d:%d", msg.envelope.To.ShardId(), msg.block+1),
				GasUsed:  mockGasUsed,
			}}
		}
	}
	return receipt, nil
}
