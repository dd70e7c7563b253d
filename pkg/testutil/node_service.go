package testutil

import (
	"context"
	"testing"

	"github.com/Layr-Labs/shardmsg-go/pkg/transport"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// NodeRPCService exposes a MockNode under the "eth" JSON-RPC namespace
type NodeRPCService struct {
	node *MockNode
}

func NewNodeRPCService(node *MockNode) *NodeRPCService {
	return &NodeRPCService{node: node}
}

func (s *NodeRPCService) ChainId(ctx context.Context) (hexutil.Uint64, error) {
	id, err := s.node.ChainId(ctx)
	return hexutil.Uint64(id), err
}

func (s *NodeRPCService) GetTransactionCount(ctx context.Context, addr string, block string) (hexutil.Uint64, error) {
	a, err := types.HexToAddress(addr)
	if err != nil {
		return 0, err
	}
	seqno, err := s.node.GetSeqno(ctx, a)
	return hexutil.Uint64(seqno), err
}

func (s *NodeRPCService) SendRawTransaction(ctx context.Context, data hexutil.Bytes) (common.Hash, error) {
	return s.node.SendRaw(ctx, data)
}

func (s *NodeRPCService) GetInMessageReceipt(ctx context.Context, hash common.Hash) (*transport.RPCReceipt, error) {
	receipt, err := s.node.GetReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	return transport.NewRPCReceipt(receipt), nil
}

// NewInProcRPCClient serves node over an in-process JSON-RPC server and returns a transport client for it
func NewInProcRPCClient(t *testing.T, node *MockNode, cfg *transport.RPCClientConfig, logger *zap.Logger) *transport.RPCClient {
	t.Helper()

	server := rpc.NewServer()
	if err := server.RegisterName("eth", NewNodeRPCService(node)); err != nil {
		t.Fatalf("failed to register node service: %v", err)
	}
	client := transport.NewRPCClientWithClient(rpc.DialInProc(server), cfg, logger)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return client
}
