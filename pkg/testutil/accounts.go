package testutil

import (
	"testing"

	"github.com/Layr-Labs/shardmsg-go/pkg/address"
	"github.com/Layr-Labs/shardmsg-go/pkg/signer/localSigner"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// TestAccount is a freshly generated key registered with a MockNode on one shard
type TestAccount struct {
	Signer  *localSigner.LocalSigner
	Address types.Address
	ShardId uint16
}

// NewTestAccount generates a key, derives its address on shardId with a zero salt and registers it with node
func NewTestAccount(t *testing.T, node *MockNode, codec *address.Codec, shardId uint16) *TestAccount {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	s, err := localSigner.NewLocalSigner(key, codec, address.ZeroSalt, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	addr, err := s.Address(shardId)
	if err != nil {
		t.Fatalf("failed to derive address: %v", err)
	}
	if node != nil {
		node.RegisterAccount(s.PublicKey(), addr)
	}
	return &TestAccount{Signer: s, Address: addr, ShardId: shardId}
}

// MustAddress parses a hex address or fails the test
func MustAddress(t *testing.T, s string) types.Address {
	t.Helper()
	addr, err := types.HexToAddress(s)
	if err != nil {
		t.Fatalf("invalid address %q: %v", s, err)
	}
	return addr
}
