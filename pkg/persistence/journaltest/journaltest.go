// Package journaltest holds behaviour tests shared by every IMessageJournal backend.
package journaltest

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty journal. The suite closes it.
type Factory func(t *testing.T) persistence.IMessageJournal

// NewRecord builds a pending record with a hash unique to (tag, seqno)
func NewRecord(tag string, from types.Address, seqno uint64) *persistence.MessageRecord {
	now := time.Now().UnixMilli()
	return &persistence.MessageRecord{
		Hash:        crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%s/%d", tag, from.Hex(), seqno))),
		From:        from,
		To:          types.BytesToAddress([]byte{0x00, 0x02, 0x42}),
		ChainId:     1,
		Seqno:       seqno,
		Mode:        "sync",
		Status:      persistence.MessageStatus_Pending,
		SubmittedAt: now + int64(seqno),
		UpdatedAt:   now + int64(seqno),
	}
}

// uniqueSender gives every subtest its own sender so shared backends such as redis do not
// see records from earlier runs.
func uniqueSender(t *testing.T) types.Address {
	h := crypto.Keccak256([]byte(fmt.Sprintf("%s/%d", t.Name(), time.Now().UnixNano())))
	h[0], h[1] = 0x00, 0x01
	return types.BytesToAddress(h[:types.AddressLength])
}

// Run exercises the IMessageJournal contract against the journals built by newJournal
func Run(t *testing.T, newJournal Factory) {
	t.Run("SaveAndLoad", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		record := NewRecord(t.Name(), uniqueSender(t), 0)
		require.NoError(t, j.SaveMessage(record))

		loaded, err := j.LoadMessage(record.Hash)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, record, loaded)
	})

	t.Run("LoadMissing", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		loaded, err := j.LoadMessage(crypto.Keccak256Hash([]byte(t.Name())))
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("SaveNil", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		assert.Error(t, j.SaveMessage(nil))
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		record := NewRecord(t.Name(), uniqueSender(t), 0)
		require.NoError(t, j.SaveMessage(record))
		record.Mode = "async"
		require.NoError(t, j.SaveMessage(record))

		loaded, err := j.LoadMessage(record.Hash)
		require.NoError(t, err)
		assert.Equal(t, "async", loaded.Mode)

		list, err := j.ListMessagesBySender(record.From)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		record := NewRecord(t.Name(), uniqueSender(t), 0)
		require.NoError(t, j.SaveMessage(record))

		receipt := &types.Receipt{
			Success:     true,
			Status:      "executed",
			MessageHash: record.Hash,
			GasUsed:     21000,
			OutReceipts: []*types.Receipt{{Success: true, GasUsed: 1}},
		}
		require.NoError(t, j.UpdateStatus(record.Hash, persistence.MessageStatus_Executed, receipt))

		loaded, err := j.LoadMessage(record.Hash)
		require.NoError(t, err)
		assert.Equal(t, persistence.MessageStatus_Executed, loaded.Status)
		assert.Equal(t, receipt, loaded.Receipt)
		assert.GreaterOrEqual(t, loaded.UpdatedAt, record.UpdatedAt)

		// a timeout keeps the previously stored receipt
		require.NoError(t, j.UpdateStatus(record.Hash, persistence.MessageStatus_Timeout, nil))
		loaded, err = j.LoadMessage(record.Hash)
		require.NoError(t, err)
		assert.Equal(t, persistence.MessageStatus_Timeout, loaded.Status)
		assert.NotNil(t, loaded.Receipt)
	})

	t.Run("UpdateStatusMissing", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		err := j.UpdateStatus(crypto.Keccak256Hash([]byte(t.Name())), persistence.MessageStatus_Executed, nil)
		assert.True(t, errors.Is(err, persistence.ErrMessageNotFound), "got %v", err)
	})

	t.Run("ListBySenderSortedBySeqno", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		sender := uniqueSender(t)
		other := uniqueSender(t)
		for _, seqno := range []uint64{4, 0, 2, 1, 3} {
			require.NoError(t, j.SaveMessage(NewRecord(t.Name(), sender, seqno)))
		}
		require.NoError(t, j.SaveMessage(NewRecord(t.Name(), other, 0)))

		list, err := j.ListMessagesBySender(sender)
		require.NoError(t, err)
		require.Len(t, list, 5)
		for i, record := range list {
			assert.Equal(t, uint64(i), record.Seqno)
			assert.Equal(t, sender, record.From)
		}

		empty, err := j.ListMessagesBySender(uniqueSender(t))
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})

	t.Run("ListByStatus", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		sender := uniqueSender(t)
		a := NewRecord(t.Name(), sender, 0)
		b := NewRecord(t.Name(), sender, 1)
		require.NoError(t, j.SaveMessage(a))
		require.NoError(t, j.SaveMessage(b))
		require.NoError(t, j.UpdateStatus(a.Hash, persistence.MessageStatus_ExecutionFailed, &types.Receipt{Success: false}))

		failed, err := j.ListMessagesByStatus(persistence.MessageStatus_ExecutionFailed)
		require.NoError(t, err)
		assert.True(t, containsHash(failed, a.Hash))
		assert.False(t, containsHash(failed, b.Hash))

		pending, err := j.ListMessagesByStatus(persistence.MessageStatus_Pending)
		require.NoError(t, err)
		assert.True(t, containsHash(pending, b.Hash))
		assert.False(t, containsHash(pending, a.Hash))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		record := NewRecord(t.Name(), uniqueSender(t), 0)
		require.NoError(t, j.SaveMessage(record))
		require.NoError(t, j.DeleteMessage(record.Hash))
		require.NoError(t, j.DeleteMessage(record.Hash))

		loaded, err := j.LoadMessage(record.Hash)
		require.NoError(t, err)
		assert.Nil(t, loaded)

		list, err := j.ListMessagesBySender(record.From)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		record := NewRecord(t.Name(), uniqueSender(t), 0)
		require.NoError(t, j.SaveMessage(record))
		record.Seqno = 99

		loaded, err := j.LoadMessage(record.Hash)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), loaded.Seqno)
		loaded.Seqno = 42

		again, err := j.LoadMessage(record.Hash)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), again.Seqno)
	})

	t.Run("ConcurrentSaves", func(t *testing.T) {
		j := newJournal(t)
		defer func() { _ = j.Close() }()

		sender := uniqueSender(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(seqno uint64) {
				defer wg.Done()
				assert.NoError(t, j.SaveMessage(NewRecord(t.Name(), sender, seqno)))
			}(uint64(i))
		}
		wg.Wait()

		list, err := j.ListMessagesBySender(sender)
		require.NoError(t, err)
		assert.Len(t, list, 20)
	})

	t.Run("Closed", func(t *testing.T) {
		j := newJournal(t)
		require.NoError(t, j.HealthCheck())
		require.NoError(t, j.Close())
		require.NoError(t, j.Close())

		record := NewRecord(t.Name(), uniqueSender(t), 0)
		assert.Error(t, j.SaveMessage(record))
		_, err := j.LoadMessage(record.Hash)
		assert.Error(t, err)
		assert.Error(t, j.UpdateStatus(record.Hash, persistence.MessageStatus_Executed, nil))
		_, err = j.ListMessagesBySender(record.From)
		assert.Error(t, err)
		_, err = j.ListMessagesByStatus(persistence.MessageStatus_Pending)
		assert.Error(t, err)
		assert.Error(t, j.DeleteMessage(record.Hash))
		assert.Error(t, j.HealthCheck())
	})
}

func containsHash(records []*persistence.MessageRecord, hash types.Hash) bool {
	for _, r := range records {
		if r.Hash == hash {
			return true
		}
	}
	return false
}
