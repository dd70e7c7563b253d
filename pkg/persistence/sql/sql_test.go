package sql

import (
	"path/filepath"
	"testing"

	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/persistence/journaltest"
	"github.com/Layr-Labs/shardmsg-go/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSQLJournal(t *testing.T) {
	journaltest.Run(t, func(t *testing.T) persistence.IMessageJournal {
		sj, err := NewSQLJournal(filepath.Join(t.TempDir(), "journal.db"), zaptest.NewLogger(t))
		require.NoError(t, err)
		return sj
	})
}

func TestSQLJournal_InMemory(t *testing.T) {
	sj, err := NewSQLJournal("", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = sj.Close() }()

	record := journaltest.NewRecord(t.Name(), types.Address{0x00, 0x03, 0x01}, 2)
	require.NoError(t, sj.SaveMessage(record))

	loaded, err := sj.LoadMessage(record.Hash)
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
}

func TestSQLJournal_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	logger := zaptest.NewLogger(t)

	sj, err := NewSQLJournal(path, logger)
	require.NoError(t, err)
	record := journaltest.NewRecord(t.Name(), types.Address{0x00, 0x01, 0x0a}, 0)
	require.NoError(t, sj.SaveMessage(record))
	require.NoError(t, sj.UpdateStatus(record.Hash, persistence.MessageStatus_Executed, &types.Receipt{Success: true}))
	require.NoError(t, sj.Close())

	reopened, err := NewSQLJournal(path, logger)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	executed, err := reopened.ListMessagesByStatus(persistence.MessageStatus_Executed)
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, record.Hash, executed[0].Hash)
	assert.True(t, executed[0].Receipt.Success)
}
