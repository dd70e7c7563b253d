package memory

import (
	"testing"

	"github.com/Layr-Labs/shardmsg-go/pkg/persistence"
	"github.com/Layr-Labs/shardmsg-go/pkg/persistence/journaltest"
	"go.uber.org/zap/zaptest"
)

func TestMemoryJournal(t *testing.T) {
	journaltest.Run(t, func(t *testing.T) persistence.IMessageJournal {
		return NewMemoryJournal(zaptest.NewLogger(t))
	})
}
