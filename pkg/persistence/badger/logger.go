package badger

import (
	"strings"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

// badgerLogger routes badger's internal logging into zap under the "badger" name.
// Badger's info output is compaction and value log chatter, so it is logged at debug level.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

var _ badgerdb.Logger = (*badgerLogger)(nil)

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	return &badgerLogger{sugar: logger.Named("badger").Sugar()}
}

// badger terminates most of its messages with a newline
func trim(format string) string {
	return strings.TrimSuffix(format, "\n")
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.sugar.Errorf(trim(format), args...)
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.sugar.Warnf(trim(format), args...)
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.sugar.Debugf(trim(format), args...)
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.sugar.Debugf(trim(format), args...)
}
