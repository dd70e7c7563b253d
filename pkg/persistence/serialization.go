package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalMessageRecord serializes a MessageRecord to JSON bytes.
// Hashes and addresses are encoded as 0x-prefixed hex.
func MarshalMessageRecord(record *MessageRecord) ([]byte, error) {
	if record == nil {
		return nil, fmt.Errorf("cannot marshal nil MessageRecord")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal MessageRecord to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalMessageRecord deserializes a MessageRecord from JSON bytes.
func UnmarshalMessageRecord(data []byte) (*MessageRecord, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var record MessageRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to MessageRecord: %w", err)
	}

	return &record, nil
}
