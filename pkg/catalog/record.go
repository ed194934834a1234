package catalog

import (
	"encoding/binary"
	"encoding/json"

	"github.com/unijord/timeseek/pkg/position"
)

// SegmentMetadata is the catalog view of one segment used to narrow searches.
// A timestamp <= 0 means it is unknown.
type SegmentMetadata struct {
	SegmentID             uint64 `json:"segment_id"`
	EntryCount            int64  `json:"entry_count"`
	BeginPublishTimestamp int64  `json:"begin_publish_timestamp,omitempty"`
	EndPublishTimestamp   int64  `json:"end_publish_timestamp,omitempty"`
}

// HasTimestamps reports whether both publish timestamps are known.
func (m SegmentMetadata) HasTimestamps() bool {
	return m.BeginPublishTimestamp > 0 && m.EndPublishTimestamp > 0
}

// SegmentRecord is the BoltDB value for a sealed segment.
type SegmentRecord struct {
	SegmentMetadata
	ByteSize int64 `json:"byte_size"`
	// unix nanoseconds
	SealedAt int64 `json:"sealed_at"`
	// raft log index of the command that created the record.
	AppliedIndex uint64 `json:"applied_index"`
}

// Encode serializes the SegmentRecord to JSON bytes.
func (r *SegmentRecord) Encode() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

func DecodeSegmentRecord(data []byte) *SegmentRecord {
	if len(data) == 0 {
		return nil
	}
	var r SegmentRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil
	}
	return &r
}

// CursorState is the persisted state of a named cursor.
type CursorState struct {
	Name string `json:"name"`
	// MarkDelete is the newest acknowledged position. An unset cursor holds
	// the before-first position of the oldest segment.
	MarkDelete position.Position `json:"mark_delete"`
	// unix milliseconds
	UpdatedAt int64 `json:"updated_at"`
}

func (c *CursorState) Encode() []byte {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return data
}

func DecodeCursorState(data []byte) *CursorState {
	if len(data) == 0 {
		return nil
	}
	var c CursorState
	if err := json.Unmarshal(data, &c); err != nil {
		return nil
	}
	return &c
}

// EncodeUint64 converts a uint64 to big-endian bytes so BoltDB keys sort numerically.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func DecodeUint64(data []byte) uint64 {
	if len(data) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}
