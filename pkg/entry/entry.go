// Package entry encodes the FlatBuffers envelope written for every log entry
// and extracts its publish timestamp.
package entry

import (
	"errors"
	"fmt"
	"sync"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/unijord/timeseek/pkg/gen/go/fb/logfb"
)

const oneKB = 1024

var (
	ErrMalformed          = errors.New("malformed entry envelope")
	ErrMissingPublishTime = errors.New("entry has no publish time")
)

// DeserializationError reports that a single entry could not be decoded.
type DeserializationError struct {
	Err error
}

func (e *DeserializationError) Error() string {
	return "deserialize entry: " + e.Err.Error()
}

func (e *DeserializationError) Unwrap() error {
	return e.Err
}

// Entry is the decoded form of a log entry.
type Entry struct {
	// PublishTime is epoch milliseconds, assigned when the entry is appended.
	PublishTime  int64
	ProducerName string
	SequenceID   uint64
	// EventTime is an optional producer supplied timestamp, epoch milliseconds.
	EventTime int64
	Payload   []byte
}

var builderPool = sync.Pool{
	New: func() any {
		return flatbuffers.NewBuilder(oneKB)
	},
}

// Encode serializes e. The returned slice is owned by the caller.
func Encode(e Entry) []byte {
	builder := builderPool.Get().(*flatbuffers.Builder)
	defer func() {
		builder.Reset()
		builderPool.Put(builder)
	}()

	producer := builder.CreateString(e.ProducerName)
	payload := builder.CreateByteVector(e.Payload)

	logfb.EntryMetadataStart(builder)
	logfb.EntryMetadataAddPublishTime(builder, e.PublishTime)
	logfb.EntryMetadataAddProducerName(builder, producer)
	logfb.EntryMetadataAddSequenceId(builder, e.SequenceID)
	logfb.EntryMetadataAddEventTime(builder, e.EventTime)
	logfb.EntryMetadataAddPayload(builder, payload)
	root := logfb.EntryMetadataEnd(builder)
	builder.Finish(root)

	data := builder.FinishedBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// Decode parses a full entry. Payload and ProducerName are copied out of data.
func Decode(data []byte) (e Entry, err error) {
	meta, err := root(data)
	if err != nil {
		return Entry{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			e, err = Entry{}, &DeserializationError{Err: fmt.Errorf("%w: %v", ErrMalformed, r)}
		}
	}()

	e = Entry{
		PublishTime:  meta.PublishTime(),
		ProducerName: string(meta.ProducerName()),
		SequenceID:   meta.SequenceId(),
		EventTime:    meta.EventTime(),
	}
	if p := meta.PayloadBytes(); len(p) > 0 {
		e.Payload = append([]byte(nil), p...)
	}
	return e, nil
}

// ExtractPublishTimestamp reads only the publish time of an encoded entry.
// A missing or non-positive publish time is reported as a DeserializationError.
func ExtractPublishTimestamp(data []byte) (ts int64, err error) {
	meta, err := root(data)
	if err != nil {
		return 0, err
	}
	defer func() {
		if r := recover(); r != nil {
			ts, err = 0, &DeserializationError{Err: fmt.Errorf("%w: %v", ErrMalformed, r)}
		}
	}()

	ts = meta.PublishTime()
	if ts <= 0 {
		return 0, &DeserializationError{Err: ErrMissingPublishTime}
	}
	return ts, nil
}

// root validates the root table and vtable bounds. Generated accessors
// index the buffer blindly, so a torn or foreign record would otherwise panic.
func root(data []byte) (*logfb.EntryMetadata, error) {
	if len(data) < flatbuffers.SizeUOffsetT+flatbuffers.SizeSOffsetT {
		return nil, &DeserializationError{Err: fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))}
	}
	tablePos := int(flatbuffers.GetUOffsetT(data))
	if tablePos < flatbuffers.SizeUOffsetT || tablePos+flatbuffers.SizeSOffsetT > len(data) {
		return nil, &DeserializationError{Err: fmt.Errorf("%w: root offset %d", ErrMalformed, tablePos)}
	}
	vtablePos := tablePos - int(flatbuffers.GetSOffsetT(data[tablePos:]))
	if vtablePos < 0 || vtablePos+2*flatbuffers.SizeVOffsetT > len(data) {
		return nil, &DeserializationError{Err: fmt.Errorf("%w: vtable offset %d", ErrMalformed, vtablePos)}
	}
	vtableLen := int(flatbuffers.GetVOffsetT(data[vtablePos:]))
	if vtableLen < 2*flatbuffers.SizeVOffsetT || vtablePos+vtableLen > len(data) {
		return nil, &DeserializationError{Err: fmt.Errorf("%w: vtable length %d", ErrMalformed, vtableLen)}
	}
	return logfb.GetRootAsEntryMetadata(data, 0), nil
}
