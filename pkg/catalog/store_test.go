package catalog

import (
	"bytes"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/timeseek/pkg/gen/go/fb/logfb"
	"github.com/unijord/timeseek/pkg/position"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DBPath: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type bufferSink struct {
	bytes.Buffer
	cancelled bool
	closed    bool
}

func (b *bufferSink) ID() string    { return "buffer" }
func (b *bufferSink) Cancel() error { b.cancelled = true; return nil }
func (b *bufferSink) Close() error  { b.closed = true; return nil }

type recordedEvent struct {
	event     EventType
	segmentID uint64
	record    *SegmentRecord
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) callback(event EventType, segmentID uint64, record *SegmentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event, segmentID, record})
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func TestStore_RecordSealed(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordSealed(SegmentMetadata{
		SegmentID: 2, EntryCount: 5, BeginPublishTimestamp: 201, EndPublishTimestamp: 300,
	}, 4096))
	require.NoError(t, s.RecordSealed(SegmentMetadata{
		SegmentID: 1, EntryCount: 10, BeginPublishTimestamp: 100, EndPublishTimestamp: 200,
	}, 8192))

	segments, err := s.Segments()
	require.NoError(t, err)
	assert.Equal(t, []SegmentMetadata{
		{SegmentID: 1, EntryCount: 10, BeginPublishTimestamp: 100, EndPublishTimestamp: 200},
		{SegmentID: 2, EntryCount: 5, BeginPublishTimestamp: 201, EndPublishTimestamp: 300},
	}, segments)

	record, err := s.Segment(1)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(8192), record.ByteSize)
	assert.Equal(t, uint64(2), record.AppliedIndex)
	assert.NotZero(t, record.SealedAt)

	index, term, err := s.AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)
	assert.Equal(t, localTerm, term)
}

func TestStore_RecordSealed_Duplicate(t *testing.T) {
	s := openTestStore(t)
	rec := &eventRecorder{}
	s.RegisterCallback(rec.callback)

	require.NoError(t, s.RecordSealed(SegmentMetadata{SegmentID: 7, EntryCount: 3, BeginPublishTimestamp: 10, EndPublishTimestamp: 20}, 100))
	require.NoError(t, s.RecordSealed(SegmentMetadata{SegmentID: 7, EntryCount: 99, BeginPublishTimestamp: 1, EndPublishTimestamp: 2}, 100))

	record, err := s.Segment(7)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, int64(3), record.EntryCount)
	assert.Equal(t, int64(10), record.BeginPublishTimestamp)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventSegmentSealed, events[0].event)
	assert.Equal(t, uint64(7), events[0].segmentID)

	index, _, err := s.AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index, "duplicate still consumes a log index")
}

func TestStore_RecordSealed_InvertedTimestamps(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordSealed(SegmentMetadata{
		SegmentID: 1, EntryCount: 4, BeginPublishTimestamp: 500, EndPublishTimestamp: 100,
	}, 0))

	record, err := s.Segment(1)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.False(t, record.HasTimestamps())
	assert.Equal(t, int64(4), record.EntryCount)
}

func TestStore_RecordSealed_UnknownTimestampsKept(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.RecordSealed(SegmentMetadata{SegmentID: 1, EntryCount: 4, EndPublishTimestamp: 100}, 0))

	segments, err := s.Segments()
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.False(t, segments[0].HasTimestamps())
	assert.Equal(t, int64(100), segments[0].EndPublishTimestamp)
}

func TestStore_RecordDeleted(t *testing.T) {
	s := openTestStore(t)
	rec := &eventRecorder{}
	s.RegisterCallback(rec.callback)

	require.NoError(t, s.RecordSealed(SegmentMetadata{SegmentID: 1, EntryCount: 1, BeginPublishTimestamp: 1, EndPublishTimestamp: 1}, 0))
	require.NoError(t, s.RecordSealed(SegmentMetadata{SegmentID: 2, EntryCount: 1, BeginPublishTimestamp: 2, EndPublishTimestamp: 2}, 0))
	require.NoError(t, s.RecordDeleted(1))
	require.NoError(t, s.RecordDeleted(42))

	segments, err := s.Segments()
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, uint64(2), segments[0].SegmentID)

	record, err := s.Segment(1)
	require.NoError(t, err)
	assert.Nil(t, record)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, EventSegmentDeleted, events[2].event)
	assert.Equal(t, uint64(1), events[2].segmentID)
	assert.Nil(t, events[2].record)
}

func TestStore_Apply(t *testing.T) {
	s := openTestStore(t)

	t.Run("empty_data", func(t *testing.T) {
		assert.Nil(t, s.Apply(&raft.Log{Index: 1, Data: nil}))
	})

	t.Run("malformed", func(t *testing.T) {
		res := s.Apply(&raft.Log{Index: 1, Data: []byte{1, 2, 3}})
		_, isErr := res.(error)
		assert.True(t, isErr)
	})

	t.Run("unknown_type", func(t *testing.T) {
		cb := NewCommandBuilder()
		builder := cb.getBuilder()
		data := cb.finish(builder, logfb.CommandTypeUNKNOWN, logfb.CommandPayloadNONE, 0)
		cb.putBuilder(builder)

		assert.Nil(t, s.Apply(&raft.Log{Index: 1, Data: data}))
	})

	t.Run("payload_mismatch", func(t *testing.T) {
		cb := NewCommandBuilder()
		builder := cb.getBuilder()
		logfb.SegmentDeletedCommandStart(builder)
		logfb.SegmentDeletedCommandAddSegmentId(builder, 1)
		payload := logfb.SegmentDeletedCommandEnd(builder)
		data := cb.finish(builder, logfb.CommandTypeSEGMENT_SEALED, logfb.CommandPayloadSegmentDeletedCommand, payload)
		cb.putBuilder(builder)

		res := s.Apply(&raft.Log{Index: 1, Data: data})
		_, isErr := res.(error)
		assert.True(t, isErr)
	})

	t.Run("raft_index_recorded", func(t *testing.T) {
		data := NewCommandBuilder().BuildSegmentSealed(SegmentMetadata{SegmentID: 9, EntryCount: 1}, 0)
		assert.Nil(t, s.Apply(&raft.Log{Index: 40, Term: 3, Type: raft.LogCommand, Data: data}))

		index, term, err := s.AppliedIndex()
		require.NoError(t, err)
		assert.Equal(t, uint64(40), index)
		assert.Equal(t, uint64(3), term)
	})
}

func TestStore_Cursors(t *testing.T) {
	s := openTestStore(t)

	require.ErrorIs(t, s.SaveCursor(CursorState{}), ErrEmptyCursor)

	require.NoError(t, s.SaveCursor(CursorState{Name: "b", MarkDelete: position.New(2, 4)}))
	require.NoError(t, s.SaveCursor(CursorState{Name: "a", MarkDelete: position.BeforeFirst(1), UpdatedAt: 77}))

	state, err := s.LoadCursor("b")
	require.NoError(t, err)
	assert.Equal(t, position.New(2, 4), state.MarkDelete)
	assert.NotZero(t, state.UpdatedAt)

	states, err := s.Cursors()
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "a", states[0].Name)
	assert.Equal(t, int64(77), states[0].UpdatedAt)
	assert.True(t, states[0].MarkDelete.IsBeforeFirst())
	assert.Equal(t, "b", states[1].Name)

	require.NoError(t, s.DeleteCursor("b"))
	require.NoError(t, s.DeleteCursor("missing"))

	_, err = s.LoadCursor("b")
	assert.ErrorIs(t, err, ErrCursorNotFound)
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := Open(Config{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, s.RecordSealed(SegmentMetadata{SegmentID: 1, EntryCount: 2, BeginPublishTimestamp: 5, EndPublishTimestamp: 6}, 0))
	require.NoError(t, s.Close())

	s, err = Open(Config{DBPath: path})
	require.NoError(t, err)
	defer s.Close()

	segments, err := s.Segments()
	require.NoError(t, err)
	require.Len(t, segments, 1)

	// local commands continue after the persisted index
	require.NoError(t, s.RecordSealed(SegmentMetadata{SegmentID: 2, EntryCount: 1}, 0))
	index, _, err := s.AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)
}

func TestStore_SnapshotRestore(t *testing.T) {
	src := openTestStore(t)
	require.NoError(t, src.RecordSealed(SegmentMetadata{SegmentID: 1, EntryCount: 10, BeginPublishTimestamp: 100, EndPublishTimestamp: 200}, 0))
	require.NoError(t, src.RecordSealed(SegmentMetadata{SegmentID: 2, EntryCount: 5, BeginPublishTimestamp: 201, EndPublishTimestamp: 300}, 0))
	require.NoError(t, src.SaveCursor(CursorState{Name: "sub", MarkDelete: position.New(1, 3)}))

	snap, err := src.Snapshot()
	require.NoError(t, err)

	sink := &bufferSink{}
	require.NoError(t, snap.Persist(sink))
	snap.Release()
	assert.True(t, sink.closed)
	assert.False(t, sink.cancelled)
	assert.NotZero(t, sink.Len())

	dst := openTestStore(t)
	require.NoError(t, dst.RecordSealed(SegmentMetadata{SegmentID: 99, EntryCount: 1}, 0))
	require.NoError(t, dst.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	want, err := src.Segments()
	require.NoError(t, err)
	got, err := dst.Segments()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	state, err := dst.LoadCursor("sub")
	require.NoError(t, err)
	assert.Equal(t, position.New(1, 3), state.MarkDelete)

	index, _, err := dst.AppliedIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)
}

func TestCommandBuilder_RoundTrip(t *testing.T) {
	data := NewCommandBuilder().BuildSegmentSealed(SegmentMetadata{
		SegmentID: 3, EntryCount: 8, BeginPublishTimestamp: 11, EndPublishTimestamp: 12,
	}, 512)

	cmd, err := decodeCommand(data)
	require.NoError(t, err)
	assert.Equal(t, logfb.CommandTypeSEGMENT_SEALED, cmd.Type())
	assert.Equal(t, logfb.CommandPayloadSegmentSealedCommand, cmd.PayloadType())
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "sealed", EventSegmentSealed.String())
	assert.Equal(t, "deleted", EventSegmentDeleted.String())
	assert.Equal(t, "EventType(9)", EventType(9).String())
}
