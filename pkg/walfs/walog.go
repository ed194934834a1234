package walfs

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	ErrSegmentNotFound    = errors.New("segment not found")
	ErrOffsetOutOfBounds  = errors.New("start offset is beyond segment size")
	ErrOffsetBeforeHeader = errors.New("start offset is within reserved segment header")
	ErrFsync              = errors.New("fsync error")
	ErrRecordTooLarge     = errors.New("record size exceeds maximum segment capacity")
	ErrActiveSegment      = errors.New("active segment cannot be removed")
)

// RotatedSegmentInfo contains information about a segment that was sealed during rotation.
type RotatedSegmentInfo struct {
	SegmentID  SegmentID
	EntryCount int64
	ByteSize   int64
}

type WALogOptions func(*WALog)

// DirectorySyncer syncs a directory path to stable storage.
type DirectorySyncer interface {
	SyncDir(dir string) error
}

// DirectorySyncFunc adapts a function to act as a DirectorySyncer.
type DirectorySyncFunc func(dir string) error

// SyncDir implements DirectorySyncer.
func (f DirectorySyncFunc) SyncDir(dir string) error {
	return f(dir)
}

// WithMaxSegmentSize options sets the MaxSize of the Segment file.
func WithMaxSegmentSize(size int64) WALogOptions {
	return func(sm *WALog) {
		sm.maxSegmentSize = size
	}
}

// WithBytesPerSync sets the threshold in bytes after which a msync is triggered.
// 0 disable this feature.
func WithBytesPerSync(bytes int64) WALogOptions {
	return func(sm *WALog) {
		sm.bytesPerSync = bytes
	}
}

// WithMSyncEveryWrite enables msync() after every write operation.
func WithMSyncEveryWrite(enabled bool) WALogOptions {
	return func(sm *WALog) {
		if enabled {
			sm.forceSyncEveryWrite = MsyncOnWrite
		}
	}
}

// WithOnSegmentRotated registers a callback invoked right after a segment is sealed.
// It runs on the writing goroutine with the write lock held, so it must not
// call back into the WALog.
func WithOnSegmentRotated(fn func(info RotatedSegmentInfo)) WALogOptions {
	return func(sm *WALog) {
		if fn != nil {
			sm.rotationCallback = fn
		}
	}
}

// WithDirectorySyncer overrides the directory syncer used for new segment files.
func WithDirectorySyncer(syncer DirectorySyncer) WALogOptions {
	return func(sm *WALog) {
		if syncer != nil {
			sm.dirSyncer = syncer
		}
	}
}

// WALog manages the lifecycle of each individual segments, including creation, rotation,
// recovery, and read/write operations.
type WALog struct {
	dir            string
	ext            string
	maxSegmentSize int64

	// number of bytes to write before calling msync in write path
	bytesPerSync        int64
	unSynced            int64
	forceSyncEveryWrite MsyncOption
	bytesPerSyncCalled  atomic.Int64
	segmentRotated      atomic.Int64
	rotationCallback    func(RotatedSegmentInfo)

	writeMu        sync.RWMutex
	currentSegment *Segment
	segments       map[SegmentID]*Segment

	// readers work on an immutable, ID ordered copy of segments so the
	// read path never contends with writers on writeMu.
	segmentSnapshot atomic.Pointer[[]*Segment]

	dirSyncer DirectorySyncer
}

// NewWALog returns an initialized WALog that manages the segments in the provided dir with the given ext.
func NewWALog(dir string, ext string, opts ...WALogOptions) (*WALog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	manager := &WALog{
		dir:                 dir,
		ext:                 ext,
		maxSegmentSize:      segmentSize,
		segments:            make(map[SegmentID]*Segment),
		forceSyncEveryWrite: MsyncNone,
		rotationCallback:    func(RotatedSegmentInfo) {},
		dirSyncer:           DirectorySyncFunc(syncDir),
	}

	for _, opt := range opts {
		opt(manager)
	}

	if err := manager.recoverSegments(); err != nil {
		return nil, fmt.Errorf("segment recovery failed: %w", err)
	}

	return manager, nil
}

func (wl *WALog) openSegment(id SegmentID) (*Segment, error) {
	isNew, err := isNewSegment(SegmentFileName(wl.dir, wl.ext, id))
	if err != nil {
		return nil, fmt.Errorf("checking segment %d state: %w", id, err)
	}

	seg, err := OpenSegmentFile(wl.dir, wl.ext, id,
		WithSegmentSize(wl.maxSegmentSize),
		WithSyncOption(wl.forceSyncEveryWrite),
		WithSegmentDirectorySyncer(wl.dirSyncer),
	)
	if err != nil {
		return nil, err
	}

	if isNew {
		if err := wl.dirSyncer.SyncDir(wl.dir); err != nil {
			_ = seg.Close()
			return nil, fmt.Errorf("fsync log directory: %w", err)
		}
	}

	return seg, nil
}

func (wl *WALog) recoverSegments() error {
	files, err := os.ReadDir(wl.dir)
	if err != nil {
		return fmt.Errorf("failed to read segment directory: %w", err)
	}

	var segmentIDs []SegmentID
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), wl.ext) {
			continue
		}
		// e.g. "000000001.seg" -> 1
		base := strings.TrimSuffix(file.Name(), wl.ext)
		id, err := strconv.ParseUint(base, 10, 64)
		if err != nil || id == 0 {
			continue
		}
		segmentIDs = append(segmentIDs, id)
	}

	sort.Slice(segmentIDs, func(i, j int) bool {
		return segmentIDs[i] < segmentIDs[j]
	})

	if len(segmentIDs) == 0 {
		seg, err := wl.openSegment(1)
		if err != nil {
			return fmt.Errorf("failed to create initial segment: %w", err)
		}
		wl.segments[1] = seg
		wl.currentSegment = seg
		wl.snapshotSegments()
		return nil
	}

	for i, id := range segmentIDs {
		seg, err := wl.openSegment(id)
		if err != nil {
			return fmt.Errorf("failed to open segment %d: %w", id, err)
		}
		if i < len(segmentIDs)-1 && !IsSealed(seg.GetFlags()) {
			if err := seg.SealSegment(); err != nil {
				return err
			}
		}
		wl.segments[id] = seg
		wl.currentSegment = seg
	}

	// the newest segment may have been sealed right before a shutdown.
	if wl.currentSegment.IsSealed() {
		if err := wl.rotateSegment(); err != nil {
			return err
		}
	}

	wl.snapshotSegments()
	return nil
}

func (wl *WALog) snapshotSegments() {
	segments := make([]*Segment, 0, len(wl.segments))
	for _, seg := range wl.segments {
		segments = append(segments, seg)
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].ID() < segments[j].ID()
	})

	wl.segmentSnapshot.Store(&segments)
}

// Sync flushes the current active segment's data to disk.
func (wl *WALog) Sync() error {
	wl.writeMu.RLock()
	activeSegment := wl.currentSegment
	wl.writeMu.RUnlock()
	if activeSegment == nil {
		return errors.New("no active segment")
	}
	if activeSegment.closed.Load() {
		return nil
	}
	if err := activeSegment.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrFsync, err)
	}
	return nil
}

// Close gracefully shuts down all segments managed by the WALog.
func (wl *WALog) Close() error {
	wl.writeMu.Lock()
	defer wl.writeMu.Unlock()
	var cErr error
	for _, seg := range wl.segments {
		if err := seg.Close(); err != nil {
			cErr = errors.Join(cErr, err)
		}
	}

	if wl.dirSyncer != nil {
		if err := wl.dirSyncer.SyncDir(wl.dir); err != nil {
			cErr = errors.Join(cErr, fmt.Errorf("fsync log directory: %w", err))
		}
	}
	return cErr
}

// Write appends the given data as a new record to the active segment,
// rotating first when the record does not fit.
func (wl *WALog) Write(data []byte) (RecordPosition, error) {
	wl.writeMu.Lock()
	defer wl.writeMu.Unlock()

	if wl.currentSegment == nil {
		return NilRecordPosition, errors.New("no active segment")
	}

	estimatedSize := recordOverhead(int64(len(data)))
	if estimatedSize > (wl.maxSegmentSize - int64(segmentHeaderSize)) {
		return NilRecordPosition, ErrRecordTooLarge
	}

	if wl.currentSegment.WillExceed(len(data)) {
		if err := wl.rotateSegment(); err != nil {
			return NilRecordPosition, fmt.Errorf("failed to rotate segment: %w", err)
		}
	}

	pos, err := wl.currentSegment.Write(data)
	if err != nil {
		return NilRecordPosition, fmt.Errorf("write failed: %w", err)
	}

	if err := wl.maybeSyncLocked(estimatedSize); err != nil {
		return NilRecordPosition, err
	}
	return pos, nil
}

// WriteBatch appends multiple records, rotating as many times as needed.
func (wl *WALog) WriteBatch(records [][]byte) ([]RecordPosition, error) {
	if len(records) == 0 {
		return nil, nil
	}

	wl.writeMu.Lock()
	defer wl.writeMu.Unlock()

	if wl.currentSegment == nil {
		return nil, errors.New("no active segment")
	}

	usable := wl.maxSegmentSize - int64(segmentHeaderSize)
	for _, data := range records {
		if recordOverhead(int64(len(data))) > usable {
			return nil, ErrRecordTooLarge
		}
	}

	var allPositions []RecordPosition
	remaining := records
	for len(remaining) > 0 {
		positions, written, batchErr := wl.currentSegment.WriteBatch(remaining)
		if batchErr != nil && !errors.Is(batchErr, ErrSegmentFull) {
			return allPositions, batchErr
		}
		allPositions = append(allPositions, positions...)

		var size int64
		for i := 0; i < written; i++ {
			size += recordOverhead(int64(len(remaining[i])))
		}
		if err := wl.maybeSyncLocked(size); err != nil {
			return allPositions, err
		}

		remaining = remaining[written:]
		if len(remaining) == 0 {
			break
		}
		if err := wl.rotateSegment(); err != nil {
			return allPositions, fmt.Errorf("failed to rotate segment during batch write: %w", err)
		}
	}

	return allPositions, nil
}

func (wl *WALog) maybeSyncLocked(written int64) error {
	wl.unSynced += written
	if wl.bytesPerSync <= 0 || wl.unSynced < wl.bytesPerSync {
		return nil
	}
	if err := wl.currentSegment.MSync(); err != nil {
		return err
	}
	wl.unSynced = 0
	wl.bytesPerSyncCalled.Add(1)
	return nil
}

func recordOverhead(dataLen int64) int64 {
	return alignUp(dataLen) + recordHeaderSize + recordTrailerMarkerSize
}

// BytesPerSyncCallCount how many times this was called on current active segment.
func (wl *WALog) BytesPerSyncCallCount() int64 {
	return wl.bytesPerSyncCalled.Load()
}

func (wl *WALog) SegmentRotatedCount() int64 {
	return wl.segmentRotated.Load()
}

// Read returns the data from the provided record position if found.
// IMPORTANT: The returned `[]byte` is a slice of a memory-mapped file, so data must not be retained or modified.
// If the data needs to be used beyond the lifetime of the segment, the caller MUST copy it.
func (wl *WALog) Read(pos RecordPosition) ([]byte, error) {
	wl.writeMu.RLock()
	seg, ok := wl.segments[pos.SegmentID]
	wl.writeMu.RUnlock()

	if !ok {
		return nil, ErrSegmentNotFound
	}

	if pos.Offset < segmentHeaderSize {
		return nil, ErrOffsetBeforeHeader
	}

	if pos.Offset > seg.GetSegmentSize() {
		return nil, ErrOffsetOutOfBounds
	}

	data, _, err := seg.Read(pos.Offset)
	if err != nil {
		return nil, fmt.Errorf("read failed at segment %d offset %d: %w", pos.SegmentID, pos.Offset, err)
	}

	return data, nil
}

// ReadEntry returns a copy of the entry at the given in-segment index.
// The segment is pinned for the duration of the read so a concurrent
// removal waits for it.
func (wl *WALog) ReadEntry(id SegmentID, index int64) ([]byte, error) {
	seg, ok := wl.Segment(id)
	if !ok || !seg.acquire() {
		return nil, fmt.Errorf("%w: segment %d", ErrSegmentNotFound, id)
	}
	defer seg.releaseRef()

	data, err := seg.ReadEntry(index)
	if err != nil {
		return nil, fmt.Errorf("read entry %d:%d: %w", id, index, err)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Segments returns the segments in ascending ID order.
func (wl *WALog) Segments() []*Segment {
	return *wl.segmentSnapshot.Load()
}

// Segment looks up a live segment by ID.
func (wl *WALog) Segment(id SegmentID) (*Segment, bool) {
	wl.writeMu.RLock()
	defer wl.writeMu.RUnlock()
	seg, ok := wl.segments[id]
	return seg, ok
}

// Current returns a pointer to the currently active segment.
func (wl *WALog) Current() *Segment {
	wl.writeMu.RLock()
	defer wl.writeMu.RUnlock()
	return wl.currentSegment
}

// SegmentIndex returns the physical index entries for a segment. For sealed segments the
// returned slice is complete. For the active segment, the slice reflects the entries written so far.
func (wl *WALog) SegmentIndex(id SegmentID) ([]IndexEntry, error) {
	seg, ok := wl.Segment(id)
	if !ok {
		return nil, fmt.Errorf("%w: segment %d", ErrSegmentNotFound, id)
	}
	return seg.IndexEntries(), nil
}

// RotateSegment seals the current segment and opens the next one.
func (wl *WALog) RotateSegment() error {
	wl.writeMu.Lock()
	defer wl.writeMu.Unlock()
	return wl.rotateSegment()
}

func (wl *WALog) rotateSegment() error {
	var sealedInfo RotatedSegmentInfo

	if wl.currentSegment != nil && !IsSealed(wl.currentSegment.GetFlags()) {
		sealedInfo = RotatedSegmentInfo{
			SegmentID:  wl.currentSegment.ID(),
			EntryCount: wl.currentSegment.EntryCount(),
			ByteSize:   wl.currentSegment.WriteOffset(),
		}

		if err := wl.currentSegment.SealSegment(); err != nil {
			return fmt.Errorf("failed to seal current segment: %w", err)
		}
		if err := wl.currentSegment.Sync(); err != nil {
			return err
		}
		wl.currentSegment.MarkSealedInMemory()
	}

	var newID SegmentID = 1
	if wl.currentSegment != nil {
		newID = wl.currentSegment.ID() + 1
	}

	newSegment, err := wl.openSegment(newID)
	if err != nil {
		return fmt.Errorf("failed to create new segment: %w", err)
	}

	wl.segments[newID] = newSegment
	wl.currentSegment = newSegment
	wl.bytesPerSyncCalled.Store(0)
	wl.segmentRotated.Add(1)
	wl.snapshotSegments()

	if sealedInfo.SegmentID > 0 {
		wl.rotationCallback(sealedInfo)
	}

	return nil
}

// RemoveSegmentsBefore drops every sealed segment whose ID is lower than id and
// returns the removed IDs in ascending order. Files of segments with open
// readers are deleted once the last reader is closed.
func (wl *WALog) RemoveSegmentsBefore(id SegmentID) ([]SegmentID, error) {
	wl.writeMu.Lock()
	defer wl.writeMu.Unlock()

	if wl.currentSegment != nil && id > wl.currentSegment.ID() {
		return nil, fmt.Errorf("%w: segment %d", ErrActiveSegment, wl.currentSegment.ID())
	}

	var removed []SegmentID
	for segID, seg := range wl.segments {
		if segID >= id || seg == wl.currentSegment {
			continue
		}
		seg.MarkForDeletion()
		delete(wl.segments, segID)
		removed = append(removed, segID)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	wl.snapshotSegments()

	slog.Debug("[walfs]",
		slog.String("message", "segments queued for removal"),
		slog.Int("count", len(removed)),
		slog.Uint64("before", id),
	)
	return removed, nil
}

// https://man7.org/linux/man-pages/man2/fsync.2.html
// Calling fsync() does not necessarily ensure that the entry in the
// directory containing the file has also reached disk.  For that an
// explicit fsync() on a file descriptor for the directory is also
// needed.
func syncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	return df.Sync()
}

// Reader is a sequential reader across all segments of a WALog.
// Reader is not safe for concurrent use.
type Reader struct {
	segments      []*Segment
	segmentIndex  int
	currentReader *SegmentReader
	startOffset   int64
}

// NewReader returns a Reader positioned at the oldest segment.
func (wl *WALog) NewReader() *Reader {
	return &Reader{segments: *wl.segmentSnapshot.Load()}
}

// Close closes all segment readers to release their references.
// IMPORTANT: This method MUST be called after the Reader is no longer needed.
func (r *Reader) Close() {
	if r.currentReader != nil {
		r.currentReader.Close()
	}
}

// Next returns the next record and its position.
// IMPORTANT: The returned `[]byte` is a slice of a memory-mapped file, so data must not be retained or modified.
func (r *Reader) Next() ([]byte, RecordPosition, error) {
	for {
		if r.currentReader == nil {
			if r.segmentIndex >= len(r.segments) {
				return nil, NilRecordPosition, io.EOF
			}
			seg := r.segments[r.segmentIndex]
			r.segmentIndex++

			reader := seg.NewReader()
			if reader == nil {
				continue
			}
			if r.segmentIndex == 1 && r.startOffset > segmentHeaderSize {
				reader.readOffset = r.startOffset
			}
			r.currentReader = reader
		}

		reader := r.currentReader
		data, pos, err := reader.Next()
		if err == nil {
			return data, pos, nil
		}
		if errors.Is(err, io.EOF) {
			reader.Close()
			r.currentReader = nil
			continue
		}
		return nil, NilRecordPosition, err
	}
}

// NewReaderWithStart returns a Reader that begins at pos.
// If SegmentID is 0, the reader will begin from the very start of the log.
func (wl *WALog) NewReaderWithStart(pos RecordPosition) (*Reader, error) {
	if pos.SegmentID == 0 {
		return wl.NewReader(), nil
	}

	segments := *wl.segmentSnapshot.Load()
	start := sort.Search(len(segments), func(i int) bool {
		return segments[i].ID() >= pos.SegmentID
	})
	if start == len(segments) || segments[start].ID() != pos.SegmentID {
		return nil, ErrSegmentNotFound
	}

	seg := segments[start]
	if pos.Offset > seg.GetSegmentSize() {
		return nil, ErrOffsetOutOfBounds
	}
	startOffset := int64(segmentHeaderSize)
	if pos.Offset > segmentHeaderSize {
		startOffset = pos.Offset
	}

	return &Reader{
		segments:    segments[start:],
		startOffset: startOffset,
	}, nil
}
