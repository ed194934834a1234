package walfs

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edsrzf/mmap-go"
)

var (
	ErrClosed              = errors.New("the Segment file is closed")
	ErrInvalidCRC          = errors.New("invalid crc, the data may be corrupted")
	ErrCorruptHeader       = errors.New("corrupt record header, invalid length")
	ErrIncompleteChunk     = errors.New("incomplete or torn write detected at record trailer")
	ErrSegmentSealed       = errors.New("cannot write to sealed segment")
	ErrSegmentReaderClosed = errors.New("segment reader is closed")
	ErrNoNewData           = errors.New("no new data yet")
	ErrSegmentFull         = errors.New("segment is full, cannot write more records")
	ErrEntryNotFound       = errors.New("entry index out of range")
)

var (
	// NilRecordPosition is a sentinel value representing an nil RecordPosition.
	NilRecordPosition = RecordPosition{}

	crcTable = crc32.MakeTable(crc32.Castagnoli)
	// marker written after every record to detect torn/incomplete writes.
	trailerMarker = []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xFE, 0xED, 0xFA, 0xCE}
)

const trailerWord uint64 = 0xCEFAEDFEEFBEADDE

const (
	StateOpen = iota
	StateClosing

	// 4 GiB.
	maxSegmentSize = 4 * 1024 * 1024 * 1024

	FlagActive uint32 = 1 << iota
	FlagSealed uint32 = 1 << 1

	segmentHeaderSize = 64
	// "TSEK"
	segmentMagicNumber   = 0x5453454B
	segmentHeaderVersion = 1

	// layout: 4 (checksum) + 4 (length) = 8 bytes
	recordHeaderSize = 8
	// default Segment size of 16MB.
	segmentSize  = 16 * 1024 * 1024
	fileModePerm = 0644
	// each index entry stores offset + length (16 bytes).
	indexEntrySize = 16

	// size of the trailer used to detect torn writes.
	// Recovery stops at the first record whose trailer is missing or corrupted.
	// SEE: https://github.com/etcd-io/etcd/issues/6191#issuecomment-240268979
	recordTrailerMarkerSize = 8
	// every record (header, payload, trailer) starts on an 8 byte boundary.
	// SEE: https://github.com/boltdb/bolt/issues/548
	alignSize int64 = 8
	alignMask int64 = alignSize - 1
)

type MsyncOption int

const (
	// MsyncNone skips msync after write.
	MsyncNone MsyncOption = iota

	// MsyncOnWrite calls msync (Flush) after every write.
	MsyncOnWrite
)

type SegmentID = uint64

// SegmentHeader encodes all the necessary information about the segment file at the top of the file.
// Its Size is 64 byte once encoded.
type SegmentHeader struct {
	// at 0
	Magic uint32
	// at 4
	Version uint32
	// at 8
	CreatedAt int64
	// at 16
	LastModifiedAt int64
	// at 24
	WriteOffset int64
	// at 32
	EntryCount int64
	// at 40
	Flags uint32
	// at 44 - 51, zero until sealed
	SealedAt int64
	// 52-55 reserved
	_ [4]byte

	// at 56 byte: - CRC32 of first 56 bytes
	CRC uint32
	// at 60 - padding to align to 64B
	_ uint32
}

/* Record Layout:
┌──────────────────────────────────────────────────────────────┐
│ 0..3   CRC32C(header[4:8] || data)                           │
│ 4..7   u32 length                                            │
│ 8..(8+len-1)   data                                          │
│ (8+len)..(16+len-1)  trailer 0xDEADBEEFFEEDFACE              │
│ ... zero padding to next 8-byte boundary                     │
└──────────────────────────────────────────────────────────────┘
*/

func decodeSegmentHeader(buf []byte) (*SegmentHeader, error) {
	if len(buf) < segmentHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}

	crc := binary.LittleEndian.Uint32(buf[56:60])
	computed := crc32.Checksum(buf[0:56], crcTable)
	if crc != computed {
		return nil, fmt.Errorf("segment metadata CRC mismatch: expected %08x, got %08x", crc, computed)
	}

	meta := &SegmentHeader{
		Magic:          binary.LittleEndian.Uint32(buf[0:4]),
		Version:        binary.LittleEndian.Uint32(buf[4:8]),
		CreatedAt:      int64(binary.LittleEndian.Uint64(buf[8:16])),
		LastModifiedAt: int64(binary.LittleEndian.Uint64(buf[16:24])),
		WriteOffset:    int64(binary.LittleEndian.Uint64(buf[24:32])),
		EntryCount:     int64(binary.LittleEndian.Uint64(buf[32:40])),
		Flags:          binary.LittleEndian.Uint32(buf[40:44]),
		SealedAt:       int64(binary.LittleEndian.Uint64(buf[44:52])),
	}
	if meta.Magic != segmentMagicNumber {
		return nil, fmt.Errorf("unexpected segment magic %08x", meta.Magic)
	}
	return meta, nil
}

// RecordPosition is the physical location of a record within a segment.
type RecordPosition struct {
	SegmentID SegmentID
	Offset    int64
}

func (rp RecordPosition) String() string {
	return fmt.Sprintf("SegmentID=%d, Offset=%d", rp.SegmentID, rp.Offset)
}

type segmentIndexEntry struct {
	Offset uint64
	Length uint32
}

// IndexEntry exposes a record's physical location within a segment.
type IndexEntry struct {
	SegmentID SegmentID
	Offset    int64
	Length    uint32
}

// Segment represents a single log segment backed by a memory-mapped file.
type Segment struct {
	path        string
	id          SegmentID
	fd          *os.File
	mmapData    mmap.MMap
	mmapSize    int64
	writeOffset atomic.Int64
	closed      atomic.Bool
	header      []byte

	refCount          atomic.Int64
	state             atomic.Int64
	markedForDeletion atomic.Bool
	readerIDCounter   atomic.Uint64
	activeReaders     *readerTracker
	closeCond         *sync.Cond

	isSealed       atomic.Bool
	inMemorySealed atomic.Bool
	// guards indexEntries and the header bytes in mmapData.
	writeMu    sync.RWMutex
	syncOption MsyncOption
	dirSyncer  DirectorySyncer

	indexPath    string
	indexEntries []segmentIndexEntry
	indexFlush   sync.WaitGroup
}

// WithSyncOption sets the sync option for the Segment.
func WithSyncOption(opt MsyncOption) func(*Segment) {
	return func(s *Segment) {
		s.syncOption = opt
	}
}

// WithSegmentDirectorySyncer sets the directory syncer used after destructive operations.
func WithSegmentDirectorySyncer(syncer DirectorySyncer) func(*Segment) {
	return func(s *Segment) {
		if syncer != nil {
			s.dirSyncer = syncer
		}
	}
}

// WithSegmentSize sets the size for the Segment.
func WithSegmentSize(size int64) func(*Segment) {
	return func(s *Segment) {
		s.mmapSize = size
	}
}

// OpenSegmentFile opens an existing segment file or create a new one if not present.
// If SegmentFile is sealed it doesn't scan its content while opening.
func OpenSegmentFile(dirPath, extName string, id SegmentID, opts ...func(*Segment)) (*Segment, error) {
	path := SegmentFileName(dirPath, extName, id)
	isNew, err := isNewSegment(path)
	if err != nil {
		return nil, err
	}

	s := &Segment{
		path:          path,
		id:            id,
		header:        make([]byte, recordHeaderSize),
		mmapSize:      segmentSize,
		syncOption:    MsyncNone,
		activeReaders: newReaderTracker(),
		dirSyncer:     DirectorySyncFunc(syncDir),
	}
	s.state.Store(StateOpen)
	s.closeCond = sync.NewCond(&sync.Mutex{})

	for _, opt := range opts {
		opt(s)
	}

	if s.mmapSize > maxSegmentSize {
		return nil, fmt.Errorf("segment size exceeds 4 GiB limit: %d bytes", s.mmapSize)
	}
	if !isNew {
		// an existing file keeps the size it was created with.
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat segment: %w", err)
		}
		if info.Size() >= segmentHeaderSize {
			s.mmapSize = info.Size()
		}
	}

	fd, mmapData, err := s.prepareSegmentFile(path)
	if err != nil {
		return nil, err
	}
	s.fd = fd
	s.mmapData = mmapData

	offset := int64(segmentHeaderSize)
	if isNew {
		writeInitialMetadata(mmapData)
	} else {
		meta, err := decodeSegmentHeader(mmapData[:segmentHeaderSize])
		if err != nil {
			_ = mmapData.Unmap()
			_ = fd.Close()
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}

		if IsSealed(meta.Flags) {
			offset = meta.WriteOffset
			s.isSealed.Store(true)
		} else {
			// the header offset of an unsealed segment can lag behind after a crash,
			// so the true end of valid data is found by scanning.
			offset = s.scanForLastOffset()
		}
	}
	s.writeOffset.Store(offset)

	if err := s.setupIndexFile(dirPath, extName, isNew); err != nil {
		_ = mmapData.Unmap()
		_ = fd.Close()
		return nil, err
	}

	if !isNew && !s.isSealed.Load() {
		s.syncHeaderWithIndex()
	}

	return s, nil
}

// syncHeaderWithIndex rewrites the offset and count after a recovery scan.
func (seg *Segment) syncHeaderWithIndex() {
	binary.LittleEndian.PutUint64(seg.mmapData[24:32], uint64(seg.writeOffset.Load()))
	binary.LittleEndian.PutUint64(seg.mmapData[32:40], uint64(len(seg.indexEntries)))
	seg.updateHeaderCRC()
}

func (seg *Segment) updateHeaderCRC() {
	crc := crc32.Checksum(seg.mmapData[0:56], crcTable)
	binary.LittleEndian.PutUint32(seg.mmapData[56:60], crc)
}

func (seg *Segment) setupIndexFile(dirPath, extName string, isNew bool) error {
	seg.indexPath = SegmentIndexFileName(dirPath, extName, seg.id)
	seg.indexEntries = make([]segmentIndexEntry, 0)

	if isNew {
		return nil
	}

	if seg.isSealed.Load() {
		if err := seg.loadIndexFromFile(); err == nil {
			return nil
		}
		seg.buildIndexFromSegment()
		return seg.flushIndexToFile(seg.indexEntries)
	}

	seg.buildIndexFromSegment()
	return nil
}

func (seg *Segment) loadIndexFromFile() error {
	file, err := os.Open(seg.indexPath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat index: %w", err)
	}
	if info.Size()%indexEntrySize != 0 {
		return fmt.Errorf("corrupt index file size: %d", info.Size())
	}

	count := int(info.Size() / indexEntrySize)
	entries := make([]segmentIndexEntry, 0, count)
	reader := bufio.NewReaderSize(file, 32*1024)
	buf := make([]byte, indexEntrySize)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return fmt.Errorf("read index: %w", err)
		}
		entries = append(entries, segmentIndexEntry{
			Offset: binary.LittleEndian.Uint64(buf[0:8]),
			Length: binary.LittleEndian.Uint32(buf[8:12]),
		})
	}
	seg.indexEntries = entries
	return nil
}

func (seg *Segment) buildIndexFromSegment() {
	seg.indexEntries = seg.indexEntries[:0]
	seg.iterateValidEntries(func(offset int64, length uint32) bool {
		seg.indexEntries = append(seg.indexEntries, segmentIndexEntry{
			Offset: uint64(offset),
			Length: length,
		})
		return true
	})
}

func (seg *Segment) flushIndexToFile(entries []segmentIndexEntry) error {
	if seg.indexPath == "" {
		return nil
	}
	indexDir := filepath.Dir(seg.indexPath)

	tmpFile, err := os.CreateTemp(indexDir, filepath.Base(seg.indexPath)+".tmp")
	if err != nil {
		return fmt.Errorf("open index for flush: %w", err)
	}
	tmpPath := tmpFile.Name()

	writer := bufio.NewWriterSize(tmpFile, 32*1024)
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	buf := make([]byte, indexEntrySize)
	for _, entry := range entries {
		binary.LittleEndian.PutUint64(buf[0:8], entry.Offset)
		binary.LittleEndian.PutUint32(buf[8:12], entry.Length)
		if _, err := writer.Write(buf); err != nil {
			return fmt.Errorf("write index entry: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush index writer: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync index file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, seg.indexPath); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}

	if seg.dirSyncer != nil {
		if err := seg.dirSyncer.SyncDir(indexDir); err != nil {
			return fmt.Errorf("fsync index directory: %w", err)
		}
	}
	return nil
}

func (seg *Segment) appendIndexEntry(offset int64, length uint32) {
	seg.indexEntries = append(seg.indexEntries, segmentIndexEntry{
		Offset: uint64(offset),
		Length: length,
	})
}

// IndexEntries returns a copy of the index metadata for this segment.
func (seg *Segment) IndexEntries() []IndexEntry {
	seg.writeMu.RLock()
	defer seg.writeMu.RUnlock()

	entries := make([]IndexEntry, len(seg.indexEntries))
	for i, entry := range seg.indexEntries {
		entries[i] = IndexEntry{
			SegmentID: seg.id,
			Offset:    int64(entry.Offset),
			Length:    entry.Length,
		}
	}
	return entries
}

// EntryCount returns the number of records indexed in the segment.
// Unlike GetEntryCount it does not touch the on-disk header.
func (seg *Segment) EntryCount() int64 {
	seg.writeMu.RLock()
	defer seg.writeMu.RUnlock()
	return int64(len(seg.indexEntries))
}

// ReadEntry reads the record stored at the given in-segment entry index.
// The same retention rules as Read apply to the returned slice.
func (seg *Segment) ReadEntry(index int64) ([]byte, error) {
	seg.writeMu.RLock()
	count := int64(len(seg.indexEntries))
	if index < 0 || index >= count {
		seg.writeMu.RUnlock()
		return nil, fmt.Errorf("%w: entry %d of %d in segment %d", ErrEntryNotFound, index, count, seg.id)
	}
	entry := seg.indexEntries[index]
	seg.writeMu.RUnlock()

	data, _, err := seg.Read(int64(entry.Offset))
	if err != nil {
		return nil, err
	}
	if uint32(len(data)) != entry.Length {
		return nil, fmt.Errorf("%w: index length %d, record length %d", ErrCorruptHeader, entry.Length, len(data))
	}
	return data, nil
}

func (seg *Segment) flushIndexAsync() {
	entriesCopy := append([]segmentIndexEntry(nil), seg.indexEntries...)
	seg.indexFlush.Add(1)
	go func() {
		defer seg.indexFlush.Done()
		if err := seg.flushIndexToFile(entriesCopy); err != nil {
			slog.Error("[walfs]",
				slog.String("message", "failed to flush index"),
				slog.Uint64("segment_id", seg.id),
				slog.Any("error", err))
		}
	}()
}

// WaitForIndexFlush blocks until any pending index flush operations complete.
func (seg *Segment) WaitForIndexFlush() {
	seg.indexFlush.Wait()
}

// IsSealed returns if the provided flag has sealed bit set.
func IsSealed(flags uint32) bool {
	return flags&FlagSealed != 0
}

func IsActive(flags uint32) bool {
	return flags&FlagActive != 0
}

// SealSegment seals the given segment.
func (seg *Segment) SealSegment() error {
	seg.writeMu.Lock()
	defer seg.writeMu.Unlock()

	if seg.closed.Load() {
		return ErrClosed
	}

	mmapData := seg.mmapData

	now := uint64(time.Now().UnixNano())
	binary.LittleEndian.PutUint64(mmapData[16:24], now)
	binary.LittleEndian.PutUint64(mmapData[24:32], uint64(seg.writeOffset.Load()))
	flags := binary.LittleEndian.Uint32(mmapData[40:44])
	flags &^= FlagActive
	flags |= FlagSealed
	binary.LittleEndian.PutUint32(mmapData[40:44], flags)
	binary.LittleEndian.PutUint64(mmapData[44:52], now)

	seg.updateHeaderCRC()
	seg.isSealed.Store(true)

	seg.flushIndexAsync()
	return nil
}

// MarkSealedInMemory marks the segment as sealed in memory.
// Reads of in-memory sealed segments skip the CRC check, the bytes never left this process.
func (seg *Segment) MarkSealedInMemory() {
	seg.inMemorySealed.Store(true)
}

// IsInMemorySealed returns true if the segment has been marked as sealed in memory.
func (seg *Segment) IsInMemorySealed() bool {
	return seg.inMemorySealed.Load()
}

// IsSealed returns true if the segment is sealed (on-disk flag).
func (seg *Segment) IsSealed() bool {
	return seg.isSealed.Load()
}

func isNewSegment(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true, nil
	} else if err != nil {
		return false, fmt.Errorf("stat error: %w", err)
	}
	return false, nil
}

func (seg *Segment) prepareSegmentFile(path string) (*os.File, mmap.MMap, error) {
	fd, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, fileModePerm)
	if err != nil {
		return nil, nil, err
	}
	if err := fd.Truncate(seg.mmapSize); err != nil {
		fd.Close()
		return nil, nil, fmt.Errorf("truncate error: %w", err)
	}
	mmapData, err := mmap.Map(fd, mmap.RDWR, 0)
	if err != nil {
		fd.Close()
		return nil, nil, fmt.Errorf("mmap error: %w", err)
	}
	return fd, mmapData, nil
}

func writeInitialMetadata(mmapData mmap.MMap) {
	binary.LittleEndian.PutUint32(mmapData[0:4], segmentMagicNumber)
	binary.LittleEndian.PutUint32(mmapData[4:8], segmentHeaderVersion)
	now := uint64(time.Now().UnixNano())
	binary.LittleEndian.PutUint64(mmapData[8:16], now)
	binary.LittleEndian.PutUint64(mmapData[16:24], now)
	binary.LittleEndian.PutUint64(mmapData[24:32], segmentHeaderSize)
	binary.LittleEndian.PutUint64(mmapData[32:40], 0)
	binary.LittleEndian.PutUint32(mmapData[40:44], FlagActive)
	binary.LittleEndian.PutUint64(mmapData[44:52], 0)
	crc := crc32.Checksum(mmapData[0:56], crcTable)
	binary.LittleEndian.PutUint32(mmapData[56:60], crc)
}

func (seg *Segment) scanForLastOffset() int64 {
	return seg.iterateValidEntries(nil)
}

func (seg *Segment) iterateValidEntries(visitor func(offset int64, length uint32) bool) int64 {
	var offset int64 = segmentHeaderSize

	for offset+recordHeaderSize <= seg.mmapSize {
		offset = alignUp(offset)
		if offset+recordHeaderSize > seg.mmapSize {
			break
		}

		header := seg.mmapData[offset : offset+recordHeaderSize]
		length := binary.LittleEndian.Uint32(header[4:8])
		entrySize := alignUp(int64(recordHeaderSize) + int64(length) + recordTrailerMarkerSize)

		if offset+entrySize > seg.mmapSize {
			break
		}

		data := seg.mmapData[offset+recordHeaderSize : offset+recordHeaderSize+int64(length)]
		trailer := seg.mmapData[offset+recordHeaderSize+int64(length) : offset+recordHeaderSize+int64(length)+recordTrailerMarkerSize]

		savedSum := binary.LittleEndian.Uint32(header[:4])
		computedSum := crc32Checksum(header[4:], data)

		if savedSum == 0 && length == 0 {
			break
		}
		if savedSum == 0 || savedSum != computedSum || !bytes.Equal(trailer, trailerMarker) {
			slog.Warn("[walfs]",
				slog.String("message", "stopping segment recovery at invalid record"),
				slog.Int64("offset", offset),
				slog.Uint64("saved", uint64(savedSum)),
				slog.Uint64("computed", uint64(computedSum)),
				slog.String("segment", seg.path),
				slog.Bool("trailer_corrupted", !bytes.Equal(trailer, trailerMarker)),
			)
			break
		}

		if visitor != nil && !visitor(offset, length) {
			offset += entrySize
			break
		}

		offset += entrySize
	}

	return offset
}

// alignUp returns the next multiple of alignSize greater than or equal to n.
//
//go:inline
func alignUp(n int64) int64 {
	return (n + alignMask) & ^alignMask
}

// Write appends data to the segment and returns the position it was written at.
func (seg *Segment) Write(data []byte) (RecordPosition, error) {
	if seg.closed.Load() || seg.state.Load() != StateOpen {
		return NilRecordPosition, ErrClosed
	}

	seg.writeMu.Lock()
	defer seg.writeMu.Unlock()

	flags := binary.LittleEndian.Uint32(seg.mmapData[40:44])
	if IsSealed(flags) {
		return NilRecordPosition, ErrSegmentSealed
	}

	offset := seg.writeOffset.Load()
	entrySize := alignUp(int64(recordHeaderSize) + int64(len(data)) + recordTrailerMarkerSize)
	if offset+entrySize > seg.mmapSize {
		return NilRecordPosition, ErrSegmentFull
	}

	seg.writeRecordAt(offset, data)

	newOffset := offset + entrySize
	seg.writeOffset.Store(newOffset)
	seg.appendIndexEntry(offset, uint32(len(data)))
	seg.commitHeader(newOffset, 1)

	if seg.syncOption == MsyncOnWrite {
		if err := seg.mmapData.Flush(); err != nil {
			return NilRecordPosition, fmt.Errorf("mmap flush error after write: %w", err)
		}
	}

	return RecordPosition{
		SegmentID: seg.id,
		Offset:    offset,
	}, nil
}

// writeRecordAt frames data at offset and returns the aligned record size.
func (seg *Segment) writeRecordAt(offset int64, data []byte) int64 {
	dataSize := int64(len(data))
	rawSize := int64(recordHeaderSize) + dataSize + recordTrailerMarkerSize
	entrySize := alignUp(rawSize)

	binary.LittleEndian.PutUint32(seg.header[4:8], uint32(len(data)))
	sum := crc32Checksum(seg.header[4:], data)
	binary.LittleEndian.PutUint32(seg.header[:4], sum)

	copy(seg.mmapData[offset:], seg.header)
	copy(seg.mmapData[offset+recordHeaderSize:], data)
	copy(seg.mmapData[offset+recordHeaderSize+dataSize:], trailerMarker)

	for i := offset + rawSize; i < offset+entrySize; i++ {
		seg.mmapData[i] = 0
	}
	return entrySize
}

func (seg *Segment) commitHeader(newOffset int64, added uint64) {
	binary.LittleEndian.PutUint64(seg.mmapData[24:32], uint64(newOffset))
	prevCount := binary.LittleEndian.Uint64(seg.mmapData[32:40])
	binary.LittleEndian.PutUint64(seg.mmapData[32:40], prevCount+added)
	binary.LittleEndian.PutUint64(seg.mmapData[16:24], uint64(time.Now().UnixNano()))
	seg.updateHeaderCRC()
}

// WriteBatch writes multiple records to the segment in a single operation.
// If the segment fills up mid-batch, it returns positions for records that fit,
// the count of records written, and ErrSegmentFull.
// Callers should retry remaining records in a new segment.
func (seg *Segment) WriteBatch(records [][]byte) ([]RecordPosition, int, error) {
	if len(records) == 0 {
		return nil, 0, nil
	}

	if seg.closed.Load() || seg.state.Load() != StateOpen {
		return nil, 0, ErrClosed
	}

	seg.writeMu.Lock()
	defer seg.writeMu.Unlock()

	flags := binary.LittleEndian.Uint32(seg.mmapData[40:44])
	if IsSealed(flags) {
		return nil, 0, ErrSegmentSealed
	}

	currentOffset := seg.writeOffset.Load()
	positions := make([]RecordPosition, 0, len(records))

	for i, data := range records {
		entrySize := alignUp(int64(recordHeaderSize) + int64(len(data)) + recordTrailerMarkerSize)
		if entrySize > seg.mmapSize-segmentHeaderSize {
			return nil, 0, fmt.Errorf("record at index %d (size %d bytes) exceeds maximum segment capacity", i, len(data))
		}
		if currentOffset+entrySize > seg.mmapSize {
			break
		}
		seg.writeRecordAt(currentOffset, data)
		seg.appendIndexEntry(currentOffset, uint32(len(data)))
		positions = append(positions, RecordPosition{SegmentID: seg.id, Offset: currentOffset})
		currentOffset += entrySize
	}

	written := len(positions)
	if written == 0 {
		return nil, 0, ErrSegmentFull
	}

	seg.writeOffset.Store(currentOffset)
	seg.commitHeader(currentOffset, uint64(written))

	if seg.syncOption == MsyncOnWrite {
		if err := seg.mmapData.Flush(); err != nil {
			return positions, written, fmt.Errorf("mmap flush error after batch write: %w", err)
		}
	}

	if written < len(records) {
		return positions, written, ErrSegmentFull
	}
	return positions, written, nil
}

// Read reads the record data at the specified offset within the segment.
// IMP: Don't retain any data.
// This method returns a slice of the mmap'd file content corresponding to the record payload.
// so slice becomes invalid immediately after the segment is closed or unmapped.
func (seg *Segment) Read(offset int64) ([]byte, RecordPosition, error) {
	if seg.closed.Load() {
		return nil, NilRecordPosition, ErrClosed
	}
	if offset < segmentHeaderSize {
		return nil, NilRecordPosition, ErrCorruptHeader
	}
	if offset+recordHeaderSize > seg.mmapSize {
		return nil, NilRecordPosition, io.EOF
	}

	writeOffset := seg.WriteOffset()
	header := seg.mmapData[offset : offset+recordHeaderSize]
	length := binary.LittleEndian.Uint32(header[4:8])
	dataSize := int64(length)

	entrySize := alignUp(int64(recordHeaderSize) + dataSize + recordTrailerMarkerSize)

	if offset+recordHeaderSize > writeOffset || dataSize > writeOffset-offset-recordHeaderSize {
		return nil, NilRecordPosition, ErrCorruptHeader
	}

	if offset+entrySize > writeOffset {
		return nil, NilRecordPosition, io.EOF
	}

	// the trailer is validated before the data so a corrupted length never reads out of bounds.
	trailerOffset := offset + recordHeaderSize + dataSize
	end := trailerOffset + recordTrailerMarkerSize
	if end > seg.mmapSize {
		return nil, NilRecordPosition, ErrIncompleteChunk
	}

	// comparing as uint64 instead of bytes.Equal kept runtime.memequal out of the profile.
	word := binary.LittleEndian.Uint64(seg.mmapData[trailerOffset:end])
	if word != trailerWord {
		return nil, NilRecordPosition, ErrIncompleteChunk
	}

	data := seg.mmapData[offset+recordHeaderSize : offset+recordHeaderSize+dataSize]

	// segments recovered sealed from disk are CRC checked on every read.
	// the active segment and segments sealed in this process live in our own
	// memory, and most reads hit the tail, so the check is skipped there.
	if seg.isSealed.Load() && !seg.inMemorySealed.Load() {
		savedSum := binary.LittleEndian.Uint32(header[:4])
		computedSum := crc32Checksum(header[4:], data)
		if savedSum != computedSum {
			return nil, NilRecordPosition, ErrInvalidCRC
		}
	}

	next := RecordPosition{
		SegmentID: seg.id,
		Offset:    offset + entrySize,
	}

	return data, next, nil
}

// Sync Msync the Memory mapped file and the FSync the underlying file.
func (seg *Segment) Sync() error {
	if seg.closed.Load() {
		return ErrClosed
	}

	if err := seg.mmapData.Flush(); err != nil {
		return fmt.Errorf("mmap flush error: %w", err)
	}

	if err := seg.fd.Sync(); err != nil {
		return fmt.Errorf("fsync error: %w", err)
	}

	return nil
}

func (seg *Segment) MSync() error {
	if seg.closed.Load() {
		return ErrClosed
	}

	if err := seg.mmapData.Flush(); err != nil {
		return fmt.Errorf("mmap flush error: %w", err)
	}
	return nil
}

// WillExceed returns true if writing a record of the given dataSize would overflow
// the segment's allocated (memory-mapped) size.
func (seg *Segment) WillExceed(dataSize int) bool {
	entrySize := alignUp(int64(recordHeaderSize + dataSize + recordTrailerMarkerSize))
	return seg.writeOffset.Load()+entrySize > seg.mmapSize
}

// Close waits for all active readers to complete, then unmaps the
// segment file and closes its file descriptor.
func (seg *Segment) Close() error {
	if !seg.state.CompareAndSwap(StateOpen, StateClosing) {
		return nil
	}

	seg.closeCond.L.Lock()
	for seg.refCount.Load() > 0 {
		seg.closeCond.Wait()
	}
	seg.closeCond.L.Unlock()

	seg.indexFlush.Wait()

	if err := seg.Sync(); err != nil {
		seg.closed.Store(true)
		_ = seg.mmapData.Unmap()
		_ = seg.fd.Close()
		return fmt.Errorf("sync error during close: %w", err)
	}
	seg.closed.Store(true)

	if err := seg.mmapData.Unmap(); err != nil {
		_ = seg.fd.Close()
		return fmt.Errorf("unmap error: %w", err)
	}

	if err := seg.fd.Close(); err != nil {
		return fmt.Errorf("file close error: %w", err)
	}

	return nil
}

// WriteOffset returns the current write offset of the segment.
//
//go:inline
func (seg *Segment) WriteOffset() int64 {
	return seg.writeOffset.Load()
}

func (seg *Segment) readHeader() *SegmentHeader {
	seg.writeMu.RLock()
	defer seg.writeMu.RUnlock()
	meta, err := decodeSegmentHeader(seg.mmapData[:segmentHeaderSize])
	if err != nil {
		panic(err)
	}
	return meta
}

// GetEntryCount returns the entry count recorded in the segment header.
func (seg *Segment) GetEntryCount() int64 {
	return seg.readHeader().EntryCount
}

// GetSealedAt returns when the segment was sealed, zero for the active segment.
func (seg *Segment) GetSealedAt() int64 {
	return seg.readHeader().SealedAt
}

// GetFlags returns the flags stored in segment header.
func (seg *Segment) GetFlags() uint32 {
	return seg.readHeader().Flags
}

func (seg *Segment) GetSegmentSize() int64 {
	return seg.mmapSize
}

func (seg *Segment) incrRef() {
	seg.refCount.Add(1)
}

func (seg *Segment) decrRef(id uint64) {
	if ok := seg.activeReaders.Remove(id); ok {
		seg.releaseRef()
	}
}

// releaseRef decrements the reference count and performs any deferred cleanup.
func (seg *Segment) releaseRef() {
	count := seg.refCount.Add(-1)
	if count == 0 {
		seg.closeCond.L.Lock()
		seg.closeCond.Broadcast()
		seg.closeCond.L.Unlock()
		if seg.markedForDeletion.Load() {
			seg.cleanup()
		}
	}
}

// acquire pins the segment for a one-shot read. It returns false once the
// segment is closing or marked for deletion.
func (seg *Segment) acquire() bool {
	if seg.markedForDeletion.Load() || seg.state.Load() != StateOpen {
		return false
	}
	seg.incrRef()
	if seg.markedForDeletion.Load() || seg.state.Load() != StateOpen {
		seg.releaseRef()
		return false
	}
	return true
}

// MarkForDeletion marks the segment as candidate for deletion.
// If no active readers, it will immediately call cleanup.
// Otherwise, cleanup will be deferred until the last reference is released.
func (seg *Segment) MarkForDeletion() {
	if seg.markedForDeletion.CompareAndSwap(false, true) {
		if seg.refCount.Load() == 0 {
			seg.cleanup()
		}
	}
}

// IsMarkedForDeletion reports whether the segment is queued for removal.
func (seg *Segment) IsMarkedForDeletion() bool {
	return seg.markedForDeletion.Load()
}

// cleanup closes and deletes the underlying segment file from disk.
func (seg *Segment) cleanup() {
	if err := seg.Close(); err != nil {
		slog.Error("[walfs]", slog.String("message", "Failed to close segment"), slog.String("path", seg.path), slog.Any("error", err))
	}
	deletedSegment := false
	if err := os.Remove(seg.path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("[walfs]", slog.String("message", "Failed to delete segment"), slog.String("path", seg.path), slog.Any("error", err))
		}
	} else {
		deletedSegment = true
	}

	deletedIndex := false
	if seg.indexPath != "" {
		if err := os.Remove(seg.indexPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Error("[walfs]", slog.String("message", "Failed to delete segment index"), slog.String("path", seg.indexPath), slog.Any("error", err))
			}
		} else {
			deletedIndex = true
		}
	}

	if seg.dirSyncer != nil && (deletedSegment || deletedIndex) {
		dir := filepath.Dir(seg.path)
		if err := seg.dirSyncer.SyncDir(dir); err != nil {
			slog.Error("[walfs]",
				slog.String("message", "Failed to sync log directory after deletion"),
				slog.String("path", dir),
				slog.Any("error", err),
			)
		}
	}
	slog.Debug("[walfs]", slog.String("message", "Removed segment"), slog.Uint64("segment_id", seg.id))
}

// ID returns the unique number of the Segment.
func (seg *Segment) ID() SegmentID {
	return seg.id
}

// SegmentReader is an iterator over records in a segment.
// It maintains its own read offset and provides safe iteration over a Segment.
type SegmentReader struct {
	id               uint64
	segment          *Segment
	readOffset       int64
	lastRecordOffset int64
	closed           atomic.Bool
}

// Close closes the SegmentReader and decrements the segment's reference count.
func (r *SegmentReader) Close() {
	if r.closed.CompareAndSwap(false, true) {
		r.segment.decrRef(r.id)
	}
}

// NewReader creates a new SegmentReader for reading from the segment.
func (seg *Segment) NewReader() *SegmentReader {
	if seg.markedForDeletion.Load() || seg.state.Load() != StateOpen {
		return nil
	}

	id := seg.readerIDCounter.Add(1)
	seg.activeReaders.Add(id)
	seg.incrRef()

	reader := &SegmentReader{
		segment:    seg,
		readOffset: segmentHeaderSize,
		id:         id,
	}

	// safety net in case caller doesn't call Close()
	runtime.AddCleanup(reader, func(seg *Segment) {
		seg.decrRef(id)
	}, seg)

	return reader
}

// Next reads the next record from the segment and also advances the read position.
// Returns io.EOF if the segment is sealed and all data has been read.
// Returns ErrNoNewData if unsealed and no new data is available yet.
func (r *SegmentReader) Next() ([]byte, RecordPosition, error) {
	if r.closed.Load() {
		return nil, NilRecordPosition, ErrSegmentReaderClosed
	}

	isSealed := r.segment.isSealed.Load()
	writeOffset := r.segment.WriteOffset()

	if r.readOffset >= writeOffset {
		if isSealed {
			return nil, NilRecordPosition, io.EOF
		}
		return nil, NilRecordPosition, ErrNoNewData
	}

	currentOffset := r.readOffset
	data, next, err := r.segment.Read(r.readOffset)
	if err != nil {
		if !isSealed && errors.Is(err, io.EOF) {
			return nil, NilRecordPosition, ErrNoNewData
		}
		return nil, NilRecordPosition, err
	}
	r.lastRecordOffset = currentOffset
	r.readOffset = next.Offset

	return data, RecordPosition{SegmentID: r.segment.ID(), Offset: currentOffset}, nil
}

func (r *SegmentReader) LastRecordPosition() RecordPosition {
	return RecordPosition{
		SegmentID: r.segment.ID(),
		Offset:    r.lastRecordOffset,
	}
}

func crc32Checksum(header []byte, data []byte) uint32 {
	sum := crc32.Checksum(header, crcTable)
	return crc32.Update(sum, crcTable, data)
}

// SegmentFileName returns the file name of a Segment file.
func SegmentFileName(dirPath string, extName string, id SegmentID) string {
	return filepath.Join(dirPath, fmt.Sprintf("%09d"+extName, id))
}

// SegmentIndexFileName returns the file name of the index for a segment.
func SegmentIndexFileName(dirPath string, extName string, id SegmentID) string {
	return filepath.Join(dirPath, fmt.Sprintf("%09d"+extName+".idx", id))
}
