// Package ledger ties the segment log, the entry codec and the segment
// catalog together: it appends entries, records the publish time span of
// every sealed segment and searches entries by position.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/unijord/timeseek/pkg/catalog"
	"github.com/unijord/timeseek/pkg/entry"
	"github.com/unijord/timeseek/pkg/metrics"
	"github.com/unijord/timeseek/pkg/position"
	"github.com/unijord/timeseek/pkg/walfs"
)

const (
	DefaultSegmentExt   = ".seg"
	DefaultCatalogFile  = "catalog.db"
	DefaultSegmentBytes = 16 * 1024 * 1024
)

var (
	ErrClosed          = errors.New("ledger is closed")
	ErrEntryOutOfRange = errors.New("entry out of range")
	ErrEmptySegment    = errors.New("active segment has no entries")
	// ErrCorruptEntry reports a single record that failed its integrity
	// checks. Neighbouring entries stay readable.
	ErrCorruptEntry = errors.New("corrupt entry")
)

// Config holds Ledger configuration options.
type Config struct {
	Dir             string
	SegmentExt      string // defaults to ".seg"
	MaxSegmentSize  int64
	BytesPerSync    int64
	MSyncEveryWrite bool
	CatalogPath     string // defaults to Dir/catalog.db
	Logger          *slog.Logger
}

// Ledger is an append-only log of entries split into segments.
// Appends are serialized; reads and searches run concurrently with them.
type Ledger struct {
	logger *slog.Logger
	wl     *walfs.WALog
	store  *catalog.Store

	// mu serializes writers. Rotation callbacks run while it is held.
	mu     sync.Mutex
	closed bool
	// publish time spans of segments that have not been recorded yet, by id.
	trackers map[uint64]*timeTracker
	// rotated segments waiting to be written to the catalog.
	rotated []walfs.RotatedSegmentInfo
}

// Open opens the segment log and the catalog under cfg.Dir and reconciles
// them: sealed segments the catalog does not know are scanned and recorded.
func Open(cfg Config) (*Ledger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("ledger dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SegmentExt == "" {
		cfg.SegmentExt = DefaultSegmentExt
	}
	if cfg.MaxSegmentSize <= 0 {
		cfg.MaxSegmentSize = DefaultSegmentBytes
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = filepath.Join(cfg.Dir, DefaultCatalogFile)
	}

	l := &Ledger{
		logger:   cfg.Logger.With("component", "ledger"),
		trackers: make(map[uint64]*timeTracker),
	}

	wl, err := walfs.NewWALog(cfg.Dir, cfg.SegmentExt,
		walfs.WithMaxSegmentSize(cfg.MaxSegmentSize),
		walfs.WithBytesPerSync(cfg.BytesPerSync),
		walfs.WithMSyncEveryWrite(cfg.MSyncEveryWrite),
		walfs.WithOnSegmentRotated(l.onSegmentRotated),
	)
	if err != nil {
		return nil, fmt.Errorf("open segment log: %w", err)
	}
	l.wl = wl

	store, err := catalog.Open(catalog.Config{
		DBPath: cfg.CatalogPath,
		Logger: cfg.Logger,
	})
	if err != nil {
		_ = wl.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	l.store = store

	l.mu.Lock()
	err = l.reconcileLocked()
	l.mu.Unlock()
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Store exposes the catalog store, for cursor persistence.
func (l *Ledger) Store() *catalog.Store {
	return l.store
}

// onSegmentRotated runs on the writing goroutine with the WALog write lock
// held, so it only queues the segment for flushRotatedLocked.
func (l *Ledger) onSegmentRotated(info walfs.RotatedSegmentInfo) {
	l.rotated = append(l.rotated, info)
	metrics.LedgerSegmentsSealed.Inc()
}

func (l *Ledger) reconcileLocked() error {
	current := l.wl.Current()
	known, err := l.store.SegmentRecords()
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	recorded := make(map[uint64]struct{}, len(known))
	for _, r := range known {
		recorded[r.SegmentID] = struct{}{}
	}

	live := make(map[uint64]struct{})
	for _, seg := range l.wl.Segments() {
		live[seg.ID()] = struct{}{}
		if seg.ID() == current.ID() {
			l.trackers[seg.ID()] = l.scan(seg.ID())
			continue
		}
		if _, ok := recorded[seg.ID()]; ok {
			continue
		}
		l.logger.Info("recording sealed segment missing from catalog", "segment_id", seg.ID())
		tracker := l.scan(seg.ID())
		if err := l.store.RecordSealed(tracker.metadata(seg.ID(), seg.EntryCount()), seg.WriteOffset()); err != nil {
			return fmt.Errorf("record segment %d: %w", seg.ID(), err)
		}
	}

	for _, r := range known {
		if _, ok := live[r.SegmentID]; ok {
			continue
		}
		l.logger.Info("dropping catalog record of removed segment", "segment_id", r.SegmentID)
		if err := l.store.RecordDeleted(r.SegmentID); err != nil {
			return fmt.Errorf("drop segment %d: %w", r.SegmentID, err)
		}
	}
	return nil
}

// scan rebuilds the publish time span of a segment by reading every entry
// its index lists.
func (l *Ledger) scan(segmentID uint64) *timeTracker {
	t := &timeTracker{}
	index, err := l.wl.SegmentIndex(segmentID)
	if err != nil {
		l.logger.Warn("segment scan skipped", "segment_id", segmentID, "error", err)
		t.unknown = true
		return t
	}
	for i := range index {
		data, err := l.wl.ReadEntry(segmentID, int64(i))
		if err != nil {
			l.logger.Warn("segment scan stopped",
				"segment_id", segmentID,
				"entry", i,
				"error", err)
			t.unknown = true
			return t
		}
		ts, err := entry.ExtractPublishTimestamp(data)
		if err != nil {
			t.unknown = true
			continue
		}
		t.observe(ts)
	}
	return t
}

// flushRotatedLocked writes queued rotations to the catalog. Failed records
// stay queued and are retried by the next write.
func (l *Ledger) flushRotatedLocked() error {
	var errs []error
	pending := l.rotated[:0]
	for _, info := range l.rotated {
		tracker, ok := l.trackers[info.SegmentID]
		if !ok {
			tracker = l.scan(info.SegmentID)
		}
		if err := l.store.RecordSealed(tracker.metadata(info.SegmentID, info.EntryCount), info.ByteSize); err != nil {
			pending = append(pending, info)
			errs = append(errs, fmt.Errorf("record segment %d: %w", info.SegmentID, err))
			continue
		}
		delete(l.trackers, info.SegmentID)
	}
	l.rotated = pending
	return errors.Join(errs...)
}

func (l *Ledger) tracker(segmentID uint64) *timeTracker {
	t, ok := l.trackers[segmentID]
	if !ok {
		t = &timeTracker{}
		l.trackers[segmentID] = t
	}
	return t
}

// Append writes e and returns its position. Entries without a publish time
// leave the publish time span of their segment unknown.
func (l *Ledger) Append(e entry.Entry) (position.Position, error) {
	positions, err := l.AppendBatch([]entry.Entry{e})
	if err != nil {
		return position.Position{}, err
	}
	return positions[0], nil
}

// AppendBatch writes entries in order, rotating segments as they fill up.
func (l *Ledger) AppendBatch(entries []entry.Entry) ([]position.Position, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	records := make([][]byte, len(entries))
	for i, e := range entries {
		records[i] = entry.Encode(e)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	current := l.wl.Current()
	startSegment, next := current.ID(), current.EntryCount()

	rps, err := l.wl.WriteBatch(records)

	positions := make([]position.Position, len(rps))
	for i, rp := range rps {
		if rp.SegmentID != startSegment {
			startSegment, next = rp.SegmentID, 0
		}
		positions[i] = position.New(rp.SegmentID, next)
		next++
		l.tracker(rp.SegmentID).observe(entries[i].PublishTime)
	}
	metrics.LedgerEntriesAppended.Add(float64(len(rps)))

	if flushErr := l.flushRotatedLocked(); flushErr != nil {
		l.logger.Warn("sealed segment not yet recorded in catalog", "error", flushErr)
	}
	if err != nil {
		return positions, fmt.Errorf("append: %w", err)
	}
	return positions, nil
}

// Seal rotates the active segment and returns the id of the sealed segment.
func (l *Ledger) Seal() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}

	current := l.wl.Current()
	if current.EntryCount() == 0 {
		return 0, ErrEmptySegment
	}
	if err := l.wl.RotateSegment(); err != nil {
		return 0, fmt.Errorf("seal segment %d: %w", current.ID(), err)
	}
	if err := l.flushRotatedLocked(); err != nil {
		return current.ID(), err
	}
	return current.ID(), nil
}

// Trim removes every sealed segment with an id lower than segmentID and
// drops their catalog records. It returns the removed ids.
func (l *Ledger) Trim(segmentID uint64) ([]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	removed, err := l.wl.RemoveSegmentsBefore(segmentID)
	if err != nil {
		return nil, fmt.Errorf("trim before %d: %w", segmentID, err)
	}
	for _, id := range removed {
		delete(l.trackers, id)
		if err := l.store.RecordDeleted(id); err != nil {
			return removed, fmt.Errorf("drop segment %d: %w", id, err)
		}
	}
	return removed, nil
}

// Catalog returns the segments ordered by id: sealed segments with their
// recorded publish time span, followed by the active segment without one.
// Sealed segments the catalog has not recorded yet carry no span either,
// and empty sealed segments are left out.
func (l *Ledger) Catalog() ([]catalog.SegmentMetadata, error) {
	records, err := l.store.Segments()
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]catalog.SegmentMetadata, len(records))
	for _, r := range records {
		byID[r.SegmentID] = r
	}

	current := l.wl.Current()
	segments := l.wl.Segments()
	out := make([]catalog.SegmentMetadata, 0, len(segments))
	for _, seg := range segments {
		if seg.IsMarkedForDeletion() {
			continue
		}
		count := seg.EntryCount()
		if seg.ID() == current.ID() {
			out = append(out, catalog.SegmentMetadata{SegmentID: seg.ID(), EntryCount: count})
			continue
		}
		if count == 0 {
			continue
		}
		if meta, ok := byID[seg.ID()]; ok {
			out = append(out, meta)
			continue
		}
		out = append(out, catalog.SegmentMetadata{SegmentID: seg.ID(), EntryCount: count})
	}
	return out, nil
}

// Read returns a copy of the entry at pos.
func (l *Ledger) Read(pos position.Position) ([]byte, error) {
	if pos.EntryIndex < 0 {
		return nil, fmt.Errorf("%w: %s", ErrEntryOutOfRange, pos)
	}
	data, err := l.wl.ReadEntry(pos.SegmentID, pos.EntryIndex)
	if err != nil {
		switch {
		case errors.Is(err, walfs.ErrEntryNotFound), errors.Is(err, walfs.ErrSegmentNotFound):
			return nil, fmt.Errorf("%w: %s", ErrEntryOutOfRange, pos)
		case errors.Is(err, walfs.ErrInvalidCRC),
			errors.Is(err, walfs.ErrCorruptHeader),
			errors.Is(err, walfs.ErrIncompleteChunk):
			return nil, fmt.Errorf("%w %s: %w", ErrCorruptEntry, pos, err)
		}
		return nil, err
	}
	return data, nil
}

// FirstPosition returns the position of the oldest entry, or the slot the
// next entry will be written to when the log is empty.
func (l *Ledger) FirstPosition() position.Position {
	current := l.wl.Current()
	for _, seg := range l.wl.Segments() {
		if seg.IsMarkedForDeletion() {
			continue
		}
		if seg.EntryCount() > 0 || seg.ID() == current.ID() {
			return position.New(seg.ID(), 0)
		}
	}
	return position.New(current.ID(), 0)
}

// LastPosition returns the position of the newest entry. It reports false
// when the log holds no entries.
func (l *Ledger) LastPosition() (position.Position, bool) {
	segments := l.wl.Segments()
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if seg.IsMarkedForDeletion() {
			continue
		}
		if count := seg.EntryCount(); count > 0 {
			return position.New(seg.ID(), count-1), true
		}
	}
	return position.Position{}, false
}

// Next returns the position that follows pos. Past the newest entry it is
// the slot of the next write in the active segment.
func (l *Ledger) Next(pos position.Position) position.Position {
	current := l.wl.Current()
	if pos.SegmentID >= current.ID() {
		return position.New(pos.SegmentID, pos.EntryIndex+1)
	}

	for _, seg := range l.wl.Segments() {
		if seg.IsMarkedForDeletion() || seg.ID() < pos.SegmentID {
			continue
		}
		if seg.ID() == pos.SegmentID {
			if pos.EntryIndex+1 < seg.EntryCount() {
				return position.New(seg.ID(), pos.EntryIndex+1)
			}
			continue
		}
		if seg.EntryCount() > 0 || seg.ID() == current.ID() {
			return position.New(seg.ID(), 0)
		}
	}
	return position.New(current.ID(), 0)
}

// Close flushes pending catalog records and closes storage, then the catalog.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if l.store != nil {
		if err := l.flushRotatedLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.wl.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close segment log: %w", err))
	}
	if l.store != nil {
		if err := l.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close catalog: %w", err))
		}
	}
	return errors.Join(errs...)
}
