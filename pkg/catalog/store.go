package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	bolt "go.etcd.io/bbolt"
)

var (
	// sealed segment records, keyed by big-endian segment id so a cursor walk
	// yields them in append order.
	bucketSegments = []byte("segments")
	// named cursor states, keyed by cursor name.
	bucketCursors = []byte("cursors")
	bucketMeta    = []byte("meta")
)

var (
	keyAppliedIndex = []byte("applied_index")
	keyAppliedTerm  = []byte("applied_term")
)

var (
	ErrCursorNotFound = errors.New("cursor not found")
	ErrEmptyCursor    = errors.New("cursor name must not be empty")
)

// localTerm is the raft term stamped on commands applied without a raft cluster.
const localTerm uint64 = 1

// EventType identifies a catalog change delivered to callbacks.
type EventType uint8

const (
	EventSegmentSealed EventType = iota + 1
	EventSegmentDeleted
)

func (e EventType) String() string {
	switch e {
	case EventSegmentSealed:
		return "sealed"
	case EventSegmentDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(e))
	}
}

// SegmentCallback is called after a command changed the catalog.
// The record is nil for deletions.
type SegmentCallback func(event EventType, segmentID uint64, record *SegmentRecord)

// Config holds Store configuration options.
type Config struct {
	DBPath string
	Logger *slog.Logger
	// how long to wait for the file lock held by another process.
	OpenTimeout time.Duration
}

// Store is the BoltDB backed segment catalog and cursor store.
// Segment records change only through commands, so the same state can be
// driven by a local caller or replicated through raft (see FSM).
type Store struct {
	// guards db, which Restore swaps.
	mu     sync.RWMutex
	db     *bolt.DB
	dbPath string
	opts   *bolt.Options
	logger *slog.Logger

	commands *CommandBuilder
	// serializes local index allocation in ApplyCommand.
	applyMu sync.Mutex

	cbMu      sync.RWMutex
	callbacks []SegmentCallback
}

// Open opens or creates the catalog database.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 5 * time.Second
	}

	opts := &bolt.Options{Timeout: cfg.OpenTimeout}
	db, err := openBolt(cfg.DBPath, opts)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:       db,
		dbPath:   cfg.DBPath,
		opts:     opts,
		logger:   cfg.Logger.With("component", "catalog"),
		commands: NewCommandBuilder(),
	}, nil
}

func openBolt(path string, opts *bolt.Options) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSegments, bucketCursors, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return db, nil
}

// RegisterCallback adds a callback for catalog changes.
func (s *Store) RegisterCallback(cb SegmentCallback) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

func (s *Store) notifyCallbacks(event EventType, segmentID uint64, record *SegmentRecord) {
	s.cbMu.RLock()
	callbacks := s.callbacks
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(event, segmentID, record)
	}
}

// RecordSealed stores the metadata of a freshly sealed segment.
// Recording the same segment twice keeps the first record.
func (s *Store) RecordSealed(meta SegmentMetadata, byteSize int64) error {
	return s.ApplyCommand(s.commands.BuildSegmentSealed(meta, byteSize))
}

// RecordDeleted drops the record of a segment removed from storage.
func (s *Store) RecordDeleted(segmentID uint64) error {
	return s.ApplyCommand(s.commands.BuildSegmentDeleted(segmentID))
}

// ApplyCommand applies an encoded catalog command outside of raft, at the
// next local log index.
func (s *Store) ApplyCommand(data []byte) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	index, _, err := s.AppliedIndex()
	if err != nil {
		return err
	}

	res := s.Apply(&raft.Log{
		Index: index + 1,
		Term:  localTerm,
		Type:  raft.LogCommand,
		Data:  data,
	})
	if err, ok := res.(error); ok {
		return err
	}
	return nil
}

// AppliedIndex returns the index and term of the last applied command.
func (s *Store) AppliedIndex() (index, term uint64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		index = DecodeUint64(meta.Get(keyAppliedIndex))
		term = DecodeUint64(meta.Get(keyAppliedTerm))
		return nil
	})
	return index, term, err
}

// Segments returns the metadata of all recorded segments in ascending id order.
// The returned slice is a point-in-time copy.
func (s *Store) Segments() ([]SegmentMetadata, error) {
	records, err := s.SegmentRecords()
	if err != nil {
		return nil, err
	}
	out := make([]SegmentMetadata, len(records))
	for i, r := range records {
		out[i] = r.SegmentMetadata
	}
	return out, nil
}

// SegmentRecords returns all segment records in ascending id order.
func (s *Store) SegmentRecords() ([]SegmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []SegmentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSegments).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			record := DecodeSegmentRecord(v)
			if record == nil {
				return fmt.Errorf("decode segment record %d", DecodeUint64(k))
			}
			records = append(records, *record)
		}
		return nil
	})
	return records, err
}

// Segment retrieves a segment record by ID. It returns nil when the segment is unknown.
func (s *Store) Segment(segmentID uint64) (*SegmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var record *SegmentRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSegments).Get(EncodeUint64(segmentID))
		if data == nil {
			return nil
		}
		record = DecodeSegmentRecord(data)
		if record == nil {
			return fmt.Errorf("decode segment record %d", segmentID)
		}
		return nil
	})
	return record, err
}

// SaveCursor writes the state of a named cursor.
func (s *Store) SaveCursor(state CursorState) error {
	if state.Name == "" {
		return ErrEmptyCursor
	}
	if state.UpdatedAt == 0 {
		state.UpdatedAt = time.Now().UnixMilli()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).Put([]byte(state.Name), state.Encode())
	})
}

// LoadCursor reads the state of a named cursor.
func (s *Store) LoadCursor(name string) (*CursorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var state *CursorState
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCursors).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrCursorNotFound, name)
		}
		state = DecodeCursorState(data)
		if state == nil {
			return fmt.Errorf("decode cursor %s", name)
		}
		return nil
	})
	return state, err
}

// DeleteCursor removes a named cursor. Deleting an unknown cursor is not an error.
func (s *Store) DeleteCursor(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).Delete([]byte(name))
	})
}

// Cursors lists all cursor states ordered by name.
func (s *Store) Cursors() ([]CursorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var states []CursorState
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).ForEach(func(k, v []byte) error {
			state := DecodeCursorState(v)
			if state == nil {
				return fmt.Errorf("decode cursor %s", k)
			}
			states = append(states, *state)
			return nil
		})
	})
	return states, err
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
