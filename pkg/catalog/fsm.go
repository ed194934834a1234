package catalog

import (
	"fmt"
	"io"
	"os"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/hashicorp/raft"
	bolt "go.etcd.io/bbolt"

	"github.com/unijord/timeseek/pkg/gen/go/fb/logfb"
)

// Apply implements raft.FSM.
func (s *Store) Apply(log *raft.Log) interface{} {
	if len(log.Data) == 0 {
		return nil
	}

	cmd, err := decodeCommand(log.Data)
	if err != nil {
		s.logger.Error("failed to decode catalog command", "index", log.Index, "error", err)
		return err
	}

	switch cmd.Type() {
	case logfb.CommandTypeSEGMENT_SEALED:
		return s.applySegmentSealed(cmd, log.Index, log.Term)

	case logfb.CommandTypeSEGMENT_DELETED:
		return s.applySegmentDeleted(cmd, log.Index, log.Term)

	default:
		s.logger.Warn("unknown command type", "type", cmd.Type())
		return nil
	}
}

func decodeCommand(data []byte) (cmd *logfb.CatalogCommand, err error) {
	defer func() {
		if r := recover(); r != nil {
			cmd, err = nil, fmt.Errorf("malformed catalog command: %v", r)
		}
	}()
	cmd = logfb.GetRootAsCatalogCommand(data, 0)
	_ = cmd.Type()
	_ = cmd.PayloadType()
	return cmd, nil
}

func (s *Store) applySegmentSealed(cmd *logfb.CatalogCommand, logIndex, logTerm uint64) interface{} {
	var table flatbuffers.Table
	if cmd.PayloadType() != logfb.CommandPayloadSegmentSealedCommand || !cmd.Payload(&table) {
		s.logger.Error("failed to get payload from SEGMENT_SEALED")
		return fmt.Errorf("no payload in SEGMENT_SEALED")
	}

	var sealed logfb.SegmentSealedCommand
	sealed.Init(table.Bytes, table.Pos)

	segmentID := sealed.SegmentId()
	record := &SegmentRecord{
		SegmentMetadata: SegmentMetadata{
			SegmentID:             segmentID,
			EntryCount:            sealed.EntryCount(),
			BeginPublishTimestamp: sealed.BeginPublishTime(),
			EndPublishTimestamp:   sealed.EndPublishTime(),
		},
		ByteSize:     sealed.ByteSize(),
		SealedAt:     sealed.SealedAt(),
		AppliedIndex: logIndex,
	}

	if record.HasTimestamps() && record.BeginPublishTimestamp > record.EndPublishTimestamp {
		s.logger.Warn("dropping inverted publish timestamps",
			"segment_id", segmentID,
			"begin", record.BeginPublishTimestamp,
			"end", record.EndPublishTimestamp)
		record.BeginPublishTimestamp = 0
		record.EndPublishTimestamp = 0
	}

	duplicate := false
	err := s.update(logIndex, logTerm, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSegments)
		key := EncodeUint64(segmentID)
		if b.Get(key) != nil {
			duplicate = true
			return nil
		}
		return b.Put(key, record.Encode())
	})
	if err != nil {
		s.logger.Error("failed to apply SEGMENT_SEALED",
			"segment_id", segmentID,
			"error", err)
		return err
	}

	if duplicate {
		s.logger.Debug("segment already sealed, ignoring duplicate", "segment_id", segmentID)
		return nil
	}

	s.logger.Info("segment sealed",
		"segment_id", segmentID,
		"entry_count", record.EntryCount,
		"begin_publish_time", record.BeginPublishTimestamp,
		"end_publish_time", record.EndPublishTimestamp,
		"byte_size", record.ByteSize)

	s.notifyCallbacks(EventSegmentSealed, segmentID, record)
	return nil
}

func (s *Store) applySegmentDeleted(cmd *logfb.CatalogCommand, logIndex, logTerm uint64) interface{} {
	var table flatbuffers.Table
	if cmd.PayloadType() != logfb.CommandPayloadSegmentDeletedCommand || !cmd.Payload(&table) {
		s.logger.Error("failed to get payload from SEGMENT_DELETED")
		return fmt.Errorf("no payload in SEGMENT_DELETED")
	}

	var deleted logfb.SegmentDeletedCommand
	deleted.Init(table.Bytes, table.Pos)
	segmentID := deleted.SegmentId()

	existed := false
	err := s.update(logIndex, logTerm, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSegments)
		key := EncodeUint64(segmentID)
		existed = b.Get(key) != nil
		return b.Delete(key)
	})
	if err != nil {
		s.logger.Error("failed to apply SEGMENT_DELETED",
			"segment_id", segmentID,
			"error", err)
		return err
	}

	if !existed {
		s.logger.Debug("SEGMENT_DELETED for unknown segment", "segment_id", segmentID)
		return nil
	}

	s.logger.Info("segment deleted", "segment_id", segmentID)
	s.notifyCallbacks(EventSegmentDeleted, segmentID, nil)
	return nil
}

// update runs fn and records the applied index in the same transaction.
func (s *Store) update(logIndex, logTerm uint64, fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyAppliedIndex, EncodeUint64(logIndex)); err != nil {
			return err
		}
		return meta.Put(keyAppliedTerm, EncodeUint64(logTerm))
	})
}

// Snapshot implements raft.FSM.
func (s *Store) Snapshot() (raft.FSMSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}

	return &FSMSnapshot{tx: tx}, nil
}

// Restore implements raft.FSM.
// It replaces the BoltDB file with the snapshot contents.
func (s *Store) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.dbPath + ".restore"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close db: %w", err)
	}
	if err := os.Rename(tmpPath, s.dbPath); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	db, err := openBolt(s.dbPath, s.opts)
	if err != nil {
		return fmt.Errorf("reopen db: %w", err)
	}
	s.db = db

	s.logger.Info("restored catalog from snapshot")
	return nil
}

// FSMSnapshot implements raft.FSMSnapshot over a read transaction.
type FSMSnapshot struct {
	tx *bolt.Tx
}

// Persist writes the entire BoltDB database to the snapshot sink.
func (fs *FSMSnapshot) Persist(sink raft.SnapshotSink) error {
	defer fs.tx.Rollback()

	if _, err := fs.tx.WriteTo(sink); err != nil {
		sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}

	return sink.Close()
}

// Release releases the snapshot resources.
func (fs *FSMSnapshot) Release() {
	_ = fs.tx.Rollback()
}

var _ raft.FSM = (*Store)(nil)
