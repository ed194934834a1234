// Package catalog keeps the metadata of sealed segments and the state of
// named cursors in BoltDB.
//
// Segment records only change through commands, so the store is a raft.FSM:
// a cluster can replicate the catalog through raft while a single process
// applies commands locally with ApplyCommand. Both paths go through Apply.
//
// # Records
//
// Every sealed segment has one record keyed by its big-endian id:
//
//	{segment_id, entry_count, begin_publish_timestamp, end_publish_timestamp,
//	 byte_size, sealed_at, applied_index}
//
// Publish timestamps are epoch milliseconds. A value <= 0 means the segment
// held at least one entry without a publish time, and searches cannot use
// the segment to narrow their range.
//
// Records are written once. A second SEGMENT_SEALED for the same id is a
// no-op, SEGMENT_DELETED removes the record after storage dropped the file.
//
// # Snapshots
//
// Snapshot streams the whole bolt file from a read transaction. Restore
// writes the stream to a temp file, renames it over the database and
// reopens it.
package catalog
