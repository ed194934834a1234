// Package position defines the logical address of an entry in the segmented log.
package position

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// BeforeFirstEntry is the entry index addressing the slot before the first
// entry of a segment.
const BeforeFirstEntry int64 = -1

// Position addresses one entry: the segment it lives in and its index within
// that segment. Positions are ordered by segment, then entry.
type Position struct {
	SegmentID  uint64 `json:"segment_id"`
	EntryIndex int64  `json:"entry_index"`
}

// New returns the position of entry in segment.
func New(segmentID uint64, entry int64) Position {
	return Position{SegmentID: segmentID, EntryIndex: entry}
}

// BeforeFirst returns the position just before the first entry of segment.
func BeforeFirst(segmentID uint64) Position {
	return Position{SegmentID: segmentID, EntryIndex: BeforeFirstEntry}
}

// Compare returns -1, 0 or +1 depending on whether a sorts before, equal to,
// or after b.
func Compare(a, b Position) int {
	if c := cmp.Compare(a.SegmentID, b.SegmentID); c != 0 {
		return c
	}
	return cmp.Compare(a.EntryIndex, b.EntryIndex)
}

// Before reports whether p sorts strictly before other.
func (p Position) Before(other Position) bool {
	return Compare(p, other) < 0
}

// IsBeforeFirst reports whether p is the before-first sentinel of its segment.
func (p Position) IsBeforeFirst() bool {
	return p.EntryIndex == BeforeFirstEntry
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.SegmentID, p.EntryIndex)
}

// Parse reads a position in the "segment:entry" form produced by String.
func Parse(s string) (Position, error) {
	seg, entry, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Position{}, fmt.Errorf("position %q: want segment:entry", s)
	}
	segmentID, err := strconv.ParseUint(seg, 10, 64)
	if err != nil {
		return Position{}, fmt.Errorf("position %q: segment: %w", s, err)
	}
	index, err := strconv.ParseInt(entry, 10, 64)
	if err != nil {
		return Position{}, fmt.Errorf("position %q: entry: %w", s, err)
	}
	if index < BeforeFirstEntry {
		return Position{}, fmt.Errorf("position %q: entry index below %d", s, BeforeFirstEntry)
	}
	return New(segmentID, index), nil
}

// Range is an inclusive span of positions.
type Range struct {
	Start Position
	End   Position
}

// Contains reports whether start <= p <= end.
func (r Range) Contains(p Position) bool {
	return Compare(r.Start, p) <= 0 && Compare(p, r.End) <= 0
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start, r.End)
}

// Ptr returns a pointer to a copy of p, for optional results.
func Ptr(p Position) *Position {
	return &p
}
