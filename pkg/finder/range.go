package finder

import (
	"github.com/unijord/timeseek/pkg/catalog"
	"github.com/unijord/timeseek/pkg/position"
)

// SearchRange narrows a search to the entries of one segment.
// When Bounded is false the whole log is searched.
type SearchRange struct {
	Bounded bool
	Start   position.Position
	End     position.Position
}

// Unbounded searches every available entry.
var Unbounded = SearchRange{}

// Range returns the positions to search, nil when unbounded.
func (r SearchRange) Range() *position.Range {
	if !r.Bounded {
		return nil
	}
	return &position.Range{Start: r.Start, End: r.End}
}

func (r SearchRange) String() string {
	if !r.Bounded {
		return "unbounded"
	}
	return position.Range{Start: r.Start, End: r.End}.String()
}

// SelectRange picks the first segment whose publish time span contains
// target. Segments are visited in id order; the first segment without a
// span ends the scan with Unbounded. Empty segments never match.
func SelectRange(target int64, segments []catalog.SegmentMetadata) SearchRange {
	for _, seg := range segments {
		if !seg.HasTimestamps() {
			return Unbounded
		}
		if seg.EntryCount <= 0 {
			continue
		}
		if seg.BeginPublishTimestamp <= target && target <= seg.EndPublishTimestamp {
			return SearchRange{
				Bounded: true,
				Start:   position.New(seg.SegmentID, 0),
				End:     position.New(seg.SegmentID, seg.EntryCount-1),
			}
		}
	}
	return Unbounded
}
