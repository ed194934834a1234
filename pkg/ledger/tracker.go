package ledger

import "github.com/unijord/timeseek/pkg/catalog"

// timeTracker follows the publish times of the entries of one segment.
type timeTracker struct {
	begin, end int64
	// set once an entry had no usable publish time.
	unknown bool
}

func (t *timeTracker) observe(publishTime int64) {
	if publishTime <= 0 {
		t.unknown = true
		return
	}
	if t.begin == 0 {
		t.begin = publishTime
	}
	t.end = publishTime
}

func (t *timeTracker) metadata(segmentID uint64, count int64) catalog.SegmentMetadata {
	meta := catalog.SegmentMetadata{SegmentID: segmentID, EntryCount: count}
	if !t.unknown && count > 0 {
		meta.BeginPublishTimestamp = t.begin
		meta.EndPublishTimestamp = t.end
	}
	return meta
}
