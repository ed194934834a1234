package ledger

import (
	"errors"
	"fmt"

	"github.com/unijord/timeseek/pkg/position"
)

// Entry is a raw entry handed to a search predicate.
// Data is a copy and may be retained.
type Entry struct {
	Position position.Position
	Data     []byte
	// Err is set, and Data nil, when the entry failed its integrity checks.
	Err error
}

// Predicate reports whether an entry matches. Over a searched range it must
// hold for a prefix of the entries and fail for the rest. Entries carrying
// Err should not match.
type Predicate func(Entry) bool

// FindEntryCallback receives the outcome of AsyncFindNewestMatching.
// Exactly one of its methods is called, once.
type FindEntryCallback interface {
	// FindEntryComplete reports the newest matching position, or nil when
	// no entry in the range matches.
	FindEntryComplete(pos *position.Position)
	// FindEntryFailed reports a read failure and the last position examined.
	// Corrupt entries are handed to the predicate instead.
	FindEntryFailed(err error, lastExamined *position.Position)
}

// span is a run of entries of one segment, [first, last].
type span struct {
	segmentID   uint64
	first, last int64
}

func (s span) len() int64 {
	return s.last - s.first + 1
}

// AsyncFindNewestMatching finds the newest entry in rng for which predicate
// holds and reports it to cb from a new goroutine. A nil rng searches from
// the oldest entry to the newest one.
func (l *Ledger) AsyncFindNewestMatching(rng *position.Range, predicate Predicate, cb FindEntryCallback) {
	spans := l.searchSpans(rng)
	go l.findNewestMatching(spans, predicate, cb)
}

// searchSpans pins the entry counts of the segments inside rng so entries
// appended during the search are not visited.
func (l *Ledger) searchSpans(rng *position.Range) []span {
	var spans []span
	for _, seg := range l.wl.Segments() {
		if seg.IsMarkedForDeletion() {
			continue
		}
		id := seg.ID()
		count := seg.EntryCount()
		first, last := int64(0), count-1
		if rng != nil {
			if id < rng.Start.SegmentID || id > rng.End.SegmentID {
				continue
			}
			if id == rng.Start.SegmentID {
				first = max(rng.Start.EntryIndex, 0)
			}
			if id == rng.End.SegmentID {
				last = min(rng.End.EntryIndex, last)
			}
		}
		if first > last {
			continue
		}
		spans = append(spans, span{segmentID: id, first: first, last: last})
	}
	return spans
}

// at maps a global ordinal over spans to a position.
func at(spans []span, ordinal int64) position.Position {
	for _, s := range spans {
		if ordinal < s.len() {
			return position.New(s.segmentID, s.first+ordinal)
		}
		ordinal -= s.len()
	}
	panic(fmt.Sprintf("ordinal %d past search range", ordinal))
}

func (l *Ledger) findNewestMatching(spans []span, predicate Predicate, cb FindEntryCallback) {
	var total int64
	for _, s := range spans {
		total += s.len()
	}
	if total == 0 {
		cb.FindEntryComplete(nil)
		return
	}

	var lastExamined *position.Position
	check := func(ordinal int64) (bool, error) {
		pos := at(spans, ordinal)
		lastExamined = position.Ptr(pos)
		data, err := l.Read(pos)
		if errors.Is(err, ErrCorruptEntry) {
			// one bad record does not end the search
			return predicate(Entry{Position: pos, Err: err}), nil
		}
		if err != nil {
			return false, err
		}
		return predicate(Entry{Position: pos, Data: data}), nil
	}

	ok, err := check(0)
	if err != nil {
		cb.FindEntryFailed(err, lastExamined)
		return
	}
	if !ok {
		cb.FindEntryComplete(nil)
		return
	}
	if total == 1 {
		cb.FindEntryComplete(lastExamined)
		return
	}

	ok, err = check(total - 1)
	if err != nil {
		cb.FindEntryFailed(err, lastExamined)
		return
	}
	if ok {
		cb.FindEntryComplete(lastExamined)
		return
	}

	// predicate holds at lo and fails at hi
	lo, hi := int64(0), total-1
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		ok, err := check(mid)
		if err != nil {
			cb.FindEntryFailed(err, lastExamined)
			return
		}
		if ok {
			lo = mid
		} else {
			hi = mid
		}
	}

	found := at(spans, lo)
	cb.FindEntryComplete(&found)
}
