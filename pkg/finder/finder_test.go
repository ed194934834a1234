package finder_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/timeseek/pkg/catalog"
	"github.com/unijord/timeseek/pkg/entry"
	"github.com/unijord/timeseek/pkg/finder"
	"github.com/unijord/timeseek/pkg/ledger"
	"github.com/unijord/timeseek/pkg/metrics"
	"github.com/unijord/timeseek/pkg/position"
	"github.com/unijord/timeseek/pkg/walfs"
)

type pendingSearch struct {
	rng       *position.Range
	predicate ledger.Predicate
	cb        ledger.FindEntryCallback
}

// fakeLedger hands every search to the test, which completes it by hand.
type fakeLedger struct {
	segments   []catalog.SegmentMetadata
	catalogErr error
	searches   chan pendingSearch
}

func newFakeLedger(segments ...catalog.SegmentMetadata) *fakeLedger {
	return &fakeLedger{segments: segments, searches: make(chan pendingSearch, 8)}
}

func (l *fakeLedger) Catalog() ([]catalog.SegmentMetadata, error) {
	return l.segments, l.catalogErr
}

func (l *fakeLedger) AsyncFindNewestMatching(rng *position.Range, predicate ledger.Predicate, cb ledger.FindEntryCallback) {
	l.searches <- pendingSearch{rng: rng, predicate: predicate, cb: cb}
}

func (l *fakeLedger) next(t *testing.T) pendingSearch {
	t.Helper()
	select {
	case s := <-l.searches:
		return s
	default:
		t.Fatal("no search was launched")
		return pendingSearch{}
	}
}

type findResult struct {
	pos  *position.Position
	err  error
	last *position.Position
}

type chanCallback chan findResult

func (c chanCallback) FindEntryComplete(pos *position.Position) {
	c <- findResult{pos: pos}
}

func (c chanCallback) FindEntryFailed(err error, lastExamined *position.Position) {
	c <- findResult{err: err, last: lastExamined}
}

func (c chanCallback) wait(t *testing.T) findResult {
	t.Helper()
	select {
	case res := <-c:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("callback not invoked")
		return findResult{}
	}
}

func (c chanCallback) assertEmpty(t *testing.T) {
	t.Helper()
	select {
	case res := <-c:
		t.Fatalf("unexpected callback %+v", res)
	default:
	}
}

func candidate(pos position.Position, publishTime int64) ledger.Entry {
	return ledger.Entry{Position: pos, Data: entry.Encode(entry.Entry{PublishTime: publishTime})}
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func TestFindMessages_SingleFlight(t *testing.T) {
	l := newFakeLedger(seg(1, 100, 200, 10))
	f := finder.New("sub", l)
	rejected := counterValue(metrics.FinderSearches.WithLabelValues(metrics.ResultRejected))

	first := make(chanCallback, 1)
	f.FindMessages(150, first)
	require.True(t, f.InProgress())
	search := l.next(t)

	second := make(chanCallback, 1)
	f.FindMessages(160, second)

	res := second.wait(t)
	assert.ErrorIs(t, res.err, finder.ErrConcurrentFind)
	assert.EqualError(t, res.err, "last find is still running")
	assert.Nil(t, res.pos)
	assert.Nil(t, res.last)
	assert.Empty(t, l.searches, "rejected request must not launch a search")
	assert.True(t, f.InProgress())
	assert.Equal(t, rejected+1, counterValue(metrics.FinderSearches.WithLabelValues(metrics.ResultRejected)))

	// the accepted search still owns its own timestamp
	assert.True(t, search.predicate(candidate(position.New(1, 0), 150)))
	assert.False(t, search.predicate(candidate(position.New(1, 1), 155)))

	first.assertEmpty(t)
	search.cb.FindEntryComplete(position.Ptr(position.New(1, 4)))

	res = first.wait(t)
	require.NoError(t, res.err)
	assert.Equal(t, position.Ptr(position.New(1, 4)), res.pos)
	assert.False(t, f.InProgress())
}

func TestFindMessages_ReEntry(t *testing.T) {
	l := newFakeLedger()
	f := finder.New("sub", l)

	for i := 0; i < 3; i++ {
		cb := make(chanCallback, 1)
		f.FindMessages(int64(100+i), cb)
		l.next(t).cb.FindEntryComplete(nil)

		res := cb.wait(t)
		require.NoError(t, res.err)
		assert.Nil(t, res.pos)
		assert.False(t, f.InProgress())
	}
}

func TestFindMessages_PassesSelectedRange(t *testing.T) {
	tests := []struct {
		name     string
		segments []catalog.SegmentMetadata
		want     *position.Range
	}{
		{
			name:     "bracketed",
			segments: []catalog.SegmentMetadata{seg(1, 100, 200, 10), seg(2, 201, 300, 5)},
			want:     &position.Range{Start: position.New(1, 0), End: position.New(1, 9)},
		},
		{
			name:     "fallback",
			segments: []catalog.SegmentMetadata{seg(1, 0, 0, 10), seg(2, 100, 200, 5)},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger(tt.segments...)
			f := finder.New("sub", l)

			cb := make(chanCallback, 1)
			f.FindMessages(150, cb)
			search := l.next(t)
			assert.Equal(t, tt.want, search.rng)

			search.cb.FindEntryComplete(nil)
			cb.wait(t)
		})
	}
}

func TestFindMessages_PredicateFailsClosed(t *testing.T) {
	l := newFakeLedger()
	f := finder.New("sub", l)
	before := counterValue(metrics.FinderDeserializationErrors)

	cb := make(chanCallback, 1)
	f.FindMessages(150, cb)
	search := l.next(t)

	assert.False(t, search.predicate(ledger.Entry{Position: position.New(1, 1), Data: []byte("garbage")}))
	assert.False(t, search.predicate(candidate(position.New(1, 2), 0)))
	assert.Equal(t, before+2, counterValue(metrics.FinderDeserializationErrors))

	search.cb.FindEntryComplete(nil)
	cb.wait(t)
}

func TestFindMessages_SearchFailure(t *testing.T) {
	l := newFakeLedger()
	f := finder.New("sub", l)
	cause := errors.New("crc mismatch")

	cb := make(chanCallback, 1)
	f.FindMessages(150, cb)
	l.next(t).cb.FindEntryFailed(cause, position.Ptr(position.New(2, 7)))

	res := cb.wait(t)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, cause)

	var sfe *finder.SearchFailedError
	require.ErrorAs(t, res.err, &sfe)
	assert.Equal(t, position.Ptr(position.New(2, 7)), sfe.LastExamined)
	assert.Equal(t, position.Ptr(position.New(2, 7)), res.last)
	assert.Contains(t, sfe.Error(), "2:7")
	assert.False(t, f.InProgress())
}

func TestFindMessages_CatalogFailure(t *testing.T) {
	l := newFakeLedger()
	l.catalogErr = errors.New("bolt closed")
	f := finder.New("sub", l)

	cb := make(chanCallback, 1)
	f.FindMessages(150, cb)

	res := cb.wait(t)
	assert.ErrorIs(t, res.err, l.catalogErr)
	assert.Nil(t, res.last)
	assert.Empty(t, l.searches)
	assert.False(t, f.InProgress())
	cb.assertEmpty(t)
}

func TestFindMessages_DuplicateReportIgnored(t *testing.T) {
	l := newFakeLedger()
	f := finder.New("sub", l)

	cb := make(chanCallback, 2)
	f.FindMessages(150, cb)
	search := l.next(t)
	search.cb.FindEntryComplete(nil)
	search.cb.FindEntryFailed(errors.New("late"), nil)

	cb.wait(t)
	cb.assertEmpty(t)
}

func TestFindAsync(t *testing.T) {
	l := newFakeLedger()
	f := finder.New("sub", l)

	ch := f.FindAsync(150)
	l.next(t).cb.FindEntryComplete(position.Ptr(position.New(1, 1)))

	res, ok := <-ch
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, position.Ptr(position.New(1, 1)), res.Position)

	_, ok = <-ch
	assert.False(t, ok, "channel closed after the result")
}

func TestFind_ContextCancelled(t *testing.T) {
	l := newFakeLedger()
	f := finder.New("sub", l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Find(ctx, 150)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.InProgress(), "search keeps running after the caller gave up")

	l.next(t).cb.FindEntryComplete(nil)
	assert.False(t, f.InProgress())

	_, err = f.Find(ctx, 150)
	assert.ErrorIs(t, err, context.Canceled)
}

func openLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(ledger.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func appendAt(t *testing.T, l *ledger.Ledger, publishTimes ...int64) {
	t.Helper()
	for _, ts := range publishTimes {
		_, err := l.Append(entry.Entry{PublishTime: ts, Payload: []byte("x")})
		require.NoError(t, err)
	}
}

func TestFind_BoundarySemantics(t *testing.T) {
	l := openLedger(t)
	appendAt(t, l, 100, 150, 150, 300)
	f := finder.New("sub", l)

	tests := []struct {
		name string
		ts   int64
		want *position.Position
	}{
		{name: "last_equal", ts: 150, want: position.Ptr(position.New(1, 2))},
		{name: "before_first", ts: 99, want: nil},
		{name: "after_last", ts: 1000, want: position.Ptr(position.New(1, 3))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Find(context.Background(), tt.ts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.False(t, f.InProgress())
		})
	}
}

func TestFind_DeserializationResilience(t *testing.T) {
	l := openLedger(t)
	appendAt(t, l, 100, 0, 200)
	f := finder.New("sub", l)
	before := counterValue(metrics.FinderDeserializationErrors)

	got, err := f.Find(context.Background(), 150)
	require.NoError(t, err)
	assert.Equal(t, position.Ptr(position.New(1, 0)), got)
	assert.Equal(t, before+1, counterValue(metrics.FinderDeserializationErrors))
}

func TestFind_UsesSealedSegmentRange(t *testing.T) {
	l := openLedger(t)
	appendAt(t, l, 100, 120, 140, 160, 180, 200)
	_, err := l.Seal()
	require.NoError(t, err)
	appendAt(t, l, 201, 250, 300)
	f := finder.New("sub", l)

	boundedCount := counterValue(metrics.FinderRangeSelections.WithLabelValues(metrics.RangeBounded))

	got, err := f.Find(context.Background(), 150)
	require.NoError(t, err)
	assert.Equal(t, position.Ptr(position.New(1, 2)), got)
	assert.Equal(t, boundedCount+1, counterValue(metrics.FinderRangeSelections.WithLabelValues(metrics.RangeBounded)))

	got, err = f.Find(context.Background(), 260)
	require.NoError(t, err)
	assert.Equal(t, position.Ptr(position.New(2, 1)), got)
}

// gatedLedger holds every predicate call of a real ledger search until the
// gate is closed.
type gatedLedger struct {
	*ledger.Ledger
	gate chan struct{}
}

func (g gatedLedger) AsyncFindNewestMatching(rng *position.Range, predicate ledger.Predicate, cb ledger.FindEntryCallback) {
	g.Ledger.AsyncFindNewestMatching(rng, func(e ledger.Entry) bool {
		<-g.gate
		return predicate(e)
	}, cb)
}

func TestFindMessages_ConcurrentCallers(t *testing.T) {
	const callers = 64

	l := openLedger(t)
	appendAt(t, l, 100, 200, 300)
	gated := gatedLedger{Ledger: l, gate: make(chan struct{})}
	f := finder.New("sub", gated)

	callbacks := make([]chanCallback, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range callbacks {
		callbacks[i] = make(chanCallback, 2)
		wg.Add(1)
		go func(cb chanCallback) {
			defer wg.Done()
			<-start
			f.FindMessages(250, cb)
		}(callbacks[i])
	}
	close(start)
	// rejections are reported before FindMessages returns
	wg.Wait()
	require.True(t, f.InProgress())
	close(gated.gate)

	var found, rejected int
	for _, cb := range callbacks {
		res := cb.wait(t)
		switch {
		case res.err == nil:
			found++
			assert.Equal(t, position.Ptr(position.New(1, 1)), res.pos)
		case errors.Is(res.err, finder.ErrConcurrentFind):
			rejected++
			assert.Nil(t, res.pos)
			assert.Nil(t, res.last)
		default:
			t.Errorf("unexpected result %+v", res)
		}
	}
	assert.Equal(t, 1, found)
	assert.Equal(t, callers-1, rejected)

	time.Sleep(20 * time.Millisecond)
	for _, cb := range callbacks {
		cb.assertEmpty(t)
	}
	assert.False(t, f.InProgress())
}

// trimmingLedger removes the sealed segments below trimBefore on the first
// predicate call of a search.
type trimmingLedger struct {
	*ledger.Ledger
	trimBefore uint64
	once       sync.Once
}

func (tl *trimmingLedger) AsyncFindNewestMatching(rng *position.Range, predicate ledger.Predicate, cb ledger.FindEntryCallback) {
	tl.Ledger.AsyncFindNewestMatching(rng, func(e ledger.Entry) bool {
		tl.once.Do(func() { _, _ = tl.Ledger.Trim(tl.trimBefore) })
		return predicate(e)
	}, cb)
}

func TestFind_ReadFailureReleasesGuard(t *testing.T) {
	l := openLedger(t)
	appendAt(t, l, 100, 200, 300)
	_, err := l.Seal()
	require.NoError(t, err)
	appendAt(t, l, 400)
	f := finder.New("sub", &trimmingLedger{Ledger: l, trimBefore: 2})
	failed := counterValue(metrics.FinderSearches.WithLabelValues(metrics.ResultFailed))

	got, err := f.Find(context.Background(), 150)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ledger.ErrEntryOutOfRange)

	var sfe *finder.SearchFailedError
	require.ErrorAs(t, err, &sfe)
	assert.Equal(t, position.Ptr(position.New(1, 2)), sfe.LastExamined)
	assert.False(t, f.InProgress())
	assert.Equal(t, failed+1, counterValue(metrics.FinderSearches.WithLabelValues(metrics.ResultFailed)))

	// the next request is accepted and searches what is left
	got, err = f.Find(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, position.Ptr(position.New(2, 0)), got)
}

func TestFind_CorruptEntryOnDisk(t *testing.T) {
	dir := t.TempDir()
	l, err := ledger.Open(ledger.Config{Dir: dir})
	require.NoError(t, err)
	for _, e := range []entry.Entry{
		{PublishTime: 100, Payload: []byte("first")},
		{PublishTime: 200, Payload: []byte("damaged-record")},
		{PublishTime: 300, Payload: []byte("third")},
	} {
		_, err := l.Append(e)
		require.NoError(t, err)
	}
	_, err = l.Seal()
	require.NoError(t, err)
	appendAt(t, l, 400)
	require.NoError(t, l.Close())

	path := walfs.SegmentFileName(dir, ledger.DefaultSegmentExt, 1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	at := bytes.Index(data, []byte("damaged-record"))
	require.GreaterOrEqual(t, at, 0)
	data[at] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l, err = ledger.Open(ledger.Config{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	f := finder.New("sub", l)
	before := counterValue(metrics.FinderDeserializationErrors)

	got, err := f.Find(context.Background(), 150)
	require.NoError(t, err)
	assert.Equal(t, position.Ptr(position.New(1, 0)), got)
	assert.Equal(t, before+1, counterValue(metrics.FinderDeserializationErrors))
	assert.False(t, f.InProgress())
}
