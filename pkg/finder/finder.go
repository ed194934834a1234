// Package finder locates the newest entry published at or before a
// timestamp. One MessageFinder serves one cursor and runs at most one search
// at a time.
package finder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unijord/timeseek/pkg/catalog"
	"github.com/unijord/timeseek/pkg/entry"
	"github.com/unijord/timeseek/pkg/ledger"
	"github.com/unijord/timeseek/pkg/metrics"
	"github.com/unijord/timeseek/pkg/position"
)

// Ledger is what a finder needs from the log.
type Ledger interface {
	// Catalog returns the segments ordered by id.
	Catalog() ([]catalog.SegmentMetadata, error)
	AsyncFindNewestMatching(rng *position.Range, predicate ledger.Predicate, cb ledger.FindEntryCallback)
}

// FindCallback receives the outcome of FindMessages, exactly once.
type FindCallback interface {
	// FindEntryComplete reports the newest entry published at or before the
	// requested timestamp, or nil when there is none.
	FindEntryComplete(pos *position.Position)
	FindEntryFailed(err error, lastExamined *position.Position)
}

// FindResult is the outcome delivered by FindAsync.
type FindResult struct {
	Position *position.Position
	Err      error
}

type Option func(*MessageFinder)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *MessageFinder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// MessageFinder maps timestamps to positions for one cursor.
type MessageFinder struct {
	name   string
	ledger Ledger
	logger *slog.Logger

	inProgress atomic.Bool
}

// New returns a finder for the cursor called name.
func New(name string, l Ledger, opts ...Option) *MessageFinder {
	f := &MessageFinder{
		name:   name,
		ledger: l,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "finder", "cursor", name)
	return f
}

// Name returns the cursor name the finder serves.
func (f *MessageFinder) Name() string {
	return f.name
}

// InProgress reports whether a search is running.
func (f *MessageFinder) InProgress() bool {
	return f.inProgress.Load()
}

// FindMessages searches for the newest entry published at or before
// timestamp (epoch milliseconds) and reports to cb. While a search runs,
// further calls fail at once with ErrConcurrentFind.
func (f *MessageFinder) FindMessages(timestamp int64, cb FindCallback) {
	if !f.inProgress.CompareAndSwap(false, true) {
		f.logger.Debug("ignoring message position find, last find is still running", "timestamp", timestamp)
		metrics.FinderSearches.WithLabelValues(metrics.ResultRejected).Inc()
		cb.FindEntryFailed(ErrConcurrentFind, nil)
		return
	}

	req := &findRequest{
		finder:    f,
		timestamp: timestamp,
		cb:        cb,
		started:   time.Now(),
	}
	f.logger.Debug("starting message position find", "timestamp", timestamp)

	segments, err := f.ledger.Catalog()
	if err != nil {
		req.FindEntryFailed(fmt.Errorf("snapshot segment catalog: %w", err), nil)
		return
	}

	rng := SelectRange(timestamp, segments)
	metrics.ObserveRange(rng.Bounded)
	f.logger.Debug("search range selected", "timestamp", timestamp, "range", rng.String())

	f.ledger.AsyncFindNewestMatching(rng.Range(), req.matches, req)
}

// FindAsync is FindMessages delivering to a channel. The channel receives
// exactly one result and is then closed.
func (f *MessageFinder) FindAsync(timestamp int64) <-chan FindResult {
	ch := make(chan FindResult, 1)
	f.FindMessages(timestamp, resultChan(ch))
	return ch
}

// Find waits for the search at timestamp. Cancelling ctx only stops the
// wait: the search runs to completion and keeps the finder busy until then.
func (f *MessageFinder) Find(ctx context.Context, timestamp int64) (*position.Position, error) {
	select {
	case res := <-f.FindAsync(timestamp):
		return res.Position, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// findRequest carries the state of one accepted search.
type findRequest struct {
	finder    *MessageFinder
	timestamp int64
	cb        FindCallback
	started   time.Time
	done      atomic.Bool
}

// matches holds for entries published at or before the request timestamp.
// Entries whose publish time cannot be read never match.
func (r *findRequest) matches(e ledger.Entry) bool {
	err := e.Err
	var published int64
	if err == nil {
		published, err = entry.ExtractPublishTimestamp(e.Data)
	}
	if err != nil {
		r.finder.logger.Error("error deserializing entry for message position find",
			"position", e.Position.String(),
			"error", err)
		metrics.FinderDeserializationErrors.Inc()
		return false
	}
	return published <= r.timestamp
}

func (r *findRequest) finish() bool {
	if !r.done.CompareAndSwap(false, true) {
		r.finder.logger.Error("search reported more than once", "timestamp", r.timestamp)
		return false
	}
	return true
}

func (r *findRequest) FindEntryComplete(pos *position.Position) {
	if !r.finish() {
		return
	}
	f := r.finder
	elapsed := time.Since(r.started).Seconds()
	if pos != nil {
		f.logger.Info("found position closest to provided timestamp",
			"position", pos.String(),
			"timestamp", r.timestamp)
		metrics.ObserveSearch(metrics.ResultFound, elapsed)
	} else {
		f.logger.Debug("no position found closest to provided timestamp", "timestamp", r.timestamp)
		metrics.ObserveSearch(metrics.ResultNotFound, elapsed)
	}

	f.inProgress.Store(false)
	r.cb.FindEntryComplete(pos)
}

func (r *findRequest) FindEntryFailed(err error, lastExamined *position.Position) {
	if !r.finish() {
		return
	}
	f := r.finder
	f.logger.Debug("message position find failed", "timestamp", r.timestamp, "error", err)
	metrics.ObserveSearch(metrics.ResultFailed, time.Since(r.started).Seconds())

	f.inProgress.Store(false)
	r.cb.FindEntryFailed(&SearchFailedError{Cause: err, LastExamined: lastExamined}, lastExamined)
}

type resultChan chan FindResult

func (c resultChan) FindEntryComplete(pos *position.Position) {
	c <- FindResult{Position: pos}
	close(c)
}

func (c resultChan) FindEntryFailed(err error, _ *position.Position) {
	c <- FindResult{Err: err}
	close(c)
}
