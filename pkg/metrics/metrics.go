package metrics

import "github.com/prometheus/client_golang/prometheus"

// search results
const (
	ResultFound    = "found"
	ResultNotFound = "not_found"
	ResultFailed   = "failed"
	ResultRejected = "rejected"
)

// range selections
const (
	RangeBounded   = "bounded"
	RangeUnbounded = "unbounded"
)

var (
	FinderSearches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeseek_finder_searches_total",
		Help: "Timestamp searches by result",
	}, []string{"result"})

	FinderDeserializationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeseek_finder_deserialization_errors_total",
		Help: "Entries whose publish timestamp could not be extracted during a search",
	})

	FinderSearchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timeseek_finder_search_duration_seconds",
		Help:    "Time from an accepted search request to its callback",
		Buckets: prometheus.DefBuckets,
	})

	FinderRangeSelections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeseek_finder_range_selections_total",
		Help: "Search ranges chosen from the segment catalog",
	}, []string{"kind"})

	LedgerEntriesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeseek_ledger_entries_appended_total",
		Help: "Entries appended to the ledger",
	})

	LedgerSegmentsSealed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeseek_ledger_segments_sealed_total",
		Help: "Segments sealed by rotation",
	})
)

// ObserveSearch records the outcome of an accepted search.
func ObserveSearch(result string, elapsedSeconds float64) {
	FinderSearches.WithLabelValues(result).Inc()
	FinderSearchDuration.Observe(elapsedSeconds)
}

// ObserveRange records which kind of range a search used.
func ObserveRange(bounded bool) {
	if bounded {
		FinderRangeSelections.WithLabelValues(RangeBounded).Inc()
		return
	}
	FinderRangeSelections.WithLabelValues(RangeUnbounded).Inc()
}
