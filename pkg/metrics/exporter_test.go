package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"

	"github.com/unijord/timeseek/pkg/metrics"
)

func getCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func getHistogramCount(h prometheus.Histogram) uint64 {
	m := &dto.Metric{}
	_ = h.Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestObserveSearch(t *testing.T) {
	found := metrics.FinderSearches.WithLabelValues(metrics.ResultFound)
	failed := metrics.FinderSearches.WithLabelValues(metrics.ResultFailed)
	initialFound := getCounterValue(found)
	initialFailed := getCounterValue(failed)
	initialCount := getHistogramCount(metrics.FinderSearchDuration)

	metrics.ObserveSearch(metrics.ResultFound, 0.01)
	metrics.ObserveSearch(metrics.ResultFound, 0.02)
	metrics.ObserveSearch(metrics.ResultFailed, 0.5)

	assert.Equal(t, initialFound+2, getCounterValue(found))
	assert.Equal(t, initialFailed+1, getCounterValue(failed))
	assert.Equal(t, initialCount+3, getHistogramCount(metrics.FinderSearchDuration))
}

func TestObserveRange(t *testing.T) {
	bounded := metrics.FinderRangeSelections.WithLabelValues(metrics.RangeBounded)
	unbounded := metrics.FinderRangeSelections.WithLabelValues(metrics.RangeUnbounded)
	initialBounded := getCounterValue(bounded)
	initialUnbounded := getCounterValue(unbounded)

	metrics.ObserveRange(true)
	metrics.ObserveRange(false)
	metrics.ObserveRange(false)

	assert.Equal(t, initialBounded+1, getCounterValue(bounded))
	assert.Equal(t, initialUnbounded+2, getCounterValue(unbounded))
}
