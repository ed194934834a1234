package finder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unijord/timeseek/pkg/catalog"
	"github.com/unijord/timeseek/pkg/finder"
	"github.com/unijord/timeseek/pkg/position"
)

func seg(id uint64, begin, end, count int64) catalog.SegmentMetadata {
	return catalog.SegmentMetadata{
		SegmentID:             id,
		EntryCount:            count,
		BeginPublishTimestamp: begin,
		EndPublishTimestamp:   end,
	}
}

func bounded(id uint64, last int64) finder.SearchRange {
	return finder.SearchRange{
		Bounded: true,
		Start:   position.New(id, 0),
		End:     position.New(id, last),
	}
}

func TestSelectRange(t *testing.T) {
	tests := []struct {
		name     string
		target   int64
		segments []catalog.SegmentMetadata
		want     finder.SearchRange
	}{
		{
			name:     "bracketed_by_first_segment",
			target:   150,
			segments: []catalog.SegmentMetadata{seg(1, 100, 200, 10), seg(2, 201, 300, 5)},
			want:     bounded(1, 9),
		},
		{
			name:     "bracketed_by_second_segment",
			target:   250,
			segments: []catalog.SegmentMetadata{seg(1, 100, 200, 10), seg(2, 201, 300, 5)},
			want:     bounded(2, 4),
		},
		{
			name:     "inclusive_bounds",
			target:   201,
			segments: []catalog.SegmentMetadata{seg(1, 100, 200, 10), seg(2, 201, 300, 5)},
			want:     bounded(2, 4),
		},
		{
			name:     "first_bracket_wins",
			target:   200,
			segments: []catalog.SegmentMetadata{seg(1, 100, 200, 10), seg(2, 200, 300, 5)},
			want:     bounded(1, 9),
		},
		{
			name:     "abort_on_first_unknown",
			target:   250,
			segments: []catalog.SegmentMetadata{seg(1, 0, 0, 10), seg(2, 201, 300, 5)},
			want:     finder.Unbounded,
		},
		{
			name:     "abort_on_negative_timestamp",
			target:   250,
			segments: []catalog.SegmentMetadata{seg(1, -5, 200, 10), seg(2, 201, 300, 5)},
			want:     finder.Unbounded,
		},
		{
			name:     "abort_on_half_known",
			target:   250,
			segments: []catalog.SegmentMetadata{seg(1, 100, 0, 10), seg(2, 201, 300, 5)},
			want:     finder.Unbounded,
		},
		{
			name:     "bracket_before_unknown",
			target:   150,
			segments: []catalog.SegmentMetadata{seg(1, 100, 200, 10), seg(2, 0, 0, 5)},
			want:     bounded(1, 9),
		},
		{
			name:     "between_segments",
			target:   200,
			segments: []catalog.SegmentMetadata{seg(1, 100, 199, 10), seg(2, 201, 300, 5)},
			want:     finder.Unbounded,
		},
		{
			name:     "after_everything",
			target:   1000,
			segments: []catalog.SegmentMetadata{seg(1, 100, 200, 10)},
			want:     finder.Unbounded,
		},
		{
			name:     "before_everything",
			target:   1,
			segments: []catalog.SegmentMetadata{seg(1, 100, 200, 10)},
			want:     finder.Unbounded,
		},
		{
			name:     "empty_segment_never_brackets",
			target:   150,
			segments: []catalog.SegmentMetadata{seg(1, 100, 200, 0), seg(2, 150, 160, 3)},
			want:     bounded(2, 2),
		},
		{
			name:   "no_segments",
			target: 150,
			want:   finder.Unbounded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, finder.SelectRange(tt.target, tt.segments))
		})
	}
}

func TestSearchRange_Range(t *testing.T) {
	assert.Nil(t, finder.Unbounded.Range())
	assert.Equal(t, "unbounded", finder.Unbounded.String())

	r := bounded(3, 7)
	assert.Equal(t, &position.Range{Start: position.New(3, 0), End: position.New(3, 7)}, r.Range())
	assert.Equal(t, "[3:0, 3:7]", r.String())
}
