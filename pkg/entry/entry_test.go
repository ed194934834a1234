package entry_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/timeseek/pkg/entry"
)

func TestEncodeDecode(t *testing.T) {
	in := entry.Entry{
		PublishTime:  1_700_000_000_123,
		ProducerName: "producer-a",
		SequenceID:   42,
		EventTime:    1_699_999_999_000,
		Payload:      []byte("hello"),
	}

	data := entry.Encode(in)
	out, err := entry.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	ts, err := entry.ExtractPublishTimestamp(data)
	require.NoError(t, err)
	assert.Equal(t, in.PublishTime, ts)
}

func TestDecodeEmptyPayload(t *testing.T) {
	out, err := entry.Decode(entry.Encode(entry.Entry{PublishTime: 5}))
	require.NoError(t, err)
	assert.Nil(t, out.Payload)
	assert.Empty(t, out.ProducerName)
}

func TestExtractPublishTimestamp_Failures(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "nil", data: nil, wantErr: entry.ErrMalformed},
		{name: "short", data: []byte{1, 2, 3}, wantErr: entry.ErrMalformed},
		{name: "text", data: []byte("not-a-flatbuffer"), wantErr: entry.ErrMalformed},
		{name: "root_past_end", data: []byte{0xFF, 0x00, 0x00, 0x00, 0, 0, 0, 0}, wantErr: entry.ErrMalformed},
		{name: "missing_publish_time", data: entry.Encode(entry.Entry{ProducerName: "p"}), wantErr: entry.ErrMissingPublishTime},
		{name: "negative_publish_time", data: entry.Encode(entry.Entry{PublishTime: -10}), wantErr: entry.ErrMissingPublishTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := entry.ExtractPublishTimestamp(tt.data)
			require.Error(t, err)

			var de *entry.DeserializationError
			assert.True(t, errors.As(err, &de))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExtractPublishTimestamp_TruncatedEnvelope(t *testing.T) {
	data := entry.Encode(entry.Entry{PublishTime: 100, Payload: make([]byte, 64)})

	for cut := 0; cut < len(data); cut++ {
		assert.NotPanics(t, func() {
			_, _ = entry.ExtractPublishTimestamp(data[:cut])
			_, _ = entry.Decode(data[:cut])
		})
	}
}
