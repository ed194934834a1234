package catalog

import (
	"sync"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/unijord/timeseek/pkg/gen/go/fb/logfb"
)

const commandBuilderSize = 256

// CommandBuilder builds catalog commands as FlatBuffers.
type CommandBuilder struct {
	pool sync.Pool
}

// NewCommandBuilder creates a new command builder.
func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{
		pool: sync.Pool{
			New: func() any {
				return flatbuffers.NewBuilder(commandBuilderSize)
			},
		},
	}
}

func (cb *CommandBuilder) getBuilder() *flatbuffers.Builder {
	return cb.pool.Get().(*flatbuffers.Builder)
}

func (cb *CommandBuilder) putBuilder(b *flatbuffers.Builder) {
	b.Reset()
	cb.pool.Put(b)
}

// BuildSegmentSealed creates a SEGMENT_SEALED command.
func (cb *CommandBuilder) BuildSegmentSealed(meta SegmentMetadata, byteSize int64) []byte {
	builder := cb.getBuilder()
	defer cb.putBuilder(builder)

	logfb.SegmentSealedCommandStart(builder)
	logfb.SegmentSealedCommandAddSegmentId(builder, meta.SegmentID)
	logfb.SegmentSealedCommandAddEntryCount(builder, meta.EntryCount)
	logfb.SegmentSealedCommandAddBeginPublishTime(builder, meta.BeginPublishTimestamp)
	logfb.SegmentSealedCommandAddEndPublishTime(builder, meta.EndPublishTimestamp)
	logfb.SegmentSealedCommandAddByteSize(builder, byteSize)
	logfb.SegmentSealedCommandAddSealedAt(builder, time.Now().UnixNano())
	sealed := logfb.SegmentSealedCommandEnd(builder)

	return cb.finish(builder, logfb.CommandTypeSEGMENT_SEALED, logfb.CommandPayloadSegmentSealedCommand, sealed)
}

// BuildSegmentDeleted creates a SEGMENT_DELETED command.
func (cb *CommandBuilder) BuildSegmentDeleted(segmentID uint64) []byte {
	builder := cb.getBuilder()
	defer cb.putBuilder(builder)

	logfb.SegmentDeletedCommandStart(builder)
	logfb.SegmentDeletedCommandAddSegmentId(builder, segmentID)
	logfb.SegmentDeletedCommandAddDeletedAt(builder, time.Now().UnixNano())
	deleted := logfb.SegmentDeletedCommandEnd(builder)

	return cb.finish(builder, logfb.CommandTypeSEGMENT_DELETED, logfb.CommandPayloadSegmentDeletedCommand, deleted)
}

func (cb *CommandBuilder) finish(builder *flatbuffers.Builder,
	typ logfb.CommandType,
	payloadType logfb.CommandPayload,
	payload flatbuffers.UOffsetT,
) []byte {
	logfb.CatalogCommandStart(builder)
	logfb.CatalogCommandAddType(builder, typ)
	logfb.CatalogCommandAddPayloadType(builder, payloadType)
	logfb.CatalogCommandAddPayload(builder, payload)
	cmd := logfb.CatalogCommandEnd(builder)

	builder.Finish(cmd)
	data := builder.FinishedBytes()
	result := make([]byte, len(data))
	copy(result, data)
	return result
}
