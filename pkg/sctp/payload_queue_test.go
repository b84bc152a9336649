package sctp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadQueueAdvanceCumulativeTSNConsumesContiguousRun(t *testing.T) {
	q := newPayloadQueue()
	q.push(&chunkPayloadData{TSN: 1001})
	q.push(&chunkPayloadData{TSN: 1002})
	q.push(&chunkPayloadData{TSN: 1004}) // gap at 1003

	var delivered []uint32
	next := q.advanceCumulativeTSN(1000, func(c *chunkPayloadData) { delivered = append(delivered, c.TSN) })

	require.Equal(t, uint32(1002), next)
	require.Equal(t, []uint32{1001, 1002}, delivered)
	require.True(t, q.has(1004))
	require.False(t, q.has(1001))
}

func TestPayloadQueueGapAckBlocks(t *testing.T) {
	q := newPayloadQueue()
	q.push(&chunkPayloadData{TSN: 1002})
	q.push(&chunkPayloadData{TSN: 1003})
	q.push(&chunkPayloadData{TSN: 1006})

	blocks := q.gapAckBlocks(1000)
	require.Equal(t, []gapAckBlock{{Start: 2, End: 3}, {Start: 6, End: 6}}, blocks)
}

func TestPayloadQueueGapAckBlocksEmptyWhenNothingBuffered(t *testing.T) {
	q := newPayloadQueue()
	require.Empty(t, q.gapAckBlocks(1000))
}

func TestPayloadQueueDuplicateDetection(t *testing.T) {
	q := newPayloadQueue()
	q.push(&chunkPayloadData{TSN: 5})
	require.True(t, q.has(5))
	require.False(t, q.has(6))
}
