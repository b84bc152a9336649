package sctp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInflightQueueOldestIsLowestOutstandingTSN(t *testing.T) {
	q := newInflightQueue()
	q.pushTail(&chunkPayloadData{TSN: 1001, UserData: []byte("a")})
	q.pushTail(&chunkPayloadData{TSN: 1002, UserData: []byte("b")})
	q.pushTail(&chunkPayloadData{TSN: 1003, UserData: []byte("c")})

	require.Equal(t, uint32(1001), q.oldest().TSN)
	q.removeAcked(1001)
	require.Equal(t, uint32(1002), q.oldest().TSN)
}

func TestInflightQueueRemoveAckedKeepsAboveCumAck(t *testing.T) {
	q := newInflightQueue()
	for _, tsn := range []uint32{1001, 1002, 1003} {
		q.pushTail(&chunkPayloadData{TSN: tsn})
	}
	q.removeAcked(1002)
	require.Equal(t, 1, q.len())
	_, ok := q.get(1003)
	require.True(t, ok)
	_, ok = q.get(1001)
	require.False(t, ok)
}

func TestInflightQueueAllPreservesTSNOrder(t *testing.T) {
	q := newInflightQueue()
	q.pushTail(&chunkPayloadData{TSN: 1003})
	q.pushTail(&chunkPayloadData{TSN: 1001})
	q.pushTail(&chunkPayloadData{TSN: 1002})

	var order []uint32
	for _, c := range q.all() {
		order = append(order, c.TSN)
	}
	// pushTail appends in caller-supplied (send) order, not sorted order;
	// the caller is responsible for pushing TSNs ascending as it assigns
	// them, which the association's send scheduler does.
	require.Equal(t, []uint32{1003, 1001, 1002}, order)
}
