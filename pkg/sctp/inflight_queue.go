package sctp

// inflightQueue holds chunks that have been sent and are awaiting
// acknowledgement. Chunks are pushed at the tail in TSN order (TSNs are
// assigned monotonically at send time) and removed once the cumulative
// ack point passes them, so a slice doubles as the TSN-ascending
// iteration order while a side index gives O(1) lookup-by-TSN for
// gap-ack-block processing.
type inflightQueue struct {
	order []uint32
	byTSN map[uint32]*chunkPayloadData

	bytesAckedSinceLastCongestionEvent uint32
}

func newInflightQueue() *inflightQueue {
	return &inflightQueue{byTSN: make(map[uint32]*chunkPayloadData)}
}

func (q *inflightQueue) pushTail(c *chunkPayloadData) {
	q.order = append(q.order, c.TSN)
	q.byTSN[c.TSN] = c
}

func (q *inflightQueue) get(tsn uint32) (*chunkPayloadData, bool) {
	c, ok := q.byTSN[tsn]
	return c, ok
}

func (q *inflightQueue) len() int {
	return len(q.order)
}

// oldest returns the lowest-TSN chunk still outstanding, or nil if empty.
// This is the chunk T3-rtx expiry retransmits first (spec §4.3).
func (q *inflightQueue) oldest() *chunkPayloadData {
	for _, tsn := range q.order {
		if c, ok := q.byTSN[tsn]; ok {
			return c
		}
	}
	return nil
}

// all returns every outstanding chunk, TSN ascending. Callers that mutate
// chunk fields (acked, abandoned, retransmit) do so in place through the
// returned pointers.
func (q *inflightQueue) all() []*chunkPayloadData {
	out := make([]*chunkPayloadData, 0, len(q.byTSN))
	for _, tsn := range q.order {
		if c, ok := q.byTSN[tsn]; ok {
			out = append(out, c)
		}
	}
	return out
}

// removeAcked drops every chunk with TSN ≤ cumTSN, returning their total
// on-wire length (chunkPayloadData.length) so the caller can shrink
// inflight-byte accounting.
func (q *inflightQueue) removeAcked(cumTSN uint32) (removedBytes uint32) {
	kept := q.order[:0]
	for _, tsn := range q.order {
		c, ok := q.byTSN[tsn]
		if !ok {
			continue
		}
		if tsnLTE(tsn, cumTSN) {
			removedBytes += uint32(c.length())
			delete(q.byTSN, tsn)
			continue
		}
		kept = append(kept, tsn)
	}
	q.order = kept
	return removedBytes
}
