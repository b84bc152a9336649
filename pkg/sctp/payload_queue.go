package sctp

import "sort"

// payloadQueue tracks inbound chunks above the cumulative ack point: which
// TSNs have arrived (possibly out of order) and not yet been handed to a
// stream for reassembly, so it can answer "what's the dense deliverable
// prefix" and "what gap-ack blocks do I report in my next SACK".
type payloadQueue struct {
	chunks map[uint32]*chunkPayloadData
}

func newPayloadQueue() *payloadQueue {
	return &payloadQueue{chunks: make(map[uint32]*chunkPayloadData)}
}

// push records a newly-received chunk. The caller is responsible for
// having already rejected TSNs at or below the cumulative ack point.
func (q *payloadQueue) push(c *chunkPayloadData) {
	q.chunks[c.TSN] = c
}

func (q *payloadQueue) has(tsn uint32) bool {
	_, ok := q.chunks[tsn]
	return ok
}

func (q *payloadQueue) get(tsn uint32) (*chunkPayloadData, bool) {
	c, ok := q.chunks[tsn]
	return c, ok
}

// remove discards a TSN once it has been delivered to its stream (or
// discarded by a FORWARD-TSN).
func (q *payloadQueue) remove(tsn uint32) {
	delete(q.chunks, tsn)
}

func (q *payloadQueue) len() int {
	return len(q.chunks)
}

// sortedTSNs returns every buffered TSN in ascending serial-number order.
func (q *payloadQueue) sortedTSNs() []uint32 {
	out := make([]uint32, 0, len(q.chunks))
	for tsn := range q.chunks {
		out = append(out, tsn)
	}
	sort.Slice(out, func(i, j int) bool { return tsnLT(out[i], out[j]) })
	return out
}

// advanceCumulativeTSN walks forward from cumTSN+1 consuming any
// contiguous run of buffered TSNs, passing each to consume (which hands it
// to its stream) and then removing it from the queue, and returns the new
// cumulative TSN ack point.
func (q *payloadQueue) advanceCumulativeTSN(cumTSN uint32, consume func(*chunkPayloadData)) uint32 {
	for {
		next := cumTSN + 1
		c, ok := q.chunks[next]
		if !ok {
			return cumTSN
		}
		consume(c)
		delete(q.chunks, next)
		cumTSN = next
	}
}

// gapAckBlocks builds the SACK gap-ack block list for everything buffered
// strictly above cumTSN, expressed as offsets from cumTSN (RFC 4960
// §3.3.4).
func (q *payloadQueue) gapAckBlocks(cumTSN uint32) []gapAckBlock {
	tsns := q.sortedTSNs()
	var blocks []gapAckBlock
	var start, end uint32
	have := false
	for _, tsn := range tsns {
		if !tsnGT(tsn, cumTSN) {
			continue
		}
		off := tsn - cumTSN
		if !have {
			start, end = off, off
			have = true
			continue
		}
		if off == end+1 {
			end = off
			continue
		}
		blocks = append(blocks, gapAckBlock{Start: uint16(start), End: uint16(end)})
		start, end = off, off
	}
	if have {
		blocks = append(blocks, gapAckBlock{Start: uint16(start), End: uint16(end)})
	}
	return blocks
}
