package sctp

import (
	"sort"
	"time"
)

// ReliabilityType selects a stream's PR-SCTP abandonment policy (RFC 3758,
// spec §4.6).
type ReliabilityType int

const (
	ReliabilityReliable ReliabilityType = iota
	ReliabilityRexmit
	ReliabilityTimed
)

// StreamConfig is the per-stream reliability contract fixed at stream
// creation (first reference, local or remote).
type StreamConfig struct {
	Unordered            bool
	Reliability          ReliabilityType
	ReliabilityParameter uint32 // max_retrans for Rexmit, max_lifetime_ms for Timed
}

// assembledMessage is a fully-reassembled user message ready to surface
// through poll_event.
type assembledMessage struct {
	StreamIdentifier uint16
	PPID             PayloadProtocolIdentifier
	Data             []byte
	Unordered        bool
}

// stream is the per-SID reassembly and SSN bookkeeping object (spec §3
// "Stream object", §4.7). It holds no transport-level state: TSN
// assignment and retransmission live in the pending/inflight queues.
type stream struct {
	id  uint16
	cfg StreamConfig

	// outbound: the next SSN this association will stamp on an ordered
	// fragment of an outgoing message on this stream.
	nextOutgoingSSN uint16

	// resetting is true from the moment we send an outgoing SSN reset
	// request for this stream until the peer's RECONFIG response arrives;
	// Write rejects new data on the stream in the meantime (spec §4.8).
	resetting bool

	// inbound ordered reassembly: SSN -> (TSN -> chunk), plus the SSN we
	// are waiting to deliver next.
	expectedSSN   uint16
	orderedGroups map[uint16]map[uint32]*chunkPayloadData

	// inbound unordered reassembly: a flat TSN -> chunk map; any
	// contiguous run starting at a "beginning" chunk and ending at an
	// "ending" chunk is deliverable as soon as it is complete, regardless
	// of arrival order relative to other messages on this stream.
	unorderedPending map[uint32]*chunkPayloadData
}

func newStream(id uint16, cfg StreamConfig) *stream {
	return &stream{
		id:               id,
		cfg:              cfg,
		orderedGroups:    make(map[uint16]map[uint32]*chunkPayloadData),
		unorderedPending: make(map[uint32]*chunkPayloadData),
	}
}

// assignSSN returns the SSN to stamp on an outbound ordered fragment
// group and, if bump is true (the group's ending fragment), advances the
// counter for the next message.
func (s *stream) assignSSN(bump bool) uint16 {
	ssn := s.nextOutgoingSSN
	if bump {
		s.nextOutgoingSSN++
	}
	return ssn
}

// receive buffers an inbound chunk and returns every message it completes
// (zero, one, or — for unordered streams with several groups resolved by
// one chunk's arrival — more than one).
func (s *stream) receive(c *chunkPayloadData) []assembledMessage {
	if c.Unordered {
		if c.Beginning && c.Ending {
			return []assembledMessage{{
				StreamIdentifier: s.id,
				PPID:             c.PayloadProtocolID,
				Data:             append([]byte(nil), c.UserData...),
				Unordered:        true,
			}}
		}
		s.unorderedPending[c.TSN] = c
		return s.drainUnordered()
	}

	group, ok := s.orderedGroups[c.StreamSequenceNumber]
	if !ok {
		group = make(map[uint32]*chunkPayloadData)
		s.orderedGroups[c.StreamSequenceNumber] = group
	}
	group[c.TSN] = c
	return s.drainOrdered()
}

// drainOrdered delivers every consecutive SSN, starting at expectedSSN,
// whose fragment group is complete.
func (s *stream) drainOrdered() []assembledMessage {
	var out []assembledMessage
	for {
		group, ok := s.orderedGroups[s.expectedSSN]
		if !ok {
			return out
		}
		ppid, data, complete := assembleContiguous(group)
		if !complete {
			return out
		}
		delete(s.orderedGroups, s.expectedSSN)
		s.expectedSSN++
		out = append(out, assembledMessage{StreamIdentifier: s.id, PPID: ppid, Data: data})
	}
}

// drainUnordered scans every "beginning" chunk currently buffered and
// delivers any whose fragment run is now complete, in TSN order so
// delivery is deterministic even though it is not required to be ordered.
func (s *stream) drainUnordered() []assembledMessage {
	var begins []uint32
	for tsn, c := range s.unorderedPending {
		if c.Beginning {
			begins = append(begins, tsn)
		}
	}
	sort.Slice(begins, func(i, j int) bool { return tsnLT(begins[i], begins[j]) })

	var out []assembledMessage
	for _, begin := range begins {
		var data []byte
		tsn := begin
		complete := false
		var ppid PayloadProtocolIdentifier
		for {
			c, ok := s.unorderedPending[tsn]
			if !ok {
				break
			}
			data = append(data, c.UserData...)
			if c.Ending {
				ppid = c.PayloadProtocolID
				complete = true
				break
			}
			tsn++
		}
		if !complete {
			continue
		}
		for t := begin; ; t++ {
			delete(s.unorderedPending, t)
			if t == tsn {
				break
			}
		}
		out = append(out, assembledMessage{StreamIdentifier: s.id, PPID: ppid, Data: data, Unordered: true})
	}
	return out
}

// assembleContiguous walks a fragment group from its beginning chunk to
// its ending chunk, failing if any TSN in between is missing.
func assembleContiguous(group map[uint32]*chunkPayloadData) (PayloadProtocolIdentifier, []byte, bool) {
	var begin uint32
	found := false
	for tsn, c := range group {
		if c.Beginning {
			begin = tsn
			found = true
			break
		}
	}
	if !found {
		return 0, nil, false
	}
	var data []byte
	tsn := begin
	for {
		c, ok := group[tsn]
		if !ok {
			return 0, nil, false
		}
		data = append(data, c.UserData...)
		if c.Ending {
			return c.PayloadProtocolID, data, true
		}
		tsn++
	}
}

// resetInbound clears reassembly state and restarts ordered delivery at
// SSN 0, per a successful RECONFIG stream reset (spec §4.8). Reuse of the
// stream afterwards is permitted.
func (s *stream) resetInbound() {
	s.expectedSSN = 0
	s.orderedGroups = make(map[uint16]map[uint32]*chunkPayloadData)
	s.unorderedPending = make(map[uint32]*chunkPayloadData)
}

// shouldAbandon applies this stream's PR-SCTP policy to a chunk that just
// suffered a T3-rtx expiry (spec §4.6).
func (s *stream) shouldAbandon(c *chunkPayloadData, now time.Time) bool {
	switch s.cfg.Reliability {
	case ReliabilityRexmit:
		return c.NSent > int(s.cfg.ReliabilityParameter)
	case ReliabilityTimed:
		return now.Sub(c.FirstSent) > time.Duration(s.cfg.ReliabilityParameter)*time.Millisecond
	default:
		return false
	}
}
