package sctp

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

const (
	flagEnding    byte = 1 << 0
	flagBeginning byte = 1 << 1
	flagUnordered byte = 1 << 2
)

const payloadDataFixedLength = 12

// PayloadProtocolIdentifier is the PPID carried on every PAYLOAD-DATA
// chunk. The DataChannel-layer values are part of this engine's upper
// boundary contract (spec §6) even though DCEP framing itself lives above
// the association.
type PayloadProtocolIdentifier uint32

const (
	PPIDDCEP            PayloadProtocolIdentifier = 50
	PPIDString          PayloadProtocolIdentifier = 51
	PPIDBinaryPartial   PayloadProtocolIdentifier = 52 // deprecated
	PPIDBinary          PayloadProtocolIdentifier = 53
	PPIDStringPartial   PayloadProtocolIdentifier = 54 // deprecated
	PPIDStringEmpty     PayloadProtocolIdentifier = 56
	PPIDBinaryEmpty     PayloadProtocolIdentifier = 57
)

// chunkPayloadData is both the wire chunk (RFC 4960 §3.3.1) and its
// send/receive-side transmission state, kept together because both the
// Rust reference association's ChunkPayloadData and this codebase's
// in-flight/payload queues need to mutate nsent/abandoned/acked in place as
// the chunk moves through its lifecycle. There is exactly one owner at a
// time (pending queue, inflight queue, or a stream's reassembly buffer) so
// this does not create an aliasing hazard.
type chunkPayloadData struct {
	TSN                  uint32
	StreamIdentifier     uint16
	StreamSequenceNumber uint16
	PayloadProtocolID    PayloadProtocolIdentifier
	UserData             []byte
	Beginning            bool
	Ending               bool
	Unordered            bool

	// send-side state, meaningless on a freshly-received chunk
	Acked            bool
	Abandoned        bool
	Retransmit       bool
	NSent            int
	FirstSent        time.Time
	SinceLastSent    time.Time
	HeadAbandoned    bool
	TailAbandoned    bool
	MissIndications  int // SACKs so far that reported this TSN missing below their highest gap-acked TSN (spec §4.4)
}

func (c *chunkPayloadData) chunkType() ChunkType { return ChunkType(0) }

func (c *chunkPayloadData) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type >= 64 {
		return errors.Errorf("chunk type %d is not a DATA chunk", byte(hdr.Type))
	}
	if len(hdr.Value) < payloadDataFixedLength {
		return errors.Errorf("DATA value too short: %d", len(hdr.Value))
	}
	c.Unordered = hdr.Flags&flagUnordered != 0
	c.Beginning = hdr.Flags&flagBeginning != 0
	c.Ending = hdr.Flags&flagEnding != 0
	c.TSN = binary.BigEndian.Uint32(hdr.Value[0:4])
	c.StreamIdentifier = binary.BigEndian.Uint16(hdr.Value[4:6])
	c.StreamSequenceNumber = binary.BigEndian.Uint16(hdr.Value[6:8])
	c.PayloadProtocolID = PayloadProtocolIdentifier(binary.BigEndian.Uint32(hdr.Value[8:12]))
	c.UserData = append([]byte(nil), hdr.Value[payloadDataFixedLength:]...)
	return nil
}

func (c *chunkPayloadData) marshal() ([]byte, error) {
	v := make([]byte, payloadDataFixedLength+len(c.UserData))
	binary.BigEndian.PutUint32(v[0:4], c.TSN)
	binary.BigEndian.PutUint16(v[4:6], c.StreamIdentifier)
	binary.BigEndian.PutUint16(v[6:8], c.StreamSequenceNumber)
	binary.BigEndian.PutUint32(v[8:12], uint32(c.PayloadProtocolID))
	copy(v[payloadDataFixedLength:], c.UserData)

	var flags byte
	if c.Unordered {
		flags |= flagUnordered
	}
	if c.Beginning {
		flags |= flagBeginning
	}
	if c.Ending {
		flags |= flagEnding
	}
	hdr := chunkHeader{Type: 0, Flags: flags}
	return hdr.marshal(v), nil
}

// length is the on-wire footprint of this chunk once padded to 4 bytes,
// used for inflight-byte accounting and fragmentation budgeting.
func (c *chunkPayloadData) length() int {
	return padTo4(chunkHeaderLength + payloadDataFixedLength + len(c.UserData))
}
