package sctp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const sackFixedLength = 12

// gapAckBlock is a contiguous range of TSNs above CumTSNAck that the
// receiver has, expressed as offsets from CumTSNAck (RFC 4960 §3.3.4).
type gapAckBlock struct {
	Start uint16
	End   uint16
}

type chunkSack struct {
	CumTSNAck     uint32
	ARwnd         uint32
	GapAckBlocks  []gapAckBlock
	DuplicateTSNs []uint32
}

func (c *chunkSack) chunkType() ChunkType { return ctSack }

func (c *chunkSack) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctSack {
		return errors.Errorf("expected SACK, got %s", hdr.Type)
	}
	if len(hdr.Value) < sackFixedLength {
		return errors.Errorf("SACK value too short: %d", len(hdr.Value))
	}
	c.CumTSNAck = binary.BigEndian.Uint32(hdr.Value[0:4])
	c.ARwnd = binary.BigEndian.Uint32(hdr.Value[4:8])
	numGap := binary.BigEndian.Uint16(hdr.Value[8:10])
	numDup := binary.BigEndian.Uint16(hdr.Value[10:12])

	off := sackFixedLength
	need := off + int(numGap)*4 + int(numDup)*4
	if need > len(hdr.Value) {
		return errors.Errorf("SACK declares %d gap blocks / %d dup TSNs but value is only %d bytes", numGap, numDup, len(hdr.Value))
	}
	c.GapAckBlocks = make([]gapAckBlock, numGap)
	for i := range c.GapAckBlocks {
		c.GapAckBlocks[i] = gapAckBlock{
			Start: binary.BigEndian.Uint16(hdr.Value[off : off+2]),
			End:   binary.BigEndian.Uint16(hdr.Value[off+2 : off+4]),
		}
		off += 4
	}
	c.DuplicateTSNs = make([]uint32, numDup)
	for i := range c.DuplicateTSNs {
		c.DuplicateTSNs[i] = binary.BigEndian.Uint32(hdr.Value[off : off+4])
		off += 4
	}
	return nil
}

func (c *chunkSack) marshal() ([]byte, error) {
	v := make([]byte, sackFixedLength, sackFixedLength+4*(len(c.GapAckBlocks)+len(c.DuplicateTSNs)))
	binary.BigEndian.PutUint32(v[0:4], c.CumTSNAck)
	binary.BigEndian.PutUint32(v[4:8], c.ARwnd)
	binary.BigEndian.PutUint16(v[8:10], uint16(len(c.GapAckBlocks)))
	binary.BigEndian.PutUint16(v[10:12], uint16(len(c.DuplicateTSNs)))
	for _, g := range c.GapAckBlocks {
		b := make([]byte, 4)
		binary.BigEndian.PutUint16(b[0:2], g.Start)
		binary.BigEndian.PutUint16(b[2:4], g.End)
		v = append(v, b...)
	}
	for _, d := range c.DuplicateTSNs {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, d)
		v = append(v, b...)
	}
	hdr := chunkHeader{Type: ctSack}
	return hdr.marshal(v), nil
}
