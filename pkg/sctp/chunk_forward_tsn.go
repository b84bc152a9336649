package sctp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// forwardTSNStream is one (SID, highest-skipped-SSN) pair carried by a
// FORWARD-TSN chunk (RFC 3758 §3.2).
type forwardTSNStream struct {
	Identifier uint16
	Sequence   uint16
}

type chunkForwardTSN struct {
	NewCumulativeTSN uint32
	Streams          []forwardTSNStream
}

func (c *chunkForwardTSN) chunkType() ChunkType { return ctForwardTSN }

func (c *chunkForwardTSN) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctForwardTSN {
		return errors.Errorf("expected FORWARD-TSN, got %s", hdr.Type)
	}
	if len(hdr.Value) < 4 {
		return errors.New("FORWARD-TSN value too short")
	}
	c.NewCumulativeTSN = binary.BigEndian.Uint32(hdr.Value[0:4])
	for off := 4; off+4 <= len(hdr.Value); off += 4 {
		c.Streams = append(c.Streams, forwardTSNStream{
			Identifier: binary.BigEndian.Uint16(hdr.Value[off : off+2]),
			Sequence:   binary.BigEndian.Uint16(hdr.Value[off+2 : off+4]),
		})
	}
	return nil
}

func (c *chunkForwardTSN) marshal() ([]byte, error) {
	v := make([]byte, 4+4*len(c.Streams))
	binary.BigEndian.PutUint32(v[0:4], c.NewCumulativeTSN)
	for i, s := range c.Streams {
		off := 4 + 4*i
		binary.BigEndian.PutUint16(v[off:off+2], s.Identifier)
		binary.BigEndian.PutUint16(v[off+2:off+4], s.Sequence)
	}
	hdr := chunkHeader{Type: ctForwardTSN}
	return hdr.marshal(v), nil
}
