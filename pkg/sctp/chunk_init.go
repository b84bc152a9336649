package sctp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// initFixedLength is the size of INIT/INIT-ACK's five mandatory fixed
// parameters: initiate tag, a_rwnd, #out streams, #in streams, initial TSN.
const initFixedLength = 16

// chunkInit is grounded on the real wire layout documented (and partially
// parsed) in the retrieved pion/sctp chunk_init.go: this version finishes
// the TLV parameter walk and adds Marshal, which that snapshot left
// unimplemented.
type chunkInit struct {
	initiateTag      uint32
	advertisedRwnd   uint32
	numOutboundStreams uint16
	numInboundStreams  uint16
	initialTSN       uint32
	params           []rawParam
}

func (c *chunkInit) chunkType() ChunkType { return ctInit }

func (c *chunkInit) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctInit {
		return errors.Errorf("expected INIT, got %s", hdr.Type)
	}
	if len(hdr.Value) < initFixedLength {
		return errors.Errorf("INIT value too short: %d < %d", len(hdr.Value), initFixedLength)
	}
	c.initiateTag = binary.BigEndian.Uint32(hdr.Value[0:4])
	c.advertisedRwnd = binary.BigEndian.Uint32(hdr.Value[4:8])
	c.numOutboundStreams = binary.BigEndian.Uint16(hdr.Value[8:10])
	c.numInboundStreams = binary.BigEndian.Uint16(hdr.Value[10:12])
	c.initialTSN = binary.BigEndian.Uint32(hdr.Value[12:16])
	params, err := parseParams(hdr.Value[initFixedLength:])
	if err != nil {
		return err
	}
	c.params = params
	return nil
}

func (c *chunkInit) marshalValue() []byte {
	v := make([]byte, initFixedLength)
	binary.BigEndian.PutUint32(v[0:4], c.initiateTag)
	binary.BigEndian.PutUint32(v[4:8], c.advertisedRwnd)
	binary.BigEndian.PutUint16(v[8:10], c.numOutboundStreams)
	binary.BigEndian.PutUint16(v[10:12], c.numInboundStreams)
	binary.BigEndian.PutUint32(v[12:16], c.initialTSN)
	v = append(v, supportedExtensionsParam()...)
	return v
}

func (c *chunkInit) marshal() ([]byte, error) {
	hdr := chunkHeader{Type: ctInit}
	return hdr.marshal(c.marshalValue()), nil
}

func (c *chunkInit) supportsForwardTSN() bool { return supportsExtension(c.params, ctForwardTSN) }
func (c *chunkInit) supportsReconfig() bool   { return supportsExtension(c.params, ctReconfig) }

// chunkInitAck carries the same fixed fields as INIT plus a mandatory state
// cookie parameter (the opaque, HMAC-signed blob the server hands back so
// it can remain stateless until COOKIE-ECHO arrives).
type chunkInitAck struct {
	initiateTag        uint32
	advertisedRwnd     uint32
	numOutboundStreams uint16
	numInboundStreams  uint16
	initialTSN         uint32
	stateCookie        []byte
	params             []rawParam
}

func (c *chunkInitAck) chunkType() ChunkType { return ctInitAck }

func (c *chunkInitAck) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctInitAck {
		return errors.Errorf("expected INIT-ACK, got %s", hdr.Type)
	}
	if len(hdr.Value) < initFixedLength {
		return errors.Errorf("INIT-ACK value too short: %d < %d", len(hdr.Value), initFixedLength)
	}
	c.initiateTag = binary.BigEndian.Uint32(hdr.Value[0:4])
	c.advertisedRwnd = binary.BigEndian.Uint32(hdr.Value[4:8])
	c.numOutboundStreams = binary.BigEndian.Uint16(hdr.Value[8:10])
	c.numInboundStreams = binary.BigEndian.Uint16(hdr.Value[10:12])
	c.initialTSN = binary.BigEndian.Uint32(hdr.Value[12:16])
	params, err := parseParams(hdr.Value[initFixedLength:])
	if err != nil {
		return err
	}
	c.params = params
	cookie, ok := findParam(params, paramStateCookie)
	if !ok {
		return errors.New("INIT-ACK missing mandatory state cookie parameter")
	}
	c.stateCookie = cookie
	return nil
}

func (c *chunkInitAck) marshal() ([]byte, error) {
	v := make([]byte, initFixedLength)
	binary.BigEndian.PutUint32(v[0:4], c.initiateTag)
	binary.BigEndian.PutUint32(v[4:8], c.advertisedRwnd)
	binary.BigEndian.PutUint16(v[8:10], c.numOutboundStreams)
	binary.BigEndian.PutUint16(v[10:12], c.numInboundStreams)
	binary.BigEndian.PutUint32(v[12:16], c.initialTSN)
	v = append(v, marshalParam(paramStateCookie, c.stateCookie)...)
	v = append(v, supportedExtensionsParam()...)
	hdr := chunkHeader{Type: ctInitAck}
	return hdr.marshal(v), nil
}

func (c *chunkInitAck) supportsForwardTSN() bool { return supportsExtension(c.params, ctForwardTSN) }
func (c *chunkInitAck) supportsReconfig() bool   { return supportsExtension(c.params, ctReconfig) }
