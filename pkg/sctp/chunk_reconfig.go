package sctp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// RECONFIG (RFC 6525) parameter types. This engine only implements the
// outgoing stream reset request/response exchange spec §4.8 describes;
// incoming-stream-reset and SSN/TSN-add-stream requests are not modeled
// (Non-goals: stream scheduling beyond round-robin implies we don't need
// the add-stream variants either).
const (
	reconfigParamOutgoingReset paramType = 13
	reconfigParamResponse      paramType = 16
)

// Result codes from RFC 6525 §4.4.
const (
	ReconfigResultSuccessNOP  uint32 = 0
	ReconfigResultSuccess     uint32 = 1
	ReconfigResultDenied      uint32 = 2
	ReconfigResultErrorWrongSSN uint32 = 3
	ReconfigResultInProgress  uint32 = 6
)

type outgoingSSNResetRequest struct {
	ReqSeq         uint32
	RespSeq        uint32
	LastAssignedTSN uint32
	StreamIdentifiers []uint16
}

type reconfigResponse struct {
	ReqSeq uint32
	Result uint32
}

// chunkReconfig bundles the parameters found in a single RECONFIG chunk;
// spec §4.8 never needs more than one request or one response per chunk,
// so both are optional and mutually independent.
type chunkReconfig struct {
	Request  *outgoingSSNResetRequest
	Response *reconfigResponse
}

func (c *chunkReconfig) chunkType() ChunkType { return ctReconfig }

func (c *chunkReconfig) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctReconfig {
		return errors.Errorf("expected RECONFIG, got %s", hdr.Type)
	}
	params, err := parseParams(hdr.Value)
	if err != nil {
		return err
	}
	for _, p := range params {
		switch p.Type {
		case reconfigParamOutgoingReset:
			if len(p.Value) < 12 {
				return errors.New("outgoing SSN reset request too short")
			}
			req := &outgoingSSNResetRequest{
				ReqSeq:          binary.BigEndian.Uint32(p.Value[0:4]),
				RespSeq:         binary.BigEndian.Uint32(p.Value[4:8]),
				LastAssignedTSN: binary.BigEndian.Uint32(p.Value[8:12]),
			}
			for off := 12; off+2 <= len(p.Value); off += 2 {
				req.StreamIdentifiers = append(req.StreamIdentifiers, binary.BigEndian.Uint16(p.Value[off:off+2]))
			}
			c.Request = req
		case reconfigParamResponse:
			if len(p.Value) < 8 {
				return errors.New("reconfig response too short")
			}
			c.Response = &reconfigResponse{
				ReqSeq: binary.BigEndian.Uint32(p.Value[0:4]),
				Result: binary.BigEndian.Uint32(p.Value[4:8]),
			}
		}
	}
	return nil
}

func (c *chunkReconfig) marshal() ([]byte, error) {
	var v []byte
	if r := c.Request; r != nil {
		body := make([]byte, 12+2*len(r.StreamIdentifiers))
		binary.BigEndian.PutUint32(body[0:4], r.ReqSeq)
		binary.BigEndian.PutUint32(body[4:8], r.RespSeq)
		binary.BigEndian.PutUint32(body[8:12], r.LastAssignedTSN)
		for i, sid := range r.StreamIdentifiers {
			binary.BigEndian.PutUint16(body[12+2*i:14+2*i], sid)
		}
		v = append(v, marshalParam(reconfigParamOutgoingReset, body)...)
	}
	if r := c.Response; r != nil {
		body := make([]byte, 8)
		binary.BigEndian.PutUint32(body[0:4], r.ReqSeq)
		binary.BigEndian.PutUint32(body[4:8], r.Result)
		v = append(v, marshalParam(reconfigParamResponse, body)...)
	}
	hdr := chunkHeader{Type: ctReconfig}
	return hdr.marshal(v), nil
}
