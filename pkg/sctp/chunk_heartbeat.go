package sctp

import "github.com/pkg/errors"

// paramHeartbeatInfo is the mandatory HEARTBEAT/HEARTBEAT-ACK parameter
// type (RFC 4960 §3.3.5/3.3.6).
const paramHeartbeatInfo paramType = 1

// chunkHeartbeat/chunkHeartbeatAck carry an opaque "heartbeat info"
// parameter that the sender round-trips unexamined; this engine uses it
// only to detect a dead path, so it is treated as a raw byte blob rather
// than a typed parameter.
type chunkHeartbeat struct {
	Info []byte
}

func (c *chunkHeartbeat) chunkType() ChunkType { return ctHeartbeat }

func (c *chunkHeartbeat) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctHeartbeat {
		return errors.Errorf("expected HEARTBEAT, got %s", hdr.Type)
	}
	if len(hdr.Value) >= paramHeaderLength {
		c.Info = append([]byte(nil), hdr.Value[paramHeaderLength:]...)
	}
	return nil
}

func (c *chunkHeartbeat) marshal() ([]byte, error) {
	hdr := chunkHeader{Type: ctHeartbeat}
	return hdr.marshal(marshalParam(paramHeartbeatInfo, c.Info)), nil
}

type chunkHeartbeatAck struct {
	Info []byte
}

func (c *chunkHeartbeatAck) chunkType() ChunkType { return ctHeartbeatAck }

func (c *chunkHeartbeatAck) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctHeartbeatAck {
		return errors.Errorf("expected HEARTBEAT-ACK, got %s", hdr.Type)
	}
	if len(hdr.Value) >= paramHeaderLength {
		c.Info = append([]byte(nil), hdr.Value[paramHeaderLength:]...)
	}
	return nil
}

func (c *chunkHeartbeatAck) marshal() ([]byte, error) {
	hdr := chunkHeader{Type: ctHeartbeatAck}
	return hdr.marshal(marshalParam(paramHeartbeatInfo, c.Info)), nil
}
