package sctp

import "github.com/pkg/errors"

// chunkAbort carries zero or more ERROR causes (RFC 4960 §3.3.7); this
// engine doesn't need to parse individual causes, only the fact that the
// peer is tearing down, so the cause area is kept as an opaque reason.
type chunkAbort struct {
	Reason []byte
}

func (c *chunkAbort) chunkType() ChunkType { return ctAbort }

func (c *chunkAbort) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctAbort {
		return errors.Errorf("expected ABORT, got %s", hdr.Type)
	}
	c.Reason = append([]byte(nil), hdr.Value...)
	return nil
}

func (c *chunkAbort) marshal() ([]byte, error) {
	hdr := chunkHeader{Type: ctAbort}
	return hdr.marshal(c.Reason), nil
}

type chunkError struct {
	Reason []byte
}

func (c *chunkError) chunkType() ChunkType { return ctError }

func (c *chunkError) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctError {
		return errors.Errorf("expected ERROR, got %s", hdr.Type)
	}
	c.Reason = append([]byte(nil), hdr.Value...)
	return nil
}

func (c *chunkError) marshal() ([]byte, error) {
	hdr := chunkHeader{Type: ctError}
	return hdr.marshal(c.Reason), nil
}
