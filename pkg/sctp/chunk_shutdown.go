package sctp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type chunkShutdown struct {
	CumulativeTSNAck uint32
}

func (c *chunkShutdown) chunkType() ChunkType { return ctShutdown }

func (c *chunkShutdown) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctShutdown {
		return errors.Errorf("expected SHUTDOWN, got %s", hdr.Type)
	}
	if len(hdr.Value) < 4 {
		return errors.New("SHUTDOWN value too short")
	}
	c.CumulativeTSNAck = binary.BigEndian.Uint32(hdr.Value[0:4])
	return nil
}

func (c *chunkShutdown) marshal() ([]byte, error) {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, c.CumulativeTSNAck)
	hdr := chunkHeader{Type: ctShutdown}
	return hdr.marshal(v), nil
}

type chunkShutdownAck struct{}

func (c *chunkShutdownAck) chunkType() ChunkType { return ctShutdownAck }

func (c *chunkShutdownAck) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctShutdownAck {
		return errors.Errorf("expected SHUTDOWN-ACK, got %s", hdr.Type)
	}
	return nil
}

func (c *chunkShutdownAck) marshal() ([]byte, error) {
	hdr := chunkHeader{Type: ctShutdownAck}
	return hdr.marshal(nil), nil
}

type chunkShutdownComplete struct{}

func (c *chunkShutdownComplete) chunkType() ChunkType { return ctShutdownComplete }

func (c *chunkShutdownComplete) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctShutdownComplete {
		return errors.Errorf("expected SHUTDOWN-COMPLETE, got %s", hdr.Type)
	}
	return nil
}

func (c *chunkShutdownComplete) marshal() ([]byte, error) {
	hdr := chunkHeader{Type: ctShutdownComplete}
	return hdr.marshal(nil), nil
}

type chunkCookieEcho struct {
	Cookie []byte
}

func (c *chunkCookieEcho) chunkType() ChunkType { return ctCookieEcho }

func (c *chunkCookieEcho) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctCookieEcho {
		return errors.Errorf("expected COOKIE-ECHO, got %s", hdr.Type)
	}
	c.Cookie = append([]byte(nil), hdr.Value...)
	return nil
}

func (c *chunkCookieEcho) marshal() ([]byte, error) {
	hdr := chunkHeader{Type: ctCookieEcho}
	return hdr.marshal(c.Cookie), nil
}

type chunkCookieAck struct{}

func (c *chunkCookieAck) chunkType() ChunkType { return ctCookieAck }

func (c *chunkCookieAck) unmarshal(raw []byte) error {
	var hdr chunkHeader
	if err := hdr.unmarshal(raw); err != nil {
		return err
	}
	if hdr.Type != ctCookieAck {
		return errors.Errorf("expected COOKIE-ACK, got %s", hdr.Type)
	}
	return nil
}

func (c *chunkCookieAck) marshal() ([]byte, error) {
	hdr := chunkHeader{Type: ctCookieAck}
	return hdr.marshal(nil), nil
}
