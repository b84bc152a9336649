package sctp

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// ChunkType is the one-byte SCTP chunk type tag (RFC 4960 §3.2).
type ChunkType uint8

const (
	ctInit             ChunkType = 1
	ctInitAck          ChunkType = 2
	ctSack             ChunkType = 3
	ctHeartbeat        ChunkType = 4
	ctHeartbeatAck     ChunkType = 5
	ctAbort            ChunkType = 6
	ctShutdown         ChunkType = 7
	ctShutdownAck      ChunkType = 8
	ctError            ChunkType = 9
	ctCookieEcho       ChunkType = 10
	ctCookieAck        ChunkType = 11
	ctShutdownComplete ChunkType = 14
	ctReconfig         ChunkType = 130
	ctForwardTSN       ChunkType = 192
)

func (t ChunkType) String() string {
	switch t {
	case ctInit:
		return "INIT"
	case ctInitAck:
		return "INIT-ACK"
	case ctSack:
		return "SACK"
	case ctHeartbeat:
		return "HEARTBEAT"
	case ctHeartbeatAck:
		return "HEARTBEAT-ACK"
	case ctAbort:
		return "ABORT"
	case ctShutdown:
		return "SHUTDOWN"
	case ctShutdownAck:
		return "SHUTDOWN-ACK"
	case ctError:
		return "ERROR"
	case ctCookieEcho:
		return "COOKIE-ECHO"
	case ctCookieAck:
		return "COOKIE-ACK"
	case ctShutdownComplete:
		return "SHUTDOWN-COMPLETE"
	case ctReconfig:
		return "RECONFIG"
	case ctForwardTSN:
		return "FORWARD-TSN"
	default:
		return "DATA"
	}
}

// unrecognizedAction is the action encoded in the top two bits of an
// unrecognized chunk's type byte (RFC 4960 §3.2).
type unrecognizedAction byte

const (
	actionSkip             unrecognizedAction = 0
	actionSkipReport       unrecognizedAction = 1
	actionStop             unrecognizedAction = 2
	actionStopReport       unrecognizedAction = 3
)

func (t ChunkType) unrecognizedAction() unrecognizedAction {
	return unrecognizedAction(byte(t) >> 6)
}

const chunkHeaderLength = 4

// chunkHeader is the common 4-byte prefix every chunk starts with:
// type(1) flags(1) length(2), where length covers the header itself plus
// the value, but never the implicit 4-byte padding.
type chunkHeader struct {
	Type   ChunkType
	Flags  byte
	Value  []byte
}

func (h *chunkHeader) unmarshal(raw []byte) error {
	if len(raw) < chunkHeaderLength {
		return errors.Errorf("chunk header needs %d bytes, got %d", chunkHeaderLength, len(raw))
	}
	h.Type = ChunkType(raw[0])
	h.Flags = raw[1]
	length := binary.BigEndian.Uint16(raw[2:4])
	if length < chunkHeaderLength {
		return errors.Errorf("chunk %s declared length %d is smaller than header", h.Type, length)
	}
	if int(length) > len(raw) {
		return errors.Errorf("chunk %s declared length %d overruns packet (have %d)", h.Type, length, len(raw))
	}
	h.Value = raw[chunkHeaderLength:length]
	return nil
}

func (h *chunkHeader) marshal(value []byte) []byte {
	length := chunkHeaderLength + len(value)
	out := make([]byte, padTo4(length))
	out[0] = byte(h.Type)
	out[1] = h.Flags
	binary.BigEndian.PutUint16(out[2:4], uint16(length))
	copy(out[chunkHeaderLength:], value)
	return out
}

// padTo4 rounds n up to the next multiple of 4; SCTP chunks are always
// 4-byte aligned on the wire even though the length field doesn't count it.
func padTo4(n int) int {
	return (n + 3) &^ 3
}

// chunk is implemented by every concrete chunk type (Init, InitAck, Sack,
// …). Parsing dispatches on the wire type tag into one of these structs
// rather than using a virtual "chunk object" hierarchy.
type chunk interface {
	chunkType() ChunkType
	unmarshal(raw []byte) error
	marshal() ([]byte, error)
}

// unrecognizedChunkError is returned by parseChunks for a chunk type whose
// top two type-byte bits mark it actionStopReport: the whole packet is dropped
// (spec §7, ParseError/"mandatory-unrecognized bit set"), but the caller
// gets enough to build and send back an ERROR chunk with cause, unlike a
// plain actionStop chunk which is dropped silently.
type unrecognizedChunkError struct {
	ChunkType ChunkType
	cause     error
}

func (e *unrecognizedChunkError) Error() string {
	return errors.Wrapf(e.cause, "unrecognized chunk type %d requires report", byte(e.ChunkType)).Error()
}

func (e *unrecognizedChunkError) Unwrap() error { return e.cause }

// parseChunks splits the chunk area of a packet into individual chunks,
// dispatching on type. Unknown chunk types are handled per their
// unrecognizedAction: skipped, or causing the whole packet to be rejected.
func parseChunks(raw []byte) ([]chunk, error) {
	var out []chunk
	for len(raw) > 0 {
		if len(raw) < chunkHeaderLength {
			return nil, errors.Errorf("trailing %d bytes too short for a chunk header", len(raw))
		}
		var hdr chunkHeader
		if err := hdr.unmarshal(raw); err != nil {
			return nil, err
		}
		length := chunkHeaderLength + len(hdr.Value)
		padded := padTo4(length)
		if padded > len(raw) {
			padded = len(raw)
		}

		c, err := newChunk(hdr.Type)
		if err != nil {
			switch hdr.Type.unrecognizedAction() {
			case actionSkip, actionSkipReport:
				raw = raw[padded:]
				continue
			case actionStopReport:
				return nil, &unrecognizedChunkError{ChunkType: hdr.Type, cause: err}
			default:
				return nil, err
			}
		}
		if err := c.unmarshal(raw[:length]); err != nil {
			return nil, err
		}
		out = append(out, c)
		raw = raw[padded:]
	}
	return out, nil
}

func newChunk(t ChunkType) (chunk, error) {
	switch t {
	case ctInit:
		return &chunkInit{}, nil
	case ctInitAck:
		return &chunkInitAck{}, nil
	case ctSack:
		return &chunkSack{}, nil
	case ctHeartbeat:
		return &chunkHeartbeat{}, nil
	case ctHeartbeatAck:
		return &chunkHeartbeatAck{}, nil
	case ctAbort:
		return &chunkAbort{}, nil
	case ctShutdown:
		return &chunkShutdown{}, nil
	case ctShutdownAck:
		return &chunkShutdownAck{}, nil
	case ctShutdownComplete:
		return &chunkShutdownComplete{}, nil
	case ctError:
		return &chunkError{}, nil
	case ctCookieEcho:
		return &chunkCookieEcho{}, nil
	case ctCookieAck:
		return &chunkCookieAck{}, nil
	case ctReconfig:
		return &chunkReconfig{}, nil
	case ctForwardTSN:
		return &chunkForwardTSN{}, nil
	default:
		if t == 0 {
			return &chunkPayloadData{}, nil
		}
		return nil, errors.Errorf("unrecognized chunk type %d", byte(t))
	}
}

// --- packet framing (RFC 4960 §3.3, CRC32c per RFC 3309) ---

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

type packet struct {
	SourcePort      uint16
	DestinationPort uint16
	VerificationTag uint32
	Chunks          []chunk
}

func (p *packet) marshal() ([]byte, error) {
	raw := make([]byte, commonHeaderLength)
	binary.BigEndian.PutUint16(raw[0:2], p.SourcePort)
	binary.BigEndian.PutUint16(raw[2:4], p.DestinationPort)
	binary.BigEndian.PutUint32(raw[4:8], p.VerificationTag)
	// checksum written below, after the full buffer exists

	for _, c := range p.Chunks {
		cb, err := c.marshal()
		if err != nil {
			return nil, err
		}
		raw = append(raw, cb...)
	}

	checksum := crc32.Checksum(raw, crc32cTable)
	binary.BigEndian.PutUint32(raw[8:12], checksum)
	return raw, nil
}

// unmarshalPacket parses the common header, verifies the CRC32c, and
// dispatches the chunk area. A checksum mismatch returns ErrChecksum so the
// caller can silently drop the datagram per spec §7.
func unmarshalPacket(raw []byte) (*packet, error) {
	if len(raw) < commonHeaderLength {
		return nil, errors.Errorf("packet shorter than common header: %d bytes", len(raw))
	}

	want := binary.BigEndian.Uint32(raw[8:12])
	withZeroed := make([]byte, len(raw))
	copy(withZeroed, raw)
	binary.BigEndian.PutUint32(withZeroed[8:12], 0)
	got := crc32.Checksum(withZeroed, crc32cTable)
	if got != want {
		return nil, ErrChecksum
	}

	p := &packet{
		SourcePort:      binary.BigEndian.Uint16(raw[0:2]),
		DestinationPort: binary.BigEndian.Uint16(raw[2:4]),
		VerificationTag: binary.BigEndian.Uint32(raw[4:8]),
	}
	chunks, err := parseChunks(raw[commonHeaderLength:])
	if err != nil {
		return nil, err
	}
	p.Chunks = chunks
	return p, nil
}
