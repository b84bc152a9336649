package sctp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// paramType identifies a variable-length INIT/INIT-ACK parameter
// (RFC 4960 §3.3.2.1, RFC 5061 for FORWARD-TSN/RECONFIG support).
type paramType uint16

const (
	paramStateCookie         paramType = 7
	paramSupportedExtensions paramType = 0x8008
)

const paramHeaderLength = 4

type rawParam struct {
	Type  paramType
	Value []byte
}

func marshalParam(t paramType, value []byte) []byte {
	length := paramHeaderLength + len(value)
	out := make([]byte, padTo4(length))
	binary.BigEndian.PutUint16(out[0:2], uint16(t))
	binary.BigEndian.PutUint16(out[2:4], uint16(length))
	copy(out[paramHeaderLength:], value)
	return out
}

// parseParams splits a TLV area (the tail of INIT/INIT-ACK) into
// parameters. Unlike chunks, unrecognized optional parameters here are
// always skipped: none of the parameters this engine needs to understand
// (state cookie, supported extensions) are mandatory-to-understand in the
// RFC 4960 sense.
func parseParams(raw []byte) ([]rawParam, error) {
	var out []rawParam
	for len(raw) > 0 {
		if len(raw) < paramHeaderLength {
			break
		}
		t := paramType(binary.BigEndian.Uint16(raw[0:2]))
		length := binary.BigEndian.Uint16(raw[2:4])
		if length < paramHeaderLength || int(length) > len(raw) {
			return nil, errors.Errorf("parameter %d declared length %d invalid (have %d)", t, length, len(raw))
		}
		out = append(out, rawParam{Type: t, Value: raw[paramHeaderLength:length]})
		padded := padTo4(int(length))
		if padded > len(raw) {
			padded = len(raw)
		}
		raw = raw[padded:]
	}
	return out, nil
}

// supportedExtensionsParam lists the chunk types of the extensions this
// association advertises support for (FORWARD-TSN, RECONFIG), per
// RFC 5061 §4.2.7.
func supportedExtensionsParam() []byte {
	return marshalParam(paramSupportedExtensions, []byte{byte(ctForwardTSN), byte(ctReconfig)})
}

func findParam(params []rawParam, t paramType) ([]byte, bool) {
	for _, p := range params {
		if p.Type == t {
			return p.Value, true
		}
	}
	return nil, false
}

func supportsExtension(params []rawParam, ct ChunkType) bool {
	v, ok := findParam(params, paramSupportedExtensions)
	if !ok {
		return false
	}
	for _, b := range v {
		if ChunkType(b) == ct {
			return true
		}
	}
	return false
}
