package sctp

import "github.com/pkg/errors"

// Code identifies the taxonomy of error kinds from spec §7, so a caller can
// dispatch on the kind of failure without string-matching.
type Code int

const (
	// CodeParseError: malformed chunk, bad length, unsupported mandatory
	// parameter. The packet is dropped; an ERROR chunk may be emitted.
	CodeParseError Code = iota + 1
	// CodeChecksumError: CRC32c mismatch. The packet is dropped silently.
	CodeChecksumError
	// CodeHandshakeInvalidState: INIT/COOKIE-ECHO arrived in a state that
	// doesn't accept it.
	CodeHandshakeInvalidState
	// CodeInvalidVerificationTag: a non-INIT chunk's tag didn't match ours.
	CodeInvalidVerificationTag
	// CodeMessageTooLarge: a user Write() exceeded max_message_size.
	CodeMessageTooLarge
	// CodeStreamReset: a Write() targeted a stream that is mid-reset.
	CodeStreamReset
	// CodeNotEstablished: a Write() happened before the handshake finished.
	CodeNotEstablished
	// CodeTimeout: T1/T2/heartbeat retransmit budget exhausted.
	CodeTimeout
	// CodePeerAbort: an ABORT chunk arrived from the peer.
	CodePeerAbort
	// CodeStreamNotFound: reset_stream targeted a SID never referenced.
	CodeStreamNotFound
	// CodeExtensionNotSupported: reset_stream (or another RECONFIG-gated
	// operation) was attempted but the peer's INIT/INIT-ACK never
	// advertised support for RE-CONFIG.
	CodeExtensionNotSupported
	// CodeTooManyStreams: create_stream refused a new SID because
	// MaxInboundStreams capacity is already in use.
	CodeTooManyStreams
)

func (c Code) String() string {
	switch c {
	case CodeParseError:
		return "ParseError"
	case CodeChecksumError:
		return "ChecksumError"
	case CodeHandshakeInvalidState:
		return "HandshakeInvalidState"
	case CodeInvalidVerificationTag:
		return "InvalidVerificationTag"
	case CodeMessageTooLarge:
		return "MessageTooLarge"
	case CodeStreamReset:
		return "StreamReset"
	case CodeNotEstablished:
		return "NotEstablished"
	case CodeTimeout:
		return "Timeout"
	case CodePeerAbort:
		return "PeerAbort"
	case CodeStreamNotFound:
		return "StreamNotFound"
	case CodeExtensionNotSupported:
		return "ExtensionNotSupported"
	case CodeTooManyStreams:
		return "TooManyStreams"
	default:
		return "Unknown"
	}
}

// Error wraps a Code with a human-readable cause.
type Error struct {
	Code  Code
	cause string
}

func (e *Error) Error() string {
	if e.cause == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.cause
}

func newError(code Code, cause string) *Error {
	return &Error{Code: code, cause: cause}
}

func newErrorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, cause: errors.Errorf(format, args...).Error()}
}

// Is lets errors.Is(err, ErrMessageTooLarge) etc. work against a wrapped
// *Error by comparing codes.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	return ok && te.Code == e.Code
}

var (
	ErrMessageTooLarge          = newError(CodeMessageTooLarge, "message exceeds max_message_size")
	ErrStreamReset              = newError(CodeStreamReset, "stream is resetting")
	ErrNotEstablished           = newError(CodeNotEstablished, "association is not established")
	ErrHandshakeInvalidState    = newError(CodeHandshakeInvalidState, "handshake chunk invalid in current state")
	ErrInvalidVerificationTag   = newError(CodeInvalidVerificationTag, "verification tag mismatch")
	ErrChecksum                 = newError(CodeChecksumError, "checksum mismatch")
	ErrStreamAlreadyExists      = newError(CodeParseError, "stream identifier already in use")
	ErrAssociationClosed        = newError(CodeTimeout, "association closed")
	ErrStreamNotFound           = newError(CodeStreamNotFound, "no such stream")
	ErrReconfigNotSupported     = newError(CodeExtensionNotSupported, "peer did not advertise RE-CONFIG support")
	ErrTooManyStreams           = newError(CodeTooManyStreams, "stream table is at MaxInboundStreams capacity")
)
