package sctp

import (
	"time"

	"github.com/pion/logging"
)

// Defaults mirror spec.md §6 and the RFC 4960 / RFC 6298 minima the teacher
// repo's handler.go expresses the same way: package-level constants next to
// the struct that uses them, not a functional-options builder.
const (
	DefaultMaxMessageSize   = 65536
	DefaultMaxReceiveBuffer = 1024 * 1024
	DefaultPathMTU          = 1200
	DefaultMaxInitRetrans   = 8
	DefaultMaxAssocRetrans  = 10
	DefaultMaxPathRetrans   = 5
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultMaxInboundStreams bounds how many distinct stream identifiers
	// this association will track at once (spec §4.7's create_stream
	// capacity rejection); an inbound DATA chunk for a new SID beyond this
	// cap is dropped rather than tracked forever.
	DefaultMaxInboundStreams = 1024

	DefaultRTOInitial = time.Second
	DefaultRTOMin     = time.Second
	DefaultRTOMax     = 60 * time.Second

	DefaultDelayedAckTimeout = 200 * time.Millisecond

	// chunkOverhead is the non-payload part of a PAYLOAD-DATA chunk on the
	// wire (type+flags+length+TSN+SID+SSN+PPID = 16 bytes).
	chunkOverhead = 16
	// commonHeaderLength is the fixed 12-byte SCTP common header.
	commonHeaderLength = 12
)

// Config holds every knob the host loop may set before dialing or
// accepting. Zero-valued fields are filled with the Default* constants by
// NewConfig.
type Config struct {
	MaxMessageSize   uint32
	MaxReceiveBuffer uint32
	PathMTU          uint32
	MaxInitRetrans   int
	MaxAssocRetrans  int
	MaxPathRetrans   int
	HeartbeatInterval time.Duration

	// MaxInboundStreams caps how many stream identifiers getOrCreateStream
	// will track; a request for a new SID past the cap is refused instead
	// of growing a.streams without bound.
	MaxInboundStreams int

	RTOInitial time.Duration
	RTOMin     time.Duration
	RTOMax     time.Duration

	DelayedAckTimeout time.Duration

	// LoggerFactory builds the per-component logger the engine uses. If
	// nil, a no-op factory is used.
	LoggerFactory logging.LoggerFactory

	// Name is carried only for log correlation (e.g. "client"/"server" in
	// tests); it has no protocol meaning.
	Name string

	// RandUint32 generates verification tags and initial TSNs. If nil, a
	// crypto/rand-backed source is used. Tests inject a deterministic
	// substitute here (spec §9: "inject both" a configurable RNG and a
	// configurable clock, never read either ambiently).
	RandUint32 func() uint32
}

// NewConfig returns a Config with every zero field replaced by its default.
func NewConfig() *Config {
	return fillDefaults(&Config{})
}

func fillDefaults(c *Config) *Config {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.MaxReceiveBuffer == 0 {
		c.MaxReceiveBuffer = DefaultMaxReceiveBuffer
	}
	if c.PathMTU == 0 {
		c.PathMTU = DefaultPathMTU
	}
	if c.MaxInitRetrans == 0 {
		c.MaxInitRetrans = DefaultMaxInitRetrans
	}
	if c.MaxAssocRetrans == 0 {
		c.MaxAssocRetrans = DefaultMaxAssocRetrans
	}
	if c.MaxPathRetrans == 0 {
		c.MaxPathRetrans = DefaultMaxPathRetrans
	}
	if c.MaxInboundStreams == 0 {
		c.MaxInboundStreams = DefaultMaxInboundStreams
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.RTOInitial == 0 {
		c.RTOInitial = DefaultRTOInitial
	}
	if c.RTOMin == 0 {
		c.RTOMin = DefaultRTOMin
	}
	if c.RTOMax == 0 {
		c.RTOMax = DefaultRTOMax
	}
	if c.DelayedAckTimeout == 0 {
		c.DelayedAckTimeout = DefaultDelayedAckTimeout
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.RandUint32 == nil {
		c.RandUint32 = randUint32
	}
	return c
}

// payloadMTU is the usable PAYLOAD-DATA body size under the configured
// path_mtu, after the common header and one chunk header.
func (c *Config) payloadMTU() int {
	n := int(c.PathMTU) - commonHeaderLength - chunkOverhead
	if n < 1 {
		n = 1
	}
	return n
}
