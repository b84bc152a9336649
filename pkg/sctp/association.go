package sctp

import (
	"crypto/rand"
	"errors"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pion/logging"
)

// State is the association's position in the handshake/shutdown state
// machine (spec §4.1).
type State int

const (
	StateClosed State = iota
	StateCookieWait
	StateCookieEchoed
	StateEstablished
	StateShutdownPending
	StateShutdownSent
	StateShutdownReceived
	StateShutdownAckSent
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateCookieWait:
		return "CookieWait"
	case StateCookieEchoed:
		return "CookieEchoed"
	case StateEstablished:
		return "Established"
	case StateShutdownPending:
		return "ShutdownPending"
	case StateShutdownSent:
		return "ShutdownSent"
	case StateShutdownReceived:
		return "ShutdownReceived"
	case StateShutdownAckSent:
		return "ShutdownAckSent"
	default:
		return "Unknown"
	}
}

// heartbeatIntervalFactor scales rto into the period between HEARTBEATs
// (spec §4.1): one is due rto*heartbeatIntervalFactor + HeartbeatInterval
// after establishment and after each HEARTBEAT sent. Data traffic does not
// push that deadline back, so HEARTBEATs go out on a busy association too.
const heartbeatIntervalFactor = 1

// Association is the sans-I/O SCTP engine. It owns no socket, goroutine,
// or timer: HandleRead/HandleTimeout push state forward, and
// PollWrite/PollTimeout/PollEvent drain what that produced. Every method
// must be called with the caller already holding whatever serialization
// it wants for this instance — the type itself does no locking, per the
// single-threaded cooperative model this engine assumes.
type Association struct {
	id       string
	cfg      *Config
	log      logging.LeveledLogger
	metrics  *Metrics
	isClient bool

	state State

	myVerificationTag   uint32
	peerVerificationTag uint32
	mySecret            []byte // HMAC key for state cookies; server role only

	myNextTSN uint32 // next TSN this side will assign to an outbound chunk
	myRwnd    uint32

	peerLastTSN    uint32 // highest TSN of peer's data cumulatively received
	peerLastTSNSet bool
	peerRwnd       uint32
	peerSupportsForwardTSN bool
	peerSupportsReconfig   bool

	myCumulativeTSNAckPoint uint32 // highest TSN of our data peer has cumulatively acked
	advancedPeerTSNAckPoint uint32 // PR-SCTP: highest TSN advanced past via abandonment

	pending  *pendingQueue
	inflight *inflightQueue
	payload  *payloadQueue

	rto *rtoEstimator
	cc  *congestionController

	streams map[uint16]*stream

	outbound []packetOut
	events   []Event

	// handshake retransmit state
	t1Deadline     time.Time
	t1Armed        bool
	t1Retransmits  int
	cachedInit     *chunkInit
	cachedCookie   []byte // COOKIE-ECHO payload, kept for T1-cookie retransmit

	t3Deadline    time.Time
	t3Armed       bool
	rtxCount      int
	lastSendTime  time.Time

	heartbeatDeadline time.Time
	missedHeartbeats  int

	delayedAckDeadline time.Time
	delayedAckArmed    bool
	dataChunksSinceSack int
	sackImmediate       bool
	duplicateTSNs       []uint32

	t2Deadline    time.Time
	t2Armed       bool
	t2Retransmits int

	closing bool

	reconfigReqSeq   uint32
	pendingReconfigs map[uint32]*pendingReconfig
}

// packetOut is a marshaled datagram queued for the host loop to collect
// through PollWrite.
type packetOut struct {
	bytes []byte
}

type pendingReconfig struct {
	streamIDs []uint16
	lastTSN   uint32
}

// NewClient builds an association that will actively open the handshake.
// Call Start to queue the initial INIT.
func NewClient(cfg *Config) *Association {
	return newAssociation(cfg, true)
}

// NewServer builds an association that passively waits for an inbound
// INIT. The state cookie HMAC secret is generated here; apart from the
// peer's FORWARD-TSN/RE-CONFIG support flags, which handleInit takes from
// the INIT, no peer-derived state is recorded until a valid COOKIE-ECHO
// arrives, which is as close
// to RFC 4960's "stay stateless until COOKIE-ECHO" guidance as a
// long-lived Go value can get.
func NewServer(cfg *Config) *Association {
	a := newAssociation(cfg, false)
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		// crypto/rand failing means the platform RNG is broken; a
		// pseudo-random fallback still beats panicking a network stack.
		mrand.Read(secret) //nolint:errcheck
	}
	a.mySecret = secret
	return a
}

func newAssociation(cfg *Config, isClient bool) *Association {
	cfg = fillDefaults(cfg)
	a := &Association{
		id:       uuid.New().String(),
		cfg:      cfg,
		log:      cfg.LoggerFactory.NewLogger("sctp"),
		isClient: isClient,
		state:    StateClosed,
		myRwnd:   cfg.MaxReceiveBuffer,
		pending:  newPendingQueue(),
		inflight: newInflightQueue(),
		payload:  newPayloadQueue(),
		rto:      newRTOEstimator(cfg.RTOInitial, cfg.RTOMin, cfg.RTOMax),
		streams:  make(map[uint16]*stream),
		pendingReconfigs: make(map[uint32]*pendingReconfig),
	}
	a.myVerificationTag = cfg.RandUint32()
	a.myNextTSN = cfg.RandUint32()
	// Nothing of ours has been acked yet; the cumulative ack point sits one
	// below the first TSN we will ever send, mirroring how peerLastTSN is
	// seeded from the peer's initial TSN on the receive side.
	a.myCumulativeTSNAckPoint = a.myNextTSN - 1
	a.advancedPeerTSNAckPoint = a.myNextTSN - 1
	a.cc = newCongestionController(cfg.payloadMTU())
	return a
}

// WithMetrics attaches a Metrics instance; call before Start.
func (a *Association) WithMetrics(m *Metrics) *Association {
	a.metrics = m
	return a
}

func randUint32() uint32 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<32))
	if err != nil {
		return mrand.Uint32()
	}
	return uint32(n.Uint64())
}

// ID returns the association's instance identifier, stable for its
// lifetime and used to correlate log lines and metrics series.
func (a *Association) ID() string { return a.id }

// State returns the current handshake/shutdown state.
func (a *Association) State() State { return a.state }

// Start kicks off the active-open handshake (spec §4.1). It is a no-op
// for a server association, which waits for an inbound INIT instead.
func (a *Association) Start(now time.Time) error {
	if !a.isClient || a.state != StateClosed {
		return nil
	}
	init := &chunkInit{
		initiateTag:        a.myVerificationTag,
		advertisedRwnd:     a.myRwnd,
		numOutboundStreams: 65535,
		numInboundStreams:  65535,
		initialTSN:         a.myNextTSN,
	}
	a.cachedInit = init
	a.sendControl(0, init)
	a.state = StateCookieWait
	a.armT1(now)
	return nil
}

// --- inbound path -----------------------------------------------------

// HandleRead parses an inbound datagram and advances the state machine.
// Malformed packets (bad checksum, truncated chunk, stray verification
// tag) are dropped silently, which is the correct RFC 4960 response to
// noise on the wire rather than a caller-visible error.
func (a *Association) HandleRead(raw []byte, now time.Time) {
	pkt, err := unmarshalPacket(raw)
	if err != nil {
		var uce *unrecognizedChunkError
		if errors.As(err, &uce) {
			a.log.Debugf("dropping packet with unrecognized chunk type %d, reporting: %v", uce.ChunkType, err)
			a.sendControl(a.peerVerificationTag, &chunkError{Reason: []byte(err.Error())})
			a.flush(now)
			return
		}
		a.log.Debugf("dropping unparsable packet: %v", err)
		return
	}
	for _, c := range pkt.Chunks {
		if !a.acceptVerificationTag(c, pkt.VerificationTag) {
			a.log.Debugf("dropping chunk with unexpected verification tag")
			continue
		}
		a.handleChunk(c, now)
	}
	a.flush(now)
}

// acceptVerificationTag implements the RFC 4960 §8.5 tag check. INIT is
// out-of-the-blue and must carry verif_tag == 0 (spec line 205); INIT-ACK
// and COOKIE-ECHO are handshake chunks whose tag is meaningful but still
// checked against our own, just like any other chunk.
func (a *Association) acceptVerificationTag(c chunk, tag uint32) bool {
	switch c.(type) {
	case *chunkInit:
		// INIT is always out-of-the-blue (spec line 205: "INIT MUST carry
		// verif_tag == 0"); a nonzero tag here is noise, not a legitimate
		// handshake attempt, and must be dropped rather than accepted.
		return tag == 0
	case *chunkInitAck, *chunkCookieEcho:
		// INIT-ACK (tag == the initiator's own my_verification_tag) and
		// COOKIE-ECHO (tag == the responder's my_verification_tag, echoed
		// back by the initiator) both legitimately carry our own tag, not
		// an arbitrary one, so neither is out-of-the-blue the way INIT is;
		// fall through to the normal comparison below instead of
		// exempting them unconditionally.
	}
	if a.myVerificationTag == 0 {
		return true
	}
	return tag == a.myVerificationTag
}

func (a *Association) handleChunk(c chunk, now time.Time) {
	switch v := c.(type) {
	case *chunkInit:
		a.handleInit(v, now)
	case *chunkInitAck:
		a.handleInitAck(v, now)
	case *chunkCookieEcho:
		a.handleCookieEcho(v, now)
	case *chunkCookieAck:
		a.handleCookieAck(now)
	case *chunkPayloadData:
		a.handleData(v, now)
	case *chunkSack:
		a.handleSack(v, now)
	case *chunkHeartbeat:
		a.handleHeartbeat(v)
	case *chunkHeartbeatAck:
		a.missedHeartbeats = 0
	case *chunkAbort:
		a.handleAbort("peer sent ABORT")
	case *chunkShutdown:
		a.handleShutdownChunk(v, now)
	case *chunkShutdownAck:
		a.handleShutdownAck()
	case *chunkShutdownComplete:
		a.handleShutdownComplete()
	case *chunkReconfig:
		a.handleReconfig(v)
	case *chunkForwardTSN:
		a.handleForwardTSN(v)
	case *chunkError:
		a.log.Debugf("peer sent ERROR chunk: %v", v.Reason)
	}
}

// handleInit implements the passive-open path: a stateless INIT-ACK
// carrying an HMAC-signed cookie (spec §4.1). The only state it records is
// the peer's FORWARD-TSN/RE-CONFIG support flags.
func (a *Association) handleInit(v *chunkInit, now time.Time) {
	if a.state != StateClosed && a.state != StateCookieWait && a.state != StateCookieEchoed {
		return // HandshakeInvalidState: ignore per spec preconditions
	}
	if a.mySecret == nil {
		// A client receiving an unsolicited INIT has no role to play here.
		return
	}
	a.peerSupportsForwardTSN = v.supportsForwardTSN()
	a.peerSupportsReconfig = v.supportsReconfig()
	cookie := signStateCookie(a.mySecret, now, 0, 0, v.initiateTag, v.initialTSN, v.advertisedRwnd)
	ack := &chunkInitAck{
		initiateTag:        a.myVerificationTag,
		advertisedRwnd:     a.myRwnd,
		numOutboundStreams: 65535,
		numInboundStreams:  65535,
		initialTSN:         a.myNextTSN,
		stateCookie:        cookie,
	}
	a.sendControl(v.initiateTag, ack)
}

// handleInitAck is the active-opener's half: extract the peer's tag and
// state cookie, then echo it back.
func (a *Association) handleInitAck(v *chunkInitAck, now time.Time) {
	if a.state != StateCookieWait {
		return
	}
	a.peerVerificationTag = v.initiateTag
	a.peerLastTSN = v.initialTSN - 1
	a.peerLastTSNSet = true
	a.peerRwnd = v.advertisedRwnd
	a.peerSupportsForwardTSN = v.supportsForwardTSN()
	a.peerSupportsReconfig = v.supportsReconfig()

	a.cachedCookie = v.stateCookie
	a.sendControl(a.peerVerificationTag, &chunkCookieEcho{Cookie: v.stateCookie})
	a.state = StateCookieEchoed
	a.cancelT1()
	a.armT1(now)
}

// handleCookieEcho completes the passive open: verify the cookie and
// allocate durable association state for the first time.
func (a *Association) handleCookieEcho(v *chunkCookieEcho, now time.Time) {
	if a.state != StateClosed {
		if a.state == StateEstablished {
			// Retransmitted COOKIE-ECHO after we already moved on: ack again.
			a.sendControl(a.peerVerificationTag, &chunkCookieAck{})
		}
		return
	}
	sc, err := verifyStateCookie(a.mySecret, v.Cookie, now)
	if err != nil {
		a.log.Debugf("rejecting COOKIE-ECHO: %v", err)
		return
	}
	a.peerVerificationTag = sc.PeerTag
	a.peerLastTSN = sc.PeerInitialTSN - 1
	a.peerLastTSNSet = true
	a.peerRwnd = sc.PeerRwnd
	a.sendControl(a.peerVerificationTag, &chunkCookieAck{})
	a.becomeEstablished(now)
}

func (a *Association) handleCookieAck(now time.Time) {
	if a.state != StateCookieEchoed {
		return
	}
	a.becomeEstablished(now)
}

func (a *Association) becomeEstablished(now time.Time) {
	a.state = StateEstablished
	a.cancelT1()
	a.cachedInit = nil
	a.cachedCookie = nil
	a.heartbeatDeadline = now.Add(a.heartbeatTimeout())
	a.events = append(a.events, Event{Kind: EventAssociationEstablished})
}

func (a *Association) heartbeatTimeout() time.Duration {
	return a.rto.value()*heartbeatIntervalFactor + a.cfg.HeartbeatInterval
}

// --- data path ----------------------------------------------------------

func (a *Association) handleData(c *chunkPayloadData, now time.Time) {
	if a.state != StateEstablished && a.state != StateShutdownPending {
		return
	}
	isDuplicate := false
	if a.peerLastTSNSet && tsnLTE(c.TSN, a.peerLastTSN) {
		isDuplicate = true
	} else if a.payload.has(c.TSN) {
		isDuplicate = true
	}
	if isDuplicate {
		a.duplicateTSNs = append(a.duplicateTSNs, c.TSN)
		a.sackImmediate = true
		return
	}

	a.payload.push(c)
	a.peerLastTSN = a.payload.advanceCumulativeTSN(a.peerLastTSN, func(delivered *chunkPayloadData) {
		a.deliverToStream(delivered)
	})
	a.peerLastTSNSet = true

	a.dataChunksSinceSack++
	outOfOrder := tsnLT(c.TSN, a.highestBufferedTSN())
	if a.dataChunksSinceSack >= 2 || outOfOrder {
		a.sackImmediate = true
	} else {
		a.armDelayedAck(now)
	}
}

func (a *Association) highestBufferedTSN() uint32 {
	tsns := a.payload.sortedTSNs()
	if len(tsns) == 0 {
		return a.peerLastTSN
	}
	return tsns[len(tsns)-1]
}

// deliverToStream hands a reassembled-ready chunk to its stream. A SID
// that would push a.streams past MaxInboundStreams is unrepresentable
// here: the chunk is silently dropped (no event, no error) rather than
// growing the stream table without bound (spec §4.7).
func (a *Association) deliverToStream(c *chunkPayloadData) {
	s := a.getOrCreateStream(c.StreamIdentifier, StreamConfig{Unordered: c.Unordered})
	if s == nil {
		return
	}
	for _, msg := range s.receive(c) {
		a.events = append(a.events, Event{
			Kind:             EventMessage,
			StreamIdentifier: msg.StreamIdentifier,
			PPID:             msg.PPID,
			Data:             msg.Data,
			Unordered:        msg.Unordered,
		})
	}
}

// getOrCreateStream returns the SID's stream, creating it (and emitting
// EventStreamOpened) on first reference. It returns nil, never panics, if
// the SID is new and a.streams is already at MaxInboundStreams capacity.
func (a *Association) getOrCreateStream(sid uint16, cfg StreamConfig) *stream {
	s, ok := a.streams[sid]
	if ok {
		return s
	}
	if len(a.streams) >= a.cfg.MaxInboundStreams {
		return nil
	}
	s = newStream(sid, cfg)
	a.streams[sid] = s
	a.events = append(a.events, Event{Kind: EventStreamOpened, StreamIdentifier: sid})
	return s
}

// Write fragments and enqueues a user message for sending, then runs the
// send scheduler so it is reflected in the next PollWrite (spec §4.3,
// §4.9's `handle_write`).
func (a *Association) Write(sid uint16, ppid PayloadProtocolIdentifier, data []byte, cfg StreamConfig, now time.Time) error {
	if a.state != StateEstablished {
		return ErrNotEstablished
	}
	if uint32(len(data)) > a.cfg.MaxMessageSize {
		return ErrMessageTooLarge
	}
	s := a.getOrCreateStream(sid, cfg)
	if s == nil {
		return ErrTooManyStreams
	}
	if s.resetting {
		return ErrStreamReset
	}

	var ssn uint16
	if !cfg.Unordered {
		ssn = s.assignSSN(true)
	}

	mtu := a.cfg.payloadMTU()
	if len(data) == 0 {
		a.pending.push(&chunkPayloadData{
			StreamIdentifier:     sid,
			StreamSequenceNumber: ssn,
			PayloadProtocolID:    ppid,
			Beginning:            true,
			Ending:               true,
			Unordered:            cfg.Unordered,
		})
	} else {
		for off := 0; off < len(data); off += mtu {
			end := off + mtu
			if end > len(data) {
				end = len(data)
			}
			a.pending.push(&chunkPayloadData{
				StreamIdentifier:     sid,
				StreamSequenceNumber: ssn,
				PayloadProtocolID:    ppid,
				UserData:             data[off:end],
				Beginning:            off == 0,
				Ending:               end == len(data),
				Unordered:            cfg.Unordered,
			})
		}
	}
	a.flush(now)
	return nil
}

// --- send scheduler -------------------------------------------------

// flush runs the send scheduler and assembles whatever control/data
// traffic is now due into outbound datagrams (spec §4.3's scheduler plus
// SACK/FORWARD-TSN emission).
func (a *Association) flush(now time.Time) {
	if a.sackImmediate || a.dueDelayedAck(now) {
		a.sendSack()
	}
	if a.state != StateEstablished && a.state != StateShutdownPending {
		a.maybeAdvanceShutdown(now)
		return
	}
	a.sendData(now)
	a.maybeAdvanceShutdown(now)
	if a.metrics != nil {
		a.metrics.observe(a.id, a.cc.window(), a.cc.ssthresh, a.inflightBytes())
	}
}

func (a *Association) inflightBytes() uint32 {
	var total uint32
	for _, c := range a.inflight.all() {
		if !c.Acked {
			total += uint32(c.length())
		}
	}
	return total
}

func (a *Association) sendData(now time.Time) {
	// After-idle cwnd reset (spec §4.5): resuming transmission at least an
	// RTO after the last chunk went out means the path's congestion state
	// is stale, so slow-start resumes from a reduced window instead of
	// bursting at whatever cwnd had grown to before the gap.
	if a.pending.len() > 0 && !a.lastSendTime.IsZero() && now.Sub(a.lastSendTime) >= a.rto.value() {
		a.cc.onIdleTimeout()
	}

	window := a.cc.window()
	if a.peerRwnd < window {
		window = a.peerRwnd
	}
	inflightBytes := a.inflightBytes()

	// Zero-window probe (spec §4.5): with nothing outstanding and the
	// peer's receive window closed, push exactly one chunk through so the
	// association learns when the window reopens instead of stalling
	// forever.
	zeroWindowProbe := window == 0 && inflightBytes == 0 && a.pending.len() > 0

	var chunks []chunk
	packetLen := commonHeaderLength
	for {
		c := a.pending.peek()
		if c == nil {
			break
		}
		clen := uint32(c.length())
		if inflightBytes+clen > window && !(zeroWindowProbe && len(chunks) == 0) {
			break
		}
		if packetLen+c.length() > int(a.cfg.PathMTU) && len(chunks) > 0 {
			a.sendDataPacket(chunks)
			chunks = nil
			packetLen = commonHeaderLength
		}
		a.pending.pop()
		c.TSN = a.myNextTSN
		a.myNextTSN++
		c.NSent = 1
		c.FirstSent = now
		c.SinceLastSent = now
		a.inflight.pushTail(c)
		inflightBytes += clen
		chunks = append(chunks, c)
		packetLen += c.length()
	}
	if len(chunks) > 0 {
		a.sendDataPacket(chunks)
		// lastSendTime only moves on an actual transmission, not on every
		// call that finds something already in flight, or the after-idle
		// check above could never see an elapsed RTO while unacked data
		// merely sits waiting on a SACK.
		a.lastSendTime = now
	}
	if a.inflight.len() > 0 {
		a.armT3(now)
	}
	a.maybeEmitForwardTSN()
}

func (a *Association) sendDataPacket(chunks []chunk) {
	pkt := &packet{VerificationTag: a.peerVerificationTag, Chunks: chunks}
	raw, err := pkt.marshal()
	if err != nil {
		a.log.Errorf("marshal data packet: %v", err)
		return
	}
	a.outbound = append(a.outbound, packetOut{bytes: raw})
}

func (a *Association) sendControl(tag uint32, c chunk) {
	pkt := &packet{VerificationTag: tag, Chunks: []chunk{c}}
	raw, err := pkt.marshal()
	if err != nil {
		a.log.Errorf("marshal control packet: %v", err)
		return
	}
	a.outbound = append(a.outbound, packetOut{bytes: raw})
}

// --- SACK ---------------------------------------------------------------

func (a *Association) dueDelayedAck(now time.Time) bool {
	return a.delayedAckArmed && !now.Before(a.delayedAckDeadline)
}

func (a *Association) armDelayedAck(now time.Time) {
	if a.delayedAckArmed {
		return
	}
	a.delayedAckArmed = true
	a.delayedAckDeadline = now.Add(a.cfg.DelayedAckTimeout)
}

func (a *Association) sendSack() {
	a.sackImmediate = false
	a.dataChunksSinceSack = 0
	a.delayedAckArmed = false

	cum := a.peerLastTSN
	if !a.peerLastTSNSet {
		cum = 0
	}
	queuedForApp := uint32(0) // delivery is synchronous via events, nothing queued
	arwnd := a.cfg.MaxReceiveBuffer
	if queuedForApp < arwnd {
		arwnd -= queuedForApp
	} else {
		arwnd = 0
	}
	sack := &chunkSack{
		CumTSNAck:     cum,
		ARwnd:         arwnd,
		GapAckBlocks:  a.payload.gapAckBlocks(cum),
		DuplicateTSNs: a.duplicateTSNs,
	}
	a.duplicateTSNs = nil
	a.sendControl(a.peerVerificationTag, sack)
}

// handleSack implements the five-step SACK algorithm (spec §4.3).
func (a *Association) handleSack(v *chunkSack, now time.Time) {
	if a.state != StateEstablished && a.state != StateShutdownPending && a.state != StateShutdownSent && a.state != StateShutdownReceived {
		return
	}
	inflightAboveCum := uint32(0)
	for _, c := range a.inflight.all() {
		if tsnGT(c.TSN, v.CumTSNAck) {
			inflightAboveCum += uint32(c.length())
		}
	}
	if v.ARwnd > inflightAboveCum {
		a.peerRwnd = v.ARwnd - inflightAboveCum
	} else {
		a.peerRwnd = 0
	}

	advanced := tsnGT(v.CumTSNAck, a.myCumulativeTSNAckPoint)
	var bytesAcked uint32
	// The sender was cwnd-limited if data is still queued behind the
	// window — the RFC 4960 §7.2 precondition for growing cwnd at all.
	cwndLimited := a.pending.len() > 0
	for _, c := range a.inflight.all() {
		if tsnLTE(c.TSN, v.CumTSNAck) && !c.Acked {
			c.Acked = true
			bytesAcked += uint32(c.length())
			if c.NSent == 1 {
				a.rto.observe(now.Sub(c.FirstSent))
			}
		}
	}
	if advanced {
		a.myCumulativeTSNAckPoint = v.CumTSNAck
	}
	a.inflight.removeAcked(v.CumTSNAck)

	highestGapTSN := v.CumTSNAck
	for _, g := range v.GapAckBlocks {
		start := v.CumTSNAck + uint32(g.Start)
		end := v.CumTSNAck + uint32(g.End)
		if tsnGT(end, highestGapTSN) {
			highestGapTSN = end
		}
		for tsn := start; tsnLTE(tsn, end); tsn++ {
			if c, ok := a.inflight.get(tsn); ok && !c.Acked {
				c.Acked = true
				bytesAcked += uint32(c.length())
				if c.NSent == 1 {
					a.rto.observe(now.Sub(c.FirstSent))
				}
			}
		}
	}
	// miss_indications persist per chunk across SACKs (spec §4.4): a chunk
	// below the highest TSN this SACK reports, still unacked, has been
	// passed over once more; three such reports fast-retransmits it without
	// waiting for T3-rtx.
	fastRetransmit := false
	var fastRetransmitChunks []chunk
	for _, c := range a.inflight.all() {
		if c.Acked || tsnGTE(c.TSN, highestGapTSN) {
			continue
		}
		c.MissIndications++
		if c.MissIndications >= 3 && !c.Retransmit {
			c.Retransmit = true
			fastRetransmit = true
			fastRetransmitChunks = append(fastRetransmitChunks, c)
		}
	}

	if fastRetransmit {
		a.cc.onFastRetransmit(a.myNextTSN - 1)
		a.sendControlBundle(fastRetransmitChunks)
		for _, c := range fastRetransmitChunks {
			if pd, ok := c.(*chunkPayloadData); ok {
				pd.NSent++
				pd.Retransmit = false
				pd.MissIndications = 0
				if a.metrics != nil {
					a.metrics.incRetransmit(a.id)
				}
			}
		}
	}
	a.cc.maybeExitFastRecovery(v.CumTSNAck)
	if advanced {
		a.cc.onCumAckAdvanced(bytesAcked, cwndLimited)
	}

	if a.inflight.len() > 0 {
		a.armT3(now)
	} else {
		a.cancelT3()
	}
	a.maybeAdvanceShutdown(now)
}

// sendControlBundle marshals arbitrary chunks (used for bypass-cwnd fast
// retransmits) into a single outbound datagram.
func (a *Association) sendControlBundle(chunks []chunk) {
	if len(chunks) == 0 {
		return
	}
	pkt := &packet{VerificationTag: a.peerVerificationTag, Chunks: chunks}
	raw, err := pkt.marshal()
	if err != nil {
		a.log.Errorf("marshal retransmit bundle: %v", err)
		return
	}
	a.outbound = append(a.outbound, packetOut{bytes: raw})
}

// --- heartbeat -----------------------------------------------------------

func (a *Association) handleHeartbeat(v *chunkHeartbeat) {
	a.sendControl(a.peerVerificationTag, &chunkHeartbeatAck{Info: v.Info})
}

// --- timeouts -------------------------------------------------------------

// HandleTimeout fires whichever timers are due (spec §4.9).
func (a *Association) HandleTimeout(now time.Time) {
	if a.t1Armed && !now.Before(a.t1Deadline) {
		a.onT1Expiry(now)
	}
	if a.t3Armed && !now.Before(a.t3Deadline) {
		a.onT3Expiry(now)
	}
	if a.t2Armed && !now.Before(a.t2Deadline) {
		a.onT2Expiry(now)
	}
	if a.delayedAckArmed && !now.Before(a.delayedAckDeadline) {
		a.sendSack()
	}
	if a.state == StateEstablished && !a.heartbeatDeadline.IsZero() && !now.Before(a.heartbeatDeadline) {
		a.onHeartbeatDue(now)
	}
	a.flush(now)
}

func (a *Association) armT1(now time.Time) {
	a.t1Armed = true
	a.t1Deadline = now.Add(a.rto.value())
}

func (a *Association) cancelT1() {
	a.t1Armed = false
	a.t1Retransmits = 0
}

func (a *Association) onT1Expiry(now time.Time) {
	a.t1Retransmits++
	if a.t1Retransmits > a.cfg.MaxInitRetrans {
		a.handleAbort("T1 retransmit limit exceeded")
		return
	}
	a.rto.backoff()
	switch a.state {
	case StateCookieWait:
		a.sendControl(0, a.cachedInit)
	case StateCookieEchoed:
		a.sendControl(a.peerVerificationTag, &chunkCookieEcho{Cookie: a.cachedCookie})
	default:
		a.cancelT1()
		return
	}
	a.armT1(now)
}

func (a *Association) armT3(now time.Time) {
	if a.t3Armed {
		return
	}
	a.t3Armed = true
	a.t3Deadline = now.Add(a.rto.value())
}

func (a *Association) cancelT3() {
	a.t3Armed = false
}

// onT3Expiry is the core loss-recovery entrypoint (spec §4.3/§4.6).
func (a *Association) onT3Expiry(now time.Time) {
	a.cc.onT3RtxExpiry()
	a.rto.backoff()

	oldest := a.inflight.oldest()
	if oldest == nil {
		a.cancelT3()
		return
	}

	// PR-SCTP abandonment only makes sense if the peer negotiated
	// FORWARD-TSN support (spec §4.1): without it there is no way to tell
	// the peer to skip the gap we'd be creating, so a chunk's reliability
	// policy is honored only once that capability is confirmed.
	if a.peerSupportsForwardTSN {
		var abandonedTSNs []uint32
		for _, c := range a.inflight.all() {
			if c.Acked || c.Abandoned {
				continue
			}
			if s, ok := a.streams[c.StreamIdentifier]; ok && s.shouldAbandon(c, now) {
				c.Abandoned = true
				abandonedTSNs = append(abandonedTSNs, c.TSN)
			}
		}
		if len(abandonedTSNs) > 0 {
			a.abandonFragmentSiblings(abandonedTSNs)
			a.advanceForwardTSNPoint()
		}
	}

	if !oldest.Abandoned {
		oldest.Retransmit = false
		oldest.NSent++
		oldest.SinceLastSent = now
		if a.metrics != nil {
			a.metrics.incRetransmit(a.id)
		}
		a.sendControlBundle([]chunk{oldest})
	}
	a.armT3(now)
}

// abandonFragmentSiblings marks every chunk sharing a fragmented message
// with an abandoned TSN as abandoned too (spec §4.6: "mark chunk and all
// chunks of the same fragmented message as abandoned").
func (a *Association) abandonFragmentSiblings(seedTSNs []uint32) {
	for _, tsn := range seedTSNs {
		// A message's fragments hold contiguous TSNs: walk back while the
		// previous chunk is not an ending fragment, then forward to the ending.
		first := tsn
		for c, ok := a.inflight.get(first - 1); ok && !c.Ending; c, ok = a.inflight.get(first - 1) {
			first--
		}
		for c, ok := a.inflight.get(first); ok; c, ok = a.inflight.get(first) {
			if !c.Acked {
				c.Abandoned = true
			}
			if c.Ending {
				break
			}
			first++
		}
	}
}

// advanceForwardTSNPoint pushes advancedPeerTSNAckPoint past every
// contiguous acked-or-abandoned TSN starting at cumulativeTSNAckPoint+1
// (spec §4.6).
func (a *Association) advanceForwardTSNPoint() {
	point := a.myCumulativeTSNAckPoint
	if tsnLT(point, a.advancedPeerTSNAckPoint) {
		point = a.advancedPeerTSNAckPoint
	}
	for {
		next := point + 1
		c, ok := a.inflight.get(next)
		if !ok || (!c.Acked && !c.Abandoned) {
			break
		}
		point = next
	}
	a.advancedPeerTSNAckPoint = point
}

func (a *Association) maybeEmitForwardTSN() {
	if !tsnGT(a.advancedPeerTSNAckPoint, a.myCumulativeTSNAckPoint) {
		return
	}
	streamHighest := make(map[uint16]uint16)
	for _, c := range a.inflight.all() {
		if tsnGT(c.TSN, a.advancedPeerTSNAckPoint) {
			continue
		}
		if !tsnGT(c.TSN, a.myCumulativeTSNAckPoint) {
			continue
		}
		if c.Unordered {
			continue
		}
		if cur, ok := streamHighest[c.StreamIdentifier]; !ok || ssnLT(cur, c.StreamSequenceNumber) {
			streamHighest[c.StreamIdentifier] = c.StreamSequenceNumber
		}
	}
	fwd := &chunkForwardTSN{NewCumulativeTSN: a.advancedPeerTSNAckPoint}
	for sid, ssn := range streamHighest {
		fwd.Streams = append(fwd.Streams, forwardTSNStream{Identifier: sid, Sequence: ssn})
	}
	a.sendControl(a.peerVerificationTag, fwd)
}

// handleForwardTSN implements the receiver side of PR-SCTP (spec §4.6):
// advance peer_last_tsn, discard now-moot buffered chunks, bump affected
// streams' expected SSN, and force an immediate SACK.
func (a *Association) handleForwardTSN(v *chunkForwardTSN) {
	if tsnLTE(v.NewCumulativeTSN, a.peerLastTSN) && a.peerLastTSNSet {
		a.sackImmediate = true
		return
	}
	for _, tsn := range a.payload.sortedTSNs() {
		if tsnLTE(tsn, v.NewCumulativeTSN) {
			a.payload.remove(tsn)
		}
	}
	a.peerLastTSN = v.NewCumulativeTSN
	a.peerLastTSNSet = true
	a.peerLastTSN = a.payload.advanceCumulativeTSN(a.peerLastTSN, func(delivered *chunkPayloadData) {
		a.deliverToStream(delivered)
	})

	for _, s := range v.Streams {
		st := a.getOrCreateStream(s.Identifier, StreamConfig{})
		if st == nil {
			continue
		}
		if ssnGTE(s.Sequence+1, st.expectedSSN) {
			st.expectedSSN = s.Sequence + 1
		}
	}
	a.sackImmediate = true
}

func (a *Association) onHeartbeatDue(now time.Time) {
	a.missedHeartbeats++
	if a.missedHeartbeats > a.cfg.MaxPathRetrans {
		a.handleAbort("heartbeat timeout")
		return
	}
	a.sendControl(a.peerVerificationTag, &chunkHeartbeat{})
	a.heartbeatDeadline = now.Add(a.heartbeatTimeout())
}

// --- shutdown -------------------------------------------------------------

// Shutdown begins the graceful close sequence (spec §4.1). The SHUTDOWN
// chunk itself is not sent until the inflight queue has drained.
func (a *Association) Shutdown(now time.Time) error {
	if a.state != StateEstablished {
		return nil
	}
	a.closing = true
	a.state = StateShutdownPending
	a.maybeAdvanceShutdown(now)
	return nil
}

func (a *Association) maybeAdvanceShutdown(now time.Time) {
	switch a.state {
	case StateShutdownPending:
		if a.inflight.len() == 0 && a.pending.len() == 0 {
			a.sendControl(a.peerVerificationTag, &chunkShutdown{CumulativeTSNAck: a.peerLastTSN})
			a.state = StateShutdownSent
			a.armT2(now)
		}
	case StateShutdownReceived:
		if a.inflight.len() == 0 && a.pending.len() == 0 {
			a.sendControl(a.peerVerificationTag, &chunkShutdownAck{})
			a.state = StateShutdownAckSent
		}
	}
}

func (a *Association) handleShutdownChunk(_ *chunkShutdown, now time.Time) {
	switch a.state {
	case StateEstablished:
		a.state = StateShutdownReceived
		a.maybeAdvanceShutdown(now)
	case StateShutdownSent:
		// Simultaneous close: re-ack.
		a.sendControl(a.peerVerificationTag, &chunkShutdownAck{})
	}
}

func (a *Association) handleShutdownAck() {
	if a.state != StateShutdownSent {
		return
	}
	a.sendControl(a.peerVerificationTag, &chunkShutdownComplete{})
	a.cancelT2()
	a.closeFinal()
}

func (a *Association) handleShutdownComplete() {
	a.closeFinal()
}

func (a *Association) armT2(now time.Time) {
	a.t2Armed = true
	a.t2Deadline = now.Add(a.rto.value())
}

func (a *Association) cancelT2() {
	a.t2Armed = false
	a.t2Retransmits = 0
}

func (a *Association) onT2Expiry(now time.Time) {
	a.t2Retransmits++
	if a.t2Retransmits > a.cfg.MaxAssocRetrans {
		a.handleAbort("T2 retransmit limit exceeded")
		return
	}
	a.sendControl(a.peerVerificationTag, &chunkShutdown{CumulativeTSNAck: a.peerLastTSN})
	a.armT2(now)
}

// closeFinal tears down association state, aggregating any irregularities
// found in streams that were mid-reset when the association closed.
func (a *Association) closeFinal() {
	a.state = StateClosed
	var result *multierror.Error
	for sid, s := range a.streams {
		if s.resetting {
			result = multierror.Append(result, newErrorf(CodeTimeout, "stream %d closed while reset was in progress", sid))
		}
	}
	if result != nil {
		a.log.Debugf("association closed with unresolved stream resets: %v", result.ErrorOrNil())
	}
	a.cancelT1()
	a.cancelT3()
	a.cancelT2()
}

// Abort immediately tears down the association and notifies the peer.
func (a *Association) Abort(reason string) {
	if a.state == StateClosed {
		return
	}
	a.sendControl(a.peerVerificationTag, &chunkAbort{Reason: []byte(reason)})
	a.handleAbort(reason)
}

func (a *Association) handleAbort(reason string) {
	a.closeFinal()
	a.events = append(a.events, Event{Kind: EventAssociationAborted, Reason: reason})
}

// --- RECONFIG / stream reset ----------------------------------------------

// ResetStream requests the peer stop accepting new ordered data on sid
// and resets its SSN sequencing (spec §4.8).
func (a *Association) ResetStream(sid uint16) error {
	if a.state != StateEstablished {
		return ErrNotEstablished
	}
	if !a.peerSupportsReconfig {
		return ErrReconfigNotSupported
	}
	s, ok := a.streams[sid]
	if !ok {
		return ErrStreamNotFound
	}
	s.resetting = true
	a.reconfigReqSeq++
	req := &outgoingSSNResetRequest{
		ReqSeq:          a.reconfigReqSeq,
		RespSeq:         0,
		LastAssignedTSN: a.myNextTSN - 1,
		StreamIdentifiers: []uint16{sid},
	}
	a.pendingReconfigs[req.ReqSeq] = &pendingReconfig{streamIDs: []uint16{sid}, lastTSN: req.LastAssignedTSN}
	a.sendControl(a.peerVerificationTag, &chunkReconfig{Request: req})
	return nil
}

func (a *Association) handleReconfig(v *chunkReconfig) {
	if req := v.Request; req != nil {
		result := ReconfigResultSuccess
		if a.peerLastTSNSet && tsnLT(a.peerLastTSN, req.LastAssignedTSN) {
			result = ReconfigResultInProgress
		} else {
			for _, sid := range req.StreamIdentifiers {
				if s, ok := a.streams[sid]; ok {
					s.resetInbound()
				}
				a.events = append(a.events, Event{Kind: EventStreamReset, StreamIdentifier: sid})
			}
		}
		a.sendControl(a.peerVerificationTag, &chunkReconfig{Response: &reconfigResponse{ReqSeq: req.ReqSeq, Result: result}})
	}
	if resp := v.Response; resp != nil {
		pending, ok := a.pendingReconfigs[resp.ReqSeq]
		if !ok {
			return
		}
		switch resp.Result {
		case ReconfigResultSuccess, ReconfigResultSuccessNOP:
			for _, sid := range pending.streamIDs {
				if s, ok := a.streams[sid]; ok {
					s.resetting = false
					s.nextOutgoingSSN = 0
				}
				a.events = append(a.events, Event{Kind: EventStreamReset, StreamIdentifier: sid})
			}
			delete(a.pendingReconfigs, resp.ReqSeq)
		case ReconfigResultInProgress:
			// Peer hasn't caught up yet; the request stays pending. It is
			// not re-sent, so the stream stays resetting until another
			// response for this ReqSeq arrives.
		default:
			delete(a.pendingReconfigs, resp.ReqSeq)
		}
	}
}

// --- poll surface ----------------------------------------------------------

// PollWrite returns the next outbound datagram, if any.
func (a *Association) PollWrite() ([]byte, bool) {
	if len(a.outbound) == 0 {
		return nil, false
	}
	out := a.outbound[0].bytes
	a.outbound = a.outbound[1:]
	return out, true
}

// PollTimeout returns the earliest deadline this association needs
// HandleTimeout called at, if any timer is armed.
func (a *Association) PollTimeout() (time.Time, bool) {
	var earliest time.Time
	have := false
	consider := func(t time.Time, armed bool) {
		if !armed {
			return
		}
		if !have || t.Before(earliest) {
			earliest = t
			have = true
		}
	}
	consider(a.t1Deadline, a.t1Armed)
	consider(a.t3Deadline, a.t3Armed)
	consider(a.t2Deadline, a.t2Armed)
	consider(a.delayedAckDeadline, a.delayedAckArmed)
	consider(a.heartbeatDeadline, a.state == StateEstablished && !a.heartbeatDeadline.IsZero())
	return earliest, have
}

// PollEvent returns the next delivered message or association/stream
// event, if any.
func (a *Association) PollEvent() (Event, bool) {
	if len(a.events) == 0 {
		return Event{}, false
	}
	ev := a.events[0]
	a.events = a.events[1:]
	return ev, true
}
