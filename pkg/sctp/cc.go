package sctp

// congestionController implements the RFC 4960 §7.2 single-path variant:
// slow start, congestion avoidance, fast recovery, and the after-idle
// cwnd reset. It owns no chunks — callers report byte counts and call
// back in to learn the current window.
type congestionController struct {
	mtu int

	cwnd    uint32
	ssthresh uint32

	partialBytesAcked uint32

	inFastRecovery       bool
	fastRecoveryExitTSN  uint32
}

func newCongestionController(mtu int) *congestionController {
	cwnd := uint32(mtu * 4)
	if cwnd < uint32(2*mtu) {
		cwnd = uint32(2 * mtu)
	}
	return &congestionController{
		mtu:      mtu,
		cwnd:     cwnd,
		ssthresh: ^uint32(0), // effectively unbounded until the first loss
	}
}

func (c *congestionController) inSlowStart() bool {
	return c.cwnd < c.ssthresh
}

// onCumAckAdvanced is called once per SACK that moved cumulative_tsn_ack
// forward, with the number of newly-acknowledged bytes and whether the
// sender was cwnd-limited (had enough pending data to fill the window).
func (c *congestionController) onCumAckAdvanced(bytesAcked uint32, cwndLimited bool) {
	if !cwndLimited {
		return
	}
	if c.inSlowStart() {
		inc := bytesAcked
		if inc > uint32(c.mtu) {
			inc = uint32(c.mtu)
		}
		c.cwnd += inc
		return
	}
	c.partialBytesAcked += bytesAcked
	if c.partialBytesAcked >= c.cwnd {
		c.partialBytesAcked -= c.cwnd
		c.cwnd += uint32(c.mtu)
	}
}

// onFastRetransmit halves ssthresh/cwnd and enters fast recovery, exiting
// when cumulative_tsn_ack reaches the TSN captured at entry (RFC 4960
// §7.2.4, Appendix C.2's resolution for "fast-retransmit chunk itself
// lost" noted in spec.md's Open Questions).
func (c *congestionController) onFastRetransmit(highestOutstandingTSN uint32) {
	if c.inFastRecovery {
		return
	}
	floor := uint32(4 * c.mtu)
	half := c.cwnd / 2
	if half < floor {
		half = floor
	}
	c.ssthresh = half
	c.cwnd = c.ssthresh
	c.partialBytesAcked = 0
	c.inFastRecovery = true
	c.fastRecoveryExitTSN = highestOutstandingTSN
}

// maybeExitFastRecovery is called after cumulative_tsn_ack advances; it
// leaves fast recovery once the ack point reaches the highest TSN
// outstanding at entry.
func (c *congestionController) maybeExitFastRecovery(cumTSNAck uint32) {
	if c.inFastRecovery && tsnGTE(cumTSNAck, c.fastRecoveryExitTSN) {
		c.inFastRecovery = false
	}
}

// onT3RtxExpiry applies the RFC 4960 §6.3.3 loss response: drop ssthresh
// to half of cwnd (floored at 4*mtu) and reset cwnd to one mtu.
func (c *congestionController) onT3RtxExpiry() {
	floor := uint32(4 * c.mtu)
	half := c.cwnd / 2
	if half < floor {
		half = floor
	}
	c.ssthresh = half
	c.cwnd = uint32(c.mtu)
	c.partialBytesAcked = 0
}

// onIdleTimeout halves cwnd (floored at 4*mtu) after an RTO has elapsed
// since the last chunk was sent, per §4.5.
func (c *congestionController) onIdleTimeout() {
	floor := uint32(4 * c.mtu)
	half := c.cwnd / 2
	if half < floor {
		half = floor
	}
	c.cwnd = half
}

func (c *congestionController) window() uint32 {
	return c.cwnd
}
