package sctp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCongestionControllerSlowStartGrowsByBytesAcked(t *testing.T) {
	cc := newCongestionController(1200)
	require.True(t, cc.inSlowStart())
	before := cc.window()
	cc.onCumAckAdvanced(500, true)
	require.Equal(t, before+500, cc.window())
}

func TestCongestionControllerSlowStartCapsGrowthAtMTU(t *testing.T) {
	cc := newCongestionController(1200)
	before := cc.window()
	cc.onCumAckAdvanced(10_000, true)
	require.Equal(t, before+1200, cc.window())
}

func TestCongestionControllerIgnoresGrowthWhenNotWindowLimited(t *testing.T) {
	cc := newCongestionController(1200)
	before := cc.window()
	cc.onCumAckAdvanced(500, false)
	require.Equal(t, before, cc.window())
}

func TestCongestionControllerCongestionAvoidance(t *testing.T) {
	cc := newCongestionController(1200)
	cc.ssthresh = cc.cwnd // force congestion-avoidance immediately
	require.False(t, cc.inSlowStart())

	before := cc.window()
	cc.onCumAckAdvanced(cc.cwnd-1, true) // not yet enough to grow
	require.Equal(t, before, cc.window())

	cc.onCumAckAdvanced(1, true) // partialBytesAcked now reaches cwnd
	require.Equal(t, before+1200, cc.window())
}

func TestCongestionControllerFastRetransmitHalvesWindow(t *testing.T) {
	cc := newCongestionController(1200)
	cc.cwnd = 20_000
	cc.onFastRetransmit(5000)
	require.Equal(t, uint32(10_000), cc.ssthresh)
	require.Equal(t, cc.ssthresh, cc.window())
	require.True(t, cc.inFastRecovery)
}

func TestCongestionControllerFastRetransmitFloorsAt4MTU(t *testing.T) {
	cc := newCongestionController(1200)
	cc.cwnd = 2000
	cc.onFastRetransmit(1)
	require.Equal(t, uint32(4*1200), cc.ssthresh)
}

func TestCongestionControllerExitsFastRecoveryAtCapturedTSN(t *testing.T) {
	cc := newCongestionController(1200)
	cc.onFastRetransmit(1005)
	cc.maybeExitFastRecovery(1004)
	require.True(t, cc.inFastRecovery)
	cc.maybeExitFastRecovery(1005)
	require.False(t, cc.inFastRecovery)
}

func TestCongestionControllerT3RtxExpiryResetsToOneMTU(t *testing.T) {
	cc := newCongestionController(1200)
	cc.cwnd = 50_000
	cc.onT3RtxExpiry()
	require.Equal(t, uint32(1200), cc.window())
	require.Equal(t, uint32(25_000), cc.ssthresh)
}

func TestCongestionControllerIdleTimeoutHalvesWindow(t *testing.T) {
	cc := newCongestionController(1200)
	cc.cwnd = 10_000
	cc.onIdleTimeout()
	require.Equal(t, uint32(5_000), cc.window())
}
