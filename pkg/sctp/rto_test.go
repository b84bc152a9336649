package sctp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRTOFirstSampleSetsSRTTAndHalfRTTVar(t *testing.T) {
	e := newRTOEstimator(time.Second, 200*time.Millisecond, 60*time.Second)
	e.observe(100 * time.Millisecond)
	require.Equal(t, 100*time.Millisecond, e.srtt)
	require.Equal(t, 50*time.Millisecond, e.rttvar)
	require.Equal(t, e.srtt+4*e.rttvar, e.rto)
}

func TestRTOClampsToMinAndMax(t *testing.T) {
	e := newRTOEstimator(time.Second, 500*time.Millisecond, 2*time.Second)
	e.observe(time.Microsecond)
	require.GreaterOrEqual(t, e.value(), 500*time.Millisecond)

	for i := 0; i < 10; i++ {
		e.backoff()
	}
	require.LessOrEqual(t, e.value(), 2*time.Second)
}

func TestRTOBackoffDoublesUntilClamped(t *testing.T) {
	e := newRTOEstimator(time.Second, time.Millisecond, time.Minute)
	before := e.value()
	e.backoff()
	require.Equal(t, 2*before, e.value())
}

func TestRTOCollapseRuleAvoidsZeroVariance(t *testing.T) {
	e := newRTOEstimator(time.Second, time.Millisecond, time.Minute)
	// A zero-duration first sample drives rttvar to exactly zero
	// (R/2 == 0), which the collapse rule lifts to one tick (1ms); a repeat
	// zero sample then only decays that by the beta term (1ms - 1ms/4)
	// instead of leaving rttvar at zero.
	e.observe(0)
	e.observe(0)
	require.Equal(t, 750*time.Microsecond, e.rttvar)
}
