package sctp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamOrderedReassemblyDeliversInSSNOrder(t *testing.T) {
	s := newStream(0, StreamConfig{})

	// SSN 1 arrives complete before SSN 0; it must not be delivered yet.
	msgs := s.receive(&chunkPayloadData{TSN: 10, StreamSequenceNumber: 1, Beginning: true, Ending: true, UserData: []byte("second")})
	require.Empty(t, msgs)

	msgs = s.receive(&chunkPayloadData{TSN: 9, StreamSequenceNumber: 0, Beginning: true, Ending: true, UserData: []byte("first")})
	require.Len(t, msgs, 2)
	require.Equal(t, []byte("first"), msgs[0].Data)
	require.Equal(t, []byte("second"), msgs[1].Data)
}

func TestStreamOrderedReassemblyWaitsForFragments(t *testing.T) {
	s := newStream(0, StreamConfig{})
	msgs := s.receive(&chunkPayloadData{TSN: 100, StreamSequenceNumber: 0, Beginning: true, UserData: []byte("ab")})
	require.Empty(t, msgs)
	msgs = s.receive(&chunkPayloadData{TSN: 102, StreamSequenceNumber: 0, Ending: true, UserData: []byte("ef")})
	require.Empty(t, msgs, "middle fragment still missing")
	msgs = s.receive(&chunkPayloadData{TSN: 101, StreamSequenceNumber: 0, UserData: []byte("cd")})
	require.Len(t, msgs, 1)
	require.Equal(t, []byte("abcdef"), msgs[0].Data)
}

func TestStreamUnorderedDeliversImmediatelyWhenSingleChunk(t *testing.T) {
	s := newStream(0, StreamConfig{Unordered: true})
	msgs := s.receive(&chunkPayloadData{TSN: 5, Beginning: true, Ending: true, Unordered: true, UserData: []byte("x")})
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Unordered)
}

func TestStreamUnorderedReassemblesOutOfArrivalOrder(t *testing.T) {
	s := newStream(0, StreamConfig{Unordered: true})
	msgs := s.receive(&chunkPayloadData{TSN: 7, Unordered: true, Ending: true, UserData: []byte("B")})
	require.Empty(t, msgs)
	msgs = s.receive(&chunkPayloadData{TSN: 6, Unordered: true, Beginning: true, UserData: []byte("A")})
	require.Len(t, msgs, 1)
	require.Equal(t, []byte("AB"), msgs[0].Data)
}

func TestStreamResetInboundRestartsSSNAtZero(t *testing.T) {
	s := newStream(0, StreamConfig{})
	s.expectedSSN = 7
	s.orderedGroups[3] = map[uint32]*chunkPayloadData{1: {}}
	s.resetInbound()
	require.Equal(t, uint16(0), s.expectedSSN)
	require.Empty(t, s.orderedGroups)
}

func TestStreamShouldAbandonRexmitCap(t *testing.T) {
	s := newStream(0, StreamConfig{Reliability: ReliabilityRexmit, ReliabilityParameter: 2})
	c := &chunkPayloadData{NSent: 2}
	require.False(t, s.shouldAbandon(c, time.Now()))
	c.NSent = 3
	require.True(t, s.shouldAbandon(c, time.Now()))
}

func TestStreamShouldAbandonTimedCap(t *testing.T) {
	s := newStream(0, StreamConfig{Reliability: ReliabilityTimed, ReliabilityParameter: 50})
	now := time.Now()
	c := &chunkPayloadData{FirstSent: now.Add(-10 * time.Millisecond)}
	require.False(t, s.shouldAbandon(c, now))
	c.FirstSent = now.Add(-100 * time.Millisecond)
	require.True(t, s.shouldAbandon(c, now))
}

func TestStreamReliableNeverAbandons(t *testing.T) {
	s := newStream(0, StreamConfig{})
	c := &chunkPayloadData{NSent: 1000}
	require.False(t, s.shouldAbandon(c, time.Now()))
}
