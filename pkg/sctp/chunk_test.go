package sctp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	pkt := &packet{
		VerificationTag: 0xDEADBEEF,
		Chunks: []chunk{
			&chunkPayloadData{
				TSN:               1000,
				StreamIdentifier:  3,
				PayloadProtocolID: PPIDBinary,
				UserData:          []byte("hello world"),
				Beginning:         true,
				Ending:            true,
			},
			&chunkSack{
				CumTSNAck:     999,
				ARwnd:         65536,
				GapAckBlocks:  []gapAckBlock{{Start: 2, End: 2}},
				DuplicateTSNs: []uint32{998},
			},
		},
	}
	raw, err := pkt.marshal()
	require.NoError(t, err)

	got, err := unmarshalPacket(raw)
	require.NoError(t, err)
	require.Equal(t, pkt.VerificationTag, got.VerificationTag)
	require.Len(t, got.Chunks, 2)

	data, ok := got.Chunks[0].(*chunkPayloadData)
	require.True(t, ok)
	require.Equal(t, uint32(1000), data.TSN)
	require.Equal(t, []byte("hello world"), data.UserData)
	require.True(t, data.Beginning)
	require.True(t, data.Ending)

	sack, ok := got.Chunks[1].(*chunkSack)
	require.True(t, ok)
	require.Equal(t, uint32(999), sack.CumTSNAck)
	require.Equal(t, []gapAckBlock{{Start: 2, End: 2}}, sack.GapAckBlocks)
	require.Equal(t, []uint32{998}, sack.DuplicateTSNs)
}

func TestPacketChecksumDetectsBitFlip(t *testing.T) {
	pkt := &packet{VerificationTag: 42, Chunks: []chunk{&chunkHeartbeat{Info: []byte("ping")}}}
	raw, err := pkt.marshal()
	require.NoError(t, err)

	for i := range raw {
		if i >= 8 && i < 12 {
			continue // checksum field itself
		}
		flipped := append([]byte(nil), raw...)
		flipped[i] ^= 0x01
		_, err := unmarshalPacket(flipped)
		require.ErrorIs(t, err, ErrChecksum, "byte %d flip should be detected", i)
	}
}

func TestUnknownChunkSkipAction(t *testing.T) {
	// Type 63 has top bits 00 (skip), so a packet with only this chunk
	// parses to zero chunks rather than erroring.
	hdr := chunkHeader{Type: ChunkType(63)}
	raw := hdr.marshal([]byte{1, 2, 3, 4})

	chunks, err := parseChunks(raw)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestUnknownChunkStopAction(t *testing.T) {
	// Type 192 is FORWARD-TSN (a recognized type), so pick an unassigned
	// type with the "stop" top bits (10) to exercise the reject path:
	// 0b10_000001 = 129 is unassigned and not ctReconfig (130).
	hdr := chunkHeader{Type: ChunkType(129)}
	raw := hdr.marshal([]byte{0, 0, 0, 0})

	_, err := parseChunks(raw)
	require.Error(t, err)
}

func TestUnknownChunkStopReportAction(t *testing.T) {
	// Type 193 (0b11_000001) carries the "stop and report" top bits; unlike
	// plain actionStop this must surface an *unrecognizedChunkError so the
	// caller can send back an ERROR chunk instead of dropping silently.
	hdr := chunkHeader{Type: ChunkType(193)}
	raw := hdr.marshal([]byte{0, 0, 0, 0})

	_, err := parseChunks(raw)
	require.Error(t, err)
	var uce *unrecognizedChunkError
	require.ErrorAs(t, err, &uce)
	require.Equal(t, ChunkType(193), uce.ChunkType)
}

func TestChunkHeaderRejectsBadLength(t *testing.T) {
	var hdr chunkHeader
	require.Error(t, hdr.unmarshal([]byte{1, 0, 0, 2})) // length 2 < header length 4
	require.Error(t, hdr.unmarshal([]byte{1, 0, 0, 200}))
}

func TestSupportedExtensionsRoundTrip(t *testing.T) {
	init := &chunkInit{initiateTag: 1, advertisedRwnd: 2, initialTSN: 3}
	raw, err := init.marshal()
	require.NoError(t, err)

	got := &chunkInit{}
	require.NoError(t, got.unmarshal(raw))
	require.True(t, got.supportsForwardTSN())
	require.True(t, got.supportsReconfig())
}
