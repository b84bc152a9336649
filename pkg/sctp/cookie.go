package sctp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
)

// cookieLifetime bounds how long a passive opener will accept a
// COOKIE-ECHO after minting the matching INIT-ACK; RFC 4960 recommends a
// lifespan on this order.
const cookieLifetime = 60 * time.Second

const cookiePlainLength = 4 /*created at, seconds since epoch, truncated to uint32*/ +
	4 /*peer initiate tag*/ +
	4 /*peer initial tsn*/ +
	4 /*peer a_rwnd*/ +
	2 /*source port*/ +
	2 /*destination port*/

// signStateCookie builds the opaque blob carried in INIT-ACK and echoed
// back in COOKIE-ECHO: enough of the peer's INIT to reconstruct
// association state, an HMAC over it so a forged cookie is rejected, and a
// timestamp so stale cookies expire. This lets the passive side stay
// stateless between INIT and COOKIE-ECHO, per spec §4.1.
func signStateCookie(secret []byte, now time.Time, srcPort, dstPort uint16, peerTag, peerInitialTSN, peerRwnd uint32) []byte {
	plain := make([]byte, cookiePlainLength)
	binary.BigEndian.PutUint32(plain[0:4], uint32(now.Unix()))
	binary.BigEndian.PutUint32(plain[4:8], peerTag)
	binary.BigEndian.PutUint32(plain[8:12], peerInitialTSN)
	binary.BigEndian.PutUint32(plain[12:16], peerRwnd)
	binary.BigEndian.PutUint16(plain[16:18], srcPort)
	binary.BigEndian.PutUint16(plain[18:20], dstPort)

	mac := hmac.New(sha256.New, secret)
	mac.Write(plain)
	sum := mac.Sum(nil)
	return append(plain, sum...)
}

type stateCookie struct {
	CreatedAt      time.Time
	PeerTag        uint32
	PeerInitialTSN uint32
	PeerRwnd       uint32
	SourcePort     uint16
	DestPort       uint16
}

// verifyStateCookie checks the HMAC and freshness of a COOKIE-ECHO's
// payload, per spec §4.1 ("verify the HMAC and timestamp freshness").
func verifyStateCookie(secret, raw []byte, now time.Time) (*stateCookie, error) {
	if len(raw) < cookiePlainLength+sha256.Size {
		return nil, errors.New("state cookie too short")
	}
	plain := raw[:cookiePlainLength]
	sum := raw[cookiePlainLength:]

	mac := hmac.New(sha256.New, secret)
	mac.Write(plain)
	want := mac.Sum(nil)
	if !hmac.Equal(want, sum) {
		return nil, errors.New("state cookie HMAC mismatch")
	}

	created := time.Unix(int64(binary.BigEndian.Uint32(plain[0:4])), 0)
	if now.Sub(created) > cookieLifetime {
		return nil, errors.New("state cookie expired")
	}
	if created.After(now.Add(time.Minute)) {
		return nil, errors.New("state cookie timestamp is in the future")
	}

	return &stateCookie{
		CreatedAt:      created,
		PeerTag:        binary.BigEndian.Uint32(plain[4:8]),
		PeerInitialTSN: binary.BigEndian.Uint32(plain[8:12]),
		PeerRwnd:       binary.BigEndian.Uint32(plain[12:16]),
		SourcePort:     binary.BigEndian.Uint16(plain[16:18]),
		DestPort:       binary.BigEndian.Uint16(plain[18:20]),
	}, nil
}
