package sctp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateCookieRoundTrip(t *testing.T) {
	secret := []byte("super-secret-hmac-key")
	now := time.Now()
	raw := signStateCookie(secret, now, 1000, 2000, 0xAAAA, 5000, 65536)

	sc, err := verifyStateCookie(secret, raw, now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, uint32(0xAAAA), sc.PeerTag)
	require.Equal(t, uint32(5000), sc.PeerInitialTSN)
	require.Equal(t, uint32(65536), sc.PeerRwnd)
	require.Equal(t, uint16(1000), sc.SourcePort)
	require.Equal(t, uint16(2000), sc.DestPort)
}

func TestStateCookieRejectsTamperedHMAC(t *testing.T) {
	secret := []byte("super-secret-hmac-key")
	now := time.Now()
	raw := signStateCookie(secret, now, 0, 0, 1, 1, 1)
	raw[0] ^= 0xFF

	_, err := verifyStateCookie(secret, raw, now)
	require.Error(t, err)
}

func TestStateCookieRejectsWrongSecret(t *testing.T) {
	raw := signStateCookie([]byte("secret-a"), time.Now(), 0, 0, 1, 1, 1)
	_, err := verifyStateCookie([]byte("secret-b"), raw, time.Now())
	require.Error(t, err)
}

func TestStateCookieRejectsExpired(t *testing.T) {
	secret := []byte("k")
	created := time.Now().Add(-2 * cookieLifetime)
	raw := signStateCookie(secret, created, 0, 0, 1, 1, 1)
	_, err := verifyStateCookie(secret, raw, time.Now())
	require.Error(t, err)
}

func TestStateCookieRejectsTruncated(t *testing.T) {
	_, err := verifyStateCookie([]byte("k"), []byte{1, 2, 3}, time.Now())
	require.Error(t, err)
}
