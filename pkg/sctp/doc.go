// Package sctp implements the SCTP association engine that carries WebRTC
// DataChannel traffic over a DTLS-encrypted transport.
//
// The engine is sans-I/O: Association never opens a socket, spawns a
// goroutine, or reads the clock itself. A host loop feeds it decrypted
// datagrams and wall-clock instants through HandleRead/HandleTimeout, and
// drains outbound datagrams, timer deadlines, and delivered messages
// through PollWrite/PollTimeout/PollEvent. This makes the engine's protocol
// decisions deterministically testable: a fixed packet sequence, a fixed
// clock and a deterministic Config.RandUint32 reproduce the same tags, TSNs
// and state transitions. The server's state-cookie HMAC secret (crypto/rand)
// and the association ID (uuid) are not drawn from RandUint32, so INIT-ACK
// cookie bytes differ between runs.
package sctp
