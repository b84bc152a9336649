// Package endpoint is a minimal, illustrative host loop that drives one
// sctp.Association over a real net.PacketConn. It exists to exercise the
// sans-I/O contract end to end with a realistic caller; it is not part of
// the association engine and is not a production DTLS transport.
package endpoint

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/datawire/sctp-proto/pkg/sctp"
)

// maxDatagramSize bounds a single read from the underlying socket; it must
// be at least the configured PathMTU or inbound packets get truncated.
const maxDatagramSize = 2048

// pollInterval is how often the timeout loop re-checks PollTimeout, armed
// deadline or not, so a due timer fires at the next tick rather than at its
// exact deadline; it is also the read loop's socket read deadline. This
// mirrors the teacher's resend ticker cadence in pkg/vif/tcp/handler.go's
// processResends.
const pollInterval = 100 * time.Millisecond

// Endpoint pairs one Association with a socket and drives it: reads
// datagrams into HandleRead, fires HandleTimeout when PollTimeout says to,
// and forwards whatever PollWrite/PollEvent produce. The association
// itself does no locking (per its single-threaded cooperative design), so
// Endpoint funnels every entrypoint through one mutex, per spec §9's
// "wrap the association in one host-owned lock" guidance.
type Endpoint struct {
	mu     sync.Mutex
	assoc  *sctp.Association
	conn   net.PacketConn
	remote net.Addr

	events chan sctp.Event

	wg sync.WaitGroup
}

// New wraps assoc with a socket-driven host loop. remote is the fixed peer
// address this endpoint writes outbound datagrams to; a production
// transport would instead hand datagrams to a DTLS record layer.
func New(conn net.PacketConn, remote net.Addr, assoc *sctp.Association) *Endpoint {
	return &Endpoint{
		assoc:  assoc,
		conn:   conn,
		remote: remote,
		events: make(chan sctp.Event, 64),
	}
}

// Run starts the read loop and the timer pump and blocks until ctx is
// cancelled. Call it in its own goroutine.
func (e *Endpoint) Run(ctx context.Context) {
	e.wg.Add(2)
	go e.readLoop(ctx)
	go e.timeoutLoop(ctx)

	e.withLock(func() {
		if e.assoc.State() == sctp.StateClosed {
			_ = e.assoc.Start(time.Now())
		}
	})

	<-ctx.Done()
	e.wg.Wait()
	close(e.events)
}

// Events returns the channel Run publishes delivered messages and
// association/stream events to.
func (e *Endpoint) Events() <-chan sctp.Event {
	return e.events
}

// Write hands a user message to the association for fragmentation and
// scheduling, then flushes whatever the send scheduler produced.
func (e *Endpoint) Write(sid uint16, ppid sctp.PayloadProtocolIdentifier, data []byte, unordered bool) error {
	var err error
	e.withLock(func() {
		err = e.assoc.Write(sid, ppid, data, sctp.StreamConfig{Unordered: unordered}, time.Now())
	})
	e.drainOutbound()
	return err
}

func (e *Endpoint) withLock(f func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f()
}

func (e *Endpoint) readLoop(ctx context.Context) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			dlog.Errorf(ctx, "%+v", derror.PanicToError(r))
		}
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		_ = e.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, _, err := e.conn.ReadFrom(buf)
		select {
		case <-ctx.Done():
			dlog.Debugf(ctx, "association %s: read loop stopping", e.assoc.ID())
			return
		default:
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			dlog.Errorf(ctx, "association %s: read: %v", e.assoc.ID(), err)
			continue
		}
		e.withLock(func() { e.assoc.HandleRead(buf[:n], time.Now()) })
		e.drainOutbound()
		e.drainEvents(ctx)
	}
}

func (e *Endpoint) timeoutLoop(ctx context.Context) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			dlog.Errorf(ctx, "%+v", derror.PanicToError(r))
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			var due bool
			e.withLock(func() {
				if deadline, armed := e.assoc.PollTimeout(); armed && !now.Before(deadline) {
					e.assoc.HandleTimeout(now)
					due = true
				}
			})
			if due {
				e.drainOutbound()
				e.drainEvents(ctx)
			}
		}
	}
}

func (e *Endpoint) drainOutbound() {
	for {
		var (
			pkt []byte
			ok  bool
		)
		e.withLock(func() { pkt, ok = e.assoc.PollWrite() })
		if !ok {
			return
		}
		if _, err := e.conn.WriteTo(pkt, e.remote); err != nil {
			return
		}
	}
}

func (e *Endpoint) drainEvents(ctx context.Context) {
	for {
		var (
			ev sctp.Event
			ok bool
		)
		e.withLock(func() { ev, ok = e.assoc.PollEvent() })
		if !ok {
			return
		}
		select {
		case e.events <- ev:
		default:
			dlog.Errorf(ctx, "association %s: event channel full, dropping %v event", e.assoc.ID(), ev.Kind)
		}
	}
}
