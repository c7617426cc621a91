package transport

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meshgrid/transport/internal/wire"
)

// Conn wraps one TCP connection carrying wire envelopes, generalizing
// chirp/channel.IOChannel (bufio.Reader for reads, bufio.Writer + Flush for
// writes) from chirp.Packet to wire.Envelope, and adding the slow-joiner
// "armed" gate and a send-only mutex separate from any registry lock the
// caller might be holding — the same split chirp.Peer draws between μ
// (state) and out.Mutex (send).
type Conn struct {
	raw net.Conn
	r   *bufio.Reader

	sendMu sync.Mutex
	w      *bufio.Writer

	armed   atomic.Bool
	Remote  string // the dialed or accepted endpoint, for logs and connset bookkeeping
}

// NewConn wraps an established net.Conn. The connection starts disarmed:
// the first send will be held back until Arm is called or ArmAfter's timer
// fires, whichever the caller wires up.
func NewConn(c net.Conn, remote string) *Conn {
	return &Conn{
		raw:    c,
		r:      bufio.NewReader(c),
		w:      bufio.NewWriter(c),
		Remote: remote,
	}
}

// Arm marks the connection as past its slow-joiner window, allowing sends to
// proceed immediately.
func (c *Conn) Arm() { c.armed.Store(true) }

// Armed reports whether the slow-joiner window has elapsed.
func (c *Conn) Armed() bool { return c.armed.Load() }

// ArmAfter schedules Arm to run after d, the slow-joiner compensation from
// SPEC_FULL.md §4.3: rather than blocking the dialing goroutine for d on
// every connect, the connection is usable immediately for reads and the
// send path (WaitArmed) only stalls a send that actually lands inside the
// window.
func (c *Conn) ArmAfter(d time.Duration) {
	if d <= 0 {
		c.Arm()
		return
	}
	time.AfterFunc(d, c.Arm)
}

// WaitArmed blocks the calling goroutine only if the connection is still
// inside its slow-joiner window, and only for the remainder of it. Once
// armed it returns immediately forever after.
func (c *Conn) WaitArmed(pollEvery time.Duration) {
	for !c.Armed() {
		time.Sleep(pollEvery)
	}
}

// sendArmPoll is how often Send re-checks Armed while stalled inside the
// slow-joiner window. Short enough that the held-back send lands within a
// few polls of ArmAfter's timer firing, without busy-spinning.
const sendArmPoll = 5 * time.Millisecond

// Send writes env to the connection, holding sendMu for the duration so a
// concurrent registry-driven fan-out and a directly-addressed send never
// interleave their bytes. A send that lands inside the slow-joiner window
// (Arm not yet called) stalls on WaitArmed first, so the first message to a
// freshly dialed connection is never silently dropped by the peer before it
// finishes accepting.
func (c *Conn) Send(env *wire.Envelope) error {
	c.WaitArmed(sendArmPoll)
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := env.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv reads the next envelope. It is intended to be called from exactly one
// goroutine (the connection's reader), matching chirp's single in.Recv loop.
func (c *Conn) Recv() (*wire.Envelope, error) {
	var env wire.Envelope
	if _, err := env.ReadFrom(c.r); err != nil {
		return nil, err
	}
	return &env, nil
}

// Close closes the underlying connection, causing a blocked Recv to return
// promptly with an error — the same teardown shape as chirp.Peer.closeOut.
func (c *Conn) Close() error { return c.raw.Close() }
