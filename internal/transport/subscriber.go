package transport

import (
	"net"
	"time"

	"github.com/meshgrid/transport/internal/wire"
)

// Subscriber is the dialing side of the data plane: one outbound connection
// per discovered publisher's data endpoint. Connect-once bookkeeping for
// which endpoints already have a live Subscriber is the caller's job (a
// shared *Set), per SPEC_FULL.md §4.3.
type Subscriber struct {
	Conn *Conn
}

// DialSubscriber connects to a publisher's data endpoint, arms the
// connection after slowJoiner elapses, and sends the initial filter frame so
// the publisher's Fanout immediately starts considering this connection a
// candidate.
func DialSubscriber(endpoint, filter string, slowJoiner time.Duration) (*Subscriber, error) {
	c, err := net.Dial("tcp", endpoint)
	if err != nil {
		return nil, err
	}
	conn := NewConn(c, endpoint)
	conn.ArmAfter(slowJoiner)

	var b wire.Builder
	b.FrameString(filter)
	env := &wire.Envelope{Kind: wire.KindControl, Body: b.Bytes()}
	if err := conn.Send(env); err != nil {
		conn.Close()
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

// Close tears down the connection.
func (s *Subscriber) Close() error { return s.Conn.Close() }
