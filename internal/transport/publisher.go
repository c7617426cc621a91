package transport

import (
	"net"
	"sync"

	"github.com/meshgrid/transport/internal/wire"
)

// Publisher is the fan-out listener side of the data plane: it accepts
// subscriber connections, holds one filter (topic prefix) per connection,
// and writes outbound publish envelopes to every connection whose filter
// matches — mirroring the ZeroMQ PUB socket's subscribe-filter semantics
// without ZeroMQ, per SPEC_FULL.md §4.3. Subscriber-side re-checks the
// prefix too, so a stale filter on this side never leaks data past a
// subscriber that has already unsubscribed.
type Publisher struct {
	ln net.Listener

	mu    sync.Mutex
	conns map[*Conn]string // conn -> topic-prefix filter, "" until the filter frame arrives

	// Credential is not read by any Publisher method: Accept admits every
	// connection to conns at once, and any credential check on the first
	// frame is made by the caller that reads the connection.
	Credential *wire.Credential
}

// Endpoint reports the "host:port" this publisher is listening on.
func (p *Publisher) Endpoint() string { return p.ln.Addr().String() }

// ListenPublisher opens a TCP listener on an OS-assigned port, the
// net.Listen("tcp", ":0") idiom named in SPEC_FULL.md §4.3.
func ListenPublisher() (*Publisher, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, err
	}
	return &Publisher{ln: ln, conns: make(map[*Conn]string)}, nil
}

// Accept blocks for the next subscriber connection, returning it with its
// filter not yet set (the caller's dispatch loop should read the connection
// until a Control frame with a filter string arrives, then call SetFilter).
// Accept returns net.ErrClosed once Close has run, which is what ends the
// caller's accept loop on teardown.
func (p *Publisher) Accept() (*Conn, error) {
	c, err := p.ln.Accept()
	if err != nil {
		return nil, err
	}
	conn := NewConn(c, c.RemoteAddr().String())
	conn.Arm() // inbound connections have nothing to wait on; only dialed connections need the slow-joiner gate
	p.mu.Lock()
	p.conns[conn] = ""
	p.mu.Unlock()
	return conn, nil
}

// SetFilter records the topic-prefix filter a connected subscriber asked
// for.
func (p *Publisher) SetFilter(c *Conn, prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[c] = prefix
}

// Drop removes a connection that has gone away.
func (p *Publisher) Drop(c *Conn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
	c.Close()
}

// Fanout writes env to every connection whose filter is a prefix of topic
// (the empty filter matches nothing until the subscriber's filter frame has
// been processed). Send errors are returned per-connection so the caller can
// decide whether to Drop that one connection without aborting the others.
func (p *Publisher) Fanout(topic string, env *wire.Envelope) map[*Conn]error {
	p.mu.Lock()
	targets := make([]*Conn, 0, len(p.conns))
	for c, prefix := range p.conns {
		if prefix != "" && hasTopicPrefix(topic, prefix) {
			targets = append(targets, c)
		}
	}
	p.mu.Unlock()

	var failed map[*Conn]error
	for _, c := range targets {
		if err := c.Send(env); err != nil {
			if failed == nil {
				failed = make(map[*Conn]error)
			}
			failed[c] = err
		}
	}
	return failed
}

// Close closes the listener and every accepted connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for c := range p.conns {
		c.Close()
	}
	p.conns = make(map[*Conn]string)
	p.mu.Unlock()
	return p.ln.Close()
}

func hasTopicPrefix(topic, prefix string) bool {
	return len(topic) >= len(prefix) && topic[:len(prefix)] == prefix
}

// ParseFilter extracts the topic-prefix filter string from a subscriber's
// initial Control-kind envelope (see DialSubscriber).
func ParseFilter(env *wire.Envelope) (string, error) {
	s := wire.NewScanner(env.Body)
	return s.FrameString()
}
