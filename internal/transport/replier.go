package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/meshgrid/transport/internal/wire"
)

// Replier is the router-style listener a service advertiser runs: inbound
// requester connections are kept keyed by the id the caller registers them
// under (the root package uses the RequesterNodeID carried in each request),
// so a response can be routed back to the exact connection it came in on. A send to a socket-id with no live
// connection fails loudly with errUnknownResponder rather than being queued
// or silently dropped, mirroring ZeroMQ's ROUTER_MANDATORY per
// SPEC_FULL.md §4.3.
type Replier struct {
	ln net.Listener

	mu    sync.Mutex
	byID  map[string]*Conn
}

// errUnknownResponder is returned by Send when no connection is registered
// for the given socket-id. The root package logs it and drops the response;
// it is not converted to the root package's ErrUnknownResponder.
var errUnknownResponder = fmt.Errorf("no connection for socket id")

// ErrUnknownResponder reports that Send was asked to deliver to a socket-id
// this Replier has no live connection for.
func ErrUnknownResponder() error { return errUnknownResponder }

// Endpoint reports the "host:port" this replier is listening on.
func (r *Replier) Endpoint() string { return r.ln.Addr().String() }

// ListenReplier opens the replier listener on an OS-assigned port.
func ListenReplier() (*Replier, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, err
	}
	return &Replier{ln: ln, byID: make(map[string]*Conn)}, nil
}

// Accept blocks for the next inbound requester connection. The caller is
// responsible for reading the first frame to learn the requester's
// socket-id and calling Register.
func (r *Replier) Accept() (*Conn, error) {
	raw, err := r.ln.Accept()
	if err != nil {
		return nil, err
	}
	conn := NewConn(raw, raw.RemoteAddr().String())
	conn.Arm()
	return conn, nil
}

// Register associates socketID with conn so Send can address it directly.
func (r *Replier) Register(socketID string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[socketID] = conn
}

// Unregister removes socketID, e.g. on connection loss.
func (r *Replier) Unregister(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, socketID)
}

// Send writes env to the connection registered for socketID.
func (r *Replier) Send(socketID string, env *wire.Envelope) error {
	r.mu.Lock()
	conn, ok := r.byID[socketID]
	r.mu.Unlock()
	if !ok {
		return errUnknownResponder
	}
	return conn.Send(env)
}

// Close closes the listener and every registered connection.
func (r *Replier) Close() error {
	r.mu.Lock()
	for _, conn := range r.byID {
		conn.Close()
	}
	r.byID = make(map[string]*Conn)
	r.mu.Unlock()
	return r.ln.Close()
}
