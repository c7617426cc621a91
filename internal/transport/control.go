package transport

import (
	"net"
	"sync"
)

// Control is the listener side of the new-connection/end-connection
// notification channel a publisher and its subscribers use to tell each
// other about process/node lifecycle, independent of the data plane so a
// control notification is never held up behind a backlog of publishes.
type Control struct {
	ln net.Listener

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// Endpoint reports the "host:port" this control socket is listening on.
func (c *Control) Endpoint() string { return c.ln.Addr().String() }

// ListenControl opens the control listener on an OS-assigned port.
func ListenControl() (*Control, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, err
	}
	return &Control{ln: ln, conns: make(map[*Conn]struct{})}, nil
}

// Accept blocks for the next inbound control connection.
func (c *Control) Accept() (*Conn, error) {
	raw, err := c.ln.Accept()
	if err != nil {
		return nil, err
	}
	conn := NewConn(raw, raw.RemoteAddr().String())
	conn.Arm()
	c.mu.Lock()
	c.conns[conn] = struct{}{}
	c.mu.Unlock()
	return conn, nil
}

// DialControl connects to a remote node's control endpoint.
func DialControl(endpoint string) (*Conn, error) {
	raw, err := net.Dial("tcp", endpoint)
	if err != nil {
		return nil, err
	}
	conn := NewConn(raw, endpoint)
	conn.Arm()
	return conn, nil
}

// Drop removes a connection that has gone away.
func (c *Control) Drop(conn *Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	conn.Close()
}

// Close closes the listener and every accepted connection.
func (c *Control) Close() error {
	c.mu.Lock()
	for conn := range c.conns {
		conn.Close()
	}
	c.conns = make(map[*Conn]struct{})
	c.mu.Unlock()
	return c.ln.Close()
}
