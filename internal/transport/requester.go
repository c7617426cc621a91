package transport

import (
	"net"
	"time"
)

// Requester is one bidirectional connection to a responder's replier
// endpoint: requests go out and responses come back on the very same
// net.Conn. This is the idiomatic-Go reading of the "requester+receiver
// pair" role: ZeroMQ's DEALER/ROUTER split needs a second socket because a
// DEALER can't demux inbound frames by peer identity on its own, but a
// direct TCP connection is already addressed to exactly one responder, so
// the response-addressing field the wire codec still carries
// (Response.DestinationSocketID) is not used for routing, and the receiving
// side does not check it either.
type Requester struct {
	Conn *Conn
}

// DialRequester connects to a responder's request endpoint.
func DialRequester(endpoint string, slowJoiner time.Duration) (*Requester, error) {
	c, err := net.Dial("tcp", endpoint)
	if err != nil {
		return nil, err
	}
	conn := NewConn(c, endpoint)
	conn.ArmAfter(slowJoiner)
	return &Requester{Conn: conn}, nil
}

// Close tears down the connection.
func (r *Requester) Close() error { return r.Conn.Close() }
