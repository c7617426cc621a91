package transport

import "github.com/google/uuid"

// ProcessID uniquely identifies a runtime (one per operating-system process)
// for the lifetime of that process. Every publisher and replier record
// carries it so peers can demultiplex announcements that originate from the
// same process across many nodes.
type ProcessID string

// NodeID uniquely identifies one Node instance within a Runtime. Many nodes
// share a single Runtime.
type NodeID string

// HandlerID uniquely identifies one subscription, replier, or pending
// request within its owning node.
type HandlerID string

// SocketID uniquely and stably identifies one of a runtime's addressable
// sockets (currently only the replier/requester pairing needs this; the
// publisher and subscriber sockets are addressed by network endpoint alone).
type SocketID string

// newProcessID generates a fresh process identifier. Called once per
// Runtime at construction.
func newProcessID() ProcessID { return ProcessID(uuid.NewString()) }

// newNodeID generates a fresh node identifier. Called once per Node at
// construction.
func newNodeID() NodeID { return NodeID(uuid.NewString()) }

// newHandlerID generates a fresh handler identifier. Called once per
// subscription, replier, or outbound request.
func newHandlerID() HandlerID { return HandlerID(uuid.NewString()) }

// newSocketID generates a fresh stable socket identifier.
func newSocketID() SocketID { return SocketID(uuid.NewString()) }

// RequestID uniquely identifies one outstanding service request within the
// requester's process. Request IDs are scoped to (topic, node), not global.
type RequestID string

func newRequestID() RequestID { return RequestID(uuid.NewString()) }
