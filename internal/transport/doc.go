// Package transport implements the socket set: the five TCP roles a node
// uses to move publish, control, request, and response frames between
// processes — publisher, subscriber, control, replier, and the paired
// requester/receiver.
//
// Every role is a thin wrapper over net.Conn/net.Listener carrying
// internal/wire envelopes. Connect-once bookkeeping and the slow-joiner
// "armed" flag live here rather than in the caller, the same way
// chirp/peer.go keeps its channel plumbing (out.Mutex, the Channel
// interface) separate from dispatch logic.
package transport
