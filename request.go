package transport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RequestHandler processes an inbound service request and returns the reply
// payload to send back, or an error. A handler advertised with rep-type
// Empty is one-way: whatever it returns is discarded and no response frame
// is ever put on the wire.
type RequestHandler func(ctx context.Context, req IncomingRequest) (Message, error)

// IncomingRequest carries everything a RequestHandler needs to answer a
// request, mirroring the fields chirp.Request exposes to a chirp.Handler.
type IncomingRequest struct {
	Topic     Topic
	NodeID    NodeID
	RequestID RequestID
	ReqType   string
	RepType   string
	Payload   []byte
}

// pendingRequest is the single-delivery wakeup primitive for one outstanding
// synchronous request, generalizing chirp.pending (chirp/peer.go) from a
// fixed *Response payload to this domain's (ok bool, payload []byte, err
// error) result triple. A channel of capacity 1 gives the same "armed once,
// delivered at most once" contract as a condition variable without a
// separate Lock/Wait/Signal dance.
type pendingRequest chan requestResult

type requestResult struct {
	ok      bool
	payload []byte
	err     error
}

func newPendingRequest() pendingRequest { return make(pendingRequest, 1) }

// deliver hands the result to whatever is waiting, if anything. It never
// blocks: the channel always has capacity 1 and is only ever delivered to
// once, matching chirp.pending.deliver's single-shot contract.
func (p pendingRequest) deliver(r requestResult) {
	if p != nil {
		select {
		case p <- r:
		default:
		}
	}
}

// requestTable tracks requests this node has sent and is still waiting on a
// response for, keyed by RequestID. It is guarded by its own mutex rather
// than folded into internal/registry's Table, since entries here are
// transient per-call state, not long-lived handler registrations — the
// registries hold Subscriptions/Repliers across the node's whole lifetime,
// while this table's entries come and go with every single call.
type requestTable struct {
	mu      sync.Mutex
	pending map[RequestID]*outstandingRequest
}

// outstandingRequest records what's needed to resend a request to a
// newly-discovered responder after the original send found none (§4.6's
// send-pending-remote-reqs resend-on-late-responder behavior), and to wake
// up a synchronous waiter once a response or cancellation arrives.
type outstandingRequest struct {
	topic     Topic
	reqType   string
	repType   string
	payload   []byte
	requester NodeID
	wake      pendingRequest // nil for RequestAsync callers that don't block
	callback  func(ok bool, payload []byte, err error)
}

func newRequestTable() *requestTable {
	return &requestTable{pending: make(map[RequestID]*outstandingRequest)}
}

func (t *requestTable) add(id RequestID, r *outstandingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = r
}

func (t *requestTable) remove(id RequestID) (*outstandingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return r, ok
}

// get returns the outstanding request without removing it, for resend.
func (t *requestTable) get(id RequestID) (*outstandingRequest, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.pending[id]
	return r, ok
}

// pendingForTopic returns a snapshot of every outstanding request id still
// waiting against topic, for the late-responder resend path.
func (t *requestTable) pendingForTopic(topic Topic) []RequestID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []RequestID
	for id, r := range t.pending {
		if r.topic == topic {
			ids = append(ids, id)
		}
	}
	return ids
}

func (t *requestTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// waitResult blocks on wake until ctx ends or a result is delivered,
// mirroring chirp.Peer.Call's select loop over ctx.Done() and the pending
// channel, minus call cancellation (no cancel frame exists on this wire; a
// timed-out synchronous request simply stops waiting, per the Open Question
// resolution in SPEC_FULL.md §9 — the handler is left in place, not evicted).
func waitResult(ctx context.Context, wake pendingRequest) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case r := <-wake:
		if r.err != nil {
			return nil, r.err
		}
		if !r.ok {
			return nil, fmt.Errorf("service error: %s", r.payload)
		}
		return r.payload, nil
	}
}

// withTimeout applies d to ctx if d > 0, mirroring RequestSync's deadline
// parameter; a zero or negative d means "wait forever" (bounded only by
// ctx's own deadline, if any).
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
