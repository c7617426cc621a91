package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	itransport "github.com/meshgrid/transport/internal/transport"
	"github.com/meshgrid/transport/internal/wire"
)

// replierHandler is one locally advertised service: the request/response
// type names it accepts, a factory for a fresh request Message, and the
// handler that produces the reply.
type replierHandler struct {
	id       HandlerID
	nodeID   NodeID
	topic    Topic
	socketID SocketID
	reqType  string
	repType  string
	newReq   func() Message
	handle   RequestHandler
}

// remoteReq is one live outbound connection to a remote responder's request
// endpoint, reused for every request this runtime sends to that responder.
type remoteReq struct {
	conn      *itransport.Requester
	processID ProcessID
	topic     Topic
}

// AdvertiseService registers a local replier and announces it on the
// service discovery beacon. The returned SocketID is this advertisement's
// stable identity, the value requesters place in a Request's
// ResponderSocketID frame.
func (rt *Runtime) AdvertiseService(n *Node, topic Topic, reqType, repType string, newReq func() Message, handle RequestHandler) (HandlerID, SocketID, error) {
	if err := topic.Validate(); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	id := newHandlerID()
	sid := newSocketID()
	rh := &replierHandler{
		id:       HandlerID(id),
		nodeID:   n.id,
		topic:    topic,
		socketID: SocketID(sid),
		reqType:  reqType,
		repType:  repType,
		newReq:   newReq,
		handle:   handle,
	}
	rt.repliers.Add(string(topic), string(n.id), string(id), rh)

	rec := ServicePublisherRecord{
		Topic:           topic,
		RequestEndpoint: rt.rep.Endpoint(),
		SocketID:        SocketID(sid),
		ProcessID:       rt.processID,
		NodeID:          n.id,
		ReqType:         reqType,
		RepType:         repType,
	}
	if err := rt.svcDiscovery.Advertise(rec); err != nil {
		rt.repliers.Remove(string(topic), string(n.id), string(id))
		return "", "", fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}
	return HandlerID(id), SocketID(sid), nil
}

// UnadvertiseService removes a local replier and, if it was the last one for
// topic, tells the discovery beacon to stop announcing it.
func (rt *Runtime) UnadvertiseService(topic Topic, nodeID NodeID, id HandlerID) error {
	rt.repliers.Remove(string(topic), string(nodeID), string(id))
	if !rt.repliers.HasAny(string(topic)) {
		if err := rt.svcDiscovery.Unadvertise(topic); err != nil {
			return fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
		}
	}
	return nil
}

// onServiceDiscovered records a newly learned responder and resends any
// requests that were queued against topic before a responder was known
// (the "resend-on-late-responder" behavior).
func (rt *Runtime) onServiceDiscovered(rec ServicePublisherRecord) {
	rt.mx.discoveryCallbacks.Add(1)
	if rec.ProcessID == rt.processID {
		return
	}
	rt.mu.Lock()
	known := rt.responders[rec.Topic]
	for _, r := range known {
		if r.SocketID == rec.SocketID {
			rt.mu.Unlock()
			return // already known
		}
	}
	rt.responders[rec.Topic] = append(known, rec)
	rt.mu.Unlock()

	for _, id := range rt.requests.pendingForTopic(rec.Topic) {
		rt.resendRequest(id, rec)
	}
}

// onServiceGone forgets a responder, or every responder owned by its
// process when wholeProcess is true, and drops any live connections to it.
func (rt *Runtime) onServiceGone(rec ServicePublisherRecord, wholeProcess bool) {
	rt.mx.discoveryCallbacks.Add(1)
	rt.mu.Lock()
	for topic, recs := range rt.responders {
		kept := recs[:0]
		for _, r := range recs {
			if wholeProcess && r.ProcessID == rec.ProcessID {
				continue
			}
			if !wholeProcess && r.SocketID == rec.SocketID {
				continue
			}
			kept = append(kept, r)
		}
		rt.responders[topic] = kept
	}
	var toClose []string
	for key, rr := range rt.remoteReqs {
		if (wholeProcess && rr.processID == rec.ProcessID) || (!wholeProcess && key == rec.RequestEndpoint) {
			toClose = append(toClose, key)
		}
	}
	for _, key := range toClose {
		rt.remoteReqs[key].conn.Close()
		delete(rt.remoteReqs, key)
		rt.svcConns.Remove(key)
	}
	rt.mu.Unlock()
}

// requestAsync implements request-async: local-first replier lookup, then
// send-or-defer against a known or not-yet-known remote responder.
func (rt *Runtime) requestAsync(n *Node, topic Topic, reqType, repType string, payload []byte, wake pendingRequest, callback func(ok bool, payload []byte, err error)) (RequestID, error) {
	rt.mx.requestsOut.Add(1)

	if rh, ok := rt.repliers.Find(string(topic), func(rh *replierHandler) bool {
		return typeMatches(rh.reqType, reqType) && typeMatches(rh.repType, repType)
	}); ok {
		id := RequestID(newRequestID())
		rt.dispatchLocalRequest(rh, IncomingRequest{
			Topic: topic, NodeID: n.id, RequestID: id, ReqType: reqType, RepType: repType, Payload: payload,
		}, wake, callback)
		return id, nil
	}

	id := RequestID(newRequestID())
	out := &outstandingRequest{topic: topic, reqType: reqType, repType: repType, payload: payload, requester: n.id, wake: wake, callback: callback}
	rt.requests.add(id, out)
	rt.mx.requestsPending.Add(1)

	rt.mu.Lock()
	recs := rt.responders[topic]
	rt.mu.Unlock()
	for _, rec := range recs {
		if typeMatches(rec.ReqType, reqType) && typeMatches(rec.RepType, repType) {
			rt.resendRequest(id, rec)
			break
		}
	}
	return id, nil
}

// dispatchLocalRequest invokes a local replier's handler directly,
// bypassing sockets entirely, and delivers the result the same way a remote
// response would be delivered (via wake or callback).
func (rt *Runtime) dispatchLocalRequest(rh *replierHandler, req IncomingRequest, wake pendingRequest, callback func(bool, []byte, error)) {
	rt.tasks.Go(func() error {
		rep, err := rh.handle(context.Background(), req)
		oneWay := req.RepType == (Empty{}).TypeName()
		if oneWay {
			return nil
		}
		if err != nil {
			wake.deliver(requestResult{ok: false, err: err})
			if callback != nil {
				callback(false, nil, err)
			}
			return nil
		}
		data, merr := marshalMessage(rep)
		if merr != nil {
			wake.deliver(requestResult{ok: false, err: merr})
			if callback != nil {
				callback(false, nil, merr)
			}
			return nil
		}
		wake.deliver(requestResult{ok: true, payload: data})
		if callback != nil {
			callback(true, data, nil)
		}
		return nil
	})
}

// resendRequest sends (or re-sends) an outstanding request to rec,
// dialing-or-reusing the connection to its request endpoint.
func (rt *Runtime) resendRequest(id RequestID, rec ServicePublisherRecord) {
	out, ok := rt.requests.get(id)
	if !ok {
		return
	}
	rt.mu.Lock()
	rr, ok := rt.remoteReqs[rec.RequestEndpoint]
	rt.mu.Unlock()
	if !ok {
		if !rt.svcConns.Add(rec.RequestEndpoint) {
			return
		}
		req, err := itransport.DialRequester(rec.RequestEndpoint, rt.cfg.SlowJoinerDelay)
		if err != nil {
			rt.svcConns.Remove(rec.RequestEndpoint)
			rt.mx.connectFailures.Add(1)
			rt.log.Warn("dial responder failed", zap.Error(err), zap.String("endpoint", rec.RequestEndpoint))
			return
		}
		rt.mx.connectAttempts.Add(1)
		rr = &remoteReq{conn: req, processID: rec.ProcessID, topic: rec.Topic}
		rt.mu.Lock()
		rt.remoteReqs[rec.RequestEndpoint] = rr
		rt.mu.Unlock()
		rt.startResponseReader(rr)
	}

	wireReq := &wire.Request{
		Topic:             string(out.topic),
		ResponderSocketID: string(rec.SocketID),
		RequesterNodeID:   string(out.requester),
		RequestID:         string(id),
		Payload:           out.payload,
		ReqType:           out.reqType,
		RepType:           out.repType,
	}
	env := &wire.Envelope{Kind: wire.KindRequest, Body: wireReq.Encode()}
	if err := rr.conn.Conn.Send(env); err != nil {
		rt.mx.requestsOutFailed.Add(1)
		rt.log.Warn("request send failed", zap.Error(err))
		return
	}
	if out.repType == (Empty{}).TypeName() {
		// One-way: no response will come, so the request is done once sent.
		if _, ok := rt.requests.remove(id); ok {
			rt.mx.requestsPending.Add(-1)
		}
	}
}

// startResponseReader spawns the goroutine reading Response envelopes off a
// responder connection and correlating each with its outstanding request.
func (rt *Runtime) startResponseReader(rr *remoteReq) {
	rt.tasks.Go(func() error {
		for {
			env, err := rr.conn.Conn.Recv()
			if err != nil {
				return nil
			}
			if env.Kind != wire.KindResponse {
				continue
			}
			rt.handleIncomingResponse(env.Body)
		}
	})
}

// handleIncomingResponse implements incoming-response correlate-and-remove.
func (rt *Runtime) handleIncomingResponse(body []byte) {
	var resp wire.Response
	if err := resp.Decode(body); err != nil {
		rt.log.Warn("discarding malformed response", zap.Error(err))
		return
	}
	rt.mx.responsesReceived.Add(1)
	id := RequestID(resp.RequestID)
	out, ok := rt.requests.remove(id)
	if !ok {
		rt.mx.responsesUnknown.Add(1)
		return
	}
	rt.mx.requestsPending.Add(-1)
	if out.wake != nil {
		out.wake.deliver(requestResult{ok: resp.Result, payload: resp.Payload})
	}
	if out.callback != nil {
		out.callback(resp.Result, resp.Payload, nil)
	}
}

// handleIncomingRequest implements incoming-request dispatch on the replier
// side, including the one-way short-circuit for repType == Empty. It
// returns the requester node ID it registered conn under (or "" if the
// request was discarded before registration), so the caller can unregister
// it when conn closes.
func (rt *Runtime) handleIncomingRequest(conn *itransport.Conn, body []byte) string {
	var req wire.Request
	if err := req.Decode(body); err != nil {
		rt.log.Warn("discarding malformed request", zap.Error(err))
		return ""
	}
	rt.mx.requestsIn.Add(1)

	rh, ok := rt.repliers.Find(req.Topic, func(rh *replierHandler) bool {
		return typeMatches(rh.reqType, req.ReqType) && typeMatches(rh.repType, req.RepType)
	})
	if !ok {
		rt.mx.requestsInDropped.Add(1)
		return ""
	}

	rt.rep.Register(req.RequesterNodeID, conn)

	rt.tasks.Go(func() error {
		in := IncomingRequest{
			Topic:     Topic(req.Topic),
			RequestID: RequestID(req.RequestID),
			ReqType:   req.ReqType,
			RepType:   req.RepType,
			Payload:   req.Payload,
		}
		rep, err := rh.handle(context.Background(), in)
		if req.RepType == (Empty{}).TypeName() {
			return nil // one-way: no response ever sent
		}
		var out wire.Response
		out.DestinationSocketID = req.ResponderSocketID
		out.Topic = req.Topic
		out.RequesterNodeID = req.RequesterNodeID
		out.RequestID = req.RequestID
		if err != nil {
			out.Result = false
			out.Payload = []byte(err.Error())
		} else {
			data, merr := marshalMessage(rep)
			if merr != nil {
				out.Result = false
				out.Payload = []byte(merr.Error())
			} else {
				out.Result = true
				out.Payload = data
			}
		}
		env := &wire.Envelope{Kind: wire.KindResponse, Body: out.Encode()}
		if sendErr := rt.rep.Send(req.RequesterNodeID, env); sendErr != nil {
			rt.log.Debug("response send failed, requester gone", zap.Error(sendErr))
		}
		return nil
	})
	return req.RequesterNodeID
}

// requestSync implements RequestSync: requestAsync plus the blocking wait.
func (rt *Runtime) requestSync(ctx context.Context, n *Node, topic Topic, reqType, repType string, payload []byte, timeout time.Duration) ([]byte, error) {
	wake := newPendingRequest()
	_, err := rt.requestAsync(n, topic, reqType, repType, payload, wake, nil)
	if err != nil {
		return nil, err
	}
	wctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	return waitResult(wctx, wake)
}
