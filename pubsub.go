package transport

import (
	"go.uber.org/zap"

	itransport "github.com/meshgrid/transport/internal/transport"
	"github.com/meshgrid/transport/internal/wire"
)

// subscriptionHandler is one local subscription: a topic, the message type
// it accepts (possibly WildcardType), a factory for a fresh Message to
// unmarshal into, and the callback to invoke with it.
type subscriptionHandler struct {
	id      HandlerID
	nodeID  NodeID
	topic   Topic
	msgType string
	newMsg  func() Message
	deliver func(Message)
}

// remoteSub is one live outbound connection to a remote publisher's data
// endpoint, scoped to exactly one topic (a Go-native simplification: rather
// than multiplexing several topic filters over one shared connection, each
// (endpoint, topic) pair gets its own dialed connection, keeping the
// publisher-side fan-out filter — one string per connection — exact).
type remoteSub struct {
	conn      *itransport.Subscriber
	processID ProcessID
	topic     Topic
}

func remoteSubKey(endpoint string, topic Topic) string {
	return endpoint + "\x00" + string(topic)
}

// onPublisherDiscovered implements the new-remote-publisher half of the
// pub/sub state machine: if (and only if) some local subscription wants
// rec.Topic, dial the publisher's data endpoint once, install the topic
// filter, and announce ourselves on its control endpoint.
func (rt *Runtime) onPublisherDiscovered(rec PublisherRecord) {
	rt.mx.discoveryCallbacks.Add(1)
	if rec.ProcessID == rt.processID {
		return // never dial our own publisher socket
	}
	if !rt.subs.HasAny(string(rec.Topic)) {
		return
	}

	key := remoteSubKey(rec.DataEndpoint, rec.Topic)
	if !rt.msgConns.Add(key) {
		return // already connected for this (endpoint, topic) pair
	}

	sub, err := itransport.DialSubscriber(rec.DataEndpoint, string(rec.Topic), rt.cfg.SlowJoinerDelay)
	if err != nil {
		rt.msgConns.Remove(key)
		rt.mx.connectFailures.Add(1)
		rt.log.Warn("dial publisher failed", zap.Error(err), zap.String("endpoint", rec.DataEndpoint))
		return
	}
	rt.mx.connectAttempts.Add(1)

	rt.mu.Lock()
	rt.remoteSubs[key] = &remoteSub{conn: sub, processID: rec.ProcessID, topic: rec.Topic}
	rt.mu.Unlock()

	rt.announceControl(rec.ControlEndpoint, rec.Topic, rec.MsgType, wire.EventNewConnection)
	rt.startSubscriberReader(sub)
}

// onPublisherGone implements remote-publisher-gone cleanup: drop the one
// connection named by rec, or every connection owned by rec.ProcessID when
// wholeProcess is true.
func (rt *Runtime) onPublisherGone(rec PublisherRecord, wholeProcess bool) {
	rt.mx.discoveryCallbacks.Add(1)
	rt.mu.Lock()
	var toClose []string
	if wholeProcess {
		for key, rs := range rt.remoteSubs {
			if rs.processID == rec.ProcessID {
				toClose = append(toClose, key)
			}
		}
	} else {
		key := remoteSubKey(rec.DataEndpoint, rec.Topic)
		if _, ok := rt.remoteSubs[key]; ok {
			toClose = append(toClose, key)
		}
	}
	for _, key := range toClose {
		rt.remoteSubs[key].conn.Close()
		delete(rt.remoteSubs, key)
		rt.msgConns.Remove(key)
	}
	rt.mu.Unlock()
}

// announceControl best-effort notifies a remote control endpoint of a
// connection lifecycle event. Failures are logged, not fatal: control
// notifications are informational, never propagated as a protocol error.
func (rt *Runtime) announceControl(endpoint string, topic Topic, msgType string, event wire.EventCode) {
	if endpoint == "" {
		return
	}
	conn, err := itransport.DialControl(endpoint)
	if err != nil {
		rt.log.Debug("control dial failed", zap.Error(err), zap.String("endpoint", endpoint))
		return
	}
	defer conn.Close()

	ctl := &wire.Control{
		Topic:     string(topic),
		ProcessID: string(rt.processID),
		MsgType:   msgType,
		Event:     event,
	}
	env := &wire.Envelope{Kind: wire.KindControl, Body: ctl.Encode()}
	if err := conn.Send(env); err != nil {
		rt.log.Debug("control send failed", zap.Error(err))
	}
}

// startSubscriberReader spawns the goroutine that reads publish envelopes
// off one remote-subscriber connection and dispatches them to local
// handlers. One goroutine per remote connection, joined by the runtime's
// task group on teardown, the same shape as chirp.Peer's single receive
// loop generalized to N sockets instead of 1.
func (rt *Runtime) startSubscriberReader(sub *itransport.Subscriber) {
	rt.tasks.Go(func() error {
		for {
			env, err := sub.Conn.Recv()
			if err != nil {
				return nil // connection closed; onPublisherGone (or teardown) already cleaned up state
			}
			if env.Kind != wire.KindPublish {
				continue
			}
			rt.handleIncomingPublish(env.Body)
		}
	})
}

// handleIncomingPublish implements incoming-publish dispatch: decode once,
// snapshot the matching handlers, then invoke each outside any lock.
func (rt *Runtime) handleIncomingPublish(body []byte) {
	var p wire.Publish
	if err := p.Decode(body); err != nil {
		rt.mx.messagesDropped.Add(1)
		rt.log.Warn("discarding malformed publish", zap.Error(err))
		return
	}
	handlers := rt.subs.All(p.Topic)
	if len(handlers) == 0 {
		rt.mx.messagesDropped.Add(1)
		return
	}
	for _, byHandler := range handlers {
		for _, h := range byHandler {
			if !typeMatches(h.msgType, p.MsgType) {
				continue
			}
			msg := h.newMsg()
			if err := unmarshalInto(msg, p.Payload); err != nil {
				rt.mx.messagesDropped.Add(1)
				rt.log.Warn("discarding unparsable payload", zap.Error(err))
				continue
			}
			rt.mx.messagesDelivered.Add(1)
			h.deliver(msg)
		}
	}
}

// publishLocal delivers msg to every local subscription matching topic,
// bypassing sockets entirely (the synchronous local loopback). Each handler
// receives its own decoded copy from its newMsg factory, just as a remote
// delivery would.
func (rt *Runtime) publishLocal(topic Topic, msgType string, msg Message) {
	handlers := rt.subs.All(string(topic))
	if len(handlers) == 0 {
		return
	}
	data, err := marshalMessage(msg)
	if err != nil {
		rt.mx.messagesDropped.Add(1)
		rt.log.Warn("discarding unmarshalable local publish", zap.Error(err))
		return
	}
	for _, byHandler := range handlers {
		for _, h := range byHandler {
			if !typeMatches(h.msgType, msgType) {
				continue
			}
			m := h.newMsg()
			if err := unmarshalInto(m, data); err != nil {
				rt.mx.messagesDropped.Add(1)
				rt.log.Warn("discarding unparsable payload", zap.Error(err))
				continue
			}
			rt.mx.messagesDelivered.Add(1)
			h.deliver(m)
		}
	}
}

// publishRemote fans msg out to every connected subscriber whose filter
// matches topic, via this runtime's Publisher listener.
func (rt *Runtime) publishRemote(topic Topic, msgType string, payload []byte) {
	p := &wire.Publish{
		Topic:        string(topic),
		DataEndpoint: rt.pub.Endpoint(),
		Payload:      payload,
		MsgType:      msgType,
	}
	env := &wire.Envelope{Kind: wire.KindPublish, Body: p.Encode()}
	failed := rt.pub.Fanout(string(topic), env)
	for c, err := range failed {
		rt.log.Debug("fanout send failed, dropping subscriber", zap.Error(err))
		rt.pub.Drop(c)
	}
}
