package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Node is the per-node facade a caller actually programs against: it wraps
// a NodeID identity over the shared Runtime, the way multiple chirp.Peer
// method handlers all share one underlying Channel but are scoped by their
// own registered method IDs.
type Node struct {
	rt        *Runtime
	id        NodeID
	partition string

	mu          sync.Mutex
	subsByTopic map[Topic]map[HandlerID]struct{}
	topics      map[Topic]string // advertised message topics -> msgType
	services    map[Topic]HandlerID
}

// ID reports this node's identity.
func (n *Node) ID() NodeID { return n.id }

// Topic canonicalizes leaf into this node's default partition, the
// convenience most callers use instead of building a Topic string by hand.
func (n *Node) Topic(namespace, leaf string) (Topic, error) {
	return canonicalize(n.partitionOrDefault(), namespace, leaf)
}

func (n *Node) partitionOrDefault() string {
	if n.partition != "" {
		return n.partition
	}
	return n.rt.cfg.Partition
}

func (n *Node) ensureMaps() {
	n.mu.Lock()
	if n.subsByTopic == nil {
		n.subsByTopic = make(map[Topic]map[HandlerID]struct{})
		n.topics = make(map[Topic]string)
		n.services = make(map[Topic]HandlerID)
	}
	n.mu.Unlock()
}

// Advertise announces topic as published by this node with messages of
// msgType. It must precede Publish on the same topic.
func (n *Node) Advertise(topic Topic, msgType string) error {
	n.ensureMaps()
	if err := topic.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	if err := n.rt.msgDiscovery.Advertise(PublisherRecord{
		Topic:           topic,
		DataEndpoint:    n.rt.pub.Endpoint(),
		ControlEndpoint: n.rt.ctrl.Endpoint(),
		ProcessID:       n.rt.processID,
		NodeID:          n.id,
		MsgType:         msgType,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}
	n.mu.Lock()
	n.topics[topic] = msgType
	n.mu.Unlock()
	return nil
}

// Publish sends msg on topic, delivering to local subscribers synchronously
// and fanning out to every connected remote subscriber. Advertise must have
// been called first for the same topic.
func (n *Node) Publish(topic Topic, msg Message) error {
	n.mu.Lock()
	msgType, ok := n.topics[topic]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAdvertised, topic)
	}
	if !typeMatches(msgType, msg.TypeName()) {
		return fmt.Errorf("%w: advertised %q, got %q", ErrTypeMismatch, msgType, msg.TypeName())
	}
	data, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	n.rt.mx.messagesPublished.Add(1)
	n.rt.publishLocal(topic, msgType, msg)
	n.rt.publishRemote(topic, msgType, data)
	return nil
}

// Subscribe registers a handler for topic. newMsg must return a fresh
// Message of the expected type (or the type matching msgType if
// WildcardType is used) on every call; handler is invoked once per matching
// delivery. Subscribing triggers discovery for the topic so already-running
// remote publishers are found even if they advertised before this call.
func (n *Node) Subscribe(topic Topic, msgType string, newMsg func() Message, handler func(Message)) (HandlerID, error) {
	n.ensureMaps()
	if err := topic.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	id := HandlerID(newHandlerID())
	n.rt.subs.Add(string(topic), string(n.id), string(id), &subscriptionHandler{
		id: id, nodeID: n.id, topic: topic, msgType: msgType, newMsg: newMsg, deliver: handler,
	})
	n.mu.Lock()
	if n.subsByTopic[topic] == nil {
		n.subsByTopic[topic] = make(map[HandlerID]struct{})
	}
	n.subsByTopic[topic][id] = struct{}{}
	n.mu.Unlock()

	if err := n.rt.msgDiscovery.Discover(topic); err != nil {
		n.rt.log.Debug("discover failed", zap.Error(err))
	}
	return id, nil
}

// Unsubscribe removes a previously registered subscription.
func (n *Node) Unsubscribe(topic Topic, id HandlerID) {
	n.rt.subs.Remove(string(topic), string(n.id), string(id))
	n.mu.Lock()
	delete(n.subsByTopic[topic], id)
	n.mu.Unlock()
}

// AdvertiseService registers a replier for topic.
func (n *Node) AdvertiseService(topic Topic, reqType, repType string, newReq func() Message, handle RequestHandler) (HandlerID, error) {
	n.ensureMaps()
	id, _, err := n.rt.AdvertiseService(n, topic, reqType, repType, newReq, handle)
	if err != nil {
		return "", err
	}
	n.mu.Lock()
	n.services[topic] = id
	n.mu.Unlock()
	return id, nil
}

// UnadvertiseService removes a previously advertised service.
func (n *Node) UnadvertiseService(topic Topic) error {
	n.mu.Lock()
	id, ok := n.services[topic]
	delete(n.services, topic)
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAdvertised, topic)
	}
	return n.rt.UnadvertiseService(topic, n.id, id)
}

// RequestAsync sends a request and returns immediately; callback is invoked
// from a worker goroutine once a response arrives (or the request fails).
func (n *Node) RequestAsync(topic Topic, reqType, repType string, msg Message, callback func(Message, error)) (RequestID, error) {
	data, err := marshalMessage(msg)
	if err != nil {
		return "", err
	}
	var cb func(bool, []byte, error)
	if callback != nil {
		cb = func(ok bool, payload []byte, err error) {
			if err != nil {
				callback(nil, err)
				return
			}
			if !ok {
				callback(nil, fmt.Errorf("service error: %s", payload))
				return
			}
			callback(RawMessage{Type: repType, Data: payload}, nil)
		}
	}
	id, err := n.rt.requestAsync(n, topic, reqType, repType, data, nil, cb)
	return id, err
}

// RequestSync sends a request and blocks for the response, bounded by
// timeout (0 means wait for ctx alone).
func (n *Node) RequestSync(ctx context.Context, topic Topic, reqType, repType string, msg Message, timeout time.Duration) (Message, error) {
	data, err := marshalMessage(msg)
	if err != nil {
		return nil, err
	}
	payload, err := n.rt.requestSync(ctx, n, topic, reqType, repType, data, timeout)
	if err != nil {
		return nil, err
	}
	return RawMessage{Type: repType, Data: payload}, nil
}

// TopicList returns the locally subscribed topics plus every topic this
// runtime holds a live connection to a remote publisher for. Remote
// publishers are only connected for topics with a local subscriber, so
// topics advertised elsewhere that nobody here subscribes to are not listed.
func (n *Node) TopicList() []Topic {
	seen := make(map[Topic]struct{})
	for _, t := range n.rt.subs.Topics() {
		seen[Topic(t)] = struct{}{}
	}
	n.rt.mu.Lock()
	for _, rs := range n.rt.remoteSubs {
		seen[rs.topic] = struct{}{}
	}
	n.rt.mu.Unlock()
	out := make([]Topic, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// ServiceList returns every service topic known to this node's runtime.
func (n *Node) ServiceList() []Topic {
	seen := make(map[Topic]struct{})
	for _, t := range n.rt.repliers.Topics() {
		seen[Topic(t)] = struct{}{}
	}
	n.rt.mu.Lock()
	for t := range n.rt.responders {
		seen[t] = struct{}{}
	}
	n.rt.mu.Unlock()
	out := make([]Topic, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}

// TopicInfo reports every known publisher (local subscriptions don't
// count) for topic, as held by the message discovery.
func (n *Node) TopicInfo(topic Topic) []PublisherRecord {
	var out []PublisherRecord
	for _, recs := range n.rt.msgDiscovery.Publishers(topic) {
		out = append(out, recs...)
	}
	return out
}

// ServiceInfo reports every known responder for topic, as held by the
// service discovery.
func (n *Node) ServiceInfo(topic Topic) []ServicePublisherRecord {
	var out []ServicePublisherRecord
	for _, recs := range n.rt.svcDiscovery.Publishers(topic) {
		out = append(out, recs...)
	}
	return out
}

// Close removes this node and every handler it registered.
func (n *Node) Close() error {
	n.rt.dropNode(n.id)
	return nil
}
