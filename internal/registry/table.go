package registry

import "sync"

// Table is the generic (topic, nodeID, handlerID) -> V store backing a
// runtime's local subscriptions and its repliers (pending requests are kept
// in the root package's own request table). A Table holds no domain knowledge about V;
// the caller supplies the type-matching predicate used by Find.
//
// All operations are serialized by a single mutex. Find and All return
// snapshots copied out from under the lock, so a caller can safely iterate
// and invoke user callbacks afterward without risking deadlock against a
// callback that re-enters the table.
type Table[V any] struct {
	mu   sync.Mutex
	data map[string]map[string]map[string]V
}

// New constructs an empty Table.
func New[V any]() *Table[V] {
	return &Table[V]{data: make(map[string]map[string]map[string]V)}
}

// Add inserts or replaces the handler keyed by (topic, nodeID, handlerID).
func (t *Table[V]) Add(topic, nodeID, handlerID string, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byNode, ok := t.data[topic]
	if !ok {
		byNode = make(map[string]map[string]V)
		t.data[topic] = byNode
	}
	byHandler, ok := byNode[nodeID]
	if !ok {
		byHandler = make(map[string]V)
		byNode[nodeID] = byHandler
	}
	byHandler[handlerID] = v
}

// Remove deletes the handler keyed by (topic, nodeID, handlerID), if present.
func (t *Table[V]) Remove(topic, nodeID, handlerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byNode, ok := t.data[topic]
	if !ok {
		return
	}
	byHandler, ok := byNode[nodeID]
	if !ok {
		return
	}
	delete(byHandler, handlerID)
	if len(byHandler) == 0 {
		delete(byNode, nodeID)
	}
	if len(byNode) == 0 {
		delete(t.data, topic)
	}
}

// RemoveAllForNode deletes every entry owned by nodeID across all topics.
// Used when a node is closed.
func (t *Table[V]) RemoveAllForNode(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, byNode := range t.data {
		delete(byNode, nodeID)
		if len(byNode) == 0 {
			delete(t.data, topic)
		}
	}
}

// HasAny reports whether any handler is registered for topic.
func (t *Table[V]) HasAny(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data[topic]) > 0
}

// All returns a snapshot copy of the (nodeID -> handlerID -> V) map for
// topic, safe to iterate and act on without holding any lock.
func (t *Table[V]) All(topic string) map[string]map[string]V {
	t.mu.Lock()
	defer t.mu.Unlock()
	byNode, ok := t.data[topic]
	if !ok {
		return nil
	}
	out := make(map[string]map[string]V, len(byNode))
	for nodeID, byHandler := range byNode {
		inner := make(map[string]V, len(byHandler))
		for id, v := range byHandler {
			inner[id] = v
		}
		out[nodeID] = inner
	}
	return out
}

// Get returns the handler keyed by (topic, nodeID, handlerID), if present.
func (t *Table[V]) Get(topic, nodeID, handlerID string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	byNode, ok := t.data[topic]
	if !ok {
		var zero V
		return zero, false
	}
	byHandler, ok := byNode[nodeID]
	if !ok {
		var zero V
		return zero, false
	}
	v, ok := byHandler[handlerID]
	return v, ok
}

// Find returns the first value registered for topic for which match reports
// true. Map iteration order is unspecified, matching the "picks the first"
// rule literally: any matching entry is an acceptable first when more than
// one handler could serve the same (topic, type) pair.
func (t *Table[V]) Find(topic string, match func(V) bool) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, byHandler := range t.data[topic] {
		for _, v := range byHandler {
			if match(v) {
				return v, true
			}
		}
	}
	var zero V
	return zero, false
}

// Len reports the total number of handlers registered across all topics.
func (t *Table[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, byNode := range t.data {
		for _, byHandler := range byNode {
			n += len(byHandler)
		}
	}
	return n
}

// Topics returns the set of topics with at least one registered handler.
func (t *Table[V]) Topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.data))
	for topic := range t.data {
		out = append(out, topic)
	}
	return out
}
