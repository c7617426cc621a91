package transport

import "expvar"

// runtimeMetrics records activity counters for one Runtime, exported via
// expvar the same way chirp/metrics.go exports peer-level counters.
type runtimeMetrics struct {
	messagesPublished  expvar.Int // local publish calls
	messagesDelivered  expvar.Int // subscriber callback invocations (local + remote)
	messagesDropped    expvar.Int // parse failures or type mismatches discarded
	controlReceived    expvar.Int
	requestsOut        expvar.Int
	requestsOutFailed  expvar.Int
	requestsIn         expvar.Int
	requestsInDropped  expvar.Int // no matching replier
	requestsPending    expvar.Int // gauge
	responsesReceived  expvar.Int
	responsesUnknown   expvar.Int // response for an unknown/expired request
	discoveryCallbacks expvar.Int
	connectAttempts    expvar.Int
	connectFailures    expvar.Int

	emap *expvar.Map
}

func newRuntimeMetrics() *runtimeMetrics {
	m := &runtimeMetrics{emap: new(expvar.Map)}
	m.emap.Set("messages_published", &m.messagesPublished)
	m.emap.Set("messages_delivered", &m.messagesDelivered)
	m.emap.Set("messages_dropped", &m.messagesDropped)
	m.emap.Set("control_received", &m.controlReceived)
	m.emap.Set("requests_out", &m.requestsOut)
	m.emap.Set("requests_out_failed", &m.requestsOutFailed)
	m.emap.Set("requests_in", &m.requestsIn)
	m.emap.Set("requests_in_dropped", &m.requestsInDropped)
	m.emap.Set("requests_pending", &m.requestsPending)
	m.emap.Set("responses_received", &m.responsesReceived)
	m.emap.Set("responses_unknown", &m.responsesUnknown)
	m.emap.Set("discovery_callbacks", &m.discoveryCallbacks)
	m.emap.Set("connect_attempts", &m.connectAttempts)
	m.emap.Set("connect_failures", &m.connectFailures)
	return m
}

// Map exposes the expvar map backing m, the same way chirp.Peer.Metrics
// exposes peerMetrics.emap for a caller to register additional counters
// into.
func (m *runtimeMetrics) Map() *expvar.Map { return m.emap }
