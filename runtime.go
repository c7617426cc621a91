package transport

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"

	"github.com/meshgrid/transport/internal/registry"
	itransport "github.com/meshgrid/transport/internal/transport"
)

// Runtime is the process-wide core: one socket set, one pair of discovery
// beacons, and the registries every Node constructed from it shares. Exactly
// one Runtime is expected per process, mirroring spec.md §5's "one reception
// worker per process" model — chirp.Peer is per-connection, generalized here
// to per-process since this domain fans a single socket set out to many
// local Nodes instead of one Peer per remote connection.
type Runtime struct {
	cfg Config
	log *zap.Logger
	mx  *runtimeMetrics

	processID ProcessID

	subs      *registry.Table[*subscriptionHandler]
	repliers  *registry.Table[*replierHandler]
	requests  *requestTable

	msgDiscovery MessageDiscovery
	svcDiscovery ServiceDiscovery

	pub  *itransport.Publisher
	ctrl *itransport.Control
	rep  *itransport.Replier

	msgConns *itransport.Set // dialed (endpoint,topic) publisher connections
	svcConns *itransport.Set // dialed responder request-endpoints

	mu         sync.Mutex
	remoteSubs map[string]*remoteSub   // (endpoint,topic) key -> live connection
	remoteReqs map[string]*remoteReq   // request-endpoint -> live connection
	responders map[Topic][]ServicePublisherRecord // topic -> known responders
	nodes      map[NodeID]*Node
	introspectNode *Node // the runtime's own node advertising IntrospectionTopic

	tasks  *taskgroup.Group
	closed atomic.Bool
}

// NewRuntime constructs and starts a Runtime. msgDisc and svcDisc are the two
// independent Discovery beacons spec.md §6 requires — one scoped to message
// topics, one to services. Pass a *beacon.Beacon (internal/beacon) for the
// default UDP implementation, or a test double for unit tests.
func NewRuntime(ctx context.Context, msgDisc MessageDiscovery, svcDisc ServiceDiscovery, opts ...Option) (*Runtime, error) {
	cfg := configFromEnv()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = buildLogger(cfg.Verbose)
	}

	pub, err := itransport.ListenPublisher()
	if err != nil {
		return nil, fmt.Errorf("%w: publisher listen: %v", ErrTransportFailure, err)
	}
	ctrl, err := itransport.ListenControl()
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("%w: control listen: %v", ErrTransportFailure, err)
	}
	rep, err := itransport.ListenReplier()
	if err != nil {
		pub.Close()
		ctrl.Close()
		return nil, fmt.Errorf("%w: replier listen: %v", ErrTransportFailure, err)
	}
	pid := newProcessID()

	rt := &Runtime{
		cfg:          cfg,
		log:          cfg.Logger,
		mx:           newRuntimeMetrics(),
		processID:    pid,
		subs:         registry.New[*subscriptionHandler](),
		repliers:     registry.New[*replierHandler](),
		requests:     newRequestTable(),
		msgDiscovery: msgDisc,
		svcDiscovery: svcDisc,
		pub:          pub,
		ctrl:         ctrl,
		rep:          rep,
		msgConns:     itransport.NewSet(),
		svcConns:     itransport.NewSet(),
		remoteSubs:   make(map[string]*remoteSub),
		remoteReqs:   make(map[string]*remoteReq),
		responders:   make(map[Topic][]ServicePublisherRecord),
		nodes:        make(map[NodeID]*Node),
		tasks:        taskgroup.New(nil),
	}

	rt.msgDiscovery.OnConnection(rt.onPublisherDiscovered)
	rt.msgDiscovery.OnDisconnection(rt.onPublisherGone)
	rt.svcDiscovery.OnConnection(rt.onServiceDiscovered)
	rt.svcDiscovery.OnDisconnection(rt.onServiceGone)

	if err := rt.msgDiscovery.Start(ctx); err != nil {
		rt.closeSockets()
		return nil, fmt.Errorf("%w: message discovery: %v", ErrDiscoveryUnavailable, err)
	}
	if err := rt.svcDiscovery.Start(ctx); err != nil {
		rt.msgDiscovery.Stop()
		rt.closeSockets()
		return nil, fmt.Errorf("%w: service discovery: %v", ErrDiscoveryUnavailable, err)
	}

	rt.startDispatch()
	if err := rt.startIntrospection(); err != nil {
		rt.log.Warn("introspection service failed to start", zap.Error(err))
	}
	return rt, nil
}

// NewNode creates a new local node on this runtime, the unit of identity
// Advertise/Publish/Subscribe/etc. all operate through.
func (rt *Runtime) NewNode() *Node {
	n := &Node{rt: rt, id: newNodeID()}
	rt.mu.Lock()
	rt.nodes[n.id] = n
	rt.mu.Unlock()
	return n
}

func (rt *Runtime) dropNode(id NodeID) {
	rt.mu.Lock()
	delete(rt.nodes, id)
	rt.mu.Unlock()
	rt.subs.RemoveAllForNode(string(id))
	rt.repliers.RemoveAllForNode(string(id))
}

// Close tears down every socket, stops both discovery beacons, and joins
// every reception goroutine, mirroring chirp.Peer.Stop's closeOut-then-Wait shape.
// Closing the listeners is what actually unblocks every accept loop's
// blocking Accept call; each returns an error and exits.
func (rt *Runtime) Close() error {
	if !rt.closed.CompareAndSwap(false, true) {
		return nil
	}
	rt.msgDiscovery.Stop()
	rt.svcDiscovery.Stop()
	rt.closeSockets()
	rt.tasks.Wait()
	return nil
}

func (rt *Runtime) closeSockets() {
	rt.pub.Close()
	rt.ctrl.Close()
	rt.rep.Close()

	rt.mu.Lock()
	for _, s := range rt.remoteSubs {
		s.conn.Close()
	}
	for _, r := range rt.remoteReqs {
		r.conn.Close()
	}
	rt.mu.Unlock()
}

// ProcessID reports this runtime's process identity, used to recognize
// whole-process disconnection notices from discovery.
func (rt *Runtime) ProcessID() ProcessID { return rt.processID }

// Metrics exposes the runtime's expvar map, mirroring chirp.Peer.Metrics.
func (rt *Runtime) Metrics() *expvar.Map { return rt.mx.Map() }
