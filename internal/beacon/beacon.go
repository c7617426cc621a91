package beacon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	transport "github.com/meshgrid/transport"
)

// Record is the constraint internal/beacon needs of whatever type parameter
// a Beacon[R] is instantiated with: enough to key and route announcements
// without the beacon package needing to know PublisherRecord's or
// ServicePublisherRecord's field layout.
type Record interface {
	DiscoveryTopic() transport.Topic
	DiscoveryProcessID() transport.ProcessID
}

const (
	// DefaultMessagePort is the UDP port the message beacon binds by
	// default.
	DefaultMessagePort = 24101

	// DefaultServicePort is the UDP port the service beacon binds by
	// default.
	DefaultServicePort = 24102

	defaultHeartbeat  = time.Second
	defaultStaleAfter = 5 * defaultHeartbeat
	dedupCacheSize    = 4096
)

type kind byte

const (
	kindAnnounce kind = 'A'
	kindWithdraw kind = 'W'
	kindQuery    kind = 'Q'
)

// datagram is the single UDP wire message every beacon sends and receives.
// Payload carries the json-encoded R for announce and withdraw datagrams.
type datagram struct {
	Kind        kind            `json:"k"`
	ProcessID   string          `json:"p"`
	Topic       string          `json:"t"`
	Fingerprint string          `json:"f,omitempty"`
	Payload     json.RawMessage `json:"d,omitempty"`
}

// known is one remote record this beacon has learned about, plus the
// bookkeeping needed to expire it if its process stops heartbeating.
type known[R Record] struct {
	rec      R
	fp       string
	lastSeen time.Time
}

// Beacon is the default transport.Discovery[R] implementation: a single UDP
// socket broadcasting announce/withdraw/query datagrams on a fixed port,
// generalizing the "beacon" spec.md names without inheriting any of its
// unspecified wire format.
//
// A Runtime is given two independent Beacon instances by its caller, one
// per record type — the two-beacon contract spec.md §6 requires — matching
// chirp's own preference for plain net.Conn plumbing over a heavier
// framework, here applied to a broadcast datagram socket instead of a
// dialed stream.
type Beacon[R Record] struct {
	port      int
	heartbeat time.Duration
	staleAfter time.Duration
	log       *zap.Logger

	conn *net.UDPConn
	bcast *net.UDPAddr

	mu         sync.Mutex
	advertised map[string]R             // fingerprint -> our own announced record
	peers      map[string]*known[R]     // dedup key -> last-seen remote record
	byTopic    map[transport.Topic]map[transport.ProcessID]map[string]R

	dedup *lru.Cache[string, struct{}]

	onConn []func(R)
	onDisc []func(R, bool)

	tasks  *taskgroup.Group
	cancel context.CancelFunc
}

// Option adjusts a Beacon before Start. Mirrors the functional-option shape
// used throughout the root package's Config.
type Option[R Record] func(*Beacon[R])

// WithHeartbeat overrides the re-announce interval (default 1s).
func WithHeartbeat[R Record](d time.Duration) Option[R] {
	return func(b *Beacon[R]) { b.heartbeat = d }
}

// WithLogger installs a zap.Logger instead of zap.NewNop.
func WithLogger[R Record](log *zap.Logger) Option[R] {
	return func(b *Beacon[R]) { b.log = log }
}

// WithStaleAfter overrides how long a peer record may go without a refresh
// before sweepLoop evicts it and fires OnDisconnection (default 5 heartbeat
// intervals). Tests that want a fast, deterministic sweep pair this with a
// short WithHeartbeat instead of waiting out the real default.
func WithStaleAfter[R Record](d time.Duration) Option[R] {
	return func(b *Beacon[R]) { b.staleAfter = d }
}

// New constructs a Beacon bound to port, ready for Start. Use
// DefaultMessagePort / DefaultServicePort for the two instances a Runtime
// expects, or distinct ports in tests running several beacons in one
// process.
func New[R Record](port int, opts ...Option[R]) *Beacon[R] {
	cache, _ := lru.New[string, struct{}](dedupCacheSize)
	b := &Beacon[R]{
		port:       port,
		heartbeat:  defaultHeartbeat,
		staleAfter: defaultStaleAfter,
		log:        zap.NewNop(),
		advertised: make(map[string]R),
		peers:      make(map[string]*known[R]),
		byTopic:    make(map[transport.Topic]map[transport.ProcessID]map[string]R),
		dedup:      cache,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start implements transport.Discovery: binds the broadcast UDP socket and
// launches the receive loop, heartbeat ticker, and staleness sweep.
func (b *Beacon[R]) Start(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf(":%d", b.port))
	if err != nil {
		return fmt.Errorf("beacon: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("beacon: listen: %w", err)
	}
	bcast, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("255.255.255.255:%d", b.port))
	if err != nil {
		conn.Close()
		return fmt.Errorf("beacon: resolve broadcast addr: %w", err)
	}
	b.conn = conn
	b.bcast = bcast

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.tasks = taskgroup.New(nil)

	b.tasks.Go(func() error { b.recvLoop(runCtx); return nil })
	b.tasks.Go(func() error { b.heartbeatLoop(runCtx); return nil })
	b.tasks.Go(func() error { b.sweepLoop(runCtx); return nil })
	return nil
}

// Stop implements transport.Discovery: halts every goroutine and releases
// the socket.
func (b *Beacon[R]) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.conn != nil {
		b.conn.Close()
	}
	if b.tasks != nil {
		b.tasks.Wait()
	}
	return nil
}

// Advertise implements transport.Discovery: records rec as ours and
// broadcasts an immediate announce, ahead of the next heartbeat.
func (b *Beacon[R]) Advertise(rec R) error {
	fp := fingerprint(rec)
	b.mu.Lock()
	b.advertised[fp] = rec
	b.mu.Unlock()
	return b.send(kindAnnounce, rec, fp)
}

// Unadvertise implements transport.Discovery: stops announcing every record
// this beacon holds for topic and broadcasts a withdraw for each.
func (b *Beacon[R]) Unadvertise(topic transport.Topic) error {
	b.mu.Lock()
	var gone []struct {
		fp  string
		rec R
	}
	for fp, rec := range b.advertised {
		if rec.DiscoveryTopic() == topic {
			gone = append(gone, struct {
				fp  string
				rec R
			}{fp, rec})
			delete(b.advertised, fp)
		}
	}
	b.mu.Unlock()

	var firstErr error
	for _, g := range gone {
		if err := b.send(kindWithdraw, g.rec, g.fp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discover implements transport.Discovery: broadcasts a one-shot query so
// any peer already advertising topic re-announces immediately instead of
// waiting for its next heartbeat.
func (b *Beacon[R]) Discover(topic transport.Topic) error {
	dg := datagram{Kind: kindQuery, Topic: string(topic)}
	return b.broadcast(dg)
}

// Publishers implements transport.Discovery: a snapshot of every record
// currently known for topic, grouped by process, combining both what we
// learned from peers and our own locally advertised records.
func (b *Beacon[R]) Publishers(topic transport.Topic) map[transport.ProcessID][]R {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[transport.ProcessID][]R)
	for pid, byFP := range b.byTopic[topic] {
		for _, rec := range byFP {
			out[pid] = append(out[pid], rec)
		}
	}
	return out
}

// OnConnection implements transport.Discovery.
func (b *Beacon[R]) OnConnection(f func(R)) {
	b.mu.Lock()
	b.onConn = append(b.onConn, f)
	b.mu.Unlock()
}

// OnDisconnection implements transport.Discovery.
func (b *Beacon[R]) OnDisconnection(f func(R, bool)) {
	b.mu.Lock()
	b.onDisc = append(b.onDisc, f)
	b.mu.Unlock()
}

func (b *Beacon[R]) send(k kind, rec R, fp string) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("beacon: encode record: %w", err)
	}
	dg := datagram{
		Kind:        k,
		ProcessID:   string(rec.DiscoveryProcessID()),
		Topic:       string(rec.DiscoveryTopic()),
		Fingerprint: fp,
		Payload:     payload,
	}
	return b.broadcast(dg)
}

func (b *Beacon[R]) broadcast(dg datagram) error {
	if b.conn == nil {
		return fmt.Errorf("beacon: not started")
	}
	data, err := json.Marshal(dg)
	if err != nil {
		return fmt.Errorf("beacon: encode datagram: %w", err)
	}
	_, err = b.conn.WriteToUDP(data, b.bcast)
	return err
}

// recvLoop reads and dispatches inbound datagrams until ctx is canceled or
// the socket closes, the same per-socket reception-worker shape dispatch.go
// uses for the root package's TCP listeners.
func (b *Beacon[R]) recvLoop(ctx context.Context) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed during Stop
		}
		var dg datagram
		if err := json.Unmarshal(buf[:n], &dg); err != nil {
			b.log.Debug("discarding malformed beacon datagram", zap.Error(err))
			continue
		}
		b.handle(dg)
	}
}

func (b *Beacon[R]) handle(dg datagram) {
	switch dg.Kind {
	case kindAnnounce:
		b.handleAnnounce(dg)
	case kindWithdraw:
		b.handleWithdraw(dg)
	case kindQuery:
		b.handleQuery(dg)
	}
}

func (b *Beacon[R]) handleAnnounce(dg datagram) {
	var rec R
	if err := json.Unmarshal(dg.Payload, &rec); err != nil {
		b.log.Debug("discarding unparsable beacon record", zap.Error(err))
		return
	}
	dedupKey := dg.ProcessID + "|" + dg.Topic + "|" + dg.Fingerprint

	b.mu.Lock()
	if b.byTopic[rec.DiscoveryTopic()] == nil {
		b.byTopic[rec.DiscoveryTopic()] = make(map[transport.ProcessID]map[string]R)
	}
	byFP := b.byTopic[rec.DiscoveryTopic()][rec.DiscoveryProcessID()]
	if byFP == nil {
		byFP = make(map[string]R)
		b.byTopic[rec.DiscoveryTopic()][rec.DiscoveryProcessID()] = byFP
	}
	byFP[dg.Fingerprint] = rec
	b.peers[dedupKey] = &known[R]{rec: rec, fp: dg.Fingerprint, lastSeen: time.Now()}

	_, alreadyKnown := b.dedup.Get(dedupKey)
	b.dedup.Add(dedupKey, struct{}{})
	callbacks := append([]func(R){}, b.onConn...)
	b.mu.Unlock()

	if alreadyKnown {
		return // heartbeat refresh only, no repeat notification
	}
	for _, cb := range callbacks {
		cb(rec)
	}
}

func (b *Beacon[R]) handleWithdraw(dg datagram) {
	dedupKey := dg.ProcessID + "|" + dg.Topic + "|" + dg.Fingerprint

	b.mu.Lock()
	k, ok := b.peers[dedupKey]
	delete(b.peers, dedupKey)
	b.dedup.Remove(dedupKey)
	if ok {
		if byFP := b.byTopic[k.rec.DiscoveryTopic()][k.rec.DiscoveryProcessID()]; byFP != nil {
			delete(byFP, dg.Fingerprint)
		}
	}
	callbacks := append([]func(R, bool){}, b.onDisc...)
	b.mu.Unlock()

	if !ok {
		return
	}
	for _, cb := range callbacks {
		cb(k.rec, false)
	}
}

// handleQuery re-announces every advertised record matching topic
// immediately, so a fresh subscriber doesn't wait a full heartbeat period
// for the publisher it just asked Discover for.
func (b *Beacon[R]) handleQuery(dg datagram) {
	b.mu.Lock()
	var matches []struct {
		fp  string
		rec R
	}
	for fp, rec := range b.advertised {
		if string(rec.DiscoveryTopic()) == dg.Topic {
			matches = append(matches, struct {
				fp  string
				rec R
			}{fp, rec})
		}
	}
	b.mu.Unlock()

	for _, m := range matches {
		b.send(kindAnnounce, m.rec, m.fp)
	}
}

// heartbeatLoop re-broadcasts every locally advertised record on b.heartbeat,
// the UDP analogue of a keepalive: peers that see the same fingerprint
// again just refresh lastSeen without re-firing OnConnection.
func (b *Beacon[R]) heartbeatLoop(ctx context.Context) {
	t := time.NewTicker(b.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.mu.Lock()
			snapshot := make(map[string]R, len(b.advertised))
			for fp, rec := range b.advertised {
				snapshot[fp] = rec
			}
			b.mu.Unlock()
			for fp, rec := range snapshot {
				if err := b.send(kindAnnounce, rec, fp); err != nil {
					b.log.Debug("heartbeat send failed", zap.Error(err))
				}
			}
		}
	}
}

// sweepLoop evicts peer records that have missed staleAfter worth of
// heartbeats and fires OnDisconnection for each, the UDP beacon's
// substitute for a TCP connection's natural close notification.
func (b *Beacon[R]) sweepLoop(ctx context.Context) {
	t := time.NewTicker(b.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.sweepOnce()
		}
	}
}

func (b *Beacon[R]) sweepOnce() {
	cutoff := time.Now().Add(-b.staleAfter)

	b.mu.Lock()
	type expiry struct {
		key string
		fp  string
		rec R
	}
	var expired []expiry
	for key, k := range b.peers {
		if !k.lastSeen.Before(cutoff) {
			continue
		}
		expired = append(expired, expiry{key: key, fp: k.fp, rec: k.rec})
	}
	for _, e := range expired {
		delete(b.peers, e.key)
		b.dedup.Remove(e.key)
		if byFP := b.byTopic[e.rec.DiscoveryTopic()][e.rec.DiscoveryProcessID()]; byFP != nil {
			delete(byFP, e.fp)
		}
	}

	// A UDP-broadcast beacon has no notion of a connection closing: the only
	// signal a process is gone for good is that none of its records were
	// refreshed before staleAfter elapsed. If every record this beacon still
	// held for a process expired in this same pass, that process has no
	// remaining records anywhere in b.peers — treat it as a whole-process
	// disconnect so onServiceGone/onPublisherGone's wholeProcess purge
	// (spec.md §4.5) actually fires instead of being permanently unreachable.
	wholeProcess := make(map[transport.ProcessID]bool, len(expired))
	for _, e := range expired {
		pid := e.rec.DiscoveryProcessID()
		if _, checked := wholeProcess[pid]; checked {
			continue
		}
		wholeProcess[pid] = !b.hasLivePeerForProcessLocked(pid)
	}
	callbacks := append([]func(R, bool){}, b.onDisc...)
	b.mu.Unlock()

	for _, e := range expired {
		for _, cb := range callbacks {
			cb(e.rec, wholeProcess[e.rec.DiscoveryProcessID()])
		}
	}
}

// hasLivePeerForProcessLocked reports whether b.peers still holds a record
// for pid. Caller must hold b.mu.
func (b *Beacon[R]) hasLivePeerForProcessLocked(pid transport.ProcessID) bool {
	for _, k := range b.peers {
		if k.rec.DiscoveryProcessID() == pid {
			return true
		}
	}
	return false
}

// fingerprint derives a stable content hash for rec, used both as the
// dedup cache key's suffix and as the identity a withdraw message targets.
func fingerprint(rec Record) string {
	data, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
