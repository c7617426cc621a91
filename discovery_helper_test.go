package transport_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	transport "github.com/meshgrid/transport"
)

// fakeDiscovery is an in-process transport.Discovery test double: Advertise
// and Unadvertise fan out directly to every other instance registered on the
// same hub, and Discover immediately replays every record the other hub
// members currently hold for that topic. This exercises the same onPublisherDiscovered/onServiceDiscovered
// wiring a real beacon would drive, without depending on UDP broadcast
// reachability in a test environment — the in-memory analogue of how
// peers.Local pairs two chirp.Peer values over a Direct() channel instead of
// real sockets.
type hub[R any] struct {
	mu      sync.Mutex
	members []*fakeDiscovery[R]
}

func newHub[R any]() *hub[R] { return &hub[R]{} }

type fakeDiscovery[R any] struct {
	h *hub[R]

	mu       sync.Mutex
	records  map[string]R // fingerprint -> record, fingerprint is just fmt.Sprintf("%+v", rec)
	onConn   []func(R)
	onDisc   []func(R, bool)
}

func (h *hub[R]) join() *fakeDiscovery[R] {
	d := &fakeDiscovery[R]{h: h, records: make(map[string]R)}
	h.mu.Lock()
	h.members = append(h.members, d)
	h.mu.Unlock()
	return d
}

func (d *fakeDiscovery[R]) Start(context.Context) error { return nil }
func (d *fakeDiscovery[R]) Stop() error                 { return nil }

func (d *fakeDiscovery[R]) Advertise(rec R) error {
	key := fingerprintOf(rec)
	d.mu.Lock()
	d.records[key] = rec
	d.mu.Unlock()

	d.h.mu.Lock()
	members := append([]*fakeDiscovery[R]{}, d.h.members...)
	d.h.mu.Unlock()
	for _, m := range members {
		if m == d {
			continue
		}
		m.receive(rec)
	}
	return nil
}

func (d *fakeDiscovery[R]) Unadvertise(topic transport.Topic) error {
	d.mu.Lock()
	var gone []R
	for key, rec := range d.records {
		if any(rec).(interface{ DiscoveryTopic() transport.Topic }).DiscoveryTopic() == topic {
			gone = append(gone, rec)
			delete(d.records, key)
		}
	}
	d.mu.Unlock()

	d.h.mu.Lock()
	members := append([]*fakeDiscovery[R]{}, d.h.members...)
	d.h.mu.Unlock()
	for _, m := range members {
		if m == d {
			continue
		}
		for _, rec := range gone {
			m.withdraw(rec)
		}
	}
	return nil
}

func (d *fakeDiscovery[R]) Discover(topic transport.Topic) error {
	d.h.mu.Lock()
	members := append([]*fakeDiscovery[R]{}, d.h.members...)
	d.h.mu.Unlock()
	for _, m := range members {
		if m == d {
			continue
		}
		m.mu.Lock()
		matches := make([]R, 0, len(m.records))
		for _, rec := range m.records {
			if any(rec).(interface{ DiscoveryTopic() transport.Topic }).DiscoveryTopic() == topic {
				matches = append(matches, rec)
			}
		}
		m.mu.Unlock()
		for _, rec := range matches {
			d.receive(rec)
		}
	}
	return nil
}

func (d *fakeDiscovery[R]) Publishers(topic transport.Topic) map[transport.ProcessID][]R {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[transport.ProcessID][]R)
	for _, rec := range d.records {
		dr := any(rec).(interface {
			DiscoveryTopic() transport.Topic
			DiscoveryProcessID() transport.ProcessID
		})
		if dr.DiscoveryTopic() == topic {
			out[dr.DiscoveryProcessID()] = append(out[dr.DiscoveryProcessID()], rec)
		}
	}
	return out
}

func (d *fakeDiscovery[R]) OnConnection(f func(R)) {
	d.mu.Lock()
	d.onConn = append(d.onConn, f)
	d.mu.Unlock()
}

func (d *fakeDiscovery[R]) OnDisconnection(f func(R, bool)) {
	d.mu.Lock()
	d.onDisc = append(d.onDisc, f)
	d.mu.Unlock()
}

func (d *fakeDiscovery[R]) receive(rec R) {
	key := fingerprintOf(rec)
	d.mu.Lock()
	_, already := d.records[key]
	d.records[key] = rec
	callbacks := append([]func(R){}, d.onConn...)
	d.mu.Unlock()
	if already {
		return
	}
	for _, cb := range callbacks {
		cb(rec)
	}
}

func (d *fakeDiscovery[R]) withdraw(rec R) {
	key := fingerprintOf(rec)
	d.mu.Lock()
	_, ok := d.records[key]
	delete(d.records, key)
	callbacks := append([]func(R, bool){}, d.onDisc...)
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, cb := range callbacks {
		cb(rec, false)
	}
}

// fingerprintOf is a cheap structural key for dedup purposes only — good
// enough for a test double, not a real content hash.
func fingerprintOf(rec any) string {
	return fmt.Sprintf("%+v", rec)
}

// newTestRuntime builds a single Runtime wired to its own isolated fake
// discovery hubs, for tests that only need one process's worth of local
// behavior (no remote peer).
func newTestRuntime(t *testing.T) *transport.Runtime {
	t.Helper()
	msgHub := newHub[transport.PublisherRecord]()
	svcHub := newHub[transport.ServicePublisherRecord]()
	rt, err := transport.NewRuntime(context.Background(), msgHub.join(), svcHub.join(),
		transport.WithSlowJoinerDelay(0))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

// newLinkedRuntimes builds two Runtimes sharing one pair of discovery hubs,
// so an Advertise on one's node is immediately visible to the other's
// discovery callbacks, the way two real processes on the same network would
// see each other's beacon announcements.
func newLinkedRuntimes(t *testing.T) (a, b *transport.Runtime) {
	t.Helper()
	msgHub := newHub[transport.PublisherRecord]()
	svcHub := newHub[transport.ServicePublisherRecord]()

	a, err := transport.NewRuntime(context.Background(), msgHub.join(), svcHub.join(),
		transport.WithSlowJoinerDelay(0))
	if err != nil {
		t.Fatalf("NewRuntime a: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	b, err = transport.NewRuntime(context.Background(), msgHub.join(), svcHub.join(),
		transport.WithSlowJoinerDelay(0))
	if err != nil {
		t.Fatalf("NewRuntime b: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	return a, b
}
