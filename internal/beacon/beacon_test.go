package beacon_test

import (
	"context"
	"sync"
	"testing"
	"time"

	transport "github.com/meshgrid/transport"
	"github.com/meshgrid/transport/internal/beacon"
)

// nextPort picks a distinct loopback UDP port per test so parallel test
// binaries on the same machine never collide on a fixed well-known port.
var portCounter = struct {
	mu sync.Mutex
	n  int
}{n: 30101}

func nextPort() int {
	portCounter.mu.Lock()
	defer portCounter.mu.Unlock()
	portCounter.n++
	return portCounter.n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true before timeout")
}

func TestBeaconAdvertiseDiscover(t *testing.T) {
	port := nextPort()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := beacon.New[transport.PublisherRecord](port, beacon.WithHeartbeat[transport.PublisherRecord](50*time.Millisecond))
	b := beacon.New[transport.PublisherRecord](port, beacon.WithHeartbeat[transport.PublisherRecord](50*time.Millisecond))
	if err := a.Start(ctx); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	defer a.Stop()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	defer b.Stop()

	var mu sync.Mutex
	var seen []transport.PublisherRecord
	b.OnConnection(func(rec transport.PublisherRecord) {
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()
	})

	rec := transport.PublisherRecord{
		Topic:        "@@ns/leaf",
		DataEndpoint: "127.0.0.1:9000",
		ProcessID:    "proc-a",
		NodeID:       "node-a",
		MsgType:      "example.Widget",
	}
	if err := a.Advertise(rec); err != nil {
		t.Fatalf("Advertise: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	})

	mu.Lock()
	got := seen[0]
	mu.Unlock()
	if got != rec {
		t.Errorf("discovered record = %+v, want %+v", got, rec)
	}

	pubs := b.Publishers("@@ns/leaf")
	if len(pubs["proc-a"]) != 1 || pubs["proc-a"][0] != rec {
		t.Errorf("Publishers() = %+v, want one entry matching %+v", pubs, rec)
	}
}

func TestBeaconHeartbeatDoesNotRefireOnConnection(t *testing.T) {
	port := nextPort()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := beacon.New[transport.PublisherRecord](port, beacon.WithHeartbeat[transport.PublisherRecord](30*time.Millisecond))
	b := beacon.New[transport.PublisherRecord](port, beacon.WithHeartbeat[transport.PublisherRecord](30*time.Millisecond))
	a.Start(ctx)
	defer a.Stop()
	b.Start(ctx)
	defer b.Stop()

	var mu sync.Mutex
	count := 0
	b.OnConnection(func(transport.PublisherRecord) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	rec := transport.PublisherRecord{Topic: "@@ns/leaf", ProcessID: "proc-a", NodeID: "node-a"}
	a.Advertise(rec)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count > 0
	})

	// Let several heartbeats pass; the dedup cache must suppress repeat
	// OnConnection firings for the same fingerprint.
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	got := count
	mu.Unlock()
	if got != 1 {
		t.Errorf("OnConnection fired %d times across several heartbeats, want 1", got)
	}
}

func TestBeaconSweepFiresDisconnection(t *testing.T) {
	port := nextPort()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := beacon.New[transport.PublisherRecord](port,
		beacon.WithHeartbeat[transport.PublisherRecord](20*time.Millisecond),
		beacon.WithStaleAfter[transport.PublisherRecord](60*time.Millisecond))
	b := beacon.New[transport.PublisherRecord](port,
		beacon.WithHeartbeat[transport.PublisherRecord](20*time.Millisecond),
		beacon.WithStaleAfter[transport.PublisherRecord](60*time.Millisecond))
	a.Start(ctx)
	b.Start(ctx)
	defer b.Stop()

	var mu sync.Mutex
	var disconnected []transport.PublisherRecord
	var wholeProcess []bool
	b.OnDisconnection(func(rec transport.PublisherRecord, whole bool) {
		mu.Lock()
		disconnected = append(disconnected, rec)
		wholeProcess = append(wholeProcess, whole)
		mu.Unlock()
	})

	rec := transport.PublisherRecord{Topic: "@@ns/leaf", ProcessID: "proc-a", NodeID: "node-a"}
	a.Advertise(rec)

	waitFor(t, 2*time.Second, func() bool {
		return len(b.Publishers("@@ns/leaf")) > 0
	})

	a.Stop() // heartbeats cease; b's sweep must eventually evict the entry

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(disconnected) > 0
	})

	if len(b.Publishers("@@ns/leaf")) != 0 {
		t.Error("Publishers() still reports the stale record after sweep eviction")
	}

	// proc-a had exactly one advertised record, and it's the one that just
	// expired, so the sweep must report this as a whole-process disconnect.
	mu.Lock()
	defer mu.Unlock()
	if len(wholeProcess) == 0 || !wholeProcess[0] {
		t.Errorf("OnDisconnection wholeProcess = %v, want [true, ...] since proc-a has no other live records", wholeProcess)
	}
}

func TestBeaconWithdrawReportsPartialProcessDisconnect(t *testing.T) {
	port := nextPort()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := beacon.New[transport.PublisherRecord](port,
		beacon.WithHeartbeat[transport.PublisherRecord](20*time.Millisecond),
		beacon.WithStaleAfter[transport.PublisherRecord](60*time.Millisecond))
	b := beacon.New[transport.PublisherRecord](port,
		beacon.WithHeartbeat[transport.PublisherRecord](20*time.Millisecond),
		beacon.WithStaleAfter[transport.PublisherRecord](60*time.Millisecond))
	a.Start(ctx)
	defer a.Stop()
	b.Start(ctx)
	defer b.Stop()

	stale := transport.PublisherRecord{Topic: "@@ns/stale", ProcessID: "proc-a", NodeID: "node-a"}
	live := transport.PublisherRecord{Topic: "@@ns/live", ProcessID: "proc-a", NodeID: "node-a"}
	a.Advertise(stale)
	a.Advertise(live)

	waitFor(t, 2*time.Second, func() bool {
		return len(b.Publishers("@@ns/stale")) > 0 && len(b.Publishers("@@ns/live")) > 0
	})

	// Withdraw only the stale record; proc-a keeps heartbeating live, so its
	// disconnection must never be reported as whole-process.
	if err := a.Unadvertise("@@ns/stale"); err != nil {
		t.Fatalf("Unadvertise: %v", err)
	}

	var mu sync.Mutex
	var wholeProcess []bool
	b.OnDisconnection(func(_ transport.PublisherRecord, whole bool) {
		mu.Lock()
		wholeProcess = append(wholeProcess, whole)
		mu.Unlock()
	})

	waitFor(t, 2*time.Second, func() bool {
		return len(b.Publishers("@@ns/stale")) == 0
	})

	mu.Lock()
	defer mu.Unlock()
	for _, whole := range wholeProcess {
		if whole {
			t.Error("explicit single-topic Unadvertise reported as a whole-process disconnect")
		}
	}
	if len(b.Publishers("@@ns/live")) == 0 {
		t.Error("unrelated live record for the same process was purged by the stale-topic withdraw")
	}
}

func TestBeaconUnadvertiseWithdraws(t *testing.T) {
	port := nextPort()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := beacon.New[transport.PublisherRecord](port, beacon.WithHeartbeat[transport.PublisherRecord](30*time.Millisecond))
	b := beacon.New[transport.PublisherRecord](port, beacon.WithHeartbeat[transport.PublisherRecord](30*time.Millisecond))
	a.Start(ctx)
	defer a.Stop()
	b.Start(ctx)
	defer b.Stop()

	rec := transport.PublisherRecord{Topic: "@@ns/leaf", ProcessID: "proc-a", NodeID: "node-a"}
	a.Advertise(rec)

	waitFor(t, 2*time.Second, func() bool {
		return len(b.Publishers("@@ns/leaf")) > 0
	})

	if err := a.Unadvertise("@@ns/leaf"); err != nil {
		t.Fatalf("Unadvertise: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(b.Publishers("@@ns/leaf")) == 0
	})
}
