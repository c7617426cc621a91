package transport_test

import (
	"net"
	"testing"
	"time"

	"github.com/meshgrid/transport/internal/transport"
	"github.com/meshgrid/transport/internal/wire"
)

// pipe returns two Conns wired together over a real loopback TCP connection,
// both pre-armed so tests never wait on the slow-joiner gate.
func pipe(t *testing.T) (a, b *transport.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatal("Accept failed")
	}

	a = transport.NewConn(dialed, dialed.RemoteAddr().String())
	b = transport.NewConn(server, server.RemoteAddr().String())
	a.Arm()
	b.Arm()
	return a, b
}

func TestConnSendRecv(t *testing.T) {
	a, b := pipe(t)
	defer a.Close()
	defer b.Close()

	env := &wire.Envelope{Kind: wire.KindPublish, Body: []byte("hello")}
	if err := a.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := b.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Kind != env.Kind || string(got.Body) != string(env.Body) {
		t.Errorf("Recv = %+v, want %+v", got, env)
	}
}

func TestConnCloseUnblocksRecv(t *testing.T) {
	a, b := pipe(t)
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		_, err := b.Recv()
		done <- err
	}()

	b.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Error("Recv returned nil error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}

func TestConnArmAfter(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()
	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server := <-accepted
	defer server.Close()

	a := transport.NewConn(dialed, dialed.RemoteAddr().String())
	defer a.Close()

	a.ArmAfter(30 * time.Millisecond)
	if a.Armed() {
		t.Fatal("conn reports armed immediately after ArmAfter with a positive delay")
	}
	a.WaitArmed(5 * time.Millisecond)
	if !a.Armed() {
		t.Fatal("WaitArmed returned before the conn became armed")
	}
}

func TestConnArmAfterZeroArmsImmediately(t *testing.T) {
	a, b := pipe(t)
	defer a.Close()
	defer b.Close()

	a.ArmAfter(0)
	if !a.Armed() {
		t.Fatal("ArmAfter(0) did not arm immediately")
	}
}

func TestSetAddHasRemove(t *testing.T) {
	s := transport.NewSet()

	if s.Has("x") {
		t.Fatal("Has reported true on empty set")
	}
	if !s.Add("x") {
		t.Fatal("Add reported false for a new endpoint")
	}
	if s.Add("x") {
		t.Fatal("Add reported true for an endpoint already present")
	}
	if !s.Has("x") {
		t.Fatal("Has reported false after Add")
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	s.Remove("x")
	if s.Has("x") {
		t.Fatal("Has reported true after Remove")
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("Len() = %d after Remove, want 0", got)
	}
}
