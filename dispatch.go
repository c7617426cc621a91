package transport

import (
	"go.uber.org/zap"

	itransport "github.com/meshgrid/transport/internal/transport"
	"github.com/meshgrid/transport/internal/wire"
)

// startDispatch launches reception: one blocking-Accept loop per listening
// socket role, each spawning a per-connection reader goroutine. This
// generalizes chirp/peer.go's single "for { pkt, err := p.in.Recv() ...}"
// loop from one channel to the four listeners a Runtime owns; every
// goroutine this spawns — accept loops and per-connection readers alike —
// runs under the same task group, so Close's closeSockets-then-Wait joins
// all of them once the listeners it closes unblock each Accept with an
// error, exactly as chirp.Peer.Wait joins its one receive goroutine on
// closeOut.
func (rt *Runtime) startDispatch() {
	rt.tasks.Go(rt.acceptPublisherConns)
	rt.tasks.Go(rt.acceptControlConns)
	rt.tasks.Go(rt.acceptReplierConns)
}

func (rt *Runtime) acceptPublisherConns() error {
	for {
		conn, err := rt.pub.Accept()
		if err != nil {
			return nil // listener closed during teardown
		}
		rt.tasks.Go(func() error {
			rt.serveSubscriberFilter(conn)
			return nil
		})
	}
}

// serveSubscriberFilter reads the credential (if configured) and filter
// frames a newly connected subscriber sends, installs the filter, and then
// blocks on further reads purely to detect when the connection closes so the
// publisher can drop it from its fan-out set.
func (rt *Runtime) serveSubscriberFilter(conn *itransport.Conn) {
	if rt.cfg.AuthEnabled() {
		env, err := conn.Recv()
		if err != nil || env.Kind != wire.KindCredential {
			rt.pub.Drop(conn)
			return
		}
		var cred wire.Credential
		if err := cred.Decode(env.Body); err != nil || cred.Username != rt.cfg.Username || cred.Password != rt.cfg.Password {
			rt.log.Warn("rejecting subscriber: bad credentials")
			rt.pub.Drop(conn)
			return
		}
	}

	env, err := conn.Recv()
	if err != nil || env.Kind != wire.KindControl {
		rt.pub.Drop(conn)
		return
	}
	filter, err := itransport.ParseFilter(env)
	if err != nil {
		rt.pub.Drop(conn)
		return
	}
	rt.pub.SetFilter(conn, filter)

	for {
		if _, err := conn.Recv(); err != nil {
			rt.pub.Drop(conn)
			return
		}
	}
}

func (rt *Runtime) acceptControlConns() error {
	for {
		conn, err := rt.ctrl.Accept()
		if err != nil {
			return nil
		}
		rt.tasks.Go(func() error {
			rt.serveControlConn(conn)
			return nil
		})
	}
}

func (rt *Runtime) serveControlConn(conn *itransport.Conn) {
	for {
		env, err := conn.Recv()
		if err != nil {
			rt.ctrl.Drop(conn)
			return
		}
		if env.Kind != wire.KindControl {
			continue
		}
		var ctl wire.Control
		if err := ctl.Decode(env.Body); err != nil {
			rt.log.Debug("discarding malformed control frame", zap.Error(err))
			continue
		}
		rt.mx.controlReceived.Add(1)
		rt.log.Debug("control notice",
			zap.String("topic", ctl.Topic),
			zap.String("process", ctl.ProcessID),
			zap.String("event", string(ctl.Event)))
	}
}

func (rt *Runtime) acceptReplierConns() error {
	for {
		conn, err := rt.rep.Accept()
		if err != nil {
			return nil
		}
		rt.tasks.Go(func() error {
			rt.serveReplierConn(conn)
			return nil
		})
	}
}

func (rt *Runtime) serveReplierConn(conn *itransport.Conn) {
	var registered string
	defer func() {
		if registered != "" {
			rt.rep.Unregister(registered)
		}
	}()
	for {
		env, err := conn.Recv()
		if err != nil {
			return
		}
		if env.Kind != wire.KindRequest {
			continue
		}
		if id := rt.handleIncomingRequest(conn, env.Body); id != "" {
			registered = id
		}
	}
}
