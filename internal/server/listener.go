package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rjboer/rtltcpd/internal/hub"
	"github.com/rjboer/rtltcpd/internal/logging"
	"github.com/rjboer/rtltcpd/internal/rtltcp"
)

// DefaultPort is the rtl_tcp-compatible default listen port.
const DefaultPort = 1234

// Listener binds an IPv4 listening socket, accepts connections, and
// turns each into a Session registered with the Broadcast Hub. Shutdown
// stops accepting first, then signals every live session to drain and
// waits for them, bounded by a timeout.
type Listener struct {
	addr       string
	hub        *hub.Hub
	dispatcher *Dispatcher
	greeting   rtltcp.Greeting
	log        logging.Logger

	mu       sync.Mutex
	ln       net.Listener
	sessions map[*Session]struct{}
	closing  bool
}

// New builds a Listener for addr (host:port, e.g. "0.0.0.0:1234"). addr
// is used as given; New does not fill in DefaultPort.
func New(addr string, h *hub.Hub, dispatcher *Dispatcher, greeting rtltcp.Greeting, log logging.Logger) *Listener {
	if log == nil {
		log = logging.Default()
	}
	return &Listener{
		addr:       addr,
		hub:        h,
		dispatcher: dispatcher,
		greeting:   greeting,
		log:        logging.Named(log, "listener"),
		sessions:   make(map[*Session]struct{}),
	}
}

// Serve binds the listening socket and runs the accept loop until
// Shutdown closes it. It returns nil once the listener has been closed
// as part of an orderly shutdown, and a non-nil error for any other
// failure to bind or accept.
func (l *Listener) Serve() error {
	ln, err := net.Listen("tcp4", l.addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.log.Info("listening", logging.Field{Key: "addr", Value: ln.Addr().String()})

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closing := l.closing
			l.mu.Unlock()
			if closing {
				// Accept errors caused by the listener being closed
				// during shutdown are swallowed per spec §4.5/§7.
				return nil
			}
			l.log.Warn("accept failed", logging.Field{Key: "err", Value: err})
			continue
		}
		l.spawn(conn)
	}
}

// Addr returns the bound listen address; only valid after Serve has
// started. Useful for tests that bind to ":0".
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) spawn(conn net.Conn) {
	sess := NewSession(conn, l.hub, l.dispatcher, l.greeting, l.log)
	l.mu.Lock()
	l.sessions[sess] = struct{}{}
	l.mu.Unlock()

	go func() {
		sess.Run()
		l.mu.Lock()
		delete(l.sessions, sess)
		l.mu.Unlock()
	}()
}

// Shutdown stops accepting new connections, drains every live session
// (which unregisters it and closes its socket), and waits for them to
// reach StateClosed, bounded by ctx. Sessions that have not finished when
// ctx is done are logged and no longer waited for.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closing = true
	var closeErr error
	if l.ln != nil {
		closeErr = l.ln.Close()
	}
	live := make([]*Session, 0, len(l.sessions))
	for sess := range l.sessions {
		live = append(live, sess)
	}
	l.mu.Unlock()

	for _, sess := range live {
		sess.drain()
	}

	for _, sess := range live {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			l.log.Warn("session drain timed out, not waiting for it", logging.Field{Key: "session_id", Value: sess.ID})
		}
	}

	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return closeErr
	}
	return nil
}

// ActiveSessions returns a snapshot of currently registered sessions,
// used by the telemetry diagnostics endpoint.
func (l *Listener) ActiveSessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Session, 0, len(l.sessions))
	for sess := range l.sessions {
		out = append(out, sess)
	}
	return out
}

// waitAllDone blocks until every currently-tracked session has reached
// StateClosed or the timeout elapses. Exposed for tests that want a
// deterministic join without driving a full Shutdown.
func (l *Listener) waitAllDone(timeout time.Duration) {
	deadline := time.After(timeout)
	for _, sess := range l.ActiveSessions() {
		select {
		case <-sess.Done():
		case <-deadline:
			return
		}
	}
}
