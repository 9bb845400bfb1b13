package server

import (
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rjboer/rtltcpd/internal/hub"
	"github.com/rjboer/rtltcpd/internal/logging"
	"github.com/rjboer/rtltcpd/internal/rtltcp"
)

// State is the Client Connection's lifecycle state, per spec §4.4.
type State int

const (
	StateGreetingPending State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateGreetingPending:
		return "greeting-pending"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the per-accepted-TCP-connection state machine: it writes
// the fixed greeting, registers with the Broadcast Hub, then runs
// independent RX (command) and TX (sample) loops until either direction
// fails, at which point it drains — unregistering from the hub exactly
// once — and closes the socket.
type Session struct {
	ID   string
	conn net.Conn

	hub        *hub.Hub
	dispatcher *Dispatcher
	greeting   rtltcp.Greeting
	log        logging.Logger

	mu    sync.Mutex
	state State
	sub   *hub.Subscription

	drainOnce sync.Once
	doneCh    chan struct{} // closed once the session reaches StateClosed
}

// NewSession builds a Session for an accepted connection. greeting is the
// 12-byte payload to send (tuner/gain-count are fixed for the lifetime
// of the device, so the listener computes it once and passes it in).
func NewSession(conn net.Conn, h *hub.Hub, dispatcher *Dispatcher, greeting rtltcp.Greeting, log logging.Logger) *Session {
	if log == nil {
		log = logging.Default()
	}
	id := uuid.NewString()
	return &Session{
		ID:         id,
		conn:       conn,
		hub:        h,
		dispatcher: dispatcher,
		greeting:   greeting,
		log:        logging.Named(log, "session").With(logging.Field{Key: "session_id", Value: id}, logging.Field{Key: "remote", Value: conn.RemoteAddr().String()}),
		state:      StateGreetingPending,
		doneCh:     make(chan struct{}),
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has reached StateClosed, used by the
// listener to bound shutdown joins.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// RemoteAddr returns the remote endpoint of the underlying socket, used
// by the telemetry /api/sessions endpoint.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// QueueDepth returns the number of buffers currently queued for this
// session's TX loop, or 0 before registration.
func (s *Session) QueueDepth() int {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return 0
	}
	return sub.Depth()
}

// Dropped returns the cumulative slow-client-drop count for this
// session, or 0 before registration.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return 0
	}
	return sub.Dropped()
}

// Run drives the session to completion: greeting, registration, RX/TX
// loops, drain, close. It returns once the session reaches StateClosed.
func (s *Session) Run() {
	defer s.transitionToClosed()

	greetingBytes := s.greeting.Encode()
	if err := writeFull(s.conn, greetingBytes[:]); err != nil {
		s.log.Warn("greeting write failed", logging.Field{Key: "err", Value: err})
		return
	}

	s.setState(StateRunning)
	s.sub = s.hub.Register(s.ID)
	s.log.Debug("session registered")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.runTX()
	}()
	go func() {
		defer wg.Done()
		s.runRX()
	}()
	wg.Wait()

	s.drain()
}

// runTX dequeues buffers from the hub subscription and writes them to
// the socket in full, retrying short writes until drained or the socket
// errors. Sample bytes are written verbatim with no framing.
func (s *Session) runTX() {
	for {
		buf, ok := s.sub.Wait(s.doneCh)
		if !ok {
			return
		}
		if err := writeFull(s.conn, buf); err != nil {
			s.log.Debug("tx write failed", logging.Field{Key: "err", Value: err})
			s.drain()
			return
		}
	}
}

// runRX reads exact 5-byte command units and dispatches each. A clean
// EOF with zero bytes accumulated ends the loop quietly; any other read
// failure (including a short frame at EOF) is a protocol error and also
// ends the loop, moving the session to draining either way.
func (s *Session) runRX() {
	var frame [rtltcp.CommandSize]byte
	for {
		n, err := io.ReadFull(s.conn, frame[:])
		if err != nil {
			if err == io.EOF && n == 0 {
				s.log.Debug("client closed connection")
			} else {
				s.log.Debug("rx read failed", logging.Field{Key: "err", Value: err}, logging.Field{Key: "bytes", Value: n})
			}
			s.drain()
			return
		}
		s.dispatcher.Dispatch(rtltcp.DecodeFrame(frame))
	}
}

// drain unregisters from the hub and closes the socket exactly once,
// regardless of which direction (or both) triggered it.
func (s *Session) drain() {
	s.drainOnce.Do(func() {
		s.setState(StateDraining)
		s.hub.Unregister(s.sub)
		_ = s.conn.Close()
	})
}

func (s *Session) transitionToClosed() {
	s.drain()
	s.setState(StateClosed)
	s.log.Debug("session closed")
	close(s.doneCh)
}

// writeFull writes b in its entirety, retrying on short writes until the
// buffer is drained or the socket errors.
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

