package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rjboer/rtltcpd/internal/driver"
	"github.com/rjboer/rtltcpd/internal/hub"
	"github.com/rjboer/rtltcpd/internal/rtltcp"
)

func dialLoopback(t *testing.T, l *Listener) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp4", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func startTestListener(t *testing.T, h *hub.Hub, ctl Controller) *Listener {
	t.Helper()
	d := NewDispatcher(ctl, silentLogger())
	greeting := rtltcp.Greeting{Tuner: driver.TunerR820T, GainCount: 29}
	l := New("127.0.0.1:0", h, d, greeting, silentLogger())

	serveErr := make(chan error, 1)
	go func() { serveErr <- l.Serve() }()

	deadline := time.After(time.Second)
	for l.Addr() == nil {
		select {
		case <-deadline:
			t.Fatal("listener never bound")
		case <-time.After(time.Millisecond):
		}
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
		<-serveErr
	})
	return l
}

// TestGreetingBytesMatchScenarioS1 exercises the S1 scenario from the
// specification: a freshly accepted connection receives the exact
// 12-byte greeting before anything else.
func TestGreetingBytesMatchScenarioS1(t *testing.T) {
	h := hub.New(8)
	l := startTestListener(t, h, newFakeController())
	conn := dialLoopback(t, l)

	var got [rtltcp.GreetingSize]byte
	if _, err := io.ReadFull(conn, got[:]); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	want := [rtltcp.GreetingSize]byte{
		0x52, 0x54, 0x4C, 0x30,
		0x00, 0x00, 0x00, 0x05,
		0x00, 0x00, 0x00, 0x1D,
	}
	if got != want {
		t.Fatalf("greeting = % X, want % X", got, want)
	}
}

// TestCommandEffectReachesControllerScenarioS2 sends one command frame
// and verifies the dispatcher routes it to the controller with the
// correctly decoded parameter.
func TestCommandEffectReachesControllerScenarioS2(t *testing.T) {
	h := hub.New(8)
	ctl := newFakeController()
	l := startTestListener(t, h, ctl)
	conn := dialLoopback(t, l)

	var greeting [rtltcp.GreetingSize]byte
	if _, err := io.ReadFull(conn, greeting[:]); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	frame := rtltcp.Frame{Code: rtltcp.CmdSetCenterFreq, Param: 100_000_000}
	encoded := frame.Encode()
	if _, err := conn.Write(encoded[:]); err != nil {
		t.Fatalf("write command: %v", err)
	}

	deadline := time.After(time.Second)
	for ctl.calls["SetCenterFreq"] == nil {
		select {
		case <-deadline:
			t.Fatal("SetCenterFreq never reached the controller")
		case <-time.After(time.Millisecond):
		}
	}
	if ctl.calls["SetCenterFreq"] != uint64(100_000_000) {
		t.Fatalf("SetCenterFreq = %v, want 100000000", ctl.calls["SetCenterFreq"])
	}
}

// TestMultiClientBackpressureScenarioS4 registers two clients against
// the same hub, leaves one of them unread, and confirms the publishing
// side never blocks and the reading client still receives sample bytes.
func TestMultiClientBackpressureScenarioS4(t *testing.T) {
	h := hub.New(4)
	l := startTestListener(t, h, newFakeController())

	fast := dialLoopback(t, l)
	slow := dialLoopback(t, l)

	var g [rtltcp.GreetingSize]byte
	if _, err := io.ReadFull(fast, g[:]); err != nil {
		t.Fatalf("fast greeting: %v", err)
	}
	if _, err := io.ReadFull(slow, g[:]); err != nil {
		t.Fatalf("slow greeting: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			h.Publish(make([]byte, 16))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Publish blocked, slow client stalled the broadcast hub")
	}

	buf := make([]byte, 16)
	for i := 0; i < 4; i++ {
		_ = fast.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := io.ReadFull(fast, buf); err != nil {
			t.Fatalf("fast client read %d: %v", i, err)
		}
	}
}

// TestShutdownDrainsLiveSessionsScenarioS5 verifies Shutdown returns
// within its deadline, Serve exits cleanly, and the in-flight session's
// socket is closed from the server side (the client reads EOF).
func TestShutdownDrainsLiveSessionsScenarioS5(t *testing.T) {
	h := hub.New(8)
	d := NewDispatcher(newFakeController(), silentLogger())
	greeting := rtltcp.Greeting{Tuner: driver.TunerR820T, GainCount: 29}
	l := New("127.0.0.1:0", h, d, greeting, silentLogger())

	serveErr := make(chan error, 1)
	go func() { serveErr <- l.Serve() }()
	deadline := time.After(time.Second)
	for l.Addr() == nil {
		select {
		case <-deadline:
			t.Fatal("listener never bound")
		case <-time.After(time.Millisecond):
		}
	}

	conn, err := net.Dial("tcp4", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var g [rtltcp.GreetingSize]byte
	if _, err := io.ReadFull(conn, g[:]); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-serveErr; err != nil {
		t.Fatalf("Serve returned error after shutdown: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected server to close socket, read err=%v", err)
	}
}

// TestUnknownCommandCodeIgnoredScenarioS6 confirms a session processing
// an unrecognized command keeps running and does not mutate the
// controller or drop the connection.
func TestUnknownCommandCodeIgnoredScenarioS6(t *testing.T) {
	h := hub.New(8)
	ctl := newFakeController()
	l := startTestListener(t, h, ctl)
	conn := dialLoopback(t, l)

	var g [rtltcp.GreetingSize]byte
	if _, err := io.ReadFull(conn, g[:]); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	unknown := [rtltcp.CommandSize]byte{0xFF, 0, 0, 0, 0}
	if _, err := conn.Write(unknown[:]); err != nil {
		t.Fatalf("write unknown command: %v", err)
	}

	known := rtltcp.Frame{Code: rtltcp.CmdSetBiasTee, Param: 1}
	encoded := known.Encode()
	if _, err := conn.Write(encoded[:]); err != nil {
		t.Fatalf("write known command: %v", err)
	}

	deadline := time.After(time.Second)
	for ctl.calls["SetBiasTee"] == nil {
		select {
		case <-deadline:
			t.Fatal("connection did not survive the unknown command")
		case <-time.After(time.Millisecond):
		}
	}
	if len(ctl.calls) != 1 {
		t.Fatalf("expected only SetBiasTee recorded, got %+v", ctl.calls)
	}
}

// TestSampleOrderingEndToEndScenario exercises spec.md §8 property 2: a
// single client reading against a mock driver that emits a monotonic
// 32-bit little-endian counter must see the bytes arrive, through the
// real producer→hub→session→socket path, as a strictly increasing
// sequence with no torn buffers. Unlike TestMultiClientBackpressureScenarioS4
// (which publishes identical zero-filled buffers and so cannot detect
// reordering), this drives an actual driver.Mock configured with
// PatternCounter through a real Listener.
func TestSampleOrderingEndToEndScenario(t *testing.T) {
	h := hub.New(64)
	l := startTestListener(t, h, newFakeController())
	conn := dialLoopback(t, l)

	var g [rtltcp.GreetingSize]byte
	if _, err := io.ReadFull(conn, g[:]); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	mock := driver.NewMock(driver.TunerR820T, []int32{0, 9, 14}, 64, time.Millisecond)
	mock.SetPattern(driver.PatternCounter)

	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		_ = mock.ReadUntilCancelled(driver.Handle{}, h.Publish)
	}()
	t.Cleanup(func() {
		mock.Cancel(driver.Handle{})
		<-producerDone
	})

	const wantSamples = 256
	raw := make([]byte, wantSamples*4)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(conn, raw); err != nil {
		t.Fatalf("read sample stream: %v", err)
	}

	var prev uint32
	for i := 0; i < wantSamples; i++ {
		v := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		if i > 0 && v != prev+1 {
			t.Fatalf("sample stream not strictly increasing at index %d: got %d, want %d", i, v, prev+1)
		}
		prev = v
	}
}

// TestDisconnectCleanupScenario exercises spec.md §8 property 8: once a
// real client connection closes, the hub's registered set shrinks by
// exactly one and the listener's active-session set no longer reports it,
// driven through the actual Session lifecycle rather than direct
// Hub.Register/Unregister calls.
func TestDisconnectCleanupScenario(t *testing.T) {
	h := hub.New(8)
	l := startTestListener(t, h, newFakeController())

	conn := net.Conn(nil)
	func() {
		c, err := net.Dial("tcp4", l.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		conn = c
	}()

	var g [rtltcp.GreetingSize]byte
	if _, err := io.ReadFull(conn, g[:]); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	deadline := time.After(time.Second)
	for h.Stats().Sessions != 1 {
		select {
		case <-deadline:
			t.Fatal("session never registered with the hub")
		case <-time.After(time.Millisecond):
		}
	}
	if len(l.ActiveSessions()) != 1 {
		t.Fatalf("expected 1 active session before disconnect, got %d", len(l.ActiveSessions()))
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("close client conn: %v", err)
	}

	deadline = time.After(time.Second)
	for h.Stats().Sessions != 0 {
		select {
		case <-deadline:
			t.Fatalf("hub still reports %d sessions after client disconnect", h.Stats().Sessions)
		case <-time.After(time.Millisecond):
		}
	}
	for len(l.ActiveSessions()) != 0 {
		select {
		case <-deadline:
			t.Fatalf("listener still reports %d active sessions after client disconnect", len(l.ActiveSessions()))
		case <-time.After(time.Millisecond):
		}
	}
}
