// Package telemetry is a read-only, best-effort HTTP diagnostics surface
// for a running rtltcpd server. It never touches the sample or control
// path; it only observes it. The fan-out pattern — a mutex-guarded
// subscriber set of channels drained by an SSE handler, each send
// non-blocking — generalizes the retrieval pack's own telemetry hub,
// carrying forward its shape while replacing DSP-tracker content with
// server operational metrics.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rjboer/rtltcpd/internal/driver"
	"github.com/rjboer/rtltcpd/internal/hub"
	"github.com/rjboer/rtltcpd/internal/logging"
	"github.com/rjboer/rtltcpd/internal/radio"
	"gonum.org/v1/gonum/stat"
)

// RadioSource is the subset of *radio.Controller the hub observes.
type RadioSource interface {
	Snapshot() radio.Snapshot
}

// HubSource is the subset of *hub.Hub the diagnostics surface observes.
type HubSource interface {
	Stats() hub.Stats
}

// SessionInfo describes one live client connection for /api/sessions.
type SessionInfo struct {
	ID         string `json:"id"`
	RemoteAddr string `json:"remote_addr"`
	State      string `json:"state"`
	QueueDepth int    `json:"queue_depth"`
	Dropped    uint64 `json:"dropped"`
}

// SessionSource lists the currently live sessions for /api/sessions.
type SessionSource interface {
	Sessions() []SessionInfo
}

// Sources bundles the read-only views the diagnostics hub samples from.
// Any of the three may be nil, in which case the corresponding part of
// the diagnostics payload is reported as zero values.
type Sources struct {
	Radio    RadioSource
	Hub      HubSource
	Sessions SessionSource
}

// throughputSample is one point in the publish-rate history used to
// compute a running mean/stddev of producer throughput.
type throughputSample struct {
	at    time.Time
	bytes int64
}

// Diagnostics is the JSON payload served by GET /api/diagnostics.
type Diagnostics struct {
	Sessions            int             `json:"sessions"`
	TotalDropped        uint64          `json:"total_dropped"`
	BuffersProduced     int64           `json:"buffers_produced"`
	BytesProduced       int64           `json:"bytes_produced"`
	Parameters          driver.Parameters `json:"parameters"`
	Tuner               string          `json:"tuner"`
	ThroughputMeanBps   float64         `json:"throughput_mean_bytes_per_sec"`
	ThroughputStdDevBps float64         `json:"throughput_stddev_bytes_per_sec"`
}

// Hub periodically samples Sources and serves the results over HTTP. It
// keeps a short rolling window of throughput samples to compute a mean
// and standard deviation with gonum's stat package — a purely
// observational statistic with no feedback into control decisions.
type Hub struct {
	log     logging.Logger
	sources Sources

	mu          sync.RWMutex
	history     []throughputSample
	historyCap  int
	subscribers map[chan Diagnostics]struct{}
}

// NewHub builds a Hub sampling from sources, keeping up to historyCap
// throughput samples for the running mean/stddev computation.
func NewHub(sources Sources, historyCap int, log logging.Logger) *Hub {
	if historyCap <= 0 {
		historyCap = 60
	}
	if log == nil {
		log = logging.Default()
	}
	return &Hub{
		log:         logging.Named(log, "telemetry"),
		sources:     sources,
		historyCap:  historyCap,
		subscribers: make(map[chan Diagnostics]struct{}),
	}
}

// Run samples Sources every interval until stop fires, recording
// throughput history and notifying /api/live subscribers. It is safe to
// run Diagnostics()/Sessions() concurrently with Run.
func (h *Hub) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.sample()
		}
	}
}

func (h *Hub) sample() {
	diag := h.Diagnostics()

	h.mu.Lock()
	h.history = append(h.history, throughputSample{at: time.Now(), bytes: diag.BytesProduced})
	if len(h.history) > h.historyCap {
		h.history = h.history[len(h.history)-h.historyCap:]
	}
	h.mu.Unlock()

	h.mu.RLock()
	for ch := range h.subscribers {
		select {
		case ch <- diag:
		default:
		}
	}
	h.mu.RUnlock()
}

// Diagnostics returns a fresh snapshot of Sources plus the current
// running throughput statistics.
func (h *Hub) Diagnostics() Diagnostics {
	var snap radio.Snapshot
	if h.sources.Radio != nil {
		snap = h.sources.Radio.Snapshot()
	}
	var hstats hub.Stats
	if h.sources.Hub != nil {
		hstats = h.sources.Hub.Stats()
	}
	mean, stddev := h.throughputStats()
	return Diagnostics{
		Sessions:            hstats.Sessions,
		TotalDropped:        hstats.TotalDropped,
		BuffersProduced:     snap.BuffersProduced,
		BytesProduced:       snap.BytesProduced,
		Parameters:          snap.Parameters,
		Tuner:               snap.Tuner.String(),
		ThroughputMeanBps:   mean,
		ThroughputStdDevBps: stddev,
	}
}

// throughputStats computes a mean/stddev of bytes-per-second across
// consecutive history samples using gonum's stat.MeanStdDev.
func (h *Hub) throughputStats() (mean, stddev float64) {
	h.mu.RLock()
	hist := append([]throughputSample(nil), h.history...)
	h.mu.RUnlock()

	if len(hist) < 2 {
		return 0, 0
	}
	rates := make([]float64, 0, len(hist)-1)
	for i := 1; i < len(hist); i++ {
		dt := hist[i].at.Sub(hist[i-1].at).Seconds()
		if dt <= 0 {
			continue
		}
		rates = append(rates, float64(hist[i].bytes-hist[i-1].bytes)/dt)
	}
	if len(rates) == 0 {
		return 0, 0
	}
	return stat.MeanStdDev(rates, nil)
}

// Sessions returns the live session list for /api/sessions.
func (h *Hub) Sessions() []SessionInfo {
	if h.sources.Sessions == nil {
		return nil
	}
	return h.sources.Sessions.Sessions()
}

// subscribe registers a channel for /api/live and returns an unsubscribe
// function.
func (h *Hub) subscribe() (chan Diagnostics, func()) {
	ch := make(chan Diagnostics, 4)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
}

func (h *Hub) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Diagnostics())
}

func (h *Hub) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Sessions())
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.subscribe()
	defer cancel()

	payload, _ := json.Marshal(h.Diagnostics())
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	flusher.Flush()

	for {
		select {
		case diag, ok := <-ch:
			if !ok {
				return
			}
			payload, _ := json.Marshal(diag)
			w.Write([]byte("data: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
