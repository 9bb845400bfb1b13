package telemetry

import (
	"time"

	"github.com/rjboer/rtltcpd/internal/logging"
)

// StdoutReporter periodically logs a Diagnostics snapshot through
// internal/logging, for deployments that run without the HTTP surface.
type StdoutReporter struct {
	hub *Hub
	log logging.Logger
}

// NewStdoutReporter builds a reporter sampling hub.
func NewStdoutReporter(hub *Hub, log logging.Logger) StdoutReporter {
	if log == nil {
		log = logging.Default()
	}
	return StdoutReporter{hub: hub, log: logging.Named(log, "telemetry-stdout")}
}

// Run logs one diagnostics line every interval until stop fires.
func (r StdoutReporter) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d := r.hub.Diagnostics()
			r.log.Info("diagnostics",
				logging.Field{Key: "sessions", Value: d.Sessions},
				logging.Field{Key: "total_dropped", Value: d.TotalDropped},
				logging.Field{Key: "buffers_produced", Value: d.BuffersProduced},
				logging.Field{Key: "bytes_produced", Value: d.BytesProduced},
				logging.Field{Key: "throughput_mean_bps", Value: d.ThroughputMeanBps})
		}
	}
}
