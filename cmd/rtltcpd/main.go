// Command rtltcpd serves one locally attached SDR device to any number
// of rtl_tcp-compatible TCP clients. See SPEC_FULL.md for the full
// design; this file only wires the packages together and maps fatal
// startup errors to distinct process exit codes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjboer/rtltcpd/internal/config"
	"github.com/rjboer/rtltcpd/internal/discovery"
	"github.com/rjboer/rtltcpd/internal/driver"
	"github.com/rjboer/rtltcpd/internal/hub"
	"github.com/rjboer/rtltcpd/internal/logging"
	"github.com/rjboer/rtltcpd/internal/radio"
	"github.com/rjboer/rtltcpd/internal/rtltcp"
	"github.com/rjboer/rtltcpd/internal/server"
	"github.com/rjboer/rtltcpd/internal/telemetry"
)

// Exit codes for fatal startup errors, assigned before any client is
// accepted, per spec.md §7.
const (
	exitOK               = 0
	exitNoDevice         = 10
	exitSerialNotFound   = 11
	exitOpenFailed       = 12
	exitNativeLibMissing = 13
	exitArchMismatch     = 14
	exitUnknownBackend   = 15
	exitListenFailed     = 16
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Getenv))
}

func run(args []string, out io.Writer, getenv func(string) string) int {
	base, err := config.LoadOrCreate("rtltcpd.json")
	if err != nil {
		fmt.Fprintf(out, "config: %v\n", err)
		return exitListenFailed
	}
	cfg, err := config.Parse(args, getenv, base)
	if err != nil {
		fmt.Fprintf(out, "config: %v\n", err)
		return exitListenFailed
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logging.Info
	}
	format, err := logging.ParseFormat(cfg.LogFormat)
	if err != nil {
		format = logging.Text
	}
	log := logging.New(level, format, out)
	logging.SetDefault(log)

	drv, err := selectBackend(cfg.Backend)
	if err != nil {
		log.Error("unknown backend", logging.Field{Key: "backend", Value: cfg.Backend})
		return exitUnknownBackend
	}

	h := hub.New(4)
	ctl := radio.New(drv, h, log)
	startCfg := radio.StartConfig{
		Serial:       cfg.Serial,
		CenterFreqHz: cfg.DefaultFreqHz,
		SampleRateHz: cfg.DefaultSampleRateHz,
	}
	if err := ctl.Start(startCfg); err != nil {
		log.Error("controller start failed", logging.Field{Key: "err", Value: err})
		return exitCodeForStartError(err)
	}

	snap := ctl.Snapshot()
	greeting := rtltcp.Greeting{Tuner: snap.Tuner, GainCount: uint32(len(snap.SupportedGains))}
	dispatcher := server.NewDispatcher(ctl, log)
	listener := server.New(fmt.Sprintf(":%d", cfg.Port), h, dispatcher, greeting, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var adv *discovery.Advertiser
	if cfg.MDNSServiceName != "" {
		adv = discovery.New(log)
		adv.Start(cfg.MDNSServiceName, cfg.Port)
	}

	telemetryHub := telemetry.NewHub(telemetry.Sources{
		Radio:    ctl,
		Hub:      h,
		Sessions: sessionSource{listener},
	}, 120, log)
	go telemetryHub.Run(ctx.Done(), time.Second)
	go telemetry.NewStdoutReporter(telemetryHub, log).Run(ctx.Done(), 30*time.Second)
	if cfg.TelemetryAddr != "" {
		go telemetry.NewWebServer(cfg.TelemetryAddr, telemetryHub, log).Start(ctx)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- listener.Serve() }()

	log.Info("rtltcpd started", logging.Field{Key: "port", Value: cfg.Port},
		logging.Field{Key: "backend", Value: cfg.Backend})

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("listener exited", logging.Field{Key: "err", Value: err})
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := listener.Shutdown(shutdownCtx); err != nil {
		log.Warn("listener shutdown", logging.Field{Key: "err", Value: err})
	}
	if adv != nil {
		adv.Stop()
	}
	if err := ctl.Stop(shutdownCtx); err != nil {
		log.Warn("controller stop", logging.Field{Key: "err", Value: err})
	}
	log.Info("rtltcpd stopped")
	return exitOK
}

// sessionSource adapts *server.Listener to telemetry.SessionSource.
type sessionSource struct{ l *server.Listener }

func (s sessionSource) Sessions() []telemetry.SessionInfo {
	active := s.l.ActiveSessions()
	out := make([]telemetry.SessionInfo, 0, len(active))
	for _, sess := range active {
		out = append(out, telemetry.SessionInfo{
			ID:         sess.ID,
			RemoteAddr: sess.RemoteAddr(),
			State:      sess.State().String(),
			QueueDepth: sess.QueueDepth(),
			Dropped:    sess.Dropped(),
		})
	}
	return out
}

func selectBackend(name string) (driver.Driver, error) {
	if name == "" || name == "mock" {
		return driver.NewMock(driver.TunerR820T, defaultGainTable(), 0, 0), nil
	}
	factory, ok := driver.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("rtltcpd: unknown driver backend %q", name)
	}
	return factory(), nil
}

// defaultGainTable mirrors the 29-entry R820T table used by the
// reference rtl_tcp server, in tenths of a dB.
func defaultGainTable() []int32 {
	return []int32{
		0, 9, 14, 27, 37, 77, 87, 125, 144, 157,
		166, 197, 207, 229, 254, 280, 297, 328, 338, 364,
		372, 386, 402, 421, 434, 439, 445, 480, 496,
	}
}

func exitCodeForStartError(err error) int {
	switch {
	case errors.Is(err, driver.ErrNoDeviceFound):
		return exitNoDevice
	case errors.Is(err, driver.ErrSerialNotFound):
		return exitSerialNotFound
	case errors.Is(err, driver.ErrOpenFailed):
		return exitOpenFailed
	case errors.Is(err, driver.ErrNativeLibraryMissing):
		return exitNativeLibMissing
	case errors.Is(err, driver.ErrArchMismatch):
		return exitArchMismatch
	default:
		return exitOpenFailed
	}
}
