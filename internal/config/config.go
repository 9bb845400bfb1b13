// Package config loads rtltcpd's configuration from, in increasing
// precedence: a persisted JSON file (created with defaults on first run),
// environment variables (RTLTCPD_*), and CLI flags. This mirrors the
// three-tier file/env/flag precedence and flag.FlagSet + injected getenv
// pattern used by every CLI entry point in the retrieval pack.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
)

// Config is the full configuration surface of the server: device
// selection, initial parameters, and the ambient services (mDNS
// advertisement, HTTP diagnostics) described in SPEC_FULL.md §6.
type Config struct {
	Port                int    `json:"port"`
	Backend             string `json:"backend"`
	Serial              string `json:"serial"`
	DefaultFreqHz       uint64 `json:"default_freq_hz"`
	DefaultSampleRateHz uint32 `json:"default_sample_rate_hz"`
	MDNSServiceName     string `json:"mdns_service_name"`
	TelemetryAddr       string `json:"telemetry_addr"`
	LogLevel            string `json:"log_level"`
	LogFormat           string `json:"log_format"`
}

// Default returns the configuration used to seed a fresh config file.
func Default() Config {
	return Config{
		Port:                1234,
		Backend:             "mock",
		DefaultFreqHz:       100_000_000,
		DefaultSampleRateHz: 2_048_000,
		MDNSServiceName:     "",
		TelemetryAddr:       "",
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// LoadOrCreate reads path as a JSON Config, creating it with Default
// values if it does not yet exist.
func LoadOrCreate(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if saveErr := Save(path, cfg); saveErr != nil {
				return Config{}, saveErr
			}
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Parse applies environment-variable and then CLI-flag overrides on top
// of base (normally the value loaded from the persisted file), returning
// the effective configuration for this run. getenv is injected so callers
// can test precedence without touching the real environment.
func Parse(args []string, getenv func(string) string, base Config) (Config, error) {
	cfg := base
	fs := flag.NewFlagSet("rtltcpd", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", envInt(getenv, "RTLTCPD_PORT", base.Port), "TCP listen port")
	fs.StringVar(&cfg.Backend, "backend", envString(getenv, "RTLTCPD_BACKEND", base.Backend), "driver backend name (mock|rtlsdr|...)")
	fs.StringVar(&cfg.Serial, "serial", envString(getenv, "RTLTCPD_SERIAL", base.Serial), "optional device serial to select")
	fs.Uint64Var(&cfg.DefaultFreqHz, "freq", envUint64(getenv, "RTLTCPD_FREQ_HZ", base.DefaultFreqHz), "initial center frequency in Hz")
	fs.StringVar(&cfg.MDNSServiceName, "mdns-name", envString(getenv, "RTLTCPD_MDNS_NAME", base.MDNSServiceName), "mDNS instance name, empty disables advertisement")
	fs.StringVar(&cfg.TelemetryAddr, "telemetry-addr", envString(getenv, "RTLTCPD_TELEMETRY_ADDR", base.TelemetryAddr), "HTTP diagnostics listen address, empty disables")
	fs.StringVar(&cfg.LogLevel, "log-level", envString(getenv, "RTLTCPD_LOG_LEVEL", base.LogLevel), "debug|info|warn|error")
	fs.StringVar(&cfg.LogFormat, "log-format", envString(getenv, "RTLTCPD_LOG_FORMAT", base.LogFormat), "text|json")

	var rateHz uint
	fs.UintVar(&rateHz, "sample-rate", uint(envUint64(getenv, "RTLTCPD_SAMPLE_RATE_HZ", uint64(base.DefaultSampleRateHz))), "initial sample rate in Hz")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.DefaultSampleRateHz = uint32(rateHz)
	return cfg, nil
}

func envString(getenv func(string) string, key, def string) string {
	if getenv == nil {
		return def
	}
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(getenv func(string) string, key string, def int) int {
	if getenv == nil {
		return def
	}
	if v := getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func envUint64(getenv func(string) string, key string, def uint64) uint64 {
	if getenv == nil {
		return def
	}
	if v := getenv(key); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}
