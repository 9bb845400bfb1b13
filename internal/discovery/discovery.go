// Package discovery advertises a running rtltcpd instance over mDNS so LAN
// clients can find it without being told an address. This is purely a
// convenience layer orthogonal to the rtl_tcp wire protocol: a client that
// never performs mDNS discovery behaves identically. Registration failure
// is non-fatal — it is retried a bounded number of times with exponential
// backoff and then logged and abandoned; the TCP server continues
// regardless.
package discovery

import (
	"fmt"

	"github.com/cenkalti/backoff"
	"github.com/grandcat/zeroconf"
	"github.com/rjboer/rtltcpd/internal/logging"
)

// serviceType is the mDNS service type rtltcpd advertises under.
const serviceType = "_rtl-tcp._tcp"

// maxRegisterAttempts bounds the exponential-backoff retry loop so a
// misbehaving local network stack cannot delay startup indefinitely.
const maxRegisterAttempts = 5

// Advertiser owns the lifetime of one mDNS service registration.
type Advertiser struct {
	log    logging.Logger
	server *zeroconf.Server
}

// New builds an Advertiser; it does not register anything until Start.
func New(log logging.Logger) *Advertiser {
	if log == nil {
		log = logging.Default()
	}
	return &Advertiser{log: logging.Named(log, "discovery")}
}

// Start registers instance as serviceType on port, retrying registration
// with exponential backoff up to maxRegisterAttempts times. A failure to
// register after retries is logged at Warn and otherwise swallowed — the
// TCP server is fully functional without it.
func (a *Advertiser) Start(instance string, port int) {
	var srv *zeroconf.Server
	register := func() error {
		s, err := zeroconf.Register(instance, serviceType, "local.", port, nil, nil)
		if err != nil {
			return fmt.Errorf("discovery: register: %w", err)
		}
		srv = s
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRegisterAttempts)
	if err := backoff.Retry(register, b); err != nil {
		a.log.Warn("mDNS advertisement failed, continuing without it",
			logging.Field{Key: "err", Value: err})
		return
	}
	a.server = srv
	a.log.Info("advertising over mDNS",
		logging.Field{Key: "instance", Value: instance},
		logging.Field{Key: "service", Value: serviceType},
		logging.Field{Key: "port", Value: port})
}

// Stop withdraws the mDNS registration, if one is active. Safe to call
// even if Start never succeeded.
func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
