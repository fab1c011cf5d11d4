package connectivity

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/condo_sync/internal/transport"
)

// Prober periodically pings the remote side and updates a Monitor.
type Prober struct {
	monitor  *Monitor
	pinger   transport.Pinger
	interval time.Duration
	timeout  time.Duration
}

// NewProber creates a prober. Each ping is bounded by the interval.
func NewProber(monitor *Monitor, pinger transport.Pinger, interval time.Duration) *Prober {
	return &Prober{monitor: monitor, pinger: pinger, interval: interval, timeout: interval}
}

// Probe pings once and records the result.
func (p *Prober) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.pinger.Ping(pctx)
	online := err == nil
	if p.monitor.Set(online) {
		entry := logrus.WithField("component", "connectivity")
		if online {
			entry.Info("Remote is reachable, going online")
		} else {
			entry.WithError(err).Warn("Remote is unreachable, going offline")
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
