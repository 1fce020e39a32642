package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/msdsdraft/model"
)

// DefaultProbeInterval is how often the backend is pinged.
const DefaultProbeInterval = 15 * time.Second

// Pinger checks backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober pings the backend on an interval and feeds the result into a
// Connectivity monitor.
type Prober struct {
	pinger   Pinger
	conn     *Connectivity
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewProber creates a prober. A non-positive interval uses the default.
func NewProber(pinger Pinger, conn *Connectivity, interval time.Duration, logger *zap.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		pinger:   pinger,
		conn:     conn,
		interval: interval,
		timeout:  min(interval, 5*time.Second),
		logger:   logger,
	}
}

// Run probes immediately and then every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe pings once and updates the monitor. The backend counts as
// unreachable only when the ping could not reach it; an erroring but
// reachable backend keeps the monitor online.
func (p *Prober) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.pinger.Ping(pctx)
	cancel()
	if ctx.Err() != nil {
		return p.conn.Online()
	}

	online := err == nil || !model.HasCode(err, model.ErrNetworkUnavailable)
	if err != nil {
		p.logger.Debug("backend probe failed", zap.Bool("reachable", online), zap.Error(err))
	}
	p.conn.Set(ctx, online)
	return online
}
