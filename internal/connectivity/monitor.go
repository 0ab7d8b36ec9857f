// Package connectivity tracks whether the remote service is reachable and
// announces transitions on the bus.
package connectivity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/marcus/offsync/internal/events"
)

const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// Prober checks remote reachability.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor holds the last known connectivity state.
type Monitor struct {
	bus      *events.Bus
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	online   atomic.Bool
}

// New creates a monitor that starts in the given state. interval and timeout
// <= 0 select the defaults.
func New(bus *events.Bus, prober Prober, interval, timeout time.Duration, online bool) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	m := &Monitor{bus: bus, prober: prober, interval: interval, timeout: timeout}
	m.online.Store(online)
	return m
}

// IsOnline reports the last known state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline records a new state and publishes ConnectivityChanged when it
// differs from the previous one.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	slog.Info("connectivity changed", "online", online)
	m.bus.Publish(events.ConnectivityChanged{Online: online})
}

// Check probes once and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsOnline()
	}
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Probe(pctx)
	cancel()
	if err != nil {
		slog.Debug("connectivity: probe failed", "err", err)
	}
	if ctx.Err() != nil {
		return m.IsOnline()
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
