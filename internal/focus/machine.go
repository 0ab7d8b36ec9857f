// Package focus implements the focus-session countdown. Remaining time is
// always derived from the absolute end time, so missed ticks or a restart
// never drift the countdown.
package focus

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
)

// TickInterval is how often a running session publishes its remaining time.
const TickInterval = time.Second

// ErrInvalidDuration is returned by Start for a non-positive duration.
var ErrInvalidDuration = errors.New("duration must be positive")

// Clock abstracts wall time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}

// Machine is the Idle -> Running -> Completed -> Idle timer.
type Machine struct {
	bus   *events.Bus
	clock Clock

	mu      sync.Mutex
	session models.FocusSession
	stopCh  chan struct{}
	wg      sync.WaitGroup

	subsMu sync.Mutex
	subs   []events.Subscription
}

// New creates an idle machine. A nil clock selects SystemClock.
func New(bus *events.Bus, clock Clock) *Machine {
	if clock == nil {
		clock = SystemClock
	}
	return &Machine{
		bus:     bus,
		clock:   clock,
		session: models.FocusSession{Status: models.FocusIdle},
	}
}

// Subscribe wires FocusStart and FocusCancel from the bus.
func (m *Machine) Subscribe() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subs = append(m.subs,
		m.bus.Subscribe(events.KindFocusStart, func(ev events.Event) {
			p, _ := ev.Payload.(events.FocusStart)
			if err := m.Start(p.DurationMinutes); err != nil {
				slog.Warn("focus: start", "minutes", p.DurationMinutes, "err", err)
			}
		}),
		m.bus.Subscribe(events.KindFocusCancel, func(events.Event) {
			m.Cancel()
		}),
	)
}

// Close stops the ticker and removes bus subscriptions.
func (m *Machine) Close() {
	m.subsMu.Lock()
	for _, s := range m.subs {
		s.Cancel()
	}
	m.subs = nil
	m.subsMu.Unlock()

	m.mu.Lock()
	m.stopTickerLocked()
	m.mu.Unlock()
	m.wg.Wait()
}

// Start begins a session of the given length, replacing any running one.
func (m *Machine) Start(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidDuration
	}
	now := m.clock.Now()
	end := now.Add(time.Duration(minutes) * time.Minute)

	m.mu.Lock()
	m.stopTickerLocked()
	m.session = models.FocusSession{
		Status:          models.FocusRunning,
		EndTime:         end,
		RemainingMs:     end.Sub(now).Milliseconds(),
		DurationMinutes: minutes,
	}
	snap := m.session
	m.startTickerLocked()
	m.mu.Unlock()

	slog.Debug("focus: started", "minutes", minutes, "end", end)
	m.publishState(snap)
	return nil
}

// Cancel abandons a running session. It is a no-op when idle.
func (m *Machine) Cancel() {
	m.mu.Lock()
	if m.session.Status != models.FocusRunning {
		m.mu.Unlock()
		return
	}
	m.stopTickerLocked()
	m.session = models.FocusSession{Status: models.FocusIdle}
	snap := m.session
	m.mu.Unlock()

	slog.Debug("focus: cancelled")
	m.publishState(snap)
}

// Resume restarts the countdown from a persisted snapshot. It returns false,
// leaving the machine idle, when the snapshot is not running or its end time
// has already passed.
func (m *Machine) Resume(persisted models.FocusSession) bool {
	if persisted.Status != models.FocusRunning || persisted.EndTime.IsZero() {
		return false
	}
	now := m.clock.Now()
	remaining := persisted.EndTime.Sub(now)
	if remaining <= 0 {
		return false
	}

	m.mu.Lock()
	m.stopTickerLocked()
	m.session = models.FocusSession{
		Status:          models.FocusRunning,
		EndTime:         persisted.EndTime,
		RemainingMs:     remaining.Milliseconds(),
		DurationMinutes: persisted.DurationMinutes,
	}
	snap := m.session
	m.startTickerLocked()
	m.mu.Unlock()

	slog.Debug("focus: resumed", "remaining_ms", snap.RemainingMs)
	m.publishState(snap)
	return true
}

// Snapshot returns the current session with RemainingMs computed now.
func (m *Machine) Snapshot() models.FocusSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.session
	if snap.Status == models.FocusRunning {
		snap.RemainingMs = remainingMs(snap.EndTime, m.clock.Now())
	}
	return snap
}

// Tick recomputes the remaining time and completes the session once the end
// time is reached. The ticker goroutine calls it every TickInterval.
func (m *Machine) Tick() {
	now := m.clock.Now()

	m.mu.Lock()
	if m.session.Status != models.FocusRunning {
		m.mu.Unlock()
		return
	}
	rem := remainingMs(m.session.EndTime, now)
	if rem > 0 {
		m.session.RemainingMs = rem
		snap := m.session
		m.mu.Unlock()
		m.publishState(snap)
		return
	}

	finished := m.session
	m.stopTickerLocked()
	m.session = models.FocusSession{Status: models.FocusIdle}
	m.mu.Unlock()

	slog.Debug("focus: completed", "minutes", finished.DurationMinutes)
	m.bus.Publish(events.FocusCompleted{
		DurationMinutes: finished.DurationMinutes,
		CompletedAt:     now,
	})
	m.bus.Publish(events.FocusStateUpdated{
		Status:      models.FocusCompleted,
		RemainingMs: 0,
		EndTime:     finished.EndTime,
	})
}

func (m *Machine) publishState(s models.FocusSession) {
	m.bus.Publish(events.FocusStateUpdated{
		Status:      s.Status,
		RemainingMs: s.RemainingMs,
		EndTime:     s.EndTime,
	})
}

// startTickerLocked starts the tick goroutine. Callers hold m.mu.
func (m *Machine) startTickerLocked() {
	stop := make(chan struct{})
	m.stopCh = stop
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(TickInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				m.Tick()
			}
		}
	}()
}

// stopTickerLocked signals the tick goroutine to exit. Callers hold m.mu.
func (m *Machine) stopTickerLocked() {
	if m.stopCh != nil {
		close(m.stopCh)
		m.stopCh = nil
	}
}

func remainingMs(end, now time.Time) int64 {
	ms := end.Sub(now).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
