package focus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/store"
)

// SessionKey is the store key holding a running session snapshot.
const SessionKey = "offsync.focus_session"

// HistoryAppender records completed sessions.
type HistoryAppender interface {
	AppendHistory(kind string, record any) error
}

// Snapshotter exposes the machine's current session.
type Snapshotter interface {
	Snapshot() models.FocusSession
}

// Mirror persists the machine's state so a running session survives a
// restart. The machine itself never touches storage.
type Mirror struct {
	kv      store.KV
	history HistoryAppender
	bus     *events.Bus
	source  Snapshotter

	mu      sync.Mutex
	lastEnd time.Time
	subs    []events.Subscription
}

// NewMirror creates a mirror for source. It performs no I/O.
func NewMirror(kv store.KV, history HistoryAppender, bus *events.Bus, source Snapshotter) *Mirror {
	return &Mirror{kv: kv, history: history, bus: bus, source: source}
}

// Load returns the persisted snapshot, if any.
func (mi *Mirror) Load() (models.FocusSession, bool) {
	var s models.FocusSession
	if !mi.kv.Read(SessionKey, &s) {
		return models.FocusSession{}, false
	}
	return s, true
}

// Restore resumes m from the persisted snapshot. A running snapshot whose end
// time has passed is recorded as completed and cleared. It reports whether a
// session was resumed.
func (mi *Mirror) Restore(m *Machine) bool {
	snap, ok := mi.Load()
	if !ok {
		return false
	}
	if m.Resume(snap) {
		return true
	}
	if snap.Status == models.FocusRunning && !snap.EndTime.IsZero() {
		mi.record(models.FocusRecord{DurationMinutes: snap.DurationMinutes, CompletedAt: snap.EndTime})
	}
	mi.clear()
	return false
}

// Subscribe starts mirroring state updates and completions.
func (mi *Mirror) Subscribe() {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	mi.subs = append(mi.subs,
		mi.bus.Subscribe(events.KindFocusStateUpdated, mi.onState),
		mi.bus.Subscribe(events.KindFocusCompleted, func(ev events.Event) {
			p, ok := ev.Payload.(events.FocusCompleted)
			if !ok {
				return
			}
			mi.record(models.FocusRecord{DurationMinutes: p.DurationMinutes, CompletedAt: p.CompletedAt})
		}),
	)
}

// Close removes bus subscriptions.
func (mi *Mirror) Close() {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	for _, s := range mi.subs {
		s.Cancel()
	}
	mi.subs = nil
}

func (mi *Mirror) onState(ev events.Event) {
	p, ok := ev.Payload.(events.FocusStateUpdated)
	if !ok {
		return
	}
	if p.Status != models.FocusRunning {
		mi.clear()
		return
	}

	// Ticks only change RemainingMs; write once per session.
	mi.mu.Lock()
	if mi.lastEnd.Equal(p.EndTime) {
		mi.mu.Unlock()
		return
	}
	mi.lastEnd = p.EndTime
	mi.mu.Unlock()

	snap := mi.source.Snapshot()
	if snap.Status != models.FocusRunning {
		return
	}
	if err := mi.kv.Write(SessionKey, snap); err != nil {
		slog.Warn("focus: persist session", "err", err)
	}
}

func (mi *Mirror) clear() {
	mi.mu.Lock()
	mi.lastEnd = time.Time{}
	mi.mu.Unlock()
	if err := mi.kv.Remove(SessionKey); err != nil {
		slog.Warn("focus: clear session", "err", err)
	}
}

func (mi *Mirror) record(r models.FocusRecord) {
	if mi.history == nil {
		return
	}
	if err := mi.history.AppendHistory(store.HistoryFocus, r); err != nil {
		slog.Warn("focus: append history", "err", err)
	}
}
