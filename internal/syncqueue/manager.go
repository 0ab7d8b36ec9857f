// Package syncqueue owns the durable queue of local mutations that have not
// yet been confirmed by the remote store, and drains it when the device is
// online and signed in.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/store"
)

const (
	// QueueKey is the store key holding the whole queue as one JSON array.
	QueueKey = "offsync.sync_queue"

	// MaxRetries is the retry ceiling; an entry whose RetryCount exceeds it
	// is evicted.
	MaxRetries = 10

	DefaultInterval     = 30 * time.Second
	DefaultApplyTimeout = 3 * time.Second
)

var (
	ErrInvalidEntityType = errors.New("invalid entity type")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrMissingTarget     = errors.New("update and delete require a target id")
)

// Applier performs one queued mutation against the remote store. For an Add
// it returns the server-assigned id.
type Applier interface {
	Apply(ctx context.Context, user *models.Identity, entry models.QueueEntry) (serverID string, err error)
}

// IdentitySource resolves the identity a drain runs as. A nil identity means
// signed out. Cached answers without I/O and stamps the owner of new entries.
type IdentitySource interface {
	Current(ctx context.Context) (*models.Identity, error)
	Cached() *models.Identity
}

// Connectivity reports whether the remote store is believed reachable.
type Connectivity interface {
	IsOnline() bool
}

// Config tunes the manager. Zero values select the defaults.
type Config struct {
	Interval     time.Duration
	ApplyTimeout time.Duration
}

// Manager is the single owner of the persisted queue.
type Manager struct {
	kv       store.KV
	bus      *events.Bus
	applier  Applier
	identity IdentitySource
	net      Connectivity
	cfg      Config

	mu       sync.Mutex // serializes read-modify-write of QueueKey
	draining atomic.Bool

	bg     context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	subs   []events.Subscription
	subsMu sync.Mutex
}

// New creates a manager. It performs no I/O.
func New(kv store.KV, bus *events.Bus, applier Applier, identity IdentitySource, net Connectivity, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultApplyTimeout
	}
	bg, stop := context.WithCancel(context.Background())
	return &Manager{
		kv:       kv,
		bus:      bus,
		applier:  applier,
		identity: identity,
		net:      net,
		cfg:      cfg,
		bg:       bg,
		stop:     stop,
	}
}

// Enqueue appends a mutation to the queue and persists it. When online, a
// drain is started in the background; its outcome is not reported here.
func (m *Manager) Enqueue(entityType models.EntityType, op models.Operation, payload models.Payload) (models.QueueEntry, error) {
	if !models.IsValidEntityType(string(entityType)) {
		return models.QueueEntry{}, fmt.Errorf("%w: %q", ErrInvalidEntityType, entityType)
	}
	if !op.IsValid() {
		return models.QueueEntry{}, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}
	if op != models.OpAdd && payload.TargetID == "" {
		return models.QueueEntry{}, ErrMissingTarget
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("generate entry id: %w", err)
	}

	entry := models.QueueEntry{
		ID:         id.String(),
		EntityType: entityType,
		Operation:  op,
		Payload:    copyPayload(payload),
		EnqueuedAt: time.Now().UTC(),
	}
	if op == models.OpAdd {
		entry.Payload.TempID = entry.ID
		entry.Payload.TargetID = ""
	}
	if u := m.identity.Cached(); u != nil {
		entry.OwnerID = u.ID
	}

	m.mu.Lock()
	queue := m.load()
	queue = append(queue, entry)
	err = m.kv.Write(QueueKey, queue)
	m.mu.Unlock()
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("persist queue: %w", err)
	}

	if m.online() {
		m.drainAsync()
	}
	return entry, nil
}

// Queue returns the persisted queue in FIFO order.
func (m *Manager) Queue() []models.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// QueueFor returns the entries userID may see and drain: its own and those
// enqueued while nobody was signed in.
func (m *Manager) QueueFor(userID string) []models.QueueEntry {
	var out []models.QueueEntry
	for _, e := range m.Queue() {
		if ownedBy(e, userID) {
			out = append(out, e)
		}
	}
	return out
}

func ownedBy(e models.QueueEntry, userID string) bool {
	return e.OwnerID == "" || e.OwnerID == userID
}

// PendingCount returns how many queued entries target entityType. An empty
// entityType counts every entry.
func (m *Manager) PendingCount(entityType models.EntityType) int {
	n := 0
	for _, e := range m.Queue() {
		if entityType == "" || e.EntityType == entityType {
			n++
		}
	}
	return n
}

// IsDraining reports whether a drain pass is in flight.
func (m *Manager) IsDraining() bool {
	return m.draining.Load()
}

// Drain makes one FIFO pass over the queue and returns how many entries the
// remote store confirmed. It is a no-op when another drain is in flight,
// when offline, or when no identity resolves. Failures never surface: a
// failed entry is kept with its retry count bumped, or evicted once the count
// exceeds MaxRetries.
func (m *Manager) Drain(ctx context.Context) int {
	if !m.draining.CompareAndSwap(false, true) {
		slog.Debug("syncqueue: drain already in flight")
		return 0
	}
	defer m.draining.Store(false)

	if !m.online() {
		return 0
	}

	user, err := m.identity.Current(ctx)
	if err != nil || user == nil {
		slog.Debug("syncqueue: no identity, skipping drain", "err", err)
		return 0
	}

	pass := m.Queue()
	if len(pass) == 0 {
		return 0
	}

	var (
		done    = make(map[string]bool)
		failed  = make(map[string]models.QueueEntry)
		evicted []models.QueueEntry
		remap   = make(map[string]string) // temp id -> server id
		dropped = make(map[string]bool)   // temp ids of evicted adds
		held    int
		synced  int
	)

	// Temp ids without a server row yet. An update or delete aimed at one
	// waits for its add; sent now it would match nothing remotely.
	unsynced := make(map[string]bool)
	for _, e := range pass {
		if e.Operation == models.OpAdd && e.Payload.TempID != "" {
			unsynced[e.Payload.TempID] = true
		}
	}

	for _, entry := range pass {
		if ctx.Err() != nil {
			break
		}
		if !ownedBy(entry, user.ID) {
			held++
			continue
		}
		if to, ok := remap[entry.Payload.TargetID]; ok {
			entry.Payload.TargetID = to
		}
		if entry.Operation != models.OpAdd {
			if dropped[entry.Payload.TargetID] {
				slog.Warn("syncqueue: evicting entry with its add",
					"id", entry.ID, "entity", entry.EntityType, "op", entry.Operation, "target", entry.Payload.TargetID)
				evicted = append(evicted, entry)
				done[entry.ID] = true
				continue
			}
			if unsynced[entry.Payload.TargetID] {
				held++
				continue
			}
		}

		actx, cancel := context.WithTimeout(ctx, m.cfg.ApplyTimeout)
		serverID, err := m.applier.Apply(actx, user, entry)
		cancel()

		if err == nil {
			done[entry.ID] = true
			synced++
			if entry.Operation == models.OpAdd {
				delete(unsynced, entry.Payload.TempID)
				if serverID != "" && serverID != entry.Payload.TempID {
					remap[entry.Payload.TempID] = serverID
				}
			}
			continue
		}

		entry.RetryCount++
		if entry.RetryCount > MaxRetries {
			slog.Warn("syncqueue: evicting entry",
				"id", entry.ID, "entity", entry.EntityType, "op", entry.Operation,
				"retries", entry.RetryCount, "err", err)
			evicted = append(evicted, entry)
			done[entry.ID] = true
			if entry.Operation == models.OpAdd {
				dropped[entry.Payload.TempID] = true
			}
			continue
		}
		slog.Debug("syncqueue: apply failed",
			"id", entry.ID, "entity", entry.EntityType, "op", entry.Operation,
			"retries", entry.RetryCount, "err", err)
		failed[entry.ID] = entry
	}

	// Entries enqueued while the pass ran are still in the store; keep them.
	m.mu.Lock()
	current := m.load()
	survivors := make([]models.QueueEntry, 0, len(current))
	for _, e := range current {
		if done[e.ID] {
			continue
		}
		if e.Operation != models.OpAdd && dropped[e.Payload.TargetID] {
			evicted = append(evicted, e)
			continue
		}
		if f, ok := failed[e.ID]; ok {
			e = f
		}
		if to, ok := remap[e.Payload.TargetID]; ok {
			e.Payload.TargetID = to
		}
		survivors = append(survivors, e)
	}
	if err := m.kv.Write(QueueKey, survivors); err != nil {
		slog.Error("syncqueue: persist queue after drain", "err", err)
	}
	m.mu.Unlock()

	for _, e := range evicted {
		m.bus.Publish(events.SyncEvicted{EntryID: e.ID, EntityType: e.EntityType, RetryCount: e.RetryCount})
	}
	m.bus.Publish(events.SyncCompleted{Count: synced})

	slog.Debug("syncqueue: drain complete",
		"synced", synced, "held", held, "remaining", len(survivors), "evicted", len(evicted))
	return synced
}

// Run drains on every interval tick until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.online() {
				m.Drain(ctx)
			}
		}
	}
}

// Subscribe wires the bus triggers: coming online, an explicit sync request,
// and sign-in each start a background drain.
func (m *Manager) Subscribe() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.subs = append(m.subs,
		m.bus.Subscribe(events.KindConnectivityChanged, func(ev events.Event) {
			if p, ok := ev.Payload.(events.ConnectivityChanged); ok && p.Online {
				m.drainAsync()
			}
		}),
		m.bus.Subscribe(events.KindSyncRequested, func(events.Event) {
			m.drainAsync()
		}),
		m.bus.Subscribe(events.KindAuthSession, func(ev events.Event) {
			if p, ok := ev.Payload.(events.AuthSession); ok && p.Event == events.SessionSignedIn {
				m.drainAsync()
			}
		}),
	)
}

// Close removes bus subscriptions and waits for background drains to stop.
func (m *Manager) Close() {
	m.subsMu.Lock()
	for _, s := range m.subs {
		s.Cancel()
	}
	m.subs = nil
	m.subsMu.Unlock()

	m.stop()
	m.wg.Wait()
}

// Wait blocks until background drains started so far have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) drainAsync() {
	if m.bg.Err() != nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Drain(m.bg)
	}()
}

func (m *Manager) online() bool {
	return m.net == nil || m.net.IsOnline()
}

// load reads the persisted queue. Callers hold m.mu.
func (m *Manager) load() []models.QueueEntry {
	var queue []models.QueueEntry
	if !m.kv.Read(QueueKey, &queue) {
		return nil
	}
	return queue
}

func copyPayload(p models.Payload) models.Payload {
	out := models.Payload{TempID: p.TempID, TargetID: p.TargetID}
	if p.Fields != nil {
		out.Fields = make(map[string]any, len(p.Fields))
		for k, v := range p.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
