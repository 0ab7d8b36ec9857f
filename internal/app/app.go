// Package app wires the sync core together: store, event bus, identity cache,
// connectivity monitor, sync queue and focus timer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/offsync/internal/config"
	"github.com/marcus/offsync/internal/connectivity"
	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/focus"
	"github.com/marcus/offsync/internal/identity"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/reconcile"
	"github.com/marcus/offsync/internal/remote"
	"github.com/marcus/offsync/internal/store"
	"github.com/marcus/offsync/internal/syncqueue"
	"github.com/marcus/offsync/internal/watch"
)

// rowsKeyPrefix holds the last remote snapshot of each collection, per user.
// The user id in the key puts it in scope of the sign-out purge.
const rowsKeyPrefix = "offsync.rows."

// ErrNotInitialized is returned when App methods run before Init.
var ErrNotInitialized = errors.New("app not initialized")

// App owns every long-lived component. Fields are nil until Init succeeds.
type App struct {
	cfg config.Config

	Bus      *events.Bus
	Store    *store.Store
	Client   *remote.Client
	Identity *identity.Cache
	Net      *connectivity.Monitor
	Queue    *syncqueue.Manager
	Focus    *focus.Machine
	Mirror   *focus.Mirror

	seenMu sync.Mutex
	seen   map[string]bool
}

// New creates an app for cfg. It performs no I/O.
func New(cfg config.Config) *App {
	return &App{cfg: cfg, Bus: events.NewBus()}
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

// Init opens the store at the configured data directory and starts the
// components. The identity cache subscribes before the queue so that a
// sign-in is adopted before the drain it triggers resolves the user.
func (a *App) Init(ctx context.Context) error {
	st, err := store.Open(a.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	return a.InitWithStore(ctx, st, remote.New(a.cfg.URL, a.cfg.AnonKey, a.cfg.RemoteTimeout))
}

// InitWithStore is Init with an already-open store and client.
func (a *App) InitWithStore(ctx context.Context, st *store.Store, client *remote.Client) error {
	a.Store = st
	a.Client = client

	a.Identity = identity.New(st, identity.NewRemote(client), a.Bus)
	if err := a.Identity.Init(ctx); err != nil {
		return fmt.Errorf("restore identity: %w", err)
	}

	prober := connectivity.ProberFunc(func(ctx context.Context) error {
		_, err := client.Health(ctx)
		return err
	})
	a.Net = connectivity.New(a.Bus, prober, a.cfg.ProbeInterval, a.cfg.RemoteTimeout, false)

	a.Queue = syncqueue.New(st, a.Bus, syncqueue.NewRemoteApplier(client), a.Identity, a.Net, syncqueue.Config{
		Interval:     a.cfg.DrainInterval,
		ApplyTimeout: a.cfg.RemoteTimeout,
	})

	a.Focus = focus.New(a.Bus, nil)
	a.Mirror = focus.NewMirror(st, st, a.Bus, a.Focus)

	a.Identity.Subscribe()
	a.Queue.Subscribe()
	a.Focus.Subscribe()
	a.Mirror.Subscribe()

	if a.Mirror.Restore(a.Focus) {
		slog.Debug("app: focus session resumed", "remaining_ms", a.Focus.Snapshot().RemainingMs)
	}

	if a.cfg.AutoSync {
		a.Net.Check(ctx)
	}
	return nil
}

// Run drives the periodic drain, the connectivity probe and, with auto sync
// on, the store watcher until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.Queue == nil {
		return ErrNotInitialized
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Queue.Run(gctx) })
	g.Go(func() error { return a.Net.Run(gctx) })
	if a.cfg.AutoSync {
		a.markSeen()
		w := watch.New(a.cfg.DataDir, store.DBFile, 0, a.noticeQueue)
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

// markSeen records the current queue ids as known.
func (a *App) markSeen() {
	a.seenMu.Lock()
	defer a.seenMu.Unlock()
	a.seen = queueIDs(a.Queue.Queue())
}

// noticeQueue requests a drain when another process has enqueued entries.
// Rewrites of already known entries (our own drains) are ignored.
func (a *App) noticeQueue() {
	ids := queueIDs(a.Queue.Queue())

	a.seenMu.Lock()
	fresh := false
	for id := range ids {
		if !a.seen[id] {
			fresh = true
			break
		}
	}
	a.seen = ids
	a.seenMu.Unlock()

	if fresh {
		slog.Debug("app: new queue entries from another process")
		a.Bus.Publish(events.SyncRequested{})
	}
}

func queueIDs(q []models.QueueEntry) map[string]bool {
	ids := make(map[string]bool, len(q))
	for _, e := range q {
		ids[e.ID] = true
	}
	return ids
}

// Flush waits for background drains and identity work started so far.
func (a *App) Flush() {
	if a.Queue != nil {
		a.Queue.Wait()
	}
	if a.Identity != nil {
		a.Identity.Wait()
	}
}

// Close stops every component and closes the store.
func (a *App) Close() error {
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Identity != nil {
		a.Identity.Close()
	}
	if a.Focus != nil {
		a.Focus.Close()
	}
	if a.Mirror != nil {
		a.Mirror.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// SignIn authenticates with email and password and announces the session.
func (a *App) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	user, err := a.Client.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	a.Bus.Publish(events.AuthSession{Event: events.SessionSignedIn, User: user})
	a.Net.SetOnline(true)
	return a.Identity.Cached(), nil
}

// SignUp registers an account. When the provider returns a session right
// away it is adopted like a sign-in; otherwise the account awaits
// confirmation and nil is returned.
func (a *App) SignUp(ctx context.Context, email, password string) (*models.Identity, error) {
	user, err := a.Client.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if user.AccessToken == "" {
		return nil, nil
	}
	a.Bus.Publish(events.AuthSession{Event: events.SessionSignedIn, User: user})
	a.Net.SetOnline(true)
	return a.Identity.Cached(), nil
}

// SignOut signs out locally and then remotely, bounded by the identity
// cache's sign-out timeout.
func (a *App) SignOut(ctx context.Context) {
	a.Identity.SignOut(ctx)
}

// List returns the rows of entityType as the user should see them: the
// remote rows, or the last fetched snapshot when the remote is unreachable,
// merged with queued local mutations. fresh reports whether the remote rows
// were fetched by this call.
func (a *App) List(ctx context.Context, entityType models.EntityType) (rows []models.Row, fresh bool, err error) {
	user := a.Identity.Cached()
	if user == nil {
		return nil, false, identity.ErrNotSignedIn
	}
	table, ok := remote.TableFor(entityType)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", syncqueue.ErrNoTable, entityType)
	}
	key := rowsKey(user.ID, entityType)

	var base []models.Row
	if a.Net.IsOnline() {
		got, err := a.Client.WithToken(user.AccessToken).Select(ctx, table, remote.Query{
			Eq:    map[string]string{"user_id": user.ID},
			Order: "created_at.asc",
		})
		if err != nil {
			slog.Debug("app: remote list failed, using snapshot", "entity", entityType, "err", err)
		} else {
			base, fresh = got, true
			if err := a.Store.Write(key, base); err != nil {
				slog.Warn("app: save row snapshot", "entity", entityType, "err", err)
			}
		}
	}
	if !fresh {
		a.Store.Read(key, &base)
	}
	return reconcile.Merge(entityType, base, a.Queue.QueueFor(user.ID)), fresh, nil
}

func rowsKey(userID string, entityType models.EntityType) string {
	return rowsKeyPrefix + userID + "." + string(entityType)
}
