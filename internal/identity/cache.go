// Package identity caches the authenticated identity. A sign-in is adopted
// optimistically and enriched with the profile store in the background;
// sign-out clears the cache and every persisted key derived from it before
// any network call is made.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/remote"
	"github.com/marcus/offsync/internal/store"
)

const (
	// KeyIdentity holds the persisted identity.
	KeyIdentity = "offsync.identity"

	// SignOutTimeout bounds the best-effort remote sign-out.
	SignOutTimeout = 2 * time.Second

	// BackgroundTimeout bounds enrichment and profile writes.
	BackgroundTimeout = 5 * time.Second
)

// Key prefixes purged on sign-out in addition to KeyIdentity.
var purgePrefixes = []string{"offsync.identity", "offsync.auth", "offsync.profile", "offsync.rows"}

// ErrNotSignedIn is returned by operations that need a cached identity.
var ErrNotSignedIn = errors.New("not signed in")

// Store is the persistence the cache needs: the KV surface plus a key scan
// for the sign-out purge.
type Store interface {
	store.KV
	Keys() ([]string, error)
}

// Cache is the single owner of the identity state. The zero value is not
// usable; call New.
type Cache struct {
	kv     Store
	remote Remote
	bus    *events.Bus

	mu      sync.RWMutex
	current *models.Identity
	// profileGen counts local profile edits; an enrichment that started
	// before an edit must not overwrite it.
	profileGen uint64

	group singleflight.Group

	bg     context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	subsMu sync.Mutex
	subs   []events.Subscription
}

// New creates a cache. It performs no I/O; call Init to restore the persisted
// identity.
func New(kv Store, r Remote, bus *events.Bus) *Cache {
	bg, stop := context.WithCancel(context.Background())
	return &Cache{kv: kv, remote: r, bus: bus, bg: bg, stop: stop}
}

// Init restores the persisted identity, if any.
func (c *Cache) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var id models.Identity
	if !c.kv.Read(KeyIdentity, &id) || id.ID == "" {
		return nil
	}
	c.mu.Lock()
	c.current = &id
	c.mu.Unlock()
	slog.Debug("identity: restored", "user", id.ID, "enriched", id.Enriched)
	return nil
}

// Subscribe routes auth-provider session events from the bus into
// HandleSession.
func (c *Cache) Subscribe() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subs = append(c.subs, c.bus.Subscribe(events.KindAuthSession, func(ev events.Event) {
		if p, ok := ev.Payload.(events.AuthSession); ok {
			c.HandleSession(c.bg, p)
		}
	}))
}

// Close removes bus subscriptions and waits for background work.
func (c *Cache) Close() {
	c.subsMu.Lock()
	for _, s := range c.subs {
		s.Cancel()
	}
	c.subs = nil
	c.subsMu.Unlock()

	c.stop()
	c.wg.Wait()
}

// Wait blocks until background enrichment and profile writes finish.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Cached returns a copy of the cached identity without any I/O, or nil.
func (c *Cache) Cached() *models.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Clone()
}

// IsAuthenticated reports whether an identity is cached.
func (c *Cache) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil
}

// HandleSession applies an auth-provider session event. Sign-in style events
// adopt the session user immediately and publish it; enrichment follows in
// the background. SignedOut performs a local sign-out.
func (c *Cache) HandleSession(ctx context.Context, ev events.AuthSession) {
	if ctx.Err() != nil {
		return
	}
	switch ev.Event {
	case events.SessionSignedOut:
		c.signOutLocal()
	case events.SessionSignedIn, events.SessionInitial, events.SessionTokenRefreshed, events.SessionUserUpdated:
		if ev.User == nil || ev.User.ID == "" {
			return
		}
		next, _ := c.adopt(ev.User)
		c.bus.Publish(events.AuthStateChanged{User: next.Clone()})
		if !next.Enriched {
			c.enrichAsync(next)
		}
	default:
		slog.Debug("identity: ignoring session event", "event", ev.Event)
	}
}

// Current resolves the signed-in identity against the auth service.
// Concurrent callers share one in-flight resolution. When the service fails
// and an identity is cached, the cached identity is returned unless the
// failure says definitively that there is no session.
func (c *Cache) Current(ctx context.Context) (*models.Identity, error) {
	v, err, _ := c.group.Do("current", func() (any, error) {
		return c.resolve(ctx)
	})
	if err != nil {
		return nil, err
	}
	id, _ := v.(*models.Identity)
	return id.Clone(), nil
}

func (c *Cache) resolve(ctx context.Context) (*models.Identity, error) {
	cached := c.Cached()
	if cached == nil || cached.AccessToken == "" {
		return cached, nil
	}

	user, err := c.remote.GetCurrentUser(ctx, cached.AccessToken)
	if err == nil && user == nil {
		err = remote.ErrNoSession
	}
	if err != nil {
		if errors.Is(err, remote.ErrNoSession) {
			slog.Info("identity: session ended remotely", "user", cached.ID)
			c.signOutLocal()
			return nil, nil
		}
		slog.Debug("identity: resolve failed, using cached identity", "err", err)
		return cached, nil
	}

	next, changed := c.adopt(user)
	if changed {
		c.bus.Publish(events.AuthStateChanged{User: next.Clone()})
	}
	if !next.Enriched {
		c.enrichAsync(next)
	}
	return next, nil
}

// adopt merges a session user into the cache. An enriched identity with the
// same id keeps its profile; anything else is replaced by the raw user.
// changed reports whether a different principal is now cached.
func (c *Cache) adopt(user *models.Identity) (next *models.Identity, changed bool) {
	c.mu.Lock()
	cur := c.current
	if cur != nil && cur.ID == user.ID && cur.Enriched {
		next = cur.Clone()
		if user.Email != "" {
			next.Email = user.Email
		}
		if user.AccessToken != "" {
			next.AccessToken = user.AccessToken
		}
		if user.Metadata != nil {
			next.Metadata = user.Clone().Metadata
		}
	} else {
		next = user.Clone()
		next.Enriched = false
		next.Profile = ResolveProfile(user.Profile, user.Metadata)
		if next.AccessToken == "" && cur != nil && cur.ID == user.ID {
			next.AccessToken = cur.AccessToken
		}
	}
	changed = cur == nil || cur.ID != next.ID
	c.current = next
	c.mu.Unlock()

	c.persist(next)
	return next, changed
}

func (c *Cache) enrichAsync(user *models.Identity) {
	if c.bg.Err() != nil {
		return
	}
	user = user.Clone()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.bg, BackgroundTimeout)
		defer cancel()
		if _, err := c.Enrich(ctx, user); err != nil {
			slog.Debug("identity: enrichment failed", "user", user.ID, "err", err)
		}
	}()
}

// Enrich fetches the profile record for user, creating one from provider
// metadata when none exists, and overlays it onto the cached identity. It
// returns nil without error when the cached identity changed meanwhile. A
// local profile edit made during the fetch is kept over the fetched record.
func (c *Cache) Enrich(ctx context.Context, user *models.Identity) (*models.Identity, error) {
	c.mu.RLock()
	gen := c.profileGen
	c.mu.RUnlock()

	rec, err := c.remote.GetProfile(ctx, user.AccessToken, user.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &remote.ProfileRecord{
			ID:        user.ID,
			FullName:  pick(nil, user.Metadata, metaFullName, metaName),
			AvatarURL: pick(nil, user.Metadata, metaAvatarURL),
		}
		if err := c.remote.UpsertProfile(ctx, user.AccessToken, *rec); err != nil {
			slog.Debug("identity: create profile failed", "user", user.ID, "err", err)
		}
	}

	c.mu.Lock()
	cur := c.current
	if cur == nil || cur.ID != user.ID {
		c.mu.Unlock()
		return nil, nil
	}
	next := cur.Clone()
	if c.profileGen == gen {
		next.Profile = ResolveProfile(models.Profile{FullName: rec.FullName, AvatarURL: rec.AvatarURL}, cur.Metadata)
	} else {
		slog.Debug("identity: profile edited during enrichment, keeping local edit", "user", user.ID)
	}
	next.Enriched = true
	c.current = next
	c.mu.Unlock()

	c.persist(next)
	c.bus.Publish(events.AuthStateChanged{User: next.Clone()})
	return next.Clone(), nil
}

// UpdateProfile applies patch to the cached identity and publishes it before
// the remote write is attempted in the background. Nil patch fields are left
// unchanged.
func (c *Cache) UpdateProfile(ctx context.Context, patch models.Profile) (*models.Identity, error) {
	c.mu.Lock()
	cur := c.current
	if cur == nil {
		c.mu.Unlock()
		return nil, ErrNotSignedIn
	}
	next := cur.Clone()
	fields := make(map[string]any, 2)
	if patch.FullName != nil {
		next.Profile.FullName = models.StringPtr(*patch.FullName)
		fields["full_name"] = *patch.FullName
	}
	if patch.AvatarURL != nil {
		next.Profile.AvatarURL = models.StringPtr(*patch.AvatarURL)
		fields["avatar_url"] = *patch.AvatarURL
	}
	c.current = next
	c.profileGen++
	c.mu.Unlock()

	c.persist(next)
	c.bus.Publish(events.ProfileUpdated{User: next.Clone()})

	if len(fields) > 0 && c.bg.Err() == nil {
		token, userID := next.AccessToken, next.ID
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), BackgroundTimeout)
			defer cancel()
			if err := c.remote.UpdateProfile(wctx, token, userID, fields); err != nil {
				slog.Warn("identity: profile update failed", "user", userID, "err", err)
			}
		}()
	}
	return next.Clone(), nil
}

// SignOut clears the cached identity and purges persisted identity keys,
// then makes a best-effort remote sign-out bounded by SignOutTimeout. The
// local outcome never depends on the remote call.
func (c *Cache) SignOut(ctx context.Context) {
	prev := c.signOutLocal()
	if prev == nil || prev.AccessToken == "" {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, SignOutTimeout)
	defer cancel()
	if err := c.remote.SignOut(sctx, prev.AccessToken); err != nil {
		slog.Debug("identity: remote sign-out failed", "err", err)
	}
}

func (c *Cache) signOutLocal() *models.Identity {
	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()

	c.group.Forget("current")
	c.purge(prev)
	if prev != nil {
		c.bus.Publish(events.AuthStateChanged{User: nil})
	}
	return prev
}

// purge removes KeyIdentity, every key under an identity prefix, and every
// key that embeds the user's id.
func (c *Cache) purge(prev *models.Identity) {
	if err := c.kv.Remove(KeyIdentity); err != nil {
		slog.Warn("identity: purge", "key", KeyIdentity, "err", err)
	}

	keys, err := c.kv.Keys()
	if err != nil {
		slog.Warn("identity: purge scan", "err", err)
		return
	}
	for _, k := range keys {
		if !matchesIdentityKey(k, prev) {
			continue
		}
		if err := c.kv.Remove(k); err != nil {
			slog.Warn("identity: purge", "key", k, "err", err)
		}
	}
}

func matchesIdentityKey(key string, prev *models.Identity) bool {
	for _, p := range purgePrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return prev != nil && prev.ID != "" && strings.Contains(key, prev.ID)
}

func (c *Cache) persist(id *models.Identity) {
	if err := c.kv.Write(KeyIdentity, id); err != nil {
		slog.Warn("identity: persist", "err", err)
	}
}
