package identity

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/remote"
	"github.com/marcus/offsync/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s, err := store.New(conn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeRemote is an in-memory auth and profile service.
type fakeRemote struct {
	mu        sync.Mutex
	user      *models.Identity
	userErr   error
	profile   *remote.ProfileRecord
	upserts   []remote.ProfileRecord
	updates   []map[string]any
	signOuts  int
	userCalls atomic.Int32

	release    chan struct{} // when set, GetCurrentUser blocks on it
	signOutDly time.Duration

	profileGate    chan struct{} // when set, GetProfile blocks on it
	profileEntered chan struct{}
}

func (f *fakeRemote) GetCurrentUser(ctx context.Context, token string) (*models.Identity, error) {
	f.userCalls.Add(1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.user.Clone(), nil
}

func (f *fakeRemote) SignOut(ctx context.Context, token string) error {
	f.mu.Lock()
	f.signOuts++
	dly := f.signOutDly
	f.mu.Unlock()
	select {
	case <-time.After(dly):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRemote) GetProfile(ctx context.Context, token, userID string) (*remote.ProfileRecord, error) {
	if f.profileEntered != nil {
		f.profileEntered <- struct{}{}
	}
	if f.profileGate != nil {
		<-f.profileGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profile == nil {
		return nil, nil
	}
	p := *f.profile
	return &p, nil
}

func (f *fakeRemote) UpsertProfile(ctx context.Context, token string, p remote.ProfileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, p)
	f.profile = &p
	return nil
}

func (f *fakeRemote) UpdateProfile(ctx context.Context, token, userID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	return nil
}

func alice() *models.Identity {
	return &models.Identity{
		ID:          "u1",
		Email:       "alice@example.com",
		Metadata:    map[string]string{"full_name": "Alice"},
		AccessToken: "tok-1",
	}
}

func newCache(t *testing.T, r *fakeRemote) (*Cache, *store.Store, *events.Bus) {
	t.Helper()
	s := setupStore(t)
	bus := events.NewBus()
	c := New(s, r, bus)
	t.Cleanup(c.Close)
	return c, s, bus
}

func TestResolveProfile_Precedence(t *testing.T) {
	meta := map[string]string{"full_name": "Alice", "avatar_url": "https://a/1.png"}

	tests := []struct {
		name       string
		profile    models.Profile
		wantName   *string
		wantAvatar *string
	}{
		{"absent falls back", models.Profile{}, models.StringPtr("Alice"), models.StringPtr("https://a/1.png")},
		{"empty string wins", models.Profile{FullName: models.StringPtr("")}, models.StringPtr(""), models.StringPtr("https://a/1.png")},
		{"profile value wins", models.Profile{FullName: models.StringPtr("Al"), AvatarURL: models.StringPtr("")}, models.StringPtr("Al"), models.StringPtr("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveProfile(tt.profile, meta)
			if !equalPtr(got.FullName, tt.wantName) {
				t.Errorf("FullName = %v, want %v", deref(got.FullName), deref(tt.wantName))
			}
			if !equalPtr(got.AvatarURL, tt.wantAvatar) {
				t.Errorf("AvatarURL = %v, want %v", deref(got.AvatarURL), deref(tt.wantAvatar))
			}
		})
	}

	if got := ResolveProfile(models.Profile{}, nil); got.FullName != nil || got.AvatarURL != nil {
		t.Errorf("no data: got %+v, want all absent", got)
	}
}

func TestEnrich_EmptyProfileNameWins(t *testing.T) {
	r := &fakeRemote{profile: &remote.ProfileRecord{ID: "u1", FullName: models.StringPtr("")}}
	c, _, _ := newCache(t, r)

	c.HandleSession(context.Background(), events.AuthSession{Event: events.SessionSignedIn, User: alice()})
	c.Wait()

	got := c.Cached()
	if !got.Enriched {
		t.Fatal("identity not enriched")
	}
	if got.Profile.FullName == nil || *got.Profile.FullName != "" {
		t.Errorf("FullName = %v, want empty string", deref(got.Profile.FullName))
	}
}

func TestHandleSession_OptimisticThenEnriched(t *testing.T) {
	r := &fakeRemote{profile: &remote.ProfileRecord{ID: "u1", FullName: models.StringPtr("Alice A.")}}
	c, _, bus := newCache(t, r)

	var mu sync.Mutex
	var published []*models.Identity
	bus.Subscribe(events.KindAuthStateChanged, func(ev events.Event) {
		mu.Lock()
		published = append(published, ev.Payload.(events.AuthStateChanged).User)
		mu.Unlock()
	})

	c.HandleSession(context.Background(), events.AuthSession{Event: events.SessionSignedIn, User: alice()})

	// Raw identity is available before enrichment completes.
	if !c.IsAuthenticated() {
		t.Fatal("not authenticated after sign-in")
	}
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 2 {
		t.Fatalf("published %d identities, want 2", len(published))
	}
	if published[0].Enriched {
		t.Error("first publish should be the raw identity")
	}
	if !published[1].Enriched || published[1].DisplayName() != "Alice A." {
		t.Errorf("second publish = %+v, want enriched Alice A.", published[1])
	}
}

func TestHandleSession_PreservesEnrichment(t *testing.T) {
	r := &fakeRemote{profile: &remote.ProfileRecord{ID: "u1", FullName: models.StringPtr("Alice A.")}}
	c, _, _ := newCache(t, r)

	c.HandleSession(context.Background(), events.AuthSession{Event: events.SessionSignedIn, User: alice()})
	c.Wait()

	refreshed := alice()
	refreshed.AccessToken = "tok-2"
	c.HandleSession(context.Background(), events.AuthSession{Event: events.SessionTokenRefreshed, User: refreshed})

	got := c.Cached()
	if !got.Enriched {
		t.Error("token refresh dropped enrichment")
	}
	if got.AccessToken != "tok-2" {
		t.Errorf("AccessToken = %q, want tok-2", got.AccessToken)
	}
	if got.DisplayName() != "Alice A." {
		t.Errorf("DisplayName = %q, want Alice A.", got.DisplayName())
	}
}

func TestEnrich_CreatesMissingProfile(t *testing.T) {
	r := &fakeRemote{}
	c, _, _ := newCache(t, r)

	c.HandleSession(context.Background(), events.AuthSession{Event: events.SessionSignedIn, User: alice()})
	c.Wait()

	if len(r.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(r.upserts))
	}
	if up := r.upserts[0]; up.ID != "u1" || deref(up.FullName) != "Alice" {
		t.Errorf("upsert = %+v", up)
	}
	if got := c.Cached(); !got.Enriched || got.DisplayName() != "Alice" {
		t.Errorf("cached = %+v", got)
	}
}

func TestCurrent_DeduplicatesConcurrentCalls(t *testing.T) {
	r := &fakeRemote{user: alice(), profile: &remote.ProfileRecord{ID: "u1"}, release: make(chan struct{})}
	c, s, _ := newCache(t, r)
	s.Write(KeyIdentity, alice())
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*models.Identity, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.Current(context.Background())
			if err != nil {
				t.Errorf("Current: %v", err)
			}
			results[i] = id
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(r.release)
	wg.Wait()
	c.Wait()

	if n := r.userCalls.Load(); n != 1 {
		t.Errorf("GetCurrentUser calls = %d, want 1", n)
	}
	for i, id := range results {
		if id == nil || id.ID != "u1" {
			t.Errorf("result %d = %+v", i, id)
		}
	}
}

func TestCurrent_FallsBackToCacheOnTransientError(t *testing.T) {
	r := &fakeRemote{userErr: errors.New("dial tcp: timeout")}
	c, s, _ := newCache(t, r)
	s.Write(KeyIdentity, alice())
	c.Init(context.Background())

	id, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if id == nil || id.ID != "u1" {
		t.Errorf("Current = %+v, want cached u1", id)
	}
	if !c.IsAuthenticated() {
		t.Error("transient error signed the user out")
	}
}

func TestCurrent_NoSessionSignsOut(t *testing.T) {
	r := &fakeRemote{userErr: remote.ErrNoSession}
	c, s, _ := newCache(t, r)
	s.Write(KeyIdentity, alice())
	c.Init(context.Background())

	id, err := c.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if id != nil {
		t.Errorf("Current = %+v, want nil", id)
	}
	var persisted models.Identity
	if s.Read(KeyIdentity, &persisted) {
		t.Error("identity still persisted after definitive no-session")
	}
}

func TestCurrent_NothingCached(t *testing.T) {
	r := &fakeRemote{user: alice()}
	c, _, _ := newCache(t, r)

	id, err := c.Current(context.Background())
	if err != nil || id != nil {
		t.Errorf("Current = %+v, %v; want nil, nil", id, err)
	}
	if r.userCalls.Load() != 0 {
		t.Error("remote called without a token")
	}
}

func TestSignOut_PurgesBeforeRemoteCall(t *testing.T) {
	r := &fakeRemote{signOutDly: 10 * time.Second}
	c, s, bus := newCache(t, r)

	c.HandleSession(context.Background(), events.AuthSession{Event: events.SessionSignedIn, User: alice()})
	c.Wait()

	s.Write("offsync.identity.avatar", "x")
	s.Write("offsync.profile.draft", "x")
	s.Write("cache.u1.tasks", "x")
	s.Write("offsync.rows.other.task", "x")
	s.Write("offsync.sync_queue", []string{})

	var signedOut atomic.Bool
	bus.Subscribe(events.KindAuthStateChanged, func(ev events.Event) {
		if ev.Payload.(events.AuthStateChanged).User == nil {
			signedOut.Store(true)
		}
	})

	start := time.Now()
	c.SignOut(context.Background())
	elapsed := time.Since(start)

	if elapsed > SignOutTimeout+time.Second {
		t.Errorf("SignOut took %v, want bounded by %v", elapsed, SignOutTimeout)
	}
	if c.IsAuthenticated() {
		t.Error("still authenticated")
	}
	if !signedOut.Load() {
		t.Error("no AuthStateChanged{nil} published")
	}

	keys, _ := s.Keys()
	if len(keys) != 1 || keys[0] != "offsync.sync_queue" {
		t.Errorf("keys after purge = %v, want [offsync.sync_queue]", keys)
	}
	if r.signOuts != 1 {
		t.Errorf("remote sign-outs = %d, want 1", r.signOuts)
	}
}

func TestHandleSession_SignedOutIsLocalOnly(t *testing.T) {
	r := &fakeRemote{}
	c, s, _ := newCache(t, r)
	s.Write(KeyIdentity, alice())
	c.Init(context.Background())

	c.HandleSession(context.Background(), events.AuthSession{Event: events.SessionSignedOut})

	if c.IsAuthenticated() {
		t.Error("still authenticated")
	}
	if r.signOuts != 0 {
		t.Errorf("remote sign-outs = %d, want 0", r.signOuts)
	}
}

func TestUpdateProfile_Optimistic(t *testing.T) {
	r := &fakeRemote{profile: &remote.ProfileRecord{ID: "u1"}}
	c, s, bus := newCache(t, r)

	if _, err := c.UpdateProfile(context.Background(), models.Profile{FullName: models.StringPtr("x")}); !errors.Is(err, ErrNotSignedIn) {
		t.Errorf("signed out: err = %v, want ErrNotSignedIn", err)
	}

	c.HandleSession(context.Background(), events.AuthSession{Event: events.SessionSignedIn, User: alice()})
	c.Wait()

	var seen string
	bus.Subscribe(events.KindProfileUpdated, func(ev events.Event) {
		// Cache is already updated when the event fires.
		seen = c.Cached().DisplayName()
	})

	got, err := c.UpdateProfile(context.Background(), models.Profile{FullName: models.StringPtr("Ally")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.DisplayName() != "Ally" || seen != "Ally" {
		t.Errorf("returned %q, seen in handler %q; want Ally", got.DisplayName(), seen)
	}

	var persisted models.Identity
	if !s.Read(KeyIdentity, &persisted) || persisted.DisplayName() != "Ally" {
		t.Errorf("persisted = %+v", persisted)
	}

	c.Wait()
	if len(r.updates) != 1 || r.updates[0]["full_name"] != "Ally" {
		t.Errorf("remote updates = %v", r.updates)
	}
}

func TestEnrich_KeepsProfileEditMadeDuringFetch(t *testing.T) {
	r := &fakeRemote{
		profile:        &remote.ProfileRecord{ID: "u1", FullName: models.StringPtr("Server Name")},
		profileGate:    make(chan struct{}),
		profileEntered: make(chan struct{}, 1),
	}
	c, s, _ := newCache(t, r)

	c.HandleSession(context.Background(), events.AuthSession{Event: events.SessionSignedIn, User: alice()})
	select {
	case <-r.profileEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("enrichment never fetched the profile")
	}

	if _, err := c.UpdateProfile(context.Background(), models.Profile{FullName: models.StringPtr("Local Name")}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	close(r.profileGate)
	c.Wait()

	got := c.Cached()
	if got.DisplayName() != "Local Name" {
		t.Errorf("DisplayName = %q, want the local edit", got.DisplayName())
	}
	if !got.Enriched {
		t.Error("identity not marked enriched")
	}
	var persisted models.Identity
	if !s.Read(KeyIdentity, &persisted) || persisted.DisplayName() != "Local Name" {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestInit_RestoresPersisted(t *testing.T) {
	c, s, _ := newCache(t, &fakeRemote{})
	if c.IsAuthenticated() {
		t.Fatal("authenticated before Init")
	}
	s.Write(KeyIdentity, alice())
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got := c.Cached(); got == nil || got.ID != "u1" {
		t.Errorf("Cached = %+v", got)
	}
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(p *string) string {
	if p == nil {
		return "<absent>"
	}
	return *p
}
