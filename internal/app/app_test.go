package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/offsync/internal/config"
	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/syncqueue"
)

const testToken = "tok-1"

// backend is a minimal data+auth service holding rows in memory.
type backend struct {
	mu     sync.Mutex
	rows   map[string][]map[string]any
	nextID int
	down   atomic.Bool
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{rows: make(map[string][]map[string]any)}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	if b.down.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}
	user := map[string]any{"id": "u1", "email": "ada@example.com", "user_metadata": map[string]any{"full_name": "Ada"}}

	switch {
	case r.URL.Path == "/health":
		writeJSON(http.StatusOK, map[string]string{"status": "ok"})

	case r.URL.Path == "/auth/v1/token":
		writeJSON(http.StatusOK, map[string]any{"access_token": testToken, "user": user})

	case r.URL.Path == "/auth/v1/user":
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeJSON(http.StatusUnauthorized, map[string]string{"message": "bad token"})
			return
		}
		writeJSON(http.StatusOK, user)

	case r.URL.Path == "/auth/v1/logout":
		w.WriteHeader(http.StatusNoContent)

	case r.URL.Path == "/rest/v1/profiles":
		if r.Method == http.MethodGet {
			writeJSON(http.StatusOK, []any{})
			return
		}
		w.WriteHeader(http.StatusCreated)

	case strings.HasPrefix(r.URL.Path, "/rest/v1/"):
		table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
		b.mu.Lock()
		defer b.mu.Unlock()
		switch r.Method {
		case http.MethodPost:
			var fields map[string]any
			json.NewDecoder(r.Body).Decode(&fields)
			b.nextID++
			fields["id"] = fmt.Sprintf("srv-%d", b.nextID)
			b.rows[table] = append(b.rows[table], fields)
			writeJSON(http.StatusCreated, []any{fields})
		case http.MethodGet:
			writeJSON(http.StatusOK, b.rows[table])
		default:
			w.WriteHeader(http.StatusNoContent)
		}

	default:
		http.NotFound(w, r)
	}
}

func (b *backend) count(table string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rows[table])
}

func testConfig(url, dataDir string) config.Config {
	return config.Config{
		URL:           url,
		DataDir:       dataDir,
		DrainInterval: time.Hour,
		ProbeInterval: time.Hour,
		RemoteTimeout: 2 * time.Second,
		FocusMinutes:  25,
	}
}

func openApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a := New(cfg)
	if err := a.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return a
}

func TestInit_FreshDataDir(t *testing.T) {
	_, srv := newBackend(t)
	a := openApp(t, testConfig(srv.URL, t.TempDir()))
	defer a.Close()

	if a.Identity.Cached() != nil {
		t.Error("fresh store should have no identity")
	}
	if n := len(a.Queue.Queue()); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
	if a.Net.IsOnline() {
		t.Error("without auto sync the app starts offline")
	}
}

func TestInit_AutoSyncProbes(t *testing.T) {
	_, srv := newBackend(t)
	cfg := testConfig(srv.URL, t.TempDir())
	cfg.AutoSync = true
	a := openApp(t, cfg)
	defer a.Close()

	if !a.Net.IsOnline() {
		t.Error("auto sync should probe the health endpoint during Init")
	}
}

func TestSignIn_DrainsOfflineQueue(t *testing.T) {
	b, srv := newBackend(t)
	a := openApp(t, testConfig(srv.URL, t.TempDir()))
	defer a.Close()

	if _, err := a.Queue.Enqueue(models.EntityTask, models.OpAdd, models.Payload{Fields: map[string]any{"text": "Buy milk"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if b.count("tasks") != 0 {
		t.Fatal("offline enqueue reached the server")
	}

	user, err := a.SignIn(context.Background(), "ada@example.com", "secret")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if user == nil || user.ID != "u1" {
		t.Fatalf("SignIn user = %+v", user)
	}
	a.Flush()

	if n := len(a.Queue.Queue()); n != 0 {
		t.Errorf("queue length after sign-in = %d, want 0", n)
	}
	if b.count("tasks") != 1 {
		t.Fatalf("server tasks = %d, want 1", b.count("tasks"))
	}
	if got := b.rows["tasks"][0]["user_id"]; got != "u1" {
		t.Errorf("inserted user_id = %v, want u1", got)
	}
}

func TestList_FallsBackToSnapshotOffline(t *testing.T) {
	b, srv := newBackend(t)
	a := openApp(t, testConfig(srv.URL, t.TempDir()))
	defer a.Close()

	ctx := context.Background()
	if _, err := a.SignIn(ctx, "ada@example.com", "secret"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	a.Flush()
	b.mu.Lock()
	b.rows["tasks"] = []map[string]any{{"id": "srv-1", "text": "Remote task", "user_id": "u1"}}
	b.mu.Unlock()

	rows, fresh, err := a.List(ctx, models.EntityTask)
	if err != nil || !fresh || len(rows) != 1 {
		t.Fatalf("online List = %v rows, fresh=%v, err=%v", len(rows), fresh, err)
	}

	b.down.Store(true)
	a.Net.SetOnline(false)
	entry, err := a.Queue.Enqueue(models.EntityTask, models.OpAdd, models.Payload{Fields: map[string]any{"text": "Offline task"}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rows, fresh, err = a.List(ctx, models.EntityTask)
	if err != nil {
		t.Fatalf("offline List: %v", err)
	}
	if fresh {
		t.Error("offline List reported fresh rows")
	}
	if len(rows) != 2 {
		t.Fatalf("offline rows = %d, want 2", len(rows))
	}
	if rows[0].ID != "srv-1" || rows[0].Pending {
		t.Errorf("rows[0] = %+v, want confirmed srv-1", rows[0])
	}
	if rows[1].ID != entry.Payload.TempID || !rows[1].Pending {
		t.Errorf("rows[1] = %+v, want pending %s", rows[1], entry.Payload.TempID)
	}
}

func TestList_RequiresIdentity(t *testing.T) {
	_, srv := newBackend(t)
	a := openApp(t, testConfig(srv.URL, t.TempDir()))
	defer a.Close()

	if _, _, err := a.List(context.Background(), models.EntityTask); err == nil {
		t.Error("List without identity should fail")
	}
}

func TestSignOut_PurgesSnapshotKeepsQueue(t *testing.T) {
	b, srv := newBackend(t)
	a := openApp(t, testConfig(srv.URL, t.TempDir()))
	defer a.Close()

	ctx := context.Background()
	if _, err := a.SignIn(ctx, "ada@example.com", "secret"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	a.Flush()
	if _, _, err := a.List(ctx, models.EntityTask); err != nil {
		t.Fatalf("List: %v", err)
	}

	b.down.Store(true)
	a.Net.SetOnline(false)
	if _, err := a.Queue.Enqueue(models.EntityTask, models.OpAdd, models.Payload{Fields: map[string]any{"text": "kept"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	a.SignOut(ctx)

	keys, err := a.Store.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	for _, k := range keys {
		if k != syncqueue.QueueKey {
			t.Errorf("key %q survived sign-out", k)
		}
	}
	if len(a.Queue.Queue()) != 1 {
		t.Error("sign-out dropped queued mutations")
	}
}

func TestFocus_SurvivesRestart(t *testing.T) {
	_, srv := newBackend(t)
	dir := t.TempDir()

	first := openApp(t, testConfig(srv.URL, dir))
	if err := first.Focus.Start(25); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := openApp(t, testConfig(srv.URL, dir))
	defer second.Close()

	snap := second.Focus.Snapshot()
	if snap.Status != models.FocusRunning {
		t.Fatalf("status after restart = %s, want running", snap.Status)
	}
	if snap.RemainingMs <= 24*60*1000 || snap.RemainingMs > 25*60*1000 {
		t.Errorf("remaining = %dms, want just under 25m", snap.RemainingMs)
	}
}

func TestNoticeQueue_OnlyNewEntriesRequestDrain(t *testing.T) {
	_, srv := newBackend(t)
	a := openApp(t, testConfig(srv.URL, t.TempDir()))
	defer a.Close()

	requests := 0
	a.Bus.Subscribe(events.KindSyncRequested, func(events.Event) { requests++ })

	a.markSeen()
	a.noticeQueue()
	if requests != 0 {
		t.Fatalf("unchanged queue requested %d drains", requests)
	}

	// Another process appends an entry.
	queue := append(a.Queue.Queue(), models.QueueEntry{
		ID:         "other-process",
		EntityType: models.EntityTask,
		Operation:  models.OpAdd,
		Payload:    models.Payload{TempID: "other-process", Fields: map[string]any{"text": "x"}},
		EnqueuedAt: time.Now(),
	})
	if err := a.Store.Write(syncqueue.QueueKey, queue); err != nil {
		t.Fatalf("Write: %v", err)
	}

	a.noticeQueue()
	if requests != 1 {
		t.Errorf("requests after new entry = %d, want 1", requests)
	}
	a.noticeQueue()
	if requests != 1 {
		t.Errorf("requests after repeat = %d, want 1", requests)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	_, srv := newBackend(t)
	cfg := testConfig(srv.URL, t.TempDir())
	cfg.AutoSync = true
	a := openApp(t, cfg)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_BeforeInit(t *testing.T) {
	if err := New(config.Config{}).Run(context.Background()); err != ErrNotInitialized {
		t.Errorf("Run before Init = %v, want ErrNotInitialized", err)
	}
}
