package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/offsync/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, "anon-key", time.Second)
}

func TestDo_SetsHeaders(t *testing.T) {
	var gotKey, gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status":"ok"}`))
	}).WithToken("tok")

	resp, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if gotKey != "anon-key" {
		t.Errorf("apikey = %q, want anon-key", gotKey)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
}

func TestDo_ErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"code":"x","message":"nope"}`))
			})
			_, err := c.Health(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDo_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":"23505","message":"duplicate key"}`))
	})
	_, err := c.Health(context.Background())
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *apiError", err)
	}
	if apiErr.Code != "23505" {
		t.Errorf("code = %q, want 23505", apiErr.Code)
	}
}

func TestDo_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, "", 50*time.Millisecond)
	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestInsert(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/tasks" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":42,"text":"Buy milk","user_id":"u1"}]`))
	})

	row, err := c.Insert(context.Background(), "tasks", map[string]any{"text": "Buy milk", "user_id": "u1"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if row.ID != "42" {
		t.Errorf("ID = %q, want 42", row.ID)
	}
	if row.Fields["text"] != "Buy milk" {
		t.Errorf("text = %v", row.Fields["text"])
	}
	if _, ok := row.Fields["id"]; ok {
		t.Error("id should not be duplicated in fields")
	}
	if body["text"] != "Buy milk" {
		t.Errorf("request body = %v", body)
	}
}

func TestUpdateAndDelete_FilterByID(t *testing.T) {
	var methods, filters []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		filters = append(filters, r.URL.Query().Get("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	ctx := context.Background()
	if err := c.Update(ctx, "documents", "d1", map[string]any{"title": "x"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := c.Delete(ctx, "documents", "d1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if methods[0] != http.MethodPatch || methods[1] != http.MethodDelete {
		t.Errorf("methods = %v", methods)
	}
	for _, f := range filters {
		if f != "eq.d1" {
			t.Errorf("id filter = %q, want eq.d1", f)
		}
	}
}

func TestSelect_Query(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("user_id") != "eq.u1" {
			t.Errorf("user_id = %q", q.Get("user_id"))
		}
		if q.Get("order") != "created_at.asc" {
			t.Errorf("order = %q", q.Get("order"))
		}
		if q.Get("limit") != "5" {
			t.Errorf("limit = %q", q.Get("limit"))
		}
		w.Write([]byte(`[{"id":"a","text":"one"},{"id":"b","text":"two"}]`))
	})

	rows, err := c.Select(context.Background(), "tasks", Query{
		Eq:    map[string]string{"user_id": "u1"},
		Order: "created_at.asc",
		Limit: 5,
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "a" || rows[1].ID != "b" {
		t.Errorf("rows = %+v", rows)
	}
}

func TestTableFor(t *testing.T) {
	for _, et := range models.AllEntityTypes() {
		if _, ok := TableFor(et); !ok {
			t.Errorf("no table for %s", et)
		}
	}
	if _, ok := TableFor("habit"); ok {
		t.Error("unexpected table for unknown entity type")
	}
}

func TestSignIn(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("grant_type = %q", r.URL.Query().Get("grant_type"))
		}
		w.Write([]byte(`{"access_token":"tok","user":{"id":"u1","email":"a@b.c","user_metadata":{"full_name":"Alice","age":3}}}`))
	})

	id, err := c.SignIn(context.Background(), "a@b.c", "pw")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if id.ID != "u1" || id.AccessToken != "tok" {
		t.Errorf("identity = %+v", id)
	}
	if id.Metadata["full_name"] != "Alice" {
		t.Errorf("metadata = %v", id.Metadata)
	}
	if _, ok := id.Metadata["age"]; ok {
		t.Error("non-string metadata should be dropped")
	}
	if id.Enriched {
		t.Error("sign-in identity should not be enriched")
	}
}

func TestGetCurrentUser_NoSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if _, err := c.GetCurrentUser(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("no token: err = %v, want ErrNoSession", err)
	}
	if _, err := c.WithToken("expired").GetCurrentUser(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("rejected token: err = %v, want ErrNoSession", err)
	}
}

func TestGetProfile(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantNil  bool
		wantName *string
	}{
		{"missing profile", `[]`, true, nil},
		{"empty name is present", `[{"id":"u1","full_name":""}]`, false, models.StringPtr("")},
		{"null name is absent", `[{"id":"u1","full_name":null}]`, false, nil},
		{"name set", `[{"id":"u1","full_name":"Bob"}]`, false, models.StringPtr("Bob")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			p, err := c.GetProfile(context.Background(), "u1")
			if err != nil {
				t.Fatalf("GetProfile: %v", err)
			}
			if (p == nil) != tt.wantNil {
				t.Fatalf("profile = %+v, wantNil %v", p, tt.wantNil)
			}
			if p == nil {
				return
			}
			switch {
			case tt.wantName == nil && p.FullName != nil:
				t.Errorf("FullName = %q, want absent", *p.FullName)
			case tt.wantName != nil && (p.FullName == nil || *p.FullName != *tt.wantName):
				t.Errorf("FullName = %v, want %q", p.FullName, *tt.wantName)
			}
		})
	}
}

func TestUpsertProfile_MergesDuplicates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Prefer") != "resolution=merge-duplicates" {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}
		if r.URL.Query().Get("on_conflict") != "id" {
			t.Errorf("on_conflict = %q", r.URL.Query().Get("on_conflict"))
		}
		w.WriteHeader(http.StatusCreated)
	})

	err := c.UpsertProfile(context.Background(), ProfileRecord{ID: "u1", FullName: models.StringPtr("Alice")})
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
}
