package models

import (
	"time"
)

// EntityType tags the remote collection a mutation targets
type EntityType string

const (
	EntityTask     EntityType = "task"
	EntityDocument EntityType = "document"
	EntityBook     EntityType = "book"
)

// AllEntityTypes returns all syncable entity types.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityTask, EntityDocument, EntityBook}
}

// IsValidEntityType checks if the given entity type string is known.
func IsValidEntityType(et string) bool {
	for _, t := range AllEntityTypes() {
		if string(t) == et {
			return true
		}
	}
	return false
}

// Operation is the kind of mutation held by a queue entry
type Operation string

const (
	OpAdd    Operation = "add"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsValid reports whether op is one of the three queue operations.
func (op Operation) IsValid() bool {
	switch op {
	case OpAdd, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Payload is the operation-specific body of a queue entry.
// Add: Fields holds the full record (no server id), TempID the synthetic id.
// Update: TargetID + partial Fields. Delete: TargetID only.
type Payload struct {
	TempID   string         `json:"temp_id,omitempty"`
	TargetID string         `json:"target_id,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// QueueEntry is a pending mutation awaiting remote confirmation
type QueueEntry struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	Operation  Operation  `json:"operation"`
	Payload    Payload    `json:"payload"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	RetryCount int        `json:"retry_count"`
	// OwnerID is the user signed in at enqueue time; empty when nobody was.
	OwnerID    string     `json:"owner_id,omitempty"`
}

// RowID returns the id of the row an entry targets. For an Add this is the
// temporary id assigned at enqueue time.
func (e QueueEntry) RowID() string {
	if e.Operation == OpAdd {
		if e.Payload.TempID != "" {
			return e.Payload.TempID
		}
		return e.ID
	}
	return e.Payload.TargetID
}

// Row is one record of a collection as rendered to the user
type Row struct {
	ID      string         `json:"id"`
	Fields  map[string]any `json:"fields"`
	Pending bool           `json:"pending,omitempty"`
}

// Clone returns a deep-enough copy of the row: the field map is copied so the
// caller may overlay fields without touching the original.
func (r Row) Clone() Row {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Row{ID: r.ID, Fields: fields, Pending: r.Pending}
}

// Profile holds user-facing profile fields. Nil pointers mean "absent";
// a non-nil pointer to "" is a present, empty value.
type Profile struct {
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Identity is the authenticated principal
type Identity struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	Profile     Profile           `json:"profile"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	AccessToken string            `json:"access_token,omitempty"`
	Enriched    bool              `json:"enriched"`
}

// DisplayName returns the profile name, or the email when no name is set.
func (i *Identity) DisplayName() string {
	if i == nil {
		return ""
	}
	if i.Profile.FullName != nil && *i.Profile.FullName != "" {
		return *i.Profile.FullName
	}
	return i.Email
}

// Clone returns a copy that shares no mutable state with i.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	if i.Profile.FullName != nil {
		v := *i.Profile.FullName
		c.Profile.FullName = &v
	}
	if i.Profile.AvatarURL != nil {
		v := *i.Profile.AvatarURL
		c.Profile.AvatarURL = &v
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// FocusStatus represents the state of the focus timer
type FocusStatus string

const (
	FocusIdle      FocusStatus = "idle"
	FocusRunning   FocusStatus = "running"
	FocusCompleted FocusStatus = "completed"
)

// FocusSession is a snapshot of the focus timer
type FocusSession struct {
	Status          FocusStatus `json:"status"`
	EndTime         time.Time   `json:"end_time"`
	RemainingMs     int64       `json:"remaining_ms"`
	DurationMinutes int         `json:"duration_minutes"`
}

// FocusRecord is one completed focus session kept in history
type FocusRecord struct {
	DurationMinutes int       `json:"duration_minutes"`
	CompletedAt     time.Time `json:"completed_at"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
