package events

import (
	"time"

	"github.com/marcus/offsync/internal/models"
)

// Kind identifies an event type on the bus.
type Kind string

// Published by the sync core
const (
	KindFocusStateUpdated Kind = "FOCUS_STATE_UPDATED"
	KindFocusCompleted    Kind = "FOCUS_COMPLETED"
	KindSyncCompleted     Kind = "SYNC_COMPLETED"
	KindSyncEvicted       Kind = "SYNC_EVICTED"
	KindAuthStateChanged  Kind = "AUTH_STATE_CHANGED"
	KindProfileUpdated    Kind = "PROFILE_UPDATED"
)

// Consumed by the sync core
const (
	KindFocusStart          Kind = "FOCUS_START"
	KindFocusCancel         Kind = "FOCUS_CANCEL"
	KindSyncRequested       Kind = "SYNC_REQUESTED"
	KindAuthSession         Kind = "AUTH_SESSION"
	KindConnectivityChanged Kind = "CONNECTIVITY_CHANGED"
)

// Payload is implemented only by the payload types in this file, which makes
// the set of events closed: every Kind has exactly one payload shape.
type Payload interface {
	Kind() Kind
	payload()
}

// Event is what handlers receive.
type Event struct {
	Kind    Kind
	Payload Payload
}

type FocusStateUpdated struct {
	Status      models.FocusStatus
	RemainingMs int64
	EndTime     time.Time
}

type FocusCompleted struct {
	DurationMinutes int
	CompletedAt     time.Time
}

// SyncCompleted carries the number of entries confirmed by the remote store
// during one drain pass.
type SyncCompleted struct {
	Count int
}

// SyncEvicted is published when a poison entry exceeds the retry ceiling.
type SyncEvicted struct {
	EntryID    string
	EntityType models.EntityType
	RetryCount int
}

// AuthStateChanged carries the current identity; User is nil after sign-out.
type AuthStateChanged struct {
	User *models.Identity
}

type ProfileUpdated struct {
	User *models.Identity
}

type FocusStart struct {
	DurationMinutes int
}

type FocusCancel struct{}

type SyncRequested struct{}

// SessionEvent is the auth provider's session-change signal.
type SessionEvent string

const (
	SessionSignedIn       SessionEvent = "SIGNED_IN"
	SessionSignedOut      SessionEvent = "SIGNED_OUT"
	SessionTokenRefreshed SessionEvent = "TOKEN_REFRESHED"
	SessionInitial        SessionEvent = "INITIAL_SESSION"
	SessionUserUpdated    SessionEvent = "USER_UPDATED"
)

// AuthSession wraps a session-change event from the auth provider.
type AuthSession struct {
	Event SessionEvent
	User  *models.Identity
}

type ConnectivityChanged struct {
	Online bool
}

func (FocusStateUpdated) Kind() Kind   { return KindFocusStateUpdated }
func (FocusCompleted) Kind() Kind      { return KindFocusCompleted }
func (SyncCompleted) Kind() Kind       { return KindSyncCompleted }
func (SyncEvicted) Kind() Kind         { return KindSyncEvicted }
func (AuthStateChanged) Kind() Kind    { return KindAuthStateChanged }
func (ProfileUpdated) Kind() Kind      { return KindProfileUpdated }
func (FocusStart) Kind() Kind          { return KindFocusStart }
func (FocusCancel) Kind() Kind         { return KindFocusCancel }
func (SyncRequested) Kind() Kind       { return KindSyncRequested }
func (AuthSession) Kind() Kind         { return KindAuthSession }
func (ConnectivityChanged) Kind() Kind { return KindConnectivityChanged }

func (FocusStateUpdated) payload()   {}
func (FocusCompleted) payload()      {}
func (SyncCompleted) payload()       {}
func (SyncEvicted) payload()         {}
func (AuthStateChanged) payload()    {}
func (ProfileUpdated) payload()      {}
func (FocusStart) payload()          {}
func (FocusCancel) payload()         {}
func (SyncRequested) payload()       {}
func (AuthSession) payload()         {}
func (ConnectivityChanged) payload() {}

// AllKinds returns all valid event kinds.
func AllKinds() map[Kind]bool {
	return map[Kind]bool{
		KindFocusStateUpdated:   true,
		KindFocusCompleted:      true,
		KindSyncCompleted:       true,
		KindSyncEvicted:         true,
		KindAuthStateChanged:    true,
		KindProfileUpdated:      true,
		KindFocusStart:          true,
		KindFocusCancel:         true,
		KindSyncRequested:       true,
		KindAuthSession:         true,
		KindConnectivityChanged: true,
	}
}

// IsValidKind checks if the given kind string is a known event kind.
func IsValidKind(k string) bool {
	return AllKinds()[Kind(k)]
}
