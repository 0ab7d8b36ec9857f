package identity

import (
	"context"

	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/remote"
)

// Remote is the slice of the auth and profile API the cache uses. Each call
// acts as the given access token.
type Remote interface {
	GetCurrentUser(ctx context.Context, token string) (*models.Identity, error)
	SignOut(ctx context.Context, token string) error
	GetProfile(ctx context.Context, token, userID string) (*remote.ProfileRecord, error)
	UpsertProfile(ctx context.Context, token string, p remote.ProfileRecord) error
	UpdateProfile(ctx context.Context, token, userID string, fields map[string]any) error
}

// clientRemote adapts *remote.Client to Remote.
type clientRemote struct {
	c *remote.Client
}

// NewRemote returns a Remote backed by client.
func NewRemote(client *remote.Client) Remote {
	return clientRemote{c: client}
}

func (r clientRemote) GetCurrentUser(ctx context.Context, token string) (*models.Identity, error) {
	return r.c.WithToken(token).GetCurrentUser(ctx)
}

func (r clientRemote) SignOut(ctx context.Context, token string) error {
	return r.c.WithToken(token).SignOut(ctx)
}

func (r clientRemote) GetProfile(ctx context.Context, token, userID string) (*remote.ProfileRecord, error) {
	return r.c.WithToken(token).GetProfile(ctx, userID)
}

func (r clientRemote) UpsertProfile(ctx context.Context, token string, p remote.ProfileRecord) error {
	return r.c.WithToken(token).UpsertProfile(ctx, p)
}

func (r clientRemote) UpdateProfile(ctx context.Context, token, userID string, fields map[string]any) error {
	return r.c.WithToken(token).UpdateProfile(ctx, userID, fields)
}
