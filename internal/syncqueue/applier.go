package syncqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/remote"
)

// ErrNoTable is returned for an entity type with no remote table.
var ErrNoTable = errors.New("no remote table for entity type")

// RemoteApplier applies queue entries through the remote data API, acting as
// the draining identity.
type RemoteApplier struct {
	Client *remote.Client
}

// NewRemoteApplier returns an Applier backed by client.
func NewRemoteApplier(client *remote.Client) *RemoteApplier {
	return &RemoteApplier{Client: client}
}

// Apply implements Applier. An Add is inserted with the identity id attached
// as user_id.
func (a *RemoteApplier) Apply(ctx context.Context, user *models.Identity, entry models.QueueEntry) (string, error) {
	table, ok := remote.TableFor(entry.EntityType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoTable, entry.EntityType)
	}
	c := a.Client.WithToken(user.AccessToken)

	switch entry.Operation {
	case models.OpAdd:
		fields := make(map[string]any, len(entry.Payload.Fields)+1)
		for k, v := range entry.Payload.Fields {
			fields[k] = v
		}
		fields["user_id"] = user.ID
		row, err := c.Insert(ctx, table, fields)
		if err != nil {
			return "", err
		}
		return row.ID, nil
	case models.OpUpdate:
		return "", c.Update(ctx, table, entry.Payload.TargetID, entry.Payload.Fields)
	case models.OpDelete:
		return "", c.Delete(ctx, table, entry.Payload.TargetID)
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, entry.Operation)
	}
}
