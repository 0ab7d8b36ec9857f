// Package reconcile merges authoritative remote rows with queued, not yet
// confirmed local mutations into the view a user should see.
package reconcile

import (
	"github.com/marcus/offsync/internal/models"
)

// Merge returns the rows to render for entityType. It starts from remote (in
// the order returned by the server) and replays matching queue entries in
// enqueue order:
//
//   - Add appends a synthetic pending row keyed by the entry's temporary id.
//     If a row with that id is already present it is replaced, never
//     duplicated.
//   - Update overlays its fields on the row with the target id and flags it
//     pending. Unknown ids are ignored.
//   - Delete removes the row with the target id. Unknown ids are ignored.
//
// Merge is a pure function: neither remote nor queue is modified.
func Merge(entityType models.EntityType, remote []models.Row, queue []models.QueueEntry) []models.Row {
	rows := make([]models.Row, 0, len(remote))
	index := make(map[string]int, len(remote))
	for _, r := range remote {
		if i, dup := index[r.ID]; dup {
			rows[i] = r.Clone()
			continue
		}
		index[r.ID] = len(rows)
		rows = append(rows, r.Clone())
	}

	for _, entry := range queue {
		if entry.EntityType != entityType {
			continue
		}
		id := entry.RowID()
		if id == "" {
			continue
		}

		switch entry.Operation {
		case models.OpAdd:
			row := models.Row{ID: id, Fields: copyFields(entry.Payload.Fields), Pending: true}
			if i, ok := index[id]; ok {
				rows[i] = row
			} else {
				index[id] = len(rows)
				rows = append(rows, row)
			}

		case models.OpUpdate:
			i, ok := index[id]
			if !ok {
				continue
			}
			for k, v := range entry.Payload.Fields {
				rows[i].Fields[k] = v
			}
			rows[i].Pending = true

		case models.OpDelete:
			i, ok := index[id]
			if !ok {
				continue
			}
			rows = append(rows[:i], rows[i+1:]...)
			delete(index, id)
			for j := i; j < len(rows); j++ {
				index[rows[j].ID] = j
			}
		}
	}

	return rows
}

// PendingIDs returns the ids of rows in view that carry unconfirmed local
// state.
func PendingIDs(view []models.Row) []string {
	var ids []string
	for _, r := range view {
		if r.Pending {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func copyFields(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
