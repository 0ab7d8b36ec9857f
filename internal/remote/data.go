package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/marcus/offsync/internal/models"
)

// TableFor maps an entity type to its remote table.
func TableFor(et models.EntityType) (string, bool) {
	switch et {
	case models.EntityTask:
		return "tasks", true
	case models.EntityDocument:
		return "documents", true
	case models.EntityBook:
		return "books", true
	default:
		return "", false
	}
}

// Query filters a Select. Eq holds column equality filters; Order is a
// column name with optional ".asc"/".desc" suffix.
type Query struct {
	Eq    map[string]string
	Order string
	Limit int
}

// record is a flat JSON row as returned by the data API.
type record map[string]any

func (r record) toRow() models.Row {
	fields := make(map[string]any, len(r))
	var id string
	for k, v := range r {
		if k == "id" {
			switch t := v.(type) {
			case string:
				id = t
			case json.Number:
				id = t.String()
			case float64:
				id = fmt.Sprintf("%.0f", t)
			default:
				id = fmt.Sprint(t)
			}
			continue
		}
		fields[k] = v
	}
	return models.Row{ID: id, Fields: fields}
}

func returnRepresentation() http.Header {
	h := http.Header{}
	h.Set("Prefer", "return=representation")
	return h
}

// Insert creates a row and returns it with its server-assigned id.
func (c *Client) Insert(ctx context.Context, table string, fields map[string]any) (models.Row, error) {
	var out []record
	if err := c.do(ctx, http.MethodPost, "/rest/v1/"+table, fields, &out, returnRepresentation()); err != nil {
		return models.Row{}, fmt.Errorf("insert %s: %w", table, err)
	}
	if len(out) == 0 {
		return models.Row{}, fmt.Errorf("insert %s: empty response", table)
	}
	return out[0].toRow(), nil
}

// Update applies a partial field set to the row with the given id.
func (c *Client) Update(ctx context.Context, table, id string, fields map[string]any) error {
	params := url.Values{}
	params.Set("id", eq(id))
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/"+table+encodeQuery(params), fields, nil, nil); err != nil {
		return fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	return nil
}

// Delete removes the row with the given id.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	params := url.Values{}
	params.Set("id", eq(id))
	if err := c.do(ctx, http.MethodDelete, "/rest/v1/"+table+encodeQuery(params), nil, nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

// Select returns the rows of table matching q.
func (c *Client) Select(ctx context.Context, table string, q Query) ([]models.Row, error) {
	params := url.Values{}
	params.Set("select", "*")
	for col, v := range q.Eq {
		params.Set(col, eq(v))
	}
	if q.Order != "" {
		params.Set("order", q.Order)
	}
	if q.Limit > 0 {
		params.Set("limit", itoa(q.Limit))
	}

	var out []record
	if err := c.do(ctx, http.MethodGet, "/rest/v1/"+table+encodeQuery(params), nil, &out, nil); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}

	rows := make([]models.Row, 0, len(out))
	for _, r := range out {
		rows = append(rows, r.toRow())
	}
	return rows, nil
}
