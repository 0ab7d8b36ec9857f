package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// History kinds
const (
	HistoryFocus = "focus"
)

// AppendHistory appends one record of the given kind.
func (s *Store) AppendHistory(kind string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s history: %w", kind, err)
	}
	if _, err := s.conn.Exec(`INSERT INTO history (kind, record) VALUES (?, ?)`, kind, string(data)); err != nil {
		return fmt.Errorf("append %s history: %w", kind, err)
	}
	return nil
}

// ReadHistory returns every record of kind in insertion order (oldest first).
// Records that no longer parse are logged and skipped.
func ReadHistory[T any](s *Store, kind string) ([]T, error) {
	rows, err := s.conn.Query(`SELECT id, record FROM history WHERE kind = ? ORDER BY id ASC`, kind)
	if err != nil {
		return nil, fmt.Errorf("read %s history: %w", kind, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		var rec T
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			slog.Warn("store: skipping corrupt history record", "kind", kind, "id", id, "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ClearHistory removes every record of kind.
func (s *Store) ClearHistory(kind string) error {
	if _, err := s.conn.Exec(`DELETE FROM history WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("clear %s history: %w", kind, err)
	}
	return nil
}
