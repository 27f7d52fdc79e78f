package store

import (
	"fmt"
	"time"
)

// DeleteExpiredBefore removes every client of source whose last_update is
// older than cutoff. Metric rows are removed by the cascade. Returns the
// number of clients deleted.
func (db *DB) DeleteExpiredBefore(source string, cutoff time.Time) (int64, error) {
	r, err := db.conn.Exec(`DELETE FROM clients WHERE source = ? AND last_update < ?`, source, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("store: delete expired: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: rows affected: %w", err)
	}
	return n, nil
}
