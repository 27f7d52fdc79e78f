package store

import (
	"database/sql"
	"fmt"
)

// ValueCount is one grouped metric value with the number of clients
// currently holding it.
type ValueCount struct {
	Value string
	Count int
}

// CountClients returns the number of client rows for a source.
func (db *DB) CountClients(source string) (int, error) {
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM clients WHERE source = ?`, source).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count clients: %w", err)
	}
	return count, nil
}

// ValueCounts returns the value distribution for one metric across all
// clients of a source, ordered by count descending.
func (db *DB) ValueCounts(source, metric string) ([]ValueCount, error) {
	rows, err := db.conn.Query(`
		SELECT metric_value, COUNT(*) AS value_count
		FROM metrics
			JOIN clients ON metrics.client_id = clients.id
		WHERE clients.source = ? AND metric_name = ?
		GROUP BY metric_value
		ORDER BY value_count DESC
	`, source, metric)
	if err != nil {
		return nil, fmt.Errorf("store: value counts: %w", err)
	}
	defer rows.Close()

	var out []ValueCount
	for rows.Next() {
		var vc ValueCount
		if err := rows.Scan(&vc.Value, &vc.Count); err != nil {
			return nil, err
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// Summarize returns the sum and mean of one metric across all clients of a
// source, treating stored text values as numbers. Both are invalid (NULL)
// when no rows match.
func (db *DB) Summarize(source, metric string) (sum, mean sql.NullFloat64, err error) {
	err = db.conn.QueryRow(`
		SELECT SUM(metric_value) AS value_sum, AVG(metric_value) AS value_mean
		FROM metrics
			JOIN clients ON metrics.client_id = clients.id
		WHERE clients.source = ? AND metric_name = ?
	`, source, metric).Scan(&sum, &mean)
	if err != nil {
		err = fmt.Errorf("store: summarize: %w", err)
	}
	return sum, mean, err
}
