package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Derkades/metrics/internal/apperr"
)

// SubmissionResult describes an applied (or rate-limited) submission.
type SubmissionResult struct {
	ClientID     int64
	FirstContact bool
	// Elapsed is the time since the previous accepted submission.
	// Zero on first contact.
	Elapsed time.Duration
}

// Reconcile applies one submission in a single transaction: it looks up or
// creates the client row, enforces the minimum interval between accepted
// submissions, bumps last_update, and upserts every metric value.
//
// First contact is accepted unconditionally. A repeat submission with
// elapsed < minInterval is rolled back untouched and returns
// apperr.ErrRateLimited together with a non-nil result carrying the
// elapsed time for diagnostics.
func (db *DB) Reconcile(source, uuid string, now time.Time, minInterval time.Duration, values map[string]string) (*SubmissionResult, error) {
	now = now.UTC()

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	res := &SubmissionResult{}
	var lastUpdate time.Time
	err = tx.QueryRow(`
		SELECT id, last_update
		FROM clients
		WHERE source = ? AND uuid = ?
	`, source, uuid).Scan(&res.ClientID, &lastUpdate)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		res.FirstContact = true
		r, insErr := tx.Exec(`INSERT INTO clients (source, uuid, last_update) VALUES (?, ?, ?)`, source, uuid, now)
		if insErr != nil {
			return nil, fmt.Errorf("store: insert client: %w", insErr)
		}
		if res.ClientID, insErr = r.LastInsertId(); insErr != nil {
			return nil, fmt.Errorf("store: client id: %w", insErr)
		}

	case err != nil:
		return nil, fmt.Errorf("store: lookup client: %w", err)

	default:
		res.Elapsed = now.Sub(lastUpdate.UTC())
		if res.Elapsed < minInterval {
			return res, apperr.ErrRateLimited
		}
		if _, err := tx.Exec(`UPDATE clients SET last_update = ? WHERE id = ?`, now, res.ClientID); err != nil {
			return nil, fmt.Errorf("store: update client: %w", err)
		}
	}

	if len(values) > 0 {
		stmt, err := tx.Prepare(`
			INSERT INTO metrics (client_id, metric_name, metric_value)
			VALUES (?, ?, ?)
			ON CONFLICT (client_id, metric_name)
				DO UPDATE SET metric_value = excluded.metric_value
		`)
		if err != nil {
			return nil, fmt.Errorf("store: prepare metric upsert: %w", err)
		}
		defer stmt.Close()
		for name, value := range values {
			if _, err := stmt.Exec(res.ClientID, name, value); err != nil {
				return nil, fmt.Errorf("store: upsert metric %s: %w", name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return res, nil
}

// ClientState returns the stored last_update for (source, uuid), reporting
// whether the client exists.
func (db *DB) ClientState(source, uuid string) (time.Time, bool, error) {
	var lastUpdate time.Time
	err := db.conn.QueryRow(`SELECT last_update FROM clients WHERE source = ? AND uuid = ?`, source, uuid).Scan(&lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: client state: %w", err)
	}
	return lastUpdate, true, nil
}

// MetricValues returns every stored metric name and value for (source, uuid).
func (db *DB) MetricValues(source, uuid string) (map[string]string, error) {
	rows, err := db.conn.Query(`
		SELECT metric_name, metric_value
		FROM metrics
			JOIN clients ON metrics.client_id = clients.id
		WHERE clients.source = ? AND clients.uuid = ?
	`, source, uuid)
	if err != nil {
		return nil, fmt.Errorf("store: metric values: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}
