package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Derkades/metrics/internal/apperr"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "metrics-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM clients`).Scan(&count); err != nil {
		t.Fatalf("clients table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM metrics`).Scan(&count); err != nil {
		t.Fatalf("metrics table missing: %v", err)
	}
}

func TestReconcileFirstContact(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	res, err := db.Reconcile("app", "uuid-1", now, time.Hour, map[string]string{"os": "linux"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !res.FirstContact {
		t.Error("expected first contact")
	}
	if res.ClientID == 0 {
		t.Error("client id not set")
	}

	values, err := db.MetricValues("app", "uuid-1")
	if err != nil {
		t.Fatal(err)
	}
	if values["os"] != "linux" {
		t.Errorf("os = %q", values["os"])
	}
}

func TestReconcileRateLimited(t *testing.T) {
	db := testDB(t)
	t0 := time.Now()

	if _, err := db.Reconcile("app", "uuid-1", t0, time.Hour, map[string]string{"os": "linux"}); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	res, err := db.Reconcile("app", "uuid-1", t0.Add(10*time.Minute), time.Hour, map[string]string{"os": "windows"})
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if res == nil || res.Elapsed < 9*time.Minute || res.Elapsed > 11*time.Minute {
		t.Errorf("elapsed = %v", res)
	}

	// Rolled back: value and timestamp untouched.
	values, err := db.MetricValues("app", "uuid-1")
	if err != nil {
		t.Fatal(err)
	}
	if values["os"] != "linux" {
		t.Errorf("os = %q after rejected submission", values["os"])
	}
	lastUpdate, _, err := db.ClientState("app", "uuid-1")
	if err != nil {
		t.Fatal(err)
	}
	if lastUpdate.Unix() != t0.Unix() {
		t.Errorf("last_update = %v, want %v", lastUpdate, t0)
	}
}

func TestReconcileUpsertsInPlace(t *testing.T) {
	db := testDB(t)
	t0 := time.Now()

	if _, err := db.Reconcile("app", "uuid-1", t0, 0, map[string]string{"os": "linux", "arch": "amd64"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Reconcile("app", "uuid-1", t0.Add(time.Hour), 0, map[string]string{"os": "windows"}); err != nil {
		t.Fatal(err)
	}

	values, err := db.MetricValues("app", "uuid-1")
	if err != nil {
		t.Fatal(err)
	}
	if values["os"] != "windows" {
		t.Errorf("os = %q, want overwrite", values["os"])
	}
	if values["arch"] != "amd64" {
		t.Errorf("arch = %q, untouched metric must survive", values["arch"])
	}

	// Still exactly one metric row per name.
	var rows int
	if err := db.conn.QueryRow(`SELECT count(*) FROM metrics`).Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 2 {
		t.Errorf("metric rows = %d, want 2", rows)
	}
}

func TestCountClientsPerSource(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_, _ = db.Reconcile("app", "uuid-1", now, 0, nil)
	_, _ = db.Reconcile("app", "uuid-2", now, 0, nil)
	_, _ = db.Reconcile("other", "uuid-1", now, 0, nil)

	count, err := db.CountClients("app")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestValueCountsGroupedAndOrdered(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_, _ = db.Reconcile("app", "uuid-1", now, 0, map[string]string{"os": "linux"})
	_, _ = db.Reconcile("app", "uuid-2", now, 0, map[string]string{"os": "linux"})
	_, _ = db.Reconcile("app", "uuid-3", now, 0, map[string]string{"os": "windows"})
	_, _ = db.Reconcile("other", "uuid-4", now, 0, map[string]string{"os": "macos"})

	counts, err := db.ValueCounts("app", "os")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 {
		t.Fatalf("counts = %v", counts)
	}
	if counts[0].Value != "linux" || counts[0].Count != 2 {
		t.Errorf("first = %+v, want linux:2", counts[0])
	}
	if counts[1].Value != "windows" || counts[1].Count != 1 {
		t.Errorf("second = %+v, want windows:1", counts[1])
	}
}

func TestSummarize(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_, _ = db.Reconcile("app", "uuid-1", now, 0, map[string]string{"players": "10"})
	_, _ = db.Reconcile("app", "uuid-2", now, 0, map[string]string{"players": "20"})

	sum, mean, err := db.Summarize("app", "players")
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Valid || sum.Float64 != 30 {
		t.Errorf("sum = %+v, want 30", sum)
	}
	if !mean.Valid || mean.Float64 != 15 {
		t.Errorf("mean = %+v, want 15", mean)
	}
}

func TestSummarizeEmptyIsNull(t *testing.T) {
	db := testDB(t)
	sum, mean, err := db.Summarize("app", "players")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Valid || mean.Valid {
		t.Errorf("sum = %+v mean = %+v, want NULL", sum, mean)
	}
}

func TestDeleteExpiredCascades(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	_, _ = db.Reconcile("app", "old", now.Add(-2*time.Hour), 0, map[string]string{"os": "linux"})
	_, _ = db.Reconcile("app", "fresh", now, 0, map[string]string{"os": "windows"})
	_, _ = db.Reconcile("other", "old", now.Add(-2*time.Hour), 0, map[string]string{"os": "macos"})

	n, err := db.DeleteExpiredBefore("app", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpiredBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	if _, ok, _ := db.ClientState("app", "old"); ok {
		t.Error("expired client still present")
	}
	if _, ok, _ := db.ClientState("app", "fresh"); !ok {
		t.Error("fresh client was deleted")
	}
	if _, ok, _ := db.ClientState("other", "old"); !ok {
		t.Error("other source's client was deleted")
	}

	// Metrics of the deleted client are gone, not orphaned.
	var orphans int
	if err := db.conn.QueryRow(`
		SELECT count(*) FROM metrics WHERE client_id NOT IN (SELECT id FROM clients)
	`).Scan(&orphans); err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Errorf("orphaned metric rows = %d", orphans)
	}
}
