package store

import (
	"database/sql"
	"net/url"
	"path/filepath"
	"testing"
)

func testRawDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	u := url.URL{Scheme: "file", Path: path}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrationsFreshDB(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 4 {
		t.Fatalf("expected version 4, got %d", version)
	}

	for _, table := range []string{"messages", "attachment_contents", "legacy_attachments", "attachment_references"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Fatalf("check %s: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("%s table not created", table)
		}
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 4 {
		t.Fatalf("expected version 4, got %d", version)
	}
}

func TestDetectPreMigrationDB(t *testing.T) {
	db := testRawDB(t)

	pre, err := detectPreMigrationDB(db)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if pre {
		t.Fatal("empty DB should not be pre-migration")
	}

	// A legacy-only database: the version 1 schema without bookkeeping.
	if _, err := db.Exec(migrations[0].SQL); err != nil {
		t.Fatalf("create legacy schema: %v", err)
	}

	pre, err = detectPreMigrationDB(db)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !pre {
		t.Fatal("DB with messages but no schema_migrations should be pre-migration")
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pre, err = detectPreMigrationDB(db)
	if err != nil {
		t.Fatalf("detect after migration: %v", err)
	}
	if pre {
		t.Fatal("after migration should not be pre-migration")
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 4 {
		t.Fatalf("expected version 4, got %d", version)
	}
}

func TestMigrationPlan(t *testing.T) {
	db := testRawDB(t)

	plan, err := MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.CurrentVersion != 0 {
		t.Fatalf("expected current 0, got %d", plan.CurrentVersion)
	}
	if plan.AvailableVersion != 4 {
		t.Fatalf("expected available 4, got %d", plan.AvailableVersion)
	}
	if len(plan.Pending) != 4 {
		t.Fatalf("expected 4 pending, got %d", len(plan.Pending))
	}
}

func TestMigrationReferenceGraphConstraints(t *testing.T) {
	db := testRawDB(t)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO attachment_contents (unique_id, mime_type, byte_count, encryption_key, created_at)
		VALUES ('c-1', 'image/png', 3, x'01', datetime('now'))`); err != nil {
		t.Fatalf("insert content: %v", err)
	}

	insert := `INSERT INTO attachment_references (owner_type, owner_row_id, content_id, order_in_owner, thread_row_id, created_at)
		VALUES (?, ?, ?, ?, 1, datetime('now'))`

	if _, err := db.Exec(insert, 2, 10, 1, nil); err != nil {
		t.Fatalf("insert link preview edge: %v", err)
	}
	if _, err := db.Exec(insert, 2, 10, 1, nil); err == nil {
		t.Fatal("expected second edge for a single-valued role to fail")
	}

	if _, err := db.Exec(insert, 0, 10, 1, 0); err != nil {
		t.Fatalf("insert body edge: %v", err)
	}
	if _, err := db.Exec(insert, 0, 10, 1, 1); err != nil {
		t.Fatalf("insert second body edge: %v", err)
	}
	if _, err := db.Exec(insert, 0, 10, 1, 1); err == nil {
		t.Fatal("expected duplicate body order to fail")
	}

	if _, err := db.Exec(insert, 9, 10, 1, nil); err == nil {
		t.Fatal("expected unknown owner type to fail")
	}
	if _, err := db.Exec(insert, 3, 0, 1, nil); err == nil {
		t.Fatal("expected uninserted owner row to fail")
	}
	if _, err := db.Exec(insert, 3, 10, 99, nil); err == nil {
		t.Fatal("expected dangling content id to fail")
	}

	if _, err := db.Exec(`UPDATE attachment_references SET content_type = 2 WHERE owner_type = 2`); err != nil {
		t.Fatalf("content_type column from version 3: %v", err)
	}
}
