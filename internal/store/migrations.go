package store

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a schema migration step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus reports the current and available migration versions.
type MigrationStatus struct {
	CurrentVersion   int             `json:"current_version"`
	AvailableVersion int             `json:"available_version"`
	Pending          []MigrationInfo `json:"pending"`
}

// MigrationInfo describes a single migration.
type MigrationInfo struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// migrations is the ordered list of all schema migrations.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: threads, stories, messages, contents and legacy attachment lists",
		SQL: `
CREATE TABLE IF NOT EXISTS threads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  unique_id TEXT NOT NULL UNIQUE,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stories (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  unique_id TEXT NOT NULL UNIQUE,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  unique_id TEXT NOT NULL UNIQUE,
  thread_row_id INTEGER NOT NULL,
  body TEXT,
  edit_state INTEGER NOT NULL DEFAULT 0,
  latest_revision_row_id INTEGER,
  legacy_attachment_ids TEXT NOT NULL DEFAULT '[]',
  quoted_reply TEXT,
  link_preview TEXT,
  sticker TEXT,
  contact TEXT,
  created_at TEXT NOT NULL,
  FOREIGN KEY (thread_row_id) REFERENCES threads(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS attachment_contents (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  unique_id TEXT NOT NULL UNIQUE,
  content_type INTEGER NOT NULL DEFAULT 0,
  mime_type TEXT NOT NULL,
  byte_count INTEGER NOT NULL,
  encryption_key BLOB NOT NULL,
  digest BLOB,
  plaintext_hash TEXT,
  local_relative_path TEXT,
  cdn_key TEXT,
  cdn_number INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS legacy_attachments (
  unique_id TEXT PRIMARY KEY,
  content_id INTEGER NOT NULL,
  mime_type TEXT NOT NULL,
  caption TEXT,
  flags INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  FOREIGN KEY (content_id) REFERENCES attachment_contents(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_row_id);
CREATE INDEX IF NOT EXISTS idx_messages_latest_revision ON messages(latest_revision_row_id);
CREATE INDEX IF NOT EXISTS idx_attachment_contents_plaintext_hash ON attachment_contents(plaintext_hash, mime_type);
CREATE INDEX IF NOT EXISTS idx_attachment_contents_local_path ON attachment_contents(local_relative_path);
CREATE INDEX IF NOT EXISTS idx_legacy_attachments_content ON legacy_attachments(content_id);
`,
	},
	{
		Version:     2,
		Description: "attachment reference graph",
		SQL: `
CREATE TABLE IF NOT EXISTS attachment_references (
  owner_type INTEGER NOT NULL CHECK (owner_type BETWEEN 0 AND 8),
  owner_row_id INTEGER NOT NULL CHECK (owner_row_id > 0),
  content_id INTEGER NOT NULL,
  order_in_owner INTEGER,
  flags INTEGER NOT NULL DEFAULT 0,
  thread_row_id INTEGER,
  caption TEXT,
  sticker_pack_id BLOB,
  sticker_id INTEGER,
  created_at TEXT NOT NULL,
  FOREIGN KEY (content_id) REFERENCES attachment_contents(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_attachment_references_single
  ON attachment_references(owner_type, owner_row_id) WHERE owner_type != 0;
CREATE UNIQUE INDEX IF NOT EXISTS ux_attachment_references_body
  ON attachment_references(owner_row_id, order_in_owner) WHERE owner_type = 0;
CREATE INDEX IF NOT EXISTS idx_attachment_references_content ON attachment_references(content_id);
CREATE INDEX IF NOT EXISTS idx_attachment_references_thread
  ON attachment_references(thread_row_id) WHERE thread_row_id IS NOT NULL;
`,
	},
	{
		Version:     3,
		Description: "cache content type on attachment references",
		SQL: `
ALTER TABLE attachment_references ADD COLUMN content_type INTEGER;
`,
	},
	{
		Version:     4,
		Description: "mark prior revisions whose attachments were reconciled",
		SQL: `
ALTER TABLE messages ADD COLUMN attachments_reconciled_at TEXT;
`,
	},
}

const migrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);
`

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist.
func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(migrationsTableSQL)
	return err
}

// currentVersion returns the highest applied migration version, or 0 if none.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// detectPreMigrationDB checks if the messages table exists but no migrations have
// been recorded, which marks a legacy-only database created before versioning.
func detectPreMigrationDB(db *sql.DB) (bool, error) {
	var messagesExist int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='messages'").Scan(&messagesExist)
	if err != nil {
		return false, err
	}
	if messagesExist == 0 {
		return false, nil
	}

	// Check if schema_migrations table exists.
	var migrationsExist int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&migrationsExist)
	if err != nil {
		return false, err
	}
	if migrationsExist == 0 {
		return true, nil
	}

	// Table exists but may be empty (e.g. created but no versions recorded).
	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// runMigrations applies all pending migrations in order.
func runMigrations(db *sql.DB) error {
	// Detect pre-migration databases BEFORE creating the migrations table.
	preMigration, err := detectPreMigrationDB(db)
	if err != nil {
		return fmt.Errorf("detect pre-migration db: %w", err)
	}

	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	if preMigration {
		// Mark migration 1 as applied since the schema already exists.
		if _, err := db.Exec("INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", 1); err != nil {
			return fmt.Errorf("stamp pre-migration db: %w", err)
		}
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// MigrationPlan returns the current migration status without applying anything.
func MigrationPlan(db *sql.DB) (*MigrationStatus, error) {
	// Detect pre-migration databases BEFORE creating the migrations table.
	preMigration, err := detectPreMigrationDB(db)
	if err != nil {
		return nil, err
	}

	if err := ensureMigrationsTable(db); err != nil {
		return nil, err
	}

	current, err := currentVersion(db)
	if err != nil {
		return nil, err
	}

	// If pre-migration DB, treat as version 1 for planning purposes.
	effective := current
	if preMigration && effective == 0 {
		effective = 1
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	available := 0
	if len(sorted) > 0 {
		available = sorted[len(sorted)-1].Version
	}

	var pending []MigrationInfo
	for _, m := range sorted {
		if m.Version > effective {
			pending = append(pending, MigrationInfo{Version: m.Version, Description: m.Description})
		}
	}

	return &MigrationStatus{
		CurrentVersion:   effective,
		AvailableVersion: available,
		Pending:          pending,
	}, nil
}
