package metastore

import (
	"context"
	"database/sql"
	"fmt"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the metadata schema in place.
//
// Tables:
//   - file_meta_data: one row per logical file, the authoritative binding
//     between a file identifier and its physical object
//   - projects: project identity, ownership, workspace association, and the
//     workbench node graph (JSON)
//   - project_to_groups / workspaces_access_rights: per-group grants
//   - user_to_groups: group membership
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 1)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS file_meta_data (
			file_id TEXT PRIMARY KEY,
			bucket TEXT NOT NULL,
			object_key TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			project_id TEXT,
			node_id TEXT,
			size_bytes INTEGER NOT NULL DEFAULT -1,
			sha256_checksum TEXT,
			entity_tag TEXT,
			upload_id TEXT,
			created_at TEXT NOT NULL,
			last_modified TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_file_meta_data_project ON file_meta_data(project_id);`,
		`CREATE INDEX IF NOT EXISTS idx_file_meta_data_user ON file_meta_data(user_id);`,

		`CREATE TABLE IF NOT EXISTS projects (
			uuid TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			prj_owner INTEGER,
			workspace_id INTEGER,
			workbench TEXT NOT NULL DEFAULT '{}'
		);`,

		`CREATE TABLE IF NOT EXISTS project_to_groups (
			project_uuid TEXT NOT NULL,
			gid INTEGER NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			write INTEGER NOT NULL DEFAULT 0,
			delete_right INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY(project_uuid, gid),
			FOREIGN KEY(project_uuid) REFERENCES projects(uuid)
		);`,

		`CREATE TABLE IF NOT EXISTS workspaces_access_rights (
			workspace_id INTEGER NOT NULL,
			gid INTEGER NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			write INTEGER NOT NULL DEFAULT 0,
			delete_right INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY(workspace_id, gid)
		);`,

		`CREATE TABLE IF NOT EXISTS user_to_groups (
			uid INTEGER NOT NULL,
			gid INTEGER NOT NULL,
			PRIMARY KEY(uid, gid)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
