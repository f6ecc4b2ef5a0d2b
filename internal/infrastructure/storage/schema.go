package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// posts and votes belong to the feed service; they are created here only so that a fresh local
// database has everything the pipeline reads.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		description TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL,
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		category TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		severity_score DOUBLE PRECISION,
		authenticity_score DOUBLE PRECISION,
		composite_score DOUBLE PRECISION,
		created_at TIMESTAMP NOT NULL,
		analysed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_status_created ON posts (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS votes (
		post_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		vote INTEGER NOT NULL,
		created_at TIMESTAMP,
		PRIMARY KEY (post_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS escalation_artifacts (
		id TEXT PRIMARY KEY,
		escalation_date TEXT NOT NULL UNIQUE,
		report_id TEXT NOT NULL,
		content TEXT NOT NULL,
		composite_score DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS aggregation_outcomes (
		escalation_date TEXT PRIMARY KEY,
		outcome TEXT NOT NULL,
		candidates INTEGER NOT NULL,
		report_id TEXT,
		recorded_at TIMESTAMP NOT NULL
	)`,
}

// addedColumns are owned by the pipeline but live on feed tables that may predate it.
var addedColumns = []struct {
	table, column, definition string
}{
	{table: "posts", column: "analysed_at", definition: "TIMESTAMP"},
}

// Migrate creates the tables used by the pipeline if they do not exist and adds the pipeline's
// columns to an existing feed database.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	for _, c := range addedColumns {
		probe := fmt.Sprintf("SELECT %s FROM %s WHERE 1 = 0", c.column, c.table)
		if _, err := db.ExecContext(ctx, probe); err == nil {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.definition)
		if _, err := db.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("migrate: add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}
