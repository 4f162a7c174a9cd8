package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const linksSchema = `CREATE TABLE IF NOT EXISTS links (
	message_id TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL
)`

// SQLitePersister stores the mapping in a local SQLite database.
type SQLitePersister struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLitePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// One connection keeps the rewrite transaction and readers on the same file handle.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, linksSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create links table: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

func (s *SQLitePersister) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT message_id, task_id FROM links`)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	links := make(map[string]string)
	for rows.Next() {
		var messageID, taskID string
		if err := rows.Scan(&messageID, &taskID); err != nil {
			return nil, err
		}
		links[messageID] = taskID
	}
	return links, rows.Err()
}

// Save replaces the table contents in one transaction.
func (s *SQLitePersister) Save(ctx context.Context, links map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM links`); err != nil {
		return fmt.Errorf("failed to clear links: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO links (message_id, task_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for messageID, taskID := range links {
		if _, err := stmt.ExecContext(ctx, messageID, taskID); err != nil {
			return fmt.Errorf("failed to insert link %s: %w", messageID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLitePersister) Close() error {
	return s.db.Close()
}
