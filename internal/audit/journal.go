// Package audit keeps a journal of catalog mutations in SQLite: uploads,
// deletes, prunes and any file cleanup that did not go through. The catalog
// document stays the source of truth; the journal is what an operator reads
// to find orphaned files after a failed rollback.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Event is one journal entry.
type Event struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	TrackID   string    `json:"track_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal wraps the SQLite connection. It is safe for concurrent use.
type Journal struct {
	conn   *sql.DB
	logger *logrus.Logger

	insertStmt *sql.Stmt
	recentStmt *sql.Stmt
}

// Open opens (or creates) the journal database at path.
func Open(path string, logger *logrus.Logger) (*Journal, error) {
	if logger == nil {
		logger = logrus.New()
	}

	conn, err := sql.Open("sqlite3", path+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// Writes are rare and tiny.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	j := &Journal{
		conn:   conn,
		logger: logger,
	}

	if err := j.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := j.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("journal_path", path).Info("Audit journal opened")
	return j, nil
}

func (j *Journal) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			track_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_events_track_id ON events(track_id);`,
	}
	for _, q := range queries {
		if _, err := j.conn.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) prepareStatements() error {
	var err error

	j.insertStmt, err = j.conn.Prepare(`
		INSERT INTO events (kind, track_id, detail, created_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	j.recentStmt, err = j.conn.Prepare(`
		SELECT id, kind, track_id, detail, created_at
		FROM events
		ORDER BY id DESC
		LIMIT ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare recent statement: %w", err)
	}

	return nil
}

// Record appends an entry.
func (j *Journal) Record(ctx context.Context, kind, trackID, detail string) error {
	_, err := j.insertStmt.ExecContext(ctx, kind, trackID, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record %s event: %w", kind, err)
	}
	j.logger.WithFields(logrus.Fields{
		"kind":     kind,
		"track_id": trackID,
	}).Debug("Audit event recorded")
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.recentStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.TrackID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the prepared statements and the connection.
func (j *Journal) Close() error {
	stmts := []*sql.Stmt{j.insertStmt, j.recentStmt}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return j.conn.Close()
}
