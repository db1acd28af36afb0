package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aide-chat/aide/pkg/models"
)

// ErrSnapshotNotFound is returned when loading a snapshot that does not exist.
var ErrSnapshotNotFound = errors.New("conversation: snapshot not found")

// Snapshot is a named, persisted copy of a session's conversation.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	System    string    `json:"system"`
	Messages  int       `json:"messages"`
	SavedAt   time.Time `json:"saved_at"`
}

// Archive persists named conversation snapshots in SQLite. Saving over an
// existing (session, name) pair replaces it.
type Archive struct {
	db *sql.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	session_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	model      TEXT NOT NULL,
	system     TEXT NOT NULL,
	messages   TEXT NOT NULL,
	saved_at   TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, name)
);`

// OpenArchive opens (creating if needed) the snapshot database at path.
// Use ":memory:" for an ephemeral archive.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	// modernc.org/sqlite serializes through a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init snapshot schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close releases the underlying database.
func (a *Archive) Close() error { return a.db.Close() }

// Save stores the session's conversation under name, replacing any previous
// snapshot with that name.
func (a *Archive) Save(ctx context.Context, state *State, name string) error {
	if name == "" {
		return errors.New("conversation: snapshot name is required")
	}
	payload, err := json.Marshal(state.Messages())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO snapshots (session_id, name, model, system, messages, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, name) DO UPDATE SET
		   model = excluded.model,
		   system = excluded.system,
		   messages = excluded.messages,
		   saved_at = excluded.saved_at`,
		state.SessionID, name, state.Model, state.SystemPrompt, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load restores a named snapshot into the session's state, replacing its
// current message log.
func (a *Archive) Load(ctx context.Context, state *State, name string) error {
	row := a.db.QueryRowContext(ctx,
		`SELECT model, system, messages FROM snapshots WHERE session_id = ? AND name = ?`,
		state.SessionID, name)

	var model, system, payload string
	if err := row.Scan(&model, &system, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSnapshotNotFound
		}
		return fmt.Errorf("load snapshot: %w", err)
	}

	var msgs []models.Message
	if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	state.Model = model
	state.SystemPrompt = system
	state.Restore(msgs)
	return nil
}

// List returns the snapshots stored for a session, newest first.
func (a *Archive) List(ctx context.Context, sessionID string) ([]Snapshot, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT name, model, system, messages, saved_at
		 FROM snapshots WHERE session_id = ? ORDER BY saved_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		var payload string
		if err := rows.Scan(&snap.Name, &snap.Model, &snap.System, &payload, &snap.SavedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.SessionID = sessionID
		var msgs []json.RawMessage
		if err := json.Unmarshal([]byte(payload), &msgs); err == nil {
			snap.Messages = len(msgs)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Delete removes a named snapshot. Deleting a missing snapshot is not an
// error.
func (a *Archive) Delete(ctx context.Context, sessionID, name string) error {
	_, err := a.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE session_id = ? AND name = ?`, sessionID, name)
	return err
}
