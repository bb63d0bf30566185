package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Action statuses. An action stays running until Finish closes it; a row
// left running by a crashed process is detectable by probing its pid.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
)

// Action is one journaled command invocation.
type Action struct {
	ID         int64      `json:"id"`
	Command    string     `json:"command"`
	Package    string     `json:"package"`
	Version    string     `json:"version,omitempty"`
	Pid        int        `json:"pid"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Running reports whether the action has not finished yet.
func (a *Action) Running() bool {
	return a.Status == StatusRunning
}

// Begin inserts a running action and returns its journal id.
func (s *Store) Begin(a *Action) (int64, error) {
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}

	query := `
		INSERT INTO actions (command, package, version, pid, status, error, warnings, started_at)
		VALUES (?, ?, ?, ?, ?, '', '[]', ?)
	`

	result, err := s.db.Exec(query,
		a.Command,
		a.Package,
		a.Version,
		a.Pid,
		StatusRunning,
		a.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get action ID: %w", err)
	}

	a.ID = id
	a.Status = StatusRunning
	return id, nil
}

// Finish closes an action with its outcome.
func (s *Store) Finish(id int64, status, errMsg string, warnings []string) error {
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
		UPDATE actions
		SET status = ?, error = ?, warnings = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		status,
		errMsg,
		string(warningsJSON),
		time.Now().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish action %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("action %d not found", id)
	}

	return nil
}

// Last returns the most recent action for a package, or nil when the journal
// has none.
func (s *Store) Last(pkg string) (*Action, error) {
	query := `
		SELECT id, command, package, version, pid, status, error, warnings, started_at, finished_at
		FROM actions
		WHERE package = ?
		ORDER BY id DESC
		LIMIT 1
	`

	a, err := scanAction(s.db.QueryRow(query, pkg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last action for %s: %w", pkg, err)
	}
	return a, nil
}

// Recent returns up to limit actions for a package, newest first.
func (s *Store) Recent(pkg string, limit int) ([]*Action, error) {
	query := `
		SELECT id, command, package, version, pid, status, error, warnings, started_at, finished_at
		FROM actions
		WHERE package = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, pkg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions for %s: %w", pkg, err)
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*Action, error) {
	var a Action
	var startedAt string
	var finishedAt sql.NullString
	var warningsJSON string

	err := row.Scan(
		&a.ID,
		&a.Command,
		&a.Package,
		&a.Version,
		&a.Pid,
		&a.Status,
		&a.Error,
		&warningsJSON,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	a.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		a.FinishedAt = &t
	}
	if warningsJSON != "" {
		if err := json.Unmarshal([]byte(warningsJSON), &a.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	if len(a.Warnings) == 0 {
		a.Warnings = nil
	}

	return &a, nil
}
