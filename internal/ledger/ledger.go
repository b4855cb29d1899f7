// Package ledger keeps a local SQLite history of submitted and dry-run
// transfers so runs can be audited and task statuses refreshed later.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/cortexlab/alyx-go/internal/transfer"
)

// Row statuses written by Record. UpdateStatus stores whatever the transfer
// service reports (ACTIVE, SUCCEEDED, FAILED, ...).
const (
	StatusDryRun    = "dry_run"
	StatusSubmitted = "submitted"
)

// ErrUnknownTask means UpdateStatus found no row for the task id.
var ErrUnknownTask = errors.New("ledger: unknown task")

// Entry is one row of the transfers table.
type Entry struct {
	ID                    int64     `json:"id"`
	RunID                 string    `json:"run_id"`
	Dataset               string    `json:"dataset"`
	SourceFileID          string    `json:"source_file_id"`
	DestinationFileID     string    `json:"destination_file_id"`
	SourceRepository      string    `json:"source_repository"`
	DestinationRepository string    `json:"destination_repository"`
	SourceEndpoint        string    `json:"source_endpoint"`
	DestinationEndpoint   string    `json:"destination_endpoint"`
	SourcePath            string    `json:"source_path"`
	DestinationPath       string    `json:"destination_path"`
	Label                 string    `json:"label"`
	DryRun                bool      `json:"dry_run"`
	TaskID                string    `json:"task_id,omitempty"`
	Code                  string    `json:"code,omitempty"`
	Message               string    `json:"message,omitempty"`
	Status                string    `json:"status"`
	SubmittedAt           time.Time `json:"submitted_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

const sqlInsert = `INSERT INTO transfers
	(run_id, dataset, source_file_id, destination_file_id,
	 source_repository, destination_repository, source_endpoint, destination_endpoint,
	 source_path, destination_path, label, dry_run, task_id, code, message,
	 status, submitted_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const sqlRecent = `SELECT id, run_id, dataset, source_file_id, destination_file_id,
	source_repository, destination_repository, source_endpoint, destination_endpoint,
	source_path, destination_path, label, dry_run, task_id, code, message,
	status, submitted_at, updated_at
	FROM transfers ORDER BY id DESC LIMIT ?`

// Ledger is the transfer history database.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ledger: creating directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %w", path, err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("path", path))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores one transfer outcome under runID.
func (l *Ledger) Record(ctx context.Context, runID string, o transfer.Outcome) error {
	now := l.nowFunc().Unix()

	status := StatusSubmitted
	if o.DryRun {
		status = StatusDryRun
	}

	var taskID sql.NullString
	if o.TaskID != "" {
		taskID = sql.NullString{String: o.TaskID, Valid: true}
	}

	r := o.Request
	d := o.Descriptor

	_, err := l.db.ExecContext(ctx, sqlInsert,
		runID, r.Dataset, r.SourceFileID, r.DestinationFileID,
		r.SourceRepository, r.DestinationRepository, d.SourceEndpoint, d.DestinationEndpoint,
		d.SourcePath, d.DestinationPath, d.Label, o.DryRun, taskID, o.Code, o.Message,
		status, now, now,
	)
	if err != nil {
		return fmt.Errorf("ledger: recording %s: %w", d.Label, err)
	}

	return nil
}

// UpdateStatus sets the status of the row holding taskID.
func (l *Ledger) UpdateStatus(ctx context.Context, taskID, status string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE transfers SET status = ?, updated_at = ? WHERE task_id = ?`,
		status, l.nowFunc().Unix(), taskID,
	)
	if err != nil {
		return fmt.Errorf("ledger: updating task %s: %w", taskID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: updating task %s: %w", taskID, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	return nil
}

// Recent returns up to limit rows, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, sqlRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e                  Entry
			taskID             sql.NullString
			submitted, updated int64
		)

		if err := rows.Scan(
			&e.ID, &e.RunID, &e.Dataset, &e.SourceFileID, &e.DestinationFileID,
			&e.SourceRepository, &e.DestinationRepository, &e.SourceEndpoint, &e.DestinationEndpoint,
			&e.SourcePath, &e.DestinationPath, &e.Label, &e.DryRun, &taskID, &e.Code, &e.Message,
			&e.Status, &submitted, &updated,
		); err != nil {
			return nil, fmt.Errorf("ledger: scanning history row: %w", err)
		}

		e.TaskID = taskID.String
		e.SubmittedAt = time.Unix(submitted, 0)
		e.UpdatedAt = time.Unix(updated, 0)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating history rows: %w", err)
	}

	return entries, nil
}
