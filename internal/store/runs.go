package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// RunKind distinguishes run records.
type RunKind string

const (
	RunOptimize RunKind = "optimize"
	RunSimulate RunKind = "simulate"
)

// Run is one persisted pipeline execution.
type Run struct {
	ID        string
	Kind      RunKind
	Profile   string
	Status    string
	Payload   []byte
	CreatedAt time.Time
}

// DecodePayload unmarshals the msgpack payload into v.
func (r *Run) DecodePayload(v any) error {
	if err := msgpack.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("failed to decode run payload: %w", err)
	}
	return nil
}

// RunRepository handles run record persistence.
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a run repository.
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "runs").Logger(),
	}
}

// Init creates the runs table if it does not exist.
func (r *RunRepository) Init(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			profile TEXT,
			status TEXT NOT NULL,
			payload BLOB,
			created_at TEXT NOT NULL
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	return nil
}

// Save encodes the payload with msgpack and inserts a run record,
// generating a run ID when none is set.
func (r *RunRepository) Save(ctx context.Context, kind RunKind, profile, status string, payload any) (string, error) {
	encoded, err := msgpack.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode run payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO runs (id, kind, profile, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query, id, string(kind), profile, status, encoded, now); err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	r.log.Debug().Str("run_id", id).Str("kind", string(kind)).Msg("Run saved")
	return id, nil
}

// Get fetches one run by ID.
func (r *RunRepository) Get(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, kind, profile, status, payload, created_at
		FROM runs WHERE id = ?
	`
	row := r.db.QueryRowContext(ctx, query, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, kind, profile, status, payload, created_at
		FROM runs ORDER BY created_at DESC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var kind, createdAt string
	var profile sql.NullString

	if err := s.Scan(&run.ID, &kind, &profile, &run.Status, &run.Payload, &createdAt); err != nil {
		return nil, err
	}
	run.Kind = RunKind(kind)
	run.Profile = profile.String

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	run.CreatedAt = t
	return &run, nil
}
