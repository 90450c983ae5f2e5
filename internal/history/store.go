// Package history persists build records in a local sqlite database.
//
// The store is a collaborator of the pipeline, not a stage of it: every
// pipeline write is best-effort and a store failure never aborts a build.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"slipway/internal/pipeline"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var _ pipeline.Recorder = (*Store)(nil)

// BuildRow is one persisted build record.
type BuildRow struct {
	ID               uuid.UUID
	App              string
	Revision         string
	Status           pipeline.Status
	ExitCode         *int
	ReleaseContainer string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store is a sqlite-backed build history.
type Store struct {
	db    *sql.DB
	clock pipeline.Clock
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	return OpenWithClock(path, pipeline.RealClock{})
}

// OpenWithClock is Open with an explicit clock, for deterministic tests.
func OpenWithClock(path string, clock pipeline.Clock) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set history db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS builds (
	id TEXT PRIMARY KEY,
	app TEXT NOT NULL,
	revision TEXT NOT NULL,
	status TEXT NOT NULL,
	exit_code INTEGER,
	release_container TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize builds schema: %w", err)
	}

	return &Store{db: db, clock: clock}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertBuild records a freshly allocated build.
func (s *Store) InsertBuild(ctx context.Context, app string, id uuid.UUID, revision string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO builds (id, app, revision, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), app, revision, string(pipeline.StatusCreated), now, now)
	if err != nil {
		return fmt.Errorf("insert build %s: %w", id, err)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, app string, id uuid.UUID, status pipeline.Status) error {
	return s.update(ctx, app, id, `status = ?`, string(status))
}

func (s *Store) SetExitCode(ctx context.Context, app string, id uuid.UUID, code int) error {
	return s.update(ctx, app, id, `exit_code = ?`, code)
}

func (s *Store) SetReleaseContainer(ctx context.Context, app string, id uuid.UUID, containerID string) error {
	return s.update(ctx, app, id, `release_container = ?`, containerID)
}

func (s *Store) update(ctx context.Context, app string, id uuid.UUID, set string, value any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE builds SET `+set+`, updated_at = ? WHERE id = ? AND app = ?`,
		value, s.now(), id.String(), app)
	if err != nil {
		return fmt.Errorf("update build %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("update build %s: no such row", id)
	}
	return nil
}

// GetBuild returns one build record. The bool is false when no record
// exists.
func (s *Store) GetBuild(ctx context.Context, app string, id uuid.UUID) (BuildRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, app, revision, status, exit_code, release_container, created_at, updated_at
FROM builds WHERE id = ? AND app = ?`, id.String(), app)

	out, err := scanBuild(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BuildRow{}, false, nil
		}
		return BuildRow{}, false, fmt.Errorf("query build %s: %w", id, err)
	}
	return out, true, nil
}

// ListBuilds returns an application's build records, newest first.
func (s *Store) ListBuilds(ctx context.Context, app string) ([]BuildRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, app, revision, status, exit_code, release_container, created_at, updated_at
FROM builds WHERE app = ? ORDER BY created_at DESC`, app)
	if err != nil {
		return nil, fmt.Errorf("list builds for %q: %w", app, err)
	}
	defer rows.Close()

	out := make([]BuildRow, 0)
	for rows.Next() {
		row, err := scanBuild(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan build row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build rows: %w", err)
	}
	return out, nil
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

func scanBuild(scan func(...any) error) (BuildRow, error) {
	var (
		idStr, app, revision, status, container string
		exitCode                                sql.NullInt64
		createdAt, updatedAt                    string
	)
	if err := scan(&idStr, &app, &revision, &status, &exitCode, &container, &createdAt, &updatedAt); err != nil {
		return BuildRow{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return BuildRow{}, fmt.Errorf("parse build id %q: %w", idStr, err)
	}
	row := BuildRow{
		ID:               id,
		App:              app,
		Revision:         revision,
		Status:           pipeline.Status(status),
		ReleaseContainer: container,
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		row.ExitCode = &code
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		row.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		row.UpdatedAt = t
	}
	return row, nil
}
