// Package journal records builds in a local SQLite database.
//
// A failed build leaves a partial, unsealed workflow on the remote. The
// journal keeps the build id, the remote workflow id, the state the build
// stopped in and every stage that was attached or bound, so an operator can
// find what to clean up after the process has exited.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/specialistvlad/stagegrid/internal/assembler"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS builds (
	id             TEXT PRIMARY KEY,
	workflow       TEXT NOT NULL,
	workflow_id    TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL,
	last_completed INTEGER NOT NULL DEFAULT -1,
	error          TEXT NOT NULL DEFAULT '',
	started_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stages (
	build_id    TEXT NOT NULL,
	stage_index INTEGER NOT NULL,
	stage_id    TEXT NOT NULL,
	artifact    TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (build_id, stage_index),
	FOREIGN KEY (build_id) REFERENCES builds(id)
);
`

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Stage states as recorded in the stages table.
const (
	StageAttached = "attached"
	StageBound    = "bound"
)

// ErrNotFound is returned by Build for an unknown build id.
var ErrNotFound = errors.New("build not found")

// Build is one recorded build.
type Build struct {
	ID            string
	Workflow      string
	WorkflowID    string
	State         string
	LastCompleted int
	Error         string
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// Stage is one recorded stage of a build.
type Stage struct {
	Index     int
	ID        string
	Artifact  string
	State     string
	UpdatedAt time.Time
}

// Journal is an assembler.Observer that writes build progress to SQLite.
type Journal struct {
	db *sql.DB
}

var _ assembler.Observer = (*Journal)(nil)

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(ctx context.Context, path string) (*Journal, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// One connection keeps an in-memory journal a single database and
	// serialises writers on a file.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise journal %s: %w", path, err)
	}
	ctxlog.FromContext(ctx).Debug("Journal opened.", "path", path)
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Observe implements assembler.Observer. Write failures are logged and do
// not affect the build.
func (j *Journal) Observe(ctx context.Context, e assembler.Event) {
	if err := j.record(ctx, e); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to write build journal.", "event", string(e.Type), "error", err)
	}
}

func (j *Journal) record(ctx context.Context, e assembler.Event) error {
	// Journal writes outlive a cancelled build.
	ctx = context.WithoutCancel(ctx)
	now := stamp(e.Time)

	switch e.Type {
	case assembler.EventStarted:
		_, err := j.db.ExecContext(ctx,
			`INSERT INTO builds (id, workflow, state, started_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			e.BuildID, e.Workflow, e.State.String(), now, now)
		return err
	case assembler.EventCreated:
		return j.updateBuild(ctx, e, -1, "")
	case assembler.EventSealed:
		// last_completed keeps the final bound stage.
		_, err := j.db.ExecContext(ctx,
			`UPDATE builds SET workflow_id = ?, state = ?, error = '', updated_at = ? WHERE id = ?`,
			e.WorkflowID, e.State.String(), now, e.BuildID)
		return err
	case assembler.EventAttached:
		if _, err := j.db.ExecContext(ctx,
			`INSERT INTO stages (build_id, stage_index, stage_id, artifact, state, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			e.BuildID, e.Stage, e.StageID, string(e.Artifact), StageAttached, now); err != nil {
			return err
		}
		return j.updateBuild(ctx, e, e.Stage, "")
	case assembler.EventBound:
		if _, err := j.db.ExecContext(ctx,
			`UPDATE stages SET state = ?, updated_at = ? WHERE build_id = ? AND stage_index = ?`,
			StageBound, now, e.BuildID, e.Stage); err != nil {
			return err
		}
		return j.updateBuild(ctx, e, e.Stage, "")
	case assembler.EventFailed:
		last, msg := -1, ""
		if e.Err != nil {
			last, msg = e.Err.LastCompleted, e.Err.Error()
		}
		return j.updateBuild(ctx, e, last, msg)
	default:
		return nil
	}
}

func (j *Journal) updateBuild(ctx context.Context, e assembler.Event, last int, msg string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE builds SET workflow_id = ?, state = ?, last_completed = ?, error = ?, updated_at = ? WHERE id = ?`,
		e.WorkflowID, e.State.String(), last, msg, stamp(e.Time), e.BuildID)
	return err
}

// Builds returns the most recent builds, newest first.
func (j *Journal) Builds(ctx context.Context, limit int) ([]Build, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, workflow, workflow_id, state, last_completed, error, started_at, updated_at
		 FROM builds ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds: %w", err)
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Build returns one build and its stages in index order.
func (j *Journal) Build(ctx context.Context, id string) (Build, []Stage, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT id, workflow, workflow_id, state, last_completed, error, started_at, updated_at
		 FROM builds WHERE id = ?`, id)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Build{}, nil, err
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT stage_index, stage_id, artifact, state, updated_at FROM stages WHERE build_id = ? ORDER BY stage_index`, id)
	if err != nil {
		return Build{}, nil, fmt.Errorf("failed to list stages of %s: %w", id, err)
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var (
			s       Stage
			updated string
		)
		if err := rows.Scan(&s.Index, &s.ID, &s.Artifact, &s.State, &updated); err != nil {
			return Build{}, nil, err
		}
		s.UpdatedAt = parse(updated)
		stages = append(stages, s)
	}
	return b, stages, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(s scanner) (Build, error) {
	var (
		b                Build
		started, updated string
	)
	if err := s.Scan(&b.ID, &b.Workflow, &b.WorkflowID, &b.State, &b.LastCompleted, &b.Error, &started, &updated); err != nil {
		return Build{}, err
	}
	b.StartedAt, b.UpdatedAt = parse(started), parse(updated)
	return b, nil
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parse(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
