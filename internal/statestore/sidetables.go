package statestore

import (
	"context"
	"embed"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

const sideTableFileName = "STATE_SIDE_TABLES.db"

// OpenSideTables opens (creating and migrating on first use) the SQLite
// side-table database living alongside this Store's PIPELINE_STATE.json
// (spec.md §4.1). Calling it is optional: a Store that never opens its
// side tables degrades RecordBuilderArtifacts to a silent no-op, matching
// this module's other absent-dependency postures.
func (s *Store) OpenSideTables() error {
	db, err := sqlx.Connect("sqlite3", filepath.Join(s.runDir, sideTableFileName))
	if err != nil {
		return errors.NewStoreIOError("open side tables", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.NewStoreIOError("set goose dialect", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return errors.NewStoreIOError("apply side table migrations", err)
	}

	s.mu.Lock()
	s.sideDB = db
	s.mu.Unlock()
	return nil
}

// CloseSideTables releases the side-table database handle, if one was
// opened.
func (s *Store) CloseSideTables() error {
	s.mu.Lock()
	db := s.sideDB
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

// RecordBuilderArtifacts indexes one row per builder result into the
// side-table database: its terminal status and the location of its full
// log on disk (fleet.go writes the log itself; this table only points at
// it), queryable across runs without reading every run's
// PIPELINE_STATE.json in full (spec.md §4.1's "SQLite side-tables for
// large artifacts"). A no-op when OpenSideTables was never called.
func (s *Store) RecordBuilderArtifacts(ctx context.Context, runID string, results map[string]types.BuilderResult) error {
	s.mu.Lock()
	db := s.sideDB
	s.mu.Unlock()
	if db == nil || len(results) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.NewStoreIOError("begin builder artifacts transaction", err)
	}
	for _, r := range results {
		var exitCode, durationMs interface{}
		if r.ExitCode != nil {
			exitCode = *r.ExitCode
		}
		if r.DurationMs != nil {
			durationMs = *r.DurationMs
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO builder_artifacts (run_id, service_name, status, output_dir, log_path, exit_code, duration_ms, cost, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.ServiceName, string(r.Status), r.OutputDir, filepath.Join(r.OutputDir, "builder.log"),
			exitCode, durationMs, r.Cost.String(), now,
		); err != nil {
			_ = tx.Rollback()
			return errors.NewStoreIOError("insert builder artifact", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStoreIOError("commit builder artifacts transaction", err)
	}
	return nil
}

// BuilderArtifact is one indexed side-table row.
type BuilderArtifact struct {
	RunID       string `db:"run_id"`
	ServiceName string `db:"service_name"`
	Status      string `db:"status"`
	OutputDir   string `db:"output_dir"`
	LogPath     string `db:"log_path"`
	ExitCode    *int   `db:"exit_code"`
	DurationMs  *int64 `db:"duration_ms"`
	Cost        string `db:"cost"`
	RecordedAt  string `db:"recorded_at"`
}

// BuilderArtifacts returns every indexed artifact row for runID, oldest
// first. Returns an empty slice, not an error, when side tables were never
// opened.
func (s *Store) BuilderArtifacts(ctx context.Context, runID string) ([]BuilderArtifact, error) {
	s.mu.Lock()
	db := s.sideDB
	s.mu.Unlock()
	if db == nil {
		return nil, nil
	}

	var rows []BuilderArtifact
	err := db.SelectContext(ctx, &rows,
		`SELECT run_id, service_name, status, output_dir, log_path, exit_code, duration_ms, cost, recorded_at
		 FROM builder_artifacts WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, errors.NewStoreIOError("select builder artifacts", err)
	}
	return rows, nil
}
