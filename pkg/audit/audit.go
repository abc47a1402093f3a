// Package audit provides the append-only, SQLite-backed trail of phase
// transitions and quality gate violations for a pipeline run (spec.md §11's
// ambient audit trail). Nothing in the pipeline engine reads this trail
// back -- it exists purely as a forensic record an operator or dashboard
// can query after the fact.
package audit

import (
	"context"
	"embed"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	apperrors "github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Trail is an append-only audit log backed by a SQLite file. A Trail is
// safe for concurrent use by multiple goroutines, the same guarantee
// database/sql itself provides.
type Trail struct {
	db *sqlx.DB
}

// Open creates (if necessary) and migrates the SQLite database at path,
// returning a Trail ready to record events.
func Open(path string) (*Trail, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, apperrors.NewDatabaseError("open audit database", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, apperrors.NewDatabaseError("set goose dialect", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, apperrors.NewDatabaseError("apply audit migrations", err)
	}

	return &Trail{db: db}, nil
}

// FromDB builds a Trail over an already-open sqlx.DB without running
// migrations, for callers that manage their own connection pool or, in
// tests, hand in a go-sqlmock-backed *sqlx.DB.
func FromDB(db *sqlx.DB) *Trail {
	return &Trail{db: db}
}

// Close releases the underlying database handle.
func (t *Trail) Close() error {
	return t.db.Close()
}

// RecordTransition appends one phase transition row (spec.md §4.8's
// engine calls this once per successful advanceOnce, outside the critical
// path -- a write failure is logged by the caller, never surfaced as a
// pipeline error).
func (t *Trail) RecordTransition(ctx context.Context, runID string, from, to types.Phase, cost decimal.Decimal) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO phase_transitions (run_id, from_phase, to_phase, cost, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		runID, string(from), string(to), cost.String(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return apperrors.NewDatabaseError("insert phase transition", err)
	}
	return nil
}

// RecordViolations appends one row per violation produced by a quality
// gate report (spec.md §4.6).
func (t *Trail) RecordViolations(ctx context.Context, runID string, violations []types.Violation) error {
	if len(violations) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin violations transaction", err)
	}
	for _, v := range violations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO violations (run_id, code, layer, severity, service, file_path, line, message, fix_attempt, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, v.Code, int(v.Layer), string(v.Severity), v.Service, v.FilePath, v.Line, v.Message, v.FixAttempt, now,
		); err != nil {
			_ = tx.Rollback()
			return apperrors.NewDatabaseError("insert violation", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit violations transaction", err)
	}
	return nil
}

// Transition is one persisted phase-transition row.
type Transition struct {
	RunID      string `db:"run_id"`
	FromPhase  string `db:"from_phase"`
	ToPhase    string `db:"to_phase"`
	Cost       string `db:"cost"`
	RecordedAt string `db:"recorded_at"`
}

// Transitions returns every transition recorded for runID, oldest first.
func (t *Trail) Transitions(ctx context.Context, runID string) ([]Transition, error) {
	var rows []Transition
	err := t.db.SelectContext(ctx, &rows,
		`SELECT run_id, from_phase, to_phase, cost, recorded_at FROM phase_transitions WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("select phase transitions", err)
	}
	return rows, nil
}

// ViolationRecord is one persisted violation row.
type ViolationRecord struct {
	RunID      string `db:"run_id"`
	Code       string `db:"code"`
	Layer      int    `db:"layer"`
	Severity   string `db:"severity"`
	Service    string `db:"service"`
	FilePath   string `db:"file_path"`
	Line       int    `db:"line"`
	Message    string `db:"message"`
	FixAttempt int    `db:"fix_attempt"`
	RecordedAt string `db:"recorded_at"`
}

// Violations returns every violation recorded for runID, oldest first.
func (t *Trail) Violations(ctx context.Context, runID string) ([]ViolationRecord, error) {
	var rows []ViolationRecord
	err := t.db.SelectContext(ctx, &rows,
		`SELECT run_id, code, layer, severity, service, file_path, line, message, fix_attempt, recorded_at
		 FROM violations WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("select violations", err)
	}
	return rows, nil
}
