// Package statestore provides atomic, crash-safe persistence of
// PipelineState to a JSON file (spec.md §4.1). Larger per-run artifacts
// (transitions, violations) live alongside it in pkg/audit's SQLite trail
// rather than in this file.
package statestore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/buildforge/buildforge/internal/errors"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

const stateFileName = "PIPELINE_STATE.json"

// Store persists PipelineState for one run directory. A mutex serializes
// concurrent save/load calls within the process; cross-process safety comes
// from the write-temp-then-rename pattern itself.
//
// PipelineState itself always lives in PIPELINE_STATE.json; sideDB, opened
// on demand via OpenSideTables, holds the SQLite side-tables spec.md §4.1
// calls for when a run's builder artifacts grow too large to keep inline
// in that JSON file.
type Store struct {
	mu     sync.Mutex
	runDir string
	logger *zap.Logger
	sideDB *sqlx.DB
}

// New returns a Store rooted at runDir. logger may be nil.
func New(runDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{runDir: runDir, logger: logger}
}

func (s *Store) statePath() string {
	return filepath.Join(s.runDir, stateFileName)
}

// Save serializes state to JSON with sorted keys and writes it via
// write-temp-then-rename, so a partial write can never leave a corrupt file
// (spec.md §4.1). UpdatedAt is stamped to wall-clock UTC before encoding.
func (s *Store) Save(state *types.PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now().UTC()

	encoded, err := encodeSorted(state)
	if err != nil {
		return errors.NewStoreIOError("encode", err)
	}

	if err := os.MkdirAll(s.runDir, 0o755); err != nil {
		return errors.NewStoreIOError("mkdir", err)
	}

	target := s.statePath()
	tmp := target + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.NewStoreIOError("create temp file", err)
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.NewStoreIOError("write temp file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.NewStoreIOError("fsync temp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.NewStoreIOError("close temp file", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return errors.NewStoreIOError("rename temp file", err)
	}

	s.logger.Debug("pipeline state saved", zap.String("run_dir", s.runDir), zap.String("phase", string(state.Phase)))
	return nil
}

// Load returns the most recently committed state for runDir, or
// NotFoundError if no state file exists yet.
func (s *Store) Load(runDir string) (*types.PipelineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(runDir, stateFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("pipeline state for " + runDir)
		}
		return nil, errors.NewStoreIOError("read", err)
	}

	var state types.PipelineState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, errors.NewStoreIOError("decode", err)
	}
	return &state, nil
}

// Clear removes the state file, but only if confirmToken matches the
// run directory's base name -- a deliberate friction so an automated or
// scripted caller cannot wipe state by accident (spec.md §4.1: "only if
// user passes an explicit confirmation token").
func (s *Store) Clear(runDir, confirmToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if confirmToken != filepath.Base(runDir) {
		return errors.New(errors.ErrorTypeValidation, "clear requires confirmToken to equal the run directory's base name")
	}

	path := filepath.Join(runDir, stateFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewStoreIOError("remove", err)
	}
	return nil
}

// encodeSorted renders v as JSON with map keys sorted and a trailing
// newline, giving deterministic byte-for-byte output across saves with
// identical content (spec.md §4.1 "serialize with sorted keys").
func encodeSorted(v interface{}) ([]byte, error) {
	// encoding/json already sorts map[string]T keys; struct field order
	// follows declaration order, which PipelineState fixes explicitly.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
