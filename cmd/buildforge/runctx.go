package main

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/buildforge/buildforge/internal/config"
	apperrors "github.com/buildforge/buildforge/internal/errors"
)

// newRunID mints a fresh run identifier, the same prefix-plus-uuid
// convention the teacher's test data factory uses for generated IDs.
func newRunID() string {
	return "run-" + uuid.New().String()
}

// loadConfig returns the default configuration, or the one at path if
// path is non-empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// resolveRunDir returns explicit when non-empty; otherwise it looks for
// exactly one run directory under cfg.OutputDir and uses that, refusing to
// guess when zero or more than one exist.
func resolveRunDir(explicit string, cfg *config.Config) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ErrorTypeUserError,
			"no --run-dir given and %s could not be read", cfg.OutputDir)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			candidates = append(candidates, filepath.Join(cfg.OutputDir, e.Name()))
		}
	}

	switch len(candidates) {
	case 0:
		return "", apperrors.New(apperrors.ErrorTypeUserError,
			"no run directories found under "+cfg.OutputDir+"; pass --run-dir")
	case 1:
		return candidates[0], nil
	default:
		return "", apperrors.New(apperrors.ErrorTypeUserError,
			"multiple run directories under "+cfg.OutputDir+"; pass --run-dir to disambiguate")
	}
}
