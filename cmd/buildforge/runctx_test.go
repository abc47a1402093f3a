package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildforge/buildforge/internal/config"
)

func TestNewRunID(t *testing.T) {
	a, b := newRunID(), newRunID()
	assert.True(t, strings.HasPrefix(a, "run-"))
	assert.NotEqual(t, a, b, "two calls must not collide")
}

func TestResolveRunDir(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "buildforge-resolve-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := config.Default()
	cfg.OutputDir = tmpDir

	t.Run("explicit path wins outright", func(t *testing.T) {
		dir, err := resolveRunDir("/explicit/dir", cfg)
		require.NoError(t, err)
		assert.Equal(t, "/explicit/dir", dir)
	})

	t.Run("errors when output_dir has no run directories", func(t *testing.T) {
		_, err := resolveRunDir("", cfg)
		assert.Error(t, err)
	})

	t.Run("finds the sole run directory under output_dir", func(t *testing.T) {
		runDir := filepath.Join(tmpDir, "run-abc")
		require.NoError(t, os.Mkdir(runDir, 0o755))

		dir, err := resolveRunDir("", cfg)
		require.NoError(t, err)
		assert.Equal(t, runDir, dir)
	})

	t.Run("errors when output_dir has more than one run directory", func(t *testing.T) {
		require.NoError(t, os.Mkdir(filepath.Join(tmpDir, "run-def"), 0o755))

		_, err := resolveRunDir("", cfg)
		assert.Error(t, err)
	})
}
