package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultSimilarityThreshold, cfg.SimilarityThreshold)
	assert.Equal(t, []string{".zip", ".siard"}, cfg.ArchiveExtensions)

	// Defaults are copies, not aliases of the package slices.
	cfg.TabularExtensions[0] = ".xyz"
	assert.Equal(t, ".txt", DefaultTabularExtensions[0])
}

func TestLoad(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("overlays file values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cfg.yaml")
		doc := "extract_dir: /data/extracted\nsearch_workers: 8\ntask_timeout: 30s\ntabular_extensions: [\".txt\"]\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/data/extracted", cfg.ExtractDir)
		assert.Equal(t, 8, cfg.SearchWorkers)
		assert.Equal(t, 30*time.Second, cfg.TaskTimeout)
		assert.Equal(t, []string{".txt"}, cfg.TabularExtensions)
		// untouched keys keep their defaults
		assert.Equal(t, DefaultExtractWorkers, cfg.ExtractWorkers)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cfg.yaml")
		require.NoError(t, os.WriteFile(path, []byte("search_workers: 0\nsimilarity_threshold: 120\n"), 0o644))
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "search_workers")
		assert.Contains(t, err.Error(), "similarity_threshold")
	})
}
