package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs.json")
	store := NewFileStore(path)

	configs := map[string]map[string]any{
		"meal_planner": {
			"mealplan_length":  float64(7),
			"mealplan_message": "Vegetarian this week please",
		},
		"recipe_tagger": {
			"dry_run": true,
		},
	}
	require.NoError(t, store.Save(configs))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, configs, loaded)
}

func TestFileStoreMissingFileYieldsEmptyMap(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "does-not-exist.json"))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.NotNil(t, loaded)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileStore(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config store")
}

func TestFileStoreCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "configs.json")
	store := NewFileStore(path)

	require.NoError(t, store.Save(map[string]map[string]any{"neapolitan_pizza": {"ball_count": float64(2)}}))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, float64(2), loaded["neapolitan_pizza"]["ball_count"])
}
