package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigStore persists the plugin configuration map across process restarts.
// The manager works purely in memory when no store is configured; retained
// MQTT messages then provide best-effort restart continuity.
type ConfigStore interface {
	Load() (map[string]map[string]any, error)
	Save(configs map[string]map[string]any) error
}

// FileStore is a JSON file-backed ConfigStore.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the stored configuration map. A missing file yields an empty map.
func (s *FileStore) Load() (map[string]map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]map[string]any), nil
		}
		return nil, fmt.Errorf("failed to read config store: %w", err)
	}

	configs := make(map[string]map[string]any)
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse config store: %w", err)
	}
	return configs, nil
}

// Save writes the configuration map atomically (write temp file, rename).
func (s *FileStore) Save(configs map[string]map[string]any) error {
	data, err := json.MarshalIndent(configs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config store directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace config store: %w", err)
	}
	return nil
}
