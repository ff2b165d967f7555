package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Index persists the key → expiry mapping so a restart can rebuild the
// store. Save always receives the complete mapping.
type Index interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, entries map[string]time.Time) error
	Backend() string
	Close() error
}

// Index backend names accepted by Options.Backend.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

const (
	jsonIndexName   = "index.json"
	sqliteIndexName = "index.db"
)

// JSONIndex stores the mapping as a single JSON object of key to expiry in
// milliseconds since the epoch.
type JSONIndex struct {
	path string
}

// NewJSONIndex returns an index backed by the file at path.
func NewJSONIndex(path string) *JSONIndex {
	return &JSONIndex{path: path}
}

// Backend implements Index.
func (j *JSONIndex) Backend() string {
	return BackendJSON
}

// Load reads the index file. A missing file yields an empty mapping.
func (j *JSONIndex) Load(_ context.Context) (map[string]time.Time, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]time.Time), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse index %s: %w", j.path, err)
	}

	entries := make(map[string]time.Time, len(raw))
	for key, ms := range raw {
		entries[key] = time.UnixMilli(ms)
	}
	return entries, nil
}

// Save writes the mapping to a temporary file, syncs it and renames it over
// the index so a crash never leaves a truncated index behind.
func (j *JSONIndex) Save(_ context.Context, entries map[string]time.Time) error {
	raw := make(map[string]int64, len(entries))
	for key, exp := range entries {
		raw[key] = exp.UnixMilli()
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.path), ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp index: %w", err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace index: %w", err)
	}
	if err := syncDir(filepath.Dir(j.path)); err != nil {
		return fmt.Errorf("sync index directory: %w", err)
	}
	return nil
}

// Close implements Index.
func (j *JSONIndex) Close() error {
	return nil
}

// openIndex builds the backend named by backend inside root.
func openIndex(ctx context.Context, root, backend string) (Index, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONIndex(filepath.Join(root, jsonIndexName)), nil
	case BackendSQLite:
		return OpenSQLiteIndex(ctx, filepath.Join(root, sqliteIndexName))
	default:
		return nil, fmt.Errorf("unknown index backend %q", backend)
	}
}
