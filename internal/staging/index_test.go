package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleEntries() map[string]time.Time {
	base := time.UnixMilli(1_700_000_000_000)
	return map[string]time.Time{
		strings.Repeat("a", 128): base,
		strings.Repeat("b", 128): base.Add(time.Minute),
		strings.Repeat("c", 128): base.Add(time.Hour),
	}
}

func assertEntries(t *testing.T, got, want map[string]time.Time) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("loaded %d entries, want %d", len(got), len(want))
	}
	for key, exp := range want {
		if !got[key].Equal(exp) {
			t.Errorf("entry %s = %v, want %v", shortKey(key), got[key], exp)
		}
	}
}

func TestJSONIndexRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := NewJSONIndex(filepath.Join(dir, jsonIndexName))
	ctx := context.Background()

	if idx.Backend() != BackendJSON {
		t.Errorf("Backend = %q", idx.Backend())
	}

	want := sampleEntries()
	if err := idx.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := idx.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEntries(t, got, want)

	// Only the index itself remains; temp files are renamed away.
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name() != jsonIndexName {
		var names []string
		for _, f := range files {
			names = append(names, f.Name())
		}
		t.Errorf("directory contents = %v, want only %s", names, jsonIndexName)
	}
}

func TestJSONIndexMissingFile(t *testing.T) {
	idx := NewJSONIndex(filepath.Join(t.TempDir(), jsonIndexName))

	got, err := idx.Load(context.Background())
	if err != nil {
		t.Fatalf("Load of missing index failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load of missing index returned %d entries", len(got))
	}
}

func TestJSONIndexCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), jsonIndexName)
	if err := os.WriteFile(path, []byte(`["not", "a", "map"]`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewJSONIndex(path).Load(context.Background()); err == nil {
		t.Error("Load of corrupt index should fail")
	}
}

func TestJSONIndexFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), jsonIndexName)
	key := strings.Repeat("d", 128)

	if err := NewJSONIndex(path).Save(context.Background(), map[string]time.Time{key: time.UnixMilli(1234)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"` + key + `":1234}`; string(data) != want {
		t.Errorf("index contents = %s, want %s", data, want)
	}
}

func TestJSONIndexSaveReplaces(t *testing.T) {
	idx := NewJSONIndex(filepath.Join(t.TempDir(), jsonIndexName))
	ctx := context.Background()

	if err := idx.Save(ctx, sampleEntries()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(ctx, map[string]time.Time{}); err != nil {
		t.Fatal(err)
	}

	got, err := idx.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Load after emptying = %d entries, want 0", len(got))
	}
}

func TestSQLiteIndexRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), sqliteIndexName)

	idx, err := OpenSQLiteIndex(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLiteIndex failed: %v", err)
	}
	if idx.Backend() != BackendSQLite {
		t.Errorf("Backend = %q", idx.Backend())
	}

	empty, err := idx.Load(ctx)
	if err != nil {
		t.Fatalf("Load of new index failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("new index has %d entries", len(empty))
	}

	want := sampleEntries()
	if err := idx.Save(ctx, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Saving a smaller mapping drops the missing rows.
	for key := range want {
		delete(want, key)
		break
	}
	if err := idx.Save(ctx, want); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenSQLiteIndex(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEntries(t, got, want)
}

func TestOpenIndexBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{"", BackendJSON, false},
		{BackendJSON, BackendJSON, false},
		{BackendSQLite, BackendSQLite, false},
		{"bolt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			idx, err := openIndex(ctx, dir, tt.backend)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("openIndex failed: %v", err)
			}
			defer idx.Close()
			if idx.Backend() != tt.want {
				t.Errorf("Backend = %q, want %q", idx.Backend(), tt.want)
			}
		})
	}
}

func TestJSONIndexSaveLeavesOnlyIndex(t *testing.T) {
	dir := t.TempDir()
	idx := NewJSONIndex(filepath.Join(dir, jsonIndexName))

	for i := 0; i < 3; i++ {
		if err := idx.Save(context.Background(), sampleEntries()); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}

	names, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0].Name() != jsonIndexName {
		var got []string
		for _, n := range names {
			got = append(got, n.Name())
		}
		t.Errorf("directory holds %v, want only %s", got, jsonIndexName)
	}
}

func TestJSONIndexSaveMissingDir(t *testing.T) {
	idx := NewJSONIndex(filepath.Join(t.TempDir(), "gone", jsonIndexName))
	if err := idx.Save(context.Background(), sampleEntries()); err == nil {
		t.Error("Save into a missing directory should fail")
	}
}
