package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// stores under test share the same contract; file-backed ones get a temp dir.
func testStores(t *testing.T) map[string]SnapshotStore {
	t.Helper()

	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store setup: %v", err)
	}

	return map[string]SnapshotStore{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, st := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.Load(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for name, st := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			doc := []byte(`{"name":"Test Market","bets":[]}`)

			if err := st.Save(ctx, "mkt", doc); err != nil {
				t.Fatalf("save failed: %v", err)
			}

			got, err := st.Load(ctx, "mkt")
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if string(got) != string(doc) {
				t.Errorf("round trip drifted: %q != %q", got, doc)
			}
		})
	}
}

func TestStore_SaveReplacesWhole(t *testing.T) {
	for name, st := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := st.Save(ctx, "mkt", []byte("a much longer first version")); err != nil {
				t.Fatalf("first save failed: %v", err)
			}
			if err := st.Save(ctx, "mkt", []byte("v2")); err != nil {
				t.Fatalf("second save failed: %v", err)
			}

			got, err := st.Load(ctx, "mkt")
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if string(got) != "v2" {
				t.Errorf("save must replace the whole document, got %q", got)
			}
		})
	}
}

func TestStore_KeysAreIndependent(t *testing.T) {
	for name, st := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st.Save(ctx, "a", []byte("doc-a"))
			st.Save(ctx, "b", []byte("doc-b"))

			got, err := st.Load(ctx, "a")
			if err != nil || string(got) != "doc-a" {
				t.Errorf("key a: got %q, err %v", got, err)
			}
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	doc := []byte("original")
	st.Save(ctx, "mkt", doc)
	doc[0] = 'X'

	got, _ := st.Load(ctx, "mkt")
	if string(got) != "original" {
		t.Errorf("stored document must be isolated from caller buffers, got %q", got)
	}

	got[0] = 'Y'
	again, _ := st.Load(ctx, "mkt")
	if string(again) != "original" {
		t.Errorf("loaded document must be a copy, got %q", again)
	}
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := fs.Save(context.Background(), "mkt", []byte("doc")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "mkt.market.json" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("expected only mkt.market.json, got %v", names)
	}
}

func TestFileStore_KeyCannotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := fs.Save(context.Background(), "../escape", []byte("doc")); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.market.json")); err == nil {
		t.Error("document escaped the base directory")
	}
}
