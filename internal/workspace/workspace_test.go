package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func setupApp(t *testing.T, appsPath, app string, revisions ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(appsPath, app, "sources"), 0o755); err != nil {
		t.Fatalf("create app dirs: %v", err)
	}
	for _, rev := range revisions {
		path := filepath.Join(appsPath, app, "sources", rev+".tar.gz")
		if err := os.WriteFile(path, []byte("archive"), 0o644); err != nil {
			t.Fatalf("write revision archive: %v", err)
		}
	}
}

func TestAllocate_CreatesWorkspace(t *testing.T) {
	appsPath := t.TempDir()
	setupApp(t, appsPath, "demo", "abc123")
	m := NewManager(appsPath)

	b, err := m.Allocate("demo", "abc123")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	if b.App != "demo" || b.Revision != "abc123" {
		t.Fatalf("Allocate() = %+v, want app demo revision abc123", b)
	}
	for _, path := range []string{b.LogPath(), b.ErrorLogPath(), b.ArtifactPath()} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("expected %s to exist: %v", path, err)
		}
		if info.Size() != 0 {
			t.Fatalf("expected %s to be empty, size = %d", path, info.Size())
		}
	}
	if info, err := os.Stat(m.CachePath("demo")); err != nil || !info.IsDir() {
		t.Fatalf("expected cache directory to exist: %v", err)
	}
	if b.Finished() {
		t.Fatal("fresh build reports finished")
	}
}

func TestAllocate_AppNotFound(t *testing.T) {
	m := NewManager(t.TempDir())

	_, err := m.Allocate("missing", "abc123")
	if !errors.Is(err, ErrAppNotFound) {
		t.Fatalf("Allocate() error = %v, want ErrAppNotFound", err)
	}
}

func TestAllocate_InvalidRevision(t *testing.T) {
	appsPath := t.TempDir()
	setupApp(t, appsPath, "demo", "abc123")
	m := NewManager(appsPath)

	for _, rev := range []string{"", "nope"} {
		_, err := m.Allocate("demo", rev)
		if !errors.Is(err, ErrInvalidRevision) {
			t.Fatalf("Allocate(%q) error = %v, want ErrInvalidRevision", rev, err)
		}
	}

	// No build directory may be left behind.
	entries, err := os.ReadDir(filepath.Join(appsPath, "demo"))
	if err != nil {
		t.Fatalf("read app dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() == "builds" {
			t.Fatal("builds directory created for invalid revision")
		}
	}
}

func TestAllocate_UniqueIdentifiers(t *testing.T) {
	appsPath := t.TempDir()
	setupApp(t, appsPath, "demo", "abc123")
	m := NewManager(appsPath)

	seen := make(map[string]bool)
	for range 16 {
		b, err := m.Allocate("demo", "abc123")
		if err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
		if seen[b.ID.String()] {
			t.Fatalf("duplicate build id %s", b.ID)
		}
		seen[b.ID.String()] = true
	}
}

func TestLookup(t *testing.T) {
	appsPath := t.TempDir()
	setupApp(t, appsPath, "demo", "abc123")
	m := NewManager(appsPath)

	b, err := m.Allocate("demo", "abc123")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}

	got, ok := m.Lookup("demo", b.ID)
	if !ok {
		t.Fatal("Lookup() did not find allocated build")
	}
	if got.LogPath() != b.LogPath() {
		t.Fatalf("Lookup() log path = %s, want %s", got.LogPath(), b.LogPath())
	}

	id, err := ParseBuildID("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	if err != nil {
		t.Fatalf("ParseBuildID() error = %v", err)
	}
	if _, ok := m.Lookup("demo", id); ok {
		t.Fatal("Lookup() found nonexistent build")
	}
}

func TestFinish_WritesMarker(t *testing.T) {
	appsPath := t.TempDir()
	setupApp(t, appsPath, "demo", "abc123")
	m := NewManager(appsPath)

	b, err := m.Allocate("demo", "abc123")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if !b.Finished() {
		t.Fatal("Finished() = false after Finish()")
	}
}

func TestParseBuildID(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid v4", "7c9e6679-7425-40de-944b-e07fc1f90ae7", false},
		{"empty", "", true},
		{"malformed", "not-a-uuid", true},
		{"traversal", "../../etc/passwd", true},
		{"v1 rejected", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBuildID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBuildID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}
