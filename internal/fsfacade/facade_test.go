package fsfacade

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestFacade(t *testing.T, toplevelIsFilter bool) (*Facade, string) {
	t.Helper()
	underlying := t.TempDir()
	if err := os.WriteFile(filepath.Join(underlying, "track.txt"), []byte("not audio"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	configBase := t.TempDir()
	for _, subdir := range []string{"rock", "jazz"} {
		if err := os.MkdirAll(filepath.Join(configBase, subdir), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}

	f, err := New(Config{
		UnderlyingDir:       underlying,
		BaseConfigDir:       configBase,
		Subdirs:             []string{"rock", "jazz"},
		Initial:             "rock",
		ToplevelDirIsFilter: toplevelIsFilter,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(f.Close)
	return f, underlying
}

func TestGetOrCreateHandlerFallsBackToPassThrough(t *testing.T) {
	f, _ := newTestFacade(t, false)

	h, err := f.GetOrCreateHandler("/track.txt")
	if err != nil {
		t.Fatalf("GetOrCreateHandler: %v", err)
	}
	defer f.ReleaseHandler("/track.txt", h)

	info, err := h.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != int64(len("not audio")) {
		t.Fatalf("got size %d, want %d", info.Size, len("not audio"))
	}
	if f.TotalOpenings() != 1 {
		t.Fatalf("got %d openings, want 1", f.TotalOpenings())
	}
}

func TestGetOrCreateHandlerReusesCachedEntry(t *testing.T) {
	f, _ := newTestFacade(t, false)

	h1, err := f.GetOrCreateHandler("/track.txt")
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	h2, err := f.GetOrCreateHandler("/track.txt")
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected the same cached handler on a second open")
	}
	if f.TotalReopens() != 1 {
		t.Fatalf("got %d reopens, want 1", f.TotalReopens())
	}
	f.ReleaseHandler("/track.txt", h1)
	f.ReleaseHandler("/track.txt", h2)
}

func TestSwitchCurrentConfigDirValidatesPath(t *testing.T) {
	f, _ := newTestFacade(t, false)

	if err := f.SwitchCurrentConfigDir("jazz"); err != nil {
		t.Fatalf("SwitchCurrentConfigDir: %v", err)
	}
	if got := f.CurrentConfigDir(); got != "jazz" {
		t.Fatalf("got current filter %q, want jazz", got)
	}

	if err := f.SwitchCurrentConfigDir("../../etc"); err == nil {
		t.Fatalf("expected an error switching to a path outside the base config dir")
	}
	if got := f.CurrentConfigDir(); got != "jazz" {
		t.Fatalf("a rejected switch must not change the active filter, got %q", got)
	}
}

func TestSwitchByIndexMatchesAvailableConfigDirs(t *testing.T) {
	f, _ := newTestFacade(t, false)

	dirs := f.AvailableConfigDirs()
	if len(dirs) != 2 {
		t.Fatalf("got %d available dirs, want 2", len(dirs))
	}
	if err := f.SwitchByIndex(1); err != nil {
		t.Fatalf("SwitchByIndex: %v", err)
	}
	if f.CurrentConfigDir() != dirs[1] {
		t.Fatalf("got current filter %q, want %q", f.CurrentConfigDir(), dirs[1])
	}
	if err := f.SwitchByIndex(99); err == nil {
		t.Fatalf("expected an error for an out-of-range index")
	}
}

func TestFilterSubdirForPathHonoursToplevelOverride(t *testing.T) {
	f, underlying := newTestFacade(t, true)
	if err := os.MkdirAll(filepath.Join(underlying, "jazz"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(underlying, "jazz", "track.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if got := f.filterSubdirForPath("/jazz/track.txt"); got != "jazz" {
		t.Fatalf("got filter %q, want jazz taken from the top-level path component", got)
	}
	if got := f.filterSubdirForPath("/track.txt"); got != f.CurrentConfigDir() {
		t.Fatalf("got filter %q, want the globally selected filter for a top-level file", got)
	}
}

func TestListDirectoryFiltersBySuffixAndSorts(t *testing.T) {
	f, underlying := newTestFacade(t, false)
	for _, name := range []string{"b.flac", "a.flac", "c.txt"} {
		if err := os.WriteFile(filepath.Join(underlying, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	got, err := f.ListDirectory("/", ".flac")
	if err != nil {
		t.Fatalf("ListDirectory: %v", err)
	}
	want := []string{"/a.flac", "/b.flac"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}
