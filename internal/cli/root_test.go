package cli

import (
	"path/filepath"
	"testing"
)

func TestSplitConfigDirsEmpty(t *testing.T) {
	base, subdirs, initial, err := splitConfigDirs(nil)
	if err != nil {
		t.Fatalf("splitConfigDirs: %v", err)
	}
	if base != "" || subdirs != nil || initial != "" {
		t.Fatalf("got (%q, %v, %q), want all zero values", base, subdirs, initial)
	}
}

func TestSplitConfigDirsDerivesCommonBase(t *testing.T) {
	root := t.TempDir()
	rock := filepath.Join(root, "rock")
	jazz := filepath.Join(root, "jazz")

	base, subdirs, initial, err := splitConfigDirs([]string{rock, jazz})
	if err != nil {
		t.Fatalf("splitConfigDirs: %v", err)
	}
	if base != root {
		t.Fatalf("got base %q, want %q", base, root)
	}
	if len(subdirs) != 2 || subdirs[0] != "rock" || subdirs[1] != "jazz" {
		t.Fatalf("got subdirs %v, want [rock jazz]", subdirs)
	}
	if initial != "rock" {
		t.Fatalf("got initial %q, want rock", initial)
	}
}

func TestSplitConfigDirsRejectsMismatchedParents(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()

	_, _, _, err := splitConfigDirs([]string{
		filepath.Join(a, "rock"),
		filepath.Join(b, "jazz"),
	})
	if err == nil {
		t.Fatalf("expected an error when -c values don't share a common base")
	}
}
