package filterconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTokenizeHandlesQuotingAndComments(t *testing.T) {
	got, err := tokenize(`/impulse/read 0 0 1.0 0 0 -1 0 "my file.wav" # trailing comment`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	want := []string{"/impulse/read", "0", "0", "1.0", "0", "0", "-1", "0", "my file.wav"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTokenizeRejectsUnterminatedQuote(t *testing.T) {
	if _, err := tokenize(`/cd "unterminated`); err == nil {
		t.Fatalf("expected an error for an unterminated quoted string")
	}
}

func TestParseDiracBuildsExpectedTapVector(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter-44100.conf")
	body := "# comment\n/convolver/new 1 1 64 64\n/impulse/dirac 0 0 0.5 2\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Channels != 1 || cfg.FragmentSize != 64 {
		t.Fatalf("got channels=%d fragment=%d, want 1, 64", cfg.Channels, cfg.FragmentSize)
	}
	want := []float32{0, 0, 0.5}
	if len(cfg.Taps[0]) != len(want) {
		t.Fatalf("taps = %v, want %v", cfg.Taps[0], want)
	}
	for i := range want {
		if cfg.Taps[0][i] != want[i] {
			t.Fatalf("tap %d = %v, want %v", i, cfg.Taps[0][i], want[i])
		}
	}
}

func TestParseImpulseCopyDuplicatesTaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter-44100.conf")
	body := "/convolver/new 2 2 64 64\n/impulse/dirac 0 0 1.0 0\n/impulse/copy 0 0 1 1\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Taps[1]) != 1 || cfg.Taps[1][0] != 1.0 {
		t.Fatalf("taps[1] = %v, want [1.0]", cfg.Taps[1])
	}
}

func TestParseRejectsUnknownCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter-44100.conf")
	body := "/convolver/new 1 1 64 64\n/bogus/command 1 2 3\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Parse(path); err == nil {
		t.Fatalf("expected an error for an unknown command")
	}
}

func TestParseMissingConvolverNewIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter-44100.conf")
	if err := os.WriteFile(path, []byte("/impulse/dirac 0 0 1.0 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Parse(path); err == nil {
		t.Fatalf("expected an error when /convolver/new is never seen")
	}
}
