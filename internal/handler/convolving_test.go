package handler

import "testing"

func TestSplitDirSuffix(t *testing.T) {
	dir, suffix := splitDirSuffix("/music/album/02-track.flac")
	if dir != "/music/album/" || suffix != ".flac" {
		t.Fatalf("got dir=%q suffix=%q", dir, suffix)
	}

	dir, suffix = splitDirSuffix("no-slash")
	if dir != "" || suffix != "" {
		t.Fatalf("expected empty dir/suffix for a path with no slash, got %q %q", dir, suffix)
	}
}

func TestNextAlphabetical(t *testing.T) {
	names := []string{
		"/music/album/03-track.flac",
		"/music/album/01-track.flac",
		"/music/album/02-track.flac",
	}
	next, ok := nextAlphabetical(names, "/music/album/01-track.flac")
	if !ok || next != "/music/album/02-track.flac" {
		t.Fatalf("next = %q, %v, want 02-track.flac, true", next, ok)
	}

	_, ok = nextAlphabetical(names, "/music/album/03-track.flac")
	if ok {
		t.Fatalf("expected no successor after the last track")
	}

	_, ok = nextAlphabetical(names, "/music/album/zzz.flac")
	if ok {
		t.Fatalf("expected no successor past the end of the list")
	}
}

func TestPackFloat32PacksSilenceToZeroBytes(t *testing.T) {
	src := []float32{0, 1, -1, 0.5, -0.5}
	for _, bits := range []int{16, 24, 32} {
		dst := make([]byte, len(src)*(bits/8))
		packFloat32(dst, src, bits)

		// Spot check that the leading silence sample packs to zero bytes.
		if bits == 16 {
			if dst[0] != 0 || dst[1] != 0 {
				t.Fatalf("bits=%d: silence did not pack to zero bytes: %v", bits, dst[:2])
			}
		}
	}
}
