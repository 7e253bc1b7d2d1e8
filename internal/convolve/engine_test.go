package convolve

import "testing"

func TestEngineIdentityTapsPassThrough(t *testing.T) {
	taps := [][]float32{{1}, {1}}
	e, err := New(taps, 4, 2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in0 := e.InputChannel(0)
	in1 := e.InputChannel(1)
	copy(in0, []float32{1, 2, 3, 4})
	copy(in1, []float32{5, 6, 7, 8})

	e.Process()

	want0 := []float32{1, 2, 3, 4}
	want1 := []float32{5, 6, 7, 8}
	assertEqual(t, "channel 0", e.OutputChannel(0), want0)
	assertEqual(t, "channel 1", e.OutputChannel(1), want1)
}

func TestEngineCarriesHistoryAcrossFragments(t *testing.T) {
	// A two-tap averaging filter must see the previous fragment's last
	// sample to compute its first output sample correctly.
	taps := [][]float32{{0.5, 0.5}}
	e, err := New(taps, 4, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	copy(e.InputChannel(0), []float32{2, 4, 6, 8})
	e.Process()
	first := append([]float32(nil), e.OutputChannel(0)...)
	wantFirst := []float32{1, 3, 5, 7} // history starts at zero
	assertEqual(t, "first fragment", first, wantFirst)

	copy(e.InputChannel(0), []float32{10, 12, 14, 16})
	e.Process()
	second := e.OutputChannel(0)
	wantSecond := []float32{9, 11, 13, 15} // first sample averages 8 (carried) and 10
	assertEqual(t, "second fragment", second, wantSecond)
}

func TestEngineResetClearsHistory(t *testing.T) {
	taps := [][]float32{{0.5, 0.5}}
	e, err := New(taps, 2, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	copy(e.InputChannel(0), []float32{10, 20})
	e.Process()
	e.Reset()

	copy(e.InputChannel(0), []float32{1, 2})
	e.Process()
	want := []float32{0.5, 1.5} // history should be zero again, not the old 20
	assertEqual(t, "post-reset fragment", e.OutputChannel(0), want)
}

func assertEqual(t *testing.T, label string, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: length got %d want %d", label, len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("%s[%d]: got %v want %v", label, i, got[i], want[i])
		}
	}
}
