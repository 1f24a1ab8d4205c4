package crossover

import (
	"math"
	"testing"

	"auralise/bands"
)

func TestNewRejectsOutOfRangeCrossover(t *testing.T) {
	t.Parallel()
	b, err := bands.NewBands([bands.Count - 1]float32{200, 1000, 30000})
	if err != nil {
		t.Fatalf("NewBands: %v", err)
	}
	if _, err := New(b, 48000); err == nil {
		t.Fatal("expected error for crossover above Nyquist")
	}
}

func TestFilterScalarSumsToInputAtDC(t *testing.T) {
	t.Parallel()
	// A Linkwitz-Riley crossover reconstructs the original signal (up to a
	// small settling transient) when all bands are summed; verify that a
	// long constant DC input settles to the same value across all bands'
	// sum once filter state has stabilized.
	b := bands.DefaultBands()
	c, err := New(b, 48000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := NewHistory(bands.Count)

	const n = 4096
	input := make([]float32, n)
	for i := range input {
		input[i] = 1.0
	}
	out := make([]bands.Vector, n)
	c.FilterScalar(h, input, out)

	last := out[n-1]
	sum := last.Sum()
	if math.Abs(float64(sum)-1.0) > 0.05 {
		t.Fatalf("band sum at settled DC = %v, want ~1.0", sum)
	}
}

func TestFilterLowPassIdentityAboveCrossover(t *testing.T) {
	t.Parallel()
	b := bands.DefaultBands()
	c, err := New(b, 48000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := NewHistory(bands.Count)

	// The top band should pass DC through its low-pass chain essentially
	// unchanged in the steady state (it has no upper crossover).
	const n = 8192
	in := make([]bands.Vector, n)
	for i := range in {
		in[i] = bands.Splat(1.0)
	}
	out := make([]bands.Vector, n)
	c.FilterLowPass(h, in, out)

	top := bands.Count - 1
	if math.Abs(float64(out[n-1][top])-1.0) > 0.05 {
		t.Fatalf("top band low-pass settled value = %v, want ~1.0", out[n-1][top])
	}
}

func TestHistoryResetZeroesState(t *testing.T) {
	t.Parallel()
	h := NewHistory(bands.Count)
	h.Filters[0].Input[0] = bands.Splat(1)
	h.Reset()
	if h.Filters[0].Input[0] != bands.Zero() {
		t.Fatal("Reset did not zero filter history")
	}
}
