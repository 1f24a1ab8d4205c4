package irasm

import (
	"math/rand"

	"auralise/bands"
	"auralise/crossover"
)

// noiseBasis is the shared, crossover-filtered white-noise buffer used to
// reconstruct phase for every IR this assembler builds: the energy
// envelope (a non-negative, phaseless quantity) is multiplied sample-for-
// sample, band-for-band, by this buffer so the resulting IR has plausible,
// uncorrelated phase across frequency bands instead of every band peaking
// in lock-step. Grounded on gsImpulseResponse.cpp's noise member:
// regenerated only when the required length grows, filtered once with the
// same crossover used for band analysis, and never reallocated mid-use.
type noiseBasis struct {
	bands []bands.Vector
	rng   *rand.Rand
}

// newNoiseBasis creates a noise basis with a fixed seed so tests (and any
// host that wants reproducible IRs) get deterministic output. A real
// deployment may want a host-supplied seed instead; exposing the seed
// keeps this decision with the caller rather than hard-coding one path.
func newNoiseBasis(seed int64) *noiseBasis {
	return &noiseBasis{rng: rand.New(rand.NewSource(seed))}
}

// ensureLength grows and re-filters the noise buffer if it is shorter than
// n, leaving it untouched otherwise.
func (nb *noiseBasis) ensureLength(n int, cx *crossover.Crossover) {
	if len(nb.bands) >= n {
		return
	}
	white := make([]float32, n)
	for i := range white {
		white[i] = nb.rng.Float32()*2 - 1
	}
	history := crossover.NewHistory(bands.Count)
	out := make([]bands.Vector, n)
	cx.FilterScalar(history, white, out)
	nb.bands = out
}
