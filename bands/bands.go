// Package bands defines the fixed-width frequency-band vector type shared by
// every auralise component, and the frequency-band configuration that
// divides the audible spectrum into non-overlapping ranges for the crossover,
// IR assembler, and discrete-path renderer.
package bands

import (
	"fmt"
	"math"
)

// Count is the number of frequency bands used by this build. It is fixed at
// compile time (canonical values are 4 or 8) because every hot-path buffer
// in the engine is laid out as a contiguous run of Count float32s per sample.
const Count = 4

// Vector is a fixed-width per-band scalar vector. Its width matches Count so
// that band-interleaved buffers (successive Vectors) are directly usable by
// SIMD-width vector operations.
type Vector [Count]float32

// Zero returns the zero vector.
func Zero() Vector {
	return Vector{}
}

// Splat returns a vector with every band set to v.
func Splat(v float32) Vector {
	var out Vector
	for i := range out {
		out[i] = v
	}
	return out
}

// Add returns a + b.
func (a Vector) Add(b Vector) Vector {
	var out Vector
	for i := range out {
		out[i] = a[i] + b[i]
	}
	return out
}

// Scale returns a * s.
func (a Vector) Scale(s float32) Vector {
	var out Vector
	for i := range out {
		out[i] = a[i] * s
	}
	return out
}

// Sub returns a - b.
func (a Vector) Sub(b Vector) Vector {
	var out Vector
	for i := range out {
		out[i] = a[i] - b[i]
	}
	return out
}

// Mul returns the element-wise product a * b.
func (a Vector) Mul(b Vector) Vector {
	var out Vector
	for i := range out {
		out[i] = a[i] * b[i]
	}
	return out
}

// Sum returns the sum of all bands.
func (a Vector) Sum() float32 {
	var s float32
	for _, v := range a {
		s += v
	}
	return s
}

// Sqrt returns the element-wise square root, clamping negative energies to
// zero (energies must be non-negative per the data model, but a noise-floor
// subtraction upstream can produce small negative residues).
func (a Vector) Sqrt() Vector {
	var out Vector
	for i, v := range a {
		if v < 0 {
			v = 0
		}
		out[i] = sqrtf(v)
	}
	return out
}

func sqrtf(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// Bands describes the ordered, non-overlapping frequency ranges that divide
// the audible spectrum for this build. Crossover i separates band i from
// band i+1; there are Count-1 crossover frequencies for Count bands.
type Bands struct {
	crossovers [Count - 1]float32
}

// NewBands validates and wraps a list of Count-1 strictly increasing
// crossover frequencies (Hz).
func NewBands(crossoverHz [Count - 1]float32) (Bands, error) {
	for i := 1; i < len(crossoverHz); i++ {
		if crossoverHz[i] <= crossoverHz[i-1] {
			return Bands{}, fmt.Errorf("bands: crossover frequencies must be strictly increasing, got %v", crossoverHz)
		}
	}
	return Bands{crossovers: crossoverHz}, nil
}

// DefaultBands returns a reasonable default split of the audible spectrum
// into Count bands (for the 4-band build, logarithmically spaced crossovers
// at 200 Hz, 1 kHz and 5 kHz).
func DefaultBands() Bands {
	switch Count {
	case 4:
		return Bands{crossovers: [Count - 1]float32{200, 1000, 5000}}
	case 8:
		return Bands{crossovers: [Count - 1]float32{100, 250, 630, 1600, 4000, 8000, 14000}}
	default:
		// Logarithmically spaced crossovers between 100 Hz and 16 kHz.
		var c [Count - 1]float32
		lo, hi := 100.0, 16000.0
		for i := range c {
			t := float64(i+1) / float64(Count)
			c[i] = float32(lo * math.Pow(hi/lo, t))
		}
		return Bands{crossovers: c}
	}
}

// Crossover returns the i-th crossover frequency in Hz (0 <= i < Count-1).
func (b Bands) Crossover(i int) float32 {
	return b.crossovers[i]
}

// NumCrossovers returns Count-1.
func (b Bands) NumCrossovers() int {
	return len(b.crossovers)
}
