// Package crossover splits a single audio stream into bands.Count
// band-interleaved SIMD lanes using cascaded Linkwitz-Riley 4th-order
// filters (two cascaded 2nd-order Butterworth stages per crossover point),
// following the time-domain IIR crossover design in the teacher's
// convolution-stage filtering. A second, low-pass-only coefficient set
// supports the IR assembler's band-energy smoothing pass, which needs a
// low-pass envelope per band rather than a true band-pass separation.
package crossover

import (
	"fmt"
	"math"

	"auralise/bands"
	"auralise/denormal"
)

// butterworthB1 is the fixed pole-pair coefficient for a 2nd-order
// Butterworth filter: -2*cos(3*pi/4), which is exactly sqrt(2).
const butterworthB1 = math.Sqrt2

// biquadCoeffs holds the five coefficients of one normalized 2nd-order
// direct-form-I-style biquad section, as produced by getButterworth2*.
type biquadCoeffs struct {
	a0, a1, a2 float32
	b0, b1     float32
}

func butterworth2LowPass(w0 float64) biquadCoeffs {
	w0sq := w0 * w0
	a := 1 + butterworthB1*w0 + w0sq
	a0 := 1 / a
	return biquadCoeffs{
		a0: float32(a0),
		a1: 2,
		a2: 1,
		b0: float32(2 * (1 - w0sq) * a0),
		b1: float32((1 - butterworthB1*w0 + w0sq) * a0),
	}
}

func butterworth2HighPass(w0 float64) biquadCoeffs {
	c := butterworth2LowPass(w0)
	c.a1 = -c.a1
	c.b0 = -c.b0
	return c
}

func identityBiquad() biquadCoeffs {
	return biquadCoeffs{a0: 1}
}

// filterSet holds the band-interleaved coefficients for one crossover
// point's pair of cascaded 2nd-order sections, one lane per frequency
// band. a[0..2]/b[0..1] are the first section; a[3..5]/b[2..3] the second.
type filterSet struct {
	a [6]bands.Vector
	b [4]bands.Vector
}

// apply runs the cascaded pair of biquads over io, mutating h in place, and
// returns the filtered value.
func (fs *filterSet) apply(io bands.Vector, h *FilterHistory) bands.Vector {
	in := fs.a[0].Mul(io)
	in2 := in.Sub(fs.b[0].Mul(h.Output[0])).
		Add(fs.a[1].Mul(h.Input[0])).
		Sub(fs.b[1].Mul(h.Output[1])).
		Add(fs.a[2].Mul(h.Input[1]))
	h.Input[1] = h.Input[0]
	h.Input[0] = in
	h.Output[1] = h.Output[0]
	h.Output[0] = in2

	in = fs.a[3].Mul(in2)
	out := in.Sub(fs.b[2].Mul(h.Output[2])).
		Add(fs.a[4].Mul(h.Input[2])).
		Sub(fs.b[3].Mul(h.Output[3])).
		Add(fs.a[5].Mul(h.Input[3]))
	h.Input[3] = h.Input[2]
	h.Input[2] = in
	h.Output[3] = h.Output[2]
	h.Output[2] = out
	return out
}

// FilterHistory carries one filter set's cascaded-biquad state across
// calls. Callers own the History containing these and must pass the same
// one back on every call for a given stream; it is never read or written
// by more than one goroutine at a time.
type FilterHistory struct {
	Input  [4]bands.Vector
	Output [4]bands.Vector
}

func (h *FilterHistory) reset() {
	*h = FilterHistory{}
}

// History is the full per-crossover-point filter state for one stream.
// Create it with NewHistory: the zero value has no per-crossover state, and
// the Filter methods panic when given one.
type History struct {
	Filters []FilterHistory
}

// NewHistory allocates a History sized for a crossover with the given
// number of bands.
func NewHistory(numBands int) *History {
	if numBands < 1 {
		numBands = 1
	}
	return &History{Filters: make([]FilterHistory, numBands-1)}
}

// Reset zeroes all filter state.
func (h *History) Reset() {
	for i := range h.Filters {
		h.Filters[i].reset()
	}
}

// flushDenormals clamps near-zero filter history to exact zero, avoiding
// CPU denormal stalls on silence after a transient (spec.md §8).
func (h *History) flushDenormals() {
	for i := range h.Filters {
		fh := &h.Filters[i]
		for j := range fh.Input {
			for k := range fh.Input[j] {
				fh.Input[j][k] = denormal.Flush(fh.Input[j][k])
				fh.Output[j][k] = denormal.Flush(fh.Output[j][k])
			}
		}
	}
}

// Crossover holds the band-interleaved filter coefficients for a fixed
// frequency-band configuration and sample rate. Construct with New;
// coefficients never change after construction (reconfiguring the band
// split requires a new Crossover).
type Crossover struct {
	cfg       bands.Bands
	filters   []filterSet // full crossover: each band band-passed between its neighbors
	filtersLP []filterSet // low-pass-only: bands above a crossover pass through unchanged
}

// New builds a Crossover for the given band configuration at sample rate
// fs. Returns an error if a crossover frequency is at or above the Nyquist
// rate.
func New(cfg bands.Bands, fs float64) (*Crossover, error) {
	n := cfg.NumCrossovers()
	c := &Crossover{
		cfg:       cfg,
		filters:   make([]filterSet, n),
		filtersLP: make([]filterSet, n),
	}

	for i := 0; i < n; i++ {
		freq := float64(cfg.Crossover(i))
		ratio := freq / fs
		if ratio <= 0 || ratio >= 0.5 {
			return nil, fmt.Errorf("crossover: frequency %g Hz is out of range for sample rate %g Hz", freq, fs)
		}
		if ratio > 0.499 {
			ratio = 0.499
		}
		w0HighPass := math.Tan(math.Pi * ratio)
		w0LowPass := 1 / w0HighPass

		var fsFull, fsLP filterSet
		for j := 0; j < bands.Count; j++ {
			var stage1, stage2, stage1LP, stage2LP biquadCoeffs
			if i >= j {
				stage1 = butterworth2LowPass(w0LowPass)
				stage2 = butterworth2LowPass(w0LowPass)
				stage1LP = stage1
				stage2LP = stage2
			} else {
				stage1 = butterworth2HighPass(w0HighPass)
				stage2 = butterworth2HighPass(w0HighPass)
				stage1LP = identityBiquad()
				stage2LP = identityBiquad()
			}
			setLane(&fsFull, j, stage1, stage2)
			setLane(&fsLP, j, stage1LP, stage2LP)
		}
		c.filters[i] = fsFull
		c.filtersLP[i] = fsLP
	}
	return c, nil
}

func setLane(fs *filterSet, lane int, stage1, stage2 biquadCoeffs) {
	fs.a[0][lane] = stage1.a0
	fs.a[1][lane] = stage1.a1
	fs.a[2][lane] = stage1.a2
	fs.b[0][lane] = stage1.b0
	fs.b[1][lane] = stage1.b1
	fs.a[3][lane] = stage2.a0
	fs.a[4][lane] = stage2.a1
	fs.a[5][lane] = stage2.a2
	fs.b[2][lane] = stage2.b0
	fs.b[3][lane] = stage2.b1
}

// Bands returns the band configuration this Crossover was built for.
func (c *Crossover) Bands() bands.Bands { return c.cfg }

// FilterScalar splits a scalar input stream into band-interleaved output,
// one bands.Vector per input sample, using the full band-pass crossover.
// history must have been created by NewHistory with a matching band count
// and is updated in place. Flush-to-zero mode is held for the duration of
// the call.
func (c *Crossover) FilterScalar(history *History, input []float32, out []bands.Vector) {
	if len(out) < len(input) {
		panic("crossover: out must be at least as long as input")
	}
	denormal.Scope(func() {
		for i, sample := range input {
			v := bands.Splat(sample)
			for fi := range c.filters {
				v = c.filters[fi].apply(v, &history.Filters[fi])
			}
			out[i] = v
		}
		history.flushDenormals()
	})
}

// FilterSIMD applies the full band-pass crossover to an already
// band-interleaved input stream (e.g. re-filtering a previous band split).
func (c *Crossover) FilterSIMD(history *History, input []bands.Vector, out []bands.Vector) {
	if len(out) < len(input) {
		panic("crossover: out must be at least as long as input")
	}
	denormal.Scope(func() {
		for i, v := range input {
			for fi := range c.filters {
				v = c.filters[fi].apply(v, &history.Filters[fi])
			}
			out[i] = v
		}
		history.flushDenormals()
	})
}

// FilterLowPass applies the low-pass-only coefficient set: each band is
// low-passed at its own upper crossover and at every crossover above that,
// and passes through the crossovers below it unchanged, producing a smooth per-band energy envelope rather than a true
// band-pass split. Used by the IR assembler's energy-histogram smoothing.
func (c *Crossover) FilterLowPass(history *History, input []bands.Vector, out []bands.Vector) {
	if len(out) < len(input) {
		panic("crossover: out must be at least as long as input")
	}
	denormal.Scope(func() {
		for i, v := range input {
			for fi := range c.filtersLP {
				v = c.filtersLP[fi].apply(v, &history.Filters[fi])
			}
			out[i] = v
		}
		history.flushDenormals()
	})
}

// FilterLowPassSingle applies the low-pass-only coefficient set to a
// single bands.Vector sample, for callers that process one IR partition
// sample at a time (the IR assembler's per-partition smoothing loop).
func (c *Crossover) FilterLowPassSingle(history *History, in bands.Vector) bands.Vector {
	v := in
	for fi := range c.filtersLP {
		v = c.filtersLP[fi].apply(v, &history.Filters[fi])
	}
	return v
}
