// Package hrtf implements the HRTF spherical-harmonic projector
// (component G): it compresses a sparse, per-direction measured HRTF into
// a spherical-harmonic expansion via Monte-Carlo integration, then
// evaluates that expansion at an arbitrary direction to produce a
// frequency-domain filter ready for the convolution engine (component A).
//
// Grounded on gsHRTFFilter.{h,cpp}'s setHRTF/getFilter pair: the adaptive
// order search with backtracking, the Marsaglia-style uniform-direction
// Monte-Carlo sampling, and the nearest-direction interpolation used to
// build synthetic integration samples are all taken from that file's
// algorithm, reimplemented in Go with the FFT routed through algo-fft
// (component A's own FFT library) instead of FFTW.
package hrtf

import (
	"fmt"
	"math"
	"math/rand"

	algofft "github.com/MeKo-Christian/algo-fft"

	"auralise/model"
	"auralise/pkg/resampler"
)

// MeasuredDirection is one direction's measured, per-channel impulse
// response at the database's own sample rate.
type MeasuredDirection struct {
	Direction model.Vector3 // unit-length
	// IR[c] is channel c's impulse response, all channels the same length.
	IR [][]float32
}

// Measured is a sparse per-direction HRTF database, as acquired by an
// external collaborator (spec.md §1 non-goals: "HRTF database
// acquisition" — only its use here is in scope).
type Measured struct {
	Fs         float64
	Directions []MeasuredDirection
}

// Config bounds the Monte-Carlo SH fit.
type Config struct {
	MaxOrder              int     // nmax
	MaxError              float32 // absolute L2 error threshold
	Convergence           float32 // relative-improvement threshold
	NumIntegrationSamples int     // ~2000 default
	Seed                  int64
}

// Projection is a fitted spherical-harmonic expansion of a measured HRTF:
// per channel, one frequency-domain filter per SH coefficient, evaluated
// at query time by a weighted sum over the basis (spec.md's
// HRTFProjection data type).
type Projection struct {
	Order        int
	FilterLength int // power-of-two time-domain length L
	Channels     int

	// coeffs[channel][coefficientIndex] is a frequency-domain filter of
	// length FilterLength/2+1.
	coeffs [][][]complex64

	fftPlan *algofft.PlanRealT[float32, complex64]
}

func defaultConfig(cfg Config) Config {
	if cfg.MaxOrder <= 0 {
		cfg.MaxOrder = 9
	}
	if cfg.MaxError <= 0 {
		cfg.MaxError = 0.05
	}
	if cfg.NumIntegrationSamples <= 0 {
		cfg.NumIntegrationSamples = 2000
	}
	return cfg
}

// Fit projects a measured HRTF into an adaptively-ordered SH expansion at
// the given target sample rate, following gsHRTFFilter.cpp's setHRTF: each
// measured IR is resampled to fs and FFTed, ~NumIntegrationSamples
// synthetic directions are generated via Marsaglia sampling and filled in
// by cosine-weighted interpolation from the three nearest measured
// directions, then increasing SH orders are fit against those synthetic
// samples until the L2 error is below MaxError, relative improvement is
// below Convergence, or MaxOrder is reached — backtracking one order if
// error ever increases.
func Fit(m Measured, fs float64, cfg Config) (*Projection, error) {
	if len(m.Directions) == 0 {
		return nil, fmt.Errorf("hrtf: measured HRTF has no directions")
	}
	channels := len(m.Directions[0].IR)
	if channels == 0 {
		return nil, fmt.Errorf("hrtf: measured HRTF has no channels")
	}
	cfg = defaultConfig(cfg)

	irLength := len(m.Directions[0].IR[0])
	srcFs := m.Fs
	if srcFs <= 0 {
		srcFs = fs
	}
	resampledLength := int(float64(irLength)*fs/srcFs + 0.999999)
	filterLength := nextPow2(resampledLength)

	fftPlan, err := algofft.NewPlanReal32(filterLength)
	if err != nil {
		return nil, fmt.Errorf("hrtf: creating FFT plan: %w", err)
	}

	rs := resampler.New()
	measuredFreq := make([][][]complex64, channels)
	for c := range measuredFreq {
		measuredFreq[c] = make([][]complex64, len(m.Directions))
	}
	for i, d := range m.Directions {
		for c := 0; c < channels; c++ {
			resampled, err := rs.Resample(d.IR[c], srcFs, fs)
			if err != nil {
				return nil, fmt.Errorf("hrtf: resampling measured IR: %w", err)
			}
			td := make([]float32, filterLength)
			copy(td, resampled)

			freq := make([]complex64, filterLength/2+1)
			if err := fftPlan.Forward(freq, td); err != nil {
				return nil, fmt.Errorf("hrtf: FFT of measured IR: %w", err)
			}
			measuredFreq[c][i] = freq
		}
	}

	directions := make([]model.Vector3, len(m.Directions))
	for i, d := range m.Directions {
		directions[i] = d.Direction
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	sampleDirs := make([]model.Vector3, cfg.NumIntegrationSamples)
	sampleFreq := make([][][]complex64, channels)
	for c := range sampleFreq {
		sampleFreq[c] = make([][]complex64, cfg.NumIntegrationSamples)
	}
	for i := 0; i < cfg.NumIntegrationSamples; i++ {
		dir := randomDirection(rng)
		sampleDirs[i] = dir
		for c := 0; c < channels; c++ {
			sampleFreq[c][i] = interpolateNearest(dir, directions, measuredFreq[c])
		}
	}

	coeffs := make([][][]complex64, channels)
	for c := range coeffs {
		coeffs[c] = make([][]complex64, 0)
	}

	order := 0
	lastCoeffCount := 0
	lastError := float32(1e30)
	backtracked := false
	basis := make([]float32, coefficientCount(cfg.MaxOrder))

	for {
		coeffCount := coefficientCount(order)
		for c := range coeffs {
			for len(coeffs[c]) < coeffCount {
				coeffs[c] = append(coeffs[c], make([]complex64, filterLength/2+1))
			}
		}

		normalize := float32(4*3.14159265358979323846) / float32(cfg.NumIntegrationSamples)
		for c := 0; c < channels; c++ {
			for i, dir := range sampleDirs {
				evalBasis(order, dir, basis[:coeffCount])
				freq := sampleFreq[c][i]
				for j := lastCoeffCount; j < coeffCount; j++ {
					w := complex(basis[j]*normalize, float32(0))
					for f := range freq {
						coeffs[c][j][f] += freq[f] * w
					}
				}
			}
		}

		errSq := float32(0)
		var errCount int
		for c := 0; c < channels; c++ {
			for i, dir := range sampleDirs {
				evalBasis(order, dir, basis[:coeffCount])
				freq := sampleFreq[c][i]
				for f := range freq {
					var recon complex64
					for j := 0; j < coeffCount; j++ {
						recon += coeffs[c][j][f] * complex(basis[j], float32(0))
					}
					d := freq[f] - recon
					errSq += float32(real64(d)*real64(d) + imag64(d)*imag64(d))
				}
				errCount += len(freq)
			}
		}
		errVal := float32(math.Sqrt(float64(errSq / float32(errCount))))

		if errVal > lastError && !backtracked {
			order--
			cfg.MaxOrder = order
			backtracked = true
			continue
		}

		if errVal < cfg.MaxError || (lastError/errVal-1) < cfg.Convergence || order == cfg.MaxOrder {
			return &Projection{
				Order:        order,
				FilterLength: filterLength,
				Channels:     channels,
				coeffs:       coeffs,
				fftPlan:      fftPlan,
			}, nil
		}

		lastError = errVal
		lastCoeffCount = coeffCount
		order++
	}
}

// Evaluate forms the frequency-domain HRTF filter for channel c at
// direction dir: F_c(f) = sum_lm coeffs[c][lm][f] * Y_lm(dir), spec.md
// §4.G's query-time formula. out must have length FilterLength/2+1.
func (p *Projection) Evaluate(c int, dir model.Vector3, out []complex64) error {
	if c < 0 || c >= p.Channels {
		return fmt.Errorf("hrtf: channel %d out of range [0,%d)", c, p.Channels)
	}
	basis := make([]float32, coefficientCount(p.Order))
	evalBasis(p.Order, dir, basis)
	for f := range out {
		out[f] = 0
	}
	for j, w := range basis {
		filt := p.coeffs[c][j]
		cw := complex(w, float32(0))
		for f := range out {
			out[f] += filt[f] * cw
		}
	}
	return nil
}

// EvaluateTimeDomain forms the time-domain HRTF filter for channel c at
// direction dir, ready to hand to a convolution engine's Submit (spec.md
// §4.G "Hand to §4.B for partitioning"). out must have length
// FilterLength.
func (p *Projection) EvaluateTimeDomain(c int, dir model.Vector3, out []float32) error {
	freq := make([]complex64, p.FilterLength/2+1)
	if err := p.Evaluate(c, dir, freq); err != nil {
		return err
	}
	return p.fftPlan.Inverse(out, freq)
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// randomDirection draws a uniform direction on the unit sphere from two
// uniform random numbers (Marsaglia's method), matching
// gsHRTFFilter.h's getRandomDirection exactly: u1 in [-1,1], u2 in [0,1],
// r = sqrt(1-u1^2), theta = 2*pi*u2, direction = (r*cos(theta),
// r*sin(theta), u1).
func randomDirection(rng *rand.Rand) model.Vector3 {
	u1 := rng.Float64()*2 - 1
	u2 := rng.Float64()
	r := math.Sqrt(1 - u1*u1)
	theta := 2 * math.Pi * u2
	return model.Vector3{
		X: float32(r * math.Cos(theta)),
		Y: float32(r * math.Sin(theta)),
		Z: float32(u1),
	}
}

// interpolateNearest builds a synthetic frequency-domain filter for dir by
// cosine-weighting the three nearest measured directions (spec.md §4.G:
// "barycentric (or cosine-weighted) mixing" — this module takes the
// cosine-weighted option, matching gsHRTFFilter.cpp's two/three-sample
// fallback branches rather than its full barycentric path).
func interpolateNearest(dir model.Vector3, directions []model.Vector3, freqs [][]complex64) []complex64 {
	n := len(freqs[0])
	out := make([]complex64, n)

	switch len(directions) {
	case 0:
		return out
	case 1:
		copy(out, freqs[0])
		return out
	}

	type scored struct {
		idx int
		cos float32
	}
	best := []scored{{-1, -2}, {-1, -2}, {-1, -2}}
	for i, d := range directions {
		c := dir.Dot(d)
		if c > best[0].cos {
			best[2] = best[1]
			best[1] = best[0]
			best[0] = scored{i, c}
		} else if c > best[1].cos {
			best[2] = best[1]
			best[1] = scored{i, c}
		} else if c > best[2].cos {
			best[2] = scored{i, c}
		}
	}

	var total float32
	var used []scored
	for _, s := range best {
		if s.idx < 0 {
			continue
		}
		w := s.cos
		if w < 0 {
			w = 0
		}
		total += w
		used = append(used, s)
	}
	if total < 1e-8 {
		// All candidates point away from dir: fall back to an unweighted
		// average rather than dividing by ~zero.
		for _, s := range used {
			for f := range out {
				out[f] += freqs[s.idx][f] * complex(1/float32(len(used)), 0)
			}
		}
		return out
	}
	for _, s := range used {
		w := s.cos
		if w < 0 {
			w = 0
		}
		weight := w / total
		for f := range out {
			out[f] += freqs[s.idx][f] * complex(weight, 0)
		}
	}
	return out
}

func real64(c complex64) float64 { return float64(real(c)) }
func imag64(c complex64) float64 { return float64(imag(c)) }
