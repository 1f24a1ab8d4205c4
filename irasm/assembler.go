// Package irasm assembles a host's per-source SampledIR energy/direction
// grids into a time-domain impulse response per output channel, ready for
// the convolution engine (component A) to Submit. It reconstructs phase
// by multiplying the (phaseless, non-negative) per-band energy envelope
// by a shared crossover-filtered noise basis, following
// gsImpulseResponse.cpp's "compute the final buffer" pass.
package irasm

import (
	"fmt"
	"math"
	"time"

	"auralise/bands"
	"auralise/crossover"
	"auralise/model"
)

// Config bounds how an Assembler trims and pads IRs.
type Config struct {
	Fs float64

	// MaxIRLength is a hard backstop on retained IR length regardless of
	// noise-floor trimming (spec.md §7).
	MaxIRLength time.Duration

	// NoiseFloorTime is how much of the IR's tail is sampled to estimate
	// the noise floor before trimming (gsImpulseResponse.cpp: 0.4s).
	NoiseFloorTime time.Duration

	// NoiseFloorMargin multiplies the measured tail average to get the
	// trim threshold (a "slop" factor above the raw noise floor).
	NoiseFloorMargin float32

	// Seed seeds the deterministic noise basis. Two Assemblers built with
	// the same seed and Fs/Bands produce bit-identical IRs from the same
	// input, which is useful for golden-output tests.
	Seed int64
}

// Assembler turns ListenerIR submissions into per-channel time-domain
// impulse responses. Not safe for concurrent use; the listener
// orchestrator owns one per listener and calls it from the update thread.
type Assembler struct {
	cfg       Config
	crossover *crossover.Crossover
	noise     *noiseBasis
}

// New builds an Assembler for the given frequency-band split and sample
// rate.
func New(cfg Config, b bands.Bands) (*Assembler, error) {
	cx, err := crossover.New(b, cfg.Fs)
	if err != nil {
		return nil, fmt.Errorf("irasm: %w", err)
	}
	if cfg.NoiseFloorTime <= 0 {
		cfg.NoiseFloorTime = 400 * time.Millisecond
	}
	if cfg.NoiseFloorMargin <= 0 {
		cfg.NoiseFloorMargin = 4
	}
	return &Assembler{
		cfg:       cfg,
		crossover: cx,
		noise:     newNoiseBasis(cfg.Seed),
	}, nil
}

// AssembleChannel builds one output channel's time-domain IR from a
// listener's combined sampled-energy grid and per-sample pan gains for
// that channel. gains[t] is the channel's linear gain at sample t
// (already computed by the caller from a ChannelLayout.Pan call per
// sample, since pan gain depends on per-sample direction of arrival).
//
// This is the per-channel inner loop of gsImpulseResponse.cpp's "Filter
// the interleaved IR and write the final IR output": multiply energy by
// pan gain, convert to pressure via sqrt, low-pass smooth across bands,
// then multiply by the noise basis and sum bands to a scalar sample.
func (a *Assembler) AssembleChannel(sampled model.SampledIR, gains []float32) ([]float32, error) {
	n := sampled.Len()
	if len(gains) < n {
		return nil, fmt.Errorf("irasm: gains too short: have %d need %d", len(gains), n)
	}

	a.noise.ensureLength(n, a.crossover)

	panned := make([]bands.Vector, n)
	for t := 0; t < n; t++ {
		panned[t] = sampled.Energy[t].Scale(gains[t])
	}

	pressure := make([]bands.Vector, n)
	for t := range panned {
		pressure[t] = panned[t].Sqrt()
	}

	smoothHistory := crossover.NewHistory(bands.Count)
	smoothed := make([]bands.Vector, n)
	a.crossover.FilterLowPass(smoothHistory, pressure, smoothed)

	combined := bands.MulAll(smoothed, a.noise.bands[:n])
	out := make([]float32, n)
	for t := range combined {
		out[t] = combined[t].Sum()
	}

	return a.trim(out), nil
}

// BinPaths folds a set of discrete early-reflection paths into a sampled
// energy grid by accumulating each path's energy into the time bin its
// delay falls in, so a path budget overflow can fall back to the
// convolution tail rather than being dropped silently. Bins are one sample
// wide, at sample floor(delay*fs) (gsImpulseResponse.cpp uses 0.01s bins
// for metrics; the IR's own sample-accurate bins are used here since
// SampledIR is already at the system sample rate).
func BinPaths(paths []model.SoundPath, sampled *model.SampledIR, fs float64) {
	for _, p := range paths {
		sampleIndex := int(math.Floor(p.Delay * fs))
		bin := sampleIndex - sampled.StartSample
		if bin < 0 || bin >= len(sampled.Energy) {
			continue
		}
		sampled.Energy[bin] = sampled.Energy[bin].Add(p.Energy)
	}
}

// trim applies noise-floor trimming followed by the hard maxIRLength
// backstop (spec.md's supplemented feature 3): first cut the tail once
// energy drops below a floor derived from the last NoiseFloorTime of the
// IR, then clamp to MaxIRLength regardless.
func (a *Assembler) trim(ir []float32) []float32 {
	tailSamples := int(a.cfg.NoiseFloorTime.Seconds() * a.cfg.Fs)
	if tailSamples > 0 && tailSamples < len(ir) {
		var tailEnergy float64
		start := len(ir) - tailSamples
		for _, v := range ir[start:] {
			tailEnergy += float64(v) * float64(v)
		}
		meanTail := float32(math.Sqrt(tailEnergy / float64(tailSamples)))
		floor := meanTail * a.cfg.NoiseFloorMargin

		end := len(ir)
		for end > 0 && absf32(ir[end-1]) < floor {
			end--
		}
		if end < len(ir) {
			ir = ir[:end]
		}
	}

	if a.cfg.MaxIRLength > 0 {
		maxSamples := int(a.cfg.MaxIRLength.Seconds() * a.cfg.Fs)
		if len(ir) > maxSamples {
			ir = ir[:maxSamples]
		}
	}
	return ir
}

func absf32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
