// Package pathrender renders discrete early-reflection (and direct) sound
// paths by reading back a crossover-filtered, band-interleaved delay line at
// a per-path, continuously-interpolated delay offset and gain. It is
// component C of the rendering pipeline: the discrete counterpart to
// component A's late-reverb convolution tail.
//
// Adapted from gsSoundListenerRenderer.cpp's PathRenderState/renderPathState
// pair: a ring buffer of crossover-filtered input samples is written once
// per block, then every tracked path reads it back at its own delay and
// gain, each interpolated smoothly across the block to avoid zipper noise
// and clicks when a path's delay or level changes frame to frame.
package pathrender

import (
	"math"
	"time"

	"auralise/bands"
	"auralise/crossover"
	"auralise/model"
)

// Config configures a Renderer.
type Config struct {
	Fs      float64
	Bands   bands.Bands
	Layout  model.ChannelLayout
	HRTF    bool // route direct paths through the single-channel HRTF bus
	Request model.RenderRequest
}

// pathState is the persistent interpolation state for one tracked path,
// keyed by its Hash across frames.
type pathState struct {
	currentDelayTime     float64 // seconds
	targetDelayTime      float64
	delayChangePerSecond float32

	lerpTime  time.Duration
	timeStamp int64
	flags     model.PathFlags

	// currentGain/targetGain are per-channel band vectors (HRTF paths only
	// use index 0).
	currentGain []bands.Vector
	targetGain  []bands.Vector

	index int
}

// Renderer tracks and renders the set of discrete paths for one source (or
// one cluster, when paths from multiple sources have been merged upstream).
// Not safe for concurrent use.
type Renderer struct {
	cfg       Config
	crossover *crossover.Crossover
	history   *crossover.History

	delayLine []bands.Vector
	writeIdx  int

	timeStamp int64
	paths     map[model.Hash]*pathState

	numChannels int

	// hrtfBus is one past the last regular channel in a Render call's out
	// slice: HRTF-routed paths (PathIsDirect paths when Config.HRTF is set)
	// accumulate there instead of into the channel-layout panner's
	// channels, so the listener orchestrator can convolve that bus with the
	// two HRTF ear filters separately (spec.md §4.C "HRTF path bypasses the
	// panner ... routes to a separate output bus that is later summed").
	hrtfBus int
}

// New creates a Renderer whose delay line can hold at least
// 2*Request.MaxPathDelay of history, rounded up to a power of two so ring
// wraparound is a cheap mask.
func New(cfg Config) (*Renderer, error) {
	cx, err := crossover.New(cfg.Bands, cfg.Fs)
	if err != nil {
		return nil, err
	}

	maxDelaySamples := int(cfg.Request.MaxPathDelay.Seconds() * cfg.Fs)
	size := nextPow2(2 * (maxDelaySamples + 1))
	if size < 2 {
		size = 2
	}

	return &Renderer{
		cfg:         cfg,
		crossover:   cx,
		history:     crossover.NewHistory(bands.Count),
		delayLine:   make([]bands.Vector, size),
		paths:       make(map[model.Hash]*pathState),
		numChannels: cfg.Layout.ChannelCount(),
		hrtfBus:     cfg.Layout.ChannelCount(),
	}, nil
}

// HRTFBusChannel returns the index Render expects its HRTF bus at when
// Config.HRTF is set: callers must pass a Render out slice with
// Layout.ChannelCount()+1 entries, the last one being the mono HRTF input
// bus. Returns -1 when Config.HRTF is false (no bus is ever written).
func (r *Renderer) HRTFBusChannel() int {
	if !r.cfg.HRTF {
		return -1
	}
	return r.hrtfBus
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// WriteInput crossover-filters a block of mono input and appends it to the
// delay line, wrapping around the ring as needed.
func (r *Renderer) WriteInput(input []float32) {
	filtered := make([]bands.Vector, len(input))
	r.crossover.FilterScalar(r.history, input, filtered)
	for _, v := range filtered {
		r.delayLine[r.writeIdx] = v
		r.writeIdx = (r.writeIdx + 1) & (len(r.delayLine) - 1)
	}
}

// UpdatePaths registers a frame's worth of discrete paths, creating fresh
// interpolation state for any Hash not seen on the previous frame and
// refreshing the target delay/gain for ones that persist. convolutionLatency
// is added to a non-HRTF path's delay so it stays time-aligned with
// component A's late-reverb tail (spec §8).
func (r *Renderer) UpdatePaths(paths []model.SoundPath, orientation model.ListenerOrientation, convolutionLatency time.Duration) {
	r.timeStamp++
	req := r.cfg.Request

	channelGains := make([]float32, r.numChannels)

	for _, path := range paths {
		hrtfPath := r.cfg.HRTF && path.IsDirect()
		extraLatency := 0.0
		if !hrtfPath {
			extraLatency = convolutionLatency.Seconds()
		}
		delayTime := extraLatency + path.Delay
		if maxDelay := req.MaxPathDelay.Seconds(); maxDelay > 0 && delayTime > maxDelay {
			delayTime = maxDelay
		}
		delayChangePerSecond := float32(0)
		if path.Speed != 0 {
			delayChangePerSecond = path.RelativeSpeed / path.Speed
		}

		st, existed := r.paths[path.Hash]
		isNew := !existed
		if isNew {
			numPathChannels := r.numChannels
			if hrtfPath {
				numPathChannels = 1
			}
			st = &pathState{
				currentGain: make([]bands.Vector, numPathChannels),
				targetGain:  make([]bands.Vector, numPathChannels),
			}
			r.paths[path.Hash] = st
		}

		st.targetDelayTime = delayTime
		st.delayChangePerSecond = delayChangePerSecond
		st.lerpTime = req.PathFadeTime
		st.timeStamp = r.timeStamp
		st.flags = path.Flags

		pressure := path.Energy.Sqrt()

		if hrtfPath {
			st.targetGain[0] = pressure
		} else if path.IsDirect() {
			for c := range st.targetGain {
				st.targetGain[c] = pressure
			}
		} else {
			local := orientation.ToLocal(path.Direction)
			r.cfg.Layout.Pan(local, channelGains)
			for c := range st.targetGain {
				st.targetGain[c] = pressure.Scale(channelGains[c])
			}
		}

		if isNew {
			st.currentDelayTime = st.targetDelayTime
			for c := range st.currentGain {
				st.currentGain[c] = bands.Zero()
			}
		}
	}
}

// Render advances every tracked path by numSamples and accumulates its
// contribution into out (one []float32 per channel, each at least
// numSamples long, pre-zeroed or already holding other sources' output to
// mix into). Paths not refreshed by UpdatePaths on the previous frame fade
// out over PathFadeTime and are then dropped.
//
// Callers must call WriteInput with exactly numSamples samples immediately
// before Render for the same block: Render reconstructs the ring position
// that corresponds to zero delay for this block from the ring's current
// write cursor, which only lines up if the write for this block has already
// happened.
func (r *Renderer) Render(out [][]float32, numSamples int) {
	if numSamples == 0 {
		return
	}
	fs := r.cfg.Fs
	outputLength := float64(numSamples) / fs
	halfSample := 0.5 / fs
	invNumSamples := float32(1) / float32(numSamples)
	maxPathDelay := r.cfg.Request.MaxPathDelay.Seconds()
	maxDelayRate := r.cfg.Request.MaxDelayRate

	ringSize := len(r.delayLine)
	readIndex := (r.writeIdx - numSamples%ringSize + ringSize) % ringSize

	for hash, st := range r.paths {
		if st.timeStamp == r.timeStamp-1 {
			st.lerpTime = r.cfg.Request.PathFadeTime
			for c := range st.targetGain {
				st.targetGain[c] = bands.Zero()
			}
		}

		var lerpRate float32
		if st.lerpTime > 0 {
			lerpFraction := float32(outputLength / st.lerpTime.Seconds())
			lerpRate = lerpFraction * invNumSamples
		}

		delayChange := 0.0
		if math.Abs(st.currentDelayTime-st.targetDelayTime) > halfSample {
			dopplerRate := float64(st.delayChangePerSecond)
			midpointRate := ((st.currentDelayTime+st.targetDelayTime)/2 - st.currentDelayTime) / outputLength

			rate := midpointRate
			if math.Abs(dopplerRate) > halfSample/outputLength {
				if math.Abs(dopplerRate) > math.Abs(midpointRate) || dopplerRate*midpointRate < 0 {
					rate = dopplerRate
				} else {
					rate = math.Copysign(math.Min(math.Abs(midpointRate), math.Abs(dopplerRate)), midpointRate)
				}
			}
			if maxDelayRate > 0 {
				rate = math.Copysign(math.Min(math.Abs(rate), float64(maxDelayRate)), rate)
			}
			st.delayChangePerSecond = float32((float64(st.delayChangePerSecond) + rate) / 2)
			delayChange = rate * outputLength
		} else {
			st.currentDelayTime = st.targetDelayTime
		}

		next := st.currentDelayTime + delayChange
		if maxPathDelay > 0 && next >= maxPathDelay {
			delayChange = math.Max(maxPathDelay-st.currentDelayTime, 0)
		} else if next < 0 {
			delayChange = math.Max(-st.currentDelayTime, 0)
		}

		delayChangePerSample := float32(1) - float32(delayChange*fs)*invNumSamples

		readPos := float64(readIndex) - st.currentDelayTime*fs
		for readPos < 0 {
			readPos += float64(ringSize)
		}

		numPathChannels := len(st.currentGain)
		hrtfPath := numPathChannels == 1 && r.cfg.HRTF
		for c := 0; c < numPathChannels; c++ {
			outIdx := c
			if hrtfPath {
				outIdx = r.hrtfBus
			}
			if outIdx >= len(out) {
				continue
			}

			gainStep := st.targetGain[c].Sub(st.currentGain[c]).Scale(lerpRate)
			gain := st.currentGain[c]
			pos := readPos
			channelOut := out[outIdx]

			for s := 0; s < numSamples && s < len(channelOut); s++ {
				for pos >= float64(ringSize) {
					pos -= float64(ringSize)
				}
				i0 := int(pos)
				i1 := (i0 + 1) & (ringSize - 1)
				frac := float32(pos - float64(i0))

				v0 := r.delayLine[i0]
				v1 := r.delayLine[i1]
				sample := v1.Sub(v0).Scale(frac).Add(v0).Mul(gain).Sum()
				channelOut[s] += sample

				gain = gain.Add(gainStep)
				pos += float64(delayChangePerSample)
			}
			st.currentGain[c] = gain
		}

		st.currentDelayTime += delayChange

		if st.lerpTime <= time.Duration(outputLength*float64(time.Second)) {
			st.lerpTime = 0
			if st.timeStamp < r.timeStamp {
				delete(r.paths, hash)
			}
		} else {
			st.lerpTime -= time.Duration(outputLength * float64(time.Second))
		}
	}
}

// PathCount returns the number of paths currently tracked (including ones
// fading out), for RenderStatistics.RenderedPathCount accounting.
func (r *Renderer) PathCount() int {
	return len(r.paths)
}

// SizeInBytes estimates the renderer's retained memory, mirroring
// convolve.Engine.SizeInBytes's accounting style.
func (r *Renderer) SizeInBytes() int64 {
	n := int64(len(r.delayLine)) * int64(bands.Count) * 4
	for _, st := range r.paths {
		n += int64(len(st.currentGain)+len(st.targetGain)) * int64(bands.Count) * 4
	}
	return n
}
