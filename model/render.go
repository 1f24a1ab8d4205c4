package model

import "time"

// RenderFlags select which render-path features are active for a listener.
// Flags are read as a snapshot at the start of each block (spec §6).
type RenderFlags uint32

const (
	// FlagDiscretePaths enables the discrete-path renderer (component C).
	FlagDiscretePaths RenderFlags = 1 << iota
	// FlagConvolution enables the partitioned-convolution late-reverb tail
	// (component A, fed by component B).
	FlagConvolution
	// FlagHRTF routes the direct path through the HRTF filter bus
	// (component G) instead of the channel-layout panner; all other paths
	// are still panned through the layout.
	FlagHRTF
	// FlagReverb names an additive, non-spatialized reverb tail after
	// convolution. No package in this module reads it: setting it adds no
	// reverb tail to the output.
	FlagReverb
	// FlagStatistics enables RenderStatistics collection. Left off by
	// default since it adds bookkeeping to the render path.
	FlagStatistics
)

// Has reports whether f contains all bits of other.
func (f RenderFlags) Has(other RenderFlags) bool {
	return f&other == other
}

// RenderRequest is the host-supplied configuration for one listener's
// render pipeline. It is a plain value, not a file-backed config: the host
// constructs it directly and may replace it between blocks, where it is
// treated as a snapshot for the duration of the block in progress (spec §6).
type RenderRequest struct {
	Layout ChannelLayout
	Fs     float64 // sample rate, Hz

	Flags RenderFlags

	// MaxLatency bounds the convolution engine's block size (and hence its
	// algorithmic latency); the engine clamps to the nearest valid block
	// order and logs a warning if the request exceeds what partitioning can
	// support at this sample rate.
	MaxLatency time.Duration

	// MaxIRLength bounds how much of a submitted IR is retained after
	// noise-floor trimming; the hard backstop from spec §7.
	MaxIRLength time.Duration

	// MaxSourcePathCount bounds how many discrete paths from one source are
	// rendered discretely; the lowest-energy excess paths are folded into
	// the sampled IR (and so into the convolution tail) instead.
	MaxSourcePathCount int

	// MaxPathDelay bounds the discrete-path delay ring size.
	MaxPathDelay time.Duration

	// MaxDelayRate bounds how fast a path's delay may change per second of
	// playback (Doppler/motion clamp), in seconds of delay per second.
	MaxDelayRate float32

	IRFadeTime         time.Duration
	HRTFFadeTime       time.Duration
	PathFadeTime       time.Duration
	SourceFadeTime     time.Duration
	ClusterFadeInTime  time.Duration
	ClusterFadeOutTime time.Duration

	Volume float32 // linear output gain, applied post-mix

	// MaxHRTFOrder is a spherical-harmonic order bound for HRTF fitting
	// (component G). Clamp keeps it non-negative; the listener does not read
	// it, since it takes an already fitted hrtf.Projection.
	MaxHRTFOrder int
}

// Clamp returns a copy of r with out-of-range fields clamped to supportable
// values. It never mutates r, matching the render-path convention that
// validated state is always a fresh value, not an in-place repair. Callers
// on the update path should log a warning when Clamp changes a field.
func (r RenderRequest) Clamp() RenderRequest {
	out := r
	if out.Fs <= 0 {
		out.Fs = 48000
	}
	if out.Volume < 0 {
		out.Volume = 0
	}
	if out.MaxSourcePathCount < 0 {
		out.MaxSourcePathCount = 0
	}
	if out.MaxHRTFOrder < 0 {
		out.MaxHRTFOrder = 0
	}
	if out.MaxDelayRate < 0 {
		out.MaxDelayRate = 0
	}
	return out
}

// RenderStatistics reports the listener orchestrator's load and resource
// usage over a trailing window. Populated only when FlagStatistics is set
// (spec §6); collection is the one piece of orchestrator bookkeeping that
// is allowed to cost something, since it is opt-in.
type RenderStatistics struct {
	// RenderingLoad is wall-clock render time divided by real time, over a
	// trailing window (1.0 means the render pool is using 100% of one
	// real-time budget).
	RenderingLoad float64

	// RenderingLatency is the convolution latency currently in effect (the
	// listener's engines' ConvolutionLatency); fade times are not included.
	RenderingLatency time.Duration

	// RenderedPathCount is the number of discrete paths rendered in the
	// most recent block, summed over all sources.
	RenderedPathCount int

	// RenderingMemory is the approximate number of bytes retained by the
	// listener's render state (convolution FDLs, delay rings, cluster
	// pool), mirrored from getSizeInBytes-style accounting.
	RenderingMemory int64
}

// SourceSoundBuffer is a block of mono input audio for one source. The
// listener uses Samples as mono audio already at its own Fs: it does no
// resampling or stereo-to-mono downmixing, and it does not read the Fs
// field; decoding the source's native format is an
// external collaborator's responsibility (spec §1 non-goals).
type SourceSoundBuffer struct {
	Source SourceID
	Fs     float64
	Samples []float32

	// Timestamp is the host's playout time for Samples[0], used by the
	// source input ring to resynchronize a slightly-stale or slightly-ahead
	// buffer by up to one block without sample loss.
	Timestamp time.Duration
}
