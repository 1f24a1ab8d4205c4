// Package model holds the data types shared across the auralise core: the
// sampled impulse response grid, discrete sound paths, per-source and
// per-listener IR containers, channel layouts, and the render request/
// statistics types that form the external interface boundary (spec §6).
package model

import "auralise/bands"

// SourceID identifies a sound source across render blocks and IR updates.
// The host owns the identity; auralise only ever compares IDs for equality
// and uses them as map keys.
type SourceID uint64

// SampledIR is a discrete time grid of energy-vs-time-vs-direction samples
// at the system sample rate, spanning [StartSample, EndSample).
type SampledIR struct {
	StartSample int
	EndSample   int

	// Energy[t-StartSample] is the per-band intensity (non-negative) at
	// sample t.
	Energy []bands.Vector

	// Direction[t-StartSample] is the unit-length (or zero) direction of
	// arrival in world space at sample t.
	Direction []Vector3
}

// Len returns the number of samples covered by the IR.
func (ir SampledIR) Len() int {
	return ir.EndSample - ir.StartSample
}

// PathFlags are bit flags describing a SoundPath's role.
type PathFlags uint32

const (
	// PathIsDirect marks the direct (line-of-sight) path from source to
	// listener. Direct paths bypass the channel-layout panner (they are
	// distributed equally to all channels) and, when HRTF is enabled,
	// route through the HRTF convolution bus instead of the panner.
	PathIsDirect PathFlags = 1 << iota

	// PathIsHRTF marks a path as HRTF-rendered. The discrete-path renderer
	// does not read this flag: only PathIsDirect paths are routed to the
	// HRTF bus, and only when HRTF is enabled.
	PathIsHRTF
)

// Has reports whether f contains all bits of other.
func (f PathFlags) Has(other PathFlags) bool {
	return f&other == other
}

// SoundPath is a single specular/early-reflection propagation path.
type SoundPath struct {
	// Hash identifies this physical propagation path (e.g. a specific chain
	// of reflecting surfaces) stably across frames, the same way SourceID
	// identifies a source: the host computes it once from whatever it used
	// to trace the path and the renderer only ever compares it for
	// equality. Paths sharing a Hash across two frames are treated as the
	// same path and keep their delay/gain interpolation state; a Hash not
	// seen on the previous frame starts fresh.
	Hash Hash

	Energy        bands.Vector
	Direction     Vector3 // unit-length
	Delay         float64 // seconds
	RelativeSpeed float32 // for Doppler; signed, positive = approaching
	Speed         float32 // propagation speed (e.g. speed of sound)
	Flags         PathFlags
}

// IsDirect reports whether p is the direct path.
func (p SoundPath) IsDirect() bool {
	return p.Flags.Has(PathIsDirect)
}

// Hash is a stable identity for a path across frames, used by the
// discrete-path renderer to retain per-path delay/gain state (spec §8
// "Ordering"). Paths with the same hash across frames are the same path;
// paths with distinct hashes are independent and get fresh state.
type Hash uint64

// SourceIR is one source's contribution to a listener's IR: a sampled
// energy/direction grid plus an ordered list of discrete early-reflection
// paths.
type SourceIR struct {
	Source        SourceID
	Sampled       SampledIR
	Paths         []SoundPath
	MaxPathDelay  float64 // seconds, over all Paths
}

// ListenerOrientation is the world-space pose of a listener, used to
// rotate source/path directions of arrival into the listener's local frame
// before panning.
type ListenerOrientation struct {
	Position       Vector3
	Forward, Up, Right Vector3
}

// ToLocal rotates a world-space direction into this listener's local frame.
func (o ListenerOrientation) ToLocal(worldDirection Vector3) Vector3 {
	return RotateInto(worldDirection, o.Forward, o.Up, o.Right)
}

// ListenerIR is the full set of per-source IRs submitted for one listener
// at one propagation update.
type ListenerIR struct {
	Sources     map[SourceID]SourceIR
	Orientation ListenerOrientation
	Bands       bands.Bands
	Sensitivity float32 // dB
	Threshold   float32 // minimum audible energy, dB
}
