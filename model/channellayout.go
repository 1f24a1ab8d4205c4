package model

import "math"

// LayoutKind tags the shape of a channel layout. Per the "Replacing dynamic
// polymorphism" design note, pan strategy dispatch is a switch on this tag
// rather than a virtual method, so the per-sample inner loop can specialize
// on the common Mono/Stereo cases.
type LayoutKind int

const (
	LayoutMono LayoutKind = iota
	LayoutStereo
	LayoutAmbisonicB
	LayoutSurround
)

// Speaker is one loudspeaker position in a Surround layout, used for VBAP
// triangulation.
type Speaker struct {
	Direction Vector3 // unit-length, listener-local
}

// ChannelLayout describes the output channel configuration. Construct with
// the Mono/Stereo/AmbisonicB/Surround helpers below.
type ChannelLayout struct {
	Kind     LayoutKind
	Speakers []Speaker // only used for LayoutSurround
}

// Mono returns a single-channel layout.
func Mono() ChannelLayout { return ChannelLayout{Kind: LayoutMono} }

// Stereo returns a two-channel layout (cosine-equal-power pan).
func Stereo() ChannelLayout { return ChannelLayout{Kind: LayoutStereo} }

// AmbisonicB returns a first-order B-format (W,X,Y,Z) layout.
func AmbisonicB() ChannelLayout { return ChannelLayout{Kind: LayoutAmbisonicB} }

// Surround returns an arbitrary-speaker layout panned with VBAP.
func Surround(speakers []Speaker) ChannelLayout {
	return ChannelLayout{Kind: LayoutSurround, Speakers: speakers}
}

// ChannelCount returns the number of output channels for this layout.
func (c ChannelLayout) ChannelCount() int {
	switch c.Kind {
	case LayoutMono:
		return 1
	case LayoutStereo:
		return 2
	case LayoutAmbisonicB:
		return 4
	case LayoutSurround:
		return len(c.Speakers)
	default:
		return 0
	}
}

// Pan computes the per-channel gain vector for a listener-local direction
// (zero-length direction means "no directional information": Mono, Stereo
// and Surround then pan equally to all channels, AmbisonicB feeds only W).
// gains must have length ChannelCount().
func (c ChannelLayout) Pan(direction Vector3, gains []float32) {
	switch c.Kind {
	case LayoutMono:
		gains[0] = 1
	case LayoutStereo:
		panStereo(direction, gains)
	case LayoutAmbisonicB:
		panAmbisonicB(direction, gains)
	case LayoutSurround:
		panVBAP(direction, c.Speakers, gains)
	}
}

func panStereo(direction Vector3, gains []float32) {
	if direction.IsZero() {
		gains[0], gains[1] = 1, 1
		return
	}
	az, _ := direction.AzimuthElevation()
	// Cosine-equal-power panner: map azimuth in [-pi/2, pi/2] to a pan
	// position in [0,1], clamp outside that range to hard left/right.
	const halfPi = math.Pi / 2
	pos := (float64(az) + halfPi) / math.Pi
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	theta := pos * halfPi
	gains[0] = float32(math.Cos(theta))
	gains[1] = float32(math.Sin(theta))
}

func panAmbisonicB(direction Vector3, gains []float32) {
	if direction.IsZero() {
		gains[0] = float32(math.Sqrt2 / 2)
		gains[1], gains[2], gains[3] = 0, 0, 0
		return
	}
	az, el := direction.AzimuthElevation()
	cosEl := float32(math.Cos(float64(el)))
	gains[0] = float32(math.Sqrt2 / 2)
	gains[1] = absf32(float32(math.Cos(float64(az))) * cosEl)
	gains[2] = absf32(float32(math.Sin(float64(az))) * cosEl)
	gains[3] = absf32(float32(math.Sin(float64(el))))
}

func absf32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

// panVBAP pans a direction over an arbitrary speaker layout using 2D
// vector-base amplitude panning: the direction is bracketed between the two
// nearest speakers (by angular distance projected onto the horizontal
// plane) and given energy-normalized gains between them. This is a
// simplified 2D VBAP rather than full 3D triangulation, sufficient for
// horizontal speaker rings (5.1/7.1); speakers are assumed coplanar, which
// holds for the common surround layouts this targets.
func panVBAP(direction Vector3, speakers []Speaker, gains []float32) {
	for i := range gains {
		gains[i] = 0
	}
	n := len(speakers)
	if n == 0 {
		return
	}
	if direction.IsZero() {
		g := float32(1) / float32(math.Sqrt(float64(n)))
		for i := range gains {
			gains[i] = g
		}
		return
	}

	az, _ := direction.AzimuthElevation()

	type speakerAngle struct {
		index int
		angle float32
	}
	angles := make([]speakerAngle, n)
	for i, sp := range speakers {
		a, _ := sp.Direction.AzimuthElevation()
		angles[i] = speakerAngle{i, a}
	}

	// Find the pair of speakers that bracket az, i.e. the nearest speaker on
	// each side.
	bestLeft, bestRight := -1, -1
	bestLeftDelta, bestRightDelta := float32(math.MaxFloat32), float32(math.MaxFloat32)
	for _, sa := range angles {
		d := angularDelta(az, sa.angle)
		if d >= 0 && d < bestRightDelta {
			bestRightDelta = d
			bestRight = sa.index
		}
		if d <= 0 && -d < bestLeftDelta {
			bestLeftDelta = -d
			bestLeft = sa.index
		}
	}
	if bestLeft == -1 {
		bestLeft = bestRight
	}
	if bestRight == -1 {
		bestRight = bestLeft
	}
	if bestLeft == bestRight {
		gains[bestLeft] = 1
		return
	}

	span := bestLeftDelta + bestRightDelta
	if span <= 0 {
		gains[bestLeft] = 1
		return
	}
	tRight := bestLeftDelta / span
	tLeft := float32(1) - tRight

	// Energy-normalize the pair so gLeft^2 + gRight^2 = 1.
	norm := float32(1) / float32(math.Sqrt(float64(tLeft*tLeft+tRight*tRight)))
	gains[bestLeft] = tLeft * norm
	gains[bestRight] = tRight * norm
}

// angularDelta returns the signed shortest angular distance from b to a,
// wrapped to (-pi, pi].
func angularDelta(a, b float32) float32 {
	d := a - b
	for d > math.Pi {
		d -= 2 * math.Pi
	}
	for d < -math.Pi {
		d += 2 * math.Pi
	}
	return d
}
