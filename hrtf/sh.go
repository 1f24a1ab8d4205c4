package hrtf

import (
	"math"

	"auralise/model"
)

// coefficientCount returns the number of real SH coefficients for an
// expansion up to and including order n: (n+1)^2, matching gsound's
// SH::getCoefficientCount.
func coefficientCount(order int) int {
	return (order + 1) * (order + 1)
}

// index returns the flat coefficient index for degree l, order m
// (|m| <= l), matching the standard l*(l+1)+m packing gsound's SH class
// uses.
func index(l, m int) int {
	return l*(l+1) + m
}

// evalBasis evaluates every real spherical harmonic Y_lm for l = 0..order at
// the given unit direction, writing Y_lm into out[index(l,m)]. out must
// have length coefficientCount(order).
//
// Computed directly from cartesian coordinates via the associated
// Legendre recurrence (sectoral term, one-step raise, then the standard
// upward recurrence in l) rather than converting to spherical angles
// first, so the expansion stays well-defined at the poles. Grounded on
// the "SH::cartesian" call gsHRTFFilter.cpp integrates over; the specific
// recurrence is the standard one used throughout real-SH graphics/audio
// literature (e.g. Green's "Spherical Harmonic Lighting" notes), not
// copied from any file in the corpus, since SH.cpp itself was not part of
// the retrieved source.
func evalBasis(order int, dir model.Vector3, out []float32) {
	x, y, z := float64(dir.X), float64(dir.Y), float64(dir.Z)

	// P[l][m] holds P_l^m(z) for the current l, m in [0,l].
	p := make([][]float64, order+1)
	for l := range p {
		p[l] = make([]float64, order+1)
	}

	p[0][0] = 1
	for m := 1; m <= order; m++ {
		// Sectoral recurrence: P_m^m = -(2m-1) sqrt(1-z^2) P_{m-1}^{m-1}.
		p[m][m] = p[m-1][m-1] * float64(1-2*m) * sqrtOneMinusZZ(x, y)
	}
	for m := 0; m < order; m++ {
		// One-step raise: P_{m+1}^m = z (2m+1) P_m^m.
		p[m+1][m] = z * float64(2*m+1) * p[m][m]
	}
	for m := 0; m <= order; m++ {
		for l := m + 2; l <= order; l++ {
			p[l][m] = (z*float64(2*l-1)*p[l-1][m] - float64(l+m-1)*p[l-2][m]) / float64(l-m)
		}
	}

	// Azimuthal cos(m*phi)/sin(m*phi) via the angle-sum recurrence on
	// (x,y) directly, avoiding atan2 entirely.
	cosPhi := make([]float64, order+1)
	sinPhi := make([]float64, order+1)
	cosPhi[0], sinPhi[0] = 1, 0
	r := sqrtOneMinusZZ(x, y)
	c1, s1 := 1.0, 0.0
	if r > 1e-12 {
		c1, s1 = x/r, y/r
	}
	for m := 1; m <= order; m++ {
		cosPhi[m] = cosPhi[m-1]*c1 - sinPhi[m-1]*s1
		sinPhi[m] = sinPhi[m-1]*c1 + cosPhi[m-1]*s1
	}

	for l := 0; l <= order; l++ {
		out[index(l, 0)] = float32(kNorm(l, 0) * p[l][0])
		for m := 1; m <= l; m++ {
			n := kNorm(l, m)
			out[index(l, m)] = float32(sqrt2 * n * p[l][m] * cosPhi[m])
			out[index(l, -m)] = float32(sqrt2 * n * p[l][m] * sinPhi[m])
		}
	}
}

const sqrt2 = 1.4142135623730951

func sqrtOneMinusZZ(x, y float64) float64 {
	v := x*x + y*y
	if v < 0 {
		v = 0
	}
	return math.Sqrt(v)
}

// kNorm returns the real-SH normalization constant sqrt((2l+1)/(4pi) *
// (l-m)!/(l+m)!).
func kNorm(l, m int) float64 {
	num := (2*float64(l) + 1) / (4 * math.Pi)
	ratio := 1.0
	for k := l - m + 1; k <= l+m; k++ {
		ratio /= float64(k)
	}
	return math.Sqrt(num * ratio)
}
