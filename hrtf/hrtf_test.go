package hrtf

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"auralise/model"
)

func TestRandomDirectionIsUnitLength(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Int64().Draw(t, "seed")
		rng := rand.New(rand.NewSource(seed))
		dir := randomDirection(rng)
		require.InDelta(t, 1.0, float64(dir.Length()), 1e-5)
	})
}

func TestEvalBasisOrder0IsConstant(t *testing.T) {
	t.Parallel()
	// Y_00 = 1/sqrt(4*pi) everywhere, independent of direction.
	want := 1 / math.Sqrt(4*math.Pi)
	for _, dir := range []model.Vector3{
		{X: 0, Y: 0, Z: 1},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: -1},
	} {
		out := make([]float32, coefficientCount(0))
		evalBasis(0, dir, out)
		require.InDelta(t, want, float64(out[0]), 1e-5)
	}
}

func TestEvalBasisAtPolesIsWellDefined(t *testing.T) {
	t.Parallel()
	// The azimuthal recurrence divides by sqrt(1-z^2) to get cos/sin of the
	// azimuth, which is zero at the poles: evalBasis must still produce
	// finite output there.
	out := make([]float32, coefficientCount(4))
	evalBasis(4, model.Vector3{X: 0, Y: 0, Z: 1}, out)
	for i, v := range out {
		require.Falsef(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "coefficient %d is %v at the north pole", i, v)
	}
}

// syntheticHRTF builds a small measured HRTF: directions spread across the
// sphere, each channel's IR a distinct low-order sinusoid of the direction
// so the fit has real directional structure to recover.
func syntheticHRTF(channels, irLen int) Measured {
	dirs := []model.Vector3{
		{X: 0, Y: 0, Z: 1},
		{X: 0, Y: 0, Z: -1},
		{X: 1, Y: 0, Z: 0},
		{X: -1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: -1, Z: 0},
		{X: 0.577, Y: 0.577, Z: 0.577},
		{X: -0.577, Y: 0.577, Z: -0.577},
	}
	m := Measured{Fs: 48000, Directions: make([]MeasuredDirection, len(dirs))}
	for i, d := range dirs {
		ir := make([][]float32, channels)
		for c := 0; c < channels; c++ {
			amp := 0.5 + 0.5*d.Dot(model.Vector3{X: 1, Y: float32(c), Z: 0}.Normalized())
			buf := make([]float32, irLen)
			buf[0] = amp
			ir[c] = buf
		}
		m.Directions[i] = MeasuredDirection{Direction: d.Normalized(), IR: ir}
	}
	return m
}

func TestFitEvaluateRoundTripStaysWithinError(t *testing.T) {
	t.Parallel()
	m := syntheticHRTF(2, 16)
	cfg := Config{
		MaxOrder:              4,
		MaxError:              0.05,
		Convergence:           0.01,
		NumIntegrationSamples: 400,
		Seed:                  1,
	}

	proj, err := Fit(m, m.Fs, cfg)
	require.NoError(t, err)
	require.Equal(t, 2, proj.Channels)
	require.LessOrEqual(t, proj.Order, cfg.MaxOrder)

	// Evaluate at every measured direction and compare to the measured
	// filter's spectrum (spec.md example test 6): accumulate the same L2
	// error metric the fit itself converges on.
	var errSq float64
	var n int
	freq := make([]complex64, proj.FilterLength/2+1)
	for _, d := range m.Directions {
		for c := 0; c < proj.Channels; c++ {
			require.NoError(t, proj.Evaluate(c, d.Direction, freq))

			measured := make([]float32, proj.FilterLength)
			copy(measured, d.IR[c])
			measuredFreq := make([]complex64, proj.FilterLength/2+1)
			require.NoError(t, proj.fftPlan.Forward(measuredFreq, measured))

			for f := range freq {
				diff := freq[f] - measuredFreq[f]
				errSq += float64(real(diff))*float64(real(diff)) + float64(imag(diff))*float64(imag(diff))
				n++
			}
		}
	}
	rmsErr := math.Sqrt(errSq / float64(n))
	require.LessOrEqualf(t, rmsErr, float64(cfg.MaxError)*4, "reconstruction error %v too far from fit target %v", rmsErr, cfg.MaxError)
}

func TestEvaluateTimeDomainProducesFilterLengthSamples(t *testing.T) {
	t.Parallel()
	m := syntheticHRTF(2, 16)
	proj, err := Fit(m, m.Fs, Config{MaxOrder: 2, NumIntegrationSamples: 200, Seed: 2})
	require.NoError(t, err)

	out := make([]float32, proj.FilterLength)
	require.NoError(t, proj.EvaluateTimeDomain(0, model.Vector3{X: 0, Y: 0, Z: 1}, out))

	var sawNonzero bool
	for _, v := range out {
		if v != 0 {
			sawNonzero = true
			break
		}
	}
	require.True(t, sawNonzero, "expected a non-silent filter for a direction near a measured one")
}

func TestEvaluateRejectsOutOfRangeChannel(t *testing.T) {
	t.Parallel()
	m := syntheticHRTF(2, 8)
	proj, err := Fit(m, m.Fs, Config{MaxOrder: 1, NumIntegrationSamples: 100, Seed: 3})
	require.NoError(t, err)

	out := make([]complex64, proj.FilterLength/2+1)
	require.Error(t, proj.Evaluate(2, model.Vector3{X: 0, Y: 0, Z: 1}, out))
}
