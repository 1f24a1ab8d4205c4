package irasm

import (
	"testing"
	"time"

	"auralise/bands"
	"auralise/model"
)

func TestAssembleChannelProducesExpectedLength(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Fs: 48000}, bands.DefaultBands())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 256
	sampled := model.SampledIR{
		StartSample: 0,
		EndSample:   n,
		Energy:      make([]bands.Vector, n),
		Direction:   make([]model.Vector3, n),
	}
	sampled.Energy[0] = bands.Splat(1)

	gains := make([]float32, n)
	for i := range gains {
		gains[i] = 1
	}

	out, err := a.AssembleChannel(sampled, gains)
	if err != nil {
		t.Fatalf("AssembleChannel: %v", err)
	}
	if len(out) == 0 || len(out) > n {
		t.Fatalf("AssembleChannel returned %d samples, want (0, %d]", len(out), n)
	}
}

func TestAssembleChannelRejectsShortGains(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Fs: 48000}, bands.DefaultBands())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sampled := model.SampledIR{StartSample: 0, EndSample: 10, Energy: make([]bands.Vector, 10)}
	if _, err := a.AssembleChannel(sampled, make([]float32, 2)); err == nil {
		t.Fatalf("expected error for short gains slice")
	}
}

func TestTrimRespectsMaxIRLength(t *testing.T) {
	t.Parallel()
	a, err := New(Config{Fs: 48000, MaxIRLength: 10 * time.Millisecond, NoiseFloorMargin: 1e-9}, bands.DefaultBands())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ir := make([]float32, 48000)
	for i := range ir {
		ir[i] = 1
	}
	trimmed := a.trim(ir)
	maxSamples := int(0.010 * 48000)
	if len(trimmed) > maxSamples {
		t.Fatalf("trim: len = %d, want <= %d", len(trimmed), maxSamples)
	}
}

func TestBinPathsAccumulatesIntoBin(t *testing.T) {
	t.Parallel()
	sampled := model.SampledIR{
		StartSample: 0,
		EndSample:   4,
		Energy:      make([]bands.Vector, 4),
	}
	paths := []model.SoundPath{
		{Energy: bands.Splat(2), Delay: float64(1) / 48000},
	}
	BinPaths(paths, &sampled, 48000)
	if got := sampled.Energy[1].Sum(); got != bands.Splat(2).Sum() {
		t.Fatalf("bin 1 sum = %v, want %v", got, bands.Splat(2).Sum())
	}
}
