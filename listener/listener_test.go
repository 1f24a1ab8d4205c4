package listener

import (
	"testing"
	"time"

	"auralise/bands"
	"auralise/hrtf"
	"auralise/model"
)

func testConfig() Config {
	return Config{
		Request: model.RenderRequest{
			Layout:             model.Stereo(),
			Fs:                 48000,
			Flags:              model.FlagDiscretePaths | model.FlagConvolution,
			MaxLatency:         2 * time.Millisecond,
			MaxIRLength:        500 * time.Millisecond,
			MaxSourcePathCount: 8,
			MaxPathDelay:       200 * time.Millisecond,
			MaxDelayRate:       1,
			IRFadeTime:         20 * time.Millisecond,
			PathFadeTime:       10 * time.Millisecond,
			SourceFadeTime:     5 * time.Millisecond,
			ClusterFadeInTime:  5 * time.Millisecond,
			ClusterFadeOutTime: 10 * time.Millisecond,
			Volume:             1,
		},
		Bands: bands.DefaultBands(),
		Seed:  1,
	}
}

func straightAheadIR(n int) model.SourceIR {
	energy := make([]bands.Vector, n)
	direction := make([]model.Vector3, n)
	for i := range energy {
		energy[i] = bands.Splat(0.01)
		direction[i] = model.Vector3{X: 0, Y: 0, Z: -1}
	}
	return model.SourceIR{
		Source: 1,
		Sampled: model.SampledIR{
			StartSample: 0,
			EndSample:   n,
			Energy:      energy,
			Direction:   direction,
		},
		Paths: []model.SoundPath{
			{
				Hash:      1,
				Energy:    bands.Splat(0.05),
				Direction: model.Vector3{X: 0, Y: 0, Z: -1},
				Delay:     0.001,
				Speed:     343,
				Flags:     model.PathIsDirect,
			},
		},
	}
}

func TestSubmitIRThenReadProducesNonSilentOutput(t *testing.T) {
	t.Parallel()
	l, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src := straightAheadIR(256)
	err = l.SubmitIR(model.ListenerIR{
		Sources: map[model.SourceID]model.SourceIR{1: src},
		Orientation: model.ListenerOrientation{
			Forward: model.Vector3{X: 0, Y: 0, Z: -1},
			Up:      model.Vector3{X: 0, Y: 1, Z: 0},
			Right:   model.Vector3{X: 1, Y: 0, Z: 0},
		},
		Bands:       bands.DefaultBands(),
		Sensitivity: 0,
	})
	if err != nil {
		t.Fatalf("SubmitIR: %v", err)
	}

	const numSamples = 64
	in := make([]float32, numSamples)
	for i := range in {
		in[i] = 1
	}
	sources := []model.SourceSoundBuffer{{Source: 1, Fs: 48000, Samples: in}}
	power := map[model.SourceID]float32{1: 1}

	out := [][]float32{make([]float32, numSamples), make([]float32, numSamples)}

	var gotSound bool
	for block := 0; block < 20; block++ {
		n, err := l.Read(sources, power, out, numSamples)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n != numSamples {
			t.Fatalf("Read returned %d samples, want %d", n, numSamples)
		}
		for _, ch := range out {
			for _, v := range ch {
				if v != 0 {
					gotSound = true
				}
			}
		}
	}
	if !gotSound {
		t.Fatalf("expected nonzero output once the path/IR fade-ins complete")
	}
}

func testHRTFProjection(t *testing.T) *hrtf.Projection {
	t.Helper()
	dirs := []model.Vector3{
		{X: 0, Y: 0, Z: 1}, {X: 0, Y: 0, Z: -1},
		{X: 1, Y: 0, Z: 0}, {X: -1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0}, {X: 0, Y: -1, Z: 0},
	}
	m := hrtf.Measured{Fs: 48000, Directions: make([]hrtf.MeasuredDirection, len(dirs))}
	for i, d := range dirs {
		ir := make([][]float32, 2)
		ir[0] = make([]float32, 16)
		ir[1] = make([]float32, 16)
		ir[0][0] = 1
		ir[1][0] = 1
		m.Directions[i] = hrtf.MeasuredDirection{Direction: d, IR: ir}
	}
	proj, err := hrtf.Fit(m, 48000, hrtf.Config{MaxOrder: 2, NumIntegrationSamples: 200, Seed: 1})
	if err != nil {
		t.Fatalf("hrtf.Fit: %v", err)
	}
	return proj
}

func TestSubmitIRThenReadWithHRTFProducesNonSilentOutput(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Request.Flags |= model.FlagHRTF
	cfg.Request.HRTFFadeTime = 20 * time.Millisecond
	cfg.HRTF = testHRTFProjection(t)

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src := straightAheadIR(256)
	err = l.SubmitIR(model.ListenerIR{
		Sources: map[model.SourceID]model.SourceIR{1: src},
		Orientation: model.ListenerOrientation{
			Forward: model.Vector3{X: 0, Y: 0, Z: -1},
			Up:      model.Vector3{X: 0, Y: 1, Z: 0},
			Right:   model.Vector3{X: 1, Y: 0, Z: 0},
		},
		Bands:       bands.DefaultBands(),
		Sensitivity: 0,
	})
	if err != nil {
		t.Fatalf("SubmitIR: %v", err)
	}

	const numSamples = 64
	in := make([]float32, numSamples)
	for i := range in {
		in[i] = 1
	}
	sources := []model.SourceSoundBuffer{{Source: 1, Fs: 48000, Samples: in}}
	power := map[model.SourceID]float32{1: 1}

	out := [][]float32{make([]float32, numSamples), make([]float32, numSamples)}

	var gotSound bool
	for block := 0; block < 20; block++ {
		if _, err := l.Read(sources, power, out, numSamples); err != nil {
			t.Fatalf("Read: %v", err)
		}
		for _, ch := range out {
			for _, v := range ch {
				if v != 0 {
					gotSound = true
				}
			}
		}
	}
	if !gotSound {
		t.Fatalf("expected nonzero output once the HRTF-routed direct path's fade-in completes")
	}
}

func TestReadWithStatisticsPopulatesLoadAndLatency(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Request.Flags |= model.FlagStatistics
	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src := straightAheadIR(256)
	err = l.SubmitIR(model.ListenerIR{
		Sources: map[model.SourceID]model.SourceIR{1: src},
		Orientation: model.ListenerOrientation{
			Forward: model.Vector3{X: 0, Y: 0, Z: -1},
			Up:      model.Vector3{X: 0, Y: 1, Z: 0},
			Right:   model.Vector3{X: 1, Y: 0, Z: 0},
		},
		Bands:       bands.DefaultBands(),
		Sensitivity: 0,
	})
	if err != nil {
		t.Fatalf("SubmitIR: %v", err)
	}

	const numSamples = 64
	in := make([]float32, numSamples)
	for i := range in {
		in[i] = 1
	}
	sources := []model.SourceSoundBuffer{{Source: 1, Fs: 48000, Samples: in}}
	power := map[model.SourceID]float32{1: 1}
	out := [][]float32{make([]float32, numSamples), make([]float32, numSamples)}

	for block := 0; block < 5; block++ {
		if _, err := l.Read(sources, power, out, numSamples); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}

	stats := l.Statistics()
	if stats.RenderingLoad <= 0 {
		t.Fatalf("expected RenderingLoad to be populated, got %v", stats.RenderingLoad)
	}
	if stats.RenderingLatency <= 0 {
		t.Fatalf("expected RenderingLatency to be populated, got %v", stats.RenderingLatency)
	}
	if stats.RenderedPathCount == 0 {
		t.Fatalf("expected RenderedPathCount to be nonzero once the direct path is tracked")
	}
}

func TestReadWithNoSourcesProducesSilence(t *testing.T) {
	t.Parallel()
	l, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const numSamples = 32
	out := [][]float32{make([]float32, numSamples), make([]float32, numSamples)}
	n, err := l.Read(nil, nil, out, numSamples)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != numSamples {
		t.Fatalf("Read returned %d samples, want %d", n, numSamples)
	}
	for _, ch := range out {
		for _, v := range ch {
			if v != 0 {
				t.Fatalf("expected silence with no sources submitted, got %v", v)
			}
		}
	}
}
