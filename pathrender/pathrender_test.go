package pathrender

import (
	"testing"
	"time"

	"auralise/bands"
	"auralise/model"
)

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	req := model.RenderRequest{
		MaxPathDelay: 100 * time.Millisecond,
		PathFadeTime: 5 * time.Millisecond,
	}
	r, err := New(Config{
		Fs:      48000,
		Bands:   bands.DefaultBands(),
		Layout:  model.Mono(),
		Request: req,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestNewPathStartsAtTargetDelay(t *testing.T) {
	t.Parallel()
	r := newTestRenderer(t)

	input := make([]float32, 512)
	input[0] = 1
	r.WriteInput(input)

	paths := []model.SoundPath{
		{Hash: 1, Energy: bands.Splat(1), Speed: 343, Delay: 0.001},
	}
	r.UpdatePaths(paths, model.ListenerOrientation{Forward: model.Vector3{X: 0, Y: 0, Z: -1}, Up: model.Vector3{Y: 1}, Right: model.Vector3{X: 1}}, 0)

	if r.PathCount() != 1 {
		t.Fatalf("PathCount = %d, want 1", r.PathCount())
	}
	if st := r.paths[1]; st.currentDelayTime != st.targetDelayTime {
		t.Fatalf("new path current delay = %v, want target delay %v", st.currentDelayTime, st.targetDelayTime)
	}

	out := [][]float32{make([]float32, len(input))}
	r.Render(out, len(input))

	var energy float32
	for _, v := range out[0] {
		energy += v * v
	}
	if energy == 0 {
		t.Fatalf("expected nonzero output energy from rendered path")
	}
}

func TestStalePathFadesOutAndIsRemoved(t *testing.T) {
	t.Parallel()
	r := newTestRenderer(t)

	input := make([]float32, 256)
	input[0] = 1
	r.WriteInput(input)
	paths := []model.SoundPath{{Hash: 7, Energy: bands.Splat(1), Speed: 343}}
	orientation := model.ListenerOrientation{Forward: model.Vector3{Z: -1}, Up: model.Vector3{Y: 1}, Right: model.Vector3{X: 1}}
	r.UpdatePaths(paths, orientation, 0)

	out := [][]float32{make([]float32, len(input))}
	r.Render(out, len(input))
	if r.PathCount() != 1 {
		t.Fatalf("expected path to persist after first render")
	}

	// Next frame: no paths submitted, so the existing one should fade out
	// and eventually be dropped across enough render calls.
	for i := 0; i < 50 && r.PathCount() > 0; i++ {
		r.UpdatePaths(nil, orientation, 0)
		in := make([]float32, 256)
		r.WriteInput(in)
		out := [][]float32{make([]float32, 256)}
		r.Render(out, 256)
	}
	if r.PathCount() != 0 {
		t.Fatalf("expected stale path to be removed, PathCount = %d", r.PathCount())
	}
}
