package cluster

import (
	"testing"
	"time"

	"auralise/model"
)

func testRequest() model.RenderRequest {
	return model.RenderRequest{
		SourceFadeTime:     5 * time.Millisecond,
		ClusterFadeInTime:  5 * time.Millisecond,
		ClusterFadeOutTime: 10 * time.Millisecond,
	}
}

func TestUpdateCreatesOneClusterPerGroup(t *testing.T) {
	t.Parallel()
	p := New(48000)
	p.Update([][]model.SourceID{{1, 2}, {3}}, testRequest())
	if got := p.ActiveClusterCount(); got != 2 {
		t.Fatalf("ActiveClusterCount = %d, want 2", got)
	}
}

func TestUpdateReattachesKnownSourceToExistingCluster(t *testing.T) {
	t.Parallel()
	p := New(48000)
	req := testRequest()
	p.Update([][]model.SourceID{{1, 2}}, req)
	if got := p.ActiveClusterCount(); got != 1 {
		t.Fatalf("ActiveClusterCount = %d, want 1", got)
	}

	// Source 1 now appears with a new source 3: since 1 already belongs to
	// a cluster, the whole group should attach there rather than creating
	// a second cluster.
	p.Update([][]model.SourceID{{1, 3}}, req)
	if got := p.ActiveClusterCount(); got != 1 {
		t.Fatalf("ActiveClusterCount after reattach = %d, want 1", got)
	}
}

func TestAbsentClusterFadesOutAndIsDestroyed(t *testing.T) {
	t.Parallel()
	p := New(48000)
	req := testRequest()
	p.Update([][]model.SourceID{{1}}, req)

	destroyed := false
	for i := 0; i < 1000 && !destroyed; i++ {
		p.Update(nil, req)
		// Drive every slot's gain ramp; ClusterGain also performs destruction.
		for slot := range p.slots {
			if !p.slots[slot].alive() {
				continue
			}
			_, d := p.ClusterGain(p.slots[slot].id, 64)
			if d {
				destroyed = true
			}
		}
	}
	if !destroyed {
		t.Fatalf("expected cluster to fade out and be destroyed")
	}
	if got := p.ActiveClusterCount(); got != 0 {
		t.Fatalf("ActiveClusterCount after destroy = %d, want 0", got)
	}
}

func TestMixInputAppliesPowerBiasAndRamp(t *testing.T) {
	t.Parallel()
	p := New(48000)
	req := testRequest()
	req.SourceFadeTime = 0 // immediate: gain jumps straight to target
	p.Update([][]model.SourceID{{1}}, req)

	const n = 8
	src := make([]float32, n)
	for i := range src {
		src[i] = 1
	}
	buffers := map[model.SourceID][]float32{1: src}
	power := map[model.SourceID]float32{1: 1}

	out := p.MixInput(buffers, power, n)
	if len(out) != 1 {
		t.Fatalf("MixInput produced %d clusters, want 1", len(out))
	}
	for _, buf := range out {
		if buf[n-1] == 0 {
			t.Fatalf("expected nonzero mixed output by end of ramp")
		}
	}
}
