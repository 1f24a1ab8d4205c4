package listener

import (
	"testing"
	"time"

	"auralise/model"
)

func TestSourceInputPassthroughWithoutTimestamps(t *testing.T) {
	t.Parallel()
	s := newSourceInputStage(48000)

	for block := 0; block < 3; block++ {
		in := make([]float32, 32)
		for i := range in {
			in[i] = float32(block*32 + i)
		}
		out := s.Prepare([]model.SourceSoundBuffer{{Source: 1, Samples: in}}, 32)
		got := out[1]
		for i := range in {
			if got[i] != in[i] {
				t.Fatalf("block %d: sample %d: got %v want %v (expected passthrough with no Timestamp)", block, i, got[i], in[i])
			}
		}
	}
}

func TestSourceInputRealignsLateBuffer(t *testing.T) {
	t.Parallel()
	const fs = 48000.0
	const numSamples = 64
	s := newSourceInputStage(fs)

	onTimeTS := time.Duration(0)
	first := make([]float32, numSamples)
	for i := range first {
		first[i] = 1
	}
	// First block establishes the playhead; Timestamp is ignored on it.
	s.Prepare([]model.SourceSoundBuffer{{Source: 1, Samples: first, Timestamp: onTimeTS}}, numSamples)

	// Second block arrives 10 samples "late" relative to the playhead.
	lateBy := 10
	lateTS := time.Duration(float64(numSamples-lateBy) / fs * float64(time.Second))
	second := make([]float32, numSamples)
	for i := range second {
		second[i] = 2
	}
	out := s.Prepare([]model.SourceSoundBuffer{{Source: 1, Samples: second, Timestamp: lateTS}}, numSamples)[1]

	for i := 0; i < lateBy; i++ {
		if out[i] != 0 {
			t.Fatalf("expected silence padding at sample %d, got %v", i, out[i])
		}
	}
	for i := lateBy; i < numSamples; i++ {
		if out[i] != 2 {
			t.Fatalf("expected source sample at %d, got %v", i, out[i])
		}
	}
}

func TestSourceInputCarriesOverflowRatherThanDropping(t *testing.T) {
	t.Parallel()
	const fs = 48000.0
	const numSamples = 32
	s := newSourceInputStage(fs)

	s.Prepare([]model.SourceSoundBuffer{{Source: 1, Samples: make([]float32, numSamples)}}, numSamples)

	// "Late" buffer: its Timestamp trails the playhead by 8 samples, so
	// this block is front-padded with silence and can only fit
	// numSamples-8 of the buffer's samples; the rest must carry forward
	// rather than being dropped.
	lateBy := 8
	lateTS := time.Duration(float64(numSamples-lateBy) / fs * float64(time.Second))
	in := make([]float32, numSamples)
	for i := range in {
		in[i] = float32(i + 1)
	}
	out := s.Prepare([]model.SourceSoundBuffer{{Source: 1, Samples: in, Timestamp: lateTS}}, numSamples)[1]
	for i := 0; i < lateBy; i++ {
		if out[i] != 0 {
			t.Fatalf("expected silence padding at sample %d, got %v", i, out[i])
		}
	}
	for i := lateBy; i < numSamples; i++ {
		want := in[i-lateBy]
		if out[i] != want {
			t.Fatalf("sample %d: got %v want %v", i, out[i], want)
		}
	}

	// The carried-over tail (in's last lateBy samples, which didn't fit
	// this block) must reappear next block rather than being lost, once
	// the source stops sending new timestamps (so no further offset is
	// applied and the carry is simply played out).
	next := s.Prepare([]model.SourceSoundBuffer{{Source: 1, Samples: nil}}, numSamples)[1]
	for i := 0; i < lateBy; i++ {
		want := in[numSamples-lateBy+i]
		if next[i] != want {
			t.Fatalf("carried sample %d: got %v want %v", i, next[i], want)
		}
	}
}
