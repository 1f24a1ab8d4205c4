package listener

import (
	"math"
	"time"

	"auralise/model"
)

// sourceInputStage buffers each source's mono input against the
// orchestrator's own running playhead clock, so a source buffer that
// arrives a little early or a little late relative to the block boundary
// can be realigned without dropping samples. Grounded on spec.md §5's
// "Source audio pulled from external collaborators is buffered with
// timestamps; the orchestrator may request slightly forward or backward
// adjustments within one block but never loses samples" and mirrored on
// the teacher's own style of small, explicit ring buffers (e.g.
// convolve.Engine's inputBuffer/outputBuffer history rings) rather than a
// generic jitter-buffer dependency.
//
// A buffer whose Timestamp leads the playhead (it arrived "early") has its
// leading samples consumed now and any remainder carried over to next
// block. A buffer whose Timestamp trails the playhead (it arrived "late")
// is padded with silence at the front for this block, and its un-consumed
// tail is carried forward the same way. Drift larger than one block is
// clamped to one block's worth of adjustment per spec.md's "within one
// block" bound; the remaining drift is absorbed gradually, one block at a
// time, rather than resynchronized in a single jump. A zero-value
// Timestamp means the host isn't supplying playout times for that source
// at all; such buffers pass through unaligned.
type sourceInputStage struct {
	fs       float64
	playhead time.Duration
	started  bool
	carry    map[model.SourceID][]float32
}

func newSourceInputStage(fs float64) *sourceInputStage {
	return &sourceInputStage{fs: fs, carry: make(map[model.SourceID][]float32)}
}

// Prepare returns each source's numSamples-long input for this block,
// realigned against the playhead, and advances the playhead by one block.
func (s *sourceInputStage) Prepare(sources []model.SourceSoundBuffer, numSamples int) map[model.SourceID][]float32 {
	out := make(map[model.SourceID][]float32, len(sources))

	for _, sb := range sources {
		samples := sb.Samples
		if carry, ok := s.carry[sb.Source]; ok && len(carry) > 0 {
			merged := make([]float32, 0, len(carry)+len(samples))
			merged = append(merged, carry...)
			merged = append(merged, samples...)
			samples = merged
			delete(s.carry, sb.Source)
		}

		// A zero Timestamp means the host isn't using the timestamp
		// protocol for this buffer (the zero value is never a valid
		// playout time once the playhead has advanced past block one);
		// such buffers pass straight through unaligned, exactly as if no
		// sourceInputStage existed.
		offset := 0
		if s.started && sb.Timestamp != 0 {
			offset = s.offsetSamples(sb.Timestamp, numSamples)
		}

		out[sb.Source] = s.realign(sb.Source, samples, offset, numSamples)
	}

	if !s.started {
		s.started = true
	}
	blockDuration := time.Duration(float64(numSamples) / s.fs * float64(time.Second))
	s.playhead += blockDuration

	return out
}

// offsetSamples converts a source buffer's declared timestamp, relative to
// the current playhead, into a sample offset clamped to ±numSamples (spec
// §5's "within one block" bound). Positive means the buffer arrived ahead
// of the playhead (its front should be skipped this block); negative means
// it arrived behind (this block should be padded with silence first).
func (s *sourceInputStage) offsetSamples(timestamp time.Duration, numSamples int) int {
	delta := timestamp - s.playhead
	offset := int(math.Round(delta.Seconds() * s.fs))
	if offset > numSamples {
		offset = numSamples
	}
	if offset < -numSamples {
		offset = -numSamples
	}
	return offset
}

// realign produces exactly numSamples of output from samples shifted by
// offset, carrying any samples that don't fit into this block forward to
// the next Prepare call for the same source rather than discarding them.
func (s *sourceInputStage) realign(id model.SourceID, samples []float32, offset, numSamples int) []float32 {
	buf := make([]float32, numSamples)

	if offset >= 0 {
		if offset >= len(samples) {
			return buf
		}
		trimmed := samples[offset:]
		n := copy(buf, trimmed)
		if n < len(trimmed) {
			s.carry[id] = append([]float32(nil), trimmed[n:]...)
		}
		return buf
	}

	pad := -offset
	if pad >= numSamples {
		s.carry[id] = append([]float32(nil), samples...)
		return buf
	}
	n := copy(buf[pad:], samples)
	if n < len(samples) {
		s.carry[id] = append([]float32(nil), samples[n:]...)
	}
	return buf
}
