// Package convolve implements the UPOLA (uniformly partitioned overlap-add)
// convolution engine: geometrically growing FFT partition sizes scheduled
// across a fixed per-block latency, with a lock-free triple-buffered IR
// swap so a host can replace the impulse response without audible clicks
// or render-thread contention. Adapted from the teacher's
// LowLatencyConvolutionEngine/ConvolutionStage pair, generalized from a
// single fixed IR to the live-swap model spec.md §4.A/§5 requires.
package convolve

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"auralise/denormal"
)

// Engine is a single-channel partitioned convolution engine supporting
// live IR replacement. Not safe for concurrent ProcessBlock calls; Submit
// may be called from any goroutine while ProcessBlock runs on another.
type Engine struct {
	minBlockOrder int
	maxBlockOrder int
	latency       int
	fs            float64

	irSizePadded int
	stages       []*stage

	inputBuffer       []float32
	outputBuffer      []float32
	inputBufferSize   int
	inputHistorySize  int
	outputHistorySize int
	blockPosition     int

	mainSlot   int32 // atomic
	targetSlot int32 // atomic; -1 when no crossfade in progress

	fadeWeight    float32
	fadeIncrement float32

	log *slog.Logger
}

// Config bounds the engine's block size and partition growth.
type Config struct {
	Fs            float64
	MinBlockOrder int // 6-12; latency = 2^MinBlockOrder samples
	MaxBlockOrder int // >= MinBlockOrder; caps the largest FFT partition
	Logger        *slog.Logger
}

// New creates an Engine with no IR loaded (silent output) until Submit is
// called. cfg.MinBlockOrder is clamped into [6,12] with a logged warning,
// matching the teacher's main.go clamp-and-warn convention for -latency.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	order := cfg.MinBlockOrder
	if order < 6 || order > 12 {
		clamped := order
		if clamped < 6 {
			clamped = 6
		}
		if clamped > 12 {
			clamped = 12
		}
		logger.Warn("convolve: clamping minBlockOrder to supported range", "requested", order, "clamped", clamped)
		order = clamped
	}
	if cfg.MaxBlockOrder < order {
		return nil, fmt.Errorf("convolve: maxBlockOrder (%d) must be >= minBlockOrder (%d)", cfg.MaxBlockOrder, order)
	}

	e := &Engine{
		minBlockOrder: order,
		maxBlockOrder: cfg.MaxBlockOrder,
		latency:       1 << order,
		fs:            cfg.Fs,
		targetSlot:    -1,
		log:           logger,
	}
	return e, nil
}

// Latency returns the engine's algorithmic block latency in samples.
func (e *Engine) Latency() int { return e.latency }

// ConvolutionLatency returns the end-to-end algorithmic latency of the
// convolution stage: three block periods (input buffering, processing,
// output buffering), per spec.md's convolutionLatency = 3*L0/Fs.
func (e *Engine) ConvolutionLatency() time.Duration {
	if e.fs <= 0 {
		return 0
	}
	seconds := 3 * float64(e.latency) / e.fs
	return time.Duration(seconds * float64(time.Second))
}

// bitCountToBits returns (2^(bitCount+1)) - 1.
func bitCountToBits(bitCount int) int {
	return (2 << bitCount) - 1
}

func truncLog2(n int) int {
	if n <= 0 {
		return 0
	}
	result := 0
	for n > 1 {
		n >>= 1
		result++
	}
	return result
}

// partitionPlan computes the stage boundaries (order, startPos, count) for
// an IR of paddedLen samples, geometrically growing from minBlockOrder up
// to at most maxBlockOrder. This is the teacher's partitionIR arithmetic,
// unchanged: it already implements the "geometrically growing partition
// sizes" requirement.
func partitionPlan(paddedLen, minOrder, maxOrder int) (orders, starts, counts []int) {
	if paddedLen == 0 {
		return nil, nil, nil
	}
	minBlockSize := 1 << minOrder
	maxIROrd := truncLog2(paddedLen+minBlockSize) - 1

	resIRSize := paddedLen - (bitCountToBits(maxIROrd) - bitCountToBits(minOrder-1))
	if ((resIRSize&(1<<maxIROrd))>>maxIROrd) == 0 && maxIROrd > minOrder {
		maxIROrd--
	}
	if maxIROrd > maxOrder {
		maxIROrd = maxOrder
	}
	resIRSize = paddedLen - (bitCountToBits(maxIROrd) - bitCountToBits(minOrder-1))

	startPos := 0
	for order := minOrder; order < maxIROrd; order++ {
		count := 1 + ((resIRSize & (1 << order)) >> order)
		orders = append(orders, order)
		starts = append(starts, startPos)
		counts = append(counts, count)
		startPos += count * (1 << order)
		resIRSize -= (count - 1) * (1 << order)
	}
	count := 1 + (resIRSize / (1 << maxIROrd))
	orders = append(orders, maxIROrd)
	starts = append(starts, startPos)
	counts = append(counts, count)
	return orders, starts, counts
}

// buildStages (re)builds the stage list and ring buffers for irSizePadded.
// Only called during Submit of the first IR, or when a new IR's padded
// length requires a different partition plan than the current one; both
// cases happen off the render thread.
func (e *Engine) buildStages(irSizePadded int) error {
	orders, starts, counts := partitionPlan(irSizePadded, e.minBlockOrder, e.maxBlockOrder)
	stages := make([]*stage, len(orders))
	maxOrder := e.minBlockOrder
	for i := range orders {
		s, err := newStage(orders[i], starts[i], e.latency, counts[i])
		if err != nil {
			return fmt.Errorf("convolve: stage %d: %w", i, err)
		}
		stages[i] = s
		if orders[i] > maxOrder {
			maxOrder = orders[i]
		}
	}

	e.stages = stages
	e.irSizePadded = irSizePadded
	e.inputBufferSize = 2 << maxOrder
	e.inputHistorySize = e.inputBufferSize - e.latency
	e.inputBuffer = make([]float32, e.inputBufferSize)
	e.outputHistorySize = irSizePadded - e.latency
	e.outputBuffer = make([]float32, irSizePadded)
	return nil
}

func (e *Engine) paddedLen(irLen int) int {
	minBlockSize := 1 << e.minBlockOrder
	return ((irLen + minBlockSize - 1) / minBlockSize) * minBlockSize
}

// Submit loads a new impulse response, crossfading from whatever is
// currently playing over fadeTime. The first Submit on a fresh Engine
// plays immediately with no fade (there is nothing to fade from). Safe to
// call while ProcessBlock runs concurrently on another goroutine; the
// stage spectra are computed into a free slot and only published via an
// atomic store once complete, so the render path never observes a
// partially written slot (spec.md §5 "idempotent update").
//
// If a previous Submit's crossfade is still in flight, this one is
// dropped rather than applied: with only three slots, the slot that isn't
// mainSlot or targetSlot is the only one Submit could safely write into,
// and the render path is concurrently reading targetSlot until the fade
// completes. Overwriting it mid-fade would race stage.accumulateSlot and
// corrupt the IR it's blending toward. Matches spec.md §7's "transient
// skip" fail mode for an update that arrives faster than numInputIRs
// slots can drain.
func (e *Engine) Submit(ir []float32, fadeTime time.Duration) error {
	if len(ir) == 0 {
		return fmt.Errorf("convolve: impulse response cannot be empty")
	}

	first := e.stages == nil
	if !first && atomic.LoadInt32(&e.targetSlot) >= 0 {
		e.log.Warn("convolve: dropping IR submission, previous crossfade still in flight")
		return nil
	}

	padded := e.paddedLen(len(ir))
	if first || padded != e.irSizePadded {
		if err := e.buildStages(padded); err != nil {
			return err
		}
	}

	paddedIR := make([]float32, padded)
	copy(paddedIR, ir)

	mainSlot := int(atomic.LoadInt32(&e.mainSlot))
	writeSlot := nextSlot(mainSlot)
	for _, s := range e.stages {
		if err := s.loadIR(writeSlot, paddedIR); err != nil {
			return fmt.Errorf("convolve: loading IR into stage: %w", err)
		}
	}

	if first {
		atomic.StoreInt32(&e.mainSlot, int32(writeSlot))
		atomic.StoreInt32(&e.targetSlot, -1)
		e.log.Info("convolve: initial IR loaded", "samples", len(ir), "stages", len(e.stages))
		return nil
	}

	e.fadeWeight = 0
	blocks := fadeTime.Seconds() * e.fs / float64(e.latency)
	if blocks < 1 {
		blocks = 1
	}
	e.fadeIncrement = float32(1 / blocks)
	// Publish targetSlot last: the render thread only reads fadeWeight/
	// fadeIncrement once it observes a non-negative targetSlot, so they
	// must already be in their initial state before this store is visible.
	atomic.StoreInt32(&e.targetSlot, int32(writeSlot))
	e.log.Info("convolve: IR swap started", "samples", len(ir), "fadeBlocks", blocks)
	return nil
}

// nextSlot returns the lowest slot index not in used. Called with only
// mainSlot once Submit has confirmed targetSlot is -1, so the result is
// always the slot that is neither currently playing nor mid-crossfade.
func nextSlot(used ...int) int {
	for s := 0; s < numSlots; s++ {
		free := true
		for _, u := range used {
			if u == s {
				free = false
				break
			}
		}
		if free {
			return s
		}
	}
	return 0
}

// ProcessBlock filters input into output, both of length sampleFrames
// (which may be any size, processed internally in engine-latency chunks).
func (e *Engine) ProcessBlock(input, output []float32) error {
	if len(input) != len(output) {
		return fmt.Errorf("convolve: input/output length mismatch: %d != %d", len(input), len(output))
	}
	if e.stages == nil {
		for i := range output {
			output[i] = 0
		}
		return nil
	}

	currentPos := 0
	sampleFrames := len(input)

	for currentPos < sampleFrames {
		remaining := sampleFrames - currentPos

		if e.blockPosition+remaining < e.latency {
			copy(e.inputBuffer[e.inputHistorySize+e.blockPosition:], input[currentPos:currentPos+remaining])
			copy(output[currentPos:currentPos+remaining], e.outputBuffer[e.blockPosition:e.blockPosition+remaining])
			e.blockPosition += remaining
			break
		}

		samplesToProcess := e.latency - e.blockPosition
		copy(e.inputBuffer[e.inputHistorySize+e.blockPosition:], input[currentPos:currentPos+samplesToProcess])
		copy(output[currentPos:currentPos+samplesToProcess], e.outputBuffer[e.blockPosition:e.blockPosition+samplesToProcess])

		copy(e.outputBuffer, e.outputBuffer[e.latency:e.latency+e.outputHistorySize])
		for i := e.outputHistorySize; i < len(e.outputBuffer); i++ {
			e.outputBuffer[i] = 0
		}

		if err := e.stepStages(); err != nil {
			return err
		}

		copy(e.inputBuffer, e.inputBuffer[e.latency:e.latency+e.inputHistorySize])
		currentPos += samplesToProcess
		e.blockPosition = 0
	}

	return nil
}

func (e *Engine) stepStages() error {
	mainSlot := int(atomic.LoadInt32(&e.mainSlot))
	targetSlot := int(atomic.LoadInt32(&e.targetSlot))

	weight := e.fadeWeight
	if targetSlot >= 0 {
		weight += e.fadeIncrement
		if weight >= 1 {
			weight = 1
		}
		e.fadeWeight = weight
	}

	var stepErr error
	denormal.Scope(func() {
		for _, s := range e.stages {
			if err := s.performConvolution(e.inputBuffer[:e.inputBufferSize], e.outputBuffer, mainSlot, targetSlot, weight); err != nil {
				stepErr = err
				return
			}
		}
	})
	if stepErr != nil {
		return stepErr
	}

	if targetSlot >= 0 && weight >= 1 {
		atomic.StoreInt32(&e.mainSlot, int32(targetSlot))
		atomic.StoreInt32(&e.targetSlot, -1)
		e.fadeWeight = 0
		e.log.Info("convolve: IR swap complete")
	}
	return nil
}

// Reset clears all buffers and per-stage processing state, without
// discarding the loaded IR spectra.
func (e *Engine) Reset() {
	for i := range e.inputBuffer {
		e.inputBuffer[i] = 0
	}
	for i := range e.outputBuffer {
		e.outputBuffer[i] = 0
	}
	e.blockPosition = 0
	for _, s := range e.stages {
		s.reset()
	}
}

// StageCount returns the number of partition stages currently in use.
func (e *Engine) StageCount() int { return len(e.stages) }

// SizeInBytes approximates the engine's retained memory, for
// RenderStatistics.RenderingMemory (spec.md §6, mirrored from the
// original's getSizeInBytes accounting).
func (e *Engine) SizeInBytes() int64 {
	var n int64
	n += int64(len(e.inputBuffer)+len(e.outputBuffer)) * 4
	for _, s := range e.stages {
		n += s.sizeInBytes()
	}
	return n
}
