package convolve

import (
	"errors"
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// ErrInputBufferTooSmall indicates the input buffer is smaller than this
// stage's FFT size requires.
var ErrInputBufferTooSmall = errors.New("convolve: input buffer too small")

// numSlots is the number of triple-buffered IR partition slots per stage:
// one playing ("main"), one mid-crossfade ("target"), and one a host
// update can write into without contending with the render path ("input").
// Spec.md §4.A/§5 names this triple-buffered swap by role; slots are
// identified by index here rather than by name so the engine can rotate
// which index plays which role without copying partition data.
const numSlots = 3

// stage is one partition size's worth of UPOLA convolution: a fixed FFT
// order, a set of pre-transformed IR blocks per triple-buffer slot, and
// the modulo-scheduling counter that spreads this stage's FFT cost across
// blocks (smaller stages run every block; larger stages run less often).
type stage struct {
	fftOrder    int
	fftSize     int // 2^(fftOrder+1)
	fftSizeHalf int // 2^fftOrder, the partition length in samples
	outputPos   int
	latency     int

	mod    int
	modAnd int

	fftPlan *algofft.PlanRealT[float32, complex64]

	// irSpectrums[slot][blockIdx] is the pre-transformed spectrum of one
	// fftSizeHalf-sample partition of the IR loaded into that slot. A slot
	// with no IR loaded holds nil block spectra and contributes nothing to
	// the output.
	irSpectrums [numSlots][][]complex64

	signalFreq    []complex64
	convolved     []complex64
	convolvedTime []float32
}

func newStage(irOrder, startPos, latency, count int) (*stage, error) {
	fftSize := 1 << (irOrder + 1)
	fftSizeHalf := 1 << irOrder
	spectrumLen := fftSizeHalf + 1

	fftPlan, err := algofft.NewPlanReal32(fftSize)
	if err != nil {
		return nil, fmt.Errorf("convolve: creating FFT plan for size %d: %w", fftSize, err)
	}

	s := &stage{
		fftOrder:      irOrder,
		fftSize:       fftSize,
		fftSizeHalf:   fftSizeHalf,
		outputPos:     startPos,
		latency:       latency,
		fftPlan:       fftPlan,
		signalFreq:    make([]complex64, spectrumLen),
		convolved:     make([]complex64, spectrumLen),
		convolvedTime: make([]float32, fftSize),
	}
	for slot := range s.irSpectrums {
		s.irSpectrums[slot] = make([][]complex64, count)
	}
	s.modAnd = (fftSizeHalf / latency) - 1
	return s, nil
}

// loadIR computes this stage's partitioned spectrum for impulseResponse
// into the given slot, overwriting whatever was there before. Safe to call
// concurrently with PerformConvolution reading a different slot.
func (s *stage) loadIR(slot int, impulseResponse []float32) error {
	spectrumLen := s.fftSizeHalf + 1
	tempIR := make([]float32, s.fftSize)
	blocks := s.irSpectrums[slot]

	for blockIdx := range blocks {
		spectrum := make([]complex64, spectrumLen)

		for i := 0; i < s.fftSizeHalf; i++ {
			tempIR[i] = 0
		}

		srcStart := s.outputPos + blockIdx*s.fftSizeHalf
		srcEnd := srcStart + s.fftSizeHalf
		if srcEnd > len(impulseResponse) {
			srcEnd = len(impulseResponse)
		}
		copied := 0
		if srcStart < len(impulseResponse) {
			copied = copy(tempIR[s.fftSizeHalf:], impulseResponse[srcStart:srcEnd])
		}
		for i := s.fftSizeHalf + copied; i < s.fftSize; i++ {
			tempIR[i] = 0
		}

		if err := s.fftPlan.Forward(spectrum, tempIR); err != nil {
			return fmt.Errorf("convolve: IR spectrum for block %d: %w", blockIdx, err)
		}
		blocks[blockIdx] = spectrum
	}
	s.irSpectrums[slot] = blocks
	return nil
}

// performConvolution runs one modulo-scheduled step: when this stage's
// turn comes up, it FFTs the trailing fftSize samples of signalIn, and for
// every active slot (mainSlot always; targetSlot too when a crossfade is
// in progress) multiplies by that slot's IR spectrum, inverse-transforms,
// scales by that slot's mix weight, and overlap-adds into signalOut.
func (s *stage) performConvolution(signalIn, signalOut []float32, mainSlot, targetSlot int, targetWeight float32) error {
	if s.mod != 0 {
		s.mod = (s.mod + 1) & s.modAnd
		return nil
	}
	s.mod = (s.mod + 1) & s.modAnd

	inputStart := len(signalIn) - s.fftSize
	if inputStart < 0 {
		return fmt.Errorf("%w: need=%d got=%d", ErrInputBufferTooSmall, s.fftSize, len(signalIn))
	}
	if err := s.fftPlan.Forward(s.signalFreq, signalIn[inputStart:inputStart+s.fftSize]); err != nil {
		return fmt.Errorf("convolve: forward FFT: %w", err)
	}

	half := s.fftSizeHalf
	spectrumLen := half + 1

	if err := s.accumulateSlot(mainSlot, 1-weightOrOne(targetSlot, targetWeight), spectrumLen, half, signalOut); err != nil {
		return err
	}
	if targetSlot >= 0 && targetWeight > 0 {
		if err := s.accumulateSlot(targetSlot, targetWeight, spectrumLen, half, signalOut); err != nil {
			return err
		}
	}
	return nil
}

func weightOrOne(targetSlot int, targetWeight float32) float32 {
	if targetSlot < 0 {
		return 0
	}
	return targetWeight
}

func (s *stage) accumulateSlot(slot int, weight float32, spectrumLen, half int, signalOut []float32) error {
	spectrums := s.irSpectrums[slot]
	if spectrums == nil || weight <= 0 {
		return nil
	}
	for blockIdx, irSpectrum := range spectrums {
		if irSpectrum == nil {
			continue
		}
		copy(s.convolved, s.signalFreq[:spectrumLen])
		for i := range spectrumLen {
			s.convolved[i] *= irSpectrum[i]
		}
		if err := s.fftPlan.Inverse(s.convolvedTime, s.convolved); err != nil {
			return fmt.Errorf("convolve: inverse FFT: %w", err)
		}
		outPos := s.outputPos + s.latency - half + blockIdx*half
		if outPos >= 0 && outPos+half <= len(signalOut) {
			for i := 0; i < half; i++ {
				signalOut[outPos+i] += weight * s.convolvedTime[i]
			}
		}
	}
	return nil
}

func (s *stage) reset() {
	s.mod = 0
	for i := range s.signalFreq {
		s.signalFreq[i] = 0
	}
	for i := range s.convolved {
		s.convolved[i] = 0
	}
	for i := range s.convolvedTime {
		s.convolvedTime[i] = 0
	}
}

func (s *stage) sizeInBytes() int64 {
	var n int64
	for _, slot := range s.irSpectrums {
		for _, spec := range slot {
			n += int64(len(spec)) * 8
		}
	}
	n += int64(len(s.signalFreq)+len(s.convolved)) * 8
	n += int64(len(s.convolvedTime)) * 4
	return n
}
