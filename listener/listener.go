// Package listener implements the listener orchestrator (component E): it
// owns one IR-assembly state and, per cluster, one discrete-path renderer,
// one "main" convolution engine per output channel and (when HRTF is on)
// one HRTF convolution engine per ear, and exposes a pull-style Read(N) stream.
// It is the component that ties A (convolution), B (IR assembly), C
// (discrete paths), D (clustering) and F (crossover, via B/C) together into
// one render loop.
//
// Grounded on gsSoundListenerRenderer.cpp's top-level render loop
// (renderPaths/renderConvolution/the listener-gain mixdown at the end),
// simplified from its three-thread-pool scheduler (propagation/render/audio
// threads with a deadline barrier) to a single synchronous call sequence
// driven by the caller: spec.md §5 describes that threading as a scheduling
// policy for a single deterministic per-block computation, and this module
// has no caller-supplied executor to hand worker pools to, so SubmitIR/Read
// simply perform that computation directly in the calling goroutine. A host
// that wants IR assembly (§4.B/§4.C step 2) off the audio thread runs
// SubmitIR from its own goroutine; the mutex on Listener is the single
// synchronization point spec.md §5 calls for between that goroutine and
// Read.
package listener

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"auralise/bands"
	"auralise/cluster"
	"auralise/convolve"
	"auralise/gain"
	"auralise/hrtf"
	"auralise/irasm"
	"auralise/model"
	"auralise/pathrender"
)

// Config configures a Listener.
type Config struct {
	Request model.RenderRequest
	Bands   bands.Bands
	Seed    int64
	Logger  *slog.Logger

	// HRTF is the listener's fitted HRTF projection. Nil disables HRTF
	// rendering regardless of Request.Flags, since there is nothing to
	// evaluate a direction against.
	HRTF *hrtf.Projection
}

type clusterState struct {
	renderer    *pathrender.Renderer
	mainEngines []*convolve.Engine // one per output channel
	hrtfEngines []*convolve.Engine // one per HRTF projection channel (ears)
}

// hrtfEnabled reports whether this listener should run the HRTF path: both
// the request flag and an actual fitted projection are required.
func (l *Listener) hrtfEnabled() bool {
	return l.cfg.Request.Flags.Has(model.FlagHRTF) && l.cfg.HRTF != nil
}

// Listener is one listener's render pipeline.
type Listener struct {
	cfg       Config
	assembler *irasm.Assembler
	clusters  *cluster.Pool
	sourceIn  *sourceInputStage

	mu     sync.Mutex
	states map[cluster.ClusterID]*clusterState

	orientation   model.ListenerOrientation
	sensitivityDB float32
	stats         model.RenderStatistics

	log *slog.Logger
}

// New creates a Listener for the given request and band configuration.
func New(cfg Config) (*Listener, error) {
	a, err := irasm.New(irasm.Config{
		Fs:          cfg.Request.Fs,
		MaxIRLength: cfg.Request.MaxIRLength,
		Seed:        cfg.Seed,
	}, cfg.Bands)
	if err != nil {
		return nil, fmt.Errorf("listener: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		cfg:       cfg,
		assembler: a,
		clusters:  cluster.New(cfg.Request.Fs),
		sourceIn:  newSourceInputStage(cfg.Request.Fs),
		states:    make(map[cluster.ClusterID]*clusterState),
		log:       log,
	}, nil
}

// SubmitIR is the update-thread entry point: for every source it assembles
// a per-channel time-domain IR (folding any path-count overflow into the
// convolution tail rather than dropping it), groups sources into clusters
// — one singleton group per source, since nothing upstream of this module
// supplies a richer grouping signal (see DESIGN.md) — and submits each
// cluster's combined IR to that cluster's convolution engine(s). It also
// hands each cluster's discrete paths to its path renderer.
func (l *Listener) SubmitIR(ir model.ListenerIR) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.orientation = ir.Orientation
	l.sensitivityDB = ir.Sensitivity
	req := l.cfg.Request
	numChannels := req.Layout.ChannelCount()
	convolutionLatency := l.convolutionLatency()

	groups := make([][]model.SourceID, 0, len(ir.Sources))
	sourceChannelIR := make(map[model.SourceID][][]float32, len(ir.Sources))

	for id, src := range ir.Sources {
		groups = append(groups, []model.SourceID{id})

		paths := src.Paths
		if req.MaxSourcePathCount > 0 && len(paths) > req.MaxSourcePathCount {
			sort.Slice(paths, func(i, j int) bool { return paths[i].Energy.Sum() > paths[j].Energy.Sum() })
			overflow := append([]model.SoundPath(nil), paths[req.MaxSourcePathCount:]...)
			paths = paths[:req.MaxSourcePathCount]
			sampled := src.Sampled
			irasm.BinPaths(overflow, &sampled, req.Fs)
			src.Sampled = sampled
		}

		channelIR := make([][]float32, numChannels)
		n := src.Sampled.Len()
		if n > 0 {
			gainsPerChannel := make([][]float32, numChannels)
			for c := range gainsPerChannel {
				gainsPerChannel[c] = make([]float32, n)
			}
			chanGains := make([]float32, numChannels)
			for t := 0; t < n; t++ {
				local := ir.Orientation.ToLocal(src.Sampled.Direction[t])
				req.Layout.Pan(local, chanGains)
				for c := 0; c < numChannels; c++ {
					gainsPerChannel[c][t] = chanGains[c]
				}
			}
			for c := 0; c < numChannels; c++ {
				out, err := l.assembler.AssembleChannel(src.Sampled, gainsPerChannel[c])
				if err != nil {
					return fmt.Errorf("listener: assembling source %d channel %d: %w", id, c, err)
				}
				channelIR[c] = out
			}
		}
		sourceChannelIR[id] = channelIR

		src.Paths = paths
		ir.Sources[id] = src
	}

	l.clusters.Update(groups, req)
	l.submitClusterIRsLocked(groups, sourceChannelIR)
	l.updatePathsLocked(ir, convolutionLatency)
	return nil
}

func (l *Listener) submitClusterIRsLocked(groups [][]model.SourceID, sourceChannelIR map[model.SourceID][][]float32) {
	combined := make(map[cluster.ClusterID][][]float32)
	for _, group := range groups {
		id := l.clusters.ClusterOf(group[0])
		if id == 0 {
			continue
		}
		for _, src := range group {
			ch, ok := sourceChannelIR[src]
			if !ok {
				continue
			}
			existing, ok := combined[id]
			if !ok {
				existing = make([][]float32, len(ch))
				combined[id] = existing
			}
			for c := range ch {
				existing[c] = addPadded(existing[c], ch[c])
			}
		}
	}

	for id, channelIRs := range combined {
		st := l.stateFor(id)
		for c, irBuf := range channelIRs {
			if c >= len(st.mainEngines) || st.mainEngines[c] == nil || len(irBuf) == 0 {
				continue
			}
			if err := st.mainEngines[c].Submit(irBuf, l.cfg.Request.IRFadeTime); err != nil {
				l.log.Warn("listener: IR submit failed", "cluster", id, "channel", c, "error", err)
			}
		}
	}
}

func (l *Listener) updatePathsLocked(ir model.ListenerIR, convolutionLatency time.Duration) {
	hrtfOn := l.hrtfEnabled()
	for src, srcIR := range ir.Sources {
		id := l.clusters.ClusterOf(src)
		if id == 0 {
			continue
		}
		st := l.stateFor(id)
		if st.renderer != nil {
			st.renderer.UpdatePaths(srcIR.Paths, ir.Orientation, convolutionLatency)
		}
		if hrtfOn {
			l.submitHRTFIRLocked(st, srcIR.Paths, ir.Orientation)
		}
	}
}

// submitHRTFIRLocked copies the HRTF filter at the cluster's direct-sound
// direction into partition 0 of each ear's HRTF convolution instance and
// hands it off via the same Submit protocol the main IR uses — spec.md
// §4.C's "HRTF input IR (parallel to the above, simpler)": a single
// partition, refreshed whenever the direct path's direction changes.
func (l *Listener) submitHRTFIRLocked(st *clusterState, paths []model.SoundPath, orientation model.ListenerOrientation) {
	proj := l.cfg.HRTF
	for _, path := range paths {
		if !path.IsDirect() {
			continue
		}
		local := orientation.ToLocal(path.Direction)
		for c, e := range st.hrtfEngines {
			if e == nil {
				continue
			}
			ir := make([]float32, proj.FilterLength)
			if err := proj.EvaluateTimeDomain(c, local, ir); err != nil {
				l.log.Warn("listener: HRTF evaluate failed", "channel", c, "error", err)
				continue
			}
			if err := e.Submit(ir, l.cfg.Request.HRTFFadeTime); err != nil {
				l.log.Warn("listener: HRTF IR submit failed", "channel", c, "error", err)
			}
		}
		return
	}
}

func (l *Listener) convolutionLatency() time.Duration {
	if len(l.states) == 0 {
		return 0
	}
	for _, st := range l.states {
		for _, e := range st.mainEngines {
			if e != nil {
				return e.ConvolutionLatency()
			}
		}
	}
	return 0
}

func (l *Listener) stateFor(id cluster.ClusterID) *clusterState {
	st, ok := l.states[id]
	if ok {
		return st
	}
	numChannels := l.cfg.Request.Layout.ChannelCount()
	st = &clusterState{mainEngines: make([]*convolve.Engine, numChannels)}
	for c := range st.mainEngines {
		minOrder, maxOrder := blockOrders(l.cfg.Request, l.cfg.Request.Fs)
		e, err := convolve.New(convolve.Config{
			Fs:            l.cfg.Request.Fs,
			MinBlockOrder: minOrder,
			MaxBlockOrder: maxOrder,
			Logger:        l.log,
		})
		if err != nil {
			l.log.Error("listener: creating convolution engine failed", "error", err)
			continue
		}
		st.mainEngines[c] = e
	}
	pr, err := pathrender.New(pathrender.Config{
		Fs:      l.cfg.Request.Fs,
		Bands:   l.cfg.Bands,
		Layout:  l.cfg.Request.Layout,
		HRTF:    l.hrtfEnabled(),
		Request: l.cfg.Request,
	})
	if err != nil {
		l.log.Error("listener: creating path renderer failed", "error", err)
	}
	st.renderer = pr

	if l.hrtfEnabled() {
		st.hrtfEngines = make([]*convolve.Engine, l.cfg.HRTF.Channels)
		for c := range st.hrtfEngines {
			minOrder, maxOrder := blockOrders(l.cfg.Request, l.cfg.Request.Fs)
			e, err := convolve.New(convolve.Config{
				Fs:            l.cfg.Request.Fs,
				MinBlockOrder: minOrder,
				MaxBlockOrder: maxOrder,
				Logger:        l.log,
			})
			if err != nil {
				l.log.Error("listener: creating HRTF convolution engine failed", "error", err)
				continue
			}
			st.hrtfEngines[c] = e
		}
	}

	l.states[id] = st
	return st
}

// blockOrders derives the convolution engine's min/max partition orders
// from the request's MaxLatency: the minimum block is the largest power of
// two no bigger than MaxLatency in samples (clamped into convolve's
// supported [6,12] range by Engine.New itself), and the maximum block
// order grows six octaves past it so long IRs still partition into a
// handful of large stages rather than thousands of small ones.
func blockOrders(req model.RenderRequest, fs float64) (minOrder, maxOrder int) {
	latencySamples := req.MaxLatency.Seconds() * fs
	order := 6
	for (1 << (order + 1)) <= int(latencySamples) {
		order++
	}
	return order, order + 6
}

func addPadded(dst, src []float32) []float32 {
	if len(dst) < len(src) {
		grown := make([]float32, len(src))
		copy(grown, dst)
		dst = grown
	}
	for i, v := range src {
		dst[i] += v
	}
	return dst
}

// Read pulls numSamples of output for every channel, mixing in this block's
// source audio. sources supplies each source's mono input at the listener's
// sample rate (Read does no sample-rate conversion; that happens upstream,
// before reaching the listener); sourcePower supplies each
// source's linear power scalar for the §4.D input-mix formula (a source
// missing from either map contributes silence for the block).
// out must have Request.Layout.ChannelCount() slices, each at least
// numSamples long. Read never blocks on propagation/update work (spec §5):
// it only reads the convolution/path-render state last published by
// SubmitIR.
func (l *Listener) Read(sources []model.SourceSoundBuffer, sourcePower map[model.SourceID]float32, out [][]float32, numSamples int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	renderStart := time.Now()
	req := l.cfg.Request
	numChannels := req.Layout.ChannelCount()
	if len(out) < numChannels {
		return 0, fmt.Errorf("listener: out has %d channels, want %d", len(out), numChannels)
	}
	for c := 0; c < numChannels; c++ {
		for i := 0; i < numSamples && i < len(out[c]); i++ {
			out[c][i] = 0
		}
	}

	sourceBuffers := l.sourceIn.Prepare(sources, numSamples)
	clusterInputs := l.clusters.MixInput(sourceBuffers, sourcePower, numSamples)

	// gain.ToLinear(x) = 10^(x/20) is the field-quantity (amplitude)
	// convention; sensitivity is a power-quantity dB value, so doubling its
	// exponent before going through ToLinear gives 10^(sensitivity/10).
	listenerGain := req.Volume * gain.ToLinear(2*l.sensitivityDB) * fourPi / gain.PowerBias
	hrtfOn := l.hrtfEnabled()

	bufChannels := numChannels
	if hrtfOn {
		bufChannels++ // extra slot: the mono HRTF input bus, at index numChannels
	}

	for id, st := range l.states {
		clusterIn := clusterInputs[id]
		if clusterIn == nil {
			clusterIn = make([]float32, numSamples)
		}

		clusterBuf := make([][]float32, bufChannels)
		for c := range clusterBuf {
			clusterBuf[c] = make([]float32, numSamples)
		}

		if req.Flags.Has(model.FlagDiscretePaths) && st.renderer != nil {
			st.renderer.WriteInput(clusterIn)
			st.renderer.Render(clusterBuf, numSamples)
		}

		if req.Flags.Has(model.FlagConvolution) {
			for c, e := range st.mainEngines {
				if e == nil {
					continue
				}
				convOut := make([]float32, numSamples)
				if err := e.ProcessBlock(clusterIn, convOut); err != nil {
					l.log.Warn("listener: convolution block failed", "cluster", id, "channel", c, "error", err)
					continue
				}
				for i := range convOut {
					clusterBuf[c][i] += convOut[i]
				}
			}
		}

		if hrtfOn && len(st.hrtfEngines) > 0 {
			hrtfBus := clusterBuf[numChannels]
			for c, e := range st.hrtfEngines {
				if e == nil || c >= numChannels {
					continue
				}
				earOut := make([]float32, numSamples)
				if err := e.ProcessBlock(hrtfBus, earOut); err != nil {
					l.log.Warn("listener: HRTF convolution block failed", "cluster", id, "channel", c, "error", err)
					continue
				}
				for i := range earOut {
					clusterBuf[c][i] += earOut[i]
				}
			}
		}

		clusterGain, destroy := l.clusters.ClusterGain(id, numSamples)
		for c := 0; c < numChannels; c++ {
			for i := range clusterBuf[c] {
				out[c][i] += clusterBuf[c][i] * clusterGain * listenerGain
			}
		}
		if destroy {
			delete(l.states, id)
		}
	}

	if req.Flags.Has(model.FlagStatistics) {
		l.stats.RenderedPathCount = l.countRenderedPaths()
		l.stats.RenderingMemory = l.sizeInBytes()
		l.stats.RenderingLatency = l.convolutionLatency()
		l.updateRenderingLoad(renderStart, numSamples, req.Fs)
	}

	return numSamples, nil
}

// renderLoadSmoothing is the EWMA weight given to each block's
// instantaneous load sample when updating RenderStatistics.RenderingLoad,
// matching gsSoundListenerRenderer's processingLoad trailing-average
// smoothing rather than reporting one block's raw ratio (which would jitter
// block to block for blocks as short as a few hundred samples).
const renderLoadSmoothing = 0.1

// updateRenderingLoad folds this block's wall-clock render time, divided by
// the real time it represents at req.Fs, into the trailing RenderingLoad
// average (spec §6 "renderingLoad (CPU as fraction of real time)").
func (l *Listener) updateRenderingLoad(renderStart time.Time, numSamples int, fs float64) {
	if fs <= 0 || numSamples <= 0 {
		return
	}
	elapsed := time.Since(renderStart)
	realTime := time.Duration(float64(numSamples) / fs * float64(time.Second))
	if realTime <= 0 {
		return
	}
	sample := elapsed.Seconds() / realTime.Seconds()
	if l.stats.RenderingLoad == 0 {
		l.stats.RenderingLoad = sample
		return
	}
	l.stats.RenderingLoad += renderLoadSmoothing * (sample - l.stats.RenderingLoad)
}

// fourPi is the 4π term in the listener output gain formula (spec §4.D):
// volume * 10^(sensitivity/10) * 4π / POWER_BIAS.
const fourPi = 4 * 3.14159265358979323846

func (l *Listener) countRenderedPaths() int {
	n := 0
	for _, st := range l.states {
		if st.renderer != nil {
			n += st.renderer.PathCount()
		}
	}
	return n
}

func (l *Listener) sizeInBytes() int64 {
	var n int64
	for _, st := range l.states {
		if st.renderer != nil {
			n += st.renderer.SizeInBytes()
		}
		for _, e := range st.mainEngines {
			if e != nil {
				n += e.SizeInBytes()
			}
		}
		for _, e := range st.hrtfEngines {
			if e != nil {
				n += e.SizeInBytes()
			}
		}
	}
	return n
}

// Statistics returns the most recently collected RenderStatistics. Only
// populated between Read calls when FlagStatistics is set.
func (l *Listener) Statistics() model.RenderStatistics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
