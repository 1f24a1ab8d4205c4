// Package cluster groups perceptually similar sound sources into a bounded
// number of clusters, each sharing one convolution instance, and mixes each
// cluster's membership inputs into a single per-cluster mono buffer. This is
// component D: it keeps the number of active convolution engines bounded
// regardless of scene source count, and makes membership and cluster
// lifecycle transitions click-free via linear gain ramps.
//
// Grounded on gsSoundSourceClusterer.{h,cpp}/gsSoundSourceCluster.h, but
// simplified to identity/co-occurrence-based discovery (a source's cluster
// is whichever cluster already contains it, or a fresh one) rather than
// gsound's spatial octree clustering — spec.md §4.D describes exactly the
// simplified discovery rule, not spatial grouping, so no octree/BVH
// structure is built.
package cluster

import (
	"time"

	"auralise/gain"
	"auralise/model"
)

// ClusterID identifies a cluster for the lifetime of its membership.
// Clusters are created and destroyed by the Pool, never reused while any
// membership or fade is outstanding.
type ClusterID uint64

// sourceRef is a weak back-reference from a source to the cluster it
// currently belongs to: a pool index plus a generation counter, so a stale
// reference (held past the cluster's destruction and the slot's reuse) is
// detected instead of silently aliasing a new cluster. Grounded on the
// "Replacing back-references" design note (spec.md §9): Go has no raw
// pointer-into-a-vector equivalent that survives reallocation safely, so
// identity is index+generation instead of a pointer.
type sourceRef struct {
	slot       int
	generation uint64
}

// membership is one source's participation in a cluster: its current and
// fade-target gain, ramping linearly to 1 when the source joins and to 0
// when it stops appearing in IR updates.
type membership struct {
	source      model.SourceID
	gain        float32
	targetGain  float32
	rampPerSamp float32
	lastSeen    int64 // update-tick the source last appeared in this cluster
}

// clusterSlot is one pool entry. A slot with generation%2==1 is occupied;
// even generations are free. This parity trick keeps "is this slot alive"
// a single comparison instead of a separate liveness bitmap.
type clusterSlot struct {
	id         ClusterID
	generation uint64
	members    []membership

	gain       float32
	targetGain float32
	rampPerSamp float32

	fadingOut bool
	lastSeen  int64
}

func (s *clusterSlot) alive() bool { return s.generation%2 == 1 }

// Pool owns cluster discovery, membership lifecycle, and per-cluster input
// mixing for one listener. Not safe for concurrent use; the listener
// orchestrator's update thread owns it.
type Pool struct {
	fs   float64
	slots []clusterSlot
	free  []int

	// sourceToSlot maps a source's current cluster membership to a weak
	// back-reference, so repeated appearances of the same source resolve
	// to the same cluster in O(1) without a full membership scan.
	sourceToSlot map[model.SourceID]sourceRef

	tick int64
}

// New creates an empty cluster pool.
func New(fs float64) *Pool {
	return &Pool{fs: fs, sourceToSlot: make(map[model.SourceID]sourceRef)}
}

// Update attaches this tick's source-IR groups to clusters: each group is a
// set of source IDs the propagation stage has already judged perceptually
// related (spec §4.D "if any listed source already belongs to a cluster,
// the IR is attached to that cluster"). If any member of a group already
// belongs to a live cluster, the whole group is attached to that cluster
// (new members starting their fade-in); otherwise a fresh cluster is
// created for the group. Memberships/clusters not touched this tick start
// fading out. req supplies the fade-time constants.
func (p *Pool) Update(groups [][]model.SourceID, req model.RenderRequest) {
	p.tick++

	for _, group := range groups {
		if len(group) == 0 {
			continue
		}

		slot := -1
		for _, src := range group {
			ref, ok := p.sourceToSlot[src]
			if ok && p.slots[ref.slot].alive() && p.slots[ref.slot].generation == ref.generation {
				slot = ref.slot
				break
			}
		}
		if slot == -1 {
			slot = p.allocSlot(req)
		}

		for _, src := range group {
			if ref, ok := p.sourceToSlot[src]; ok && ref.slot == slot && p.slots[slot].generation == ref.generation {
				p.touchMembership(slot, src, req)
				continue
			}
			p.sourceToSlot[src] = sourceRef{slot: slot, generation: p.slots[slot].generation}
			p.addMembership(slot, src, req)
		}
		p.slots[slot].lastSeen = p.tick
		p.slots[slot].targetGain = 1
		p.slots[slot].fadingOut = false
	}

	p.agePass(req)
}

func (p *Pool) allocSlot(req model.RenderRequest) int {
	var idx int
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
		p.slots[idx].generation++ // even -> odd: now alive
	} else {
		idx = len(p.slots)
		p.slots = append(p.slots, clusterSlot{generation: 1})
	}
	s := &p.slots[idx]
	s.id = ClusterID(idx)<<32 | ClusterID(s.generation)
	s.members = s.members[:0]
	s.gain = 0
	s.targetGain = 1
	s.fadingOut = false
	s.lastSeen = p.tick
	s.rampPerSamp = rampRate(req.ClusterFadeInTime, p.fs)
	return idx
}

func (p *Pool) addMembership(slot int, src model.SourceID, req model.RenderRequest) {
	s := &p.slots[slot]
	s.members = append(s.members, membership{
		source:      src,
		gain:        0,
		targetGain:  1,
		rampPerSamp: rampRate(req.SourceFadeTime, p.fs),
		lastSeen:    p.tick,
	})
}

func (p *Pool) touchMembership(slot int, src model.SourceID, req model.RenderRequest) {
	s := &p.slots[slot]
	for i := range s.members {
		if s.members[i].source == src {
			s.members[i].targetGain = 1
			s.members[i].lastSeen = p.tick
			if s.members[i].rampPerSamp == 0 {
				s.members[i].rampPerSamp = rampRate(req.SourceFadeTime, p.fs)
			}
			return
		}
	}
	p.addMembership(slot, src, req)
	s.lastSeen = p.tick
	s.targetGain = 1
	s.fadingOut = false
}

// agePass starts fade-out for clusters/memberships not touched this tick.
func (p *Pool) agePass(req model.RenderRequest) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.alive() {
			continue
		}
		for m := range s.members {
			if s.members[m].lastSeen != p.tick {
				s.members[m].targetGain = 0
			}
		}
		if s.lastSeen != p.tick && !s.fadingOut {
			s.fadingOut = true
			s.targetGain = 0
			s.rampPerSamp = rampRate(req.ClusterFadeOutTime, p.fs)
		}
	}
}

func rampRate(d time.Duration, fs float64) float32 {
	secs := d.Seconds()
	if secs <= 0 {
		return 1
	}
	return float32(1 / (secs * fs))
}

// MixInput builds every live cluster's mono input buffer for one block by
// summing each membership's source buffer scaled by
// sourceGain*sourcePower*gain.PowerBias (spec §4.D), ramping sourceGain
// sample-accurately across the block. sourceBuffers supplies each source's
// already-resampled mono input for this block; sourcePower is the per-
// source power scalar from the propagation update (loudness/distance
// attenuation already folded in upstream).
func (p *Pool) MixInput(sourceBuffers map[model.SourceID][]float32, sourcePower map[model.SourceID]float32, numSamples int) map[ClusterID][]float32 {
	out := make(map[ClusterID][]float32)

	for i := range p.slots {
		s := &p.slots[i]
		if !s.alive() || len(s.members) == 0 {
			continue
		}
		buf := make([]float32, numSamples)
		first := true
		for m := range s.members {
			mem := &s.members[m]
			src, ok := sourceBuffers[mem.source]
			if !ok {
				continue
			}
			power := sourcePower[mem.source]
			g := mem.gain
			for t := 0; t < numSamples && t < len(src); t++ {
				sample := src[t] * g * power * gain.PowerBias
				if first {
					buf[t] = sample
				} else {
					buf[t] += sample
				}
				g = advanceGain(g, mem.targetGain, mem.rampPerSamp, 1)
			}
			first = false
			mem.gain = clamp01(g)
		}
		out[s.id] = buf
	}
	return out
}

func advanceGain(current, target, rate float32, numSamples int) float32 {
	for i := 0; i < numSamples; i++ {
		if current < target {
			current = min(current+rate, target)
		} else if current > target {
			current = max(current-rate, target)
		}
	}
	return clamp01(current)
}

func clamp01(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// ClusterGain advances and returns a cluster's output gain ramp for one
// block of numSamples, and reports whether the cluster should now be
// destroyed (fade-out complete).
func (p *Pool) ClusterGain(id ClusterID, numSamples int) (g float32, destroy bool) {
	slot := int(id >> 32)
	if slot < 0 || slot >= len(p.slots) {
		return 0, true
	}
	s := &p.slots[slot]
	s.gain = advanceGain(s.gain, s.targetGain, s.rampPerSamp, numSamples)
	if s.fadingOut && s.gain <= 1e-6 {
		p.destroy(slot)
		return 0, true
	}
	return s.gain, false
}

func (p *Pool) destroy(slot int) {
	s := &p.slots[slot]
	s.generation++ // odd -> even: now free
	s.members = nil
	p.free = append(p.free, slot)
	for src, ref := range p.sourceToSlot {
		if ref.slot == slot {
			delete(p.sourceToSlot, src)
		}
	}
}

// ClusterOf returns the cluster a source currently belongs to, or 0 if the
// source has no live membership (0 is never a valid ClusterID since slot 0's
// first generation is 1, so callers can treat 0 as "none").
func (p *Pool) ClusterOf(src model.SourceID) ClusterID {
	ref, ok := p.sourceToSlot[src]
	if !ok || !p.slots[ref.slot].alive() || p.slots[ref.slot].generation != ref.generation {
		return 0
	}
	return p.slots[ref.slot].id
}

// ActiveClusterCount reports how many clusters currently exist (including
// ones mid-fade-out), for RenderStatistics-style bookkeeping.
func (p *Pool) ActiveClusterCount() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].alive() {
			n++
		}
	}
	return n
}
