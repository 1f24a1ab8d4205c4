// Package denormal provides scoped control over the CPU's flush-to-zero
// (FTZ) mode and a value-level fallback for flushing sub-normal floats,
// matching the two denormal-avoidance strategies the render path needs:
// a hardware mode switch around hot loops (crossover, FDL convolution) and
// a scalar epsilon clamp for state that is read outside those loops.
package denormal

import (
	"math"
	"runtime"
)

// eps is single-precision machine epsilon, the clamp threshold spec.md
// names for periodic filter-history sanitization.
const eps = 1.1920929e-7

// Flush returns x, or zero if |x| is smaller than single-precision machine
// epsilon. Used to sanitize filter histories and accumulator state that
// live outside a FTZ-scoped hot loop.
func Flush(x float32) float32 {
	if x > -eps && x < eps {
		return 0
	}
	return x
}

// FlushAll flushes every element of dst in place.
func FlushAll(dst []float32) {
	for i, v := range dst {
		dst[i] = Flush(v)
	}
}

// Mode is an opaque snapshot of the CPU's flush-to-zero control state,
// returned by Enable and consumed by Restore. Its zero value is a valid
// "nothing to restore" token on architectures with no FTZ control (see
// control_other.go).
type Mode uint32

// Enable turns on flush-to-zero mode for the calling goroutine's OS thread
// and returns the previous mode. Render-pool workers call this once at job
// entry and must call Restore with the returned Mode on every exit path,
// since the hardware FP control word is thread-local and otherwise bleeds
// across callbacks scheduled on the same OS thread (spec.md §5/§9).
//
// Callers must not call Enable again before Restore-ing the first Mode on
// the same goroutine; Scope below does this correctly and should be
// preferred over calling Enable/Restore directly.
func Enable() Mode {
	return enableFTZ()
}

// Restore returns the CPU to the flush-to-zero mode captured by m.
func Restore(m Mode) {
	restoreFTZ(m)
}

// Scope runs fn with flush-to-zero mode enabled for the duration of the
// call, restoring the prior mode on every return path including a panic.
//
// The control register this manipulates is per-OS-thread, but the Go
// runtime can preempt and migrate a goroutine to a different OS thread at
// any function-call boundary (asynchronous preemption, since Go 1.14),
// even inside a loop with no apparent blocking point. Without pinning,
// Enable's mode change could land on one thread and fn's hot loop run on
// another with FTZ never actually set, or Restore could write the
// captured Mode back onto a thread that was never put into FTZ mode in
// the first place. LockOSThread/UnlockOSThread around the whole scope
// keeps the goroutine on the one OS thread Enable modified for as long as
// fn runs.
func Scope(fn func()) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	prev := Enable()
	defer Restore(prev)
	fn()
}

// IsSubnormal reports whether x is a non-zero sub-normal float32. Exposed
// for tests that need to assert "no sample in any intermediate buffer is
// sub-normal" (spec.md §8) without depending on Flush's threshold exactly
// matching the IEEE 754 sub-normal boundary.
func IsSubnormal(x float32) bool {
	if x == 0 {
		return false
	}
	bits := math.Float32bits(x)
	exponent := (bits >> 23) & 0xFF
	return exponent == 0
}
