package denormal

import (
	"math"
	"runtime"
	"testing"
)

func TestFlushClampsSubnormals(t *testing.T) {
	t.Parallel()
	tiny := math.Float32frombits(1) // smallest positive subnormal
	if got := Flush(tiny); got != 0 {
		t.Fatalf("Flush(subnormal) = %v, want 0", got)
	}
	if got := Flush(1.0); got != 1.0 {
		t.Fatalf("Flush(1.0) = %v, want 1.0", got)
	}
	if got := Flush(-1.0); got != -1.0 {
		t.Fatalf("Flush(-1.0) = %v, want -1.0", got)
	}
}

func TestIsSubnormal(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		x    float32
		want bool
	}{
		{"zero", 0, false},
		{"normal", 1.0, false},
		{"smallest subnormal", math.Float32frombits(1), true},
		{"largest subnormal", math.Float32frombits(0x007FFFFF), true},
		{"smallest normal", math.Float32frombits(0x00800000), false},
	}
	for _, c := range cases {
		if got := IsSubnormal(c.x); got != c.want {
			t.Errorf("%s: IsSubnormal(%v) = %v, want %v", c.name, c.x, got, c.want)
		}
	}
}

func TestScopeRestoresMode(t *testing.T) {
	t.Parallel()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	before := Enable()
	Restore(before)

	ran := false
	Scope(func() { ran = true })
	if !ran {
		t.Fatal("Scope did not invoke fn")
	}
	after := Enable()
	Restore(after)
	if after != before {
		t.Fatalf("mode after Scope = %#x, want %#x", after, before)
	}
}

func TestFlushAll(t *testing.T) {
	t.Parallel()
	buf := []float32{1, math.Float32frombits(1), -2, 0}
	FlushAll(buf)
	want := []float32{1, 0, -2, 0}
	for i := range buf {
		if buf[i] != want[i] {
			t.Fatalf("FlushAll[%d] = %v, want %v", i, buf[i], want[i])
		}
	}
}
