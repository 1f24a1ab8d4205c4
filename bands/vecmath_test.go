package bands

import "testing"

func TestMulAllMatchesPerVectorMul(t *testing.T) {
	t.Parallel()
	a := []Vector{Splat(2), Splat(3)}
	b := []Vector{Splat(4), Splat(5)}

	got := MulAll(a, b)
	for i := range got {
		want := a[i].Mul(b[i])
		if got[i] != want {
			t.Fatalf("MulAll[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestAddAllMatchesPerVectorAdd(t *testing.T) {
	t.Parallel()
	a := []Vector{Splat(1), Splat(2)}
	b := []Vector{Splat(10), Splat(20)}

	got := AddAll(a, b)
	for i := range got {
		want := a[i].Add(b[i])
		if got[i] != want {
			t.Fatalf("AddAll[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestScaleAllMatchesPerVectorScale(t *testing.T) {
	t.Parallel()
	vecs := []Vector{Splat(1), Splat(2), Splat(3)}
	got := ScaleAll(vecs, 2.5)
	for i := range got {
		want := vecs[i].Scale(2.5)
		if got[i] != want {
			t.Fatalf("ScaleAll[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestMulAllPanicsOnLengthMismatch(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on length mismatch")
		}
	}()
	MulAll([]Vector{Splat(1)}, []Vector{Splat(1), Splat(2)})
}
