package bands

import vecmath "github.com/cwbudde/algo-vecmath"

// MulAll returns the element-wise product of a and b, band for band, using
// algo-vecmath's SIMD-width block multiply instead of a per-vector Go loop.
// algo-vecmath's MulBlock operates on flat float64 slices, so the
// band-interleaved float32 vectors are flattened and widened to float64
// first and narrowed back after, one conversion pass each way. Panics if a and b have different lengths, matching
// algo-vecmath's own length-mismatch panic.
func MulAll(a, b []Vector) []Vector {
	if len(a) != len(b) {
		panic("bands: MulAll: length mismatch")
	}
	fa, fb := flatten64(a), flatten64(b)
	out := make([]float64, len(fa))
	vecmath.MulBlock(out, fa, fb)
	return unflatten64(out)
}

// AddAll returns the element-wise sum of a and b, band for band.
func AddAll(a, b []Vector) []Vector {
	if len(a) != len(b) {
		panic("bands: AddAll: length mismatch")
	}
	fa, fb := flatten64(a), flatten64(b)
	out := make([]float64, len(fa))
	vecmath.AddBlock(out, fa, fb)
	return unflatten64(out)
}

// ScaleAll returns every vector in vecs scaled by the same s.
func ScaleAll(vecs []Vector, s float32) []Vector {
	flat := flatten64(vecs)
	out := make([]float64, len(flat))
	vecmath.ScaleBlock(out, flat, float64(s))
	return unflatten64(out)
}

func flatten64(vecs []Vector) []float64 {
	out := make([]float64, len(vecs)*Count)
	for i, v := range vecs {
		for j, x := range v {
			out[i*Count+j] = float64(x)
		}
	}
	return out
}

func unflatten64(flat []float64) []Vector {
	out := make([]Vector, len(flat)/Count)
	for i := range out {
		for j := range out[i] {
			out[i][j] = float32(flat[i*Count+j])
		}
	}
	return out
}
