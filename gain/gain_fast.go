//go:build fastmath

package gain

import "github.com/meko-christian/algo-approx"

const ln10Over20 = 0.115129254649702284200899573
const twentyOverLn10 = 8.6858896380650365530225783783321

// ToLinear converts a dB value to a linear amplitude gain using a fast
// polynomial exp approximation, replacing the teacher's TODO-stubbed
// expApprox with the real fast-math routine.
func ToLinear(db float32) float32 {
	return float32(approx.FastExp(float64(db) * ln10Over20))
}

// ToDB converts a linear amplitude gain to dB using a fast polynomial log
// approximation, replacing the teacher's TODO-stubbed log10Approx.
func ToDB(linear float32) float32 {
	if linear <= 0 {
		return dbFloor
	}
	return float32(approx.FastLog(float64(linear)) * twentyOverLn10)
}
