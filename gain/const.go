// Package gain converts between dB and linear amplitude for the cluster
// mixer's gain ramps (component D) and the listener's sensitivity gain
// (component E), routing through a fast polynomial approximation when
// built with the fastmath tag and falling back to math.Pow/math.Log10
// otherwise — the same build-tag split the teacher's approximations file
// left as a TODO, resolved here the way algo-dsp's compressor package
// resolves it.
package gain

// dbFloor is returned by ToDB for non-positive input, standing in for
// -Inf at a value that stays usable in further linear arithmetic.
const dbFloor = -240

// PowerBias avoids denormal stalls when converting very small sound
// intensities to gain: intensities are scaled up by this factor before any
// sqrt/log and scaled back down after, per the original renderer's bias
// applied to input source audio.
const PowerBias = 1e6
