//go:build amd64

package denormal

// MXCSR flush-to-zero and denormals-are-zero bits (Intel SDM vol. 1, 10.2.3).
const (
	mxcsrFTZ uint32 = 1 << 15
	mxcsrDAZ uint32 = 1 << 6
)

//go:noescape
func getMXCSR() uint32

//go:noescape
func setMXCSR(v uint32)

func enableFTZ() Mode {
	prev := getMXCSR()
	setMXCSR(prev | mxcsrFTZ | mxcsrDAZ)
	return Mode(prev)
}

func restoreFTZ(m Mode) {
	setMXCSR(uint32(m))
}
