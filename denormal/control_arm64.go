//go:build arm64

package denormal

// FPCR flush-to-zero bit (ARM Architecture Reference Manual, FPCR.FZ).
const fpcrFZ uint32 = 1 << 24

//go:noescape
func getFPCR() uint32

//go:noescape
func setFPCR(v uint32)

func enableFTZ() Mode {
	prev := getFPCR()
	setFPCR(prev | fpcrFZ)
	return Mode(prev)
}

func restoreFTZ(m Mode) {
	setFPCR(uint32(m))
}
