//go:build !amd64 && !arm64

package denormal

// No hardware FTZ control on this architecture; Enable/Restore are no-ops
// and the render path relies on Flush/FlushAll for denormal safety instead.
func enableFTZ() Mode   { return 0 }
func restoreFTZ(m Mode) {}
