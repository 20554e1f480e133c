//go:build !windows && arm64

package mmap

import "unsafe"

// Implemented in icache_arm64.s.
func ctrEL0() uint64
func dcCVAU(addr uintptr)
func icIVAU(addr uintptr)
func dsbISH()
func isb()

// flushICacheRange cleans the data cache to the point of unification and
// invalidates the instruction cache for the range, line by line, using the
// line sizes advertised by CTR_EL0. AArch64 does not keep the instruction
// and data caches coherent, so newly written code must be pushed through
// before it is fetched.
func flushICacheRange(addr unsafe.Pointer, size uintptr) error {
	ctr := ctrEL0()
	dLine := uintptr(4) << ((ctr >> 16) & 0xf)
	iLine := uintptr(4) << (ctr & 0xf)

	start := uintptr(addr)
	end := start + size

	for p := start &^ (dLine - 1); p < end; p += dLine {
		dcCVAU(p)
	}
	dsbISH()

	for p := start &^ (iLine - 1); p < end; p += iLine {
		icIVAU(p)
	}
	dsbISH()
	isb()

	return nil
}
