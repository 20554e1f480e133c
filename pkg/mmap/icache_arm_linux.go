//go:build linux && arm

package mmap

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// __ARM_NR_cacheflush, the private kernel operation for synchronizing the
// instruction and data caches on 32-bit Arm.
const armNRCacheflush = 0x0f0002

func flushICacheRange(addr unsafe.Pointer, size uintptr) error {
	start := uintptr(addr)
	_, _, errno := unix.Syscall(armNRCacheflush, start, start+size, 0)
	if errno != 0 {
		return errors.WrapSyscall(errno, "cacheflush")
	}
	return nil
}
