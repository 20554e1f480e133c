//go:build !windows && !amd64 && !386 && !arm64 && !(linux && arm)

package mmap

import (
	"unsafe"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// flushICacheRange has no implementation for this architecture; failing
// loudly is safer than letting stale code execute.
func flushICacheRange(_ unsafe.Pointer, _ uintptr) error {
	return errors.New(errors.ErrorTypePlatform, "instruction cache flush is not implemented on this architecture")
}
