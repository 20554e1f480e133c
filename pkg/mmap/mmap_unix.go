//go:build linux || darwin || freebsd

package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

func protBits(prot protState) int {
	switch prot {
	case protNone:
		return unix.PROT_NONE
	case protRead:
		return unix.PROT_READ
	case protReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	case protReadExec:
		return unix.PROT_READ | unix.PROT_EXEC
	case protReadWriteExec:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	}
	return unix.PROT_NONE
}

// allocate reserves the region with a single mmap call carrying the requested
// protection, sharing, placement and page-size hints.
func allocate(o *Options, prot protState) (*mapping, error) {
	flags := 0
	fd := -1
	offset := int64(0)

	if o.file != nil {
		fd = int(o.file.Fd())
		offset = int64(o.offset)
		if o.flags.Has(MmapFlagCopyOnWrite) {
			flags |= unix.MAP_PRIVATE
		} else {
			flags |= unix.MAP_SHARED
		}
	} else {
		flags |= unix.MAP_ANON | unix.MAP_PRIVATE
	}

	var addr unsafe.Pointer
	if o.address != 0 {
		addr = unsafe.Pointer(o.address) //nolint:govet // address comes from the caller, not a Go pointer
		if o.unsafeFlags.Has(UnsafeMmapFlagMapFixed) {
			flags |= unix.MAP_FIXED
		}
	} else if o.unsafeFlags.Has(UnsafeMmapFlagMapFixed) {
		return nil, errors.New(errors.ErrorTypeValidation, "MAP_FIXED requires an address")
	}

	extra, err := extraMapFlags(o, prot)
	if err != nil {
		return nil, err
	}
	flags |= extra

	ptr, err := unix.MmapPtr(fd, offset, addr, o.size, protBits(prot), flags)
	if err != nil {
		return nil, errors.WrapSyscall(err, "mmap").
			WithDetail("size", o.size).
			WithDetail("flags", o.flags.String())
	}

	if o.unsafeFlags.Has(UnsafeMmapFlagMapFixed) && uintptr(ptr) != o.address {
		// The kernel accepted the call but moved the mapping; treat it as a
		// failed fixed placement.
		_ = unix.MunmapPtr(ptr, o.size)
		return nil, errors.New(errors.ErrorTypeIO, "fixed mapping was not placed at the requested address").
			WithDetail("requested", o.address).
			WithDetail("actual", uintptr(ptr))
	}

	m := &mapping{
		file:        o.file,
		addr:        ptr,
		size:        o.size,
		copyOnWrite: o.flags.Has(MmapFlagCopyOnWrite),
		jit:         o.unsafeFlags.Has(UnsafeMmapFlagJIT),
	}

	if err := postMapAdvice(m, o); err != nil {
		_ = unix.MunmapPtr(ptr, o.size)
		return nil, err
	}

	if o.flags.Has(MmapFlagLocked) {
		if err := m.lock(); err != nil {
			_ = unix.MunmapPtr(ptr, o.size)
			return nil, err
		}
	}

	return m, nil
}

// protect changes the protection bits of the whole mapping in place.
func (m *mapping) protect(prot protState) error {
	if err := unix.Mprotect(m.slice(), protBits(prot)); err != nil {
		return errors.WrapSyscall(err, "mprotect")
	}
	return nil
}

func (m *mapping) lock() error {
	if err := unix.Mlock(m.slice()); err != nil {
		return errors.WrapSyscall(err, "mlock")
	}
	return nil
}

func (m *mapping) unlock() error {
	if err := unix.Munlock(m.slice()); err != nil {
		return errors.WrapSyscall(err, "munlock")
	}
	return nil
}

// flushRange performs the view flush with msync. The start of the flushed
// range is aligned down to a page boundary, as msync demands a page-aligned
// address. A synchronous flush of a file-backed mapping is followed by a
// data-sync of the file.
func (m *mapping) flushRange(lo, hi uintptr, sync bool) error {
	pageSize := uintptr(SystemPageSize())
	lo &^= pageSize - 1

	b := unsafe.Slice((*byte)(unsafe.Add(m.addr, lo)), hi-lo)

	msFlags := unix.MS_ASYNC
	if sync {
		msFlags = unix.MS_SYNC
	}
	if err := unix.Msync(b, msFlags); err != nil {
		return errors.WrapSyscall(err, "msync")
	}

	if sync && m.file != nil {
		if err := syncFileData(m.file); err != nil {
			return err
		}
	}
	return nil
}

// split divides the reservation in place: the receiver keeps [0, at) and the
// returned record owns [at, size). Each half unmaps only its own sub-range on
// release, so dropping one never invalidates
// the other. The high half gets a duplicated file descriptor so that both
// halves can flush and close independently.
func (m *mapping) split(at uintptr) (*mapping, error) {
	var file *os.File
	if m.file != nil {
		fd, err := unix.Dup(int(m.file.Fd()))
		if err != nil {
			return nil, errors.WrapSyscall(err, "dup")
		}
		file = os.NewFile(uintptr(fd), m.file.Name())
	}

	high := &mapping{
		file:        file,
		addr:        unsafe.Add(m.addr, at),
		size:        m.size - at,
		copyOnWrite: m.copyOnWrite,
		jit:         m.jit,
	}
	m.size = at
	return high, nil
}

// release unmaps the reservation for this record's sub-range.
func (m *mapping) release() error {
	if err := unix.MunmapPtr(m.addr, m.size); err != nil {
		return errors.WrapSyscall(err, "munmap")
	}
	return nil
}

// allocationGranularity equals the page size on POSIX systems.
func allocationGranularity() int {
	return os.Getpagesize()
}
