package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

var (
	modkernel32              = windows.NewLazySystemDLL("kernel32.dll")
	procGetSystemInfo        = modkernel32.NewProc("GetSystemInfo")
	procGetLargePageMinimum  = modkernel32.NewProc("GetLargePageMinimum")
	procFlushInstructionCach = modkernel32.NewProc("FlushInstructionCache")
)

// systemInfo mirrors the SYSTEM_INFO structure.
type systemInfo struct {
	processorArchitecture     uint16
	reserved                  uint16
	pageSize                  uint32
	minimumApplicationAddress uintptr
	maximumApplicationAddress uintptr
	activeProcessorMask       uintptr
	numberOfProcessors        uint32
	processorType             uint32
	allocationGranularity     uint32
	processorLevel            uint16
	processorRevision         uint16
}

func getSystemInfo() systemInfo {
	var info systemInfo
	_, _, _ = procGetSystemInfo.Call(uintptr(unsafe.Pointer(&info)))
	return info
}

func allocationGranularity() int {
	return int(getSystemInfo().allocationGranularity)
}

func supportedPageSizes() ([]PageSize, error) {
	sizes := []PageSize{log2(uintptr(SystemPageSize()))}

	large, _, _ := procGetLargePageMinimum.Call()
	if large != 0 {
		sizes = append(sizes, log2(large))
	}
	return sizes, nil
}

const (
	secLargePages     = 0x80000000
	fileMapLargePages = 0x20000000
)

// pageProtection translates a protection state into the PAGE_* constant,
// taking the write-copy variants for copy-on-write file mappings.
func pageProtection(prot protState, copyOnWrite bool) uint32 {
	switch prot {
	case protNone:
		return windows.PAGE_NOACCESS
	case protRead:
		return windows.PAGE_READONLY
	case protReadWrite:
		if copyOnWrite {
			return windows.PAGE_WRITECOPY
		}
		return windows.PAGE_READWRITE
	case protReadExec:
		return windows.PAGE_EXECUTE_READ
	case protReadWriteExec:
		if copyOnWrite {
			return windows.PAGE_EXECUTE_WRITECOPY
		}
		return windows.PAGE_EXECUTE_READWRITE
	}
	return windows.PAGE_NOACCESS
}

// checkProtection probes whether a file-mapping object can be created with
// the given protection. Windows cannot widen access beyond what the mapping
// object was created with, so the maximal obtainable protection has to be
// probed before committing to a view.
func checkProtection(file *os.File, protection uint32) bool {
	handle, err := windows.CreateFileMapping(
		windows.Handle(file.Fd()), nil, protection, 0, 0, nil)
	if err != nil || handle == 0 {
		return false
	}
	_ = windows.CloseHandle(handle)
	return true
}

// allocate performs the two-step create-mapping-object-then-map-view sequence
// for file-backed mappings, or reserves and commits pages for anonymous ones,
// then narrows the view to the requested protection.
func allocate(o *Options, prot protState) (*mapping, error) {
	if o.unsafeFlags.Has(UnsafeMmapFlagMapFixed) {
		return nil, errors.New(errors.ErrorTypeValidation, "MAP_FIXED is not supported on this platform")
	}

	cow := o.flags.Has(MmapFlagCopyOnWrite)
	protection := pageProtection(prot, cow && o.file != nil)

	var addr uintptr
	if o.file != nil {
		// Probe the widest protection the file handle permits, create the
		// mapping object with it, then narrow the view.
		write := checkProtection(o.file, windows.PAGE_READWRITE)
		execute := checkProtection(o.file, windows.PAGE_EXECUTE_READ)

		mapAccess := uint32(windows.FILE_MAP_READ)
		var mapProtection uint32
		switch {
		case write && execute:
			mapAccess |= windows.FILE_MAP_WRITE | windows.FILE_MAP_EXECUTE
			mapProtection = windows.PAGE_EXECUTE_READWRITE
		case write:
			mapAccess |= windows.FILE_MAP_WRITE
			mapProtection = windows.PAGE_READWRITE
		case execute:
			mapAccess |= windows.FILE_MAP_EXECUTE
			mapProtection = windows.PAGE_EXECUTE_READ
		default:
			mapProtection = windows.PAGE_READONLY
		}

		if o.flags.Has(MmapFlagHugePages) {
			mapAccess |= fileMapLargePages
			mapProtection |= secLargePages
		}

		size := uint64(o.size)
		handle, err := windows.CreateFileMapping(
			windows.Handle(o.file.Fd()), nil, mapProtection,
			uint32(size>>32), uint32(size&0xffffffff), nil)
		if err != nil {
			return nil, errors.WrapSyscall(err, "CreateFileMapping")
		}

		addr, err = windows.MapViewOfFile(handle, mapAccess,
			uint32(o.offset>>32), uint32(o.offset&0xffffffff), o.size)
		_ = windows.CloseHandle(handle)
		if err != nil {
			return nil, errors.WrapSyscall(err, "MapViewOfFile")
		}

		var oldProtect uint32
		if err := windows.VirtualProtect(addr, o.size, protection, &oldProtect); err != nil {
			_ = windows.UnmapViewOfFile(addr)
			return nil, errors.WrapSyscall(err, "VirtualProtect")
		}
	} else {
		allocType := uint32(windows.MEM_COMMIT | windows.MEM_RESERVE)
		if o.flags.Has(MmapFlagHugePages) {
			allocType |= windows.MEM_LARGE_PAGES
		}

		var err error
		addr, err = windows.VirtualAlloc(o.address, o.size, allocType, protection)
		if err != nil && o.address != 0 {
			// Without the MapFixed attestation the address is only a hint;
			// fall back to a kernel-chosen placement when it is unavailable.
			addr, err = windows.VirtualAlloc(0, o.size, allocType, protection)
		}
		if err != nil {
			return nil, errors.WrapSyscall(err, "VirtualAlloc")
		}
	}

	m := &mapping{
		file:        o.file,
		addr:        unsafe.Pointer(addr), //nolint:govet // raw view address from the kernel
		size:        o.size,
		copyOnWrite: cow,
		jit:         o.unsafeFlags.Has(UnsafeMmapFlagJIT),
	}

	if o.flags.Has(MmapFlagLocked) {
		if err := m.lock(); err != nil {
			_ = m.release()
			return nil, err
		}
	}

	return m, nil
}

func (m *mapping) protect(prot protState) error {
	protection := pageProtection(prot, m.copyOnWrite && m.file != nil)

	var oldProtect uint32
	if err := windows.VirtualProtect(m.addrValue(), m.size, protection, &oldProtect); err != nil {
		return errors.WrapSyscall(err, "VirtualProtect")
	}
	return nil
}

func (m *mapping) lock() error {
	if err := windows.VirtualLock(m.addrValue(), m.size); err != nil {
		return errors.WrapSyscall(err, "VirtualLock")
	}
	return nil
}

func (m *mapping) unlock() error {
	if err := windows.VirtualUnlock(m.addrValue(), m.size); err != nil {
		return errors.WrapSyscall(err, "VirtualUnlock")
	}
	return nil
}

func (m *mapping) flushRange(lo, hi uintptr, sync bool) error {
	if err := windows.FlushViewOfFile(m.addrValue()+lo, hi-lo); err != nil {
		return errors.WrapSyscall(err, "FlushViewOfFile")
	}
	if sync && m.file != nil {
		if err := windows.FlushFileBuffers(windows.Handle(m.file.Fd())); err != nil {
			return errors.WrapSyscall(err, "FlushFileBuffers")
		}
	}
	return nil
}

// split is not supported on Windows: a view or reservation can only be
// unmapped as a whole, so a half could not be released independently.
func (m *mapping) split(_ uintptr) (*mapping, error) {
	return nil, errors.New(errors.ErrorTypeIO, "splitting a mapping is not supported on this platform")
}

// release unmaps the file view for file-backed mappings, or decommits and
// releases the reservation for anonymous ones.
func (m *mapping) release() error {
	if m.file != nil {
		if err := windows.UnmapViewOfFile(m.addrValue()); err != nil {
			return errors.WrapSyscall(err, "UnmapViewOfFile")
		}
		return nil
	}
	if err := windows.VirtualFree(m.addrValue(), 0, windows.MEM_RELEASE); err != nil {
		return errors.WrapSyscall(err, "VirtualFree")
	}
	return nil
}

// flushICacheRange flushes the instruction cache for the view. On x86 the
// instruction and data caches are coherent and kernel32 makes this cheap, so
// it is called unconditionally.
func flushICacheRange(addr unsafe.Pointer, size uintptr) error {
	process, _ := windows.GetCurrentProcess()
	ret, _, err := procFlushInstructionCach.Call(uintptr(process), uintptr(addr), size)
	if ret == 0 {
		return errors.WrapSyscall(err, "FlushInstructionCache")
	}
	return nil
}
