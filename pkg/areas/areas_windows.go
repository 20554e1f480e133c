package areas

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

var (
	kernel32              = windows.NewLazySystemDLL("kernel32.dll")
	procGetMappedFileName = kernel32.NewProc("K32GetMappedFileNameW")
)

// pageProtections maps the base protection constants, with the modifier bits
// already masked off, to Protection bits.
var pageProtections = map[uint32]Protection{
	windows.PAGE_EXECUTE:           ProtectionExecute,
	windows.PAGE_EXECUTE_READ:      ProtectionRead | ProtectionExecute,
	windows.PAGE_EXECUTE_READWRITE: ProtectionRead | ProtectionWrite | ProtectionExecute,
	windows.PAGE_EXECUTE_WRITECOPY: ProtectionRead | ProtectionWrite | ProtectionExecute,
	windows.PAGE_READONLY:          ProtectionRead,
	windows.PAGE_READWRITE:         ProtectionRead | ProtectionWrite,
	windows.PAGE_WRITECOPY:         ProtectionRead | ProtectionWrite,
}

const protectionModifiers = windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE

type queryCursor struct {
	process  windows.Handle
	borrowed bool
	address  uintptr
	dead     bool
}

func openCursor(pid int) (cursor, error) {
	if pid == 0 {
		return &queryCursor{process: windows.CurrentProcess(), borrowed: true}, nil
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, uint32(pid))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePlatform, "cannot open target process").
			WithDetail("pid", pid)
	}
	return &queryCursor{process: h}, nil
}

func (c *queryCursor) next() (*MemoryArea, error) {
	if c.dead {
		return nil, nil
	}

	var mbi windows.MemoryBasicInformation
	for {
		err := windows.VirtualQueryEx(c.process, c.address, &mbi, unsafe.Sizeof(mbi))
		if err != nil {
			// Querying past the highest user-mode address fails with
			// ERROR_INVALID_PARAMETER; that ends the walk.
			c.dead = true
			if err == windows.ERROR_INVALID_PARAMETER {
				return nil, nil
			}
			return nil, errors.Wrap(err, errors.ErrorTypePlatform, "VirtualQueryEx failed").
				WithDetail("address", c.address)
		}

		c.address = mbi.BaseAddress + mbi.RegionSize

		// Free and reserved-but-uncommitted regions are not mappings.
		if mbi.State != windows.MEM_COMMIT {
			continue
		}

		base := mbi.Protect &^ uint32(protectionModifiers)
		protection, ok := pageProtections[base]
		if !ok && base != windows.PAGE_NOACCESS {
			return nil, errors.New(errors.ErrorTypeDecode, "unrecognized page protection").
				WithDetail("protection", mbi.Protect).
				WithDetail("address", mbi.BaseAddress)
		}

		shareMode := SharePrivate
		if mbi.Type != windows.MEM_PRIVATE {
			if base == windows.PAGE_WRITECOPY || base == windows.PAGE_EXECUTE_WRITECOPY {
				shareMode = ShareCopyOnWrite
			} else {
				shareMode = ShareShared
			}
		}

		area := &MemoryArea{
			start:      mbi.BaseAddress,
			end:        mbi.BaseAddress + mbi.RegionSize,
			protection: protection,
			shareMode:  shareMode,
		}

		// Mapped and image regions carry a backing file; the offset within
		// it is the distance from the start of the allocation, since a view
		// always maps from its allocation base.
		if mbi.Type == windows.MEM_MAPPED || mbi.Type == windows.MEM_IMAGE {
			if path := mappedFileName(c.process, mbi.BaseAddress); path != "" {
				area.path = path
				area.fileOffset = uint64(mbi.BaseAddress - mbi.AllocationBase)
			}
		}

		return area, nil
	}
}

func (c *queryCursor) close() error {
	c.dead = true
	if c.borrowed || c.process == 0 {
		return nil
	}
	err := windows.CloseHandle(c.process)
	c.process = 0
	return err
}

// mappedFileName returns the NT device path of the file mapped at addr, or ""
// when the region has no named backing.
func mappedFileName(process windows.Handle, addr uintptr) string {
	var buf [windows.MAX_PATH]uint16
	n, _, _ := procGetMappedFileName.Call(
		uintptr(process),
		addr,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}
