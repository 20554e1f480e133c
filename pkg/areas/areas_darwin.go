package areas

import (
	"encoding/binary"
	"unicode/utf8"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// The region walk uses the proc_info trap with the region-path-info flavor,
// which returns one proc_regionwithpathinfo per call: the region starting at
// or above the requested address, together with the path of the vnode
// backing it, if any.
const (
	sysProcInfo          = 336
	procInfoCallPidinfo  = 0x2
	procPidRegionPathInfo = 8
)

// proc_regionwithpathinfo field offsets and sizes.
const (
	priProtection = 0   // uint32, VM_PROT_* bits
	priOffset     = 16  // uint64, offset within the backing object
	priShareMode  = 60  // uint32, SM_* constant
	priAddress    = 80  // uint64, region start
	priSize       = 88  // uint64, region size
	vipPath       = 248 // NUL-terminated backing path
	regionInfoLen = 1272
)

const (
	vmProtRead    = 1 << 0
	vmProtWrite   = 1 << 1
	vmProtExecute = 1 << 2
)

// Share-mode constants reported by the kernel.
const (
	smCOW           = 1
	smPrivate       = 2
	smEmpty         = 3
	smShared        = 4
	smTrueShared    = 5
	smPrivateAliased = 6
	smSharedAliased  = 7
	smLargePage     = 8
)

type regionCursor struct {
	pid     int
	address uint64
	dead    bool
}

func openCursor(pid int) (cursor, error) {
	if pid == 0 {
		pid = unix.Getpid()
	}
	return &regionCursor{pid: pid}, nil
}

func (c *regionCursor) next() (*MemoryArea, error) {
	if c.dead {
		return nil, nil
	}

	var buf [regionInfoLen]byte
	ret, _, errno := unix.Syscall6(
		sysProcInfo,
		procInfoCallPidinfo,
		uintptr(c.pid),
		procPidRegionPathInfo,
		uintptr(c.address),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if errno != 0 {
		// EINVAL means there is no region at or above this address; that
		// ends the sequence. Anything else is a platform fault.
		if errno == unix.EINVAL || errno == unix.ESRCH {
			c.dead = true
			return nil, nil
		}
		c.dead = true
		return nil, errors.Wrap(errno, errors.ErrorTypePlatform, "proc_info region query failed").
			WithDetail("pid", c.pid).
			WithDetail("address", c.address)
	}
	if int(ret) < priSize+8 {
		c.dead = true
		return nil, nil
	}

	start := binary.NativeEndian.Uint64(buf[priAddress:])
	size := binary.NativeEndian.Uint64(buf[priSize:])
	prot := binary.NativeEndian.Uint32(buf[priProtection:])
	share := binary.NativeEndian.Uint32(buf[priShareMode:])
	offset := binary.NativeEndian.Uint64(buf[priOffset:])

	// Advance past this region regardless of how decoding goes, so that a
	// per-record error does not stall the walk.
	c.address = start + size

	var protection Protection
	if prot&vmProtRead != 0 {
		protection |= ProtectionRead
	}
	if prot&vmProtWrite != 0 {
		protection |= ProtectionWrite
	}
	if prot&vmProtExecute != 0 {
		protection |= ProtectionExecute
	}

	shareMode := SharePrivate
	switch share {
	case smCOW:
		shareMode = ShareCopyOnWrite
	case smShared, smTrueShared, smSharedAliased:
		shareMode = ShareShared
	}

	area := &MemoryArea{
		start:      uintptr(start),
		end:        uintptr(start + size),
		protection: protection,
		shareMode:  shareMode,
	}

	raw := buf[vipPath:]
	nul := 0
	for nul < len(raw) && raw[nul] != 0 {
		nul++
	}
	if nul > 0 {
		path := raw[:nul]
		if !utf8.Valid(path) {
			return nil, errors.New(errors.ErrorTypeDecode, "region backing path is not valid UTF-8").
				WithDetail("address", start)
		}
		area.path = string(path)
		area.fileOffset = offset
	}

	return area, nil
}

func (c *regionCursor) close() error {
	c.dead = true
	return nil
}
