package areas

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// kinfo_vmentry field offsets. The record is variable-length: the declared
// length at offset 0 covers the fixed header plus the backing-path string,
// and the cursor advances by it.
const (
	kveStructSize = 0   // int32, total record length
	kveStart      = 8   // uint64, start address
	kveEnd        = 16  // uint64, end address
	kveOffset     = 24  // uint64, offset within the backing object
	kveFlags      = 44  // int32, KVME_FLAG_* bitmask
	kveProtection = 56  // int32, KVME_PROT_* bitmask
	kvePath       = 136 // NUL-terminated backing path
)

const (
	kvmeProtRead    = 1 << 0
	kvmeProtWrite   = 1 << 1
	kvmeProtExecute = 1 << 2

	kvmeFlagCOW = 1 << 0
)

// decodeVMEntry decodes one kinfo_vmentry record from the front of buf and
// returns the number of bytes consumed. A zero or out-of-bounds declared
// length means the blob is truncated or corrupt and the walk cannot
// continue.
func decodeVMEntry(buf []byte) (*MemoryArea, int, error) {
	if len(buf) < kvePath {
		return nil, 0, errors.New(errors.ErrorTypeDecode, "vmentry record shorter than its fixed header").
			WithDetail("remaining", len(buf))
	}

	size := int(binary.NativeEndian.Uint32(buf[kveStructSize:]))
	if size < kvePath || size > len(buf) {
		return nil, 0, errors.New(errors.ErrorTypeDecode, "vmentry record has an invalid declared length").
			WithDetail("length", size).
			WithDetail("remaining", len(buf))
	}

	start := uintptr(binary.NativeEndian.Uint64(buf[kveStart:]))
	end := uintptr(binary.NativeEndian.Uint64(buf[kveEnd:]))
	offset := binary.NativeEndian.Uint64(buf[kveOffset:])
	flags := binary.NativeEndian.Uint32(buf[kveFlags:])
	prot := binary.NativeEndian.Uint32(buf[kveProtection:])

	var protection Protection
	if prot&kvmeProtRead != 0 {
		protection |= ProtectionRead
	}
	if prot&kvmeProtWrite != 0 {
		protection |= ProtectionWrite
	}
	if prot&kvmeProtExecute != 0 {
		protection |= ProtectionExecute
	}

	shareMode := SharePrivate
	if flags&kvmeFlagCOW != 0 {
		shareMode = ShareCopyOnWrite
	}

	area := &MemoryArea{
		start:      start,
		end:        end,
		protection: protection,
		shareMode:  shareMode,
	}

	// The path occupies [kvePath, size) and is NUL-terminated. An empty path
	// means the region is not file-backed.
	raw := buf[kvePath:size]
	nul := -1
	for i, b := range raw {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return nil, 0, errors.New(errors.ErrorTypeDecode, "vmentry backing path is not NUL-terminated").
			WithDetail("length", size)
	}
	if nul > 0 {
		path := raw[:nul]
		if !utf8.Valid(path) {
			return nil, 0, errors.New(errors.ErrorTypeDecode, "vmentry backing path is not valid UTF-8")
		}
		area.path = string(path)
		area.fileOffset = offset
	}

	return area, size, nil
}
