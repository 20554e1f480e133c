package mmap

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// extraMapFlags translates the portable configuration flags into the FreeBSD
// mmap flag word. Huge pages are requested through the aligned-superpage
// hint; FreeBSD picks the superpage size itself, so an explicit page size
// request is passed as an alignment constraint.
func extraMapFlags(o *Options, _ protState) (int, error) {
	flags := 0

	if o.flags.Has(MmapFlagPopulate) {
		flags |= unix.MAP_PREFAULT_READ
	}
	if o.flags.Has(MmapFlagStack) {
		flags |= unix.MAP_STACK
	}
	if o.flags.Has(MmapFlagNoCoreDump) {
		flags |= unix.MAP_NOCORE
	}
	if o.flags.Has(MmapFlagHugePages) {
		flags |= unix.MAP_ALIGNED_SUPER
	}
	if o.hasPageSize {
		flags |= int(o.pageSize) << unix.MAP_ALIGNMENT_SHIFT
	}

	return flags, nil
}

func postMapAdvice(_ *mapping, _ *Options) error {
	return nil
}

func syncFileData(f *os.File) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return errors.WrapSyscall(err, "fdatasync")
	}
	return nil
}

// supportedPageSizes reports the page sizes the kernel advertises through the
// hw.pagesizes sysctl.
func supportedPageSizes() ([]PageSize, error) {
	raw, err := unix.SysctlRaw("hw.pagesizes")
	if err != nil {
		return nil, errors.WrapSyscall(err, "sysctl")
	}

	var sizes []PageSize
	for off := 0; off+8 <= len(raw); off += 8 {
		size := uintptr(binary.NativeEndian.Uint64(raw[off:]))
		if size == 0 {
			continue
		}
		sizes = append(sizes, log2(size))
	}
	if len(sizes) == 0 {
		sizes = []PageSize{log2(uintptr(SystemPageSize()))}
	}
	return sizes, nil
}
