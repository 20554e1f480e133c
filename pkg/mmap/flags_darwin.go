package mmap

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// extraMapFlags translates the portable configuration flags into the Darwin
// mmap flag word. Darwin offers no huge-page mmap flag, so an explicit
// page-size request beyond the system page size is rejected up front.
func extraMapFlags(o *Options, prot protState) (int, error) {
	flags := 0

	if o.flags.Has(MmapFlagNoReserve) {
		flags |= unix.MAP_NORESERVE
	}
	if o.flags.Has(MmapFlagHugePages) || (o.hasPageSize && o.pageSize.Bytes() != uintptr(SystemPageSize())) {
		return 0, errors.New(errors.ErrorTypeValidation, "huge pages are not supported on this platform")
	}
	if prot == protReadWriteExec && o.file == nil {
		// Anonymous RWX mappings require MAP_JIT under the hardened runtime.
		flags |= unix.MAP_JIT
	}

	return flags, nil
}

// postMapAdvice applies the configuration bits Darwin exposes through
// madvise. There is no per-mapping core-dump opt-out here, so
// MmapFlagNoCoreDump is a no-op.
func postMapAdvice(m *mapping, o *Options) error {
	if o.flags.Has(MmapFlagPopulate) {
		if err := unix.Madvise(m.slice(), unix.MADV_WILLNEED); err != nil {
			return errors.WrapSyscall(err, "madvise")
		}
	}
	return nil
}

// Darwin has no fdatasync; fsync is the closest data-sync primitive.
func syncFileData(f *os.File) error {
	if err := unix.Fsync(int(f.Fd())); err != nil {
		return errors.WrapSyscall(err, "fsync")
	}
	return nil
}

func supportedPageSizes() ([]PageSize, error) {
	return []PageSize{log2(uintptr(SystemPageSize()))}, nil
}
