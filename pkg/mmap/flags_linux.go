package mmap

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// extraMapFlags translates the portable configuration flags into the Linux
// mmap flag word.
func extraMapFlags(o *Options, _ protState) (int, error) {
	flags := 0

	if o.flags.Has(MmapFlagPopulate) {
		flags |= unix.MAP_POPULATE
	}
	if o.flags.Has(MmapFlagNoReserve) {
		flags |= unix.MAP_NORESERVE
	}
	if o.flags.Has(MmapFlagStack) {
		flags |= unix.MAP_STACK
	}
	// Requesting the system page size asks for the default backing; only a
	// larger page size needs the hugetlb path.
	hugeSize := o.hasPageSize && o.pageSize.Bytes() != uintptr(SystemPageSize())
	if o.flags.Has(MmapFlagHugePages) || hugeSize {
		if o.file != nil {
			return 0, errors.New(errors.ErrorTypeValidation, "huge pages are not supported for file-backed mappings")
		}
		flags |= unix.MAP_HUGETLB
		if hugeSize {
			flags |= int(o.pageSize) << unix.MAP_HUGE_SHIFT
		}
	}

	return flags, nil
}

// postMapAdvice applies the configuration bits that Linux exposes through
// madvise rather than mmap flags.
func postMapAdvice(m *mapping, o *Options) error {
	if o.flags.Has(MmapFlagNoCoreDump) {
		if err := unix.Madvise(m.slice(), unix.MADV_DONTDUMP); err != nil {
			return errors.WrapSyscall(err, "madvise")
		}
	}
	if o.flags.Has(MmapFlagTransparentHugePages) {
		if err := unix.Madvise(m.slice(), unix.MADV_HUGEPAGE); err != nil {
			return errors.WrapSyscall(err, "madvise")
		}
	}
	return nil
}

func syncFileData(f *os.File) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return errors.WrapSyscall(err, "fdatasync")
	}
	return nil
}

// supportedPageSizes reports the system page size plus the configured hugetlb
// page sizes from sysfs.
func supportedPageSizes() ([]PageSize, error) {
	sizes := []PageSize{log2(uintptr(SystemPageSize()))}

	entries, err := os.ReadDir("/sys/kernel/mm/hugepages")
	if err != nil {
		if os.IsNotExist(err) {
			return sizes, nil
		}
		return nil, errors.WrapSyscall(err, "readdir")
	}

	for _, entry := range entries {
		// Entries are named hugepages-<size>kB.
		name := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), "hugepages-"), "kB")
		kb, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		sizes = append(sizes, log2(uintptr(kb)*1024))
	}

	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return sizes, nil
}
