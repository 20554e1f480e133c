package mmap

import "os"

// PageSize is the preferred size of the pages backing a mapping, in log2
// notation. Not all of the offered page sizes may be available on the current
// platform; requesting an unavailable size fails the terminal call.
type PageSize uint32

// The page sizes that platforms commonly offer.
const (
	PageSize4K   PageSize = 12
	PageSize64K  PageSize = 16
	PageSize512K PageSize = 19
	PageSize1M   PageSize = 20
	PageSize2M   PageSize = 21
	PageSize4M   PageSize = 22
	PageSize8M   PageSize = 23
	PageSize16M  PageSize = 24
	PageSize32M  PageSize = 25
	PageSize256M PageSize = 28
	PageSize512M PageSize = 29
	PageSize1G   PageSize = 30
	PageSize2G   PageSize = 31
	PageSize16G  PageSize = 34
)

// Bytes returns the page size in bytes.
func (p PageSize) Bytes() uintptr {
	return uintptr(1) << p
}

// SystemPageSize returns the smallest possible page size for the current
// platform. The allocation size must be aligned to the page size for the
// allocation to succeed.
func SystemPageSize() int {
	return os.Getpagesize()
}

// AllocationGranularity returns the allocation granularity for the current
// platform. On some platforms the allocation granularity may be a multiple of
// the page size. The start address of an allocation must be aligned to
// max(allocation granularity, page size).
func AllocationGranularity() int {
	return allocationGranularity()
}

// SupportedPageSizes returns the page sizes the current platform offers, in
// ascending order. The first entry is always the system page size.
func SupportedPageSizes() ([]PageSize, error) {
	return supportedPageSizes()
}

func log2(n uintptr) PageSize {
	var l PageSize
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}
