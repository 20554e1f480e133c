package mmap

import "strings"

// MmapFlags configure the allocated mapping. Flags with no equivalent on the
// compiled platform are ignored, except where the documentation of a terminal
// call says otherwise.
type MmapFlags uint32

const (
	// MmapFlagCopyOnWrite initially maps the pages as shared between multiple
	// mappings, but creates a private copy when writing to them, so that
	// modifications are not visible to any other process.
	MmapFlagCopyOnWrite MmapFlags = 1 << 0

	// MmapFlagPopulate ensures the allocated pages are populated, such that
	// they do not cause page faults.
	MmapFlagPopulate MmapFlags = 1 << 1

	// MmapFlagNoReserve does not reserve swap space for this allocation.
	MmapFlagNoReserve MmapFlags = 1 << 2

	// MmapFlagHugePages uses huge pages for this allocation.
	MmapFlagHugePages MmapFlags = 1 << 3

	// MmapFlagStack marks the region as growing downward like a stack.
	MmapFlagStack MmapFlags = 1 << 4

	// MmapFlagNoCoreDump excludes the pages from core dumps.
	MmapFlagNoCoreDump MmapFlags = 1 << 5

	// MmapFlagLocked locks the physical memory to prevent page faults from
	// happening when accessing the pages.
	MmapFlagLocked MmapFlags = 1 << 6

	// MmapFlagTransparentHugePages suggests transparent huge pages for this
	// allocation.
	MmapFlagTransparentHugePages MmapFlags = 1 << 7
)

// Has reports whether all bits of flag are set.
func (f MmapFlags) Has(flag MmapFlags) bool {
	return f&flag == flag
}

func (f MmapFlags) String() string {
	names := []struct {
		flag MmapFlags
		name string
	}{
		{MmapFlagCopyOnWrite, "COPY_ON_WRITE"},
		{MmapFlagPopulate, "POPULATE"},
		{MmapFlagNoReserve, "NO_RESERVE"},
		{MmapFlagHugePages, "HUGE_PAGES"},
		{MmapFlagStack, "STACK"},
		{MmapFlagNoCoreDump, "NO_CORE_DUMP"},
		{MmapFlagLocked, "LOCKED"},
		{MmapFlagTransparentHugePages, "TRANSPARENT_HUGE_PAGES"},
	}

	var set []string
	for _, n := range names {
		if f.Has(n.flag) {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "NONE"
	}
	return strings.Join(set, "|")
}

// UnsafeMmapFlags configure the allocated mapping, but gate operations whose
// misuse is memory-unsafe. They must be attested explicitly through
// Options.WithUnsafeFlags before the corresponding terminal operation is
// permitted.
type UnsafeMmapFlags uint32

const (
	// UnsafeMmapFlagMapFixed maps the memory mapping at the address specified
	// exactly, replacing any pages that have been mapped at that address
	// range. Not supported on Windows.
	UnsafeMmapFlagMapFixed UnsafeMmapFlags = 1 << 0

	// UnsafeMmapFlagJIT allows mapping pages as writable and executable at
	// the same time. RWX mappings are a deliberate safety gate, not a
	// default: prefer converting between mutable and executable states with
	// MakeMut and MakeExec. Note that architectures with incoherent
	// instruction and data caches additionally require an instruction cache
	// flush after modifying and before executing the pages.
	UnsafeMmapFlagJIT UnsafeMmapFlags = 1 << 1
)

// Names of the unsafe flags as reported by unsafe-flag errors.
const (
	FlagNameMapFixed = "MAP_FIXED"
	FlagNameJIT      = "JIT"
)

// Has reports whether all bits of flag are set.
func (f UnsafeMmapFlags) Has(flag UnsafeMmapFlags) bool {
	return f&flag == flag
}

func (f UnsafeMmapFlags) String() string {
	var set []string
	if f.Has(UnsafeMmapFlagMapFixed) {
		set = append(set, FlagNameMapFixed)
	}
	if f.Has(UnsafeMmapFlagJIT) {
		set = append(set, FlagNameJIT)
	}
	if len(set) == 0 {
		return "NONE"
	}
	return strings.Join(set, "|")
}
