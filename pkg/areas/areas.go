// Package areas enumerates the live memory regions of a process, the current
// one or another identified by pid. Each region is reported as an immutable
// MemoryArea record decoded from one raw kernel entry; adjacent records with
// identical attributes are never merged. Enumeration never mutates the target
// process.
package areas

import (
	"strings"

	"github.com/ajitpratap0/vmap/pkg/metrics"
)

// Protection is the access protection of a memory area.
type Protection uint32

const (
	// ProtectionRead marks the area readable.
	ProtectionRead Protection = 1 << 0
	// ProtectionWrite marks the area writable.
	ProtectionWrite Protection = 1 << 1
	// ProtectionExecute marks the area executable.
	ProtectionExecute Protection = 1 << 2
)

// Has reports whether all bits of p are set.
func (p Protection) Has(bits Protection) bool {
	return p&bits == bits
}

func (p Protection) String() string {
	var set []string
	if p.Has(ProtectionRead) {
		set = append(set, "READ")
	}
	if p.Has(ProtectionWrite) {
		set = append(set, "WRITE")
	}
	if p.Has(ProtectionExecute) {
		set = append(set, "EXECUTE")
	}
	if len(set) == 0 {
		return "NONE"
	}
	return strings.Join(set, "|")
}

// ShareMode is the sharing semantics of a memory area. Sharing is a distinct
// operating-system concept from access rights, so it is kept separate from
// Protection rather than folded into it.
type ShareMode int

const (
	// SharePrivate marks the area as private to the process.
	SharePrivate ShareMode = iota
	// ShareCopyOnWrite marks the area as shared until written to, at which
	// point the writing process receives a private copy.
	ShareCopyOnWrite
	// ShareShared marks the area as shared between processes.
	ShareShared
)

func (s ShareMode) String() string {
	switch s {
	case SharePrivate:
		return "private"
	case ShareCopyOnWrite:
		return "copy_on_write"
	case ShareShared:
		return "shared"
	}
	return "unknown"
}

// MemoryArea describes one memory region of a process: an immutable snapshot,
// not live-linked to the process.
type MemoryArea struct {
	start      uintptr
	end        uintptr
	protection Protection
	shareMode  ShareMode
	path       string
	fileOffset uint64
}

// Start returns the first address of the area.
func (a *MemoryArea) Start() uintptr { return a.start }

// End returns the address one past the last byte of the area.
func (a *MemoryArea) End() uintptr { return a.end }

// Range returns the half-open address range [start, end) of the area.
func (a *MemoryArea) Range() (start, end uintptr) { return a.start, a.end }

// Size returns the extent of the area in bytes.
func (a *MemoryArea) Size() uintptr { return a.end - a.start }

// Protection returns the protection with which the area has been mapped.
func (a *MemoryArea) Protection() Protection { return a.protection }

// ShareMode returns the share mode of the area.
func (a *MemoryArea) ShareMode() ShareMode { return a.shareMode }

// Path returns the path of the file backing the area, or "" if the area is
// not file-backed.
func (a *MemoryArea) Path() string { return a.path }

// FileOffset returns the byte offset within the backing file at which the
// area starts. It is zero for areas that are not file-backed.
func (a *MemoryArea) FileOffset() uint64 { return a.fileOffset }

// Contains reports whether addr falls within the area.
func (a *MemoryArea) Contains(addr uintptr) bool {
	return addr >= a.start && addr < a.end
}

// Overlaps reports whether the area intersects the half-open range [lo, hi).
func (a *MemoryArea) Overlaps(lo, hi uintptr) bool {
	return a.start < hi && lo < a.end
}

// cursor is the per-platform walker over a process's region table. next
// returns (nil, nil) when there are no more regions; a non-nil error is a
// per-record decode or platform failure and does not necessarily end the
// walk.
type cursor interface {
	next() (*MemoryArea, error)
	close() error
}

// MemoryAreas enumerates the memory regions of a process in ascending start
// order. It is a finite, non-restartable sequence; once exhausted it yields
// nothing forever after.
type MemoryAreas struct {
	cur       cursor
	exhausted bool

	// Optional half-open range filter for QueryRange.
	filtered bool
	lo, hi   uintptr
}

// Open returns an enumerator over the memory regions of the process with the
// given pid, or of the calling process if pid is zero.
func Open(pid int) (*MemoryAreas, error) {
	cur, err := openCursor(pid)
	if err != nil {
		return nil, err
	}
	return &MemoryAreas{cur: cur}, nil
}

// QueryRange returns an enumerator over the regions whose extents intersect
// the half-open range [lo, hi), in ascending order. Each region is reported
// with its true extents, not clipped to the query bounds; callers detect
// partial overlap themselves.
func QueryRange(pid int, lo, hi uintptr) (*MemoryAreas, error) {
	ma, err := Open(pid)
	if err != nil {
		return nil, err
	}
	ma.filtered = true
	ma.lo = lo
	ma.hi = hi
	return ma, nil
}

// Query returns the single region of the process containing addr, or nil if
// no region contains it.
func Query(pid int, addr uintptr) (*MemoryArea, error) {
	ma, err := QueryRange(pid, addr, addr+1)
	if err != nil {
		return nil, err
	}
	defer ma.Close()

	for {
		area, err := ma.Next()
		if err != nil {
			return nil, err
		}
		if area == nil {
			return nil, nil
		}
		if area.Contains(addr) {
			return area, nil
		}
	}
}

// Next advances the enumerator. It returns the next region, or (nil, err) for
// a record that could not be decoded (the caller may keep polling), or
// (nil, nil) once the sequence is exhausted.
func (ma *MemoryAreas) Next() (*MemoryArea, error) {
	if ma.exhausted {
		return nil, nil
	}

	for {
		area, err := ma.cur.next()
		if err != nil {
			metrics.AreasDecoded.WithLabelValues(metrics.OutcomeError).Inc()
			return nil, err
		}
		if area == nil {
			ma.exhausted = true
			return nil, nil
		}

		if ma.filtered {
			if area.end <= ma.lo {
				continue
			}
			if area.start >= ma.hi {
				// Regions arrive in ascending order; nothing past this point
				// can intersect the query range.
				ma.exhausted = true
				return nil, nil
			}
		}

		metrics.AreasDecoded.WithLabelValues(metrics.OutcomeOK).Inc()
		return area, nil
	}
}

// Close releases any platform resources held by the enumerator. It is safe
// to call after exhaustion and more than once.
func (ma *MemoryAreas) Close() error {
	if ma.cur == nil {
		return nil
	}
	err := ma.cur.close()
	ma.cur = nil
	ma.exhausted = true
	return err
}
