// Package vmap provides typed, leak-safe control over raw virtual-memory
// mappings and enumeration of the live memory regions of a process.
//
// The module has two independent engines:
//
// 1. Mapping lifecycle (pkg/mmap): a builder configures a mapping which is
// produced in one of three protection states (inaccessible, read-only,
// read-write, each optionally executable). Transitions between states consume
// the source wrapper and return a new one, so exactly one live handle owns a
// reservation at any time. Mappings can be locked, flushed, split at page
// boundaries, and are released exactly once on Close.
//
// 2. Address-space enumeration (pkg/areas): walks the memory regions of the
// current or another process, yielding one immutable record per raw kernel
// entry with point and range queries on top.
//
// # Quick Start
//
// Allocate a page of read-write memory, fill it, and seal it read-only:
//
//	import "github.com/ajitpratap0/vmap/pkg/mmap"
//
//	opts := mmap.NewOptions(mmap.SystemPageSize())
//	m, err := opts.MapMut()
//	if err != nil {
//	    // handle error
//	}
//	copy(m.AsMutSlice(), data)
//	ro, err := m.MakeReadOnly()
//	if err != nil {
//	    // m is still valid here
//	}
//	defer ro.Close()
//
// Enumerate the regions of the current process:
//
//	import "github.com/ajitpratap0/vmap/pkg/areas"
//
//	it, err := areas.Open(0)
//	for {
//	    area, err := it.Next()
//	    if area == nil && err == nil {
//	        break
//	    }
//	}
//
// Mapping executable-and-writable memory is gated behind an explicit
// attestation (mmap.UnsafeMmapFlagJIT); without it the terminal call fails
// rather than silently producing an RWX region.
package vmap
