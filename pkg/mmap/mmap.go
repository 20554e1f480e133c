// Package mmap provides a cross-platform abstraction over operating-system
// virtual-memory primitives: reserving, protection-transitioning, locking,
// flushing, splitting and releasing memory regions.
//
// A mapping is always in exactly one of three protection states, each
// represented by its own wrapper type: MmapNone (inaccessible), Mmap
// (read-only) and MmapMut (read-write). Either of the accessible states may
// additionally be executable. Transitions between states consume the source
// wrapper: on success the source is invalidated and a wrapper for the new
// state is returned; on failure the source remains valid and unchanged, so no
// resource is ever orphaned.
//
// Wrappers are movable across goroutines but not implicitly shareable; a
// caller that shares one must synchronize externally.
package mmap

import (
	"os"
	"unsafe"

	"go.uber.org/zap"

	"github.com/ajitpratap0/vmap/pkg/errors"
	"github.com/ajitpratap0/vmap/pkg/logger"
	"github.com/ajitpratap0/vmap/pkg/metrics"
)

// protState is the protection a mapping currently carries.
type protState int

const (
	protNone protState = iota
	protRead
	protReadWrite
	protReadExec
	protReadWriteExec
)

// mapping is the single-owner record for one platform resource: an
// address-space reservation and, for file-backed mappings, an open file. A
// wrapper whose inner pointer is nil has transferred ownership and is no
// longer usable.
type mapping struct {
	file        *os.File
	addr        unsafe.Pointer
	size        uintptr
	copyOnWrite bool
	jit         bool
	closed      bool
}

func (m *mapping) addrValue() uintptr {
	return uintptr(m.addr)
}

func (m *mapping) slice() []byte {
	return unsafe.Slice((*byte)(m.addr), m.size)
}

var errMoved = errors.New(errors.ErrorTypeValidation, "mapping has been consumed by a transition or split")

func guard(m *mapping) error {
	if m == nil {
		return errMoved
	}
	if m.closed {
		return errors.New(errors.ErrorTypeValidation, "mapping is closed")
	}
	return nil
}

// transition changes the protection bits of the mapping in place. It never
// relocates or resizes the backing reservation.
func transition(m *mapping, prot protState, target string) error {
	if err := guard(m); err != nil {
		return err
	}
	if prot == protReadWriteExec && !m.jit {
		metrics.Transitions.WithLabelValues(target, metrics.OutcomeError).Inc()
		return errors.NewUnsafeFlagNeeded(FlagNameJIT)
	}
	if err := m.protect(prot); err != nil {
		metrics.Transitions.WithLabelValues(target, metrics.OutcomeError).Inc()
		return err
	}
	metrics.Transitions.WithLabelValues(target, metrics.OutcomeOK).Inc()
	return nil
}

func lockMapping(m *mapping) error {
	if err := guard(m); err != nil {
		return err
	}
	return m.lock()
}

func unlockMapping(m *mapping) error {
	if err := guard(m); err != nil {
		return err
	}
	return m.unlock()
}

// flushMapping writes back the byte sub-range [lo, hi) of the mapping to the
// backing file. A backwards range is a no-op, not an error.
func flushMapping(m *mapping, lo, hi int, sync bool) error {
	if err := guard(m); err != nil {
		return err
	}
	if hi <= lo {
		return nil
	}
	if lo < 0 || uintptr(hi) > m.size {
		return errors.New(errors.ErrorTypeValidation, "flush range out of bounds").
			WithDetail("lo", lo).
			WithDetail("hi", hi).
			WithDetail("size", m.size)
	}
	return m.flushRange(uintptr(lo), uintptr(hi), sync)
}

func flushICacheMapping(m *mapping) error {
	if err := guard(m); err != nil {
		return err
	}
	return flushICacheRange(m.addr, m.size)
}

// closeMapping releases the platform resource. Release happens exactly once
// regardless of the typestate the mapping ended in; failures are best-effort
// and logged rather than propagated through every teardown path.
func closeMapping(m *mapping) error {
	if m == nil || m.closed {
		return nil
	}
	m.closed = true

	size := m.size
	err := m.release()
	if err != nil {
		logger.Warn("mapping release failed",
			zap.Uintptr("addr", m.addrValue()),
			zap.Uintptr("size", size),
			zap.Error(err))
	}

	if m.file != nil {
		if cerr := m.file.Close(); cerr != nil && err == nil {
			err = errors.WrapSyscall(cerr, "close")
		}
		m.file = nil
	}

	metrics.MappingsReleased.Inc()
	metrics.MappedBytes.Sub(float64(size))
	return err
}

// splitMapping validates the split offset and divides the reservation into
// two independently owned halves. The receiver keeps [0, at); the returned
// mapping owns [at, size).
func splitMapping(m *mapping, at int) (*mapping, error) {
	if err := guard(m); err != nil {
		return nil, err
	}

	pageSize := uintptr(SystemPageSize())
	offset := uintptr(at)
	if at <= 0 || offset >= m.size {
		return nil, errors.New(errors.ErrorTypeValidation, "split offset outside the interior of the mapping").
			WithDetail("offset", at).
			WithDetail("size", m.size)
	}
	if offset%pageSize != 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "split offset is not page-aligned").
			WithDetail("offset", at).
			WithDetail("page_size", pageSize)
	}

	high, err := m.split(offset)
	if err != nil {
		return nil, err
	}

	metrics.Splits.Inc()
	return high, nil
}

// MmapNone represents an inaccessible memory mapping.
type MmapNone struct {
	inner *mapping
}

// Mmap represents an immutable memory mapping.
type Mmap struct {
	inner *mapping
	exec  bool
}

// MmapMut represents a mutable memory mapping.
type MmapMut struct {
	inner *mapping
	exec  bool
}

// File yields the file backing this mapping, if this mapping is backed by a
// file.
func (m *MmapNone) File() *os.File { return fileOf(m.inner) }

// Addr yields the start address of this mapping.
func (m *MmapNone) Addr() uintptr { return addrOf(m.inner) }

// Size yields the size of this mapping in bytes.
func (m *MmapNone) Size() int { return sizeOf(m.inner) }

// Lock locks the physical pages in memory such that accessing the mapping
// causes no page faults.
func (m *MmapNone) Lock() error { return lockMapping(m.inner) }

// Unlock unlocks the physical pages, allowing the operating system to swap
// out the pages backing this mapping.
func (m *MmapNone) Unlock() error { return unlockMapping(m.inner) }

// Flush writes back the byte sub-range [lo, hi) of the mapping to the backing
// file and waits for the flush to complete, including a data-sync of the
// file. A backwards range is a no-op.
func (m *MmapNone) Flush(lo, hi int) error { return flushMapping(m.inner, lo, hi, true) }

// FlushAsync schedules a write-back of the byte sub-range [lo, hi) without
// waiting for it to complete.
func (m *MmapNone) FlushAsync(lo, hi int) error { return flushMapping(m.inner, lo, hi, false) }

// FlushICache flushes the instruction cache on architectures where this is
// required. Where the instruction and data caches are coherent this is a
// no-op.
func (m *MmapNone) FlushICache() error { return flushICacheMapping(m.inner) }

// Close releases the platform resource. It is safe to call more than once and
// on a consumed wrapper.
func (m *MmapNone) Close() error {
	err := closeMapping(m.inner)
	m.inner = nil
	return err
}

// MakeReadOnly remaps this memory mapping as immutable, consuming the
// receiver on success. On failure the receiver is still valid and unchanged.
func (m *MmapNone) MakeReadOnly() (*Mmap, error) {
	if err := transition(m.inner, protRead, "read_only"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &Mmap{inner: inner}, nil
}

// MakeMut remaps this memory mapping as mutable, consuming the receiver on
// success. On failure the receiver is still valid and unchanged.
func (m *MmapNone) MakeMut() (*MmapMut, error) {
	if err := transition(m.inner, protReadWrite, "read_write"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &MmapMut{inner: inner}, nil
}

// MakeExec remaps this memory mapping as executable and immutable, flushing
// the instruction cache before declaring success.
func (m *MmapNone) MakeExec() (*Mmap, error) {
	if err := transition(m.inner, protReadExec, "exec"); err != nil {
		return nil, err
	}
	if err := flushICacheMapping(m.inner); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &Mmap{inner: inner, exec: true}, nil
}

// MakeExecNoFlush remaps this memory mapping as executable without flushing
// the instruction cache. On architectures with incoherent instruction and
// data caches, subsequent execution may observe stale code.
func (m *MmapNone) MakeExecNoFlush() (*Mmap, error) {
	if err := transition(m.inner, protReadExec, "exec"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &Mmap{inner: inner, exec: true}, nil
}

// MakeExecMut remaps this memory mapping as executable and mutable. This
// fails with an unsafe-flag error unless UnsafeMmapFlagJIT was attested when
// the mapping was created.
func (m *MmapNone) MakeExecMut() (*MmapMut, error) {
	if err := transition(m.inner, protReadWriteExec, "exec_mut"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &MmapMut{inner: inner, exec: true}, nil
}

// SplitOff splits the mapping at the page-aligned offset at. The receiver
// keeps [0, at) and the returned mapping owns [at, size); each half is
// independently lockable, flushable and closable. A misaligned or
// out-of-bounds offset fails without altering the original.
func (m *MmapNone) SplitOff(at int) (*MmapNone, error) {
	high, err := splitMapping(m.inner, at)
	if err != nil {
		return nil, err
	}
	return &MmapNone{inner: high}, nil
}

// SplitTo splits the mapping at the page-aligned offset at, returning the low
// half [0, at) while the receiver keeps [at, size).
func (m *MmapNone) SplitTo(at int) (*MmapNone, error) {
	low, err := splitToMapping(&m.inner, at)
	if err != nil {
		return nil, err
	}
	return &MmapNone{inner: low}, nil
}

// File yields the file backing this mapping, if this mapping is backed by a
// file.
func (m *Mmap) File() *os.File { return fileOf(m.inner) }

// Addr yields the start address of this mapping.
func (m *Mmap) Addr() uintptr { return addrOf(m.inner) }

// Size yields the size of this mapping in bytes.
func (m *Mmap) Size() int { return sizeOf(m.inner) }

// AsSlice extracts a slice containing the entire mapping.
func (m *Mmap) AsSlice() []byte {
	if guard(m.inner) != nil {
		return nil
	}
	return m.inner.slice()
}

// Executable reports whether this mapping is currently executable.
func (m *Mmap) Executable() bool { return m.exec }

// Lock locks the physical pages in memory such that accessing the mapping
// causes no page faults.
func (m *Mmap) Lock() error { return lockMapping(m.inner) }

// Unlock unlocks the physical pages, allowing the operating system to swap
// out the pages backing this mapping.
func (m *Mmap) Unlock() error { return unlockMapping(m.inner) }

// Flush writes back the byte sub-range [lo, hi) of the mapping to the backing
// file and waits for the flush to complete, including a data-sync of the
// file. A backwards range is a no-op.
func (m *Mmap) Flush(lo, hi int) error { return flushMapping(m.inner, lo, hi, true) }

// FlushAsync schedules a write-back of the byte sub-range [lo, hi) without
// waiting for it to complete.
func (m *Mmap) FlushAsync(lo, hi int) error { return flushMapping(m.inner, lo, hi, false) }

// FlushICache flushes the instruction cache on architectures where this is
// required. Where the instruction and data caches are coherent this is a
// no-op.
func (m *Mmap) FlushICache() error { return flushICacheMapping(m.inner) }

// Close releases the platform resource. It is safe to call more than once and
// on a consumed wrapper.
func (m *Mmap) Close() error {
	err := closeMapping(m.inner)
	m.inner = nil
	return err
}

// MakeNone remaps this memory mapping as inaccessible, consuming the receiver
// on success. On failure the receiver is still valid and unchanged.
func (m *Mmap) MakeNone() (*MmapNone, error) {
	if err := transition(m.inner, protNone, "none"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &MmapNone{inner: inner}, nil
}

// MakeMut remaps this memory mapping as mutable, consuming the receiver on
// success. On failure the receiver is still valid and unchanged.
func (m *Mmap) MakeMut() (*MmapMut, error) {
	if err := transition(m.inner, protReadWrite, "read_write"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &MmapMut{inner: inner}, nil
}

// MakeExec remaps this memory mapping as executable, flushing the instruction
// cache before declaring success.
func (m *Mmap) MakeExec() (*Mmap, error) {
	if err := transition(m.inner, protReadExec, "exec"); err != nil {
		return nil, err
	}
	if err := flushICacheMapping(m.inner); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &Mmap{inner: inner, exec: true}, nil
}

// MakeExecNoFlush remaps this memory mapping as executable without flushing
// the instruction cache. On architectures with incoherent instruction and
// data caches, subsequent execution may observe stale code.
func (m *Mmap) MakeExecNoFlush() (*Mmap, error) {
	if err := transition(m.inner, protReadExec, "exec"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &Mmap{inner: inner, exec: true}, nil
}

// MakeExecMut remaps this memory mapping as executable and mutable. This
// fails with an unsafe-flag error unless UnsafeMmapFlagJIT was attested when
// the mapping was created.
func (m *Mmap) MakeExecMut() (*MmapMut, error) {
	if err := transition(m.inner, protReadWriteExec, "exec_mut"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &MmapMut{inner: inner, exec: true}, nil
}

// SplitOff splits the mapping at the page-aligned offset at. The receiver
// keeps [0, at) and the returned mapping owns [at, size).
func (m *Mmap) SplitOff(at int) (*Mmap, error) {
	high, err := splitMapping(m.inner, at)
	if err != nil {
		return nil, err
	}
	return &Mmap{inner: high, exec: m.exec}, nil
}

// SplitTo splits the mapping at the page-aligned offset at, returning the low
// half [0, at) while the receiver keeps [at, size).
func (m *Mmap) SplitTo(at int) (*Mmap, error) {
	low, err := splitToMapping(&m.inner, at)
	if err != nil {
		return nil, err
	}
	return &Mmap{inner: low, exec: m.exec}, nil
}

// File yields the file backing this mapping, if this mapping is backed by a
// file.
func (m *MmapMut) File() *os.File { return fileOf(m.inner) }

// Addr yields the start address of this mapping.
func (m *MmapMut) Addr() uintptr { return addrOf(m.inner) }

// Size yields the size of this mapping in bytes.
func (m *MmapMut) Size() int { return sizeOf(m.inner) }

// AsSlice extracts a slice containing the entire mapping.
func (m *MmapMut) AsSlice() []byte {
	if guard(m.inner) != nil {
		return nil
	}
	return m.inner.slice()
}

// AsMutSlice extracts a mutable slice containing the entire mapping.
func (m *MmapMut) AsMutSlice() []byte {
	if guard(m.inner) != nil {
		return nil
	}
	return m.inner.slice()
}

// AsMutPtr yields the start address of this mapping for writing.
func (m *MmapMut) AsMutPtr() uintptr { return addrOf(m.inner) }

// Executable reports whether this mapping is currently executable.
func (m *MmapMut) Executable() bool { return m.exec }

// Lock locks the physical pages in memory such that accessing the mapping
// causes no page faults.
func (m *MmapMut) Lock() error { return lockMapping(m.inner) }

// Unlock unlocks the physical pages, allowing the operating system to swap
// out the pages backing this mapping.
func (m *MmapMut) Unlock() error { return unlockMapping(m.inner) }

// Flush writes back the byte sub-range [lo, hi) of the mapping to the backing
// file and waits for the flush to complete, including a data-sync of the
// file. A backwards range is a no-op.
func (m *MmapMut) Flush(lo, hi int) error { return flushMapping(m.inner, lo, hi, true) }

// FlushAsync schedules a write-back of the byte sub-range [lo, hi) without
// waiting for it to complete.
func (m *MmapMut) FlushAsync(lo, hi int) error { return flushMapping(m.inner, lo, hi, false) }

// FlushICache flushes the instruction cache on architectures where this is
// required. Where the instruction and data caches are coherent this is a
// no-op.
func (m *MmapMut) FlushICache() error { return flushICacheMapping(m.inner) }

// Close releases the platform resource. It is safe to call more than once and
// on a consumed wrapper.
func (m *MmapMut) Close() error {
	err := closeMapping(m.inner)
	m.inner = nil
	return err
}

// MakeNone remaps this memory mapping as inaccessible, consuming the receiver
// on success. On failure the receiver is still valid and unchanged.
func (m *MmapMut) MakeNone() (*MmapNone, error) {
	if err := transition(m.inner, protNone, "none"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &MmapNone{inner: inner}, nil
}

// MakeReadOnly remaps this memory mapping as immutable, consuming the
// receiver on success. On failure the receiver is still valid and unchanged.
func (m *MmapMut) MakeReadOnly() (*Mmap, error) {
	if err := transition(m.inner, protRead, "read_only"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &Mmap{inner: inner}, nil
}

// MakeExec remaps this memory mapping as executable and immutable, flushing
// the instruction cache before declaring success.
func (m *MmapMut) MakeExec() (*Mmap, error) {
	if err := transition(m.inner, protReadExec, "exec"); err != nil {
		return nil, err
	}
	if err := flushICacheMapping(m.inner); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &Mmap{inner: inner, exec: true}, nil
}

// MakeExecNoFlush remaps this memory mapping as executable without flushing
// the instruction cache. On architectures with incoherent instruction and
// data caches, subsequent execution may observe stale code.
func (m *MmapMut) MakeExecNoFlush() (*Mmap, error) {
	if err := transition(m.inner, protReadExec, "exec"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &Mmap{inner: inner, exec: true}, nil
}

// MakeExecMut remaps this memory mapping as executable and mutable. This
// fails with an unsafe-flag error unless UnsafeMmapFlagJIT was attested when
// the mapping was created.
func (m *MmapMut) MakeExecMut() (*MmapMut, error) {
	if err := transition(m.inner, protReadWriteExec, "exec_mut"); err != nil {
		return nil, err
	}
	inner := m.inner
	m.inner = nil
	return &MmapMut{inner: inner, exec: true}, nil
}

// SplitOff splits the mapping at the page-aligned offset at. The receiver
// keeps [0, at) and the returned mapping owns [at, size).
func (m *MmapMut) SplitOff(at int) (*MmapMut, error) {
	high, err := splitMapping(m.inner, at)
	if err != nil {
		return nil, err
	}
	return &MmapMut{inner: high, exec: m.exec}, nil
}

// SplitTo splits the mapping at the page-aligned offset at, returning the low
// half [0, at) while the receiver keeps [at, size).
func (m *MmapMut) SplitTo(at int) (*MmapMut, error) {
	low, err := splitToMapping(&m.inner, at)
	if err != nil {
		return nil, err
	}
	return &MmapMut{inner: low, exec: m.exec}, nil
}

func fileOf(m *mapping) *os.File {
	if guard(m) != nil {
		return nil
	}
	return m.file
}

func addrOf(m *mapping) uintptr {
	if guard(m) != nil {
		return 0
	}
	return m.addrValue()
}

func sizeOf(m *mapping) int {
	if guard(m) != nil {
		return 0
	}
	return int(m.size)
}

// splitToMapping is SplitOff with the halves swapped: the receiver's inner is
// replaced by the high half and the low half is returned.
func splitToMapping(inner **mapping, at int) (*mapping, error) {
	high, err := splitMapping(*inner, at)
	if err != nil {
		return nil, err
	}
	low := *inner
	*inner = high
	return low, nil
}
