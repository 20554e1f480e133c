package mmap

import (
	"os"

	"go.uber.org/zap"

	"github.com/ajitpratap0/vmap/pkg/errors"
	"github.com/ajitpratap0/vmap/pkg/logger"
	"github.com/ajitpratap0/vmap/pkg/metrics"
)

// Options accumulates the configuration for a memory mapping and produces the
// mapping through exactly one terminal call (MapNone, Map, MapExec, MapMut or
// MapExecMut). A terminal call consumes the builder; reusing a consumed
// builder fails with a validation error.
type Options struct {
	size        uintptr
	address     uintptr
	file        *os.File
	offset      uint64
	flags       MmapFlags
	unsafeFlags UnsafeMmapFlags
	pageSize    PageSize
	hasPageSize bool
	consumed    bool
}

// NewOptions constructs the builder. The size specified is the size of the
// mapping to be allocated in bytes, and must be aligned to the page size (or
// the page size requested through WithPageSize) for the terminal call to
// succeed.
func NewOptions(size int) *Options {
	return &Options{size: uintptr(size)}
}

// WithAddress sets the desired address at which the memory should be mapped.
// Without UnsafeMmapFlagMapFixed the address is a placement hint; with it, the
// mapping is placed at exactly this address or the terminal call fails.
func (o *Options) WithAddress(address uintptr) *Options {
	o.address = address
	return o
}

// WithFile makes the mapping file-backed, starting at the given byte offset
// within the file.
//
// Note that even when a file is mapped as immutable in the address space of
// the current process, this gives no guarantee that there does not exist any
// other mutable mapping of the same file, in this process or another.
func (o *Options) WithFile(file *os.File, offset uint64) *Options {
	o.file = file
	o.offset = offset
	return o
}

// WithFlags sets the desired configuration of the mapping. See MmapFlags for
// the available options.
func (o *Options) WithFlags(flags MmapFlags) *Options {
	o.flags |= flags
	return o
}

// WithUnsafeFlags attests the given unsafe flags. The flags that can be
// passed here gate operations with memory-unsafe failure modes; setting one
// is an explicit statement that the caller accepts those semantics.
func (o *Options) WithUnsafeFlags(flags UnsafeMmapFlags) *Options {
	o.unsafeFlags |= flags
	return o
}

// WithPageSize requests that the mapping be backed by pages of the given
// size. The requested size must be one the platform actually offers.
func (o *Options) WithPageSize(pageSize PageSize) *Options {
	o.pageSize = pageSize
	o.hasPageSize = true
	return o
}

// consume validates the builder state shared by every terminal call and marks
// the builder as used up.
func (o *Options) consume() error {
	if o.consumed {
		return errors.New(errors.ErrorTypeValidation, "options already consumed by a terminal call")
	}
	o.consumed = true

	if o.size == 0 {
		return errors.New(errors.ErrorTypeValidation, "mapping size must not be zero")
	}

	pageSize := uintptr(SystemPageSize())
	if o.hasPageSize {
		if o.pageSize.Bytes() < pageSize {
			return errors.New(errors.ErrorTypeValidation, "requested page size is smaller than the system page size").
				WithDetail("page_size", o.pageSize.Bytes())
		}
		pageSize = o.pageSize.Bytes()
	}

	if o.size%pageSize != 0 {
		return errors.New(errors.ErrorTypeValidation, "mapping size is not a multiple of the page size").
			WithDetail("size", o.size).
			WithDetail("page_size", pageSize)
	}

	if o.address != 0 {
		granularity := uintptr(AllocationGranularity())
		if granularity < pageSize {
			granularity = pageSize
		}
		if o.address%granularity != 0 {
			return errors.New(errors.ErrorTypeValidation, "mapping address is not aligned to the allocation granularity").
				WithDetail("address", o.address).
				WithDetail("granularity", granularity)
		}
	}

	return nil
}

// MapNone maps the memory as inaccessible.
func (o *Options) MapNone() (*MmapNone, error) {
	m, err := o.terminal(protNone, "none")
	if err != nil {
		return nil, err
	}
	return &MmapNone{inner: m}, nil
}

// Map maps the memory as immutable.
func (o *Options) Map() (*Mmap, error) {
	m, err := o.terminal(protRead, "read_only")
	if err != nil {
		return nil, err
	}
	return &Mmap{inner: m}, nil
}

// MapExec maps the memory as executable and immutable.
func (o *Options) MapExec() (*Mmap, error) {
	m, err := o.terminal(protReadExec, "exec")
	if err != nil {
		return nil, err
	}
	return &Mmap{inner: m, exec: true}, nil
}

// MapMut maps the memory as mutable.
func (o *Options) MapMut() (*MmapMut, error) {
	m, err := o.terminal(protReadWrite, "read_write")
	if err != nil {
		return nil, err
	}
	return &MmapMut{inner: m}, nil
}

// MapExecMut maps the memory as executable and mutable. This fails unless
// UnsafeMmapFlagJIT has been attested through WithUnsafeFlags: RWX mappings
// simplify attacks that would otherwise need ROP gadgets, so producing one is
// gated rather than a default. Prefer converting between mutable and
// executable states with MakeMut and MakeExec.
func (o *Options) MapExecMut() (*MmapMut, error) {
	if !o.unsafeFlags.Has(UnsafeMmapFlagJIT) {
		return nil, errors.NewUnsafeFlagNeeded(FlagNameJIT)
	}
	m, err := o.terminal(protReadWriteExec, "exec_mut")
	if err != nil {
		return nil, err
	}
	return &MmapMut{inner: m, exec: true}, nil
}

// terminal performs the one allocation sequence for the requested initial
// protection.
func (o *Options) terminal(prot protState, state string) (*mapping, error) {
	if err := o.consume(); err != nil {
		return nil, err
	}

	m, err := allocate(o, prot)
	if err != nil {
		return nil, err
	}

	metrics.MappingsCreated.WithLabelValues(state).Inc()
	metrics.MappedBytes.Add(float64(m.size))
	logger.Debug("mapping allocated",
		zap.Uintptr("addr", m.addrValue()),
		zap.Uintptr("size", m.size),
		zap.String("state", state),
		zap.Bool("file_backed", m.file != nil))

	return m, nil
}
