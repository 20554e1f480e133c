package areas

import (
	"golang.org/x/sys/unix"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// vmmapCursor walks the raw byte blob the kern.proc.vmmap sysctl returns for
// the target process: a packed sequence of variable-length kinfo_vmentry
// records, fetched eagerly in one call and decoded lazily.
type vmmapCursor struct {
	buf  []byte
	dead bool
}

func openCursor(pid int) (cursor, error) {
	if pid == 0 {
		pid = unix.Getpid()
	}

	buf, err := unix.SysctlRaw("kern.proc.vmmap", pid)
	if err != nil {
		return nil, errors.WrapSyscall(err, "sysctl").WithDetail("pid", pid)
	}

	return &vmmapCursor{buf: buf}, nil
}

func (c *vmmapCursor) next() (*MemoryArea, error) {
	if c.dead || len(c.buf) == 0 {
		return nil, nil
	}

	area, consumed, err := decodeVMEntry(c.buf)
	if err != nil {
		// A record with a bad declared length leaves no way to find the next
		// one; the walk ends after surfacing the error.
		c.dead = true
		return nil, err
	}

	c.buf = c.buf[consumed:]
	return area, nil
}

func (c *vmmapCursor) close() error {
	c.buf = nil
	c.dead = true
	return nil
}
