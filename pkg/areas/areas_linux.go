package areas

import (
	"bufio"
	"fmt"
	"os"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// mapsCursor walks /proc/<pid>/maps line by line. A line that fails to
// decode is surfaced as a per-record error; the walk continues with the next
// line.
type mapsCursor struct {
	file    *os.File
	scanner *bufio.Scanner
}

func openCursor(pid int) (cursor, error) {
	path := "/proc/self/maps"
	if pid > 0 {
		path = fmt.Sprintf("/proc/%d/maps", pid)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapSyscall(err, "open").WithDetail("path", path)
	}

	return &mapsCursor{
		file:    file,
		scanner: bufio.NewScanner(file),
	}, nil
}

func (c *mapsCursor) next() (*MemoryArea, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return nil, errors.WrapSyscall(err, "read")
		}
		return nil, nil
	}
	return parseMapsLine(c.scanner.Text())
}

func (c *mapsCursor) close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
