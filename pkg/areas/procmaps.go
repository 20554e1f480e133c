package areas

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// parseMapsLine decodes one line of the textual maps format:
//
//	start-end perms offset dev inode [path]
//
// with start, end and offset in hex and perms a four-character rwxp/rwxs
// field. Pseudo entries such as [heap] and [stack] carry no backing file;
// only absolute paths are reported as file backing.
func parseMapsLine(line string) (*MemoryArea, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, errors.New(errors.ErrorTypeDecode, "maps line has too few fields").
			WithDetail("line", line)
	}

	addrs := strings.SplitN(fields[0], "-", 2)
	if len(addrs) != 2 {
		return nil, errors.New(errors.ErrorTypeDecode, "maps line has a malformed address range").
			WithDetail("range", fields[0])
	}

	start, err := strconv.ParseUint(addrs[0], 16, 64)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "maps line has a malformed start address")
	}
	end, err := strconv.ParseUint(addrs[1], 16, 64)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "maps line has a malformed end address")
	}

	perms := fields[1]
	if len(perms) != 4 {
		return nil, errors.New(errors.ErrorTypeDecode, "maps line has a malformed permission field").
			WithDetail("perms", perms)
	}

	var protection Protection
	if perms[0] == 'r' {
		protection |= ProtectionRead
	}
	if perms[1] == 'w' {
		protection |= ProtectionWrite
	}
	if perms[2] == 'x' {
		protection |= ProtectionExecute
	}

	shareMode := SharePrivate
	if perms[3] == 's' {
		shareMode = ShareShared
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDecode, "maps line has a malformed file offset")
	}

	area := &MemoryArea{
		start:      uintptr(start),
		end:        uintptr(end),
		protection: protection,
		shareMode:  shareMode,
	}

	if len(fields) >= 6 && strings.HasPrefix(fields[5], "/") {
		// The path is the remainder of the line, which may itself contain
		// spaces. The earlier fields never contain a slash, so the first one
		// starts the path.
		idx := strings.IndexByte(line, '/')
		area.path = strings.TrimRight(line[idx:], "\n")
		area.fileOffset = offset
	}

	return area, nil
}
