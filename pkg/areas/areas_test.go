package areas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/vmap/pkg/errors"
)

// sliceCursor replays a fixed sequence of areas and errors.
type sliceCursor struct {
	items  []*MemoryArea
	errs   []error
	pos    int
	closed bool
}

func (c *sliceCursor) next() (*MemoryArea, error) {
	if c.pos < len(c.errs) && c.errs[c.pos] != nil {
		err := c.errs[c.pos]
		c.pos++
		return nil, err
	}
	if c.pos >= len(c.items) {
		return nil, nil
	}
	area := c.items[c.pos]
	c.pos++
	return area, nil
}

func (c *sliceCursor) close() error {
	c.closed = true
	return nil
}

func area(start, end uintptr) *MemoryArea {
	return &MemoryArea{start: start, end: end, protection: ProtectionRead}
}

func collect(t *testing.T, ma *MemoryAreas) []*MemoryArea {
	t.Helper()
	var out []*MemoryArea
	for {
		a, err := ma.Next()
		require.NoError(t, err)
		if a == nil {
			return out
		}
		out = append(out, a)
	}
}

func TestMemoryAreas_Next(t *testing.T) {
	ma := &MemoryAreas{cur: &sliceCursor{
		items: []*MemoryArea{area(0x1000, 0x2000), area(0x3000, 0x4000)},
	}}

	got := collect(t, ma)
	require.Len(t, got, 2)
	assert.Equal(t, uintptr(0x1000), got[0].Start())
	assert.Equal(t, uintptr(0x3000), got[1].Start())

	// Exhausted sequences yield nothing forever after.
	a, err := ma.Next()
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestMemoryAreas_DecodeErrorDoesNotEndWalk(t *testing.T) {
	bad := errors.New(errors.ErrorTypeDecode, "bad record")
	ma := &MemoryAreas{cur: &sliceCursor{
		items: []*MemoryArea{nil, area(0x1000, 0x2000)},
		errs:  []error{bad, nil},
	}}

	_, err := ma.Next()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))

	// Polling again continues past the bad record.
	a, err := ma.Next()
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, uintptr(0x1000), a.Start())
}

func TestMemoryAreas_RangeFilter(t *testing.T) {
	newMA := func() *MemoryAreas {
		return &MemoryAreas{cur: &sliceCursor{items: []*MemoryArea{
			area(0x1000, 0x2000),
			area(0x3000, 0x4000),
			area(0x5000, 0x6000),
		}}}
	}

	t.Run("reports true extents, not clipped", func(t *testing.T) {
		ma := newMA()
		ma.filtered, ma.lo, ma.hi = true, 0x3800, 0x3900

		got := collect(t, ma)
		require.Len(t, got, 1)
		assert.Equal(t, uintptr(0x3000), got[0].Start())
		assert.Equal(t, uintptr(0x4000), got[0].End())
	})

	t.Run("excludes regions outside the range", func(t *testing.T) {
		ma := newMA()
		ma.filtered, ma.lo, ma.hi = true, 0x2000, 0x5000

		got := collect(t, ma)
		require.Len(t, got, 1)
		assert.Equal(t, uintptr(0x3000), got[0].Start())
	})

	t.Run("boundary overlap counts", func(t *testing.T) {
		ma := newMA()
		ma.filtered, ma.lo, ma.hi = true, 0x1fff, 0x3001

		got := collect(t, ma)
		require.Len(t, got, 2)
	})

	t.Run("stops early once past the range", func(t *testing.T) {
		cur := &sliceCursor{items: []*MemoryArea{
			area(0x1000, 0x2000),
			area(0x5000, 0x6000),
			area(0x7000, 0x8000),
		}}
		ma := &MemoryAreas{cur: cur}
		ma.filtered, ma.lo, ma.hi = true, 0x1000, 0x3000

		got := collect(t, ma)
		require.Len(t, got, 1)
		// The cursor stopped at the first region past the range.
		assert.Equal(t, 2, cur.pos)
	})
}

func TestMemoryAreas_Close(t *testing.T) {
	cur := &sliceCursor{items: []*MemoryArea{area(0x1000, 0x2000)}}
	ma := &MemoryAreas{cur: cur}

	require.NoError(t, ma.Close())
	assert.True(t, cur.closed)

	// Close is idempotent and leaves the sequence exhausted.
	require.NoError(t, ma.Close())
	a, err := ma.Next()
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestMemoryArea_ContainsOverlaps(t *testing.T) {
	a := area(0x1000, 0x2000)

	assert.True(t, a.Contains(0x1000))
	assert.True(t, a.Contains(0x1fff))
	assert.False(t, a.Contains(0x2000))
	assert.False(t, a.Contains(0xfff))

	assert.True(t, a.Overlaps(0x1fff, 0x3000))
	assert.True(t, a.Overlaps(0, 0x1001))
	assert.False(t, a.Overlaps(0x2000, 0x3000))
	assert.False(t, a.Overlaps(0, 0x1000))

	assert.Equal(t, uintptr(0x1000), a.Size())
	start, end := a.Range()
	assert.Equal(t, a.Start(), start)
	assert.Equal(t, a.End(), end)
}

func TestProtection_String(t *testing.T) {
	assert.Equal(t, "NONE", Protection(0).String())
	assert.Equal(t, "READ", ProtectionRead.String())
	assert.Equal(t, "READ|WRITE", (ProtectionRead | ProtectionWrite).String())
	assert.Equal(t, "READ|WRITE|EXECUTE", (ProtectionRead | ProtectionWrite | ProtectionExecute).String())
}

func TestShareMode_String(t *testing.T) {
	assert.Equal(t, "private", SharePrivate.String())
	assert.Equal(t, "copy_on_write", ShareCopyOnWrite.String())
	assert.Equal(t, "shared", ShareShared.String())
}
