//go:build linux || darwin || freebsd

package mmap_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/vmap/pkg/errors"
	"github.com/ajitpratap0/vmap/pkg/mmap"
)

func pageSize() int { return mmap.SystemPageSize() }

func TestMapMut_ReadWrite(t *testing.T) {
	for _, pages := range []int{1, 2, 8} {
		size := pages * pageSize()
		t.Run(fmt.Sprintf("%d_pages", pages), func(t *testing.T) {
			m, err := mmap.NewOptions(size).MapMut()
			require.NoError(t, err)
			defer m.Close()

			assert.NotZero(t, m.Addr())
			assert.Equal(t, size, m.Size())

			buf := m.AsMutSlice()
			require.Len(t, buf, size)
			for i := range buf {
				buf[i] = byte(i % 251)
			}
			for i, b := range m.AsSlice() {
				require.Equal(t, byte(i%251), b, "offset %d", i)
			}
		})
	}
}

func TestMapNone(t *testing.T) {
	m, err := mmap.NewOptions(pageSize()).MapNone()
	require.NoError(t, err)
	defer m.Close()

	assert.NotZero(t, m.Addr())
	assert.Equal(t, pageSize(), m.Size())

	// An inaccessible reservation becomes usable by transitioning.
	mut, err := m.MakeMut()
	require.NoError(t, err)
	defer mut.Close()

	mut.AsMutSlice()[0] = 0xaa
	assert.Equal(t, byte(0xaa), mut.AsSlice()[0])
}

func TestOptions_Validation(t *testing.T) {
	t.Run("zero size", func(t *testing.T) {
		_, err := mmap.NewOptions(0).MapMut()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("misaligned size", func(t *testing.T) {
		_, err := mmap.NewOptions(pageSize() + 1).MapMut()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("misaligned address hint", func(t *testing.T) {
		opts := mmap.NewOptions(pageSize()).WithAddress(0x1001)
		_, err := opts.MapMut()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("builder is single use", func(t *testing.T) {
		opts := mmap.NewOptions(pageSize())
		m, err := opts.MapMut()
		require.NoError(t, err)
		defer m.Close()

		_, err = opts.MapMut()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestWithPageSize_SystemPageSize(t *testing.T) {
	// An explicitly requested page size that the platform reports as offered
	// must be honored; the smallest such size is the system page size itself.
	size := pageSize()
	var ps mmap.PageSize
	for n := size; n > 1; n >>= 1 {
		ps++
	}

	sizes, err := mmap.SupportedPageSizes()
	require.NoError(t, err)
	require.Equal(t, ps, sizes[0])

	m, err := mmap.NewOptions(size).WithPageSize(ps).MapMut()
	require.NoError(t, err, "mapping with the offered system page size failed")
	defer m.Close()

	m.AsMutSlice()[0] = 0x7e
	assert.Equal(t, byte(0x7e), m.AsSlice()[0])
}

func TestTransitions_PreserveContents(t *testing.T) {
	m, err := mmap.NewOptions(pageSize()).MapMut()
	require.NoError(t, err)

	copy(m.AsMutSlice(), "transition payload")

	ro, err := m.MakeReadOnly()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(ro.AsSlice(), []byte("transition payload")))

	// The consumed wrapper is dead.
	assert.Nil(t, m.AsSlice())
	assert.Zero(t, m.Addr())
	_, err = m.MakeReadOnly()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	none, err := ro.MakeNone()
	require.NoError(t, err)

	mut, err := none.MakeMut()
	require.NoError(t, err)
	defer mut.Close()

	// Contents survive the full round trip and the pages are writable again.
	assert.True(t, bytes.HasPrefix(mut.AsSlice(), []byte("transition payload")))
	mut.AsMutSlice()[0] = 'T'
	assert.Equal(t, byte('T'), mut.AsSlice()[0])
}

func TestMakeExecMut_RequiresAttestation(t *testing.T) {
	m, err := mmap.NewOptions(pageSize()).MapMut()
	require.NoError(t, err)
	defer m.Close()

	_, err = m.MakeExecMut()
	require.Error(t, err)
	assert.True(t, errors.IsUnsafeFlagNeeded(err, mmap.FlagNameJIT))

	// The failed transition left the mapping usable.
	m.AsMutSlice()[0] = 0x42
	assert.Equal(t, byte(0x42), m.AsSlice()[0])
}

func TestMapExecMut_RequiresAttestation(t *testing.T) {
	_, err := mmap.NewOptions(pageSize()).MapExecMut()
	require.Error(t, err)
	assert.True(t, errors.IsUnsafeFlagNeeded(err, mmap.FlagNameJIT))
}

func TestMakeExec(t *testing.T) {
	m, err := mmap.NewOptions(pageSize()).MapMut()
	require.NoError(t, err)

	exec, err := m.MakeExec()
	require.NoError(t, err)
	defer exec.Close()

	assert.True(t, exec.Executable())
	assert.False(t, m.Executable())
}

func TestSplitOff(t *testing.T) {
	size := 4 * pageSize()
	m, err := mmap.NewOptions(size).MapMut()
	require.NoError(t, err)

	for i, buf := 0, m.AsMutSlice(); i < size; i++ {
		buf[i] = byte(i / pageSize())
	}

	high, err := m.SplitOff(2 * pageSize())
	require.NoError(t, err)

	assert.Equal(t, 2*pageSize(), m.Size())
	assert.Equal(t, 2*pageSize(), high.Size())
	assert.Equal(t, m.Addr()+uintptr(m.Size()), high.Addr())

	// Each half holds its original contents and is independently writable.
	assert.Equal(t, byte(0), m.AsSlice()[0])
	assert.Equal(t, byte(2), high.AsSlice()[0])

	m.AsMutSlice()[0] = 0x11
	high.AsMutSlice()[0] = 0x22
	assert.Equal(t, byte(0x11), m.AsSlice()[0])
	assert.Equal(t, byte(0x22), high.AsSlice()[0])

	// Halves release independently; the survivor stays accessible.
	require.NoError(t, high.Close())
	assert.Equal(t, byte(0x11), m.AsSlice()[0])
	require.NoError(t, m.Close())
}

func TestSplitOff_InvalidOffset(t *testing.T) {
	m, err := mmap.NewOptions(4 * pageSize()).MapMut()
	require.NoError(t, err)
	defer m.Close()

	for _, at := range []int{0, -1, pageSize() + 1, 4 * pageSize(), 5 * pageSize()} {
		_, err := m.SplitOff(at)
		require.Error(t, err, "offset %d", at)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), "offset %d", at)
	}

	// Failed splits leave the mapping intact.
	assert.Equal(t, 4*pageSize(), m.Size())
	m.AsMutSlice()[0] = 0x33
	assert.Equal(t, byte(0x33), m.AsSlice()[0])
}

func TestSplitTo(t *testing.T) {
	m, err := mmap.NewOptions(4 * pageSize()).MapMut()
	require.NoError(t, err)

	origAddr := m.Addr()
	low, err := m.SplitTo(pageSize())
	require.NoError(t, err)
	defer low.Close()
	defer m.Close()

	assert.Equal(t, origAddr, low.Addr())
	assert.Equal(t, pageSize(), low.Size())
	assert.Equal(t, origAddr+uintptr(pageSize()), m.Addr())
	assert.Equal(t, 3*pageSize(), m.Size())
}

func TestLockUnlock(t *testing.T) {
	m, err := mmap.NewOptions(pageSize()).MapMut()
	require.NoError(t, err)
	defer m.Close()

	if err := m.Lock(); err != nil {
		t.Skipf("cannot lock pages in this environment: %v", err)
	}
	require.NoError(t, m.Unlock())
}

func TestFileBacked(t *testing.T) {
	size := 2 * pageSize()
	path := filepath.Join(t.TempDir(), "backing")

	content := bytes.Repeat([]byte{0x5a}, size)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Run("read only view", func(t *testing.T) {
		f, err := os.Open(path)
		require.NoError(t, err)

		m, err := mmap.NewOptions(size).WithFile(f, 0).Map()
		require.NoError(t, err)
		defer m.Close()

		assert.Equal(t, f, m.File())
		assert.Equal(t, content, m.AsSlice())
	})

	t.Run("flush writes through", func(t *testing.T) {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		require.NoError(t, err)

		m, err := mmap.NewOptions(size).WithFile(f, 0).MapMut()
		require.NoError(t, err)
		defer m.Close()

		copy(m.AsMutSlice(), "written through the mapping")
		require.NoError(t, m.Flush(0, m.Size()))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(got, []byte("written through the mapping")))
	})

	t.Run("copy on write does not reach the file", func(t *testing.T) {
		f, err := os.Open(path)
		require.NoError(t, err)

		m, err := mmap.NewOptions(size).
			WithFile(f, 0).
			WithFlags(mmap.MmapFlagCopyOnWrite).
			MapMut()
		require.NoError(t, err)
		defer m.Close()

		before, err := os.ReadFile(path)
		require.NoError(t, err)

		m.AsMutSlice()[0] ^= 0xff

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestFileBacked_Offset(t *testing.T) {
	size := pageSize()
	path := filepath.Join(t.TempDir(), "backing")

	content := make([]byte, 2*size)
	for i := range content {
		content[i] = byte(i / size)
	}
	require.NoError(t, os.WriteFile(path, content, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)

	m, err := mmap.NewOptions(size).WithFile(f, uint64(size)).Map()
	require.NoError(t, err)
	defer m.Close()

	// The view starts at the second page of the file.
	assert.Equal(t, byte(1), m.AsSlice()[0])
}

func TestFlush_RangeHandling(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "backing"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(int64(pageSize())))

	m, err := mmap.NewOptions(pageSize()).WithFile(f, 0).MapMut()
	require.NoError(t, err)
	defer m.Close()

	// Backwards and empty ranges are no-ops.
	require.NoError(t, m.Flush(10, 10))
	require.NoError(t, m.Flush(20, 10))
	require.NoError(t, m.FlushAsync(0, m.Size()))

	err = m.Flush(0, m.Size()+1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = m.Flush(-1, 10)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestClose_Idempotent(t *testing.T) {
	m, err := mmap.NewOptions(pageSize()).MapMut()
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	// Operations on a closed wrapper fail fast.
	require.Error(t, m.Lock())
	assert.Nil(t, m.AsSlice())
}

func TestAddressHint(t *testing.T) {
	// Probe for a viable address by mapping and releasing, then ask for the
	// same placement. Without MAP_FIXED the hint may legally be ignored, so
	// only the success of the call is asserted.
	probe, err := mmap.NewOptions(pageSize()).MapNone()
	require.NoError(t, err)
	hint := probe.Addr()
	require.NoError(t, probe.Close())

	m, err := mmap.NewOptions(pageSize()).WithAddress(hint).MapMut()
	require.NoError(t, err)
	defer m.Close()
	assert.NotZero(t, m.Addr())
}
