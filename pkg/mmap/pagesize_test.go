package mmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageSize_Bytes(t *testing.T) {
	assert.Equal(t, uintptr(4<<10), PageSize4K.Bytes())
	assert.Equal(t, uintptr(64<<10), PageSize64K.Bytes())
	assert.Equal(t, uintptr(2<<20), PageSize2M.Bytes())
	assert.Equal(t, uintptr(1<<30), PageSize1G.Bytes())
}

func TestSystemPageSize(t *testing.T) {
	size := SystemPageSize()
	require.Positive(t, size)
	// Page sizes are always powers of two.
	assert.Zero(t, size&(size-1))

	granularity := AllocationGranularity()
	require.Positive(t, granularity)
	assert.Zero(t, granularity%size)
}

func TestSupportedPageSizes(t *testing.T) {
	sizes, err := SupportedPageSizes()
	require.NoError(t, err)
	require.NotEmpty(t, sizes)

	base := uintptr(SystemPageSize())
	assert.Equal(t, base, sizes[0].Bytes())
	for i := 1; i < len(sizes); i++ {
		assert.Greater(t, sizes[i].Bytes(), sizes[i-1].Bytes())
	}
}

func TestLog2(t *testing.T) {
	assert.Equal(t, PageSize(12), log2(4096))
	assert.Equal(t, PageSize(21), log2(2<<20))
}
