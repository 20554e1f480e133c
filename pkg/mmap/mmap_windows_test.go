package mmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/vmap/pkg/mmap"
)

func TestAddressHint_FallsBackWhenOccupied(t *testing.T) {
	size := mmap.SystemPageSize()

	// Occupy an address, then hint at that same address. VirtualAlloc
	// addresses are aligned to the allocation granularity, so the hint
	// passes builder validation.
	holder, err := mmap.NewOptions(size).MapMut()
	require.NoError(t, err)
	defer holder.Close()

	m, err := mmap.NewOptions(size).WithAddress(holder.Addr()).MapMut()
	require.NoError(t, err, "an advisory hint at an occupied address must not fail the allocation")
	defer m.Close()

	assert.NotZero(t, m.Addr())
	assert.NotEqual(t, holder.Addr(), m.Addr())

	m.AsMutSlice()[0] = 0x42
	assert.Equal(t, byte(0x42), m.AsSlice()[0])
}
