package mmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMmapFlags_Has(t *testing.T) {
	flags := MmapFlagPopulate | MmapFlagLocked
	assert.True(t, flags.Has(MmapFlagPopulate))
	assert.True(t, flags.Has(MmapFlagLocked))
	assert.False(t, flags.Has(MmapFlagStack))
	assert.False(t, flags.Has(MmapFlagPopulate|MmapFlagStack))
}

func TestMmapFlags_String(t *testing.T) {
	assert.Equal(t, "NONE", MmapFlags(0).String())
	assert.Equal(t, "COPY_ON_WRITE", MmapFlagCopyOnWrite.String())
	assert.Equal(t, "POPULATE|LOCKED", (MmapFlagPopulate | MmapFlagLocked).String())
}

func TestUnsafeMmapFlags_String(t *testing.T) {
	assert.Equal(t, "NONE", UnsafeMmapFlags(0).String())
	assert.Equal(t, "MAP_FIXED", UnsafeMmapFlagMapFixed.String())
	assert.Equal(t, "MAP_FIXED|JIT", (UnsafeMmapFlagMapFixed | UnsafeMmapFlagJIT).String())
}
