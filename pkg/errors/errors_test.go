package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := New(ErrorTypeValidation, "size must not be zero")
		assert.Equal(t, "validation: size must not be zero", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		err := Wrap(io.ErrUnexpectedEOF, ErrorTypeDecode, "truncated record")
		assert.Equal(t, "decode: truncated record: unexpected EOF", err.Error())
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil cause returns nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrorTypeIO, "should vanish"))
	})

	t.Run("unwraps to cause", func(t *testing.T) {
		err := Wrap(io.ErrClosedPipe, ErrorTypeIO, "flush failed")
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	})

	t.Run("preserves inner stack", func(t *testing.T) {
		inner := New(ErrorTypeIO, "mmap failed")
		outer := Wrap(inner, ErrorTypePlatform, "allocation failed")
		assert.Equal(t, inner.Stack, outer.Stack)
	})

	t.Run("captures stack for foreign errors", func(t *testing.T) {
		err := Wrap(fmt.Errorf("boom"), ErrorTypeIO, "syscall failed")
		require.NotEmpty(t, err.Stack)
	})
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeDecode, "bad record")
	assert.True(t, IsType(err, ErrorTypeDecode))
	assert.False(t, IsType(err, ErrorTypeIO))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeDecode))

	// Type checks see through wrapping layers.
	wrapped := fmt.Errorf("context: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeDecode))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeIO, "mlock failed").
		WithDetail("address", uintptr(0x1000)).
		WithDetail("size", 4096)
	assert.Equal(t, uintptr(0x1000), err.Details["address"])
	assert.Equal(t, 4096, err.Details["size"])
}

func TestWrapSyscall(t *testing.T) {
	assert.Nil(t, WrapSyscall(nil, "msync"))

	err := WrapSyscall(io.ErrShortWrite, "msync")
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeIO, err.Type)
	assert.Equal(t, "msync", err.Details["syscall"])
}

func TestUnsafeFlagNeeded(t *testing.T) {
	err := NewUnsafeFlagNeeded("JIT")
	assert.Equal(t, ErrorTypeUnsafeFlag, err.Type)
	assert.Equal(t, "JIT", FlagNeeded(err))
	assert.True(t, IsUnsafeFlagNeeded(err, "JIT"))
	assert.False(t, IsUnsafeFlagNeeded(err, "MAP_FIXED"))

	// The flag survives wrapping.
	wrapped := fmt.Errorf("map failed: %w", err)
	assert.Equal(t, "JIT", FlagNeeded(wrapped))

	assert.Empty(t, FlagNeeded(errors.New("plain")))
	assert.Empty(t, FlagNeeded(New(ErrorTypeIO, "not a flag error")))
}
