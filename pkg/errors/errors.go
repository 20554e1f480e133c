// Package errors provides structured error handling for vmap
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeIO represents a failed operating-system call; the cause carries
	// the OS error semantics
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeDecode represents a malformed textual or binary kernel record
	ErrorTypeDecode ErrorType = "decode"
	// ErrorTypeUnsafeFlag represents a gated operation invoked without the
	// required unsafe-flag attestation
	ErrorTypeUnsafeFlag ErrorType = "unsafe_flag"
	// ErrorTypePlatform represents an opaque OS-specific fatal code that is
	// not an expected end-of-data signal
	ErrorTypePlatform ErrorType = "platform"
	// ErrorTypeValidation represents invalid arguments caught at the API
	// boundary before any OS call is made
	ErrorTypeValidation ErrorType = "validation"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// WrapSyscall wraps an OS call failure as an IO error, recording the name of
// the call that failed
func WrapSyscall(err error, op string) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, ErrorTypeIO, op).WithDetail("syscall", op)
}

// NewUnsafeFlagNeeded reports that a gated operation was invoked without the
// required attestation. The flag name is recoverable through FlagNeeded.
func NewUnsafeFlagNeeded(flag string) *Error {
	return New(ErrorTypeUnsafeFlag, flag+" must be set").WithDetail("flag", flag)
}

// FlagNeeded returns the name of the unsafe flag that must be attested for the
// failed operation to succeed, or "" if err is not an unsafe-flag error.
func FlagNeeded(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Type != ErrorTypeUnsafeFlag {
		return ""
	}
	flag, _ := e.Details["flag"].(string)
	return flag
}

// IsUnsafeFlagNeeded checks whether err is an unsafe-flag error demanding the
// given flag
func IsUnsafeFlagNeeded(err error, flag string) bool {
	return FlagNeeded(err) == flag
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
