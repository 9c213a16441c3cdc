package vm

import (
	"fmt"
)

// ErrorCode represents different types of paging errors
type ErrorCode int

const (
	// Generic errors
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInternal

	// Page errors
	ErrCodePageNotMapped

	// Swap errors
	ErrCodeSwapFull
	ErrCodeSwapReadFailed
	ErrCodeSwapWriteFailed
	ErrCodeInvalidSwapSlot

	// Process errors
	ErrCodeProcessNotFound
	ErrCodeProcessExists
	ErrCodeMmapNotFound
)

// VMError represents a paging subsystem error with context
type VMError struct {
	Code    ErrorCode
	Message string
	Op      string // Operation that failed
	Err     error  // Underlying error (if any)
}

// Error implements the error interface
func (e *VMError) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *VMError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a specific error code
func (e *VMError) Is(target error) bool {
	if t, ok := target.(*VMError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewVMError creates a new paging error
func NewVMError(code ErrorCode, op, message string, err error) *VMError {
	return &VMError{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

// Helper functions for common errors

func ErrPageNotMapped(op string, pid Pid, page VirtPage) *VMError {
	return NewVMError(
		ErrCodePageNotMapped,
		op,
		fmt.Sprintf("page %#x not mapped for pid %d", uint64(page), pid),
		nil,
	)
}

func ErrSwapFull(op string) *VMError {
	return NewVMError(
		ErrCodeSwapFull,
		op,
		"swap store has no free slots",
		nil,
	)
}

func ErrInvalidSwapSlot(op string, slot SwapSlot) *VMError {
	return NewVMError(
		ErrCodeInvalidSwapSlot,
		op,
		fmt.Sprintf("swap slot %d is not in use", slot),
		nil,
	)
}

func ErrProcessNotFound(op string, pid Pid) *VMError {
	return NewVMError(
		ErrCodeProcessNotFound,
		op,
		fmt.Sprintf("process %d not registered", pid),
		nil,
	)
}

func ErrProcessExists(op string, pid Pid) *VMError {
	return NewVMError(
		ErrCodeProcessExists,
		op,
		fmt.Sprintf("process %d already registered", pid),
		nil,
	)
}

func ErrMmapNotFound(op string, id MmapID) *VMError {
	return NewVMError(
		ErrCodeMmapNotFound,
		op,
		fmt.Sprintf("mmap descriptor %d not found", id),
		nil,
	)
}

func ErrSwapWrite(op string, err error) *VMError {
	return NewVMError(
		ErrCodeSwapWriteFailed,
		op,
		"swap write failed",
		err,
	)
}

func ErrSwapRead(op string, err error) *VMError {
	return NewVMError(
		ErrCodeSwapReadFailed,
		op,
		"swap read failed",
		err,
	)
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if ve, ok := err.(*VMError); ok {
		return ve.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrCodeUnknown
func GetErrorCode(err error) ErrorCode {
	if ve, ok := err.(*VMError); ok {
		return ve.Code
	}
	return ErrCodeUnknown
}

// kernelPanic halts on a violated internal invariant. It is reserved for
// frame-table corruption, a stale clock cursor, pin/unpin on an untracked
// frame, and true memory exhaustion with nothing evictable. Expected
// resource exhaustion goes through VMError instead.
func kernelPanic(op, format string, args ...any) {
	panic(fmt.Sprintf("vm: invariant violated: %s: %s", op, fmt.Sprintf(format, args...)))
}
