package wire

import (
	"fmt"

	"github.com/latchvc/latchvc/pkg/constants"
)

// Protocol-level error codes carried in an ErrorResp (§4.F, §7).
const (
	ErrorInvalidSig      uint16 = 1
	ErrorVersionMismatch uint16 = 2
	ErrorClockSkew       uint16 = 3
	ErrorNotFound        uint16 = 4
	ErrorCorrupt         uint16 = 5
	ErrorRateLimit       uint16 = 6
)

// Error is a protocol-level error, carried as a Frame body under
// constants.KindErrorResp.
type Error struct {
	Code       uint16  `cbor:"code"`
	Reason     string  `cbor:"reason"`
	RetryAfter *uint32 `cbor:"retry_after,omitempty"`
}

// NewError creates a protocol error.
func NewError(code uint16, reason string) *Error {
	return &Error{Code: code, Reason: reason}
}

// NewErrorWithRetry creates a protocol error carrying a retry-after hint.
func NewErrorWithRetry(code uint16, reason string, retryAfter uint32) *Error {
	return &Error{Code: code, Reason: reason, RetryAfter: &retryAfter}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.RetryAfter != nil {
		return fmt.Sprintf("wire error %d: %s (retry after %ds)", e.Code, e.Reason, *e.RetryAfter)
	}
	return fmt.Sprintf("wire error %d: %s", e.Code, e.Reason)
}

// IsRetryable reports whether the error suggests the caller retry.
func (e *Error) IsRetryable() bool {
	return e.RetryAfter != nil || e.Code == ErrorRateLimit
}

// ErrorFrame wraps an Error as a Frame body under KindErrorResp.
func ErrorFrame(from string, reqID uint64, err *Error) *Frame {
	return NewFrame(constants.KindErrorResp, from, reqID, err)
}

// IsErrorFrame reports whether a frame carries an error body.
func IsErrorFrame(f *Frame) bool {
	return f.Kind == constants.KindErrorResp
}

// ExtractError extracts the Error from an error frame.
func ExtractError(f *Frame) (*Error, error) {
	if !IsErrorFrame(f) {
		return nil, fmt.Errorf("frame is not an error frame")
	}
	err, ok := f.Body.(*Error)
	if !ok {
		return nil, fmt.Errorf("frame body is not an Error")
	}
	return err, nil
}
