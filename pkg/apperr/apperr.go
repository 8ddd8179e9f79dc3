// Package apperr defines the error taxonomy shared across latchvc: a
// typed error with a stable Code, so callers can classify failures with
// errors.As instead of matching on message text.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a distinct user-facing error category (§7).
type Code string

const (
	CodePathNotFound        Code = "path_not_found"
	CodePathIsDirectory     Code = "path_is_directory"
	CodeIoError             Code = "io_error"
	CodeCatalogError        Code = "catalog_error"
	CodeNotFound            Code = "not_found"
	CodeAmbiguousReference  Code = "ambiguous_reference"
	CodeEmptyCommit         Code = "empty_commit"
	CodeNoCommit            Code = "no_commit"
	CodeBranchExists        Code = "branch_exists"
	CodeUnknownBranch       Code = "unknown_branch"
	CodeInitExists          Code = "init_exists"
	CodeDeleteCurrentBranch Code = "delete_current_branch"
	CodeDigestMismatch      Code = "digest_mismatch"
	CodeCorruptObject       Code = "corrupt_object"
	CodePeerUnreachable     Code = "peer_unreachable"
	CodeTimeout             Code = "timeout"
	CodeProtocolError       Code = "protocol_error"
	CodeCorruptTransfer     Code = "corrupt_transfer"
)

// Error is the concrete error type for every latchvc error kind.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, if any.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
