package engine

import (
	"errors"
	"fmt"
)

// DispatchErrorCode categorizes dispatch errors.
type DispatchErrorCode string

const (
	// ErrCodeNotConfigured indicates missing table/field-list/template
	// configuration. Not recoverable; surfaced as plain diagnostic text.
	ErrCodeNotConfigured DispatchErrorCode = "NOT_CONFIGURED"

	// ErrCodeCommandDisabled indicates the command is not enabled in the
	// configuration.
	ErrCodeCommandDisabled DispatchErrorCode = "COMMAND_DISABLED"

	// ErrCodePermissionDenied indicates the caller may not act on the
	// record. Nothing was mutated.
	ErrCodePermissionDenied DispatchErrorCode = "PERMISSION_DENIED"

	// ErrCodeTokenMismatch indicates a one-click action token did not
	// verify. Nothing was mutated and no detail about the mismatch leaks.
	ErrCodeTokenMismatch DispatchErrorCode = "TOKEN_MISMATCH"

	// ErrCodeRecordNotFound indicates the target record does not exist.
	ErrCodeRecordNotFound DispatchErrorCode = "RECORD_NOT_FOUND"
)

// DispatchError is a named, non-validation failure of a command.
type DispatchError struct {
	Code    DispatchErrorCode
	Message string
	Table   string
	Cmd     string
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.Table != "" && e.Cmd != "" {
		return fmt.Sprintf("%s: %s (table=%s, cmd=%s)", e.Code, e.Message, e.Table, e.Cmd)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsPermissionDenied reports whether err is a permission failure.
// Uses errors.As to handle wrapped errors.
func IsPermissionDenied(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Code == ErrCodePermissionDenied
}

// IsTokenMismatch reports whether err is a one-click token failure.
func IsTokenMismatch(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Code == ErrCodeTokenMismatch
}

// IsNotConfigured reports whether err is a configuration failure.
func IsNotConfigured(err error) bool {
	var de *DispatchError
	return errors.As(err, &de) && de.Code == ErrCodeNotConfigured
}
