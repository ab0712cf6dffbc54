package nativehook

import (
	"fmt"

	"github.com/sliverarmory/nativehook/internal/hookerr"
)

var (
	ErrLibraryNotFound        = hookerr.ErrLibraryNotFound
	ErrSymbolNotFound         = hookerr.ErrSymbolNotFound
	ErrAllocationFailed       = hookerr.ErrAllocationFailed
	ErrProtectionChangeFailed = hookerr.ErrProtectionChangeFailed
	ErrPatchWriteFailed       = hookerr.ErrPatchWriteFailed
	ErrRestoreFailed          = hookerr.ErrRestoreFailed
	ErrAlreadyInstalled       = hookerr.ErrAlreadyInstalled
	ErrNotInstalled           = hookerr.ErrNotInstalled
	ErrDuplicateHook          = hookerr.ErrDuplicateHook
	ErrPassthroughUnavailable = hookerr.ErrPassthroughUnavailable
	ErrUnsupported            = hookerr.ErrUnsupported
	ErrInvalidArgument        = hookerr.ErrInvalidArgument
	ErrClosed                 = hookerr.ErrClosed
)

// Error is returned by every Bridge operation. Use errors.Is with the
// exported sentinels to classify it.
type Error struct {
	Op     string
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("nativehook: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("nativehook: %s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Symbol: symbol, Err: err}
}
