// Package hookerr holds the sentinel errors shared by every layer of the
// interception engine. Components wrap them with fmt.Errorf("%w: ...") so
// callers can classify failures with errors.Is.
package hookerr

import "errors"

var (
	ErrLibraryNotFound        = errors.New("library not found")
	ErrSymbolNotFound         = errors.New("symbol not found")
	ErrAllocationFailed       = errors.New("executable memory allocation failed")
	ErrProtectionChangeFailed = errors.New("memory protection change failed")
	ErrPatchWriteFailed       = errors.New("patch write failed")
	ErrRestoreFailed          = errors.New("restore failed")
	ErrAlreadyInstalled       = errors.New("hook already installed")
	ErrNotInstalled           = errors.New("hook not installed")
	ErrDuplicateHook          = errors.New("duplicate hook")

	// ErrPassthroughUnavailable means the target prologue could not be
	// relocated, so the original function cannot be called through.
	ErrPassthroughUnavailable = errors.New("passthrough to original unavailable")
	ErrUnsupported            = errors.New("unsupported platform")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrClosed                 = errors.New("bridge is closed")
)
