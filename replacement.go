package nativehook

// Replacement describes the code a hooked function is redirected to.
type Replacement struct {
	// Func is the address of a native function with the same calling
	// convention as the target.
	Func uintptr

	// Bind, when set, receives the address that calls the original
	// function before the redirect goes live. The address is 0 when the
	// target prologue could not be relocated.
	Bind func(original uintptr) error

	// Unbind runs once the hook has been removed.
	Unbind func()

	// RequireOriginal makes installation fail with
	// ErrPassthroughUnavailable instead of installing without a way to
	// call the original.
	RequireOriginal bool
}

// NativeFunc is a Replacement that never calls the original.
func NativeFunc(addr uintptr) Replacement {
	return Replacement{Func: addr}
}
