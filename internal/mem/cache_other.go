//go:build linux && !(arm64 && cgo)

package mem

// FlushInstructionCache is a no-op where instruction and data caches are
// coherent (amd64).
func FlushInstructionCache(addr, size uintptr) {}
