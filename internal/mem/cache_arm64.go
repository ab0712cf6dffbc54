//go:build linux && arm64 && cgo

package mem

/*
#include <stdint.h>

static void nh_clear_cache(uintptr_t addr, uintptr_t len) {
	__builtin___clear_cache((char *)addr, (char *)(addr + len));
}
*/
import "C"

// FlushInstructionCache makes freshly written code visible to instruction
// fetch on every core.
func FlushInstructionCache(addr, size uintptr) {
	C.nh_clear_cache(C.uintptr_t(addr), C.uintptr_t(size))
}
