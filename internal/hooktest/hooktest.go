//go:build linux && cgo && (amd64 || arm64)

// Package hooktest provides native functions with known prologues for
// exercising the interception engine in tests. Callers reach the targets
// through C so every call goes through the (possibly patched) entry.
//
// The fixtures are exported to the dynamic symbol table so they resolve
// with dlsym from the main program. go test strips .symtab.
package hooktest

/*
#cgo LDFLAGS: -rdynamic
#include <stdint.h>
#include <stdlib.h>
#include "targets.h"

static uintptr_t hookd_addr(int which) {
	switch (which) {
	case 0: return (uintptr_t)&hookd_target_add;
	case 1: return (uintptr_t)&hookd_target_mul;
	case 2: return (uintptr_t)&hookd_target_callrel;
	case 3: return (uintptr_t)&hookd_target_jshort;
	case 4: return (uintptr_t)&hookd_target_short;
	case 5: return (uintptr_t)&hookd_fake_property_get;
	}
	return 0;
}

static uintptr_t hookd_replacement_addr(void) {
	return (uintptr_t)&hookd_replacement;
}

static uintptr_t hookd_replacement_passthrough_addr(void) {
	return (uintptr_t)&hookd_replacement_passthrough;
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// Target names one of the fixture functions.
type Target int

const (
	// Add returns a+b.
	Add Target = iota
	// Mul returns a*b.
	Mul
	// CallRel returns 41+a and starts with a PC-relative call.
	CallRel
	// JShort returns 7 when a is zero and a otherwise. Its prologue cannot
	// be relocated.
	JShort
	// Short returns 0 and is too short to patch on amd64.
	Short
	// PropertyGet has the __system_property_get signature and answers
	// ro.soc.model=Tensor G3 and ro.soc.manufacturer=Google.
	PropertyGet
)

var symbols = map[Target]string{
	Add:         "hookd_target_add",
	Mul:         "hookd_target_mul",
	CallRel:     "hookd_target_callrel",
	JShort:      "hookd_target_jshort",
	Short:       "hookd_target_short",
	PropertyGet: "hookd_fake_property_get",
}

// Symbol returns the exported symbol name of t.
func (t Target) Symbol() string {
	return symbols[t]
}

// Addr returns the entry address of t.
func (t Target) Addr() uintptr {
	return uintptr(C.hookd_addr(C.int(t)))
}

// Call invokes t(a, b) from C.
func (t Target) Call(a, b int64) int64 {
	if t == PropertyGet {
		panic("hooktest: use CallPropertyGet")
	}
	return int64(C.hookd_call(C.int(t), C.long(a), C.long(b)))
}

func (t Target) String() string {
	if s, ok := symbols[t]; ok {
		return s
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

// CallPropertyGet queries key through the fake property getter.
func CallPropertyGet(key string) string {
	cKey := C.CString(key)
	defer C.free(unsafe.Pointer(cKey))
	buf := (*C.char)(C.calloc(92, 1))
	defer C.free(unsafe.Pointer(buf))

	C.hookd_call_property_get(cKey, buf)
	return C.GoString(buf)
}

// Replacement returns a native function computing a*1000+b.
func Replacement() uintptr {
	return uintptr(C.hookd_replacement_addr())
}

// PassthroughReplacement returns a native function that calls the address
// given to SetOriginal and adds 1000000, or returns -1 when none is set.
func PassthroughReplacement() uintptr {
	return uintptr(C.hookd_replacement_passthrough_addr())
}

func SetOriginal(fn uintptr) {
	C.hookd_set_original(C.uintptr_t(fn))
}
