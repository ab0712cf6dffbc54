//go:build linux && cgo

package propspoof

/*
#include "shim.h"
*/
import "C"

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/sliverarmory/nativehook/internal/hookerr"
	"github.com/sliverarmory/nativehook/internal/native"
)

var bound atomic.Bool

//export nativehookLookupProperty
func nativehookLookupProperty(name *C.char, value *C.char) C.int {
	v, ok := lookup(C.GoString(name))
	if !ok {
		return -1
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(value)), PropValueMax)
	n := copy(buf[:PropValueMax-1], v)
	buf[n] = 0
	return C.int(n)
}

// Func is the address of the replacement getter.
func Func() uintptr {
	return uintptr(C.nh_property_get_addr())
}

// Bind points the shim's passthrough at original. Only one getter per
// process can be bound at a time.
func Bind(original uintptr) error {
	if !bound.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: property getter is already bound", hookerr.ErrAlreadyInstalled)
	}
	C.nh_set_original(C.uintptr_t(original))
	return nil
}

// Unbind clears the passthrough. Reads of keys without an override then
// return an empty value.
func Unbind() {
	C.nh_set_original(0)
	bound.Store(false)
}

// Read calls a getter with the __system_property_get signature.
func Read(fn uintptr, key string) (string, int) {
	name := native.CString(key)
	defer name.Free()
	value := native.NewBuffer(PropValueMax)
	defer value.Free()
	n := native.Call2(fn, name.Addr(), value.Addr())
	return value.String(), int(int32(n))
}
