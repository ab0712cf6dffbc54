//go:build linux && cgo

// Package native is the cgo boundary: dynamic loader access, C-ABI call
// shims and C-heap buffers.
package native

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef uintptr_t (*nh_fn0)(void);
typedef uintptr_t (*nh_fn1)(uintptr_t);
typedef uintptr_t (*nh_fn2)(uintptr_t, uintptr_t);
typedef uintptr_t (*nh_fn3)(uintptr_t, uintptr_t, uintptr_t);

static uintptr_t nh_call0(uintptr_t fn) {
	return ((nh_fn0)fn)();
}

static uintptr_t nh_call1(uintptr_t fn, uintptr_t a0) {
	return ((nh_fn1)fn)(a0);
}

static uintptr_t nh_call2(uintptr_t fn, uintptr_t a0, uintptr_t a1) {
	return ((nh_fn2)fn)(a0, a1);
}

static uintptr_t nh_call3(uintptr_t fn, uintptr_t a0, uintptr_t a1, uintptr_t a2) {
	return ((nh_fn3)fn)(a0, a1, a2);
}

static void* nh_dlopen(const char* path) {
	return dlopen(path, RTLD_NOW);
}

static const char* nh_dlerror(void) {
	return dlerror();
}
*/
import "C"

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

// Library is an open dynamic loader handle.
type Library struct {
	mu     sync.Mutex
	handle unsafe.Pointer
	path   string
	closed bool
}

// Open loads path with RTLD_NOW. An empty path opens the main program.
func Open(path string) (*Library, error) {
	var cPath *C.char
	if path != "" {
		if strings.ContainsRune(path, '\x00') {
			return nil, errors.New("path contains NUL")
		}
		cPath = C.CString(path)
		defer C.free(unsafe.Pointer(cPath))
	}

	// clear stale dlerror
	C.nh_dlerror()
	handle := C.nh_dlopen(cPath)
	if handle == nil {
		return nil, fmt.Errorf("dlopen(%s): %w", displayPath(path), lastDLErrorWithFallback("unknown dlopen error"))
	}
	return &Library{handle: handle, path: path}, nil
}

func (library *Library) Path() string {
	return library.path
}

// Sym resolves name with dlsym.
func (library *Library) Sym(name string) (uintptr, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("symbol name cannot be empty")
	}
	if strings.ContainsRune(name, '\x00') {
		return 0, errors.New("symbol name contains NUL")
	}

	library.mu.Lock()
	defer library.mu.Unlock()
	if library.closed {
		return 0, errors.New("library is closed")
	}

	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	C.nh_dlerror()
	sym := C.dlsym(library.handle, cName)
	if err := lastDLError(); err != nil {
		return 0, fmt.Errorf("dlsym(%s): %w", name, err)
	}
	if sym == nil {
		return 0, fmt.Errorf("dlsym(%s): symbol address is nil", name)
	}
	return uintptr(sym), nil
}

// Close drops the loader reference. Safe to call more than once.
func (library *Library) Close() error {
	library.mu.Lock()
	defer library.mu.Unlock()

	if library.closed {
		return nil
	}
	library.closed = true
	if C.dlclose(library.handle) != 0 {
		return fmt.Errorf("dlclose(%s): %w", displayPath(library.path), lastDLErrorWithFallback("unknown dlclose error"))
	}
	library.handle = nil
	return nil
}

func Call0(fn uintptr) uintptr {
	return uintptr(C.nh_call0(C.uintptr_t(fn)))
}

func Call1(fn, a0 uintptr) uintptr {
	return uintptr(C.nh_call1(C.uintptr_t(fn), C.uintptr_t(a0)))
}

func Call2(fn, a0, a1 uintptr) uintptr {
	return uintptr(C.nh_call2(C.uintptr_t(fn), C.uintptr_t(a0), C.uintptr_t(a1)))
}

func Call3(fn, a0, a1, a2 uintptr) uintptr {
	return uintptr(C.nh_call3(C.uintptr_t(fn), C.uintptr_t(a0), C.uintptr_t(a1), C.uintptr_t(a2)))
}

// Buffer is zeroed C heap memory that native code may keep pointers into.
type Buffer struct {
	ptr  unsafe.Pointer
	size int
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = 1
	}
	return &Buffer{ptr: C.calloc(C.size_t(size), 1), size: size}
}

// CString copies s into a NUL-terminated C buffer.
func CString(s string) *Buffer {
	return &Buffer{ptr: unsafe.Pointer(C.CString(s)), size: len(s) + 1}
}

func (b *Buffer) Addr() uintptr {
	return uintptr(b.ptr)
}

func (b *Buffer) Bytes() []byte {
	return unsafe.Slice((*byte)(b.ptr), b.size)
}

// String reads the buffer up to the first NUL.
func (b *Buffer) String() string {
	return GoString(uintptr(b.ptr))
}

func (b *Buffer) Free() {
	if b.ptr != nil {
		C.free(b.ptr)
		b.ptr = nil
	}
}

// GoString copies a NUL-terminated C string.
func GoString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	return C.GoString((*C.char)(unsafe.Pointer(ptr)))
}

func lastDLError() error {
	msg := C.nh_dlerror()
	if msg == nil {
		return nil
	}
	return errors.New(C.GoString(msg))
}

func lastDLErrorWithFallback(fallback string) error {
	if err := lastDLError(); err != nil {
		return err
	}
	return errors.New(fallback)
}

func displayPath(path string) string {
	if path == "" {
		return "<main program>"
	}
	return path
}
