//go:build linux

// Package mem wraps the raw memory operations the patcher needs. Nothing
// outside the trampoline and patch packages should touch these.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// WordSize is the width of the atomic store used to publish a patch.
const WordSize = 8

// ErrNotAtomic is returned when a patch does not fit inside one naturally
// aligned word and so cannot be published with a single store.
var ErrNotAtomic = errors.New("patch does not fit in one aligned word")

var pageSize = uintptr(unix.Getpagesize())

func PageSize() uintptr {
	return pageSize
}

// Bytes returns a slice aliasing size bytes at addr.
func Bytes(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}

// PageRange returns the page-aligned range covering [addr, addr+size).
func PageRange(addr, size uintptr) (start, length uintptr) {
	start = addr &^ (pageSize - 1)
	end := (addr + size + pageSize - 1) &^ (pageSize - 1)
	return start, end - start
}

// Protect applies prot to every page touched by [addr, addr+size).
func Protect(addr, size uintptr, prot int) error {
	start, length := PageRange(addr, size)
	if err := unix.Mprotect(Bytes(start, length), prot); err != nil {
		return fmt.Errorf("mprotect %#x+%#x: %w", start, length, err)
	}
	return nil
}

// Map reserves size bytes of private anonymous memory, using hint as a
// placement request. The kernel may ignore the hint.
func Map(hint, size uintptr, prot int) (uintptr, error) {
	addr, _, errno := unix.Syscall6(unix.SYS_MMAP, hint, size, uintptr(prot),
		uintptr(unix.MAP_PRIVATE|unix.MAP_ANONYMOUS), ^uintptr(0), 0)
	if errno != 0 {
		return 0, fmt.Errorf("mmap %#x+%#x: %w", hint, size, errno)
	}
	return addr, nil
}

func Unmap(addr, size uintptr) error {
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, size, 0); errno != 0 {
		return fmt.Errorf("munmap %#x+%#x: %w", addr, size, errno)
	}
	return nil
}

// Atomic reports whether size bytes at addr share one aligned word.
func Atomic(addr uintptr, size int) bool {
	word := addr &^ (WordSize - 1)
	return size > 0 && addr-word+uintptr(size) <= WordSize
}

// StoreAtomic splices data into the aligned word that contains addr and
// publishes it with one 64-bit store. Concurrent instruction fetches observe
// either the old or the new word, never a mix. The caller must hold write
// permission on the page.
func StoreAtomic(addr uintptr, data []byte) error {
	if !Atomic(addr, len(data)) {
		return ErrNotAtomic
	}
	word := addr &^ (WordSize - 1)
	p := (*uint64)(unsafe.Pointer(word))

	var buf [WordSize]byte
	binary.LittleEndian.PutUint64(buf[:], atomic.LoadUint64(p))
	copy(buf[addr-word:], data)
	atomic.StoreUint64(p, binary.LittleEndian.Uint64(buf[:]))
	return nil
}
