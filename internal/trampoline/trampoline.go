//go:build linux

// Package trampoline builds the executable stubs a hook needs: an island the
// patched entry branches to, and a passthrough that runs the displaced
// prologue before resuming the original function.
package trampoline

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sliverarmory/nativehook/internal/hookerr"
	"github.com/sliverarmory/nativehook/internal/mem"
	"github.com/sliverarmory/nativehook/internal/procmaps"
)

const (
	islandOffset      = 0
	passthroughOffset = 32
	// longest prologue window ever inspected
	maxPrologue = 32
	// candidate pages tried before giving up
	maxAttempts = 64
)

// Trampoline owns one page of executable memory placed within direct branch
// range of its target.
type Trampoline struct {
	Target      uintptr
	Replacement uintptr

	base     uintptr
	size     uintptr
	original uintptr
	covered  int
	patch    []byte
	relocErr error

	mu       sync.Mutex
	released bool
}

// Build allocates and fills a trampoline redirecting target to replacement.
// The target itself is not modified.
func Build(target, replacement uintptr) (*Trampoline, error) {
	a, err := hostArch()
	if err != nil {
		return nil, err
	}
	if target == 0 || replacement == 0 {
		return nil, fmt.Errorf("%w: target and replacement must be non-zero", hookerr.ErrInvalidArgument)
	}

	maps, err := procmaps.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hookerr.ErrAllocationFailed, err)
	}
	region, ok := maps.Find(target)
	if !ok || !region.Executable() {
		return nil, fmt.Errorf("%w: %#x is not executable memory", hookerr.ErrPatchWriteFailed, target)
	}
	window := region.End - target
	if window > maxPrologue {
		window = maxPrologue
	}
	code := append([]byte(nil), mem.Bytes(target, window)...)

	if a == archAMD64 && isEndbr(code) && ibtEnforced() {
		return nil, fmt.Errorf("%w: %#x starts with ENDBR64 and indirect branch tracking is enforced", hookerr.ErrPatchWriteFailed, target)
	}
	covered, err := a.measure(code, a.patchLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %#x: %v", hookerr.ErrPatchWriteFailed, target, err)
	}

	base, err := allocateNear(maps, target, a.branchRange)
	if err != nil {
		return nil, fmt.Errorf("%w: near %#x: %v", hookerr.ErrAllocationFailed, target, err)
	}
	t := &Trampoline{
		Target:      target,
		Replacement: replacement,
		base:        base,
		size:        mem.PageSize(),
		covered:     covered,
	}

	page := mem.Bytes(t.base, t.size)
	copy(page[islandOffset:], a.absJump(replacement))
	if stub, err := a.relocate(code[:covered], target, base+passthroughOffset); err == nil {
		n := copy(page[passthroughOffset:], stub)
		copy(page[passthroughOffset+n:], a.absJump(target+uintptr(covered)))
		t.original = base + passthroughOffset
	} else {
		t.relocErr = err
	}

	if t.patch, err = a.branch(target, base+islandOffset); err != nil {
		_ = mem.Unmap(t.base, t.size)
		return nil, fmt.Errorf("%w: %v", hookerr.ErrAllocationFailed, err)
	}
	if err := mem.Protect(t.base, t.size, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = mem.Unmap(t.base, t.size)
		return nil, fmt.Errorf("%w: sealing trampoline: %v", hookerr.ErrAllocationFailed, err)
	}
	mem.FlushInstructionCache(t.base, t.size)
	return t, nil
}

// allocateNear maps one read-write page no further than maxDistance from
// target. The kernel treats the address as a hint, so every result is
// checked and discarded when it lands out of range.
func allocateNear(maps procmaps.Maps, target, maxDistance uintptr) (uintptr, error) {
	size := mem.PageSize()
	var lastErr error
	for i, hint := range maps.FreeNear(target, size, maxDistance, size) {
		if i == maxAttempts {
			break
		}
		addr, err := mem.Map(hint, size, unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			lastErr = err
			continue
		}
		if distance(addr, target) <= maxDistance {
			return addr, nil
		}
		_ = mem.Unmap(addr, size)
		lastErr = fmt.Errorf("page placed at %#x, out of branch range", addr)
	}
	if lastErr == nil {
		lastErr = errors.New("no free address space in branch range")
	}
	return 0, lastErr
}

func distance(a, b uintptr) uintptr {
	if a > b {
		return a - b
	}
	return b - a
}

// Entry is the address the patched target branches to.
func (t *Trampoline) Entry() uintptr {
	return t.base + islandOffset
}

// Original returns a callable address that behaves like the unpatched
// target, or 0 when the prologue could not be relocated.
func (t *Trampoline) Original() uintptr {
	return t.original
}

// PassthroughErr explains why Original is 0.
func (t *Trampoline) PassthroughErr() error {
	return t.relocErr
}

// Patch returns the bytes to write over the target entry.
func (t *Trampoline) Patch() []byte {
	return append([]byte(nil), t.patch...)
}

// Covered is the length of the displaced prologue.
func (t *Trampoline) Covered() int {
	return t.covered
}

// Release unmaps the trampoline page. It must only be called once no thread
// can still be executing inside it.
func (t *Trampoline) Release() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return nil
	}
	t.released = true
	return mem.Unmap(t.base, t.size)
}
