//go:build linux

package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sliverarmory/nativehook/internal/hookerr"
	"github.com/sliverarmory/nativehook/internal/resolver"
	"github.com/sliverarmory/nativehook/internal/trampoline"
)

// State is the install state of a Hook.
type State int

const (
	Uninstalled State = iota
	Installed
	Failed
)

func (s State) String() string {
	switch s {
	case Installed:
		return "installed"
	case Failed:
		return "failed"
	default:
		return "uninstalled"
	}
}

// Hook is one interception of one function.
type Hook struct {
	Symbol      string
	Handle      *resolver.Handle
	Trampoline  *trampoline.Trampoline
	Target      uintptr
	Replacement uintptr
	Patch       []byte

	// OnRelease runs once, from Unbind or at the latest from Release.
	OnRelease func()

	mu       sync.Mutex
	state    State
	saved    []byte
	lastErr  error
	unbound  bool
	released bool
}

func (h *Hook) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Saved returns a copy of the bytes the patch displaced.
func (h *Hook) Saved() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.saved...)
}

func (h *Hook) LastErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// MarkInstalled records the displaced bytes. A hook is never Installed
// without them.
func (h *Hook) MarkInstalled(saved []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Installed {
		return fmt.Errorf("%w: %s", hookerr.ErrAlreadyInstalled, h.Symbol)
	}
	if len(saved) == 0 {
		return fmt.Errorf("%w: no saved bytes for %s", hookerr.ErrInvalidArgument, h.Symbol)
	}
	h.state = Installed
	h.saved = append([]byte(nil), saved...)
	h.lastErr = nil
	return nil
}

// MarkUninstalled is called once the original bytes are back in place.
func (h *Hook) MarkUninstalled() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = Uninstalled
	h.saved = nil
}

// MarkFailed records err. An Installed hook stays Installed since its patch
// is still live.
func (h *Hook) MarkFailed(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err
	if h.state != Installed {
		h.state = Failed
	}
}

// Forget drops an Installed hook whose site is gone.
func (h *Hook) Forget(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = Failed
	h.saved = nil
	h.lastErr = err
}

// Unbind runs OnRelease unless it already ran. Call it once the target no
// longer branches into the hook, before a replacement for the same target
// can be bound.
func (h *Hook) Unbind() {
	h.mu.Lock()
	if h.unbound {
		h.mu.Unlock()
		return
	}
	h.unbound = true
	h.mu.Unlock()

	if h.OnRelease != nil {
		h.OnRelease()
	}
}

// Release unbinds, unmaps the trampoline and closes the library handle.
// Calling it on an Installed hook is refused.
func (h *Hook) Release() error {
	h.mu.Lock()
	if h.state == Installed {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s is still installed", hookerr.ErrAlreadyInstalled, h.Symbol)
	}
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	h.Unbind()
	var errs []error
	if h.Trampoline != nil {
		errs = append(errs, h.Trampoline.Release())
	}
	errs = append(errs, h.Handle.Close())
	return errors.Join(errs...)
}
