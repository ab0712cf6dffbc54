//go:build linux

package nativehook

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sliverarmory/nativehook/internal/patch"
	"github.com/sliverarmory/nativehook/internal/propspoof"
	"github.com/sliverarmory/nativehook/internal/registry"
	"github.com/sliverarmory/nativehook/internal/resolver"
	"github.com/sliverarmory/nativehook/internal/trampoline"
)

// Bridge owns a set of hooks. It is safe for concurrent use.
type Bridge struct {
	opts Options
	log  logrus.FieldLogger

	mu     sync.Mutex
	reg    *registry.Registry
	closed bool
}

func New(opts Options) *Bridge {
	opts = opts.withDefaults()
	return &Bridge{
		opts: opts,
		log:  opts.Logger.WithField("component", "bridge"),
	}
}

// hooks returns the registry, creating it on first use when create is set.
func (b *Bridge) hooks(create bool) (*registry.Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.reg == nil && create {
		b.reg = registry.New()
	}
	return b.reg, nil
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// InstallOverride redirects symbol, found in the first of candidates that
// exports it, to repl. The empty candidate names the main program. Every
// completed step is undone when a later one fails.
func (b *Bridge) InstallOverride(symbol string, candidates []string, repl Replacement) error {
	const op = "install"
	if repl.Func == 0 {
		return fail(op, symbol, fmt.Errorf("%w: replacement address is zero", ErrInvalidArgument))
	}
	if len(candidates) == 0 {
		return fail(op, symbol, fmt.Errorf("%w: no candidate libraries", ErrLibraryNotFound))
	}
	reg, err := b.hooks(true)
	if err != nil {
		return fail(op, symbol, err)
	}
	return fail(op, symbol, reg.Exclusive(func() error {
		if b.isClosed() {
			return ErrClosed
		}
		if h, ok := reg.Lookup(symbol); ok && h.State() == registry.Installed {
			return fmt.Errorf("%w: %s is already hooked", ErrDuplicateHook, symbol)
		}
		return b.install(reg, symbol, candidates, repl)
	}))
}

func (b *Bridge) install(reg *registry.Registry, symbol string, candidates []string, repl Replacement) error {
	log := b.log.WithField("symbol", symbol)

	handle, err := resolver.Resolve(candidates, symbol)
	if err != nil {
		return err
	}
	log = log.WithField("library", handle.Library)
	log.Debug("symbol resolved")

	tr, err := trampoline.Build(handle.Address, repl.Func)
	if err != nil {
		_ = handle.Close()
		return err
	}
	h := &registry.Hook{
		Symbol:      symbol,
		Handle:      handle,
		Trampoline:  tr,
		Target:      handle.Address,
		Replacement: repl.Func,
		Patch:       tr.Patch(),
	}
	release := func() {
		if err := h.Release(); err != nil {
			log.WithError(err).Warn("releasing hook resources")
		}
	}

	if tr.Original() == 0 {
		log.WithError(tr.PassthroughErr()).Debug("original not callable")
		if repl.RequireOriginal {
			release()
			return fmt.Errorf("%w: %v", ErrPassthroughUnavailable, tr.PassthroughErr())
		}
	}
	if repl.Bind != nil {
		if err := repl.Bind(tr.Original()); err != nil {
			release()
			return fmt.Errorf("bind replacement: %w", err)
		}
	}
	h.OnRelease = repl.Unbind

	if err := patch.Install(h); err != nil {
		release()
		return err
	}
	if err := reg.Register(symbol, h); err != nil {
		if uerr := patch.Uninstall(h); uerr != nil {
			return errors.Join(err, uerr)
		}
		release()
		return err
	}
	log.WithField("passthrough", tr.Original() != 0).Info("hook installed")
	return nil
}

// RemoveOverride restores the original entry of symbol. When the patched
// code has been unmapped or overwritten the hook's resources are released,
// it stays visible through Status as failed until the next install, and the
// error wraps ErrRestoreFailed. Other failures keep the hook installed so
// removal can be retried.
func (b *Bridge) RemoveOverride(symbol string) error {
	const op = "remove"
	reg, err := b.hooks(false)
	if err != nil {
		return fail(op, symbol, err)
	}
	if reg == nil {
		return fail(op, symbol, ErrNotInstalled)
	}
	return fail(op, symbol, reg.Exclusive(func() error {
		h, ok := reg.Lookup(symbol)
		if !ok {
			return ErrNotInstalled
		}
		if h.State() != registry.Installed {
			reg.Unregister(symbol)
			return fmt.Errorf("%w: last failure: %v", ErrNotInstalled, h.LastErr())
		}
		return b.uninstall(reg, symbol, h)
	}))
}

// uninstall runs with the registry operation lock held. Unbind happens as
// soon as the target no longer branches into the hook; only the trampoline
// unmap waits for RetireDelay.
func (b *Bridge) uninstall(reg *registry.Registry, symbol string, h *registry.Hook) error {
	log := b.log.WithField("symbol", symbol)
	if err := patch.Uninstall(h); err != nil {
		if !errors.Is(err, patch.ErrSiteGone) {
			log.WithError(err).Warn("hook removal failed, keeping it")
			return err
		}
		log.WithError(err).Warn("patch site lost, releasing hook")
		h.Unbind()
		b.retire(log, h)
		return err
	}
	h.Unbind()
	reg.Unregister(symbol)
	b.retire(log, h)
	log.Info("hook removed")
	return nil
}

func (b *Bridge) retire(log logrus.FieldLogger, h *registry.Hook) {
	release := func() {
		if err := h.Release(); err != nil {
			log.WithError(err).Warn("releasing hook resources")
		}
	}
	if b.opts.RetireDelay <= 0 {
		release()
		return
	}
	time.AfterFunc(b.opts.RetireDelay, release)
}

// IsActive reports whether symbol is currently redirected by this bridge.
func (b *Bridge) IsActive(symbol string) bool {
	reg, err := b.hooks(false)
	if err != nil || reg == nil {
		return false
	}
	h, ok := reg.Lookup(symbol)
	return ok && h.State() == registry.Installed
}

func (b *Bridge) Status(symbol string) Status {
	st := Status{Symbol: symbol}
	reg, err := b.hooks(false)
	if err != nil {
		st.Err = err
		return st
	}
	if reg == nil {
		return st
	}
	h, ok := reg.Lookup(symbol)
	if !ok {
		return st
	}
	switch h.State() {
	case registry.Installed:
		st.State = StateInstalled
	case registry.Failed:
		st.State = StateFailed
	}
	if h.Handle != nil {
		st.Library = h.Handle.Library
	}
	st.Passthrough = h.Trampoline != nil && h.Trampoline.Original() != 0
	st.Err = h.LastErr()
	return st
}

// Hooks lists the symbols this bridge has installed.
func (b *Bridge) Hooks() []string {
	reg, err := b.hooks(false)
	if err != nil || reg == nil {
		return nil
	}
	var names []string
	reg.ForEach(func(name string, h *registry.Hook) {
		if h.State() == registry.Installed {
			names = append(names, name)
		}
	})
	return names
}

// Close removes every hook. Hooks that cannot be removed stay patched and
// are reported. Close is idempotent; afterwards every operation fails with
// ErrClosed.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	reg := b.reg
	b.reg = nil
	b.mu.Unlock()

	if reg == nil {
		return nil
	}
	var errs []error
	_ = reg.Exclusive(func() error {
		reg.ForEach(func(name string, h *registry.Hook) {
			if h.State() != registry.Installed {
				reg.Unregister(name)
				return
			}
			errs = append(errs, fail("close", name, b.uninstall(reg, name, h)))
		})
		return nil
	})
	return errors.Join(errs...)
}

// OverrideProperties sets property overrides served by the property hook.
// Values must be shorter than 92 bytes. The table is shared by every
// bridge in the process.
func (b *Bridge) OverrideProperties(values map[string]string) error {
	if b.isClosed() {
		return fail("override", "", ErrClosed)
	}
	return fail("override", "", propspoof.Set(values))
}

func (b *Bridge) OverrideProperty(key, value string) error {
	return b.OverrideProperties(map[string]string{key: value})
}

// ClearProperties drops the given overrides, or all of them.
func (b *Bridge) ClearProperties(keys ...string) {
	propspoof.Delete(keys...)
}

func (b *Bridge) PropertyStats() PropertyStats {
	return propspoof.ReadStats()
}

// PropertyHookActive reports whether this bridge holds the property hook.
func (b *Bridge) PropertyHookActive() bool {
	return b.IsActive(b.opts.PropertySymbol)
}

// InitNativeHooks spoofs the SoC model and manufacturer properties and
// installs the property hook if it is not already active. Keys without an
// override still reach the real getter.
func (b *Bridge) InitNativeHooks(socModel, socManufacturer string) error {
	if err := b.OverrideProperties(SocProperties(socModel, socManufacturer)); err != nil {
		return err
	}
	if b.PropertyHookActive() {
		return nil
	}
	return b.InstallPropertyHook()
}

// InstallPropertyHook redirects the property getter to the override table.
// Only one bridge per process can hold it.
func (b *Bridge) InstallPropertyHook() error {
	return b.InstallOverride(b.opts.PropertySymbol, b.opts.PropertyLibraries, Replacement{
		Func:            propspoof.Func(),
		Bind:            propspoof.Bind,
		Unbind:          propspoof.Unbind,
		RequireOriginal: true,
	})
}

// PropertySymbol is the getter InstallPropertyHook replaces.
func (b *Bridge) PropertySymbol() string {
	return b.opts.PropertySymbol
}
