//go:build linux && cgo && (amd64 || arm64)

package nativehook

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sliverarmory/nativehook/internal/hooktest"
	"github.com/sliverarmory/nativehook/internal/mem"
)

var mainProgram = []string{""}

func newBridge(t *testing.T, opts Options) *Bridge {
	t.Helper()
	b := New(opts)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func entryBytes(target hooktest.Target) []byte {
	return append([]byte(nil), mem.Bytes(target.Addr(), mem.WordSize)...)
}

func TestIsActiveBeforeInstall(t *testing.T) {
	b := newBridge(t, Options{})
	assert.False(t, b.IsActive(hooktest.Add.Symbol()))
	assert.Equal(t, StateUninstalled, b.Status(hooktest.Add.Symbol()).State)
	assert.Empty(t, b.Hooks())
}

func TestInstallRemoveRoundTrip(t *testing.T) {
	b := newBridge(t, Options{})
	before := entryBytes(hooktest.Add)

	require.NoError(t, b.InstallOverride(hooktest.Add.Symbol(), mainProgram, NativeFunc(hooktest.Replacement())))
	assert.True(t, b.IsActive(hooktest.Add.Symbol()))
	assert.Equal(t, int64(2003), hooktest.Add.Call(2, 3))
	assert.NotEqual(t, before, entryBytes(hooktest.Add))

	st := b.Status(hooktest.Add.Symbol())
	assert.Equal(t, StateInstalled, st.State)
	assert.Equal(t, "<main program>", st.Library)
	assert.True(t, st.Passthrough)
	assert.NoError(t, st.Err)
	assert.Equal(t, []string{hooktest.Add.Symbol()}, b.Hooks())

	require.NoError(t, b.RemoveOverride(hooktest.Add.Symbol()))
	assert.False(t, b.IsActive(hooktest.Add.Symbol()))
	assert.Equal(t, before, entryBytes(hooktest.Add), "entry restored byte for byte")
	assert.Equal(t, int64(5), hooktest.Add.Call(2, 3))

	err := b.RemoveOverride(hooktest.Add.Symbol())
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestDuplicateHook(t *testing.T) {
	b := newBridge(t, Options{})
	sym := hooktest.Mul.Symbol()
	require.NoError(t, b.InstallOverride(sym, mainProgram, NativeFunc(hooktest.Replacement())))

	err := b.InstallOverride(sym, mainProgram, NativeFunc(hooktest.Replacement()))
	assert.ErrorIs(t, err, ErrDuplicateHook)
	assert.True(t, b.IsActive(sym), "first hook is untouched")
	assert.Equal(t, int64(3004), hooktest.Mul.Call(3, 4))
}

func TestEmptyCandidates(t *testing.T) {
	b := newBridge(t, Options{})
	before := entryBytes(hooktest.Add)

	err := b.InstallOverride(hooktest.Add.Symbol(), nil, NativeFunc(hooktest.Replacement()))
	assert.ErrorIs(t, err, ErrLibraryNotFound)
	assert.False(t, b.IsActive(hooktest.Add.Symbol()))
	assert.Equal(t, before, entryBytes(hooktest.Add))
}

func TestUnknownLibraryAndSymbol(t *testing.T) {
	b := newBridge(t, Options{})

	err := b.InstallOverride("open", []string{"/nonexistent/libnope.so"}, NativeFunc(hooktest.Replacement()))
	assert.ErrorIs(t, err, ErrLibraryNotFound)

	err = b.InstallOverride("hookd_no_such_function", mainProgram, NativeFunc(hooktest.Replacement()))
	assert.ErrorIs(t, err, ErrSymbolNotFound)
	assert.Empty(t, b.Hooks())
}

func TestZeroReplacement(t *testing.T) {
	b := newBridge(t, Options{})
	err := b.InstallOverride(hooktest.Add.Symbol(), mainProgram, Replacement{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestErrorCarriesOperation(t *testing.T) {
	b := newBridge(t, Options{})
	err := b.RemoveOverride("open")

	var herr *Error
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, "remove", herr.Op)
	assert.Equal(t, "open", herr.Symbol)
	assert.Contains(t, err.Error(), "remove open")
}

func bindOriginal() Replacement {
	return Replacement{
		Func:            hooktest.PassthroughReplacement(),
		Bind:            func(orig uintptr) error { hooktest.SetOriginal(orig); return nil },
		Unbind:          func() { hooktest.SetOriginal(0) },
		RequireOriginal: true,
	}
}

func TestPassthrough(t *testing.T) {
	b := newBridge(t, Options{})
	require.NoError(t, b.InstallOverride(hooktest.Mul.Symbol(), mainProgram, bindOriginal()))
	assert.Equal(t, int64(1000012), hooktest.Mul.Call(3, 4))

	require.NoError(t, b.RemoveOverride(hooktest.Mul.Symbol()))
	assert.Equal(t, int64(12), hooktest.Mul.Call(3, 4))
}

func TestPassthroughRelocatedCall(t *testing.T) {
	b := newBridge(t, Options{})
	require.NoError(t, b.InstallOverride(hooktest.CallRel.Symbol(), mainProgram, bindOriginal()))
	assert.Equal(t, int64(1000046), hooktest.CallRel.Call(5, 0))
}

func TestPassthroughRequired(t *testing.T) {
	b := newBridge(t, Options{})
	before := entryBytes(hooktest.JShort)

	err := b.InstallOverride(hooktest.JShort.Symbol(), mainProgram, bindOriginal())
	assert.ErrorIs(t, err, ErrPassthroughUnavailable)
	assert.False(t, b.IsActive(hooktest.JShort.Symbol()))
	assert.Equal(t, before, entryBytes(hooktest.JShort))

	// without the requirement the hook installs and replaces outright
	require.NoError(t, b.InstallOverride(hooktest.JShort.Symbol(), mainProgram, NativeFunc(hooktest.Replacement())))
	assert.Equal(t, int64(9009), hooktest.JShort.Call(9, 9))
	assert.False(t, b.Status(hooktest.JShort.Symbol()).Passthrough)
}

func TestBindFailureRollsBack(t *testing.T) {
	b := newBridge(t, Options{})
	before := entryBytes(hooktest.Add)
	unbound := false

	err := b.InstallOverride(hooktest.Add.Symbol(), mainProgram, Replacement{
		Func:   hooktest.Replacement(),
		Bind:   func(uintptr) error { return errors.New("refused") },
		Unbind: func() { unbound = true },
	})
	assert.ErrorContains(t, err, "refused")
	assert.False(t, b.IsActive(hooktest.Add.Symbol()))
	assert.Equal(t, before, entryBytes(hooktest.Add))
	assert.False(t, unbound, "Unbind only follows a successful Bind")
}

func TestSiteSharedAcrossBridges(t *testing.T) {
	first := newBridge(t, Options{})
	second := newBridge(t, Options{})

	require.NoError(t, first.InstallOverride(hooktest.Add.Symbol(), mainProgram, NativeFunc(hooktest.Replacement())))
	err := second.InstallOverride(hooktest.Add.Symbol(), mainProgram, NativeFunc(hooktest.Replacement()))
	assert.ErrorIs(t, err, ErrAlreadyInstalled)
	assert.False(t, second.IsActive(hooktest.Add.Symbol()))
	assert.Equal(t, int64(2003), hooktest.Add.Call(2, 3))
}

func TestConcurrentInstallSameSymbol(t *testing.T) {
	b := newBridge(t, Options{})

	var (
		wg   sync.WaitGroup
		ok   atomic.Int32
		dups atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.InstallOverride(hooktest.Mul.Symbol(), mainProgram, NativeFunc(hooktest.Replacement()))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrDuplicateHook):
				dups.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), dups.Load())
}

func TestCallersDuringInstallAndRemove(t *testing.T) {
	b := newBridge(t, Options{})

	var (
		stop atomic.Bool
		bad  atomic.Int64
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				if got := hooktest.Add.Call(1, 2); got != 3 && got != 1002 {
					bad.Add(1)
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, b.InstallOverride(hooktest.Add.Symbol(), mainProgram, NativeFunc(hooktest.Replacement())))
		require.NoError(t, b.RemoveOverride(hooktest.Add.Symbol()))
	}
	stop.Store(true)
	wg.Wait()
	assert.Zero(t, bad.Load())
}

func TestRetireDelay(t *testing.T) {
	b := newBridge(t, Options{RetireDelay: 10 * time.Millisecond})
	require.NoError(t, b.InstallOverride(hooktest.Add.Symbol(), mainProgram, NativeFunc(hooktest.Replacement())))
	require.NoError(t, b.RemoveOverride(hooktest.Add.Symbol()))
	assert.Equal(t, int64(5), hooktest.Add.Call(2, 3))

	// the site is free again even before the old trampoline is unmapped
	require.NoError(t, b.InstallOverride(hooktest.Add.Symbol(), mainProgram, NativeFunc(hooktest.Replacement())))
	assert.Equal(t, int64(2003), hooktest.Add.Call(2, 3))
}

func TestRetireDelayKeepsNewBinding(t *testing.T) {
	b := newBridge(t, Options{RetireDelay: 50 * time.Millisecond})
	sym := hooktest.Mul.Symbol()

	require.NoError(t, b.InstallOverride(sym, mainProgram, bindOriginal()))
	require.NoError(t, b.RemoveOverride(sym))
	require.NoError(t, b.InstallOverride(sym, mainProgram, bindOriginal()))
	assert.Equal(t, int64(1000012), hooktest.Mul.Call(3, 4))

	// the first hook's delayed release must not unbind the second
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int64(1000012), hooktest.Mul.Call(3, 4))
}

func TestRetireDelayPropertyRebind(t *testing.T) {
	b := newBridge(t, Options{
		RetireDelay:       50 * time.Millisecond,
		PropertySymbol:    hooktest.PropertyGet.Symbol(),
		PropertyLibraries: mainProgram,
	})
	t.Cleanup(func() { b.ClearProperties() })

	require.NoError(t, b.InitNativeHooks("Tensor G4", "Google"))
	require.NoError(t, b.RemoveOverride(hooktest.PropertyGet.Symbol()))
	require.NoError(t, b.InitNativeHooks("Tensor G4", "Google"), "property getter can be rebound at once")

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, "Tensor G4", hooktest.CallPropertyGet("ro.soc.model"))
	assert.Equal(t, "Google", hooktest.CallPropertyGet("ro.soc.manufacturer"))
}

func TestLostSiteReportedAsFailed(t *testing.T) {
	b := newBridge(t, Options{})
	sym := hooktest.Add.Symbol()
	addr := hooktest.Add.Addr()
	before := entryBytes(hooktest.Add)

	unbound := 0
	require.NoError(t, b.InstallOverride(sym, mainProgram, Replacement{
		Func:   hooktest.Replacement(),
		Unbind: func() { unbound++ },
	}))

	// someone else puts the original bytes back behind our back
	require.NoError(t, mem.Protect(addr, mem.WordSize, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC))
	require.NoError(t, mem.StoreAtomic(addr, before))
	require.NoError(t, mem.Protect(addr, mem.WordSize, unix.PROT_READ|unix.PROT_EXEC))

	err := b.RemoveOverride(sym)
	assert.ErrorIs(t, err, ErrRestoreFailed)
	assert.Equal(t, 1, unbound)
	assert.Equal(t, int64(5), hooktest.Add.Call(2, 3))

	st := b.Status(sym)
	assert.Equal(t, StateFailed, st.State)
	assert.ErrorIs(t, st.Err, ErrRestoreFailed)
	assert.False(t, b.IsActive(sym))
	assert.Empty(t, b.Hooks())

	// a new install replaces the failed record
	require.NoError(t, b.InstallOverride(sym, mainProgram, NativeFunc(hooktest.Replacement())))
	assert.Equal(t, StateInstalled, b.Status(sym).State)
	require.NoError(t, b.RemoveOverride(sym))
	assert.Equal(t, before, entryBytes(hooktest.Add))
}

func TestRemoveFailedRecord(t *testing.T) {
	b := newBridge(t, Options{})
	sym := hooktest.Add.Symbol()
	addr := hooktest.Add.Addr()
	before := entryBytes(hooktest.Add)

	require.NoError(t, b.InstallOverride(sym, mainProgram, NativeFunc(hooktest.Replacement())))
	require.NoError(t, mem.Protect(addr, mem.WordSize, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC))
	require.NoError(t, mem.StoreAtomic(addr, before))
	require.NoError(t, mem.Protect(addr, mem.WordSize, unix.PROT_READ|unix.PROT_EXEC))
	require.Error(t, b.RemoveOverride(sym))

	assert.ErrorIs(t, b.RemoveOverride(sym), ErrNotInstalled, "removing drops the failed record")
	assert.Equal(t, StateUninstalled, b.Status(sym).State)
}

func TestClose(t *testing.T) {
	b := New(Options{})
	addBefore, mulBefore := entryBytes(hooktest.Add), entryBytes(hooktest.Mul)

	require.NoError(t, b.InstallOverride(hooktest.Add.Symbol(), mainProgram, NativeFunc(hooktest.Replacement())))
	require.NoError(t, b.InstallOverride(hooktest.Mul.Symbol(), mainProgram, NativeFunc(hooktest.Replacement())))

	require.NoError(t, b.Close())
	assert.Equal(t, addBefore, entryBytes(hooktest.Add))
	assert.Equal(t, mulBefore, entryBytes(hooktest.Mul))
	assert.False(t, b.IsActive(hooktest.Add.Symbol()))

	err := b.InstallOverride(hooktest.Add.Symbol(), mainProgram, NativeFunc(hooktest.Replacement()))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.RemoveOverride(hooktest.Add.Symbol()), ErrClosed)
	assert.NoError(t, b.Close())
}

func propertyBridge(t *testing.T) *Bridge {
	t.Helper()
	b := newBridge(t, Options{
		PropertySymbol:    hooktest.PropertyGet.Symbol(),
		PropertyLibraries: mainProgram,
	})
	t.Cleanup(func() { b.ClearProperties() })
	return b
}

func TestInitNativeHooks(t *testing.T) {
	b := propertyBridge(t)
	require.Equal(t, "Tensor G3", hooktest.CallPropertyGet("ro.soc.model"))

	require.NoError(t, b.InitNativeHooks("Tensor G4", "Google"))
	assert.True(t, b.PropertyHookActive())
	start := b.PropertyStats()

	assert.Equal(t, "Tensor G4", hooktest.CallPropertyGet("ro.soc.model"))
	assert.Equal(t, "Tensor G4", hooktest.CallPropertyGet("ro.hardware.chipname"))
	assert.Equal(t, "Google", hooktest.CallPropertyGet("ro.soc.manufacturer"))
	assert.Empty(t, hooktest.CallPropertyGet("ro.product.model"), "unknown keys reach the original")

	stats := b.PropertyStats()
	assert.Equal(t, start.Requests+4, stats.Requests)
	assert.Equal(t, start.Spoofed+3, stats.Spoofed)

	// a second call only updates the table
	require.NoError(t, b.InitNativeHooks("Tensor G5", "Google"))
	assert.Equal(t, "Tensor G5", hooktest.CallPropertyGet("ro.soc.model"))

	require.NoError(t, b.RemoveOverride(hooktest.PropertyGet.Symbol()))
	assert.Equal(t, "Tensor G3", hooktest.CallPropertyGet("ro.soc.model"))
}

func TestPropertyOverrides(t *testing.T) {
	b := propertyBridge(t)
	require.NoError(t, b.InitNativeHooks("Tensor G4", "Google"))

	require.NoError(t, b.OverrideProperty("ro.product.model", "Pixel 9"))
	assert.Equal(t, "Pixel 9", hooktest.CallPropertyGet("ro.product.model"))

	err := b.OverrideProperty("ro.product.model", strings.Repeat("x", 92))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, "Pixel 9", hooktest.CallPropertyGet("ro.product.model"))

	b.ClearProperties("ro.soc.model")
	assert.Equal(t, "Tensor G3", hooktest.CallPropertyGet("ro.soc.model"))

	b.ClearProperties()
	assert.Equal(t, "Google", hooktest.CallPropertyGet("ro.soc.manufacturer"))
	assert.Empty(t, hooktest.CallPropertyGet("ro.product.model"))
}

func TestPropertyHookMissingLibrary(t *testing.T) {
	b := newBridge(t, Options{PropertyLibraries: []string{"/nonexistent/libc.so"}})
	t.Cleanup(func() { b.ClearProperties() })

	err := b.InitNativeHooks("Tensor G4", "Google")
	assert.ErrorIs(t, err, ErrLibraryNotFound)
	assert.False(t, b.PropertyHookActive())
}
