//go:build linux

// Package patch writes and reverts entry patches. Sites are tracked process
// wide so two bridges can never patch the same address.
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sliverarmory/nativehook/internal/hookerr"
	"github.com/sliverarmory/nativehook/internal/mem"
	"github.com/sliverarmory/nativehook/internal/procmaps"
	"github.com/sliverarmory/nativehook/internal/registry"
)

// ErrSiteGone marks a restore that cannot happen because the site was
// unmapped or overwritten. The site is forgotten.
var ErrSiteGone = errors.New("patch site no longer holds the hook")

type site struct {
	saved []byte
	patch []byte
}

var (
	sitesMu sync.Mutex
	sites   = make(map[uintptr]*site)
)

// Active reports whether addr currently carries a patch.
func Active(addr uintptr) bool {
	sitesMu.Lock()
	defer sitesMu.Unlock()
	_, ok := sites[addr]
	return ok
}

// Apply writes data at addr and returns the bytes it replaced.
func Apply(addr uintptr, data []byte) ([]byte, error) {
	if addr == 0 || len(data) == 0 {
		return nil, fmt.Errorf("%w: empty patch", hookerr.ErrInvalidArgument)
	}

	sitesMu.Lock()
	defer sitesMu.Unlock()

	if _, ok := sites[addr]; ok {
		return nil, fmt.Errorf("%w: site %#x is already patched", hookerr.ErrAlreadyInstalled, addr)
	}
	region, err := lookup(addr, len(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hookerr.ErrProtectionChangeFailed, err)
	}
	if !mem.Atomic(addr, len(data)) {
		return nil, fmt.Errorf("%w: %#x: %v", hookerr.ErrPatchWriteFailed, addr, mem.ErrNotAtomic)
	}

	saved := append([]byte(nil), mem.Bytes(addr, uintptr(len(data)))...)
	if err := write(region, addr, data, saved); err != nil {
		return nil, err
	}
	sites[addr] = &site{saved: saved, patch: append([]byte(nil), data...)}
	return append([]byte(nil), saved...), nil
}

// Revert puts back the bytes Apply displaced at addr.
func Revert(addr uintptr) error {
	sitesMu.Lock()
	defer sitesMu.Unlock()

	s, ok := sites[addr]
	if !ok {
		return fmt.Errorf("%w: site %#x", hookerr.ErrNotInstalled, addr)
	}
	maps, err := procmaps.Read()
	if err != nil {
		return fmt.Errorf("%w: %v", hookerr.ErrRestoreFailed, err)
	}
	region, ok := maps.Covering(addr, uintptr(len(s.saved)))
	if !ok {
		delete(sites, addr)
		return fmt.Errorf("%w: %w: %#x is unmapped", hookerr.ErrRestoreFailed, ErrSiteGone, addr)
	}
	if region.Prot()&unix.PROT_READ == 0 {
		return fmt.Errorf("%w: %#x is not readable", hookerr.ErrRestoreFailed, addr)
	}
	if !bytes.Equal(mem.Bytes(addr, uintptr(len(s.patch))), s.patch) {
		delete(sites, addr)
		return fmt.Errorf("%w: %w: %#x was overwritten", hookerr.ErrRestoreFailed, ErrSiteGone, addr)
	}
	if err := write(region, addr, s.saved, s.patch); err != nil {
		return fmt.Errorf("%w: %w", hookerr.ErrRestoreFailed, err)
	}
	delete(sites, addr)
	return nil
}

// Install patches the hook's target and marks it Installed.
func Install(h *registry.Hook) error {
	if h.State() == registry.Installed {
		return fmt.Errorf("%w: %s", hookerr.ErrAlreadyInstalled, h.Symbol)
	}
	saved, err := Apply(h.Target, h.Patch)
	if err != nil {
		h.MarkFailed(err)
		return err
	}
	if err := h.MarkInstalled(saved); err != nil {
		_ = Revert(h.Target)
		return err
	}
	return nil
}

// Uninstall restores the hook's target. When the site is gone the hook is
// forgotten and the error wraps ErrSiteGone; other failures leave the hook
// Installed so the caller can retry.
func Uninstall(h *registry.Hook) error {
	if h.State() != registry.Installed {
		return fmt.Errorf("%w: %s", hookerr.ErrNotInstalled, h.Symbol)
	}
	if err := Revert(h.Target); err != nil {
		if errors.Is(err, ErrSiteGone) {
			h.Forget(err)
		} else {
			h.MarkFailed(err)
		}
		return err
	}
	h.MarkUninstalled()
	return nil
}

func lookup(addr uintptr, size int) (procmaps.Region, error) {
	maps, err := procmaps.Read()
	if err != nil {
		return procmaps.Region{}, err
	}
	region, ok := maps.Covering(addr, uintptr(size))
	if !ok {
		return procmaps.Region{}, fmt.Errorf("%#x+%d is not mapped", addr, size)
	}
	if region.Prot()&unix.PROT_READ == 0 {
		return procmaps.Region{}, fmt.Errorf("%#x is not readable", addr)
	}
	return region, nil
}

// write publishes data over prev. The pages keep their read and exec bits
// during the store and get their exact original protection back afterwards.
// Any failure after the store puts prev back.
func write(region procmaps.Region, addr uintptr, data, prev []byte) error {
	size := uintptr(len(data))
	orig := region.Prot()
	if err := mem.Protect(addr, size, orig|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("%w: %v", hookerr.ErrProtectionChangeFailed, err)
	}
	if err := mem.StoreAtomic(addr, data); err != nil {
		_ = mem.Protect(addr, size, orig)
		return fmt.Errorf("%w: %#x: %v", hookerr.ErrPatchWriteFailed, addr, err)
	}
	if !bytes.Equal(mem.Bytes(addr, size), data) {
		_ = mem.StoreAtomic(addr, prev)
		_ = mem.Protect(addr, size, orig)
		return fmt.Errorf("%w: %#x did not read back", hookerr.ErrPatchWriteFailed, addr)
	}
	if err := mem.Protect(addr, size, orig); err != nil {
		_ = mem.StoreAtomic(addr, prev)
		_ = mem.Protect(addr, size, orig)
		return fmt.Errorf("%w: %v", hookerr.ErrProtectionChangeFailed, err)
	}
	mem.FlushInstructionCache(addr, size)
	return nil
}
