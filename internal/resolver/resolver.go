//go:build linux

// Package resolver locates exported functions inside loaded shared objects.
//
// The library handle of a successful resolution stays open until the
// Handle is closed. Closing it earlier could let the loader unmap the code
// that a hook is about to patch.
package resolver

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sliverarmory/nativehook/internal/hookerr"
	"github.com/sliverarmory/nativehook/internal/native"
	"github.com/sliverarmory/nativehook/internal/procmaps"
)

// Status tracks a Handle through resolution.
type Status int

const (
	Unresolved Status = iota
	Resolved
	Failed
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unresolved"
	}
}

// Handle is the result of a resolution request.
type Handle struct {
	Candidates []string
	Symbol     string
	Library    string
	Address    uintptr
	Status     Status

	lib *native.Library
}

// Close releases the library reference held for the resolved address.
func (h *Handle) Close() error {
	if h == nil || h.lib == nil {
		return nil
	}
	lib := h.lib
	h.lib = nil
	return lib.Close()
}

// Resolve tries each candidate in order. The empty string names the main
// program. The first candidate that opens and exports symbol wins.
func Resolve(candidates []string, symbol string) (*Handle, error) {
	h := &Handle{
		Candidates: append([]string(nil), candidates...),
		Symbol:     symbol,
	}
	if strings.TrimSpace(symbol) == "" {
		h.Status = Failed
		return h, fmt.Errorf("%w: symbol name cannot be empty", hookerr.ErrInvalidArgument)
	}

	var (
		opened   bool
		openErrs []error
		symErrs  []error
	)
	for _, candidate := range candidates {
		lib, err := native.Open(candidate)
		if err != nil {
			openErrs = append(openErrs, err)
			continue
		}
		opened = true

		addr, err := lookup(lib, candidate, symbol)
		if err != nil {
			symErrs = append(symErrs, err)
			_ = lib.Close()
			continue
		}

		h.Library = displayName(candidate)
		h.Address = addr
		h.Status = Resolved
		h.lib = lib
		return h, nil
	}

	h.Status = Failed
	if !opened {
		if len(openErrs) == 0 {
			return h, fmt.Errorf("%w: no candidate libraries", hookerr.ErrLibraryNotFound)
		}
		return h, fmt.Errorf("%w: %w", hookerr.ErrLibraryNotFound, errors.Join(openErrs...))
	}
	return h, fmt.Errorf("%w: %s: %w", hookerr.ErrSymbolNotFound, symbol, errors.Join(symErrs...))
}

func lookup(lib *native.Library, candidate, symbol string) (uintptr, error) {
	addr, dlErr := lib.Sym(symbol)
	if dlErr == nil {
		return addr, nil
	}
	addr, elfErr := lookupMapped(candidate, symbol)
	if elfErr == nil {
		return addr, nil
	}
	return 0, errors.Join(dlErr, elfErr)
}

// lookupMapped finds symbols that are not in the dynamic table by reading
// the object's ELF symbol tables and relocating by its load bias.
func lookupMapped(candidate, symbol string) (uintptr, error) {
	path, err := objectPath(candidate)
	if err != nil {
		return 0, err
	}
	maps, err := procmaps.Read()
	if err != nil {
		return 0, err
	}
	regions := maps.ByPath(path)
	if len(regions) == 0 {
		return 0, fmt.Errorf("%s is not mapped", path)
	}

	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open elf %s: %w", path, err)
	}
	defer f.Close()

	off, err := findELFSymbolOffset(f, symbol)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	bias, err := loadBias(f, regions)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return bias + off, nil
}

func objectPath(candidate string) (string, error) {
	if candidate == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate main program: %w", err)
		}
		candidate = exe
	}
	if !filepath.IsAbs(candidate) {
		return "", fmt.Errorf("%s: ELF fallback needs an absolute path", candidate)
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", candidate, err)
	}
	return resolved, nil
}

func findELFSymbolOffset(f *elf.File, symbol string) (uintptr, error) {
	if syms, err := f.DynamicSymbols(); err == nil {
		if off, ok := matchSymbolOffset(syms, symbol); ok {
			return off, nil
		}
	}
	if syms, err := f.Symbols(); err == nil {
		if off, ok := matchSymbolOffset(syms, symbol); ok {
			return off, nil
		}
	}
	return 0, fmt.Errorf("symbol %s not found", symbol)
}

func matchSymbolOffset(symbols []elf.Symbol, want string) (uintptr, bool) {
	for _, s := range symbols {
		if s.Value == 0 || s.Section == elf.SHN_UNDEF {
			continue
		}
		// STT_LOOS is STT_GNU_IFUNC
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC && elf.ST_TYPE(s.Info) != elf.STT_LOOS && elf.ST_TYPE(s.Info) != elf.STT_NOTYPE {
			continue
		}
		if s.Name == want || strings.HasPrefix(s.Name, want+"@") {
			return uintptr(s.Value), true
		}
	}
	return 0, false
}

// loadBias computes the difference between runtime and link-time
// addresses from a mapping of one of the object's PT_LOAD segments.
func loadBias(f *elf.File, regions []procmaps.Region) (uintptr, error) {
	if f.Type == elf.ET_EXEC {
		return 0, nil
	}
	page := uint64(os.Getpagesize())
	for _, r := range regions {
		off := uint64(r.Offset)
		for _, prog := range f.Progs {
			if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
				continue
			}
			segOff := prog.Off &^ (page - 1)
			if off < segOff || off >= prog.Off+prog.Filesz {
				continue
			}
			segVaddr := prog.Vaddr &^ (page - 1)
			linked := segVaddr + (off - segOff)
			return r.Start - uintptr(linked), nil
		}
	}
	return 0, errors.New("no mapping matches a PT_LOAD segment")
}

func displayName(candidate string) string {
	if candidate == "" {
		return "<main program>"
	}
	return candidate
}
