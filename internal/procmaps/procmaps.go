//go:build linux

// Package procmaps reads the memory layout of the current process from
// /proc/self/maps.
package procmaps

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const selfMaps = "/proc/self/maps"

// Region is one line of /proc/self/maps.
type Region struct {
	Start  uintptr
	End    uintptr
	Offset uintptr
	Perms  string
	Path   string
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End
}

// Prot converts the rwx permission string into PROT_* bits.
func (r Region) Prot() int {
	prot := unix.PROT_NONE
	if strings.Contains(r.Perms, "r") {
		prot |= unix.PROT_READ
	}
	if strings.Contains(r.Perms, "w") {
		prot |= unix.PROT_WRITE
	}
	if strings.Contains(r.Perms, "x") {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func (r Region) Executable() bool {
	return strings.Contains(r.Perms, "x")
}

// Maps is a snapshot of the process mappings ordered by start address.
type Maps []Region

// Read parses /proc/self/maps.
func Read() (Maps, error) {
	raw, err := os.ReadFile(selfMaps)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", selfMaps, err)
	}
	return Parse(string(raw))
}

// Parse parses the textual maps format. Malformed lines are skipped.
func Parse(raw string) (Maps, error) {
	lines := strings.Split(raw, "\n")
	maps := make(Maps, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		rangeParts := strings.SplitN(fields[0], "-", 2)
		if len(rangeParts) != 2 {
			continue
		}
		start, startErr := parseHexUintptr(rangeParts[0])
		end, endErr := parseHexUintptr(rangeParts[1])
		offset, offsetErr := parseHexUintptr(fields[2])
		if startErr != nil || endErr != nil || offsetErr != nil || end <= start {
			continue
		}

		path := ""
		if len(fields) >= 6 {
			path = strings.Join(fields[5:], " ")
			path = strings.TrimSuffix(path, " (deleted)")
		}
		maps = append(maps, Region{
			Start:  start,
			End:    end,
			Offset: offset,
			Perms:  fields[1],
			Path:   path,
		})
	}
	if len(maps) == 0 {
		return nil, errors.New("no mappings found")
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].Start < maps[j].Start })
	return maps, nil
}

// Find returns the region containing addr.
func (m Maps) Find(addr uintptr) (Region, bool) {
	i := sort.Search(len(m), func(i int) bool { return m[i].End > addr })
	if i < len(m) && m[i].Contains(addr) {
		return m[i], true
	}
	return Region{}, false
}

// Covering returns the region holding the whole range [addr, addr+size).
func (m Maps) Covering(addr, size uintptr) (Region, bool) {
	r, ok := m.Find(addr)
	if !ok || size == 0 || addr+size > r.End || addr+size < addr {
		return Region{}, false
	}
	return r, true
}

// Mapped reports whether any mapping belongs to path.
func (m Maps) Mapped(path string) bool {
	for _, r := range m {
		if r.Path == path {
			return true
		}
	}
	return false
}

// ByPath returns the regions that map path, in address order.
func (m Maps) ByPath(path string) []Region {
	var out []Region
	for _, r := range m {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// FreeNear returns page-aligned addresses of unmapped holes that can fit size
// bytes and lie entirely within maxDistance of target, closest first.
func (m Maps) FreeNear(target, size, maxDistance, pageSize uintptr) []uintptr {
	if size == 0 || pageSize == 0 {
		return nil
	}
	size = alignUp(size, pageSize)

	low := pageSize * 16
	if target > maxDistance && target-maxDistance > low {
		low = target - maxDistance
	}
	high := target + maxDistance
	if high < target {
		high = ^uintptr(0)
	}
	low = alignUp(low, pageSize)

	type candidate struct {
		addr uintptr
		dist uintptr
	}
	var found []candidate
	consider := func(gapStart, gapEnd uintptr) {
		if gapStart < low {
			gapStart = low
		}
		if gapEnd > high {
			gapEnd = high
		}
		gapStart = alignUp(gapStart, pageSize)
		if gapEnd <= gapStart || gapEnd-gapStart < size {
			return
		}
		last := alignDown(gapEnd-size, pageSize)
		var addr uintptr
		switch {
		case target <= gapStart:
			addr = gapStart
		case target >= last:
			addr = last
		default:
			addr = alignDown(target, pageSize)
		}
		found = append(found, candidate{addr: addr, dist: distance(addr, target)})
	}

	prevEnd := uintptr(0)
	for _, r := range m {
		if r.Start > prevEnd {
			consider(prevEnd, r.Start)
		}
		if r.End > prevEnd {
			prevEnd = r.End
		}
	}
	if prevEnd < high {
		consider(prevEnd, high)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	out := make([]uintptr, 0, len(found))
	for _, c := range found {
		out = append(out, c.addr)
	}
	return out
}

func distance(a, b uintptr) uintptr {
	if a > b {
		return a - b
	}
	return b - a
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

func alignDown(v, align uintptr) uintptr {
	return v &^ (align - 1)
}

func parseHexUintptr(s string) (uintptr, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex string %q: %w", s, err)
	}
	return uintptr(v), nil
}
