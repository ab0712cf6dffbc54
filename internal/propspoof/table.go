// Package propspoof answers system property reads from an override table.
// Keys without an override fall through to the original getter.
package propspoof

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sliverarmory/nativehook/internal/hookerr"
)

// PropValueMax is the size of the caller's value buffer, NUL included.
const PropValueMax = 92

// Symbol is the getter replaced by the property hook.
const Symbol = "__system_property_get"

// Stats counts getter calls seen by the shim.
type Stats struct {
	Requests    uint64
	Spoofed     uint64
	Passthrough uint64
}

var (
	tableMu sync.RWMutex
	table   = make(map[string]string)

	requests atomic.Uint64
	spoofed  atomic.Uint64
)

// Validate checks that key and value fit the getter's contract.
func Validate(key, value string) error {
	if key == "" || strings.IndexByte(key, 0) >= 0 {
		return fmt.Errorf("%w: property key %q", hookerr.ErrInvalidArgument, key)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%w: value for %s contains NUL", hookerr.ErrInvalidArgument, key)
	}
	if len(value) >= PropValueMax {
		return fmt.Errorf("%w: value for %s is %d bytes, limit is %d", hookerr.ErrInvalidArgument, key, len(value), PropValueMax-1)
	}
	return nil
}

// Set installs every override or none of them.
func Set(values map[string]string) error {
	for k, v := range values {
		if err := Validate(k, v); err != nil {
			return err
		}
	}
	tableMu.Lock()
	defer tableMu.Unlock()
	for k, v := range values {
		table[k] = v
	}
	return nil
}

// Delete removes the given overrides, or all of them when keys is empty.
func Delete(keys ...string) {
	tableMu.Lock()
	defer tableMu.Unlock()
	if len(keys) == 0 {
		clear(table)
		return
	}
	for _, k := range keys {
		delete(table, k)
	}
}

func Lookup(key string) (string, bool) {
	tableMu.RLock()
	defer tableMu.RUnlock()
	v, ok := table[key]
	return v, ok
}

// Snapshot copies the override table.
func Snapshot() map[string]string {
	tableMu.RLock()
	defer tableMu.RUnlock()
	out := make(map[string]string, len(table))
	for k, v := range table {
		out[k] = v
	}
	return out
}

// lookup is the shim's view of the table.
func lookup(key string) (string, bool) {
	requests.Add(1)
	v, ok := Lookup(key)
	if ok {
		spoofed.Add(1)
	}
	return v, ok
}

func ReadStats() Stats {
	r, s := requests.Load(), spoofed.Load()
	return Stats{Requests: r, Spoofed: s, Passthrough: r - s}
}

func ResetStats() {
	requests.Store(0)
	spoofed.Store(0)
}
