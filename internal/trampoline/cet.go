//go:build linux

package trampoline

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// ibtEnforced reports whether the kernel enforces indirect branch tracking
// for this process. A patched ENDBR64 entry would fault on every indirect
// call when it does.
var ibtEnforced = sync.OnceValue(func() bool {
	raw, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return false
	}
	return threadFeaturesHaveIBT(string(raw))
})

// threadFeaturesHaveIBT scans a /proc/<pid>/status body for an "ibt" entry
// in the enabled x86 thread features.
func threadFeaturesHaveIBT(status string) bool {
	sc := bufio.NewScanner(strings.NewReader(status))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok || key != "x86_Thread_features" {
			continue
		}
		for _, f := range strings.Fields(value) {
			if f == "ibt" {
				return true
			}
		}
	}
	return false
}
