//go:build linux && cgo && (amd64 || arm64)

package nativehook_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// buildTargetLib compiles testdata/c/target.c into a shared object, trying
// zig first and the system compiler second.
func buildTargetLib(t *testing.T) string {
	t.Helper()

	outputPath := filepath.Join(t.TempDir(), "libnhtarget.so")
	args := []string{"-shared", "-fPIC", "-O0", "-o", outputPath, "./testdata/c/target.c"}

	if _, err := exec.LookPath("zig"); err == nil {
		zigArgs := append([]string{"cc"}, args...)
		if target, ok := zigTargetFor(runtime.GOARCH); ok {
			zigArgs = append([]string{"cc", "-target", target}, args...)
		}
		out, err := exec.Command("zig", zigArgs...).CombinedOutput()
		if err == nil {
			return outputPath
		}
		t.Logf("zig cc failed, retrying with cc: %v\n%s", err, out)
	}

	cc := os.Getenv("CC")
	if cc == "" {
		cc = "cc"
	}
	fields := strings.Fields(cc)
	if _, err := exec.LookPath(fields[0]); err != nil {
		t.Skipf("no C compiler available: %v", err)
	}
	out, err := exec.Command(fields[0], append(fields[1:], args...)...).CombinedOutput()
	if err != nil {
		t.Fatalf("build target library: %v\n%s", err, out)
	}
	return outputPath
}

func zigTargetFor(goarch string) (string, bool) {
	switch goarch {
	case "amd64":
		return "x86_64-linux-gnu", true
	case "arm64":
		return "aarch64-linux-gnu", true
	default:
		return "", false
	}
}
