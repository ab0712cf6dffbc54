//go:build !linux || !cgo

package propspoof

import (
	"fmt"

	"github.com/sliverarmory/nativehook/internal/hookerr"
)

func Func() uintptr {
	return 0
}

func Bind(uintptr) error {
	return fmt.Errorf("%w: property shim needs cgo", hookerr.ErrUnsupported)
}

func Unbind() {}

func Read(uintptr, string) (string, int) {
	return "", 0
}
