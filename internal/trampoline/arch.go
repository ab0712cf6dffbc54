package trampoline

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/sliverarmory/nativehook/internal/hookerr"
)

var (
	errTooShort       = errors.New("function ends inside the patch window")
	errUndecodable    = errors.New("cannot decode prologue")
	errNotRelocatable = errors.New("prologue is not relocatable")
)

// arch describes how to redirect and relocate code on one CPU family.
type arch struct {
	name string
	// bytes written over the target entry
	patchLen int
	// reach of the entry branch in either direction
	branchRange uintptr

	// branch encodes a direct jump placed at from that lands on to.
	branch func(from, to uintptr) ([]byte, error)
	// absJump encodes a position independent jump to an absolute address.
	absJump func(to uintptr) []byte
	// measure returns how many whole prologue bytes cover need bytes.
	measure func(code []byte, need int) (int, error)
	// relocate rewrites code taken from address from to run at address to.
	relocate func(code []byte, from, to uintptr) ([]byte, error)
}

func hostArch() (*arch, error) {
	switch runtime.GOARCH {
	case "amd64":
		return archAMD64, nil
	case "arm64":
		return archARM64, nil
	default:
		return nil, fmt.Errorf("%w: no trampoline encoder for %s", hookerr.ErrUnsupported, runtime.GOARCH)
	}
}
