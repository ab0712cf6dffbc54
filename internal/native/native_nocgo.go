//go:build linux && !cgo

package native

import "errors"

var errNoCgo = errors.New("native: built without cgo")

type Library struct{}

func Open(path string) (*Library, error) {
	_ = path
	return nil, errNoCgo
}

func (library *Library) Path() string { return "" }

func (library *Library) Sym(name string) (uintptr, error) {
	_ = name
	return 0, errNoCgo
}

func (library *Library) Close() error { return nil }
