//go:build !linux

package nativehook

import "fmt"

var errUnsupported = fmt.Errorf("%w: native hooks need linux", ErrUnsupported)

// Bridge is inert on this platform. Every operation fails with
// ErrUnsupported.
type Bridge struct{}

func New(Options) *Bridge {
	return &Bridge{}
}

func (b *Bridge) InstallOverride(symbol string, _ []string, _ Replacement) error {
	return fail("install", symbol, errUnsupported)
}

func (b *Bridge) RemoveOverride(symbol string) error {
	return fail("remove", symbol, errUnsupported)
}

func (b *Bridge) IsActive(string) bool {
	return false
}

func (b *Bridge) Status(symbol string) Status {
	return Status{Symbol: symbol, Err: errUnsupported}
}

func (b *Bridge) Hooks() []string {
	return nil
}

func (b *Bridge) Close() error {
	return nil
}

func (b *Bridge) OverrideProperties(map[string]string) error {
	return fail("override", "", errUnsupported)
}

func (b *Bridge) OverrideProperty(string, string) error {
	return fail("override", "", errUnsupported)
}

func (b *Bridge) ClearProperties(...string) {}

func (b *Bridge) PropertyStats() PropertyStats {
	return PropertyStats{}
}

func (b *Bridge) PropertyHookActive() bool {
	return false
}

func (b *Bridge) InitNativeHooks(string, string) error {
	return fail("init", "", errUnsupported)
}

func (b *Bridge) InstallPropertyHook() error {
	return fail("install", "", errUnsupported)
}

func (b *Bridge) PropertySymbol() string {
	return ""
}
