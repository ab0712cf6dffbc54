package nativehook

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sliverarmory/nativehook/internal/logging"
	"github.com/sliverarmory/nativehook/internal/propspoof"
)

// DefaultPropertyLibraries are searched for the property getter.
var DefaultPropertyLibraries = []string{
	"/system/lib64/libc.so",
	"/system/lib/libc.so",
}

type Options struct {
	// Logger receives install and removal events. Nil discards them.
	Logger logrus.FieldLogger

	// RetireDelay postpones unmapping a removed hook's trampoline so
	// threads already inside it can leave. Zero releases immediately.
	RetireDelay time.Duration

	// PropertySymbol and PropertyLibraries locate the getter hooked by
	// InitNativeHooks. Empty values select __system_property_get in
	// DefaultPropertyLibraries.
	PropertySymbol    string
	PropertyLibraries []string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.PropertySymbol == "" {
		o.PropertySymbol = propspoof.Symbol
	}
	if len(o.PropertyLibraries) == 0 {
		o.PropertyLibraries = DefaultPropertyLibraries
	}
	return o
}
