package nativehook

import "github.com/sliverarmory/nativehook/internal/propspoof"

type State int

const (
	StateUninstalled State = iota
	StateInstalled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateFailed:
		return "failed"
	default:
		return "uninstalled"
	}
}

// Status describes one hook without exposing addresses.
type Status struct {
	Symbol      string
	State       State
	Library     string
	Passthrough bool
	Err         error
}

// PropertyStats counts reads seen by the property hook.
type PropertyStats = propspoof.Stats

// SocProperties returns the overrides InitNativeHooks applies.
func SocProperties(socModel, socManufacturer string) map[string]string {
	return map[string]string{
		"ro.soc.model":         socModel,
		"ro.hardware.chipname": socModel,
		"ro.chipname":          socModel,
		"ro.hardware.chipset":  socModel,
		"ro.soc.manufacturer":  socManufacturer,
		"ro.soc.vendor":        socManufacturer,
	}
}
