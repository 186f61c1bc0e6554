// Package telemetry reads power-supply devices from the host and reports
// them as per-property changes.
package telemetry

import (
	"github.com/charlie0129/battime/pkg/cell"
)

// Device is one power cell known to a provider.
type Device struct {
	ID   string    `json:"id"`
	Kind cell.Kind `json:"kind"`
}

// Provider is the read side of a device telemetry source. It satisfies
// cell.Source.
type Provider interface {
	Devices() []Device
	Property(id string, key cell.Property) (any, bool)
}

// Listener receives device and property changes from a provider.
type Listener interface {
	DeviceAdded(d Device)
	DeviceRemoved(d Device)
	PropertyChanged(d Device, key cell.Property, v any)
}

var _ cell.Source = Provider(nil)
