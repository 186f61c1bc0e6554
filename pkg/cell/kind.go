package cell

import (
	"fmt"
	"strings"
)

// Kind is the class of a power cell. Cells are only ever aggregated with
// cells of the same kind.
type Kind int

const (
	KindPrimary Kind = iota
	KindUPS
	KindMouse
	KindKeyboard
	KindPDA
	KindPhone
)

var kindNames = [...]string{
	KindPrimary:  "primary",
	KindUPS:      "ups",
	KindMouse:    "mouse",
	KindKeyboard: "keyboard",
	KindPDA:      "pda",
	KindPhone:    "phone",
}

// Kinds lists every kind in display order.
var Kinds = []Kind{KindPrimary, KindUPS, KindMouse, KindKeyboard, KindPDA, KindPhone}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(name, s) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cell kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// IsCoinCell reports whether the kind only reports coarse raw charge levels.
func (k Kind) IsCoinCell() bool {
	return k == KindMouse || k == KindKeyboard
}

// Unit is the unit the charge fields are reported in.
func (k Kind) Unit() Unit {
	switch k {
	case KindPrimary:
		return UnitMWh
	case KindMouse, KindKeyboard:
		return UnitCSR
	default:
		return UnitPercent
	}
}

// Description is the human readable name of the kind.
func (k Kind) Description(plural bool) string {
	switch k {
	case KindPrimary:
		if plural {
			return "Laptop batteries"
		}
		return "Laptop battery"
	case KindUPS:
		if plural {
			return "UPSs"
		}
		return "UPS"
	case KindMouse:
		if plural {
			return "Wireless mice"
		}
		return "Wireless mouse"
	case KindKeyboard:
		if plural {
			return "Wireless keyboards"
		}
		return "Wireless keyboard"
	case KindPDA:
		if plural {
			return "PDAs"
		}
		return "PDA"
	case KindPhone:
		if plural {
			return "Cell phones"
		}
		return "Cell phone"
	default:
		return "Unknown device"
	}
}

// Unit is the measurement unit of the charge fields.
type Unit int

const (
	UnitMWh Unit = iota
	// UnitCSR is a raw charge-status register level, 0 to 7.
	UnitCSR
	UnitPercent
)

func (u Unit) String() string {
	switch u {
	case UnitMWh:
		return "mWh"
	case UnitCSR:
		return "csr"
	case UnitPercent:
		return "percent"
	default:
		return "unknown"
	}
}

func (u Unit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// Property is a telemetry key understood by Cell.
type Property int

const (
	PropertyUnknown Property = iota
	PropertyPresent
	PropertyRechargeable
	PropertyCharging
	PropertyDischarging
	PropertyChargeDesign
	PropertyChargeLastFull
	PropertyChargeCurrent
	PropertyRate
	PropertyVoltage
	PropertyPercentage
	PropertyRemainingTime
	PropertyVendor
	PropertyModel
	PropertySerial
	PropertyProduct
	PropertyTechnology
	PropertyRecalled
	PropertyRecallVendor
	PropertyRecallURL
)

var propertyNames = map[Property]string{
	PropertyPresent:        "present",
	PropertyRechargeable:   "rechargeable",
	PropertyCharging:       "charging",
	PropertyDischarging:    "discharging",
	PropertyChargeDesign:   "charge_design",
	PropertyChargeLastFull: "charge_last_full",
	PropertyChargeCurrent:  "charge_current",
	PropertyRate:           "rate",
	PropertyVoltage:        "voltage",
	PropertyPercentage:     "percentage",
	PropertyRemainingTime:  "remaining_time",
	PropertyVendor:         "vendor",
	PropertyModel:          "model",
	PropertySerial:         "serial",
	PropertyProduct:        "product",
	PropertyTechnology:     "technology",
	PropertyRecalled:       "recalled",
	PropertyRecallVendor:   "recall_vendor",
	PropertyRecallURL:      "recall_url",
}

var propertyByName = func() map[string]Property {
	m := make(map[string]Property, len(propertyNames))
	for p, name := range propertyNames {
		m[name] = p
	}
	return m
}()

// Properties lists every known property in refresh order.
var Properties = []Property{
	PropertyPresent,
	PropertyRechargeable,
	PropertyCharging,
	PropertyDischarging,
	PropertyChargeDesign,
	PropertyChargeLastFull,
	PropertyChargeCurrent,
	PropertyRate,
	PropertyVoltage,
	PropertyPercentage,
	PropertyRemainingTime,
	PropertyVendor,
	PropertyModel,
	PropertySerial,
	PropertyProduct,
	PropertyTechnology,
	PropertyRecalled,
	PropertyRecallVendor,
	PropertyRecallURL,
}

func (p Property) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParseProperty maps a telemetry key to a Property. Unknown keys map to
// PropertyUnknown.
func ParseProperty(s string) Property {
	return propertyByName[s]
}

// IsIdentity reports whether a change of the property may mean a different
// physical unit is now in the slot.
func (p Property) IsIdentity() bool {
	switch p {
	case PropertyVendor, PropertyModel, PropertySerial, PropertyProduct:
		return true
	}
	return false
}
