// Package cell tracks the state of individual power cells and merges all
// cells of one kind into a single composite status.
package cell

import (
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// MaxRate is the highest plausible rate in mW. Anything above is reset to 0.
	MaxRate = 100 * 1000
	// LowCapacity is the capacity percentage below which a cell is worn out.
	LowCapacity = 50

	genericID = "generic_id"
)

// Source is the read side of a device telemetry provider.
type Source interface {
	// Property returns the current value of key on device id, and false if
	// the device does not have it.
	Property(id string, key Property) (any, bool)
}

// State is a snapshot of one physical cell.
type State struct {
	DeviceID string `json:"deviceId"`
	Kind     Kind   `json:"kind"`
	Unit     Unit   `json:"unit"`

	IsPresent      bool `json:"isPresent"`
	IsRechargeable bool `json:"isRechargeable"`
	IsCharging     bool `json:"isCharging"`
	IsDischarging  bool `json:"isDischarging"`

	ChargeDesign   float64 `json:"chargeDesign"`
	ChargeLastFull float64 `json:"chargeLastFull"`
	ChargeCurrent  float64 `json:"chargeCurrent"`
	// Rate is in mW.
	Rate float64 `json:"rate"`
	// Voltage is in mV.
	Voltage    float64 `json:"voltage"`
	Percentage float64 `json:"percentage"`
	// TimeCharge and TimeDischarge are in seconds.
	TimeCharge    int64   `json:"timeCharge"`
	TimeDischarge int64   `json:"timeDischarge"`
	Capacity      float64 `json:"capacity"`

	Vendor     string `json:"vendor,omitempty"`
	Model      string `json:"model,omitempty"`
	Serial     string `json:"serial,omitempty"`
	Product    string `json:"product,omitempty"`
	Technology string `json:"technology,omitempty"`

	IsRecalled   bool   `json:"isRecalled"`
	RecallVendor string `json:"recallVendor,omitempty"`
	RecallURL    string `json:"recallUrl,omitempty"`
}

// ReportsPercentage reports whether the cell gives its charge levels as a
// percentage rather than in energy units.
func (s State) ReportsPercentage() bool {
	return s.Rate == 0 && s.ChargeLastFull == 100
}

// Change describes what ApplyProperty changed.
type Change uint

const (
	ChangeValue Change = 1 << iota
	ChangePercentage
	ChangeStatus
	// ChangeRefresh means the whole cell was re-read.
	ChangeRefresh
)

func (c Change) Has(f Change) bool {
	return c&f != 0
}

// Cell is the state of one physical device. It is not safe for concurrent
// use; the owning Aggregator serializes access.
type Cell struct {
	src   Source
	state State
}

func NewCell(id string, kind Kind, src Source) *Cell {
	return &Cell{
		src: src,
		state: State{
			DeviceID: id,
			Kind:     kind,
			Unit:     kind.Unit(),
		},
	}
}

func (c *Cell) State() State {
	return c.state
}

func (c *Cell) DeviceID() string {
	return c.state.DeviceID
}

var idReplacer = strings.NewReplacer(`\`, "_", "\t", "_", `"`, "_", "'", "_", " ", "_", "/", "_")

// ID identifies the physical unit as model-design-serial, so a swapped
// battery in the same slot gets its own profile.
func (c *Cell) ID() string {
	var parts []string
	if len(c.state.Model) > 2 {
		parts = append(parts, c.state.Model)
	}
	if c.state.ChargeDesign > 0 {
		parts = append(parts, strconv.FormatInt(int64(c.state.ChargeDesign), 10))
	}
	if len(c.state.Serial) > 2 {
		parts = append(parts, c.state.Serial)
	}
	if len(parts) == 0 {
		return genericID
	}
	return idReplacer.Replace(strings.Join(parts, "-"))
}

func (c *Cell) read(key Property) (any, bool) {
	v, ok := c.src.Property(c.state.DeviceID, key)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"device":   c.state.DeviceID,
			"property": key.String(),
		}).Trace("property not available")
	}
	return v, ok
}

// Refresh re-reads every property from the source.
func (c *Cell) Refresh() {
	if c.src == nil {
		return
	}
	s := &c.state
	entry := logrus.WithField("device", s.DeviceID)

	v, _ := c.read(PropertyPresent)
	s.IsPresent = toBool(v)
	if !s.IsPresent {
		entry.Debug("cell not present")
		return
	}

	v, _ = c.read(PropertyChargeDesign)
	s.ChargeDesign = toFloat(v)
	v, _ = c.read(PropertyChargeLastFull)
	s.ChargeLastFull = toFloat(v)
	v, _ = c.read(PropertyChargeCurrent)
	s.ChargeCurrent = toFloat(v)

	v, _ = c.read(PropertyRechargeable)
	s.IsRechargeable = toBool(v)

	switch s.Kind {
	case KindPrimary, KindUPS:
		if s.IsRechargeable {
			v, _ = c.read(PropertyCharging)
			s.IsCharging = toBool(v)
			v, _ = c.read(PropertyDischarging)
			s.IsDischarging = toBool(v)
		} else {
			// non-rechargeable cells can only ever go down
			s.IsCharging = false
			s.IsDischarging = true
		}
	case KindPhone:
		v, _ = c.read(PropertyCharging)
		s.IsCharging = toBool(v)
		s.IsDischarging = !s.IsCharging
	default:
		s.IsCharging = false
		s.IsDischarging = true
	}

	if s.Kind == KindPrimary {
		v, ok := c.read(PropertyRate)
		if !ok && (s.IsCharging || s.IsDischarging) {
			entry.Warn("could not read the battery rate")
		}
		c.setRate(toFloat(v))
	}

	v, ok := c.read(PropertyPercentage)
	if !ok {
		entry.Warn("could not read the battery percentage")
	}
	s.Percentage = toFloat(v)

	if s.Kind == KindPrimary || s.Kind == KindUPS {
		v, ok = c.read(PropertyRemainingTime)
		if !ok && (s.IsCharging || s.IsDischarging) {
			entry.Debug("could not read the remaining time")
		}
		c.setRemainingTime(int64(toFloat(v)))
	}

	v, _ = c.read(PropertyVoltage)
	s.Voltage = toFloat(v)

	v, _ = c.read(PropertyVendor)
	s.Vendor = toString(v)
	v, _ = c.read(PropertyModel)
	s.Model = toString(v)
	v, _ = c.read(PropertySerial)
	s.Serial = toString(v)
	v, _ = c.read(PropertyProduct)
	s.Product = toString(v)
	v, _ = c.read(PropertyTechnology)
	s.Technology = toString(v)

	v, _ = c.read(PropertyRecalled)
	s.IsRecalled = toBool(v)
	if s.IsRecalled {
		v, _ = c.read(PropertyRecallVendor)
		s.RecallVendor = toString(v)
		v, _ = c.read(PropertyRecallURL)
		s.RecallURL = toString(v)
	}

	c.updateCapacity()
	s.Unit = s.Kind.Unit()

	entry.WithFields(logrus.Fields{
		"kind":        s.Kind.String(),
		"percentage":  s.Percentage,
		"charging":    s.IsCharging,
		"discharging": s.IsDischarging,
		"capacity":    s.Capacity,
	}).Debug("cell refreshed")
}

// ApplyProperty updates the single field behind key. Unknown keys are
// ignored. A changed identity string re-reads the whole cell.
func (c *Cell) ApplyProperty(key Property, v any) Change {
	s := &c.state
	switch key {
	case PropertyPresent:
		s.IsPresent = toBool(v)
		c.Refresh()
		return ChangeRefresh | ChangeStatus
	case PropertyRechargeable:
		s.IsRechargeable = toBool(v)
	case PropertyCharging:
		s.IsCharging = toBool(v)
		if s.IsCharging {
			s.TimeDischarge = 0
		}
		return ChangeStatus
	case PropertyDischarging:
		s.IsDischarging = toBool(v)
		if s.IsDischarging {
			s.TimeCharge = 0
		}
		return ChangeStatus
	case PropertyChargeDesign:
		s.ChargeDesign = toFloat(v)
		c.updateCapacity()
	case PropertyChargeLastFull:
		s.ChargeLastFull = toFloat(v)
		c.updateCapacity()
	case PropertyChargeCurrent:
		s.ChargeCurrent = toFloat(v)
	case PropertyRate:
		c.setRate(toFloat(v))
	case PropertyVoltage:
		s.Voltage = toFloat(v)
	case PropertyPercentage:
		s.Percentage = toFloat(v)
		return ChangePercentage
	case PropertyRemainingTime:
		c.setRemainingTime(int64(toFloat(v)))
	case PropertyVendor, PropertyModel, PropertySerial, PropertyProduct:
		if toString(v) == c.identityField(key) {
			return 0
		}
		logrus.WithFields(logrus.Fields{
			"device":   s.DeviceID,
			"property": key.String(),
		}).Info("cell identity changed, re-reading all properties")
		c.setIdentityField(key, toString(v))
		c.Refresh()
		return ChangeRefresh
	case PropertyTechnology:
		s.Technology = toString(v)
	case PropertyRecalled:
		s.IsRecalled = toBool(v)
	case PropertyRecallVendor:
		s.RecallVendor = toString(v)
	case PropertyRecallURL:
		s.RecallURL = toString(v)
	default:
		logrus.WithFields(logrus.Fields{
			"device":   s.DeviceID,
			"property": key.String(),
		}).Debug("ignoring unknown property")
		return 0
	}
	return ChangeValue
}

func (c *Cell) identityField(key Property) string {
	switch key {
	case PropertyVendor:
		return c.state.Vendor
	case PropertyModel:
		return c.state.Model
	case PropertySerial:
		return c.state.Serial
	case PropertyProduct:
		return c.state.Product
	}
	return ""
}

func (c *Cell) setIdentityField(key Property, v string) {
	switch key {
	case PropertyVendor:
		c.state.Vendor = v
	case PropertyModel:
		c.state.Model = v
	case PropertySerial:
		c.state.Serial = v
	case PropertyProduct:
		c.state.Product = v
	}
}

func (c *Cell) setRate(rate float64) {
	rate = math.Abs(rate)
	if rate > MaxRate {
		logrus.WithFields(logrus.Fields{
			"device": c.state.DeviceID,
			"rate":   rate,
		}).Warn("implausible rate, resetting to 0")
		rate = 0
	}
	c.state.Rate = rate
}

// setRemainingTime stores t on whichever direction the cell is going.
func (c *Cell) setRemainingTime(t int64) {
	if c.state.IsCharging {
		c.state.TimeCharge = t
	}
	if c.state.IsDischarging {
		c.state.TimeDischarge = t
	}
}

func (c *Cell) updateCapacity() {
	s := &c.state
	if s.ChargeDesign <= 0 || s.ChargeLastFull <= 0 {
		s.Capacity = 0
		return
	}
	s.Capacity = min(max(100*s.ChargeLastFull/s.ChargeDesign, 0), 100)
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		r, _ := strconv.ParseBool(b)
		return r
	case nil:
		return false
	default:
		return toFloat(v) != 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
