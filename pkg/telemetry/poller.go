package telemetry

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/distatus/battery"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/cell"
)

type properties map[cell.Property]any

type device struct {
	Device
	props properties
}

// Poller is a Provider backed by github.com/distatus/battery. Each Poll
// reads every battery and turns the difference to the previous read into
// Listener calls.
type Poller struct {
	mu      sync.RWMutex
	devices map[string]*device

	getAll func() ([]*battery.Battery, error)
	sysfs  string
}

func NewPoller(powerSupplyDir string) *Poller {
	if powerSupplyDir == "" {
		powerSupplyDir = DefaultPowerSupplyDir
	}
	return &Poller{
		devices: make(map[string]*device),
		getAll:  battery.GetAll,
		sysfs:   powerSupplyDir,
	}
}

var _ Provider = &Poller{}

func (p *Poller) Devices() []Device {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ret := make([]Device, 0, len(p.devices))
	for _, d := range p.devices {
		ret = append(ret, d.Device)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

func (p *Poller) Property(id string, key cell.Property) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	d, ok := p.devices[id]
	if !ok {
		return nil, false
	}
	v, ok := d.props[key]
	return v, ok
}

// Poll reads all batteries once and notifies l of what changed since the
// last call. l is called without the poller lock held, so it may read back
// through Property.
func (p *Poller) Poll(l Listener) error {
	next, err := p.read()
	if err != nil {
		return err
	}

	p.mu.Lock()
	prev := p.devices
	p.devices = next
	p.mu.Unlock()

	if l == nil {
		return nil
	}

	var removed []Device
	for id, d := range prev {
		if _, ok := next[id]; !ok {
			removed = append(removed, d.Device)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	for _, d := range removed {
		logrus.WithField("device", d.ID).Debug("device removed")
		l.DeviceRemoved(d)
	}

	ids := make([]string, 0, len(next))
	for id := range next {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		d := next[id]
		old, ok := prev[id]
		if !ok {
			logrus.WithField("device", id).Debug("device added")
			l.DeviceAdded(d.Device)
			continue
		}
		for _, key := range cell.Properties {
			v, has := d.props[key]
			if !has {
				continue
			}
			if ov, had := old.props[key]; had && ov == v {
				continue
			}
			l.PropertyChanged(d.Device, key, v)
		}
	}

	return nil
}

func (p *Poller) read() (map[string]*device, error) {
	batteries, err := p.getAll()
	if err != nil {
		// partial results are still usable
		if len(batteries) == 0 {
			return nil, pkgerrors.Wrap(err, "failed to read batteries")
		}
		logrus.WithError(err).Trace("some battery values could not be read")
	}

	names := supplies(p.sysfs, "Battery")
	ret := make(map[string]*device, len(batteries))
	for i, bat := range batteries {
		if bat == nil {
			continue
		}

		id := fmt.Sprintf("BAT%d", i)
		var ident Identity
		if i < len(names) {
			id = names[i]
			ident = readIdentity(filepath.Join(p.sysfs, names[i]))
		}

		ret[id] = &device{
			Device: Device{ID: id, Kind: cell.KindPrimary},
			props:  batteryProperties(bat, ident),
		}
	}
	return ret, nil
}

func batteryProperties(bat *battery.Battery, ident Identity) properties {
	props := properties{
		cell.PropertyPresent:        true,
		cell.PropertyRechargeable:   true,
		cell.PropertyCharging:       bat.State == battery.Charging,
		cell.PropertyDischarging:    bat.State == battery.Discharging,
		cell.PropertyChargeDesign:   bat.Design,
		cell.PropertyChargeLastFull: bat.Full,
		cell.PropertyChargeCurrent:  bat.Current,
		cell.PropertyRate:           bat.ChargeRate,
		// volts to millivolts
		cell.PropertyVoltage: bat.Voltage * 1000,
	}
	if bat.Full > 0 {
		props[cell.PropertyPercentage] = min(max(100*bat.Current/bat.Full, 0), 100)
	}
	if ident.Vendor != "" {
		props[cell.PropertyVendor] = ident.Vendor
	}
	if ident.Model != "" {
		props[cell.PropertyModel] = ident.Model
	}
	if ident.Serial != "" {
		props[cell.PropertySerial] = ident.Serial
	}
	if ident.Technology != "" {
		props[cell.PropertyTechnology] = ident.Technology
	}
	return props
}
