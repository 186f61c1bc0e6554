package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource map[string]map[Property]any

func (f fakeSource) Property(id string, key Property) (any, bool) {
	d, ok := f[id]
	if !ok {
		return nil, false
	}
	v, ok := d[key]
	return v, ok
}

func battery(current, lastFull, design, rate float64, charging, discharging bool) map[Property]any {
	return map[Property]any{
		PropertyPresent:        true,
		PropertyRechargeable:   true,
		PropertyCharging:       charging,
		PropertyDischarging:    discharging,
		PropertyChargeCurrent:  current,
		PropertyChargeLastFull: lastFull,
		PropertyChargeDesign:   design,
		PropertyRate:           rate,
		PropertyPercentage:     100 * current / lastFull,
		PropertyVoltage:        12000,
	}
}

func TestCell_ID(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		design float64
		serial string
		want   string
	}{
		{"all parts", "DELL 5XJ", 48000, "1234", "DELL_5XJ-48000-1234"},
		{"short serial dropped", "ABC123", 48000, "X1", "ABC123-48000"},
		{"short model dropped", "AB", 0, "S/N'01", "S_N_01"},
		{"nothing usable", "", 0, "", "generic_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fakeSource{"BAT0": {
				PropertyPresent:      true,
				PropertyModel:        tt.model,
				PropertySerial:       tt.serial,
				PropertyChargeDesign: tt.design,
			}}
			c := NewCell("BAT0", KindPrimary, src)
			c.Refresh()
			assert.Equal(t, tt.want, c.ID())
		})
	}
}

func TestCell_RefreshCapacity(t *testing.T) {
	src := fakeSource{"BAT0": battery(10000, 20000, 50000, 5000, false, true)}
	c := NewCell("BAT0", KindPrimary, src)
	c.Refresh()

	s := c.State()
	assert.True(t, s.IsPresent)
	assert.Equal(t, 40.0, s.Capacity)
	assert.Equal(t, UnitMWh, s.Unit)
	assert.Equal(t, 50.0, s.Percentage)

	c.ApplyProperty(PropertyChargeLastFull, 60000)
	assert.Equal(t, 100.0, c.State().Capacity)
}

func TestCell_NotRechargeable(t *testing.T) {
	props := battery(10000, 20000, 20000, 0, true, false)
	props[PropertyRechargeable] = false
	c := NewCell("BAT0", KindPrimary, fakeSource{"BAT0": props})
	c.Refresh()

	assert.False(t, c.State().IsCharging)
	assert.True(t, c.State().IsDischarging)

	mouse := NewCell("hid0", KindMouse, fakeSource{"hid0": {PropertyPresent: true, PropertyChargeCurrent: 3}})
	mouse.Refresh()
	assert.True(t, mouse.State().IsDischarging)
	assert.Equal(t, UnitCSR, mouse.State().Unit)
}

func TestCell_ApplyProperty(t *testing.T) {
	src := fakeSource{"BAT0": battery(10000, 20000, 20000, 5000, false, true)}
	c := NewCell("BAT0", KindPrimary, src)
	c.Refresh()

	assert.Equal(t, ChangeValue, c.ApplyProperty(PropertyRemainingTime, 3000))
	assert.Equal(t, int64(3000), c.State().TimeDischarge)
	assert.Zero(t, c.State().TimeCharge)

	assert.Equal(t, ChangeStatus, c.ApplyProperty(PropertyCharging, true))
	assert.Zero(t, c.State().TimeDischarge)

	c.ApplyProperty(PropertyDischarging, false)
	c.ApplyProperty(PropertyRemainingTime, 1200)
	assert.Equal(t, int64(1200), c.State().TimeCharge)

	c.ApplyProperty(PropertyDischarging, true)
	assert.Zero(t, c.State().TimeCharge)

	assert.Equal(t, ChangePercentage, c.ApplyProperty(PropertyPercentage, 42))
	assert.Equal(t, 42.0, c.State().Percentage)

	c.ApplyProperty(PropertyRate, 250000)
	assert.Zero(t, c.State().Rate)
	c.ApplyProperty(PropertyRate, -8000)
	assert.Equal(t, 8000.0, c.State().Rate)

	assert.Equal(t, Change(0), c.ApplyProperty(PropertyUnknown, 1))
}

func TestCell_IdentityChangeRefreshes(t *testing.T) {
	props := battery(10000, 20000, 20000, 5000, false, true)
	props[PropertySerial] = "1111"
	src := fakeSource{"BAT0": props}
	c := NewCell("BAT0", KindPrimary, src)
	c.Refresh()

	assert.Equal(t, Change(0), c.ApplyProperty(PropertySerial, "1111"))

	// a different unit in the same slot
	props[PropertySerial] = "2222"
	props[PropertyChargeCurrent] = 15000.0
	change := c.ApplyProperty(PropertySerial, "2222")
	assert.True(t, change.Has(ChangeRefresh))
	assert.Equal(t, "2222", c.State().Serial)
	assert.Equal(t, 15000.0, c.State().ChargeCurrent)
}

func TestParseProperty(t *testing.T) {
	assert.Equal(t, PropertyChargeLastFull, ParseProperty("charge_last_full"))
	assert.Equal(t, PropertyUnknown, ParseProperty("battery.reporting.foo"))
	for _, p := range Properties {
		assert.Equal(t, p, ParseProperty(p.String()))
	}
	assert.True(t, PropertyModel.IsIdentity())
	assert.False(t, PropertyRate.IsIdentity())
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("toaster")
	assert.Error(t, err)
	assert.True(t, KindMouse.IsCoinCell())
	assert.False(t, KindUPS.IsCoinCell())
}

type fakeAC bool

func (f fakeAC) OnAC() bool { return bool(f) }

type fakeProfile struct {
	identities []string
}

func (f *fakeProfile) SetIdentity(identity string) error {
	f.identities = append(f.identities, identity)
	return nil
}

func (f *fakeProfile) Time(percentage int, discharging bool) int64 {
	if discharging {
		return int64(percentage) * 60
	}
	return int64(100-percentage) * 30
}

type recorder struct {
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.events = append(r.events, e)
}

func (r *recorder) count(kind EventKind) int {
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestAggregator_ChargingAndDischarging(t *testing.T) {
	src := fakeSource{
		"BAT0": battery(20000, 40000, 40000, 0, true, false),
		"BAT1": battery(30000, 40000, 40000, 0, false, true),
	}
	a := NewAggregator(KindPrimary, src, nil, nil, DefaultOptions())
	a.Add("BAT0")
	a.Add("BAT1")

	c := a.Composite()
	assert.False(t, c.IsCharging)
	assert.True(t, c.IsDischarging)
	assert.Equal(t, 2, c.Members)
	assert.Equal(t, 12000.0, c.Voltage)
	assert.Equal(t, 62.5, c.Percentage)
	assert.Len(t, a.Cells(), 2)
}

func TestAggregator_RateTimes(t *testing.T) {
	src := fakeSource{"BAT0": battery(30000, 50000, 50000, 10000, false, true)}
	a := NewAggregator(KindPrimary, src, nil, nil, DefaultOptions())
	a.Add("BAT0")
	assert.Equal(t, int64(10800), a.Composite().TimeDischarge)

	a.Apply("BAT0", PropertyDischarging, false)
	a.Apply("BAT0", PropertyCharging, true)
	assert.Equal(t, int64(7200), a.Composite().TimeCharge)

	// 300 hours is garbage
	a.Apply("BAT0", PropertyRate, 100)
	assert.Zero(t, a.Composite().TimeCharge)

	a.Apply("BAT0", PropertyRate, 500000)
	assert.Zero(t, a.Composite().Rate)
}

func TestAggregator_BrokenBatteryUsesAC(t *testing.T) {
	src := fakeSource{"BAT0": battery(20000, 50000, 50000, 0, false, false)}

	a := NewAggregator(KindPrimary, src, fakeAC(true), nil, DefaultOptions())
	a.Add("BAT0")
	assert.True(t, a.Composite().IsCharging)
	assert.False(t, a.Composite().IsDischarging)

	b := NewAggregator(KindPrimary, src, fakeAC(false), nil, DefaultOptions())
	b.Add("BAT0")
	assert.False(t, b.Composite().IsCharging)
	assert.True(t, b.Composite().IsDischarging)

	// idle and full is left alone
	src["BAT1"] = battery(49000, 50000, 50000, 0, false, false)
	c := NewAggregator(KindPrimary, src, fakeAC(true), nil, DefaultOptions())
	c.Add("BAT1")
	assert.False(t, c.Composite().IsCharging)
	assert.False(t, c.Composite().IsDischarging)
}

func TestAggregator_ProfileIdentityAndTime(t *testing.T) {
	a0 := battery(25000, 50000, 50000, 10000, false, true)
	a0[PropertyModel] = "BAT-B"
	a0[PropertySerial] = "222"
	a1 := battery(25000, 50000, 50000, 10000, false, true)
	a1[PropertyModel] = "BAT-A"
	a1[PropertySerial] = "111"
	src := fakeSource{"BAT0": a0, "BAT1": a1}

	p := &fakeProfile{}
	opts := DefaultOptions()
	opts.UseProfile = true
	a := NewAggregator(KindPrimary, src, nil, p, opts)
	a.Add("BAT0")
	a.Add("BAT1")

	assert.Equal(t, "BAT-A-50000-111+BAT-B-50000-222", a.Identity())
	assert.Equal(t, []string{"BAT-B-50000-222", "BAT-A-50000-111+BAT-B-50000-222"}, p.identities)

	c := a.Composite()
	assert.True(t, c.FromProfile)
	assert.Equal(t, int64(50*60), c.TimeDischarge)

	a.Remove("BAT0")
	assert.Equal(t, "BAT-A-50000-111", a.Identity())
}

func TestAggregator_FullyChargedHysteresis(t *testing.T) {
	props := map[Property]any{
		PropertyPresent:      true,
		PropertyRechargeable: true,
		PropertyPercentage:   95,
	}
	src := fakeSource{"ups0": props}
	a := NewAggregator(KindUPS, src, nil, nil, DefaultOptions())
	r := &recorder{}
	a.Subscribe(r)

	a.Add("ups0")
	assert.Equal(t, 1, r.count(EventFullyCharged))

	for _, p := range []float64{96, 88, 95} {
		a.Apply("ups0", PropertyPercentage, p)
	}
	assert.Equal(t, 1, r.count(EventFullyCharged), "no re-fire until below threshold minus margin")

	a.Apply("ups0", PropertyPercentage, 80)
	a.Apply("ups0", PropertyPercentage, 95)
	assert.Equal(t, 2, r.count(EventFullyCharged))
	assert.Equal(t, 6, r.count(EventPercentChanged))
}

func TestAggregator_LowCapacityAndRecallOnce(t *testing.T) {
	props := battery(10000, 20000, 50000, 1000, false, true)
	props[PropertyRecalled] = true
	props[PropertyRecallVendor] = "Acme"
	props[PropertyRecallURL] = "https://acme.example/recall"
	src := fakeSource{"BAT0": props}

	a := NewAggregator(KindPrimary, src, nil, nil, DefaultOptions())
	r := &recorder{}
	a.Subscribe(r)
	a.Add("BAT0")

	require.Equal(t, 1, r.count(EventLowCapacity))
	require.Equal(t, 1, r.count(EventPerhapsRecall))
	for _, e := range r.events {
		switch e.Kind {
		case EventLowCapacity:
			assert.Equal(t, 40.0, e.Capacity)
			assert.Equal(t, "BAT0", e.DeviceID)
		case EventPerhapsRecall:
			assert.Equal(t, "Acme", e.RecallVendor)
			assert.Equal(t, "https://acme.example/recall", e.RecallURL)
		}
	}

	a.Apply("BAT0", PropertyChargeLastFull, 20001)
	a.Apply("BAT0", PropertyRecalled, true)
	assert.Equal(t, 1, r.count(EventLowCapacity))
	assert.Equal(t, 1, r.count(EventPerhapsRecall))
}

func TestAggregator_ObserverMayCallBack(t *testing.T) {
	src := fakeSource{"BAT0": battery(20000, 40000, 40000, 0, false, true)}
	a := NewAggregator(KindPrimary, src, nil, nil, DefaultOptions())

	var seen []Composite
	a.Subscribe(ObserverFunc(func(e Event) {
		seen = append(seen, a.Composite())
	}))

	a.Add("BAT0")
	require.NotEmpty(t, seen)
	assert.Equal(t, 50.0, seen[len(seen)-1].Percentage)

	a.Remove("BAT0")
	assert.False(t, a.Composite().IsPresent)
	assert.Zero(t, a.Composite().Members)
}

func TestAggregator_UnknownDevice(t *testing.T) {
	a := NewAggregator(KindPrimary, fakeSource{}, nil, nil, DefaultOptions())
	r := &recorder{}
	a.Subscribe(r)
	a.Apply("BAT9", PropertyPercentage, 10)
	a.Remove("BAT9")
	assert.Empty(t, r.events)
}
