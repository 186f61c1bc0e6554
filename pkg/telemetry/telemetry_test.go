package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/distatus/battery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/battime/pkg/cell"
)

func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for k, v := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0644))
	}
}

type change struct {
	id  string
	key cell.Property
	v   any
}

type recorder struct {
	added   []string
	removed []string
	changes []change
}

func (r *recorder) DeviceAdded(d Device)   { r.added = append(r.added, d.ID) }
func (r *recorder) DeviceRemoved(d Device) { r.removed = append(r.removed, d.ID) }
func (r *recorder) PropertyChanged(d Device, key cell.Property, v any) {
	r.changes = append(r.changes, change{d.ID, key, v})
}

func TestPoller(t *testing.T) {
	root := t.TempDir()
	writeAttrs(t, filepath.Join(root, "AC"), map[string]string{"type": "Mains", "online": "0"})
	writeAttrs(t, filepath.Join(root, "BAT0"), map[string]string{
		"type":          "Battery",
		"manufacturer":  "ACME",
		"model_name":    "5B10W13930",
		"serial_number": "1234",
		"technology":    "Li-poly",
	})
	writeAttrs(t, filepath.Join(root, "hid-mouse-battery"), map[string]string{"type": "Battery", "scope": "Device"})

	bat := &battery.Battery{
		State:      battery.Discharging,
		Current:    25000,
		Full:       50000,
		Design:     57000,
		ChargeRate: 8000,
		Voltage:    11.5,
	}
	var batteries []*battery.Battery
	p := NewPoller(root)
	p.getAll = func() ([]*battery.Battery, error) { return batteries, nil }

	batteries = []*battery.Battery{bat}
	r := &recorder{}
	require.NoError(t, p.Poll(r))
	assert.Equal(t, []string{"BAT0"}, r.added)
	assert.Empty(t, r.changes)
	assert.Equal(t, []Device{{ID: "BAT0", Kind: cell.KindPrimary}}, p.Devices())

	v, ok := p.Property("BAT0", cell.PropertyPercentage)
	require.True(t, ok)
	assert.Equal(t, 50.0, v)
	v, _ = p.Property("BAT0", cell.PropertyVoltage)
	assert.Equal(t, 11500.0, v)
	v, _ = p.Property("BAT0", cell.PropertyModel)
	assert.Equal(t, "5B10W13930", v)
	v, _ = p.Property("BAT0", cell.PropertyDischarging)
	assert.Equal(t, true, v)
	_, ok = p.Property("BAT0", cell.PropertyRemainingTime)
	assert.False(t, ok)
	_, ok = p.Property("BAT1", cell.PropertyPresent)
	assert.False(t, ok)

	// nothing changed
	r = &recorder{}
	require.NoError(t, p.Poll(r))
	assert.Empty(t, r.added)
	assert.Empty(t, r.changes)

	bat2 := *bat
	bat2.Current = 24500
	batteries = []*battery.Battery{&bat2}
	r = &recorder{}
	require.NoError(t, p.Poll(r))
	assert.Equal(t, []change{
		{"BAT0", cell.PropertyChargeCurrent, 24500.0},
		{"BAT0", cell.PropertyPercentage, 49.0},
	}, r.changes)

	batteries = nil
	p.getAll = func() ([]*battery.Battery, error) { return nil, nil }
	r = &recorder{}
	require.NoError(t, p.Poll(r))
	assert.Equal(t, []string{"BAT0"}, r.removed)
	assert.Empty(t, p.Devices())
}

func TestPoller_Error(t *testing.T) {
	p := NewPoller(t.TempDir())
	p.getAll = func() ([]*battery.Battery, error) { return nil, errors.New("no such device") }
	assert.Error(t, p.Poll(&recorder{}))

	// partial read with a fallback id
	p.getAll = func() ([]*battery.Battery, error) {
		return []*battery.Battery{{State: battery.Full, Full: 100, Current: 100}}, errors.New("partial")
	}
	r := &recorder{}
	require.NoError(t, p.Poll(r))
	assert.Equal(t, []string{"BAT0"}, r.added)
	v, _ := p.Property("BAT0", cell.PropertyCharging)
	assert.Equal(t, false, v)
}

func TestACAdapter(t *testing.T) {
	root := t.TempDir()
	ac := NewACAdapter(root)
	assert.False(t, ac.OnAC())

	writeAttrs(t, filepath.Join(root, "ADP1"), map[string]string{"type": "Mains", "online": "0"})
	writeAttrs(t, filepath.Join(root, "BAT0"), map[string]string{"type": "Battery", "online": "1"})
	assert.False(t, ac.OnAC())

	writeAttrs(t, filepath.Join(root, "ADP1"), map[string]string{"online": "1"})
	assert.True(t, ac.OnAC())
}

func TestScreen(t *testing.T) {
	root := t.TempDir()
	s := NewScreen(filepath.Join(root, "missing"))
	assert.False(t, s.Off())

	s = NewScreen(root)
	writeAttrs(t, filepath.Join(root, "intel_backlight"), map[string]string{"bl_power": "4"})
	assert.True(t, s.Off())

	writeAttrs(t, filepath.Join(root, "acpi_video0"), map[string]string{"bl_power": "0"})
	assert.False(t, s.Off())
}
