package telemetry

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	DefaultPowerSupplyDir = "/sys/class/power_supply"
	DefaultBacklightDir   = "/sys/class/backlight"
)

func readAttr(dir, name string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func readIntAttr(dir, name string) (int, bool) {
	s, ok := readAttr(dir, name)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return i, true
}

// supplies returns the sorted entries under root whose type is typ.
// Batteries that belong to a peripheral (scope "Device") are skipped.
func supplies(root, typ string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		logrus.WithError(err).WithField("dir", root).Trace("cannot list power supplies")
		return nil
	}

	var names []string
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		t, _ := readAttr(dir, "type")
		if !strings.EqualFold(t, typ) {
			continue
		}
		if scope, _ := readAttr(dir, "scope"); strings.EqualFold(scope, "Device") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// Identity holds the descriptive strings of a battery.
type Identity struct {
	Vendor     string
	Model      string
	Serial     string
	Technology string
}

func readIdentity(dir string) Identity {
	var id Identity
	id.Vendor, _ = readAttr(dir, "manufacturer")
	id.Model, _ = readAttr(dir, "model_name")
	id.Serial, _ = readAttr(dir, "serial_number")
	id.Technology, _ = readAttr(dir, "technology")
	return id
}

// ACAdapter reports mains power from the power_supply class.
type ACAdapter struct {
	root string
}

func NewACAdapter(root string) *ACAdapter {
	if root == "" {
		root = DefaultPowerSupplyDir
	}
	return &ACAdapter{root: root}
}

// OnAC reports whether any mains supply is online. Hosts without a mains
// supply report false.
func (a *ACAdapter) OnAC() bool {
	for _, name := range supplies(a.root, "Mains") {
		if online, ok := readIntAttr(filepath.Join(a.root, name), "online"); ok && online == 1 {
			return true
		}
	}
	return false
}

// Screen reports display blanking from the backlight class.
type Screen struct {
	root string
}

func NewScreen(root string) *Screen {
	if root == "" {
		root = DefaultBacklightDir
	}
	return &Screen{root: root}
}

// Off reports whether every backlight is powered down. A host without a
// backlight is considered on.
func (s *Screen) Off() bool {
	entries, err := os.ReadDir(s.root)
	if err != nil || len(entries) == 0 {
		return false
	}
	for _, e := range entries {
		v, ok := readIntAttr(filepath.Join(s.root, e.Name()), "bl_power")
		if !ok || v == 0 {
			return false
		}
	}
	return true
}
