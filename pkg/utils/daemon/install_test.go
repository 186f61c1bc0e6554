package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeInstaller(t *testing.T) (*Installer, *[]string) {
	var calls []string
	return &Installer{
		UnitDir: filepath.Join(t.TempDir(), "system"),
		Systemctl: func(args ...string) error {
			calls = append(calls, strings.Join(args, " "))
			return nil
		},
	}, &calls
}

func TestInstallUninstall(t *testing.T) {
	i, calls := fakeInstaller(t)

	require.NoError(t, i.install("/usr/local/bin/battime", "/etc/battime.json"))

	b, err := os.ReadFile(filepath.Join(i.UnitDir, UnitName))
	require.NoError(t, err)
	assert.Contains(t, string(b), "ExecStart=/usr/local/bin/battime daemon --config /etc/battime.json")
	assert.Equal(t, []string{"daemon-reload", "enable --now battime.service"}, *calls)

	*calls = nil
	require.NoError(t, i.Uninstall())
	_, err = os.Stat(filepath.Join(i.UnitDir, UnitName))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, []string{"disable --now battime.service", "daemon-reload"}, *calls)

	// removing twice is fine
	require.NoError(t, i.Uninstall())
}

func TestInstall_SystemctlFails(t *testing.T) {
	i, _ := fakeInstaller(t)
	i.Systemctl = func(args ...string) error {
		if args[0] == "enable" {
			return errors.New("unit masked")
		}
		return nil
	}
	err := i.install("/usr/bin/battime", "/etc/battime.json")
	assert.ErrorContains(t, err, "unit masked")
}
