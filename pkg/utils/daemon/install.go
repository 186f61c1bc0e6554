// Package daemon installs the battime daemon as a systemd service.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	UnitName       = "battime.service"
	DefaultUnitDir = "/etc/systemd/system"
)

const unitTemplate = `[Unit]
Description=battime battery runtime estimation daemon
After=multi-user.target

[Service]
Type=simple
ExecStart=/path/to/battime daemon --config /path/to/config
Restart=on-failure
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// Installer writes the unit file and drives systemctl.
type Installer struct {
	UnitDir string
	// Systemctl runs systemctl with args.
	Systemctl func(args ...string) error
}

func NewInstaller() *Installer {
	return &Installer{
		UnitDir: DefaultUnitDir,
		Systemctl: func(args ...string) error {
			out, err := exec.Command("systemctl", args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
}

// UnitPath is where the unit file is written.
func (i *Installer) UnitPath() string {
	return filepath.Join(i.UnitDir, UnitName)
}

// Unit renders the unit file for the binary at exePath.
func Unit(exePath, configPath string) string {
	return strings.NewReplacer(
		"/path/to/battime", exePath,
		"/path/to/config", configPath,
	).Replace(unitTemplate)
}

// Install installs and starts the unit for the current executable.
func (i *Installer) Install(configPath string) error {
	// Get the path to the current executable
	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get the path to the current executable: %w", err)
	}
	exePath, err = filepath.Abs(exePath)
	if err != nil {
		return fmt.Errorf("failed to get the absolute path to the current executable: %w", err)
	}

	logrus.Infof("current executable path: %s", exePath)
	return i.install(exePath, configPath)
}

func (i *Installer) install(exePath, configPath string) error {
	path := i.UnitPath()
	logrus.Infof("writing systemd unit to %s", path)

	err := os.MkdirAll(i.UnitDir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", i.UnitDir, err)
	}

	// warn if the file already exists
	if _, err := os.Stat(path); err == nil {
		logrus.Warnf("%s already exists, overwriting", path)
	}

	err = os.WriteFile(path, []byte(Unit(exePath, configPath)), 0644)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	logrus.Infof("starting battime")

	if err := i.Systemctl("daemon-reload"); err != nil {
		return err
	}
	if err := i.Systemctl("enable", "--now", UnitName); err != nil {
		return fmt.Errorf("failed to start %s: %w", UnitName, err)
	}

	return nil
}
