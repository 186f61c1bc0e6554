package daemon

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Uninstall stops the unit and removes its file.
func (i *Installer) Uninstall() error {
	logrus.Infof("stopping battime")

	err := i.Systemctl("disable", "--now", UnitName)
	if err != nil {
		return fmt.Errorf("failed to stop %s: %w. Are you root?", UnitName, err)
	}

	logrus.Infof("removing systemd unit")

	path := i.UnitPath()
	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w. Are you root?", path, err)
	}

	return i.Systemctl("daemon-reload")
}
