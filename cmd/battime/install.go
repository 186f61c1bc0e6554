package main

import (
	"fmt"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battime/pkg/config"
	daemonutils "github.com/charlie0129/battime/pkg/utils/daemon"
)

// installSummary tells the user what the installed daemon will write and
// where.
func installSummary(conf config.Config, unitPath, exePath, socketPath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "unit:      %s (runs %s)\n", unitPath, exePath)
	fmt.Fprintf(&b, "config:    %s\n", configPath)
	fmt.Fprintf(&b, "profiles:  %s\n", conf.ProfileDir())
	if conf.HistoryEnabled() {
		fmt.Fprintf(&b, "history:   %s (kept for %s)\n", conf.HistoryPath(), conf.HistoryRetention())
	} else {
		b.WriteString("history:   disabled\n")
	}
	fmt.Fprintf(&b, "socket:    %s\n", socketPath)
	b.WriteString("\nsystemd starts this binary at boot. If you move or delete it, run `battime install' again.\n")
	return b.String()
}

// NewInstallCommand .
func NewInstallCommand() *cobra.Command {
	allowNonRootAccess := false

	cmd := &cobra.Command{
		Use:     "install",
		Short:   "Install the battime daemon as a systemd service",
		GroupID: gInstallation,
		Long: `Install the battime daemon as the systemd service battime.service and start it.

The daemon polls the batteries, learns how long each percent of charge lasts
and keeps those runtime profiles in the profile directory, one file per
battery set and direction. If history is enabled in the config, it also
records samples to a sqlite database for "battime history" and "battime rate".
Both locations come from the config file, which is written before the service
starts. You must run this command as root.

Only root can talk to the daemon by default. Use --allow-non-root-access to
let other users read estimates and change settings without sudo.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.NewFile(configPath)
			if err != nil {
				return err
			}

			conf.SetAllowNonRootAccess(allowNonRootAccess)
			if allowNonRootAccess {
				logrus.Info("non-root users are allowed to access the battime daemon.")
			} else {
				logrus.Info("only root user is allowed to access the battime daemon.")
			}

			// the unit starts the daemon, which reads the config
			err = conf.Save()
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to save config")
			}

			installer := daemonutils.NewInstaller()
			err = installer.Install(configPath)
			if err != nil {
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return pkgerrors.Wrapf(err, "failed to install daemon")
			}

			logrus.Infof("installation succeeded")
			exePath, _ := os.Executable()
			cmd.Print(installSummary(conf, installer.UnitPath(), exePath, unixSocketPath))

			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNonRootAccess, "allow-non-root-access", false, "Allow non-root users to access battime daemon.")

	return cmd
}

// NewUninstallCommand .
func NewUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall",
		Short:   "Uninstall battime (system-wide)",
		GroupID: gInstallation,
		Long: `Uninstall battime daemon from systemd (system-wide).

This stops battime and removes its unit. Learned profiles and history are kept.

You must run this command as root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := daemonutils.NewInstaller().Uninstall()
			if err != nil {
				// check if current user is root
				if os.Geteuid() != 0 {
					logrus.Errorf("you must run this command as root")
				}
				return fmt.Errorf("failed to uninstall daemon: %v", err)
			}

			cmd.Println("successfully uninstalled")
			cmd.Printf("Your config is kept in %s, in case you want to use `battime' again. If you want a complete uninstall, you can remove the config file, the profile directory and battime itself manually.\n", configPath)

			return nil
		},
	}
}
