package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battime/pkg/warning"
)

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

func logResponse(ret string) {
	if ret != "" {
		logrus.Debugf("daemon responded: %s", ret)
	}
}

func newEnableDisableCommand(
	use, short, long string,
	enableFunc func() (string, error),
	disableFunc func() (string, error),
) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    long,
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Enable " + short,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := enableFunc()
				if err != nil {
					return fmt.Errorf("failed to enable %s: %v", use, err)
				}
				logResponse(ret)
				logrus.Infof("successfully enabled %s", use)
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable " + short,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := disableFunc()
				if err != nil {
					return fmt.Errorf("failed to disable %s: %v", use, err)
				}
				logResponse(ret)
				logrus.Infof("successfully disabled %s", use)
				return nil
			},
		},
	)

	return cmd
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}

// levelText colors a warning level by severity.
func levelText(level string) string {
	var l warning.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return level
	}
	switch l {
	case warning.LevelAction, warning.LevelCritical:
		return color.New(color.Bold, color.FgRed).Sprint(level)
	case warning.LevelLow:
		return color.New(color.Bold, color.FgYellow).Sprint(level)
	default:
		return bold("%s", level)
	}
}

// rateText renders mW as signed watts, positive when charging.
func rateText(mW float64, charging bool) string {
	watts := mW / 1e3
	if !charging {
		watts = -watts
	}
	switch {
	case watts > 0:
		return color.New(color.Bold, color.FgGreen).Sprintf("%+.1f W", watts)
	case watts < 0:
		return color.New(color.Bold, color.FgRed).Sprintf("%+.1f W", watts)
	default:
		return bold("%+.1f W", watts)
	}
}
