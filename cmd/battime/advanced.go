package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battime/pkg/config"
	"github.com/charlie0129/battime/pkg/warning"
)

func NewPolicyCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "policy [time|percentage]",
		GroupID: gBasic,
		Short:   "Set what the primary battery warnings are based on",
		Long: `Set what the primary battery warnings are based on.

With "time", warnings fire when the estimated time to empty drops below the
time thresholds. With "percentage", the percentage thresholds are used.
Peripherals always use percentages.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := warning.ParsePolicy(args[0])
			if err != nil {
				return err
			}

			ret, err := apiClient.SetPolicy(p)
			if err != nil {
				return fmt.Errorf("failed to set policy: %v", err)
			}
			logResponse(ret)

			logrus.Infof("successfully set warning policy to %s", p)
			return nil
		},
	}
}

func NewThresholdsCommand() *cobra.Command {
	var th warning.Thresholds

	cmd := &cobra.Command{
		Use:     "thresholds",
		GroupID: gAdvanced,
		Short:   "Set the warning thresholds",
		Long: `Set the warning thresholds. Unset flags keep their current value.

Each level must be at or below the previous one: low >= critical >= action.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := apiClient.GetConfig()
			if err != nil {
				return err
			}
			cur := config.NewFileFromConfig(conf, "").Thresholds()

			f := cmd.Flags()
			if !f.Changed("percentage-low") {
				th.PercentageLow = cur.PercentageLow
			}
			if !f.Changed("percentage-critical") {
				th.PercentageCritical = cur.PercentageCritical
			}
			if !f.Changed("percentage-action") {
				th.PercentageAction = cur.PercentageAction
			}
			if !f.Changed("time-low") {
				th.TimeLow = cur.TimeLow
			}
			if !f.Changed("time-critical") {
				th.TimeCritical = cur.TimeCritical
			}
			if !f.Changed("time-action") {
				th.TimeAction = cur.TimeAction
			}
			if err := th.Validate(); err != nil {
				return err
			}

			ret, err := apiClient.SetThresholds(th)
			if err != nil {
				return fmt.Errorf("failed to set thresholds: %v", err)
			}
			logResponse(ret)

			logrus.WithField("thresholds", th).Info("successfully set warning thresholds")
			return nil
		},
	}

	f := cmd.Flags()
	f.Float64Var(&th.PercentageLow, "percentage-low", 0, "percentage at or below which power is low")
	f.Float64Var(&th.PercentageCritical, "percentage-critical", 0, "percentage at or below which power is critical")
	f.Float64Var(&th.PercentageAction, "percentage-action", 0, "percentage at or below which the power action is announced")
	f.Int64Var(&th.TimeLow, "time-low", 0, "seconds to empty at or below which power is low")
	f.Int64Var(&th.TimeCritical, "time-critical", 0, "seconds to empty at or below which power is critical")
	f.Int64Var(&th.TimeAction, "time-action", 0, "seconds to empty at or below which the power action is announced")

	return cmd
}

func NewSmoothingCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "smoothing [0-100]",
		GroupID: gAdvanced,
		Short:   "Set how much weight old profile samples keep",
		Long: `Set how much weight old profile samples keep when a new one arrives.

0 replaces a slot with every new sample, 100 never changes it.`,
		RunE: func(_ *cobra.Command, args []string) error {
			i, err := parseIntArg(args, "smoothing")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetSmoothing(i)
			if err != nil {
				return fmt.Errorf("failed to set smoothing: %v", err)
			}
			logResponse(ret)

			logrus.Infof("successfully set profile smoothing to %d", i)
			return nil
		},
	}
}

func NewUseProfileCommand() *cobra.Command {
	return newEnableDisableCommand(
		"use-profile",
		"estimating times from the learned profile",
		`Estimate the primary battery times from the learned runtime profile instead of the reported charge rate.

The profile learns how long each percentage takes. It gives steadier estimates once enough samples have been collected, which "battime profile" shows.`,
		func() (string, error) { return apiClient.SetUseProfile(true) },
		func() (string, error) { return apiClient.SetUseProfile(false) },
	)
}

func NewGapFillCommand() *cobra.Command {
	return newEnableDisableCommand(
		"gap-fill",
		"filling gaps in the learned profile",
		`Fill runs of unlearned profile slots with the average of the well-learned ones, so a partially learned profile can still give estimates.`,
		func() (string, error) { return apiClient.SetGapFill(true) },
		func() (string, error) { return apiClient.SetGapFill(false) },
	)
}
