package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charlie0129/battime/pkg/version"
)

func getVersion() (clientVersion, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	if err != nil {
		return version.Version, "", err
	}
	return version.Version, daemonVersion, nil
}

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewCellsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "cells",
		GroupID: gBasic,
		Short:   "List every power cell the daemon tracks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cells, err := apiClient.GetCells()
			if err != nil {
				return err
			}
			if len(cells) == 0 {
				cmd.Println("No power cells found.")
				return nil
			}

			for _, c := range cells {
				cmd.Printf("%s (%s)\n", bold("%s", c.DeviceID), c.Kind.Description(false))
				if !c.IsPresent {
					cmd.Println("  Not present")
					continue
				}
				cmd.Printf("  Charge: %s\n", bold("%.0f%%", c.Percentage))
				if c.Vendor != "" || c.Model != "" {
					cmd.Printf("  Model: %s %s\n", c.Vendor, c.Model)
				}
				if c.Technology != "" {
					cmd.Printf("  Technology: %s\n", c.Technology)
				}
				if c.Rate > 0 {
					cmd.Printf("  Rate: %s\n", rateText(c.Rate, c.IsCharging))
				}
				if c.Voltage > 0 {
					cmd.Printf("  Voltage: %s\n", bold("%.2f V", c.Voltage/1e3))
				}
				if c.Capacity > 0 {
					cmd.Printf("  Capacity: %s\n", bold("%.0f%%", c.Capacity))
				}
				if c.IsRecalled {
					cmd.Printf("  %s see %s\n", bold("Recalled by %s,", c.RecallVendor), c.RecallURL)
				}
			}
			return nil
		},
	}
}

func NewProfileCommand() *cobra.Command {
	charging := false

	cmd := &cobra.Command{
		Use:     "profile",
		GroupID: gBasic,
		Short:   "Show the learned runtime profile",
		Long: `Show the learned runtime profile of the primary battery.

Each row is one percentage slot: the average number of seconds the battery
spent there and how much the estimate can be trusted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := apiClient.GetProfile(!charging)
			if err != nil {
				return err
			}

			cmd.Printf("Identity: %s\n", bold("%s", p.Identity))
			cmd.Printf("Mode: %s\n", bold("%s", p.Mode))
			cmd.Printf("Average accuracy: %s\n", bold("%.1f%%", p.AccuracyAverage))
			cmd.Printf("Trusted: %s\n", bool2Text(p.Trusted))
			if p.Estimate > 0 {
				cmd.Printf("Estimate from now: %s\n", bold("%s", formatSeconds(p.Estimate)))
			}
			cmd.Println()

			cmd.Println(bold("%8s %10s %9s", "percent", "seconds", "accuracy"))
			for i, b := range p.Buckets {
				if b.Value == 0 && b.Accuracy == 0 {
					continue
				}
				cmd.Printf("%7d%% %10.1f %8.0f%%\n", i, b.Value, b.Accuracy)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&charging, "charging", false, "show the charging profile instead of the discharging one")

	return cmd
}

func formatSeconds(s int64) string {
	if s < 60 {
		return fmt.Sprintf("%d seconds", s)
	}
	return fmt.Sprintf("%dh%02dm", s/3600, (s%3600)/60)
}
