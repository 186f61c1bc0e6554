package main

import (
	"encoding/json"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/config"
	"github.com/charlie0129/battime/pkg/types"
	"github.com/charlie0129/battime/pkg/warning"
)

type statusData struct {
	status *types.Status
	config *config.RawFileConfig
}

// fetchStatusData gathers all data required for the status command from the daemon.
func fetchStatusData() (*statusData, error) {
	st, err := apiClient.GetStatus()
	if err != nil {
		return nil, err
	}

	conf, err := apiClient.GetConfig()
	if err != nil {
		return nil, err
	}

	return &statusData{
		status: st,
		config: conf,
	}, nil
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current power status",
		Long:    `Get the status of every power source, the remaining times and the warning configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := fetchStatusData()
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(data.status, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			printStatus(cmd, data)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, data *statusData) {
	st := data.status
	cmd.Println(bold("%s", st.Summary))
	cmd.Println()

	if len(st.Kinds) == 0 {
		cmd.Println("No power sources found.")
	}

	for _, ks := range st.Kinds {
		c := ks.Composite
		cmd.Println(bold("%s:", c.Kind.Description(c.Members > 1)))
		cmd.Printf("  %s\n", ks.Description)
		cmd.Printf("  Current charge: %s\n", bold("%.0f%%", c.Percentage))

		state := "idle"
		switch {
		case c.IsCharging:
			state = color.GreenString("charging")
		case c.IsDischarging:
			state = color.RedString("discharging")
		}
		cmd.Printf("  State: %s\n", bold("%s", state))

		if c.IsDischarging && c.TimeDischarge > 0 {
			cmd.Printf("  Time to empty: %s\n", bold("%s", cell.FormatDuration(c.TimeDischarge)))
		}
		if c.IsCharging && c.TimeCharge > 0 {
			cmd.Printf("  Time to full: %s\n", bold("%s", cell.FormatDuration(c.TimeCharge)))
		}
		if c.Kind == cell.KindPrimary {
			source := "charge rate"
			if c.FromProfile {
				source = "learned profile"
			}
			cmd.Printf("  Estimated from: %s\n", source)
		}
		if c.Rate > 0 {
			cmd.Printf("  Rate: %s\n", rateText(c.Rate, c.IsCharging))
		}
		if c.Capacity > 0 {
			cmd.Printf("  Capacity: %s (%s)\n", bold("%.0f%%", c.Capacity), ks.Condition)
		}
		cmd.Printf("  Warning level: %s\n", levelText(ks.WarningLevel))
		cmd.Println()
	}

	conf := config.NewFileFromConfig(data.config, "")
	cmd.Println(bold("Configuration:"))
	cmd.Printf("  Warning policy: %s\n", bold("%s", conf.Policy()))
	th := conf.Thresholds()
	if conf.Policy() == warning.PolicyTime {
		cmd.Printf("  Low / critical / action: %s\n", bold("%s / %s / %s",
			cell.FormatDuration(th.TimeLow), cell.FormatDuration(th.TimeCritical), cell.FormatDuration(th.TimeAction)))
	} else {
		cmd.Printf("  Low / critical / action: %s\n", bold("%.0f%% / %.0f%% / %.0f%%",
			th.PercentageLow, th.PercentageCritical, th.PercentageAction))
	}
	cmd.Printf("  Use learned profile: %s\n", bool2Text(conf.UseProfile()))
	cmd.Printf("  Profile trusted: %s\n", bool2Text(st.ProfileTrusted))
	cmd.Printf("  Fill profile gaps: %s\n", bool2Text(conf.GapFill()))
	cmd.Printf("  Record history: %s\n", bool2Text(conf.HistoryEnabled()))
	cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
}
