package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/client"
	"github.com/charlie0129/battime/pkg/events"
)

func kindFlag(cmd *cobra.Command, kind *string) {
	cmd.Flags().StringVar(kind, "kind", cell.KindPrimary.String(), "cell kind (primary, ups, mouse, keyboard, pda, phone)")
}

func NewHistoryCommand() *cobra.Command {
	var kind, since string

	cmd := &cobra.Command{
		Use:     "history",
		GroupID: gBasic,
		Short:   "Show recorded power history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := cell.ParseKind(kind)
			if err != nil {
				return err
			}
			samples, err := apiClient.GetHistory(k, since)
			if errors.Is(err, client.ErrUnavailable) {
				logrus.Error("history is disabled, enable it in the daemon config")
				return err
			}
			if err != nil {
				return err
			}
			if len(samples) == 0 {
				cmd.Println("No samples recorded in this window.")
				return nil
			}

			cmd.Println(bold("%-20s %7s %-12s %-4s %s", "time", "charge", "state", "AC", "warning"))
			for _, s := range samples {
				state := "idle"
				switch {
				case s.Charging:
					state = "charging"
				case s.Discharging:
					state = "discharging"
				}
				cmd.Printf("%-20s %6.0f%% %-12s %-4s %s\n",
					s.Time.Local().Format(time.DateTime), s.Percentage, state, yesNo(s.OnAC), s.WarningLevel)
			}
			return nil
		},
	}

	kindFlag(cmd, &kind)
	cmd.Flags().StringVar(&since, "since", "1h", "how far back to look, as a duration or a unix timestamp")

	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func NewRateCommand() *cobra.Command {
	var kind, since string
	var slew int

	cmd := &cobra.Command{
		Use:     "rate",
		GroupID: gBasic,
		Short:   "Show the smoothed charge and discharge rate",
		Long: `Show the charge or discharge rate in percent per hour, smoothed with a
least-squares fit over a sliding window of slew samples on either side.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := cell.ParseKind(kind)
			if err != nil {
				return err
			}
			rate, err := apiClient.GetRate(k, since, slew)
			if err != nil {
				return err
			}
			if len(rate.Points) == 0 {
				cmd.Println("Not enough samples to compute a rate yet.")
				return nil
			}

			cmd.Println(bold("%-20s %7s %10s", "time", "charge", "rate"))
			for _, p := range rate.Points {
				cmd.Printf("%-20s %6d%% %7.1f%%/h\n",
					time.Unix(p.Time, 0).Format(time.DateTime), p.Percentage, p.PercentPerHour)
			}
			return nil
		},
	}

	kindFlag(cmd, &kind)
	cmd.Flags().StringVar(&since, "since", "1h", "how far back to look, as a duration or a unix timestamp")
	cmd.Flags().IntVar(&slew, "slew", 5, "samples on either side of each fit")

	return cmd
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		GroupID: gBasic,
		Short:   "Follow daemon events",
		Long:    `Print cell, warning, power action and profile events as the daemon publishes them. Stop with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			for ev := range apiClient.SubscribeEvents(ctx) {
				printEvent(cmd, ev)
			}
			return nil
		},
	}
}

func printEvent(cmd *cobra.Command, ev events.Event) {
	ts := time.Unix(ev.Time, 0).Format(time.TimeOnly)

	switch ev.Name {
	case events.WarningLevel:
		w, err := events.DecodeAs[events.WarningEvent](ev)
		if err != nil {
			break
		}
		cmd.Printf("%s %s %s: %s\n", ts, levelText(w.Level), w.Kind, w.Message)
		return
	case events.PowerAction:
		pa, err := events.DecodeAs[events.PowerActionEvent](ev)
		if err != nil {
			break
		}
		cmd.Printf("%s %s %s\n", ts, levelText("action"), pa.Reason)
		return
	case events.ProfileSample:
		ps, err := events.DecodeAs[events.ProfileSampleEvent](ev)
		if err != nil {
			break
		}
		cmd.Printf("%s profile sample at %d%%: %s (accuracy %.1f%%)\n", ts, ps.Percentage, ps.Result, ps.Accuracy)
		return
	default:
		ce, err := events.DecodeAs[events.CellEvent](ev)
		if err != nil {
			break
		}
		msg := ce.Message
		if msg == "" {
			msg = ce.Event
		}
		cmd.Printf("%s %s %s at %.0f%%\n", ts, ce.Kind, msg, ce.Percentage)
		return
	}

	cmd.Printf("%s %s %s\n", ts, ev.Name, string(ev.Data))
}
