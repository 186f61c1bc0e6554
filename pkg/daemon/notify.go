package daemon

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/events"
	"github.com/charlie0129/battime/pkg/history"
	"github.com/charlie0129/battime/pkg/warning"
)

const (
	// criticalAction is announced on power.action. Carrying it out is left
	// to whoever listens.
	criticalAction = "critical-action"

	// recordInterval is the longest gap between two history samples of an
	// unchanged composite.
	recordInterval = 5 * time.Minute
	recordTimeout  = 2 * time.Second
)

func cellMessage(e cell.Event) string {
	desc := e.Composite.Kind.Description(e.Composite.Members > 1)
	switch e.Kind {
	case cell.EventFullyCharged:
		return fmt.Sprintf("%s fully charged", desc)
	case cell.EventLowCapacity:
		return fmt.Sprintf("Battery %s has a capacity of %.0f%% and may be broken", e.DeviceID, e.Capacity)
	case cell.EventPerhapsRecall:
		return fmt.Sprintf("Battery %s may have been recalled by %s, see %s", e.DeviceID, e.RecallVendor, e.RecallURL)
	default:
		return ""
	}
}

// onCellEvent is subscribed to every aggregator. It runs outside the
// aggregator lock.
func (d *Daemon) onCellEvent(e cell.Event) {
	c := e.Composite
	entry := logrus.WithFields(logrus.Fields{
		"kind":        c.Kind.String(),
		"event":       e.Kind.String(),
		"percentage":  c.Percentage,
		"charging":    c.IsCharging,
		"discharging": c.IsDischarging,
	})
	msg := cellMessage(e)

	switch e.Kind {
	case cell.EventLowCapacity, cell.EventPerhapsRecall:
		entry.WithField("device", e.DeviceID).Warn(msg)
	case cell.EventFullyCharged, cell.EventCollectionChanged:
		entry.Info("cell event")
	default:
		entry.Debug("cell event")
	}

	d.hub.Publish(events.CellPrefix+e.Kind.String(), events.CellEvent{
		Kind:         c.Kind.String(),
		Event:        e.Kind.String(),
		Percentage:   c.Percentage,
		Charging:     c.IsCharging,
		Discharging:  c.IsDischarging,
		DeviceID:     e.DeviceID,
		Capacity:     e.Capacity,
		RecallVendor: e.RecallVendor,
		RecallURL:    e.RecallURL,
		Message:      msg,
	})

	if c.Kind != cell.KindPrimary {
		return
	}
	switch e.Kind {
	case cell.EventPercentChanged:
		d.samplePercent(c)
	case cell.EventChargingChanged, cell.EventDischargingChanged:
		// samplePercent may already have restarted in the new state
		if !d.sampled.valid || !d.sampled.sameState(c) {
			d.resetSampling("charge state changed")
		}
	}
}

// sampledPercent is the last whole percentage handed to the sampler.
type sampledPercent struct {
	valid       bool
	percentage  int
	charging    bool
	discharging bool
}

func (s sampledPercent) sameState(c cell.Composite) bool {
	return s.charging == c.IsCharging && s.discharging == c.IsDischarging
}

// resetSampling restarts profile sampling so that the next whole percentage
// only starts a new interval.
func (d *Daemon) resetSampling(reason string) {
	logrus.WithField("reason", reason).Debug("restarting profile sampling")
	d.sampler.Reset()
	d.sampled = sampledPercent{}
}

// samplePercent feeds a primary percentage change into the runtime profile.
// Only steps of a whole percent are timed.
func (d *Daemon) samplePercent(c cell.Composite) {
	if !c.IsCharging && !c.IsDischarging {
		return
	}
	pct := int(math.Round(c.Percentage))
	if d.sampled.valid {
		if !d.sampled.sameState(c) {
			d.resetSampling("charge state changed")
		} else if d.sampled.percentage == pct {
			return
		}
	}
	res := d.sampler.PercentChanged(pct, c.IsDischarging)
	d.sampled = sampledPercent{
		valid:       true,
		percentage:  pct,
		charging:    c.IsCharging,
		discharging: c.IsDischarging,
	}

	logrus.WithFields(logrus.Fields{
		"percentage":  pct,
		"discharging": c.IsDischarging,
		"result":      res.String(),
	}).Debug("profile sample")

	d.hub.Publish(events.ProfileSample, events.ProfileSampleEvent{
		Percentage:  pct,
		Discharging: c.IsDischarging,
		Result:      res.String(),
		Accuracy:    d.profile.AccuracyAverage(c.IsDischarging),
	})
}

// evaluate runs the warning engine on c and publishes new levels.
func (d *Daemon) evaluate(c cell.Composite, onAC bool) {
	dec := d.engine.Evaluate(c, onAC)
	if !dec.Emit {
		return
	}

	remaining := c.TimeDischarge
	entry := logrus.WithFields(logrus.Fields{
		"kind":          c.Kind.String(),
		"level":         dec.Level.String(),
		"percentage":    c.Percentage,
		"timeRemaining": remaining,
	})

	msg := cell.Describe(c, d.conf.ChargedThreshold())
	if dec.Level >= warning.LevelLow {
		entry.Warn(dec.Level.Title())
	} else {
		entry.Info("warning level changed")
	}

	d.hub.Publish(events.WarningLevel, events.WarningEvent{
		Kind:          c.Kind.String(),
		Level:         dec.Level.String(),
		Title:         dec.Level.Title(),
		Percentage:    c.Percentage,
		TimeRemaining: remaining,
		Message:       msg,
	})

	if !dec.TriggerAction {
		return
	}
	reason := fmt.Sprintf("%s reached the action level at %.0f%%", c.Kind.Description(c.Members > 1), c.Percentage)
	entry.WithField("action", criticalAction).Error(reason)
	d.hub.Publish(events.PowerAction, events.PowerActionEvent{
		Kind:   c.Kind.String(),
		Action: criticalAction,
		Reason: reason,
	})
}

// record writes c to the history database when it differs from the last
// recorded sample or the last one is older than recordInterval.
func (d *Daemon) record(now time.Time, c cell.Composite, onAC bool) {
	if d.history == nil {
		return
	}

	s := history.SampleFromComposite(now, c, onAC, d.engine.Last(c.Kind).String())
	if last, ok := d.lastRecorded[c.Kind]; ok &&
		now.Sub(last.Time) < recordInterval &&
		int(last.Percentage) == int(s.Percentage) &&
		last.Charging == s.Charging &&
		last.Discharging == s.Discharging &&
		last.OnAC == s.OnAC {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := d.history.Record(ctx, s); err != nil {
		logrus.WithError(err).WithField("kind", c.Kind.String()).Error("failed to record history sample")
		return
	}
	d.lastRecorded[c.Kind] = s
}
