// Package warning decides when a power source is low enough to warn about
// or act on.
package warning

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/cell"
)

// Level is a warning level. Levels are ordered by severity.
type Level int

const (
	LevelNone Level = iota
	LevelDischarging
	LevelLow
	LevelCritical
	LevelAction
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelDischarging:
		return "discharging"
	case LevelLow:
		return "low"
	case LevelCritical:
		return "critical"
	case LevelAction:
		return "action"
	default:
		return "unknown"
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	for v := LevelNone; v <= LevelAction; v++ {
		if v.String() == string(b) {
			*l = v
			return nil
		}
	}
	return fmt.Errorf("unknown warning level %q", string(b))
}

// Title is the notification title for the level.
func (l Level) Title() string {
	switch l {
	case LevelAction, LevelCritical:
		return "Power Critically Low"
	case LevelLow:
		return "Power Low"
	case LevelDischarging:
		return "Power Information"
	default:
		return ""
	}
}

// Policy selects what a primary battery is measured against.
type Policy int

const (
	PolicyTime Policy = iota
	PolicyPercentage
)

func (p Policy) String() string {
	if p == PolicyPercentage {
		return "percentage"
	}
	return "time"
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "time":
		return PolicyTime, nil
	case "percentage", "percent":
		return PolicyPercentage, nil
	default:
		return PolicyTime, fmt.Errorf("unknown warning policy %q, must be time or percentage", s)
	}
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Raw charge levels of coin-cell peripherals.
const (
	CoinCellCritical = 1
	CoinCellLow      = 2
)

// Thresholds are inclusive upper bounds for each level.
type Thresholds struct {
	PercentageLow      float64 `json:"percentageLow"`
	PercentageCritical float64 `json:"percentageCritical"`
	PercentageAction   float64 `json:"percentageAction"`
	// Time thresholds are in seconds.
	TimeLow      int64 `json:"timeLow"`
	TimeCritical int64 `json:"timeCritical"`
	TimeAction   int64 `json:"timeAction"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PercentageLow:      10,
		PercentageCritical: 3,
		PercentageAction:   2,
		TimeLow:            1200,
		TimeCritical:       300,
		TimeAction:         120,
	}
}

// Validate checks that the thresholds descend from low to action.
func (t Thresholds) Validate() error {
	if t.PercentageAction < 0 || t.PercentageLow > 100 {
		return fmt.Errorf("percentage thresholds must be within 0-100")
	}
	if !(t.PercentageLow >= t.PercentageCritical && t.PercentageCritical >= t.PercentageAction) {
		return fmt.Errorf("percentage thresholds must satisfy low (%v) >= critical (%v) >= action (%v)",
			t.PercentageLow, t.PercentageCritical, t.PercentageAction)
	}
	if t.TimeAction < 0 {
		return fmt.Errorf("time thresholds must not be negative")
	}
	if !(t.TimeLow >= t.TimeCritical && t.TimeCritical >= t.TimeAction) {
		return fmt.Errorf("time thresholds must satisfy low (%d) >= critical (%d) >= action (%d)",
			t.TimeLow, t.TimeCritical, t.TimeAction)
	}
	return nil
}

// Classify maps a composite status to a warning level. It keeps no state.
func Classify(c cell.Composite, policy Policy, th Thresholds) Level {
	if !c.IsPresent {
		return LevelNone
	}

	level := LevelNone
	switch {
	case c.Kind.IsCoinCell():
		switch {
		case c.ChargeCurrent <= CoinCellCritical:
			level = LevelCritical
		case c.ChargeCurrent <= CoinCellLow:
			level = LevelLow
		}
	case c.Kind == cell.KindPrimary && policy == PolicyTime:
		level = byTime(c, th)
	default:
		level = byPercentage(c, th)
	}

	if level == LevelNone && c.IsDischarging {
		level = LevelDischarging
	}
	return level
}

func byTime(c cell.Composite, th Thresholds) Level {
	t := c.TimeDischarge
	switch {
	case t <= 0:
		logrus.WithField("kind", c.Kind.String()).Trace("no remaining time, not classifying by time")
		return LevelNone
	case t <= th.TimeAction:
		return LevelAction
	case t <= th.TimeCritical:
		return LevelCritical
	case t <= th.TimeLow:
		return LevelLow
	}
	return LevelNone
}

func byPercentage(c cell.Composite, th Thresholds) Level {
	p := c.Percentage
	switch {
	case p <= 0:
		logrus.WithFields(logrus.Fields{
			"kind":       c.Kind.String(),
			"percentage": p,
		}).Warn("hardware reports an impossible percentage, action will not be reported")
		return LevelNone
	case p <= th.PercentageAction:
		return LevelAction
	case p <= th.PercentageCritical:
		return LevelCritical
	case p <= th.PercentageLow:
		return LevelLow
	}
	return LevelNone
}
