package cell

import (
	"fmt"
	"math"
)

// Condition grades a capacity percentage.
func Condition(capacity float64) string {
	switch {
	case capacity > 99:
		return "Excellent"
	case capacity > 90:
		return "Good"
	case capacity > 70:
		return "Fair"
	default:
		return "Poor"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatDuration renders seconds as "H hours, M minutes".
func FormatDuration(seconds int64) string {
	minutes := int(math.Round(float64(seconds) / 60))
	if minutes <= 0 {
		return "Unknown time"
	}
	if minutes < 60 {
		return plural(minutes, "minute")
	}
	hours := minutes / 60
	minutes %= 60
	if minutes == 0 {
		return plural(hours, "hour")
	}
	return plural(hours, "hour") + ", " + plural(minutes, "minute")
}

// Describe renders one line about the composite, e.g.
// "Laptop battery 2 hours, 5 minutes remaining (45%)".
func Describe(c Composite, chargedThreshold float64) string {
	if !c.IsPresent {
		return ""
	}
	desc := c.Kind.Description(c.Members > 1)
	pct := int(math.Round(c.Percentage))

	switch c.Kind {
	case KindMouse, KindKeyboard, KindPDA:
		return fmt.Sprintf("%s (%d%%)", desc, pct)
	}

	switch {
	case c.IsCharged(chargedThreshold):
		return fmt.Sprintf("%s fully charged (%d%%)", desc, pct)
	case c.IsDischarging:
		// "Unknown remaining" is never shown
		if c.TimeDischarge > 60 {
			return fmt.Sprintf("%s %s remaining (%d%%)", desc, FormatDuration(c.TimeDischarge), pct)
		}
		return fmt.Sprintf("%s discharging (%d%%)", desc, pct)
	case c.IsCharging:
		if c.TimeCharge > 60 {
			return fmt.Sprintf("%s %s until charged (%d%%)", desc, FormatDuration(c.TimeCharge), pct)
		}
		return fmt.Sprintf("%s charging (%d%%)", desc, pct)
	default:
		return fmt.Sprintf("%s (%d%%)", desc, pct)
	}
}

// Summary is the headline of the machine's power state. trusted is false
// when the primary time estimates come from a profile that has not learned
// enough yet.
func Summary(onAC bool, primary, ups Composite, trusted bool) string {
	var s string
	switch {
	case ups.IsPresent && ups.IsDischarging:
		s = "Computer is running on backup power"
	case onAC:
		s = "Computer is running on AC power"
	default:
		s = "Computer is running on battery power"
	}
	if primary.IsPresent && primary.FromProfile && !trusted {
		s += " (estimated time unknown)"
	}
	return s
}
