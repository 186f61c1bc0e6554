package cell

// Composite is the merged status of all present cells of one kind. It is
// only ever produced by Aggregator.Recompute.
type Composite struct {
	Kind Kind `json:"kind"`
	Unit Unit `json:"unit"`

	IsPresent     bool `json:"isPresent"`
	IsCharging    bool `json:"isCharging"`
	IsDischarging bool `json:"isDischarging"`

	ChargeDesign   float64 `json:"chargeDesign"`
	ChargeLastFull float64 `json:"chargeLastFull"`
	ChargeCurrent  float64 `json:"chargeCurrent"`
	Rate           float64 `json:"rate"`
	Voltage        float64 `json:"voltage"`
	Percentage     float64 `json:"percentage"`
	TimeCharge     int64   `json:"timeCharge"`
	TimeDischarge  int64   `json:"timeDischarge"`
	Capacity       float64 `json:"capacity"`

	// Members is the number of present cells merged into this status.
	Members int `json:"members"`
	// FromProfile is set when the times come from the learned profile.
	FromProfile bool `json:"fromProfile"`
}

// IsCharged reports whether the cells are idle above threshold. Worn cells
// often stop short of 100%, hence the threshold.
func (c Composite) IsCharged(threshold float64) bool {
	return !c.IsCharging && !c.IsDischarging && c.Percentage > threshold
}

// MaxTime is the longest plausible remaining time in seconds.
const MaxTime = 100 * 60 * 60

// aggregate merges the present states into a composite. It applies every
// sanity correction except the time source selection, which needs the
// aggregator's collaborators.
func aggregate(kind Kind, states []State) Composite {
	c := Composite{Kind: kind, Unit: kind.Unit()}

	var percentage float64
	for _, s := range states {
		if !s.IsPresent {
			continue
		}
		c.Members++
		c.IsPresent = true
		c.IsCharging = c.IsCharging || s.IsCharging
		c.IsDischarging = c.IsDischarging || s.IsDischarging

		c.ChargeDesign += s.ChargeDesign
		c.ChargeLastFull += s.ChargeLastFull
		c.ChargeCurrent += s.ChargeCurrent
		c.Rate += s.Rate
		c.Voltage += s.Voltage
		c.TimeCharge += s.TimeCharge
		c.TimeDischarge += s.TimeDischarge
		percentage += s.Percentage
	}
	c.Percentage = percentage

	if c.Rate > MaxRate {
		logger(kind).WithField("rate", c.Rate).Warn("composite rate is implausible, resetting to 0")
		c.Rate = 0
	}

	if n := c.Members; n > 1 {
		f := float64(n)
		c.ChargeDesign /= f
		c.ChargeLastFull /= f
		c.ChargeCurrent /= f
		c.Rate /= f
		c.Voltage /= f
		c.Percentage /= f
		c.TimeCharge /= int64(n)
		c.TimeDischarge /= int64(n)
	}

	if c.IsCharging && c.IsDischarging {
		logger(kind).Warn("cells cannot be charging and discharging at the same time, clearing charging")
		c.IsCharging = false
	}

	if kind == KindPrimary && c.ChargeCurrent > 0 && c.ChargeLastFull > 0 {
		c.Percentage = min(max(100*c.ChargeCurrent/c.ChargeLastFull, 0), 100)
	}

	if c.ChargeDesign > 0 && c.ChargeLastFull > 0 {
		c.Capacity = min(max(100*c.ChargeLastFull/c.ChargeDesign, 0), 100)
	}

	return c
}

// rateTimes estimates both times from the raw rate. Devices without a rate
// keep the times they reported.
func (c *Composite) rateTimes() {
	if c.Rate <= 0 {
		return
	}
	if c.IsDischarging {
		c.TimeDischarge = int64(3600 * c.ChargeCurrent / c.Rate)
	} else if c.IsCharging {
		c.TimeCharge = int64(3600 * max(c.ChargeLastFull-c.ChargeCurrent, 0) / c.Rate)
	}
}

func (c *Composite) capTimes() {
	if c.TimeCharge > MaxTime {
		logger(c.Kind).WithField("timeCharge", c.TimeCharge).Warn("remaining time cannot be over 100 hours, resetting to 0")
		c.TimeCharge = 0
	}
	if c.TimeDischarge > MaxTime {
		logger(c.Kind).WithField("timeDischarge", c.TimeDischarge).Warn("remaining time cannot be over 100 hours, resetting to 0")
		c.TimeDischarge = 0
	}
}
