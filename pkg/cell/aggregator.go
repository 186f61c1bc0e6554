package cell

import (
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ACSource reports whether the machine is on external power.
type ACSource interface {
	OnAC() bool
}

// ProfileSource is the part of the learned runtime profile the aggregator
// needs.
type ProfileSource interface {
	SetIdentity(identity string) error
	Time(percentage int, discharging bool) int64
}

type Options struct {
	// ChargedThreshold is the percentage above which idle cells count as
	// fully charged.
	ChargedThreshold float64
	// ChargedMargin is how far below ChargedThreshold the percentage has to
	// drop before fully charged is reported again.
	ChargedMargin float64
	// UseProfile selects the learned profile for primary time estimates.
	UseProfile bool
}

func DefaultOptions() Options {
	return Options{
		ChargedThreshold: 90,
		ChargedMargin:    5,
	}
}

// IdentitySeparator joins the cell ids that make up a profile identity.
const IdentitySeparator = "+"

// Aggregator owns all cells of one kind and keeps their composite status.
type Aggregator struct {
	mu sync.Mutex

	kind    Kind
	opts    Options
	src     Source
	ac      ACSource
	profile ProfileSource

	cells     map[string]*Cell
	composite Composite
	identity  string

	doneFullyCharged bool
	doneCapacity     map[string]bool
	doneRecall       map[string]bool

	observers []Observer
}

// NewAggregator creates an aggregator for kind. ac and profile may be nil.
func NewAggregator(kind Kind, src Source, ac ACSource, profile ProfileSource, opts Options) *Aggregator {
	return &Aggregator{
		kind:         kind,
		opts:         opts,
		src:          src,
		ac:           ac,
		profile:      profile,
		cells:        make(map[string]*Cell),
		composite:    Composite{Kind: kind, Unit: kind.Unit()},
		doneCapacity: make(map[string]bool),
		doneRecall:   make(map[string]bool),
	}
}

func logger(kind Kind) *logrus.Entry {
	return logrus.WithField("kind", kind.String())
}

func (a *Aggregator) Kind() Kind {
	return a.kind
}

// Subscribe registers o for all future events.
func (a *Aggregator) Subscribe(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

// SetOptions replaces the options and recomputes the composite.
func (a *Aggregator) SetOptions(opts Options) {
	a.mu.Lock()
	a.opts = opts
	events := a.recomputeLocked()
	a.mu.Unlock()
	a.dispatch(events)
}

// Add starts tracking device id and reads all of its properties.
func (a *Aggregator) Add(id string) {
	a.mu.Lock()
	if _, ok := a.cells[id]; ok {
		a.mu.Unlock()
		return
	}
	c := NewCell(id, a.kind, a.src)
	c.Refresh()
	a.cells[id] = c
	logger(a.kind).WithField("device", id).Info("cell added")

	events := a.recomputeLocked()
	events = append(events, a.deviceEventsLocked(c)...)
	events = append(events, Event{Kind: EventCollectionChanged, Composite: a.composite})
	a.mu.Unlock()
	a.dispatch(events)
}

// Remove stops tracking device id.
func (a *Aggregator) Remove(id string) {
	a.mu.Lock()
	if _, ok := a.cells[id]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.cells, id)
	logger(a.kind).WithField("device", id).Info("cell removed")

	events := a.recomputeLocked()
	events = append(events, Event{Kind: EventCollectionChanged, Composite: a.composite})
	a.mu.Unlock()
	a.dispatch(events)
}

// Apply forwards a property change to the cell for device id. Changes for
// unknown devices are ignored.
func (a *Aggregator) Apply(id string, key Property, v any) {
	a.mu.Lock()
	c, ok := a.cells[id]
	if !ok {
		a.mu.Unlock()
		logger(a.kind).WithField("device", id).Debug("property change for unknown cell")
		return
	}

	change := c.ApplyProperty(key, v)
	if change == 0 {
		a.mu.Unlock()
		return
	}
	logger(a.kind).WithFields(logrus.Fields{
		"device":   id,
		"property": key.String(),
		"value":    v,
	}).Trace("cell property changed")

	events := a.recomputeLocked()
	if change.Has(ChangeRefresh) || key == PropertyChargeDesign || key == PropertyChargeLastFull || key == PropertyRecalled {
		events = append(events, a.deviceEventsLocked(c)...)
	}
	a.mu.Unlock()
	a.dispatch(events)
}

// Recompute rebuilds the composite from scratch and returns it.
func (a *Aggregator) Recompute() Composite {
	a.mu.Lock()
	events := a.recomputeLocked()
	c := a.composite
	a.mu.Unlock()
	a.dispatch(events)
	return c
}

func (a *Aggregator) Composite() Composite {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.composite
}

// Identity is the profile identity of the present primary cells.
func (a *Aggregator) Identity() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identity
}

// Cells returns the state of every tracked cell, ordered by device id.
func (a *Aggregator) Cells() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]State, 0, len(a.cells))
	for _, id := range a.sortedIDsLocked() {
		out = append(out, a.cells[id].State())
	}
	return out
}

func (a *Aggregator) sortedIDsLocked() []string {
	ids := make([]string, 0, len(a.cells))
	for id := range a.cells {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// identityLocked joins the ids of all present cells in a stable order.
func (a *Aggregator) identityLocked() string {
	var ids []string
	for _, c := range a.cells {
		if c.State().IsPresent {
			ids = append(ids, c.ID())
		}
	}
	slices.Sort(ids)
	return strings.Join(ids, IdentitySeparator)
}

// deviceEventsLocked raises the once-per-device events for c. Call it after
// recomputeLocked so the events carry the new composite.
func (a *Aggregator) deviceEventsLocked(c *Cell) []Event {
	s := c.State()
	if !s.IsPresent {
		return nil
	}

	var events []Event
	id := c.ID()
	entry := logger(a.kind).WithFields(logrus.Fields{
		"device": s.DeviceID,
		"id":     id,
	})

	if a.kind == KindPrimary && s.Capacity > 0 && s.Capacity < LowCapacity &&
		!s.ReportsPercentage() && !a.doneCapacity[id] {
		entry.WithField("capacity", s.Capacity).Warn("battery has a low capacity")
		a.doneCapacity[id] = true
		events = append(events, Event{
			Kind:      EventLowCapacity,
			Composite: a.composite,
			DeviceID:  s.DeviceID,
			Capacity:  s.Capacity,
		})
	}

	if s.IsRecalled && !a.doneRecall[id] {
		entry.WithFields(logrus.Fields{
			"vendor": s.RecallVendor,
			"url":    s.RecallURL,
		}).Warn("battery may be recalled")
		a.doneRecall[id] = true
		events = append(events, Event{
			Kind:         EventPerhapsRecall,
			Composite:    a.composite,
			DeviceID:     s.DeviceID,
			RecallVendor: s.RecallVendor,
			RecallURL:    s.RecallURL,
		})
	}
	return events
}

func (a *Aggregator) recomputeLocked() []Event {
	prev := a.composite
	entry := logger(a.kind)

	if a.kind == KindPrimary {
		if id := a.identityLocked(); id != a.identity {
			entry.WithFields(logrus.Fields{
				"from": a.identity,
				"to":   id,
			}).Debug("profile identity changed")
			a.identity = id
			if a.profile != nil && id != "" {
				if err := a.profile.SetIdentity(id); err != nil {
					entry.WithError(err).Error("failed to switch profile")
				}
			}
		}
	}

	states := make([]State, 0, len(a.cells))
	for _, id := range a.sortedIDsLocked() {
		states = append(states, a.cells[id].State())
	}
	c := aggregate(a.kind, states)

	// Some batteries stop reporting a state when nearly empty and idle.
	if a.kind == KindPrimary && !c.IsCharging && !c.IsDischarging &&
		c.Percentage > 0 && c.Percentage < a.opts.ChargedThreshold && a.ac != nil {
		onAC := a.ac.OnAC()
		entry.WithFields(logrus.Fields{
			"percentage": c.Percentage,
			"onAC":       onAC,
		}).Debug("battery reports no state, using the AC adapter")
		c.IsCharging = onAC
		c.IsDischarging = !onAC
	}

	if a.opts.UseProfile && a.kind == KindPrimary && a.profile != nil {
		c.FromProfile = true
		p := int(c.Percentage)
		if c.IsDischarging {
			c.TimeDischarge = a.profile.Time(p, true)
		}
		if c.IsCharging {
			c.TimeCharge = a.profile.Time(p, false)
		}
	} else {
		c.rateTimes()
	}
	c.capTimes()

	a.composite = c

	var events []Event
	if c.Percentage != prev.Percentage {
		entry.WithFields(logrus.Fields{
			"from": prev.Percentage,
			"to":   c.Percentage,
		}).Debug("percentage changed")
		events = append(events, Event{Kind: EventPercentChanged, Composite: c})
	}
	if c.IsCharging != prev.IsCharging {
		events = append(events, Event{Kind: EventChargingChanged, Composite: c})
	}
	if c.IsDischarging != prev.IsDischarging {
		events = append(events, Event{Kind: EventDischargingChanged, Composite: c})
	}

	if !a.doneFullyCharged && c.IsPresent && c.IsCharged(a.opts.ChargedThreshold) {
		entry.WithField("percentage", c.Percentage).Info("fully charged")
		a.doneFullyCharged = true
		events = append(events, Event{Kind: EventFullyCharged, Composite: c})
	} else if a.doneFullyCharged && c.Percentage < a.opts.ChargedThreshold-a.opts.ChargedMargin {
		entry.WithField("percentage", c.Percentage).Debug("fully charged re-armed")
		a.doneFullyCharged = false
	}

	entry.WithFields(logrus.Fields{
		"members":       c.Members,
		"percentage":    c.Percentage,
		"charging":      c.IsCharging,
		"discharging":   c.IsDischarging,
		"timeCharge":    c.TimeCharge,
		"timeDischarge": c.TimeDischarge,
	}).Trace("composite recomputed")

	return events
}

// dispatch delivers events outside the lock so observers may call back into
// the aggregator.
func (a *Aggregator) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	a.mu.Lock()
	observers := slices.Clone(a.observers)
	a.mu.Unlock()

	for _, e := range events {
		for _, o := range observers {
			o.OnEvent(e)
		}
	}
}
