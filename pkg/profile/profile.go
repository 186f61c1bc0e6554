// Package profile learns how long a battery spends at each percentage while
// charging and discharging, and turns that into time estimates.
package profile

import (
	"errors"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/series"
)

const (
	// TrustFloor is the average accuracy a table needs before automatic power
	// actions may rely on it.
	TrustFloor = 40

	DefaultSmoothing   = 80
	DefaultMinAccuracy = 20
)

// Result describes what RegisterSample did with a sample.
type Result int

const (
	Accepted Result = iota
	IgnoredFirst
	IgnoredInaccurate
	IgnoredScreenOff
	IgnoredOutOfRange
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case IgnoredFirst:
		return "ignored-first"
	case IgnoredInaccurate:
		return "ignored-inaccurate"
	case IgnoredScreenOff:
		return "ignored-screen-off"
	case IgnoredOutOfRange:
		return "ignored-out-of-range"
	default:
		return "unknown"
	}
}

// Sample is the time spent reaching Percentage.
type Sample struct {
	Percentage int
	// Elapsed is in seconds.
	Elapsed     float64
	Accuracy    float64
	Discharging bool
	ScreenOff   bool
}

type Options struct {
	// Smoothing is the percentage of weight kept by the saved value.
	Smoothing   int
	GapFill     bool
	MinAccuracy float64
}

func DefaultOptions() Options {
	return Options{
		Smoothing:   DefaultSmoothing,
		GapFill:     false,
		MinAccuracy: DefaultMinAccuracy,
	}
}

// Profile owns the charge and discharge tables of one battery set.
type Profile struct {
	mu sync.Mutex

	store     Store
	opts      Options
	identity  string
	charge    *Table
	discharge *Table
	// armed is false until a first sample bounds the next interval.
	armed bool
}

func New(store Store, opts Options) *Profile {
	return &Profile{
		store:     store,
		opts:      opts,
		charge:    NewTable(),
		discharge: NewTable(),
	}
}

func (p *Profile) SetOptions(opts Options) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts = opts
}

func (p *Profile) Identity() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

// SetIdentity switches to the tables of another battery set. In-memory state
// is discarded. Missing or unreadable tables start empty and are written out
// straight away.
func (p *Profile) SetIdentity(identity string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if identity == p.identity {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"from": p.identity,
		"to":   identity,
	}).Info("profile identity changed, reloading tables")

	p.identity = identity
	p.armed = false

	var errs []error
	p.charge, errs = p.loadLocked(true, errs)
	p.discharge, errs = p.loadLocked(false, errs)
	return errors.Join(errs...)
}

func (p *Profile) loadLocked(charging bool, errs []error) (*Table, []error) {
	if p.store == nil || p.identity == "" {
		return NewTable(), errs
	}

	t, err := p.store.Load(p.identity, charging)
	if err == nil {
		return t, errs
	}

	entry := logrus.WithFields(logrus.Fields{
		"identity": p.identity,
		"mode":     modeString(charging),
	})
	if errors.Is(err, os.ErrNotExist) {
		entry.Info("no saved profile, creating a new one")
	} else {
		entry.WithError(err).Warn("saved profile unusable, regenerating")
	}

	t = NewTable()
	if err := p.store.Save(p.identity, charging, t); err != nil {
		entry.WithError(err).Error("failed to save new profile")
		errs = append(errs, err)
	}
	return t, errs
}

// Reset makes the next sample a starting point only. Call it on any charging
// or power source transition.
func (p *Profile) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = false
}

// RegisterSample folds one sample into the matching table and persists it.
func (p *Profile) RegisterSample(s Sample) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := logrus.WithFields(logrus.Fields{
		"percentage":  s.Percentage,
		"elapsed":     s.Elapsed,
		"accuracy":    s.Accuracy,
		"discharging": s.Discharging,
	})

	// two readings are needed to bound one interval
	if !p.armed {
		p.armed = true
		entry.Debug("first sample after reset, waiting for the next one")
		return IgnoredFirst
	}
	if s.Accuracy < p.opts.MinAccuracy {
		entry.Debug("sample not accurate enough")
		return IgnoredInaccurate
	}
	if s.ScreenOff {
		entry.Debug("screen is off, sample not representative")
		return IgnoredScreenOff
	}

	// charging never writes bucket 0
	index := s.Percentage
	table := p.discharge
	if !s.Discharging {
		index = s.Percentage - 1
		table = p.charge
	}
	if index < 0 || index >= Buckets {
		entry.Debug("sample percentage out of range")
		return IgnoredOutOfRange
	}

	table.update(index, s.Elapsed, s.Accuracy, p.opts.Smoothing)
	if p.opts.GapFill {
		if n := table.fillGaps(); n > 0 {
			entry.WithField("filled", n).Trace("filled profile gaps")
		}
	}

	b := table.Bucket(index)
	entry.WithFields(logrus.Fields{
		"bucket":         index,
		"value":          b.Value,
		"bucketAccuracy": b.Accuracy,
	}).Debug("profile sample accepted")

	p.saveLocked(!s.Discharging, table)
	return Accepted
}

func (p *Profile) saveLocked(charging bool, t *Table) {
	if p.store == nil || p.identity == "" {
		return
	}
	if err := p.store.Save(p.identity, charging, t); err != nil {
		logrus.WithFields(logrus.Fields{
			"identity": p.identity,
			"mode":     modeString(charging),
		}).WithError(err).Error("failed to save profile")
	}
}

func (p *Profile) tableLocked(discharging bool) *Table {
	if discharging {
		return p.discharge
	}
	return p.charge
}

// Time returns the estimated seconds to empty from percentage when
// discharging, or to full when charging.
func (p *Profile) Time(percentage int, discharging bool) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	percentage = min(max(percentage, 0), Buckets-1)
	var sum float64
	if discharging {
		sum = p.discharge.integrate(0, percentage)
	} else {
		sum = p.charge.integrate(percentage, Buckets)
	}
	return int64(sum)
}

func (p *Profile) Accuracy(percentage int, discharging bool) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tableLocked(discharging).Bucket(percentage).Accuracy
}

// AccuracyAverage is the trust metric of a table.
func (p *Profile) AccuracyAverage(discharging bool) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tableLocked(discharging).accuracyAverage()
}

// Trusted reports whether the table has reached TrustFloor.
func (p *Profile) Trusted(discharging bool) bool {
	return p.AccuracyAverage(discharging) >= TrustFloor
}

func (p *Profile) Buckets(discharging bool) []Bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tableLocked(discharging).Snapshot()
}

// TimeSeries returns (percentage, seconds, colour) points for plotting.
func (p *Profile) TimeSeries(discharging bool) *series.Series {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tableLocked(discharging).timeSeries()
}

// AccuracySeries returns (percentage, accuracy, colour) points for plotting.
func (p *Profile) AccuracySeries(discharging bool) *series.Series {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tableLocked(discharging).accuracySeries()
}
