package profile

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LoadSource reports the current system load average.
type LoadSource interface {
	Load() (float64, error)
}

// ScreenSource reports whether the display is in a non-interactive state.
type ScreenSource interface {
	Off() bool
}

// AccuracyFromLoad converts a load average into a sample accuracy. A busy
// system makes the elapsed time less representative.
func AccuracyFromLoad(load float64) float64 {
	if load <= 0.01 {
		return 100
	}
	return min(100/load, 100)
}

// Sampler turns percentage changes into profile samples by timing the
// interval between consecutive changes.
type Sampler struct {
	mu      sync.Mutex
	profile *Profile
	load    LoadSource
	screen  ScreenSource
	last    time.Time

	now func() time.Time
}

func NewSampler(p *Profile, load LoadSource, screen ScreenSource) *Sampler {
	return &Sampler{
		profile: p,
		load:    load,
		screen:  screen,
		now:     time.Now,
	}
}

// SetClock replaces the time source used to measure intervals.
func (s *Sampler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PercentChanged records that the battery just reached percentage.
func (s *Sampler) PercentChanged(percentage int, discharging bool) Result {
	s.mu.Lock()
	now := s.now()
	var elapsed float64
	if !s.last.IsZero() {
		elapsed = now.Sub(s.last).Seconds()
	}
	s.last = now
	s.mu.Unlock()

	accuracy := 100.0
	if s.load != nil {
		load, err := s.load.Load()
		if err != nil {
			logrus.WithError(err).Debug("failed to read system load")
		} else {
			accuracy = AccuracyFromLoad(load)
		}
	}

	screenOff := false
	if s.screen != nil {
		screenOff = s.screen.Off()
	}

	return s.profile.RegisterSample(Sample{
		Percentage:  percentage,
		Elapsed:     elapsed,
		Accuracy:    accuracy,
		Discharging: discharging,
		ScreenOff:   screenOff,
	})
}

// Reset restarts the interval timer and re-arms the profile.
func (s *Sampler) Reset() {
	s.mu.Lock()
	s.last = time.Time{}
	s.mu.Unlock()
	s.profile.Reset()
}
