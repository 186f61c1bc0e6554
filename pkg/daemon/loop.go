package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/series"
)

// TimeSeriesRecorder records the last N poll times. Gaps in the records
// reveal that the machine was asleep.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	LastPollTimes  []time.Time
	interval       time.Duration
	mu             *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder for polls that are
// interval apart.
func NewTimeSeriesRecorder(maxRecordCount int, interval time.Duration) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		LastPollTimes:  make([]time.Time, 0),
		interval:       interval,
		mu:             &sync.Mutex{},
	}
}

func (r *TimeSeriesRecorder) SetInterval(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = interval
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading, which stops while asleep.
	t = t.Round(0)

	if len(r.LastPollTimes) >= r.MaxRecordCount {
		r.LastPollTimes = r.LastPollTimes[1:]
	}
	r.LastPollTimes = append(r.LastPollTimes, t)
}

// ClearRecords clears all records.
func (r *TimeSeriesRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LastPollTimes = make([]time.Time, 0)
}

// GetLastRecord returns the last record.
func (r *TimeSeriesRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.LastPollTimes) == 0 {
		return time.Time{}
	}

	return r.LastPollTimes[len(r.LastPollTimes)-1]
}

// GetRecordsIn returns the number of continuous records within last before
// now.
func (r *TimeSeriesRecorder) GetRecordsIn(now time.Time, last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	slack := r.interval + time.Second

	// The last record must be within the last duration.
	if len(r.LastPollTimes) > 0 && now.Sub(r.LastPollTimes[len(r.LastPollTimes)-1]) >= slack {
		return 0
	}

	// Continuous records are less than interval+1s apart.
	count := 0
	for i := len(r.LastPollTimes) - 1; i >= 0; i-- {
		record := r.LastPollTimes[i]
		if now.Sub(record) > last {
			break
		}

		theRecordAfter := record
		if i+1 < len(r.LastPollTimes) {
			theRecordAfter = r.LastPollTimes[i+1]
		}

		if theRecordAfter.Sub(record) >= slack {
			break
		}
		count++
	}

	return count
}

// Woke reports whether now is so far behind the last record that the
// machine must have been suspended in between.
func (r *TimeSeriesRecorder) Woke(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.LastPollTimes) == 0 {
		return false
	}
	gap := now.Round(0).Sub(r.LastPollTimes[len(r.LastPollTimes)-1])
	return gap > 2*r.interval+time.Second
}

// Loop polls until ctx is done.
func (d *Daemon) Loop(ctx context.Context) {
	for {
		d.pollOnce()

		timer := time.NewTimer(d.conf.PollInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// pollOnce reads telemetry, recomputes every composite and acts on the
// result.
func (d *Daemon) pollOnce() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if d.recorder.Woke(now) {
		logrus.WithField("last", d.recorder.GetLastRecord().Format(time.RFC3339)).
			Info("system woke up from sleep, restarting profile sampling")
		d.resetSampling("woke up")
		d.recorder.ClearRecords()
	}
	d.recorder.AddRecord(now)

	onAC := false
	if d.ac != nil {
		onAC = d.ac.OnAC()
	}
	if d.acSeen && onAC != d.onAC {
		logrus.WithField("onAC", onAC).Info("power source changed, restarting profile sampling")
		d.resetSampling("power source changed")
	}
	d.onAC, d.acSeen = onAC, true

	if err := d.provider.Poll(d); err != nil {
		logrus.WithError(err).Warn("failed to poll power devices")
	}

	for _, kind := range cell.Kinds {
		// AC state is read during recompute, so do it even without changes
		c := d.aggs[kind].Recompute()
		if !c.IsPresent {
			continue
		}
		d.evaluate(c, onAC)
		d.record(now, c, onAC)

		if kind == cell.KindPrimary {
			d.addLive(now, c)
		}
	}

	logrus.WithFields(logrus.Fields{
		"onAC":    onAC,
		"devices": len(d.provider.Devices()),
	}).Trace("poll finished")
}

func (d *Daemon) addLive(now time.Time, c cell.Composite) {
	var tag int64
	if c.IsDischarging {
		tag = 1
	}
	d.liveMu.Lock()
	defer d.liveMu.Unlock()
	if d.liveStart.IsZero() {
		d.liveStart = now
	}
	// x is relative so that LimitXSize can thin out old points
	x := int64(now.Sub(d.liveStart).Seconds())
	if err := d.live.Add(x, int64(c.Percentage), tag); err != nil {
		logrus.WithError(err).Debug("failed to add live sample")
	}
}

// liveSeries returns a copy of the live percentage series with x in unix
// seconds.
func (d *Daemon) liveSeries() *series.Series {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()
	out := series.New()
	out.MaxPoints = 0
	out.MaxWidth = 0
	for _, p := range d.live.Points() {
		_ = out.Append(d.liveStart.Unix()+p.X, p.Y, p.Tag)
	}
	return out
}
