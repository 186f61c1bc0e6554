package daemon

import (
	"sync"
	"testing"
	"time"

	"github.com/charlie0129/battime/pkg/cell"
	"github.com/charlie0129/battime/pkg/events"
	"github.com/charlie0129/battime/pkg/profile"
	"github.com/charlie0129/battime/pkg/warning"
)

func TestTimeSeriesRecorder_GetRecordsIn(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) time.Time {
		return now.Add(-d).Add(-10 * time.Millisecond)
	}

	type fields struct {
		MaxRecordCount int
		LastPollTimes  []time.Time
	}
	type args struct {
		last time.Duration
	}
	tests := []struct {
		name   string
		fields fields
		args   args
		want   int
	}{
		{
			name: "test noncontinuous records",
			fields: fields{
				MaxRecordCount: 10,
				LastPollTimes: []time.Time{
					ago(time.Second * 31),
					ago(time.Second * 20),
					ago(time.Second * 10),
				},
			},
			args: args{
				last: time.Second * 40,
			},
			want: 2,
		},
		{
			name: "test continuous records",
			fields: fields{
				MaxRecordCount: 10,
				LastPollTimes: []time.Time{
					ago(time.Second * 70),
					ago(time.Second * 60),
					ago(time.Second * 40),
					ago(time.Second * 30),
					ago(time.Second * 20),
					ago(time.Second * 10),
				},
			},
			args: args{
				last: time.Second * 50,
			},
			want: 4,
		},
		{
			name: "test last record too old",
			fields: fields{
				MaxRecordCount: 10,
				LastPollTimes: []time.Time{
					ago(time.Second * 40),
					ago(time.Second * 30),
					ago(time.Second * 20),
				},
			},
			args: args{
				last: time.Second * 50,
			},
			want: 0,
		},
		{
			name:   "test no records",
			fields: fields{MaxRecordCount: 10},
			args:   args{last: time.Minute},
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &TimeSeriesRecorder{
				MaxRecordCount: tt.fields.MaxRecordCount,
				LastPollTimes:  tt.fields.LastPollTimes,
				interval:       time.Second * 10,
				mu:             &sync.Mutex{},
			}
			if got := r.GetRecordsIn(now, tt.args.last); got != tt.want {
				t.Errorf("GetRecordsIn() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeSeriesRecorder_AddRecord(t *testing.T) {
	r := NewTimeSeriesRecorder(3, time.Second)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.AddRecord(start.Add(time.Duration(i) * time.Second))
	}
	if len(r.LastPollTimes) != 3 {
		t.Fatalf("expected 3 records, got %d", len(r.LastPollTimes))
	}
	if got, want := r.GetLastRecord(), start.Add(4*time.Second); !got.Equal(want) {
		t.Errorf("GetLastRecord() = %v, want %v", got, want)
	}

	r.ClearRecords()
	if !r.GetLastRecord().IsZero() {
		t.Errorf("expected no records after ClearRecords")
	}
}

func TestTimeSeriesRecorder_Woke(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		after time.Duration
		want  bool
	}{
		{name: "regular poll", after: 10 * time.Second, want: false},
		{name: "late poll", after: 21 * time.Second, want: false},
		{name: "suspended", after: 30 * time.Minute, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewTimeSeriesRecorder(10, 10*time.Second)
			if r.Woke(start) {
				t.Fatalf("empty recorder must not report a wake")
			}
			r.AddRecord(start)
			if got := r.Woke(start.Add(tt.after)); got != tt.want {
				t.Errorf("Woke() = %v, want %v", got, tt.want)
			}
		})
	}
}

func drain(ch chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func findEvent(evs []events.Event, name string) (events.Event, bool) {
	for _, e := range evs {
		if e.Name == name {
			return e, true
		}
	}
	return events.Event{}, false
}

func TestPollOnce(t *testing.T) {
	d, p, clock := newTestDaemon(t, false)
	ch := d.Hub().Subscribe()
	defer d.Hub().Unsubscribe(ch)

	p.set("BAT0", cell.KindPrimary, dischargingBattery(2500))
	d.pollOnce()

	c := d.aggs[cell.KindPrimary].Composite()
	if !c.IsPresent || c.Members != 1 {
		t.Fatalf("expected one present primary cell, got %+v", c)
	}
	if c.Percentage != 5 {
		t.Errorf("percentage = %v, want 5", c.Percentage)
	}
	// 3600 * 2500 mWh / 10000 mW
	if c.TimeDischarge != 900 {
		t.Errorf("time to empty = %v, want 900", c.TimeDischarge)
	}

	evs := drain(ch)
	if _, ok := findEvent(evs, events.CellPrefix+cell.EventCollectionChanged.String()); !ok {
		t.Errorf("expected a collection change event, got %v", evs)
	}
	e, ok := findEvent(evs, events.WarningLevel)
	if !ok {
		t.Fatalf("expected a warning event, got %v", evs)
	}
	w, err := events.DecodeAs[events.WarningEvent](e)
	if err != nil {
		t.Fatalf("failed to decode warning: %v", err)
	}
	if w.Level != warning.LevelLow.String() || w.Kind != "primary" {
		t.Errorf("unexpected warning %+v", w)
	}
	if w.TimeRemaining != 900 {
		t.Errorf("time remaining = %v, want 900", w.TimeRemaining)
	}

	// the same level is not reported twice
	clock.advance(10 * time.Second)
	p.update("BAT0", cell.PropertyChargeCurrent, 2400.0)
	d.pollOnce()
	if _, ok := findEvent(drain(ch), events.WarningLevel); ok {
		t.Errorf("warning level must not be reported again")
	}

	// 3600 * 500 / 10000 = 180s is critical
	clock.advance(10 * time.Second)
	p.update("BAT0", cell.PropertyChargeCurrent, 500.0)
	d.pollOnce()
	e, ok = findEvent(drain(ch), events.WarningLevel)
	if !ok {
		t.Fatalf("expected an escalated warning")
	}
	w, _ = events.DecodeAs[events.WarningEvent](e)
	if w.Level != warning.LevelCritical.String() {
		t.Errorf("level = %s, want critical", w.Level)
	}
	if d.engine.Last(cell.KindPrimary) != warning.LevelCritical {
		t.Errorf("engine did not remember the critical level")
	}
}

func TestPollOnce_ActionNeedsTrust(t *testing.T) {
	d, p, _ := newTestDaemon(t, false)
	ch := d.Hub().Subscribe()
	defer d.Hub().Unsubscribe(ch)

	// 3600 * 200 / 10000 = 72s
	p.set("BAT0", cell.KindPrimary, dischargingBattery(200))
	d.pollOnce()

	evs := drain(ch)
	e, ok := findEvent(evs, events.WarningLevel)
	if !ok {
		t.Fatalf("expected a warning event")
	}
	w, _ := events.DecodeAs[events.WarningEvent](e)
	if w.Level != warning.LevelAction.String() {
		t.Errorf("level = %s, want action", w.Level)
	}
	if _, ok := findEvent(evs, events.PowerAction); ok {
		t.Errorf("an untrusted profile must not trigger a power action")
	}
}

func TestPollOnce_Peripheral(t *testing.T) {
	d, p, _ := newTestDaemon(t, false)
	ch := d.Hub().Subscribe()
	defer d.Hub().Unsubscribe(ch)

	p.set("hid-mouse", cell.KindMouse, map[cell.Property]any{
		cell.PropertyPresent:       true,
		cell.PropertyChargeCurrent: 1.0,
		cell.PropertyPercentage:    10.0,
	})
	d.pollOnce()

	evs := drain(ch)
	e, ok := findEvent(evs, events.WarningLevel)
	if !ok {
		t.Fatalf("expected a warning event for the mouse")
	}
	w, _ := events.DecodeAs[events.WarningEvent](e)
	if w.Kind != "mouse" || w.Level != warning.LevelCritical.String() {
		t.Errorf("unexpected warning %+v", w)
	}
	if pa, ok := findEvent(evs, events.PowerAction); ok {
		t.Errorf("critical is below the action level, got %s", string(pa.Data))
	}
}

func TestPollOnce_Removal(t *testing.T) {
	d, p, _ := newTestDaemon(t, false)

	p.set("BAT0", cell.KindPrimary, dischargingBattery(2500))
	d.pollOnce()
	if !d.aggs[cell.KindPrimary].Composite().IsPresent {
		t.Fatalf("expected a present primary")
	}

	p.remove("BAT0")
	d.pollOnce()
	if d.aggs[cell.KindPrimary].Composite().IsPresent {
		t.Errorf("primary must be absent after removal")
	}
	if n := len(d.aggs[cell.KindPrimary].Cells()); n != 0 {
		t.Errorf("expected no cells, got %d", n)
	}
}

func TestPollOnce_WakeResetsSampling(t *testing.T) {
	d, p, clock := newTestDaemon(t, false)

	p.set("BAT0", cell.KindPrimary, dischargingBattery(2500))
	d.pollOnce()
	clock.advance(10 * time.Second)
	d.pollOnce()
	if n := len(d.recorder.LastPollTimes); n != 2 {
		t.Fatalf("expected 2 poll records, got %d", n)
	}

	clock.advance(2 * time.Hour)
	d.pollOnce()
	if n := len(d.recorder.LastPollTimes); n != 1 {
		t.Errorf("expected the records to restart after a wake, got %d", n)
	}
}

// sampleResults returns the results of the profile samples in evs.
func sampleResults(t *testing.T, evs []events.Event) []string {
	t.Helper()
	var out []string
	for _, e := range evs {
		if e.Name != events.ProfileSample {
			continue
		}
		s, err := events.DecodeAs[events.ProfileSampleEvent](e)
		if err != nil {
			t.Fatalf("failed to decode profile sample: %v", err)
		}
		out = append(out, s.Result)
	}
	return out
}

// ticker polls d once per poll interval, the way Loop does.
type ticker struct {
	t     *testing.T
	d     *Daemon
	p     *fakeProvider
	clock *fakeClock
	ch    chan events.Event
}

func (k ticker) wait(ticks int) {
	for i := 0; i < ticks; i++ {
		k.clock.advance(10 * time.Second)
		k.d.pollOnce()
	}
}

// step waits ticks polls, changing the charge to current on the last one,
// and returns the profile samples taken meanwhile.
func (k ticker) step(ticks int, current float64) []string {
	k.t.Helper()
	k.wait(ticks - 1)
	k.clock.advance(10 * time.Second)
	k.p.update("BAT0", cell.PropertyChargeCurrent, current)
	k.d.pollOnce()
	return sampleResults(k.t, drain(k.ch))
}

func newTicker(t *testing.T) ticker {
	d, p, clock := newTestDaemon(t, false)
	ch := d.Hub().Subscribe()
	t.Cleanup(func() { d.Hub().Unsubscribe(ch) })

	p.set("BAT0", cell.KindPrimary, dischargingBattery(25000))
	d.pollOnce()
	got := sampleResults(t, drain(ch))
	if len(got) != 1 || got[0] != profile.IgnoredFirst.String() {
		t.Fatalf("first percentage: got %v, want [%s]", got, profile.IgnoredFirst)
	}
	return ticker{t: t, d: d, p: p, clock: clock, ch: ch}
}

func TestPollOnce_SamplesWholePercents(t *testing.T) {
	k := newTicker(t)

	// 49.98% and 49.96% are still 50%
	for _, current := range []float64{24990, 24980} {
		if got := k.step(3, current); len(got) != 0 {
			t.Errorf("current %v: got samples %v, want none", current, got)
		}
	}

	got := k.step(6, 24500)
	if len(got) != 1 || got[0] != profile.Accepted.String() {
		t.Fatalf("49%%: got %v, want [%s]", got, profile.Accepted)
	}
	b := k.d.profile.Buckets(true)[49]
	if b.Value != 120 || b.Accuracy != 20 {
		t.Errorf("bucket 49 = %+v, want 120s at accuracy 20", b)
	}

	// 48.8% rounds to 49, the interval runs from the step to 49%
	if got := k.step(2, 24400); len(got) != 0 {
		t.Errorf("48.8%%: got samples %v, want none", got)
	}
	got = k.step(4, 24000)
	if len(got) != 1 || got[0] != profile.Accepted.String() {
		t.Fatalf("48%%: got %v, want [%s]", got, profile.Accepted)
	}
	if b := k.d.profile.Buckets(true)[48]; b.Value != 60 {
		t.Errorf("bucket 48 = %+v, want 60s", b)
	}
}

func TestPollOnce_ChargeStateResetsSampling(t *testing.T) {
	k := newTicker(t)

	got := k.step(6, 24500)
	if len(got) != 1 || got[0] != profile.Accepted.String() {
		t.Fatalf("49%%: got %v, want [%s]", got, profile.Accepted)
	}

	k.clock.advance(10 * time.Second)
	k.p.update("BAT0", cell.PropertyDischarging, false)
	k.p.update("BAT0", cell.PropertyCharging, true)
	k.d.pollOnce()

	got = k.step(1, 25000)
	if len(got) != 1 || got[0] != profile.IgnoredFirst.String() {
		t.Fatalf("first charging percentage: got %v, want [%s]", got, profile.IgnoredFirst)
	}
	for i, b := range k.d.profile.Buckets(false) {
		if b.Accuracy != 0 {
			t.Errorf("charging bucket %d learned %+v across the state change", i, b)
		}
	}

	got = k.step(9, 25500)
	if len(got) != 1 || got[0] != profile.Accepted.String() {
		t.Fatalf("51%%: got %v, want [%s]", got, profile.Accepted)
	}
	// charging samples land one bucket below the percentage
	if b := k.d.profile.Buckets(false)[50]; b.Value != 90 {
		t.Errorf("charging bucket 50 = %+v, want 90s", b)
	}
}

func TestLiveSeries(t *testing.T) {
	d, p, clock := newTestDaemon(t, false)
	start := clock.now()

	p.set("BAT0", cell.KindPrimary, dischargingBattery(2500))
	d.pollOnce()
	clock.advance(time.Minute)
	p.update("BAT0", cell.PropertyChargeCurrent, 2000.0)
	d.pollOnce()

	s := d.liveSeries()
	if s.Len() != 2 {
		t.Fatalf("expected 2 live points, got %d", s.Len())
	}
	first, _ := s.Get(0)
	last, _ := s.Get(1)
	if first.X != start.Unix() || last.X != start.Add(time.Minute).Unix() {
		t.Errorf("unexpected x values %d %d", first.X, last.X)
	}
	if first.Y != 5 || last.Y != 4 || last.Tag != 1 {
		t.Errorf("unexpected points %+v %+v", first, last)
	}
}
