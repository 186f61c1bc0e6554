package profile

import (
	"math"

	"github.com/charlie0129/battime/pkg/series"
)

// Buckets is the number of percentage slots in a table.
const Buckets = 100

const (
	gapFillStart = 5
	gapFillEnd   = 95
)

// Bucket holds the learned seconds spent at one percentage and how much the
// value is trusted.
type Bucket struct {
	Value    float64 `json:"value"`
	Accuracy float64 `json:"accuracy"`
}

// Table is a percentile table indexed by percentage 0-99.
type Table struct {
	buckets [Buckets]Bucket
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Bucket(i int) Bucket {
	if i < 0 || i >= Buckets {
		return Bucket{}
	}
	return t.buckets[i]
}

// Snapshot returns a copy of all buckets in percentage order.
func (t *Table) Snapshot() []Bucket {
	out := make([]Bucket, Buckets)
	copy(out, t.buckets[:])
	return out
}

// update blends elapsed into bucket i and raises its accuracy.
func (t *Table) update(i int, elapsed, accuracy float64, smoothing int) {
	b := &t.buckets[i]
	if b.Accuracy == 0 {
		b.Value = elapsed
	} else {
		b.Value = series.ExponentialAverage(b.Value, elapsed, smoothing)
	}
	b.Accuracy = math.Min(b.Accuracy+accuracy/5, 100)
}

// fillGaps back-fills runs of two or more untrusted buckets in the middle
// range with the mean value of the trusted buckets. Filled buckets keep zero
// accuracy so the next real sample overwrites them. A single untrusted bucket
// between trusted neighbours is left alone.
func (t *Table) fillGaps() int {
	mean, ok := t.trustedMean()
	if !ok {
		return 0
	}

	filled := 0
	i := gapFillStart
	for i < gapFillEnd {
		if t.buckets[i].Accuracy != 0 {
			i++
			continue
		}
		j := i
		for j < gapFillEnd && t.buckets[j].Accuracy == 0 {
			j++
		}
		if j-i >= 2 {
			for k := i; k < j; k++ {
				t.buckets[k].Value = mean
				filled++
			}
		}
		i = j
	}
	return filled
}

func (t *Table) trustedMean() (float64, bool) {
	var sum float64
	n := 0
	for _, b := range t.buckets {
		if b.Accuracy > 0 {
			sum += b.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// integrate sums the value column over [x1, x2). An empty range is zero.
func (t *Table) integrate(x1, x2 int) float64 {
	values := make(series.Floats, Buckets)
	for i, b := range t.buckets {
		values[i] = b.Value
	}
	sum, err := values.Integral(x1, x2)
	if err != nil {
		return 0
	}
	return sum
}

// accuracyAverage is the mean accuracy over buckets that have any accuracy.
func (t *Table) accuracyAverage() float64 {
	var sum float64
	n := 0
	for _, b := range t.buckets {
		if b.Accuracy > 0 {
			sum += b.Accuracy
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// toSeries lays the table out in its persisted column order: value,
// accuracy, reserved.
func (t *Table) toSeries() *series.Series {
	s := series.NewFixed(Buckets)
	for i, b := range t.buckets {
		_ = s.Set(i, int64(math.Round(b.Value)), int64(math.Round(b.Accuracy)), 0)
	}
	return s
}

func tableFromSeries(s *series.Series) (*Table, error) {
	if s.Len() != Buckets {
		return nil, ErrCorrupt
	}
	t := NewTable()
	for i, p := range s.Points() {
		if p.X < 0 || p.Y < 0 || p.Y > 100 {
			return nil, ErrCorrupt
		}
		t.buckets[i] = Bucket{Value: float64(p.X), Accuracy: float64(p.Y)}
	}
	return t, nil
}

// Colour tags attached to the exported series, split on whether the bucket
// has been sampled.
const (
	colourAccuracyKnown   = 3
	colourAccuracyUnknown = 10
	colourTimeKnown       = 4
	colourTimeUnknown     = 11
)

func (t *Table) timeSeries() *series.Series {
	s := series.NewFixed(Buckets)
	for i, b := range t.buckets {
		colour := int64(colourTimeUnknown)
		if b.Accuracy > 0 {
			colour = colourTimeKnown
		}
		_ = s.Set(i, int64(i), int64(math.Round(b.Value)), colour)
	}
	return s
}

func (t *Table) accuracySeries() *series.Series {
	s := series.NewFixed(Buckets)
	for i, b := range t.buckets {
		colour := int64(colourAccuracyUnknown)
		if b.Accuracy > 0 {
			colour = colourAccuracyKnown
		}
		_ = s.Set(i, int64(i), int64(math.Round(b.Accuracy)), colour)
	}
	return s
}
