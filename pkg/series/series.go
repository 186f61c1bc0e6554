// Package series provides a small ordered container of integer points used
// for live charge history and for the persisted runtime profile tables.
package series

import (
	"errors"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxPoints is the number of points Add keeps before simplifying.
	DefaultMaxPoints = 120
	// DefaultMaxWidth is the largest x span Add keeps before truncating.
	DefaultMaxWidth = 600

	// rateScale maps a fractional regression slope onto an integer range.
	rateScale = 10000
)

var (
	ErrOutOfRange     = errors.New("index out of range")
	ErrFixedSize      = errors.New("series is fixed size")
	ErrVariableSize   = errors.New("series has been appended to")
	ErrLengthMismatch = errors.New("series lengths differ")
	ErrEmptyRange     = errors.New("empty integration range")
)

// Point is one sample. Tag carries an auxiliary value (colour, device id)
// that the series never interprets.
type Point struct {
	X   int64 `json:"x"`
	Y   int64 `json:"y"`
	Tag int64 `json:"tag"`
}

// Series is an ordered collection of points. By convention points are
// inserted in x order. A series is either variable (grown with Append/Add)
// or fixed (allocated with SetFixedSize and written with Set), never both.
type Series struct {
	MaxPoints int
	MaxWidth  int64

	points   []Point
	fixed    bool
	variable bool
}

// New returns an empty variable series with the default limits.
func New() *Series {
	return &Series{
		MaxPoints: DefaultMaxPoints,
		MaxWidth:  DefaultMaxWidth,
	}
}

// NewFixed returns a series locked to n zeroed points.
func NewFixed(n int) *Series {
	s := New()
	_ = s.SetFixedSize(n)
	return s
}

func (s *Series) Len() int {
	return len(s.points)
}

func (s *Series) IsFixed() bool {
	return s.fixed
}

// Points returns a copy of the points.
func (s *Series) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

func (s *Series) Get(i int) (Point, bool) {
	if i < 0 || i >= len(s.points) {
		logrus.WithFields(logrus.Fields{
			"index":  i,
			"length": len(s.points),
		}).Debug("series index out of range")
		return Point{}, false
	}
	return s.points[i], true
}

func (s *Series) Set(i int, x, y, tag int64) error {
	if i < 0 || i >= len(s.points) {
		return ErrOutOfRange
	}
	s.points[i] = Point{X: x, Y: y, Tag: tag}
	return nil
}

func (s *Series) Append(x, y, tag int64) error {
	if s.fixed {
		return ErrFixedSize
	}
	s.variable = true
	s.points = append(s.points, Point{X: x, Y: y, Tag: tag})
	return nil
}

// SetFixedSize allocates n zeroed points and locks the series to fixed mode.
func (s *Series) SetFixedSize(n int) error {
	if s.variable {
		return ErrVariableSize
	}
	if n < 0 {
		return ErrOutOfRange
	}
	s.fixed = true
	s.points = make([]Point, n)
	return nil
}

// Clear drops all points. A fixed series keeps its length with zeroed points.
func (s *Series) Clear() {
	if s.fixed {
		s.points = make([]Point, len(s.points))
		return
	}
	s.points = s.points[:0]
}

// Add appends a live sample, coalescing runs of equal values, then keeps the
// series within MaxPoints and MaxWidth.
func (s *Series) Add(x, y, tag int64) error {
	if s.fixed {
		return ErrFixedSize
	}

	n := len(s.points)
	switch {
	case n >= 2 && s.points[n-1].Y == y && s.points[n-2].Y == y:
		// a flat run only needs its end point moved
		s.points[n-1].X = x
		s.points[n-1].Tag = tag
		s.checkMaxAndSize()
		return nil
	case y == 0 && n > 0 && s.points[n-1].Y != 0:
		// keep the drop to zero square
		_ = s.Append(x, s.points[n-1].Y, tag)
	}
	_ = s.Append(x, y, tag)

	s.checkMaxAndSize()
	return nil
}

func (s *Series) checkMaxAndSize() {
	if s.MaxPoints > 0 && len(s.points) > s.MaxPoints {
		logrus.WithFields(logrus.Fields{
			"length":    len(s.points),
			"maxPoints": s.MaxPoints,
		}).Trace("too many points, simplifying")
		s.LimitXSize(s.MaxPoints / 2)
	}

	n := len(s.points)
	if s.MaxWidth > 0 && n > 2 {
		width := s.points[n-1].X - s.points[0].X
		if width > s.MaxWidth {
			logrus.WithFields(logrus.Fields{
				"width":    width,
				"maxWidth": s.MaxWidth,
			}).Trace("series too wide, truncating")
			s.LimitXWidth(s.MaxWidth / 2)
		}
	}
}

// LimitXSize reduces the series to roughly target points using a time
// division: a point is kept only when its x reaches a running threshold that
// advances by last.x/target for every kept point. Re-applying it does not
// keep diluting older data. The first and last points are always kept.
// It returns false when the series is already shorter than target.
func (s *Series) LimitXSize(target int) bool {
	n := len(s.points)
	if target <= 0 || n < target {
		return false
	}

	div := float64(s.points[n-1].X) / float64(target)
	running := 0.0
	kept := s.points[:0]
	for i, p := range s.points {
		if float64(p.X) >= running || i == 0 || i == n-1 {
			running += div
			kept = append(kept, p)
		}
	}
	s.points = kept
	return true
}

// LimitXWidth drops the leading points whose x is more than width behind the
// last point.
func (s *Series) LimitXWidth(width int64) {
	n := len(s.points)
	if n == 0 {
		return
	}
	last := s.points[n-1].X
	cut := 0
	for cut < n && last-s.points[cut].X > width {
		cut++
	}
	if cut > 0 {
		s.points = append(s.points[:0], s.points[cut:]...)
	}
}

// Interpolate returns the y value at x, linearly interpolated between the
// bracketing points. The result never exceeds the later point's y.
func (s *Series) Interpolate(x int64) int64 {
	var prev *Point
	for i := range s.points {
		p := &s.points[i]
		if p.X > x {
			return interpolatePoints(p, prev, x)
		}
		prev = p
	}
	if prev != nil {
		return prev.Y
	}
	return 0
}

func interpolatePoints(this, last *Point, x int64) int64 {
	if last == nil {
		return this.Y
	}
	dx := this.X - last.X
	if dx == 0 {
		return this.Y
	}
	m := float64(this.Y-last.Y) / float64(dx)
	// intercept is truncated to an integer before use
	c := int64(-m*float64(this.X) + float64(this.Y))
	y := int64(m*float64(x) + float64(c))
	if y > this.Y {
		y = this.Y
	}
	return y
}

// ComputeIntegral sums y over the points with index in [x1, x2).
func (s *Series) ComputeIntegral(x1, x2 int) (int64, error) {
	if x2 <= x1 {
		return 0, ErrEmptyRange
	}
	if x1 < 0 || x2 > len(s.points) {
		return 0, ErrOutOfRange
	}
	var sum int64
	for i := x1; i < x2; i++ {
		sum += s.points[i].Y
	}
	return sum, nil
}

// ComputeRateLSRL returns, for every point with a wide enough window, the
// magnitude of the least-squares slope over [i-slew, i+slew] scaled by 10000.
func (s *Series) ComputeRateLSRL(slew int) *Series {
	out := New()
	out.MaxPoints = 0
	out.MaxWidth = 0

	n := len(s.points)
	if slew <= 0 {
		return out
	}
	minWidth := 1.25 * float64(slew)

	for i := 0; i < n; i++ {
		lo := max(i-slew, 0)
		hi := min(i+slew, n-1)
		count := hi - lo + 1
		if float64(count) < minWidth {
			continue
		}

		var sumX, sumY float64
		for j := lo; j <= hi; j++ {
			sumX += float64(s.points[j].X)
			sumY += float64(s.points[j].Y)
		}
		meanX := sumX / float64(count)
		meanY := sumY / float64(count)

		var num, den float64
		for j := lo; j <= hi; j++ {
			dx := float64(s.points[j].X) - meanX
			num += dx * (float64(s.points[j].Y) - meanY)
			den += dx * dx
		}
		if den == 0 {
			continue
		}
		m := num / den
		_ = out.Append(s.points[i].X, int64(math.Round(math.Abs(m)*rateScale)), s.points[i].Tag)
	}
	return out
}

func (s *Series) SortByX() {
	sort.SliceStable(s.points, func(i, j int) bool { return s.points[i].X < s.points[j].X })
}

func (s *Series) SortByY() {
	sort.SliceStable(s.points, func(i, j int) bool { return s.points[i].Y < s.points[j].Y })
}

// Invert negates every y value.
func (s *Series) Invert() {
	for i := range s.points {
		s.points[i].Y = -s.points[i].Y
	}
}

// SetTag overwrites the tag of every point.
func (s *Series) SetTag(tag int64) {
	for i := range s.points {
		s.points[i].Tag = tag
	}
}

// CopyTo overwrites dst point by point. Both series must have the same length.
func (s *Series) CopyTo(dst *Series) error {
	if len(s.points) != len(dst.points) {
		return ErrLengthMismatch
	}
	copy(dst.points, s.points)
	return nil
}

// AppendTo appends every point of s to dst.
func (s *Series) AppendTo(dst *Series) error {
	for _, p := range s.points {
		if err := dst.Append(p.X, p.Y, p.Tag); err != nil {
			return err
		}
	}
	return nil
}

// AlignOffset returns the smallest index k in b such that b[k].X is not before
// a's first x. At most maxAlignProbes indices are tried.
func AlignOffset(a, b *Series) (int, bool) {
	if a.Len() == 0 || b.Len() == 0 {
		return 0, false
	}
	start := a.points[0].X
	for k := 0; k < maxAlignProbes && k < b.Len(); k++ {
		if b.points[k].X >= start {
			return k, true
		}
	}
	return 0, false
}

const maxAlignProbes = 5
