package series

import "math"

// ExponentialAverage blends value into previous. factor is the percentage of
// weight kept by previous: 0 returns value, 100 returns previous. A zero
// previous means there is no history yet and value is returned as is.
func ExponentialAverage(previous, value float64, factor int) float64 {
	if previous == 0 {
		return value
	}
	factor = min(max(factor, 0), 100)
	f := float64(factor) / 100
	return (1-f)*value + f*previous
}

// Floats is a plain array of float values indexed from zero.
type Floats []float64

// FloatsFromY copies the y column of s.
func FloatsFromY(s *Series) Floats {
	out := make(Floats, s.Len())
	for i, p := range s.points {
		out[i] = float64(p.Y)
	}
	return out
}

// FloatsFromTag copies the tag column of s.
func FloatsFromTag(s *Series) Floats {
	out := make(Floats, s.Len())
	for i, p := range s.points {
		out[i] = float64(p.Tag)
	}
	return out
}

func (f Floats) Sum() float64 {
	var sum float64
	for _, v := range f {
		sum += v
	}
	return sum
}

func (f Floats) Average() float64 {
	if len(f) == 0 {
		return 0
	}
	return f.Sum() / float64(len(f))
}

// Integral sums the values with index in [x1, x2).
func (f Floats) Integral(x1, x2 int) (float64, error) {
	if x2 <= x1 {
		return 0, ErrEmptyRange
	}
	if x1 < 0 || x2 > len(f) {
		return 0, ErrOutOfRange
	}
	var sum float64
	for i := x1; i < x2; i++ {
		sum += f[i]
	}
	return sum, nil
}

// Convolve applies kernel centred on every index. Indices that fall outside
// the data are clamped to the nearest edge.
func (f Floats) Convolve(kernel Floats) Floats {
	out := make(Floats, len(f))
	if len(f) == 0 || len(kernel) == 0 {
		return out
	}
	half := len(kernel) / 2
	for i := range f {
		var v float64
		for k, w := range kernel {
			idx := min(max(i+k-half, 0), len(f)-1)
			v += f[idx] * w
		}
		out[i] = v
	}
	return out
}

func gaussianValue(x, sigma float64) float64 {
	return (1 / (math.Sqrt(2*math.Pi) * sigma)) * math.Exp(-(x*x)/(2*sigma*sigma))
}

// Gaussian returns a normalized gaussian kernel of the given length. An even
// length is rounded up to the next odd number.
func Gaussian(length int, sigma float64) Floats {
	if length <= 0 || sigma <= 0 {
		return Floats{}
	}
	if length%2 == 0 {
		length++
	}
	half := length / 2
	out := make(Floats, length)
	for i := range out {
		out[i] = gaussianValue(float64(i-half), sigma)
	}
	if sum := out.Sum(); sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}
