// Package stats provides the descriptive statistics the anomaly engine is
// built on. All functions are pure and expect at least one value; the engine
// enforces its own minimum-history precondition before calling in.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean of xs.
func Mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Variance returns the population variance (divide by N).
func Variance(xs []float64) float64 {
	m := Mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation.
func StdDev(xs []float64) float64 {
	return math.Sqrt(Variance(xs))
}

// Median returns the middle value of xs; even-length inputs average the two
// middle values. Sorts a private copy.
func Median(xs []float64) float64 {
	s := sortedCopy(xs)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// MAD returns the unscaled median absolute deviation from the median.
func MAD(xs []float64) float64 {
	m := Median(xs)
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - m)
	}
	return Median(devs)
}

// Quartile returns the value at rank floor(len*q) of the sorted sequence.
// Lower-bound convention, no interpolation.
func Quartile(xs []float64, q float64) float64 {
	s := sortedCopy(xs)
	idx := int(math.Floor(float64(len(s)) * q))
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}

func sortedCopy(xs []float64) []float64 {
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	return s
}
