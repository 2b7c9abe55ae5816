package stats

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMeanVariance(t *testing.T) {
	xs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Mean(xs); !almostEqual(got, 5) {
		t.Fatalf("mean = %v, want 5", got)
	}
	if got := Variance(xs); !almostEqual(got, 4) {
		t.Fatalf("variance = %v, want 4", got)
	}
	if got := StdDev(xs); !almostEqual(got, 2) {
		t.Fatalf("stddev = %v, want 2", got)
	}
}

func TestVarianceNonNegative(t *testing.T) {
	cases := [][]float64{
		{1},
		{3, 3, 3},
		{-5, 5},
		{0.1, 0.2, 0.30000001},
	}
	for _, xs := range cases {
		v := Variance(xs)
		if v < 0 {
			t.Fatalf("variance %v < 0 for %v", v, xs)
		}
		if got := StdDev(xs); !almostEqual(got, math.Sqrt(v)) {
			t.Fatalf("stddev %v != sqrt(variance) %v", got, math.Sqrt(v))
		}
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]float64{1, 2, 3}); !almostEqual(got, 2) {
		t.Fatalf("median odd = %v, want 2", got)
	}
	if got := Median([]float64{1, 2, 3, 4}); !almostEqual(got, 2.5) {
		t.Fatalf("median even = %v, want 2.5", got)
	}
	// input order must not matter
	if got := Median([]float64{3, 1, 2}); !almostEqual(got, 2) {
		t.Fatalf("median unsorted = %v, want 2", got)
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	xs := []float64{5, 1, 3}
	_ = Median(xs)
	if xs[0] != 5 || xs[1] != 1 || xs[2] != 3 {
		t.Fatalf("input mutated: %v", xs)
	}
}

func TestMAD(t *testing.T) {
	// median = 12, deviations = {2,0,0,1,0,1}, median of deviations = 0.5
	xs := []float64{10, 12, 12, 13, 12, 11}
	if got := MAD(xs); !almostEqual(got, 0.5) {
		t.Fatalf("mad = %v, want 0.5", got)
	}
}

func TestQuartileLowerBound(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	if got := Quartile(xs, 0.25); !almostEqual(got, 3) {
		t.Fatalf("q1 = %v, want 3", got)
	}
	if got := Quartile(xs, 0.75); !almostEqual(got, 7) {
		t.Fatalf("q3 = %v, want 7", got)
	}
	// index floor(len*q) clamps at the last element
	if got := Quartile(xs, 1.0); !almostEqual(got, 8) {
		t.Fatalf("q=1.0 -> %v, want 8", got)
	}
}
