// Package analytics scores live price observations against recent history.
// Evaluation is pure: identical inputs always produce identical results.
package analytics

import (
	"fmt"
	"math"

	"PriceSentinel/internal/domain/models"
	"PriceSentinel/internal/stats"
)

// Method selects the estimator used to score a live price against history.
type Method int

const (
	MethodZScore Method = iota
	MethodMAD
	MethodIQR
)

const (
	zscoreThreshold = 2.0
	madScale        = 1.4826 // consistency correction vs normal sigma
	madCutoff       = 3.0
	iqrFence        = 1.5
)

func (m Method) String() string {
	switch m {
	case MethodMAD:
		return "mad"
	case MethodIQR:
		return "iqr"
	default:
		return "zscore"
	}
}

// ParseMethod maps a method tag to its Method. Unknown tags are rejected here
// instead of silently falling back to z-score.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "zscore":
		return MethodZScore, nil
	case "mad":
		return MethodMAD, nil
	case "iqr":
		return MethodIQR, nil
	default:
		return MethodZScore, fmt.Errorf("unknown anomaly method %q", s)
	}
}

// Result bundles the evaluation stats with the anomaly verdict.
type Result struct {
	Stats   models.AnalysisStats
	Anomaly bool
}

// Evaluate scores live against history using the given method. It returns
// ok=false when history holds fewer than two points; that is a not-enough-data
// no-op, not an error. Timestamps are ignored; only prices are scored. A
// Method value outside the known set evaluates as z-score.
func Evaluate(history []models.PricePoint, live float64, method Method) (Result, bool) {
	if len(history) < 2 {
		return Result{}, false
	}
	prices := make([]float64, len(history))
	for i, p := range history {
		prices[i] = p.Price
	}
	switch method {
	case MethodMAD:
		return evaluateMAD(prices, live), true
	case MethodIQR:
		return evaluateIQR(prices, live), true
	default:
		return evaluateZScore(prices, live), true
	}
}

func evaluateZScore(prices []float64, live float64) Result {
	mean := stats.Mean(prices)
	std := stats.StdDev(prices)

	var score, volatility float64
	if std != 0 {
		score = math.Abs(live-mean) / std
		volatility = std / mean
	}

	return Result{
		Stats: models.AnalysisStats{
			Mean:       mean,
			Std:        std,
			Score:      score,
			Threshold:  zscoreThreshold,
			Volatility: volatility,
		},
		Anomaly: score > zscoreThreshold,
	}
}

func evaluateMAD(prices []float64, live float64) Result {
	mean := stats.Mean(prices)
	sigma := stats.MAD(prices) * madScale

	var score, volatility float64
	if sigma != 0 {
		score = math.Abs(live-mean) / sigma
		volatility = sigma / mean
	}

	// The reported threshold is 3*sigma while the verdict compares the raw
	// ratio to 3. Both behaviors are kept as observed output.
	return Result{
		Stats: models.AnalysisStats{
			Mean:       mean,
			Std:        sigma,
			Score:      score,
			Threshold:  madCutoff * sigma,
			Volatility: volatility,
		},
		Anomaly: score > madCutoff,
	}
}

func evaluateIQR(prices []float64, live float64) Result {
	mean := stats.Mean(prices)
	std := stats.StdDev(prices)
	q1 := stats.Quartile(prices, 0.25)
	q3 := stats.Quartile(prices, 0.75)
	iqr := q3 - q1

	var score float64
	if iqr != 0 {
		score = math.Abs(live-mean) / iqr
	}
	volatility := std / mean

	// Verdict is the Tukey fence bounds test, not score vs threshold; the
	// fences are exclusive, so a value exactly on one is not anomalous.
	return Result{
		Stats: models.AnalysisStats{
			Mean:       mean,
			Std:        std,
			Score:      score,
			Threshold:  iqrFence * iqr,
			Volatility: volatility,
		},
		Anomaly: live < q1-iqrFence*iqr || live > q3+iqrFence*iqr,
	}
}
