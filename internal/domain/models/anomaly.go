package models

import "time"

// AnalysisStats summarizes one evaluation of a live price against history.
// Produced fresh per call and never mutated afterwards; the receiver owns it.
type AnalysisStats struct {
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Score      float64 `json:"score"`
	Threshold  float64 `json:"threshold"`
	Volatility float64 `json:"volatility"`
}

// AnomalyEvent is emitted when a live observation is flagged against its history.
type AnomalyEvent struct {
	Symbol    string        `json:"symbol"`
	Timestamp time.Time     `json:"timestamp"`
	Method    string        `json:"method"`
	Price     float64       `json:"price"`
	Stats     AnalysisStats `json:"stats"`
}
