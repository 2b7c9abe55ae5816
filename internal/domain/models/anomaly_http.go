package models

import "time"

// Requests/responses for the detection HTTP endpoints. Defined in domain for
// consistency and reuse.

type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Price     float64   `json:"price" validate:"gt=0"`
}

type DetectRequest struct {
	Prices     []SeriesPoint `json:"prices" validate:"required,min=2,dive"`
	Method     string        `json:"method" default:"zscore" validate:"oneof=zscore mad iqr"`
	WindowSize int           `json:"window_size" default:"20" validate:"gt=1,lte=10000"`
}

type DetectResponse struct {
	Timestamps []time.Time   `json:"timestamps"`
	Prices     []float64     `json:"prices"`
	IsAnomaly  []bool        `json:"is_anomaly"`
	Thresholds []float64     `json:"threshold_values"`
	Method     string        `json:"method"`
	Stats      AnalysisStats `json:"stats"`
}

type QuoteRequest struct {
	Symbols string `query:"symbols" json:"symbols" validate:"required"`
}

type HistoryRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	Days   int    `query:"days" json:"days" default:"30" validate:"gte=1,lte=365"`
}
