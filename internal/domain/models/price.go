package models

import "time"

// PricePoint is one observation in a price series. Immutable once produced;
// callers supply series in non-decreasing timestamp order.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// Quote is the current market snapshot for one symbol.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	Volume24h float64 `json:"volume_24h"`
	MarketCap float64 `json:"market_cap"`
	Timestamp int64   `json:"t"` // unix seconds
}
