package models

import "time"

// Quote is one priced observation of a symbol on the market feed.
// Immutable once constructed; one quote per (symbol, fetch tick).
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Timestamp     time.Time `json:"timestamp"` // RFC 3339 on the wire
}
