package models

import (
	"time"
)

// Candle is one OHLCV bar. Immutable once fetched; within a series candles
// are ordered ascending by OpenTime and open times are unique.
type Candle struct {
	OpenTime time.Time `json:"time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

type CandleSubscription struct {
	Symbol   string
	Interval string
}

// BacktestRequest is the JSON body of the POST /backtest endpoint.
type BacktestRequest struct {
	Symbol          string  `json:"symbol"`
	Interval        string  `json:"interval"`
	Limit           int     `json:"limit"`
	StartingCapital float64 `json:"starting_capital"`
	BuyQuantity     float64 `json:"buy_quantity"`
	ExitMode        string  `json:"exit_mode"`  // "profit_target" or "trailing_stop"
	DriveMode       string  `json:"drive_mode"` // "batch" or "stream"
}

type RequestError struct {
	Err    error
	Status int
	Timer  time.Duration
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}
