package storage

import (
	"time"

	"github.com/viktorbarna/tradesim/internal/backtest"
	"github.com/viktorbarna/tradesim/internal/models"
)

// Storage caches fetched candle series and keeps backtest run summaries, so
// repeated runs over the same window can skip the exchange. The execution
// engine itself never touches storage.
type Storage interface {
	Init() error
	SaveCandles(symbol, interval string, candles []*models.Candle) error
	FetchCandles(symbol, interval string, start, end time.Time) ([]*models.Candle, error)
	SaveReport(r *backtest.Report) error
	Close()
}
