package backtest

import (
	"time"

	"github.com/google/uuid"
	"github.com/viktorbarna/tradesim/internal/market"
	"github.com/viktorbarna/tradesim/internal/models"
)

// Engine is the backtest drive surface: batch replay over precomputed
// signals, or causal candle-by-candle streaming.
type Engine interface {
	Run() error
	RunStream() error
	Report(currentPrice float64) *Report
}

// StreamOnlyStrategy marks strategies whose exit logic is stateful per bar
// and cannot be precomputed. The batch drive refuses them instead of silently
// running a different exit policy.
type StreamOnlyStrategy interface {
	StreamOnly() bool
}

// Strategy decides when to enter and exit a position. Signal generation is
// pure with respect to portfolio state: acceptance or rejection of a signal
// is solely the engine's decision.
type Strategy interface {
	Name() string

	// AddIndicators registers the strategy's indicators on the market data
	// and recomputes their columns. Re-invoking resets the tracked
	// indicator list.
	AddIndicators(md *market.MarketData) error

	// Batch mode: precompute every signal over the full series up front.
	CalcBuySignals(s *market.Series) []*BuySignal
	CalcSellSignals(s *market.Series, buys []*BuySignal) map[uuid.UUID]*SellSignal

	// Streaming mode: causal per-candle checks, no lookahead.
	CheckBuyCondition(price float64, t time.Time, row market.Row) *BuySignal
	CheckSellConditions(c *models.Candle, open []*BuySignal) []*SellSignal
}
