// Package backtest replays historical candle data through a strategy and
// simulates order execution against a simulated capital balance. The Backtest
// engine is the only stateful component: it owns the portfolio state for the
// lifetime of one run and is single-threaded and deterministic.
package backtest

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/viktorbarna/tradesim/internal/logger"
	"github.com/viktorbarna/tradesim/internal/market"
	"github.com/viktorbarna/tradesim/internal/models"
)

// ErrNoData means the run had no candle series to execute against. Missing
// input data is fatal to the run that depends on it.
var ErrNoData = errors.New("backtest: no candle data")

// ErrStreamOnly is returned by Run when the strategy's exit logic only exists
// in streaming form.
var ErrStreamOnly = errors.New("backtest: strategy requires the streaming drive")

type Config struct {
	Symbol          string
	API             string
	StartingCapital float64
	BuyQuantity     float64 // coins bought per accepted buy signal
	TradingFee      float64 // fee fraction per trade, e.g. 0.001
}

// CapitalPoint is one sample of the capital curve. One sample is taken per
// state-changing event plus boundary samples at series start and end.
type CapitalPoint struct {
	Time    time.Time `json:"time"`
	Capital float64   `json:"capital"`
}

// Backtest walks a time-ordered price series, evaluates strategy signals
// against the evolving portfolio state and records transactions. Per
// position id the state machine is NONE -> OPEN (accepted buy) -> CLOSED
// (accepted sell); ids still OPEN when the series ends stay in keptCoins.
type Backtest struct {
	cfg      Config
	strategy Strategy
	md       *market.MarketData

	capital          float64
	moneySpent       float64
	moneyEarned      float64
	transactionCosts float64
	coinsBought      float64
	coinsSold        float64

	buySignals  []*BuySignal
	buyIndex    map[uuid.UUID]*BuySignal
	sellSignals map[uuid.UUID]*SellSignal

	buyTransactions  map[uuid.UUID]*BuyTransaction
	buyOrder         []uuid.UUID
	sellTransactions map[uuid.UUID]*SellTransaction
	sellOrder        []uuid.UUID
	keptCoins        []uuid.UUID

	capitals []CapitalPoint

	infoLog  *log.Logger
	debugLog *log.Logger
}

var _ Engine = (*Backtest)(nil)

func New(cfg Config, md *market.MarketData, strat Strategy) *Backtest {
	return &Backtest{
		cfg:              cfg,
		strategy:         strat,
		md:               md,
		capital:          cfg.StartingCapital,
		buyIndex:         make(map[uuid.UUID]*BuySignal),
		sellSignals:      make(map[uuid.UUID]*SellSignal),
		buyTransactions:  make(map[uuid.UUID]*BuyTransaction),
		sellTransactions: make(map[uuid.UUID]*SellTransaction),
		infoLog:          logger.Info,
		debugLog:         logger.Debug,
	}
}

// Run executes the backtest in batch mode: the strategy precomputes every buy
// and sell signal up front, then the engine iterates buy signals in
// chronological order. Ahead of each buy it eagerly closes every open
// position whose sell signal matured by then, preserving time ordering.
// After the last buy signal, positions that still have a sell signal are
// swept closed; the rest stay open as kept coins.
func (b *Backtest) Run() error {
	if so, ok := b.strategy.(StreamOnlyStrategy); ok && so.StreamOnly() {
		return fmt.Errorf("%w: %s", ErrStreamOnly, b.strategy.Name())
	}
	if err := b.prepare(); err != nil {
		return err
	}

	b.buySignals = b.strategy.CalcBuySignals(b.md.Series)
	for _, bs := range b.buySignals {
		b.buyIndex[bs.ID] = bs
	}
	b.sellSignals = b.strategy.CalcSellSignals(b.md.Series, b.buySignals)

	b.infoLog.Println("Running backtest...")

	for _, buy := range b.buySignals {
		b.closeMatured(buy.Time)

		if b.capital >= buy.Price*b.cfg.BuyQuantity {
			b.buy(buy)
		} else {
			b.debugLog.Println("Buy signal ignored! Not enough capital.")
		}
	}

	// Sweep whatever can still be closed with an existing sell signal.
	for _, id := range b.openIDs() {
		if ss, ok := b.sellSignals[id]; ok {
			b.sell(ss)
		}
	}

	b.sampleCapital(b.md.Series.End())
	return nil
}

// RunStream executes the backtest in streaming mode: one pass over the candle
// series, asking the strategy for entry and exit decisions per row. Signals
// are processed causally, with no lookahead; this is the drive mode any
// paper-trading reuse has to go through.
func (b *Backtest) RunStream() error {
	if err := b.prepare(); err != nil {
		return err
	}

	b.infoLog.Println("Running streaming backtest...")

	s := b.md.Series
	for i, c := range s.Candles {
		b.ProcessCandle(c, s.Row(i))
	}

	b.sampleCapital(s.End())
	return nil
}

// ProcessCandle advances the streaming engine by one bar. Exits are evaluated
// before the entry check so a position opened on this bar cannot be closed by
// the same bar.
func (b *Backtest) ProcessCandle(c *models.Candle, row market.Row) {
	if open := b.openSignals(); len(open) > 0 {
		for _, ss := range b.strategy.CheckSellConditions(c, open) {
			b.sellSignals[ss.ID] = ss
			b.sell(ss)
		}
	}

	if bs := b.strategy.CheckBuyCondition(c.Close, c.OpenTime, row); bs != nil {
		b.buySignals = append(b.buySignals, bs)
		b.buyIndex[bs.ID] = bs

		if b.capital >= bs.Price*b.cfg.BuyQuantity {
			b.buy(bs)
		} else {
			b.debugLog.Println("Buy signal ignored! Not enough capital.")
		}
	}
}

func (b *Backtest) prepare() error {
	if b.md == nil || b.md.Series.Len() == 0 {
		return ErrNoData
	}
	if err := b.strategy.AddIndicators(b.md); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	b.sampleCapital(b.md.Series.Start())
	return nil
}

// closeMatured sells every open position whose sell signal occurred no later
// than the given time.
func (b *Backtest) closeMatured(until time.Time) {
	for _, id := range b.openIDs() {
		ss, ok := b.sellSignals[id]
		if !ok {
			b.debugLog.Printf("No existing sell signal for buy signal with ID: %s", id)
			continue
		}
		if !ss.Time.After(until) {
			b.sell(ss)
		}
	}
}

// buy executes an affordable buy signal. The fee is taken from the coin
// quantity: capital is debited by exactly price * quantity while the coins
// credited are quantity * (1 - fee).
func (b *Backtest) buy(signal *BuySignal) {
	signal.Accepted = true

	price := signal.Price * b.cfg.BuyQuantity
	quantity := b.cfg.BuyQuantity - (b.cfg.BuyQuantity * b.cfg.TradingFee)
	t := &BuyTransaction{
		ID:       signal.ID,
		Symbol:   b.cfg.Symbol,
		Price:    price,
		Quantity: quantity,
		Time:     signal.Time,
	}

	b.capital -= t.Price
	b.coinsBought += t.Quantity
	b.transactionCosts += t.Price * b.cfg.TradingFee
	b.moneySpent += t.Price
	b.keptCoins = append(b.keptCoins, t.ID)
	b.buyTransactions[t.ID] = t
	b.buyOrder = append(b.buyOrder, t.ID)
	b.sampleCapital(signal.Time)

	b.debugLog.Printf("Buy signal accepted! Price: %v", signal.Price)
}

// sell closes the open position matching the signal's id. A sell signal for
// an id without an open buy is a bug in the strategy/engine coupling, not a
// market condition, and panics.
func (b *Backtest) sell(signal *SellSignal) {
	bt, ok := b.buyTransactions[signal.ID]
	if !ok {
		panic(fmt.Sprintf("backtest: sell signal %s has no matching buy transaction", signal.ID))
	}
	if _, closed := b.sellTransactions[signal.ID]; closed {
		panic(fmt.Sprintf("backtest: position %s sold twice", signal.ID))
	}

	signal.Accepted = true

	// We paid for the full buy quantity but hold it net of the fee; selling
	// that holding at the signal price costs another fee on the euro leg.
	quantity := bt.Quantity
	feeCost := quantity * signal.Price * b.cfg.TradingFee
	proceeds := quantity*signal.Price - feeCost
	t := &SellTransaction{
		ID:       signal.ID,
		Symbol:   b.cfg.Symbol,
		Price:    proceeds,
		Quantity: quantity,
		Time:     signal.Time,
	}

	b.capital += t.Price
	b.coinsSold += t.Quantity
	b.transactionCosts += feeCost
	b.moneyEarned += t.Price
	b.removeKept(signal.ID)
	b.sellTransactions[t.ID] = t
	b.sellOrder = append(b.sellOrder, t.ID)
	b.sampleCapital(signal.Time)

	b.debugLog.Printf("Sell signal accepted! Price: %v", signal.Price)
}

func (b *Backtest) sampleCapital(t time.Time) {
	b.capitals = append(b.capitals, CapitalPoint{Time: t, Capital: b.capital})
}

// openIDs returns a snapshot of the currently open position ids, safe to
// iterate while positions are being closed.
func (b *Backtest) openIDs() []uuid.UUID {
	return append([]uuid.UUID(nil), b.keptCoins...)
}

func (b *Backtest) openSignals() []*BuySignal {
	open := make([]*BuySignal, 0, len(b.keptCoins))
	for _, id := range b.keptCoins {
		open = append(open, b.buyIndex[id])
	}
	return open
}

func (b *Backtest) removeKept(id uuid.UUID) {
	for i, kept := range b.keptCoins {
		if kept == id {
			b.keptCoins = append(b.keptCoins[:i], b.keptCoins[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("backtest: position %s is not held", id))
}

// Capital exposes the current balance, e.g. for live snapshots.
func (b *Backtest) Capital() float64 {
	return b.capital
}

// MarketData returns the indicator-augmented market data of this run.
func (b *Backtest) MarketData() *market.MarketData {
	return b.md
}

// SetMarketData swaps the market data backing the run. The paper-trading loop
// rebuilds its rolling window every bar and swaps it in here so a report taken
// mid-stream charts current data.
func (b *Backtest) SetMarketData(md *market.MarketData) {
	b.md = md
}
