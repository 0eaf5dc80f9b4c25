package strategy

import (
	"errors"
	"math"
	"testing"

	"github.com/viktorbarna/tradesim/internal/backtest"
	"github.com/viktorbarna/tradesim/internal/market"
	"github.com/viktorbarna/tradesim/internal/models"
)

// fixedSMA pins the moving-average column to known values so a scenario can
// exercise the full strategy/engine round trip deterministically.
type fixedSMA struct {
	*MovingAverage
	values []float64
}

func (f *fixedSMA) AddIndicators(md *market.MarketData) error {
	s, err := md.Series.WithColumn(defaultSMAName, f.values)
	if err != nil {
		return err
	}
	md.Series = s
	return nil
}

// One dip buy at 100, one profit-target sell at 105, fee 0.001 on both legs.
func TestBacktestRoundTrip(t *testing.T) {
	candles := []*models.Candle{
		candleAt(0, 100, 101, 100),
		candleAt(1, 100, 101, 100), // sma 104 > 103: buy at the 100 low
		candleAt(2, 104, 106, 105), // high crosses the 105 target: sell
	}
	md := market.NewMarketData(market.NewSeries("BTCEUR", "1m", candles))

	strat := &fixedSMA{
		MovingAverage: NewMovingAverage(0, ExitProfitTarget),
		values:        []float64{math.NaN(), 104, math.NaN()},
	}
	bt := backtest.New(backtest.Config{
		Symbol:          "BTCEUR",
		API:             "test",
		StartingCapital: 1000,
		BuyQuantity:     1,
		TradingFee:      0.001,
	}, md, strat)

	if err := bt.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// capital = 1000 - 100 + (0.999*105 - 0.999*105*0.001)
	want := 1000.0 - 100 + (0.999*105 - 0.999*105*0.001)
	if got := bt.Capital(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Capital() = %v, want %v", got, want)
	}

	r := bt.Report(105)
	if r.BuySignalsAccepted != 1 || r.SellSignalsAccepted != 1 {
		t.Errorf("accepted buys/sells = %d/%d, want 1/1",
			r.BuySignalsAccepted, r.SellSignalsAccepted)
	}
	if len(r.KeptCoins) != 0 {
		t.Errorf("KeptCoins = %+v, want none", r.KeptCoins)
	}
	if math.Abs(r.Profit-(want-900-100)) > 1e-9 {
		t.Errorf("Profit = %v, want %v", r.Profit, want-1000)
	}
}

// The trailing-stop exit only exists in streaming form; the batch drive must
// refuse it rather than fall back to the fixed profit target. The series is
// built so the two policies disagree: the low crosses the armed stop before
// the high ever reaches the profit target.
func TestBatchRunRejectsTrailingStop(t *testing.T) {
	candles := []*models.Candle{
		candleAt(0, 100, 101, 100),
		candleAt(1, 100, 101, 100), // sma 104 > 103: buy at 100
		candleAt(2, 80, 101, 90),   // low 80 crosses the 85 stop
		candleAt(3, 104, 106, 105), // the 105 profit target comes later
	}
	values := []float64{math.NaN(), 104, math.NaN(), math.NaN()}
	cfg := backtest.Config{
		Symbol:          "BTCEUR",
		API:             "test",
		StartingCapital: 1000,
		BuyQuantity:     1,
		TradingFee:      0.001,
	}

	strat := &fixedSMA{MovingAverage: NewMovingAverage(0, ExitTrailingStop), values: values}
	md := market.NewMarketData(market.NewSeries("BTCEUR", "1m", candles))
	bt := backtest.New(cfg, md, strat)

	if err := bt.Run(); !errors.Is(err, backtest.ErrStreamOnly) {
		t.Fatalf("Run() error = %v, want ErrStreamOnly", err)
	}

	// The streaming drive executes the same configuration and stops out at
	// the armed 85 stop, not at the profit target.
	strat = &fixedSMA{MovingAverage: NewMovingAverage(0, ExitTrailingStop), values: values}
	md = market.NewMarketData(market.NewSeries("BTCEUR", "1m", candles))
	bt = backtest.New(cfg, md, strat)

	if err := bt.RunStream(); err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}

	r := bt.Report(105)
	if got := r.SellSignalSeries.AcceptedPrices; len(got) != 1 || got[0] != 85 {
		t.Errorf("accepted sell prices = %v, want [85]", got)
	}
}

// The same scenario driven bar by bar: entry on the close, exit on the next
// bar's target crossing.
func TestBacktestRoundTripStreaming(t *testing.T) {
	candles := []*models.Candle{
		candleAt(0, 100, 101, 100),
		candleAt(1, 100, 101, 100), // sma 104 > 103: buy at the 100 close
		candleAt(2, 104, 106, 105), // high crosses the 105 target: sell
	}
	md := market.NewMarketData(market.NewSeries("BTCEUR", "1m", candles))

	strat := &fixedSMA{
		MovingAverage: NewMovingAverage(0, ExitProfitTarget),
		values:        []float64{math.NaN(), 104, math.NaN()},
	}
	bt := backtest.New(backtest.Config{
		Symbol:          "BTCEUR",
		API:             "test",
		StartingCapital: 1000,
		BuyQuantity:     1,
		TradingFee:      0.001,
	}, md, strat)

	if err := bt.RunStream(); err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}

	want := 1000.0 - 100 + (0.999*105 - 0.999*105*0.001)
	if got := bt.Capital(); math.Abs(got-want) > 1e-9 {
		t.Errorf("Capital() = %v, want %v", got, want)
	}
}
