// Package strategy holds the signal generators. Strategies are pure with
// respect to portfolio state: they emit buy and sell signals from price and
// indicator data, and the execution engine alone decides acceptance.
package strategy

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/viktorbarna/tradesim/internal/backtest"
	"github.com/viktorbarna/tradesim/internal/indicator"
	"github.com/viktorbarna/tradesim/internal/logger"
	"github.com/viktorbarna/tradesim/internal/market"
	"github.com/viktorbarna/tradesim/internal/models"
)

// ExitMode selects how the moving-average strategy closes positions.
type ExitMode int

const (
	// ExitProfitTarget sells each position once a later candle's high
	// reaches the fixed profit target above its buy price.
	ExitProfitTarget ExitMode = iota
	// ExitTrailingStop ratchets a shared profit-target/stop-loss pair
	// upward as the price rises and sells all open positions when the low
	// touches the ratcheted stop.
	ExitTrailingStop
)

func ParseExitMode(s string) (ExitMode, error) {
	switch s {
	case "profit_target", "":
		return ExitProfitTarget, nil
	case "trailing_stop":
		return ExitTrailingStop, nil
	}
	return 0, fmt.Errorf("unknown exit mode %q", s)
}

const (
	defaultSMAName   = "slow_sma"
	defaultSMAPeriod = 30
	buyThreshold     = 1.03 // buy when slow SMA > 1.03 * price (dip buy)
	profitTarget     = 1.05
	stopLossTarget   = 0.85
	targetUnset      = -1.0
)

// MovingAverage buys dips below the slow moving average and exits per the
// configured mode. The trailing-stop target pair is the only mutable state
// and belongs to the streaming drive.
type MovingAverage struct {
	name      string
	smaName   string
	smaPeriod int
	mode      ExitMode

	profitTargetPrice float64
	stopLossPrice     float64

	infoLog  *log.Logger
	debugLog *log.Logger
}

var _ backtest.Strategy = (*MovingAverage)(nil)

func NewMovingAverage(smaPeriod int, mode ExitMode) *MovingAverage {
	if smaPeriod <= 0 {
		smaPeriod = defaultSMAPeriod
	}
	return &MovingAverage{
		name:              "moving_average",
		smaName:           defaultSMAName,
		smaPeriod:         smaPeriod,
		mode:              mode,
		profitTargetPrice: targetUnset,
		stopLossPrice:     targetUnset,
		infoLog:           logger.Info,
		debugLog:          logger.Debug,
	}
}

func (s *MovingAverage) Name() string {
	return s.name
}

// StreamOnly reports whether the configured exit mode needs the causal
// streaming drive. The trailing-stop ratchet depends on per-bar cohort state
// and cannot be precomputed, so the batch drive must refuse it.
func (s *MovingAverage) StreamOnly() bool {
	return s.mode == ExitTrailingStop
}

// AddIndicators registers the slow SMA over the close column. The market
// data's tracked indicator list is reset first, so re-invocation does not
// accumulate duplicates.
func (s *MovingAverage) AddIndicators(md *market.MarketData) error {
	md.ResetIndicators()
	return md.AddIndicator(indicator.NewSMA(s.smaName, s.smaPeriod), "close")
}

// CalcBuySignals emits a buy for every candle whose low sits notably below
// the slow SMA.
func (s *MovingAverage) CalcBuySignals(series *market.Series) []*backtest.BuySignal {
	s.infoLog.Println("Calculating buy signals...")

	sma, ok := series.Column(s.smaName)
	if !ok {
		return nil
	}

	var signals []*backtest.BuySignal
	for i := 1; i < series.Len(); i++ {
		c := series.Candles[i]
		if math.IsNaN(sma[i]) {
			continue
		}
		if sma[i] > buyThreshold*c.Low {
			signals = append(signals, backtest.NewBuySignal(c.Low, c.OpenTime))
		}
	}
	return signals
}

// CalcSellSignals pairs each buy with the first later candle whose high
// reaches the fixed profit target. Linear scan per buy from its own candle
// onward; quadratic worst case, fine for backtest-sized series.
func (s *MovingAverage) CalcSellSignals(
	series *market.Series,
	buys []*backtest.BuySignal,
) map[uuid.UUID]*backtest.SellSignal {
	s.infoLog.Println("Calculating sell signals...")

	signals := make(map[uuid.UUID]*backtest.SellSignal)
	for _, buy := range buys {
		target := buy.Price * profitTarget
		start := series.IndexAt(buy.Time)
		if start < 0 {
			continue
		}
		for i := start; i < series.Len(); i++ {
			if series.Candles[i].High >= target {
				signals[buy.ID] = backtest.NewSellSignal(buy.ID, target, series.Candles[i].OpenTime)
				break
			}
		}
	}
	return signals
}

// CheckBuyCondition is the causal entry check on one row's close price.
func (s *MovingAverage) CheckBuyCondition(price float64, t time.Time, row market.Row) *backtest.BuySignal {
	sma, ok := row[s.smaName]
	if !ok || math.IsNaN(sma) {
		return nil
	}
	if sma > buyThreshold*price {
		return backtest.NewBuySignal(price, t)
	}
	return nil
}

// CheckSellConditions is the causal exit check for all open positions.
func (s *MovingAverage) CheckSellConditions(c *models.Candle, open []*backtest.BuySignal) []*backtest.SellSignal {
	if s.mode == ExitTrailingStop {
		return s.checkTrailingStop(c, open)
	}
	return s.checkProfitTarget(c, open)
}

func (s *MovingAverage) checkProfitTarget(c *models.Candle, open []*backtest.BuySignal) []*backtest.SellSignal {
	var signals []*backtest.SellSignal
	for _, buy := range open {
		target := buy.Price * profitTarget
		if c.High >= target {
			signals = append(signals, backtest.NewSellSignal(buy.ID, target, c.OpenTime))
		}
	}
	return signals
}

// checkTrailingStop maintains one target pair for the whole open cohort. The
// pair arms from the newest open buy, ratchets upward whenever the close
// reaches the profit target and fires a sell of every open position once the
// low touches the stop, resetting until the next buy re-arms it.
func (s *MovingAverage) checkTrailingStop(c *models.Candle, open []*backtest.BuySignal) []*backtest.SellSignal {
	if len(open) == 0 {
		s.resetTargets()
		return nil
	}

	if s.profitTargetPrice == targetUnset {
		last := open[len(open)-1]
		s.profitTargetPrice = last.Price * profitTarget
		s.stopLossPrice = last.Price * stopLossTarget
		s.debugLog.Printf(
			"Armed targets: profit %.4f, stop %.4f",
			s.profitTargetPrice, s.stopLossPrice,
		)
	}

	if c.Close >= s.profitTargetPrice {
		s.profitTargetPrice = c.Close * profitTarget
		s.stopLossPrice = c.Close * stopLossTarget
		s.debugLog.Printf(
			"Ratcheted targets: profit %.4f, stop %.4f",
			s.profitTargetPrice, s.stopLossPrice,
		)
	}

	if c.Low <= s.stopLossPrice {
		stop := s.stopLossPrice
		signals := make([]*backtest.SellSignal, 0, len(open))
		for _, buy := range open {
			signals = append(signals, backtest.NewSellSignal(buy.ID, stop, c.OpenTime))
		}
		s.resetTargets()
		return signals
	}

	return nil
}

func (s *MovingAverage) resetTargets() {
	s.profitTargetPrice = targetUnset
	s.stopLossPrice = targetUnset
}
