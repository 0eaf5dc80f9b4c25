package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viktorbarna/tradesim/internal/models"
)

// SignalSeries splits signal times and prices by acceptance, so charts can
// draw accepted and ignored signals in different colors.
type SignalSeries struct {
	AcceptedTimes  []time.Time `json:"accepted_times"`
	AcceptedPrices []float64   `json:"accepted_prices"`
	IgnoredTimes   []time.Time `json:"ignored_times"`
	IgnoredPrices  []float64   `json:"ignored_prices"`
}

// KeptCoin is an open position at run end: bought, never sold.
type KeptCoin struct {
	ID       uuid.UUID `json:"id"`
	BuyPrice float64   `json:"buy_price"`
	Quantity float64   `json:"quantity"`
}

// Report is the aggregate outcome of one backtest run. Every field is a pure
// derivation of the final portfolio state and transaction history; building
// the report mutates nothing and can be repeated at will.
type Report struct {
	Symbol   string `json:"symbol"`
	API      string `json:"api"`
	Strategy string `json:"strategy"`

	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	TradingFee      float64 `json:"trading_fee"`
	BuyQuantity     float64 `json:"buy_quantity"`
	StartingCapital float64 `json:"starting_capital"`
	FinalCapital    float64 `json:"final_capital"`
	CapitalDelta    float64 `json:"capital_delta"`

	MoneySpent       float64 `json:"money_spent"`
	MoneyEarned      float64 `json:"money_earned"`
	TransactionCosts float64 `json:"transaction_costs"`
	Profit           float64 `json:"profit"`

	CoinsBought float64 `json:"coins_bought"`
	CoinsSold   float64 `json:"coins_sold"`

	BuySignalsCreated   int `json:"buy_signals_created"`
	BuySignalsAccepted  int `json:"buy_signals_accepted"`
	BuySignalsIgnored   int `json:"buy_signals_ignored"`
	SellSignalsCreated  int `json:"sell_signals_created"`
	SellSignalsAccepted int `json:"sell_signals_accepted"`
	SellSignalsIgnored  int `json:"sell_signals_ignored"`

	// Effective per-coin prices: euros moved divided by coins moved, with
	// fees included on both legs.
	AverageBuyPrice  float64 `json:"average_buy_price"`
	AverageSellPrice float64 `json:"average_sell_price"`

	// Open positions and their mark-to-market value at CurrentPrice. Purely
	// informational: the unrealized value never touches capital.
	KeptCoins       []KeptCoin `json:"kept_coins"`
	CurrentPrice    float64    `json:"current_price"`
	UnrealizedValue float64    `json:"unrealized_value"`

	BuyTransactions  []*BuyTransaction  `json:"buy_transactions"`
	SellTransactions []*SellTransaction `json:"sell_transactions"`
	CapitalOverTime  []CapitalPoint     `json:"capital_over_time"`

	// Chart payload: the candle series with its indicator columns and the
	// signals partitioned by acceptance.
	Candles          []*models.Candle     `json:"candles"`
	IndicatorNames   []string             `json:"indicator_names"`
	IndicatorColumns map[string][]float64 `json:"indicator_columns"`
	BuySignalSeries  SignalSeries         `json:"buy_signal_series"`
	SellSignalSeries SignalSeries         `json:"sell_signal_series"`
}

// Report derives the run summary. currentPrice marks open positions to
// market for the informational unrealized figure.
func (b *Backtest) Report(currentPrice float64) *Report {
	r := &Report{
		Symbol:           b.cfg.Symbol,
		API:              b.cfg.API,
		Strategy:         b.strategy.Name(),
		Start:            b.md.Series.Start(),
		End:              b.md.Series.End(),
		TradingFee:       b.cfg.TradingFee,
		BuyQuantity:      b.cfg.BuyQuantity,
		StartingCapital:  b.cfg.StartingCapital,
		FinalCapital:     b.capital,
		CapitalDelta:     b.capital - b.cfg.StartingCapital,
		MoneySpent:       b.moneySpent,
		MoneyEarned:      b.moneyEarned,
		TransactionCosts: b.transactionCosts,
		Profit:           b.moneyEarned - b.moneySpent,
		CoinsBought:      b.coinsBought,
		CoinsSold:        b.coinsSold,
		CurrentPrice:     currentPrice,
		CapitalOverTime:  append([]CapitalPoint(nil), b.capitals...),
		Candles:          b.md.Series.Candles,
		IndicatorColumns: b.md.Series.Columns(),
	}

	for _, ind := range b.md.Indicators {
		r.IndicatorNames = append(r.IndicatorNames, ind.Name())
	}

	r.BuySignalsCreated = len(b.buySignals)
	r.BuySignalsAccepted = len(b.buyTransactions)
	r.BuySignalsIgnored = r.BuySignalsCreated - r.BuySignalsAccepted
	r.SellSignalsCreated = len(b.sellSignals)
	r.SellSignalsAccepted = len(b.sellTransactions)
	r.SellSignalsIgnored = r.SellSignalsCreated - r.SellSignalsAccepted

	if b.coinsBought > 0 {
		r.AverageBuyPrice = b.moneySpent / b.coinsBought
	}
	if b.coinsSold > 0 {
		r.AverageSellPrice = b.moneyEarned / b.coinsSold
	}

	for _, id := range b.buyOrder {
		r.BuyTransactions = append(r.BuyTransactions, b.buyTransactions[id])
	}
	for _, id := range b.sellOrder {
		r.SellTransactions = append(r.SellTransactions, b.sellTransactions[id])
	}

	for _, id := range b.keptCoins {
		bt := b.buyTransactions[id]
		r.KeptCoins = append(r.KeptCoins, KeptCoin{
			ID:       id,
			BuyPrice: b.buyIndex[id].Price,
			Quantity: bt.Quantity,
		})
		r.UnrealizedValue += bt.Quantity * currentPrice
	}

	for _, bs := range b.buySignals {
		appendSignal(&r.BuySignalSeries, bs.Time, bs.Price, bs.Accepted)
		if ss, ok := b.sellSignals[bs.ID]; ok {
			appendSignal(&r.SellSignalSeries, ss.Time, ss.Price, ss.Accepted)
		}
	}

	return r
}

func appendSignal(s *SignalSeries, t time.Time, price float64, accepted bool) {
	if accepted {
		s.AcceptedTimes = append(s.AcceptedTimes, t)
		s.AcceptedPrices = append(s.AcceptedPrices, price)
	} else {
		s.IgnoredTimes = append(s.IgnoredTimes, t)
		s.IgnoredPrices = append(s.IgnoredPrices, price)
	}
}

// String renders the stats block for terminal output.
func (r *Report) String() string {
	var sb strings.Builder

	sb.WriteString("========== BACKTEST ==========\n")
	sb.WriteString("---Configuration---\n")
	fmt.Fprintf(&sb, "Symbol: %s\n", r.Symbol)
	fmt.Fprintf(&sb, "API: %s\n", r.API)
	fmt.Fprintf(&sb, "Strategy: %s\n", r.Strategy)
	fmt.Fprintf(&sb, "Time period: %s - %s\n", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Transaction fee: %v\n", r.TradingFee)
	fmt.Fprintf(&sb, "Buy quantity: %v\n", r.BuyQuantity)
	fmt.Fprintf(&sb, "Starting capital: %.2f€\n\n", r.StartingCapital)

	sb.WriteString("---Test Results---\n")
	fmt.Fprintf(&sb, "Capital: %.2f€\n", r.FinalCapital)
	fmt.Fprintf(&sb, "Money spent: %.2f€\n", r.MoneySpent)
	fmt.Fprintf(&sb, "Money earned: %.2f€\n", r.MoneyEarned)
	fmt.Fprintf(&sb, "Money spent on transaction fees: %.2f€\n", r.TransactionCosts)
	fmt.Fprintf(&sb, "Profit: %.2f€\n\n", r.Profit)

	fmt.Fprintf(&sb, "Buy signals created: %d\n", r.BuySignalsCreated)
	fmt.Fprintf(&sb, "Buy signals accepted: %d\n", r.BuySignalsAccepted)
	fmt.Fprintf(&sb, "Buy signals ignored: %d\n", r.BuySignalsIgnored)
	fmt.Fprintf(&sb, "Coins bought: %.2f\n", r.CoinsBought)
	fmt.Fprintf(&sb, "Average buying price: %.2f€\n\n", r.AverageBuyPrice)

	fmt.Fprintf(&sb, "Sell signals created: %d\n", r.SellSignalsCreated)
	fmt.Fprintf(&sb, "Sell signals accepted: %d\n", r.SellSignalsAccepted)
	fmt.Fprintf(&sb, "Sell signals ignored: %d\n", r.SellSignalsIgnored)
	fmt.Fprintf(&sb, "Coins sold: %.5f\n\n", r.CoinsSold)

	sb.WriteString("Coins not sold:\n")
	for _, kc := range r.KeptCoins {
		fmt.Fprintf(&sb, "ID: %s \t Price: %v€\n", kc.ID, kc.BuyPrice)
	}
	fmt.Fprintf(&sb, "Value if sold at %.2f€: %.2f€\n", r.CurrentPrice, r.UnrealizedValue)
	sb.WriteString("==============================")

	return sb.String()
}
