package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/viktorbarna/tradesim/api"
	"github.com/viktorbarna/tradesim/cmd/rest"
	"github.com/viktorbarna/tradesim/internal/backtest"
	"github.com/viktorbarna/tradesim/internal/logger"
	"github.com/viktorbarna/tradesim/internal/market"
	"github.com/viktorbarna/tradesim/internal/storage"
	"github.com/viktorbarna/tradesim/strategy"
)

func main() {
	addr := flag.String("addr", ":4000", "HTTP network address")
	debug := flag.Bool("debug", false, "enable debug logging")

	oneShot := flag.Bool("backtest", false, "run one backtest and print the report instead of serving")
	symbol := flag.String("symbol", "BTCEUR", "trading pair")
	interval := flag.String("interval", "1h", "kline interval")
	limit := flag.Int("limit", 1000, "number of candles to fetch")
	capital := flag.Float64("capital", 1000, "starting capital")
	quantity := flag.Float64("quantity", 1, "coins bought per accepted buy signal")
	exitMode := flag.String("exit", "profit_target", "exit mode: profit_target or trailing_stop")
	driveMode := flag.String("mode", "batch", "drive mode: batch or stream")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	godotenv.Load()
	logger.Init(*debug)

	// Connectivity check; a skewed clock or unreachable exchange shows up
	// here instead of mid-run.
	if st, err := rest.GetServerTime(); err != nil {
		logger.Error.Printf("Exchange connectivity check failed: %v", err)
	} else {
		logger.Debug.Printf("Exchange server time: %d", st)
	}

	store, err := openStorage()
	if err != nil {
		logger.Error.Fatal(err)
	}
	if store != nil {
		defer store.Close()
	}

	fetcher := market.NewFetcher(market.BinanceSource{})

	if *oneShot {
		if err := runBacktest(fetcher, store, *symbol, *interval, *limit,
			*capital, *quantity, *exitMode, *driveMode); err != nil {
			logger.Error.Fatal(err)
		}
		return
	}

	server := api.NewServer(*addr, store, fetcher)
	logger.Error.Fatal(server.Run())
}

// openStorage picks the backing store from the environment: TimescaleDB when
// TIMESCALE_URL is set, plain Postgres for DATABASE_URL, none otherwise.
func openStorage() (storage.Storage, error) {
	if dsn := os.Getenv("TIMESCALE_URL"); dsn != "" {
		ts, err := storage.NewTimescaleDB(dsn)
		if err != nil {
			return nil, fmt.Errorf("timescale: %w", err)
		}
		if err := ts.Init(); err != nil {
			return nil, fmt.Errorf("timescale init: %w", err)
		}
		return ts, nil
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := storage.NewPostgresStore(dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.Init(); err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		return pg, nil
	}
	logger.Info.Println("No database configured, running without persistence.")
	return nil, nil
}

func runBacktest(
	fetcher *market.Fetcher,
	store storage.Storage,
	symbol, interval string,
	limit int,
	capital, quantity float64,
	exitMode, driveMode string,
) error {
	mode, err := strategy.ParseExitMode(exitMode)
	if err != nil {
		return err
	}

	series, err := fetcher.FetchCandles(symbol, interval, limit, 0)
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.SaveCandles(series.Symbol, series.Interval, series.Candles); err != nil {
			logger.Error.Printf("saving candles: %v", err)
		}
	}

	bt := backtest.New(backtest.Config{
		Symbol:          series.Symbol,
		API:             "binance",
		StartingCapital: capital,
		BuyQuantity:     quantity,
		TradingFee:      rest.TradingFee,
	}, market.NewMarketData(series), strategy.NewMovingAverage(0, mode))

	switch driveMode {
	case "stream":
		err = bt.RunStream()
	case "batch":
		err = bt.Run()
	default:
		return fmt.Errorf("unknown drive mode %q", driveMode)
	}
	if err != nil {
		return err
	}

	price, err := rest.GetTickerPrice(series.Symbol)
	if err != nil {
		logger.Debug.Printf("ticker price unavailable, using last close: %v", err)
		price = series.Candles[series.Len()-1].Close
	}

	report := bt.Report(price)
	if store != nil {
		if err := store.SaveReport(report); err != nil {
			logger.Error.Printf("saving report: %v", err)
		}
	}

	fmt.Println(report)
	return nil
}
