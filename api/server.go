// Package api exposes the simulator over HTTP: a backtest endpoint, a kline
// proxy and a websocket paper-trading feed driven by live exchange data.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/viktorbarna/tradesim/cmd/rest"
	"github.com/viktorbarna/tradesim/internal/backtest"
	"github.com/viktorbarna/tradesim/internal/logger"
	"github.com/viktorbarna/tradesim/internal/market"
	"github.com/viktorbarna/tradesim/internal/models"
	"github.com/viktorbarna/tradesim/internal/storage"
	"github.com/viktorbarna/tradesim/strategy"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultKlineLimit  = 1000
	defaultCapital     = 1000.0
	defaultBuyQuantity = 1.0

	// paperWarmupBars sizes the rolling indicator window of the paper loop.
	// Large enough for the slow SMA to leave its warmup region with room to
	// spare.
	paperWarmupBars = 500
)

type Server struct {
	listenAddress string
	store         storage.Storage // nil when running without persistence
	fetcher       *market.Fetcher
	router        *http.ServeMux

	infoLog  *log.Logger
	errorLog *log.Logger
	debugLog *log.Logger
}

func NewServer(listenAddress string, store storage.Storage, fetcher *market.Fetcher) *Server {
	return &Server{
		listenAddress: listenAddress,
		store:         store,
		fetcher:       fetcher,
		router:        http.NewServeMux(),
		infoLog:       logger.Info,
		errorLog:      logger.Error,
		debugLog:      logger.Debug,
	}
}

func (s *Server) Run() error {
	s.routes()

	srv := &http.Server{
		Addr:         s.listenAddress,
		Handler:      s.recoverPanic(s.logRequest(s.secureHeader(s.router))),
		ErrorLog:     s.errorLog,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.infoLog.Printf("Server listening on localhost%s\n", s.listenAddress)
	return srv.ListenAndServe()
}

func (s *Server) routes() {
	s.router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.notFound(w)
	})
	s.router.HandleFunc("/backtest", s.backtestHandler)
	s.router.HandleFunc("/klines", s.klinesHandler)
	s.router.HandleFunc("/ws", s.paperTradeHandler)
}

// backtestHandler runs one simulation per request. The request body selects
// symbol, window, capital, exit mode and drive mode; the response is the full
// run report.
func (s *Server) backtestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.clientError(w, http.StatusMethodNotAllowed)
		return
	}

	var req models.BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.debugLog.Printf("bad backtest request: %v", err)
		s.clientError(w, http.StatusBadRequest)
		return
	}

	if err := ValidateSymbol(req.Symbol); err != nil {
		s.debugLog.Printf("backtest request rejected: %v", err)
		s.clientError(w, http.StatusBadRequest)
		return
	}
	if req.Interval == "" {
		s.clientError(w, http.StatusBadRequest)
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultKlineLimit
	}
	if req.StartingCapital <= 0 {
		req.StartingCapital = defaultCapital
	}
	if req.BuyQuantity <= 0 {
		req.BuyQuantity = defaultBuyQuantity
	}

	mode, err := strategy.ParseExitMode(req.ExitMode)
	if err != nil {
		s.debugLog.Printf("backtest request rejected: %v", err)
		s.clientError(w, http.StatusBadRequest)
		return
	}

	series, err := s.fetchSeries(req.Symbol, req.Interval, req.Limit)
	if err != nil {
		s.serverError(w, err)
		return
	}

	bt := backtest.New(backtest.Config{
		Symbol:          series.Symbol,
		API:             "binance",
		StartingCapital: req.StartingCapital,
		BuyQuantity:     req.BuyQuantity,
		TradingFee:      rest.TradingFee,
	}, market.NewMarketData(series), strategy.NewMovingAverage(0, mode))

	switch req.DriveMode {
	case "stream":
		err = bt.RunStream()
	case "batch", "":
		err = bt.Run()
	default:
		s.clientError(w, http.StatusBadRequest)
		return
	}
	if err != nil {
		if errors.Is(err, backtest.ErrStreamOnly) {
			s.debugLog.Printf("backtest request rejected: %v", err)
			s.clientError(w, http.StatusBadRequest)
			return
		}
		if errors.Is(err, backtest.ErrNoData) {
			s.clientError(w, http.StatusUnprocessableEntity)
			return
		}
		s.serverError(w, err)
		return
	}

	report := bt.Report(s.currentPrice(series))
	s.saveReport(report)

	if err := WriteJSON(w, http.StatusOK, report); err != nil {
		s.errorLog.Printf("writing backtest response: %v", err)
	}
}

// klinesHandler proxies a stitched candle fetch, mostly for charting clients
// that want series longer than the exchange's per-call cap.
func (s *Server) klinesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.clientError(w, http.StatusMethodNotAllowed)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	interval := r.URL.Query().Get("interval")
	if err := ValidateSymbol(symbol); err != nil || interval == "" {
		s.clientError(w, http.StatusBadRequest)
		return
	}

	limit := defaultKlineLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			s.clientError(w, http.StatusBadRequest)
			return
		}
		limit = n
	}

	series, err := s.fetchSeries(symbol, interval, limit)
	if err != nil {
		s.serverError(w, err)
		return
	}

	resp := struct {
		Symbol   string           `json:"symbol"`
		Interval string           `json:"interval"`
		Candles  []*models.Candle `json:"candles"`
	}{series.Symbol, series.Interval, series.Candles}

	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		s.errorLog.Printf("writing klines response: %v", err)
	}
}

// PaperUpdate is one websocket frame of the paper-trading feed, emitted per
// closed candle.
type PaperUpdate struct {
	Time    time.Time `json:"time"`
	Price   float64   `json:"price"`
	Capital float64   `json:"capital"`
}

// paperTradeHandler runs the streaming engine against the live kline feed and
// pushes a portfolio snapshot to the client per closed bar. No real orders are
// placed; execution is simulated exactly as in a streamed backtest.
func (s *Server) paperTradeHandler(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	interval := r.URL.Query().Get("interval")
	if err := ValidateSymbol(symbol); err != nil || interval == "" {
		s.clientError(w, http.StatusBadRequest)
		return
	}
	mode, err := strategy.ParseExitMode(r.URL.Query().Get("exit"))
	if err != nil {
		s.clientError(w, http.StatusBadRequest)
		return
	}

	// Warm up indicators on recent history before going live.
	series, err := s.fetchSeries(symbol, interval, paperWarmupBars)
	if err != nil {
		s.serverError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.errorLog.Printf("websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "paper trading stopped")

	strat := strategy.NewMovingAverage(0, mode)
	md := market.NewMarketData(series)
	if err := strat.AddIndicators(md); err != nil {
		s.errorLog.Printf("paper warmup: %v", err)
		return
	}

	bt := backtest.New(backtest.Config{
		Symbol:          series.Symbol,
		API:             "binance",
		StartingCapital: defaultCapital,
		BuyQuantity:     defaultBuyQuantity,
		TradingFee:      rest.TradingFee,
	}, md, strat)

	ctx := r.Context()
	feed := NewBinance(ctx, &models.CandleSubscription{Symbol: symbol, Interval: interval})
	window := series.Candles

	s.infoLog.Printf("Paper trading %s@%s started", series.Symbol, interval)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case candle, ok := <-feed.CandleChannel:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "feed closed")
				return
			}

			// Slide the window and recompute indicators over it, then let
			// the engine act on the newest row.
			window = append(window[1:], candle)
			next := market.NewMarketData(
				market.NewSeries(series.Symbol, interval, window),
			)
			if err := strat.AddIndicators(next); err != nil {
				s.errorLog.Printf("indicator update: %v", err)
				conn.Close(websocket.StatusInternalError, "indicator update failed")
				return
			}
			bt.SetMarketData(next)
			bt.ProcessCandle(candle, next.Series.Row(next.Series.Len()-1))

			update := PaperUpdate{
				Time:    candle.OpenTime,
				Price:   candle.Close,
				Capital: bt.Capital(),
			}
			if err := wsjson.Write(ctx, conn, update); err != nil {
				s.debugLog.Printf("paper client write: %v", err)
				return
			}
		}
	}
}

// currentPrice marks the report's open positions to market. The live ticker is
// best effort; when unavailable the run's last close stands in.
func (s *Server) currentPrice(series *market.Series) float64 {
	price, err := rest.GetTickerPrice(series.Symbol)
	if err != nil {
		s.debugLog.Printf("ticker price unavailable, using last close: %v", err)
		return series.Candles[series.Len()-1].Close
	}
	return price
}

// fetchSeries serves a candle window from the cache when it fully covers the
// request, falling back to the exchange and caching what it fetched.
func (s *Server) fetchSeries(symbol, interval string, limit int) (*market.Series, error) {
	if series := s.cachedSeries(symbol, interval, limit); series != nil {
		return series, nil
	}

	series, err := s.fetcher.FetchCandles(symbol, interval, limit, 0)
	if err != nil {
		return nil, err
	}
	s.saveCandles(series)
	return series, nil
}

// cachedSeries loads the newest limit bars from the store. Any shortfall, gap
// or ordering problem falls through to the exchange; the cache never serves a
// series the fetcher would have rejected.
func (s *Server) cachedSeries(symbol, interval string, limit int) *market.Series {
	if s.store == nil {
		return nil
	}
	step, err := market.IntervalDuration(interval)
	if err != nil {
		return nil
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(limit+1) * step)
	candles, err := s.store.FetchCandles(symbol, interval, start, end)
	if err != nil {
		s.errorLog.Printf("candle cache read: %v", err)
		return nil
	}
	if len(candles) < limit {
		return nil
	}
	candles = candles[len(candles)-limit:]

	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime.Sub(candles[i-1].OpenTime) != step {
			return nil
		}
	}

	s.debugLog.Printf("Serving %d %s candles for %s from cache", limit, interval, symbol)
	return market.NewSeries(symbol, interval, candles)
}

func (s *Server) saveCandles(series *market.Series) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveCandles(series.Symbol, series.Interval, series.Candles); err != nil {
		s.errorLog.Printf("saving candles: %v", err)
	}
}

func (s *Server) saveReport(r *backtest.Report) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveReport(r); err != nil {
		s.errorLog.Printf("saving report: %v", err)
	}
}
