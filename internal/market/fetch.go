package market

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/viktorbarna/tradesim/cmd/rest"
	"github.com/viktorbarna/tradesim/internal/logger"
	"github.com/viktorbarna/tradesim/internal/models"
)

// maxKlineLimit is the per-call cap of the klines endpoint.
const maxKlineLimit = 1000

// KlineSource supplies raw kline payloads. The exchange client implements it;
// tests substitute canned chunks.
type KlineSource interface {
	Klines(symbol, interval string, limit int, endTime int64) ([]byte, error)
}

// BinanceSource fetches klines from the Binance REST API.
type BinanceSource struct{}

func (BinanceSource) Klines(symbol, interval string, limit int, endTime int64) ([]byte, error) {
	q := []string{
		"symbol=" + symbol,
		"&interval=" + interval,
		"&limit=" + strconv.Itoa(limit),
	}
	if endTime > 0 {
		q = append(q, "&endTime="+strconv.FormatInt(endTime, 10))
	}
	return rest.GetKlines(q...)
}

// Fetcher fetches coherent candle series of arbitrary length by stitching
// capped kline calls together.
type Fetcher struct {
	src      KlineSource
	infoLog  *log.Logger
	debugLog *log.Logger
}

func NewFetcher(src KlineSource) *Fetcher {
	return &Fetcher{
		src:      src,
		infoLog:  logger.Info,
		debugLog: logger.Debug,
	}
}

// FetchCandles returns an ordered candle series of up to limit bars ending at
// endTime (or the present when endTime is zero).
//
// Limits above the per-call cap are split into ceil(limit/1000) calls: one
// remainder-sized call first so the follow-up calls run on round thousands,
// then calls of exactly 1000 anchored at the earliest open time fetched so
// far. The anchor bar is returned by both neighbouring chunks; the newer
// chunk's copy is dropped, so the stitched series ends up one bar short per
// follow-up call. Any failed call aborts the whole fetch; no partial series
// is ever returned.
func (f *Fetcher) FetchCandles(symbol, interval string, limit int, endTime int64) (*Series, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit %d", limit)
	}

	if limit <= maxKlineLimit {
		candles, err := f.fetchChunk(symbol, interval, limit, endTime)
		if err != nil {
			return nil, fmt.Errorf("missing data for %s/%s: %w", symbol, interval, err)
		}
		return f.assemble(symbol, interval, candles)
	}

	f.debugLog.Printf("Collecting longtime historical candle data for %s...", symbol)

	rounds := limit / maxKlineLimit
	initial := limit % maxKlineLimit
	if initial == 0 {
		initial = maxKlineLimit
		rounds--
	}

	// Newest chunk first, sized to the remainder, then walk backwards in
	// time in round thousands.
	candles, err := f.fetchChunk(symbol, interval, initial, endTime)
	if err != nil {
		return nil, fmt.Errorf("missing data for %s/%s: %w", symbol, interval, err)
	}
	for ; rounds > 0; rounds-- {
		if len(candles) == 0 {
			break
		}
		anchor := candles[0].OpenTime
		older, err := f.fetchChunk(symbol, interval, maxKlineLimit, anchor.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("missing data for %s/%s: %w", symbol, interval, err)
		}
		if len(older) == 0 {
			break
		}
		// endTime is inclusive: the older chunk's newest bar is the same
		// bar as the newer chunk's oldest one. Keep the older copy.
		if older[len(older)-1].OpenTime.Equal(anchor) {
			candles = candles[1:]
		}
		candles = append(older, candles...)
	}

	return f.assemble(symbol, interval, candles)
}

func (f *Fetcher) assemble(symbol, interval string, candles []*models.Candle) (*Series, error) {
	series := NewSeries(symbol, interval, candles)
	if err := series.Validate(); err != nil {
		return nil, fmt.Errorf("incoherent candle data for %s/%s: %w", symbol, interval, err)
	}
	return series, nil
}

func (f *Fetcher) fetchChunk(symbol, interval string, limit int, endTime int64) ([]*models.Candle, error) {
	raw, err := f.src.Klines(symbol, interval, limit, endTime)
	if err != nil {
		return nil, err
	}
	return ParseKlines(raw)
}

// ParseKlines decodes the kline wire format:
//
//	[
//	  [
//	    1499040000000,      // Open time
//	    "0.01634790",       // Open
//	    "0.80000000",       // High
//	    "0.01575800",       // Low
//	    "0.01577100",       // Close
//	    "148976.11427815",  // Volume
//	    ...                 // Close time, quote volume, count, ... (ignored)
//	  ]
//	]
func ParseKlines(raw []byte) ([]*models.Candle, error) {
	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal klines: %w", err)
	}

	candles := make([]*models.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row %d has %d fields, want at least 6", i, len(row))
		}
		openTime, ok := row[0].(float64)
		if !ok {
			return nil, fmt.Errorf("kline row %d: open time is not a number", i)
		}

		c := &models.Candle{OpenTime: time.UnixMilli(int64(openTime)).UTC()}
		for j, dst := range []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume} {
			s, ok := row[j+1].(string)
			if !ok {
				return nil, fmt.Errorf("kline row %d: field %d is not a string", i, j+1)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("kline row %d: %w", i, err)
			}
			*dst = v
		}
		candles = append(candles, c)
	}
	return candles, nil
}
