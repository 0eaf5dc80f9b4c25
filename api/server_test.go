package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/viktorbarna/tradesim/internal/backtest"
	"github.com/viktorbarna/tradesim/internal/models"
)

type stubStore struct {
	candles []*models.Candle
}

func (s *stubStore) Init() error { return nil }

func (s *stubStore) SaveCandles(string, string, []*models.Candle) error { return nil }

func (s *stubStore) FetchCandles(symbol, interval string, start, end time.Time) ([]*models.Candle, error) {
	var out []*models.Candle
	for _, c := range s.candles {
		if !c.OpenTime.Before(start) && !c.OpenTime.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubStore) SaveReport(*backtest.Report) error { return nil }

func (s *stubStore) Close() {}

// contiguous 1m bars ending on the current minute
func recentCandles(n int) []*models.Candle {
	end := time.Now().UTC().Truncate(time.Minute)
	candles := make([]*models.Candle, n)
	for i := range candles {
		candles[i] = &models.Candle{
			OpenTime: end.Add(-time.Duration(n-1-i) * time.Minute),
			Open:     100, High: 101, Low: 99, Close: 100, Volume: 10,
		}
	}
	return candles
}

func TestCachedSeriesHit(t *testing.T) {
	store := &stubStore{candles: recentCandles(10)}
	s := NewServer(":0", store, nil)

	series := s.cachedSeries("BTCEUR", "1m", 5)
	if series == nil {
		t.Fatal("cachedSeries() = nil with a fully covering cache")
	}
	if series.Len() != 5 {
		t.Errorf("Len() = %d, want 5", series.Len())
	}
	if !series.End().Equal(store.candles[len(store.candles)-1].OpenTime) {
		t.Errorf("End() = %v, want the newest cached bar", series.End())
	}
	if err := series.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestCachedSeriesMisses(t *testing.T) {
	gapped := recentCandles(6)
	gapped = append(gapped[:3], gapped[4:]...) // hole inside the served tail

	tests := []struct {
		name     string
		store    *stubStore
		interval string
		limit    int
	}{
		{"no store", nil, "1m", 5},
		{"shortfall", &stubStore{candles: recentCandles(3)}, "1m", 5},
		{"gap", &stubStore{candles: gapped}, "1m", 5},
		{"bad interval", &stubStore{candles: recentCandles(10)}, "bogus", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s *Server
			if tt.store == nil {
				s = NewServer(":0", nil, nil)
			} else {
				s = NewServer(":0", tt.store, nil)
			}
			if got := s.cachedSeries("BTCEUR", tt.interval, tt.limit); got != nil {
				t.Errorf("cachedSeries() = %d candles, want cache miss", got.Len())
			}
		})
	}
}

func TestRouterStatusCodes(t *testing.T) {
	s := NewServer(":0", nil, nil)
	s.routes()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown path", "GET", "/nope", "", 404},
		{"root", "GET", "/", "", 404},
		{"backtest wrong method", "GET", "/backtest", "", 405},
		{"klines wrong method", "POST", "/klines", "", 405},
		{"backtest malformed body", "POST", "/backtest", "{", 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			s.router.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rr.Code, tt.want)
			}
		})
	}
}
