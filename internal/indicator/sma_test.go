package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/viktorbarna/tradesim/internal/market"
	"github.com/viktorbarna/tradesim/internal/models"
)

func seriesWithCloses(closes ...float64) *market.Series {
	base := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]*models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = &models.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Close:    c,
		}
	}
	return market.NewSeries("BTCEUR", "1m", candles)
}

func TestSMAApply(t *testing.T) {
	s := seriesWithCloses(1, 2, 3, 4, 5)

	out, err := NewSMA("sma", 3).Apply(s, "close")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	vals, ok := out.Column("sma")
	if !ok {
		t.Fatal("no sma column after Apply()")
	}

	for i := 0; i < 2; i++ {
		if !math.IsNaN(vals[i]) {
			t.Errorf("vals[%d] = %v, want NaN during warmup", i, vals[i])
		}
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if got := vals[i+2]; math.Abs(got-w) > 1e-12 {
			t.Errorf("vals[%d] = %v, want %v", i+2, got, w)
		}
	}
}

func TestSMAApplyShortSeries(t *testing.T) {
	s := seriesWithCloses(1, 2)

	out, err := NewSMA("sma", 5).Apply(s, "close")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	vals, _ := out.Column("sma")
	for i, v := range vals {
		if !math.IsNaN(v) {
			t.Errorf("vals[%d] = %v, want NaN for series shorter than period", i, v)
		}
	}
}

func TestSMAApplyErrors(t *testing.T) {
	s := seriesWithCloses(1, 2, 3)

	if _, err := NewSMA("sma", 0).Apply(s, "close"); err == nil {
		t.Error("Apply() with period 0: want error, got nil")
	}
	if _, err := NewSMA("sma", 3).Apply(s, "missing"); err == nil {
		t.Error("Apply() with unknown column: want error, got nil")
	}
}
