package market

import (
	"testing"
	"time"

	"github.com/viktorbarna/tradesim/internal/models"
)

func testCandles(n int) []*models.Candle {
	base := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]*models.Candle, n)
	for i := range candles {
		p := 100 + float64(i)
		candles[i] = &models.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     p,
			High:     p + 1,
			Low:      p - 1,
			Close:    p + 0.5,
			Volume:   10,
		}
	}
	return candles
}

func TestWithColumn(t *testing.T) {
	s := NewSeries("BTCEUR", "1m", testCandles(3))

	s2, err := s.WithColumn("sma", []float64{1, 2, 3})
	if err != nil {
		t.Fatalf("WithColumn() error = %v", err)
	}
	if _, ok := s.Column("sma"); ok {
		t.Error("original series gained a column, want immutability")
	}
	if vals, ok := s2.Column("sma"); !ok || vals[2] != 3 {
		t.Errorf("Column(sma) = %v, %v, want [1 2 3], true", vals, ok)
	}

	s3, err := s2.WithColumn("sma", []float64{4, 5, 6})
	if err != nil {
		t.Fatalf("WithColumn() replace error = %v", err)
	}
	if names := s3.ColumnNames(); len(names) != 1 || names[0] != "sma" {
		t.Errorf("ColumnNames() = %v, want [sma]", names)
	}
	if vals, _ := s3.Column("sma"); vals[0] != 4 {
		t.Errorf("replaced column = %v, want [4 5 6]", vals)
	}

	if _, err := s.WithColumn("bad", []float64{1}); err == nil {
		t.Error("WithColumn() with mismatched length: want error, got nil")
	}
}

func TestColumnCandleFields(t *testing.T) {
	s := NewSeries("BTCEUR", "1m", testCandles(2))

	tests := []struct {
		name string
		want float64 // value at index 1
	}{
		{"open", 101},
		{"high", 102},
		{"low", 100},
		{"close", 101.5},
		{"volume", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vals, ok := s.Column(tt.name)
			if !ok {
				t.Fatalf("Column(%q) not found", tt.name)
			}
			if vals[1] != tt.want {
				t.Errorf("Column(%q)[1] = %v, want %v", tt.name, vals[1], tt.want)
			}
		})
	}

	if _, ok := s.Column("nope"); ok {
		t.Error("Column(nope) = true, want false")
	}
}

func TestRow(t *testing.T) {
	s := NewSeries("BTCEUR", "1m", testCandles(2))
	s, err := s.WithColumn("sma", []float64{1.5, 2.5})
	if err != nil {
		t.Fatal(err)
	}

	row := s.Row(1)
	if row["close"] != 101.5 {
		t.Errorf("row[close] = %v, want 101.5", row["close"])
	}
	if row["sma"] != 2.5 {
		t.Errorf("row[sma] = %v, want 2.5", row["sma"])
	}
}

func TestIndexAt(t *testing.T) {
	candles := testCandles(5)
	s := NewSeries("BTCEUR", "1m", candles)

	if got := s.IndexAt(candles[3].OpenTime); got != 3 {
		t.Errorf("IndexAt() = %d, want 3", got)
	}
	if got := s.IndexAt(candles[0].OpenTime.Add(time.Second)); got != -1 {
		t.Errorf("IndexAt() = %d, want -1", got)
	}
}

func TestValidate(t *testing.T) {
	candles := testCandles(5)
	s := NewSeries("BTCEUR", "1m", candles)
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	candles[3].OpenTime = candles[2].OpenTime // duplicate
	if err := s.Validate(); err == nil {
		t.Error("Validate() with duplicate open time: want error, got nil")
	}

	candles[3].OpenTime = candles[2].OpenTime.Add(-time.Minute) // out of order
	if err := s.Validate(); err == nil {
		t.Error("Validate() with descending open time: want error, got nil")
	}
}
