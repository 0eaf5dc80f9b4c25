package market

import (
	"fmt"
	"time"

	"github.com/viktorbarna/tradesim/internal/models"
)

// Row holds the column values of a single series index, keyed by column name.
// Candle fields appear under "open", "high", "low", "close" and "volume".
type Row map[string]float64

// Series is an ordered OHLCV series for one symbol plus any number of derived
// indicator columns aligned 1:1 with the candles. The candle fields themselves
// are never mutated; WithColumn returns a new Series value so ownership of the
// underlying data stays unambiguous between strategy and execution engine.
type Series struct {
	Symbol   string
	Interval string
	Candles  []*models.Candle

	columns map[string][]float64
	names   []string // column insertion order, used for chart legends
}

func NewSeries(symbol, interval string, candles []*models.Candle) *Series {
	return &Series{
		Symbol:   symbol,
		Interval: interval,
		Candles:  candles,
		columns:  make(map[string][]float64),
	}
}

func (s *Series) Len() int {
	return len(s.Candles)
}

// WithColumn returns a copy of the series carrying an additional named column.
// An existing column of the same name is replaced.
func (s *Series) WithColumn(name string, values []float64) (*Series, error) {
	if len(values) != len(s.Candles) {
		return nil, fmt.Errorf(
			"column %q has %d values for %d candles",
			name, len(values), len(s.Candles),
		)
	}

	out := &Series{
		Symbol:   s.Symbol,
		Interval: s.Interval,
		Candles:  s.Candles,
		columns:  make(map[string][]float64, len(s.columns)+1),
		names:    make([]string, 0, len(s.names)+1),
	}
	for _, n := range s.names {
		if n != name {
			out.columns[n] = s.columns[n]
			out.names = append(out.names, n)
		}
	}
	out.columns[name] = values
	out.names = append(out.names, name)
	return out, nil
}

// Column resolves a named column: either one of the candle fields or a
// previously added indicator column.
func (s *Series) Column(name string) ([]float64, bool) {
	switch name {
	case "open", "high", "low", "close", "volume":
		vals := make([]float64, len(s.Candles))
		for i, c := range s.Candles {
			switch name {
			case "open":
				vals[i] = c.Open
			case "high":
				vals[i] = c.High
			case "low":
				vals[i] = c.Low
			case "close":
				vals[i] = c.Close
			case "volume":
				vals[i] = c.Volume
			}
		}
		return vals, true
	}
	vals, ok := s.columns[name]
	return vals, ok
}

// ColumnNames lists the indicator columns in insertion order.
func (s *Series) ColumnNames() []string {
	return append([]string(nil), s.names...)
}

// Columns returns a copy of the indicator column map, e.g. for chart payloads.
func (s *Series) Columns() map[string][]float64 {
	out := make(map[string][]float64, len(s.columns))
	for n, v := range s.columns {
		out[n] = v
	}
	return out
}

// Row collects the candle fields and indicator values at index i.
func (s *Series) Row(i int) Row {
	c := s.Candles[i]
	row := Row{
		"open":   c.Open,
		"high":   c.High,
		"low":    c.Low,
		"close":  c.Close,
		"volume": c.Volume,
	}
	for _, n := range s.names {
		row[n] = s.columns[n][i]
	}
	return row
}

// IndexAt returns the index of the candle opened at t, or -1.
func (s *Series) IndexAt(t time.Time) int {
	for i, c := range s.Candles {
		if c.OpenTime.Equal(t) {
			return i
		}
	}
	return -1
}

// Validate checks that open times are strictly ascending with no duplicates.
func (s *Series) Validate() error {
	for i := 1; i < len(s.Candles); i++ {
		prev, curr := s.Candles[i-1].OpenTime, s.Candles[i].OpenTime
		if !curr.After(prev) {
			return fmt.Errorf(
				"series not strictly ascending at index %d: %v >= %v",
				i, prev, curr,
			)
		}
	}
	return nil
}

func (s *Series) Start() time.Time {
	if len(s.Candles) == 0 {
		return time.Time{}
	}
	return s.Candles[0].OpenTime
}

func (s *Series) End() time.Time {
	if len(s.Candles) == 0 {
		return time.Time{}
	}
	return s.Candles[len(s.Candles)-1].OpenTime
}
