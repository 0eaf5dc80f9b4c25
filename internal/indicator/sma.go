// Package indicator holds the derived-series computations applied to candle
// data. Each indicator exposes a stable name used as the series column key
// and for chart legends.
package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/viktorbarna/tradesim/internal/market"
)

// SMA is a simple moving average: at index i >= period-1 the value is the
// arithmetic mean of the trailing period values of the source column. The
// leading period-1 indices carry NaN since there is not enough history.
type SMA struct {
	name   string
	period int
}

func NewSMA(name string, period int) *SMA {
	return &SMA{name: name, period: period}
}

func (s *SMA) Name() string {
	return s.name
}

func (s *SMA) Period() int {
	return s.period
}

func (s *SMA) Apply(series *market.Series, column string) (*market.Series, error) {
	if s.period < 1 {
		return nil, fmt.Errorf("sma %q: invalid period %d", s.name, s.period)
	}
	src, ok := series.Column(column)
	if !ok {
		return nil, fmt.Errorf("sma %q: no column %q in series", s.name, column)
	}

	values := make([]float64, len(src))
	if len(src) >= s.period {
		copy(values, talib.Sma(src, s.period))
	}
	// talib fills the warm-up window with zeros; mark it undefined instead.
	for i := 0; i < s.period-1 && i < len(values); i++ {
		values[i] = math.NaN()
	}
	if len(src) < s.period {
		for i := range values {
			values[i] = math.NaN()
		}
	}

	return series.WithColumn(s.name, values)
}
