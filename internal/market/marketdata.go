package market

// Indicator computes a derived column over a source column of a series.
// Implementations live in the indicator package.
type Indicator interface {
	Name() string
	Apply(s *Series, column string) (*Series, error)
}

// MarketData couples a candle series with the indicators that have been
// applied to it, so charts know which columns to draw.
type MarketData struct {
	Series     *Series
	Indicators []Indicator
}

func NewMarketData(s *Series) *MarketData {
	return &MarketData{Series: s}
}

// AddIndicator applies ind over the given source column and records it.
func (m *MarketData) AddIndicator(ind Indicator, column string) error {
	s, err := ind.Apply(m.Series, column)
	if err != nil {
		return err
	}
	m.Series = s
	m.Indicators = append(m.Indicators, ind)
	return nil
}

// ResetIndicators clears the tracked indicator list. Columns already applied
// stay on the series until recomputed; re-registering an indicator of the
// same name replaces its column.
func (m *MarketData) ResetIndicators() {
	m.Indicators = nil
}
