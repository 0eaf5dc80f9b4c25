package backtest

import (
	"time"

	"github.com/google/uuid"
)

// BuySignal is a strategy-emitted opportunity to open a position. Accepted
// flips to true only when the engine actually executes the trade; a signal
// left unaccepted was an opportunity the engine could not take.
type BuySignal struct {
	ID       uuid.UUID `json:"id"`
	Price    float64   `json:"price"`
	Time     time.Time `json:"time"`
	Accepted bool      `json:"accepted"`
}

func NewBuySignal(price float64, t time.Time) *BuySignal {
	return &BuySignal{
		ID:    uuid.New(),
		Price: price,
		Time:  t,
	}
}

// SellSignal closes the position opened by the buy signal with the same ID.
// The shared ID is the join key between a buy and its eventual sell.
type SellSignal struct {
	ID       uuid.UUID `json:"id"`
	Price    float64   `json:"price"`
	Time     time.Time `json:"time"`
	Accepted bool      `json:"accepted"`
}

func NewSellSignal(id uuid.UUID, price float64, t time.Time) *SellSignal {
	return &SellSignal{
		ID:    id,
		Price: price,
		Time:  t,
	}
}
