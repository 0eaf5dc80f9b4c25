package backtest

import (
	"time"

	"github.com/google/uuid"
)

// Transactions are committed trades. They share the ID of the signal that
// caused them and are append-only; insertion order is the chronological order
// of engine decisions.
//
// Convention, applied uniformly on both sides: Price is in euros, Quantity in
// coins. A buy pays Price euros (fee included) for Quantity coins net of the
// fee; a sell gives up Quantity coins for Price euros net of the fee.

type BuyTransaction struct {
	ID       uuid.UUID `json:"id"`
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Time     time.Time `json:"time"`
}

type SellTransaction struct {
	ID       uuid.UUID `json:"id"`
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Time     time.Time `json:"time"`
}
