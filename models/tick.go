package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single normalized quote. It is never mutated after creation.
type Tick struct {
	Digit int
	Price decimal.Decimal
	Time  time.Time
}

// Candle is one OHLC bar as delivered by the candles history stream.
type Candle struct {
	Epoch int64           `json:"epoch"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}
