package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type EventKind int

const (
	EventTick EventKind = iota + 1
	EventCandles
	EventOHLC
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventCandles:
		return "candles"
	case EventOHLC:
		return "ohlc"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a decoded upstream frame, routed to an instrument by Symbol.
//
// Tick events carry Quote and optionally PipSize. Candle batches carry the whole
// batch in Candles; an OHLC update carries a single in-progress candle.
type Event struct {
	Kind       EventKind
	Symbol     string
	Quote      decimal.Decimal
	PipSize    int
	HasPipSize bool
	Epoch      int64
	Candles    []Candle
	Err        *StreamError
	ReceivedAt time.Time
}

// StreamError is an upstream error frame.
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	MsgType string `json:"-"`
}

func (e *StreamError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
