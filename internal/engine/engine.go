// Package engine normalizes the heterogeneous upstream event shapes of each
// instrument family into a single (price, digit) sample.
package engine

import (
	"strings"
	"time"

	"digitflow/models"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindVolatility Kind = "volatility"
	KindBoomCrash  Kind = "boom_crash"
	KindStep       Kind = "step"
	KindJump       Kind = "jump"
)

// StreamMode is the upstream subscription style an engine consumes.
type StreamMode string

const (
	ModeTicks   StreamMode = "ticks"
	ModeCandles StreamMode = "candles"
)

// Sample is one normalized observation ready for the tick window.
type Sample struct {
	Price decimal.Decimal
	Digit int
	Time  time.Time
	Spike bool
}

func (s Sample) Tick() models.Tick {
	return models.Tick{Digit: s.Digit, Price: s.Price, Time: s.Time}
}

// Engine turns events for one instrument into samples. Engines hold per-session
// state and are discarded, never reused, when the tracked instrument changes.
type Engine interface {
	Kind() Kind
	Mode() StreamMode
	Normalize(ev models.Event) (Sample, bool)
}

// KindFor selects the engine family from the symbol prefix.
func KindFor(symbol string) Kind {
	s := strings.ToUpper(symbol)
	switch {
	case strings.HasPrefix(s, "R_"), strings.HasPrefix(s, "1HZ"):
		return KindVolatility
	case strings.HasPrefix(s, "BOOM"), strings.HasPrefix(s, "CRASH"):
		return KindBoomCrash
	case strings.HasPrefix(s, "STEP"):
		return KindStep
	case strings.HasPrefix(s, "JUMP"):
		return KindJump
	default:
		return KindVolatility
	}
}

// New builds a fresh engine for symbol.
func New(symbol string) Engine {
	switch KindFor(symbol) {
	case KindBoomCrash:
		return &BoomCrash{series: newSeries(DefaultHistory)}
	case KindStep:
		return &candleEngine{kind: KindStep, series: newSeries(DefaultHistory)}
	case KindJump:
		return &candleEngine{kind: KindJump, series: newSeries(DefaultHistory)}
	default:
		return &Volatility{}
	}
}

// LastDigit extracts the final decimal digit of a price. With a known pip size
// the price is formatted to exactly that many decimals, otherwise the shortest
// representation is used (trailing zeros dropped).
func LastDigit(price decimal.Decimal, pipSize int, hasPip bool) int {
	var s string
	if hasPip && pipSize >= 0 {
		s = price.StringFixed(int32(pipSize))
	} else {
		s = price.String()
	}
	s = strings.TrimLeft(strings.ReplaceAll(s, ".", ""), "-")
	if s == "" {
		return 0
	}
	d := int(s[len(s)-1] - '0')
	if d < 0 || d > 9 {
		return 0
	}
	return d
}

func eventTime(ev models.Event, epoch int64) time.Time {
	if epoch > 0 {
		return time.Unix(epoch, 0)
	}
	if !ev.ReceivedAt.IsZero() {
		return ev.ReceivedAt
	}
	return time.Now()
}
