package deriv

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"digitflow/models"

	"github.com/shopspring/decimal"
)

// ErrIgnored marks well-formed frames that carry no market data, such as
// subscription acknowledgements.
var ErrIgnored = errors.New("frame carries no market data")

type ticksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe"`
}

type candlesRequest struct {
	TicksHistory    string `json:"ticks_history"`
	Style           string `json:"style"`
	Granularity     int    `json:"granularity"`
	Count           int    `json:"count"`
	End             string `json:"end"`
	AdjustStartTime int    `json:"adjust_start_time"`
	Subscribe       int    `json:"subscribe"`
}

type forgetAllRequest struct {
	ForgetAll string `json:"forget_all"`
}

func TicksRequest(symbol string) any {
	return ticksRequest{Ticks: symbol, Subscribe: 1}
}

func CandlesRequest(symbol string, granularity, count int) any {
	return candlesRequest{
		TicksHistory:    symbol,
		Style:           "candles",
		Granularity:     granularity,
		Count:           count,
		End:             "latest",
		AdjustStartTime: 1,
		Subscribe:       1,
	}
}

// ForgetAllRequest cancels every subscription of one stream type ("ticks" or "candles").
func ForgetAllRequest(stream string) any {
	return forgetAllRequest{ForgetAll: stream}
}

type echoReq struct {
	Ticks        string `json:"ticks"`
	TicksHistory string `json:"ticks_history"`
}

type tickFrame struct {
	Symbol  string           `json:"symbol"`
	Quote   *decimal.Decimal `json:"quote"`
	Epoch   int64            `json:"epoch"`
	PipSize *float64         `json:"pip_size"`
}

type candleFrame struct {
	Epoch int64           `json:"epoch"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

type ohlcFrame struct {
	Symbol   string           `json:"symbol"`
	OpenTime int64            `json:"open_time"`
	Open     decimal.Decimal  `json:"open"`
	High     decimal.Decimal  `json:"high"`
	Low      decimal.Decimal  `json:"low"`
	Close    *decimal.Decimal `json:"close"`
	PipSize  *float64         `json:"pip_size"`
}

type envelope struct {
	MsgType string              `json:"msg_type"`
	EchoReq echoReq             `json:"echo_req"`
	Error   *models.StreamError `json:"error"`
	Tick    *tickFrame          `json:"tick"`
	Candles []candleFrame       `json:"candles"`
	History *struct {
		Candles []candleFrame `json:"candles"`
	} `json:"history"`
	OHLC    *ohlcFrame `json:"ohlc"`
	PipSize *float64   `json:"pip_size"`
}

// Decode turns one inbound frame into an event. It returns ErrIgnored for
// frames without market data and a descriptive error for malformed ones.
func Decode(raw []byte, receivedAt time.Time) (models.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.Event{}, fmt.Errorf("decode frame: %w", err)
	}

	ev := models.Event{ReceivedAt: receivedAt}
	switch {
	case env.Error != nil:
		ev.Kind = models.EventError
		ev.Err = env.Error
		ev.Err.MsgType = env.MsgType
		ev.Symbol = env.EchoReq.symbol()
		return ev, nil

	case env.Tick != nil:
		if env.Tick.Symbol == "" || env.Tick.Quote == nil {
			return models.Event{}, fmt.Errorf("tick frame without symbol or quote")
		}
		ev.Kind = models.EventTick
		ev.Symbol = env.Tick.Symbol
		ev.Quote = *env.Tick.Quote
		ev.Epoch = env.Tick.Epoch
		ev.PipSize, ev.HasPipSize = pipSize(env.Tick.PipSize)
		return ev, nil

	case env.OHLC != nil:
		if env.OHLC.Symbol == "" || env.OHLC.Close == nil {
			return models.Event{}, fmt.Errorf("ohlc frame without symbol or close")
		}
		ev.Kind = models.EventOHLC
		ev.Symbol = env.OHLC.Symbol
		ev.Epoch = env.OHLC.OpenTime
		ev.PipSize, ev.HasPipSize = pipSize(env.OHLC.PipSize)
		ev.Candles = []models.Candle{{
			Epoch: env.OHLC.OpenTime,
			Open:  env.OHLC.Open,
			High:  env.OHLC.High,
			Low:   env.OHLC.Low,
			Close: *env.OHLC.Close,
		}}
		return ev, nil

	case env.Candles != nil || env.History != nil:
		frames := env.Candles
		if frames == nil {
			frames = env.History.Candles
		}
		ev.Symbol = env.EchoReq.symbol()
		if ev.Symbol == "" {
			return models.Event{}, fmt.Errorf("candles frame without echo_req symbol")
		}
		ev.Kind = models.EventCandles
		ev.PipSize, ev.HasPipSize = pipSize(env.PipSize)
		ev.Candles = make([]models.Candle, len(frames))
		for i, c := range frames {
			ev.Candles[i] = models.Candle{Epoch: c.Epoch, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
		}
		if n := len(frames); n > 0 {
			ev.Epoch = frames[n-1].Epoch
		}
		return ev, nil
	}

	return models.Event{}, ErrIgnored
}

func (e echoReq) symbol() string {
	if e.TicksHistory != "" {
		return e.TicksHistory
	}
	return e.Ticks
}

func pipSize(v *float64) (int, bool) {
	if v == nil || *v < 0 {
		return 0, false
	}
	return int(math.Round(*v)), true
}
