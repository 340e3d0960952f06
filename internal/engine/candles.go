package engine

import (
	"math"

	"digitflow/models"

	"github.com/shopspring/decimal"
)

// DefaultHistory bounds the close history kept by candle engines.
const DefaultHistory = 100

// spikeEpsilon is the smallest move that can count as a spike.
const spikeEpsilon = 1e-9

// series is the bounded close history of a candle stream.
type series struct {
	limit  int
	epochs []int64
	closes []decimal.Decimal
	pip    int
	hasPip bool
}

func newSeries(limit int) *series {
	return &series{limit: limit}
}

// apply folds a candle event into the history and reports whether it changed.
// A batch replaces the history. A streaming update with the epoch of the last
// bar replaces that bar, otherwise it opens a new one.
func (s *series) apply(ev models.Event) bool {
	if ev.HasPipSize {
		s.pip, s.hasPip = ev.PipSize, true
	}
	switch ev.Kind {
	case models.EventCandles:
		if len(ev.Candles) == 0 {
			return false
		}
		s.epochs = s.epochs[:0]
		s.closes = s.closes[:0]
		for _, c := range ev.Candles {
			s.push(c.Epoch, c.Close)
		}
		return true
	case models.EventOHLC:
		if len(ev.Candles) == 0 {
			return false
		}
		c := ev.Candles[len(ev.Candles)-1]
		if n := len(s.epochs); n > 0 && s.epochs[n-1] == c.Epoch {
			s.closes[n-1] = c.Close
			return true
		}
		s.push(c.Epoch, c.Close)
		return true
	default:
		return false
	}
}

func (s *series) push(epoch int64, price decimal.Decimal) {
	s.epochs = append(s.epochs, epoch)
	s.closes = append(s.closes, price)
	if over := len(s.closes) - s.limit; over > 0 {
		s.epochs = append(s.epochs[:0], s.epochs[over:]...)
		s.closes = append(s.closes[:0], s.closes[over:]...)
	}
}

func (s *series) latest(ev models.Event) Sample {
	n := len(s.closes) - 1
	return Sample{
		Price: s.closes[n],
		Digit: LastDigit(s.closes[n], s.pip, s.hasPip),
		Time:  eventTime(ev, s.epochs[n]),
	}
}

// Closes returns a copy of the close history, oldest first.
func (s *series) Closes() []decimal.Decimal {
	return append([]decimal.Decimal(nil), s.closes...)
}

// candleEngine serves the Step and Jump families.
type candleEngine struct {
	kind   Kind
	series *series
}

func (c *candleEngine) Kind() Kind { return c.kind }

func (c *candleEngine) Mode() StreamMode { return ModeCandles }

func (c *candleEngine) Normalize(ev models.Event) (Sample, bool) {
	if !c.series.apply(ev) {
		return Sample{}, false
	}
	return c.series.latest(ev), true
}

// BoomCrash is a candle engine that also flags sudden spikes.
type BoomCrash struct {
	series *series
}

func (b *BoomCrash) Kind() Kind { return KindBoomCrash }

func (b *BoomCrash) Mode() StreamMode { return ModeCandles }

func (b *BoomCrash) Normalize(ev models.Event) (Sample, bool) {
	if !b.series.apply(ev) {
		return Sample{}, false
	}
	s := b.series.latest(ev)
	s.Spike = DetectSpike(b.series.closes)
	return s, true
}

// DetectSpike reports whether the latest absolute close-to-close move exceeds
// max(mean+3σ, 3·mean, ε) of the moves before it. At least two moves are needed.
func DetectSpike(closes []decimal.Decimal) bool {
	if len(closes) < 3 {
		return false
	}
	deltas := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		deltas[i-1] = closes[i].Sub(closes[i-1]).Abs().InexactFloat64()
	}
	last := deltas[len(deltas)-1]
	prior := deltas[:len(deltas)-1]

	var mean float64
	for _, d := range prior {
		mean += d
	}
	mean /= float64(len(prior))

	var variance float64
	for _, d := range prior {
		variance += (d - mean) * (d - mean)
	}
	std := math.Sqrt(variance / float64(len(prior)))

	threshold := math.Max(math.Max(mean+3*std, 3*mean), spikeEpsilon)
	return last > threshold
}
