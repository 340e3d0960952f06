package engine

import "digitflow/models"

// Volatility consumes raw tick events.
type Volatility struct{}

func (v *Volatility) Kind() Kind { return KindVolatility }

func (v *Volatility) Mode() StreamMode { return ModeTicks }

func (v *Volatility) Normalize(ev models.Event) (Sample, bool) {
	if ev.Kind != models.EventTick {
		return Sample{}, false
	}
	return Sample{
		Price: ev.Quote,
		Digit: LastDigit(ev.Quote, ev.PipSize, ev.HasPipSize),
		Time:  eventTime(ev, ev.Epoch),
	}, true
}
