package prediction

import (
	"sync"
	"time"

	"digitflow/models"
)

const (
	DefaultDebounce = 10 * time.Second
	DefaultHistory  = 50
)

// SignalLog keeps the most recent actionable calls, newest first. At most one
// signal is accepted per debounce interval across all instruments.
type SignalLog struct {
	mu       sync.Mutex
	debounce time.Duration
	limit    int
	last     time.Time
	signals  []models.Signal
	now      func() time.Time
}

func NewSignalLog(debounce time.Duration, limit int) *SignalLog {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &SignalLog{debounce: debounce, limit: limit, now: time.Now}
}

// Offer records a signal for rec when p is actionable and the debounce window
// has passed. It reports whether the signal was kept.
func (l *SignalLog) Offer(rec models.MarketRecord, p models.Prediction) bool {
	if !p.Actionable {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.debounce {
		return false
	}
	l.last = now

	name := rec.Name
	if name == "" {
		name = rec.Symbol
	}
	sig := models.Signal{
		Time:       now,
		Symbol:     rec.Symbol,
		Name:       name,
		Direction:  p.Direction,
		Contract:   p.Contract,
		Quality:    rec.QualityScore,
		Confidence: p.Confidence,
		Price:      rec.Price,
	}
	l.signals = append([]models.Signal{sig}, l.signals...)
	if len(l.signals) > l.limit {
		l.signals = l.signals[:l.limit]
	}
	return true
}

// Signals returns a copy of the history, newest first.
func (l *SignalLog) Signals() []models.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Signal(nil), l.signals...)
}

func (l *SignalLog) Clear() {
	l.mu.Lock()
	l.signals = nil
	l.last = time.Time{}
	l.mu.Unlock()
}
