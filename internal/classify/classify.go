// Package classify turns window statistics into a tradability status, direction and
// quality score.
package classify

import (
	"fmt"
	"math"

	"digitflow/internal/entropy"
	"digitflow/models"

	"github.com/shopspring/decimal"
)

type Mode string

const (
	// ModeGated requires a full window before an instrument can be Ready.
	ModeGated Mode = "gated"
	// ModeQuick classifies on entropy alone.
	ModeQuick Mode = "quick"

	DefaultGatedThreshold = 2.5
	DefaultQuickThreshold = 2.8
)

// Policy is one status rule together with its entropy threshold.
type Policy struct {
	Mode      Mode
	Threshold float64
}

func Gated(threshold float64) Policy {
	if threshold <= 0 {
		threshold = DefaultGatedThreshold
	}
	return Policy{Mode: ModeGated, Threshold: threshold}
}

func Quick(threshold float64) Policy {
	if threshold <= 0 {
		threshold = DefaultQuickThreshold
	}
	return Policy{Mode: ModeQuick, Threshold: threshold}
}

// ParseMode maps a config value onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeGated, ModeQuick:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown classification policy %q", s)
	}
}

// Status applies the policy to the window state.
func (p Policy) Status(empty, full bool, h float64) models.Status {
	if p.Mode == ModeQuick {
		if h < p.Threshold {
			return models.StatusReady
		}
		return models.StatusAnalyzing
	}
	switch {
	case empty:
		return models.StatusWaiting
	case !full:
		return models.StatusAnalyzing
	case h < p.Threshold:
		return models.StatusReady
	default:
		return models.StatusChoppy
	}
}

// QualityScore is 100 minus the normalized entropy percentage, clamped to
// [0, 100] and rounded to one decimal.
func QualityScore(h float64) float64 {
	q := 100 - entropy.Normalize(h)*100
	q = math.Max(0, math.Min(100, q))
	return math.Round(q*10) / 10
}

// FormatQuality renders a quality score the way it is published.
func FormatQuality(q float64) string {
	return fmt.Sprintf("%.1f", q)
}

// Direction is UP only when price rose strictly over the previous tick.
func Direction(prev *decimal.Decimal, curr decimal.Decimal) models.Direction {
	if prev != nil && curr.GreaterThan(*prev) {
		return models.DirectionUp
	}
	return models.DirectionDown
}

// Input is the window state at the time of a tick.
type Input struct {
	Empty     bool
	Full      bool
	Entropy   float64
	Previous  *decimal.Decimal
	Price     decimal.Decimal
	LastDigit int
}

type Result struct {
	Status     models.Status
	Direction  models.Direction
	Quality    float64
	Normalized float64
	LastDigit  int
}

// Classify evaluates in against the policy. It keeps no state between calls.
func (p Policy) Classify(in Input) Result {
	return Result{
		Status:     p.Status(in.Empty, in.Full, in.Entropy),
		Direction:  Direction(in.Previous, in.Price),
		Quality:    QualityScore(in.Entropy),
		Normalized: entropy.Normalize(in.Entropy),
		LastDigit:  in.LastDigit,
	}
}
