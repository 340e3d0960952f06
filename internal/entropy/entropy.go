// Package entropy computes digit-distribution statistics over a tick window.
package entropy

import (
	"math"

	"digitflow/models"
)

const (
	// MinSamples is the smallest window for which entropy is defined.
	MinSamples = 10
	// MaxEntropy is log2(10), the entropy of a uniform digit distribution.
	MaxEntropy = 3.3219
)

// Histogram counts occurrences of each last digit.
func Histogram(ticks []models.Tick) [10]int {
	var h [10]int
	for _, t := range ticks {
		if t.Digit >= 0 && t.Digit <= 9 {
			h[t.Digit]++
		}
	}
	return h
}

// Frequencies returns the share of each digit in ticks. All zero for an empty input.
func Frequencies(ticks []models.Tick) [10]float64 {
	var f [10]float64
	if len(ticks) == 0 {
		return f
	}
	h := Histogram(ticks)
	n := float64(len(ticks))
	for d, c := range h {
		f[d] = float64(c) / n
	}
	return f
}

// Compute returns the Shannon entropy in bits of the digit histogram,
// or 0 when fewer than MinSamples ticks are available.
func Compute(ticks []models.Tick) float64 {
	if len(ticks) < MinSamples {
		return 0
	}
	h := Histogram(ticks)
	n := float64(len(ticks))
	var e float64
	for _, c := range h {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		e -= p * math.Log2(p)
	}
	return e
}

// Normalize scales an entropy value to [0, 1] against MaxEntropy.
func Normalize(h float64) float64 {
	return h / MaxEntropy
}
