// Package prediction combines the quality score, recent odd/even bias and the
// spike flag into a heuristic trade call. Scores carry no predictive guarantee.
package prediction

import (
	"math"

	"digitflow/models"
)

// DefaultLookback is the number of recent digits used for the parity call.
const DefaultLookback = 10

type Input struct {
	Symbol    string
	Status    models.Status
	Direction models.Direction
	Quality   float64
	Digits    []int
	Spike     bool
}

// Parity returns the majority parity of the last lookback digits (ties go to
// EVEN) and the bias |evenShare-0.5|*2 in [0, 1].
func Parity(digits []int, lookback int) (models.Parity, float64) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if len(digits) > lookback {
		digits = digits[len(digits)-lookback:]
	}
	if len(digits) == 0 {
		return models.ParityEven, 0
	}
	even := 0
	for _, d := range digits {
		if d%2 == 0 {
			even++
		}
	}
	share := float64(even) / float64(len(digits))
	bias := math.Abs(share-0.5) * 2
	if even*2 >= len(digits) {
		return models.ParityEven, bias
	}
	return models.ParityOdd, bias
}

// Confidence is min(99, floor(quality + 10 + 10*bias)), halved on a spike.
func Confidence(quality, bias float64, spike bool) int {
	c := int(math.Min(99, math.Floor(quality+10+10*bias)))
	if c < 0 {
		c = 0
	}
	if spike {
		c /= 2
	}
	return c
}

// Predict evaluates in with the given parity lookback.
func Predict(in Input, lookback int) models.Prediction {
	parity, bias := Parity(in.Digits, lookback)
	contract := models.ContractPut
	if in.Direction == models.DirectionUp {
		contract = models.ContractCall
	}
	return models.Prediction{
		Symbol:     in.Symbol,
		Contract:   contract,
		Direction:  in.Direction,
		Confidence: Confidence(in.Quality, bias, in.Spike),
		Parity:     parity,
		ParityBias: math.Round(bias*100) / 100,
		Spike:      in.Spike,
		Actionable: in.Status == models.StatusReady && !in.Spike,
	}
}
