package models

import "time"

// Status is the tradability classification of an instrument.
type Status string

const (
	StatusWaiting   Status = "Waiting"
	StatusAnalyzing Status = "Analyzing"
	StatusReady     Status = "Ready to Trade"
	StatusChoppy    Status = "Choppy"
)

type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// MarketRecord is the document written to publish sinks, keyed by Symbol.
type MarketRecord struct {
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name"`
	Entropy      float64   `json:"entropy"`
	Status       Status    `json:"status"`
	Direction    Direction `json:"direction"`
	QualityScore string    `json:"qualityScore"`
	Price        float64   `json:"price"`
	LastDigit    int       `json:"lastDigit"`
	LastUpdate   int64     `json:"lastUpdate"`
}

func (r MarketRecord) Ready() bool {
	return r.Status == StatusReady
}

func (r MarketRecord) UpdatedAt() time.Time {
	return time.UnixMilli(r.LastUpdate)
}

type Contract string

const (
	ContractCall Contract = "CALL"
	ContractPut  Contract = "PUT"
)

type Parity string

const (
	ParityEven Parity = "EVEN"
	ParityOdd  Parity = "ODD"
)

// Prediction is a heuristic trade call, not a forecast.
type Prediction struct {
	Symbol     string    `json:"symbol"`
	Contract   Contract  `json:"contract"`
	Direction  Direction `json:"direction"`
	Confidence int       `json:"confidence"`
	Parity     Parity    `json:"parity"`
	ParityBias float64   `json:"parityBias"`
	Spike      bool      `json:"spike"`
	Actionable bool      `json:"actionable"`
}

// Signal is an actionable prediction captured for the signal history.
type Signal struct {
	Time       time.Time `json:"time"`
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Direction  Direction `json:"direction"`
	Contract   Contract  `json:"contract"`
	Quality    string    `json:"qualityScore"`
	Confidence int       `json:"confidence"`
	Price      float64   `json:"price"`
}
