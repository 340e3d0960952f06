// Package transition tracks consecutive last-digit transitions for a session.
package transition

// Matrix holds counts indexed by [previous][current] digit.
type Matrix [10][10]int

// Tracker accumulates transitions for the lifetime of a session. It is never
// windowed or decayed; Reset is the only way to clear it.
type Tracker struct {
	m        Matrix
	prev     int
	observed int
}

func New() *Tracker {
	return &Tracker{prev: -1}
}

// RecordTransition increments the (prev, curr) cell. Out-of-range digits are ignored.
func (t *Tracker) RecordTransition(prev, curr int) {
	if prev < 0 || prev > 9 || curr < 0 || curr > 9 {
		return
	}
	t.m[prev][curr]++
}

// Observe records a new digit against the previously observed one.
// The first digit of a session has no predecessor and records nothing.
func (t *Tracker) Observe(digit int) {
	if digit < 0 || digit > 9 {
		return
	}
	if t.prev >= 0 {
		t.RecordTransition(t.prev, digit)
	}
	t.prev = digit
	t.observed++
}

// Matrix returns a copy of the counts.
func (t *Tracker) Matrix() Matrix {
	return t.m
}

// Sum is the total number of recorded transitions.
func (t *Tracker) Sum() int {
	s := 0
	for i := range t.m {
		for j := range t.m[i] {
			s += t.m[i][j]
		}
	}
	return s
}

// Observed is the number of digits seen this session.
func (t *Tracker) Observed() int {
	return t.observed
}

// Row returns the transition probabilities out of digit from.
func (t *Tracker) Row(from int) [10]float64 {
	var out [10]float64
	if from < 0 || from > 9 {
		return out
	}
	total := 0
	for _, c := range t.m[from] {
		total += c
	}
	if total == 0 {
		return out
	}
	for j, c := range t.m[from] {
		out[j] = float64(c) / float64(total)
	}
	return out
}

func (t *Tracker) Reset() {
	t.m = Matrix{}
	t.prev = -1
	t.observed = 0
}
