// Package window holds the bounded sliding window of recent ticks kept per instrument.
package window

import "digitflow/models"

// DefaultSize is the number of ticks an instrument needs before it can be classified.
const DefaultSize = 50

// Window is a fixed-capacity FIFO of ticks backed by a ring buffer.
// It is not safe for concurrent use; the owning tracker serializes access.
type Window struct {
	buf   []models.Tick
	start int
	n     int
}

// New returns an empty window. A non-positive size falls back to DefaultSize.
func New(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{buf: make([]models.Tick, size)}
}

// Push appends t, evicting the oldest tick once the window is at capacity.
func (w *Window) Push(t models.Tick) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = t
		w.n++
		return
	}
	w.buf[w.start] = t
	w.start = (w.start + 1) % len(w.buf)
}

func (w *Window) Len() int { return w.n }

func (w *Window) Cap() int { return len(w.buf) }

func (w *Window) IsFull() bool { return w.n >= len(w.buf) }

func (w *Window) IsEmpty() bool { return w.n == 0 }

// at returns the i-th tick in chronological order.
func (w *Window) at(i int) models.Tick {
	return w.buf[(w.start+i)%len(w.buf)]
}

// Snapshot copies the window contents, oldest first.
func (w *Window) Snapshot() []models.Tick {
	out := make([]models.Tick, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.at(i)
	}
	return out
}

// Digits returns the last digit of every tick, oldest first.
func (w *Window) Digits() []int {
	out := make([]int, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.at(i).Digit
	}
	return out
}

// Last returns the newest tick.
func (w *Window) Last() (models.Tick, bool) {
	if w.n == 0 {
		return models.Tick{}, false
	}
	return w.at(w.n - 1), true
}

// Previous returns the tick pushed immediately before the newest one.
func (w *Window) Previous() (models.Tick, bool) {
	if w.n < 2 {
		return models.Tick{}, false
	}
	return w.at(w.n - 2), true
}

// Reset drops every tick but keeps the capacity.
func (w *Window) Reset() {
	for i := range w.buf {
		w.buf[i] = models.Tick{}
	}
	w.start, w.n = 0, 0
}
