package processor

import (
	"math"
	"sync"
	"time"

	"digitflow/internal/catalog"
	"digitflow/internal/classify"
	"digitflow/internal/engine"
	"digitflow/internal/entropy"
	"digitflow/internal/transition"
	"digitflow/internal/window"
	"digitflow/models"

	"github.com/shopspring/decimal"
)

// State is a read-only view of one instrument.
type State struct {
	Symbol       string           `json:"symbol"`
	Name         string           `json:"name"`
	Category     string           `json:"category"`
	Engine       engine.Kind      `json:"engine"`
	Entropy      float64          `json:"entropy"`
	Normalized   float64          `json:"normalizedEntropy"`
	Status       models.Status    `json:"status"`
	Published    models.Status    `json:"publishedStatus"`
	Direction    models.Direction `json:"direction"`
	Quality      float64          `json:"quality"`
	QualityScore string           `json:"qualityScore"`
	TotalTicks   int              `json:"totalTicks"`
	WindowLen    int              `json:"windowLength"`
	WindowCap    int              `json:"windowCapacity"`
	LastDigit    int              `json:"lastDigit"`
	LastPrice    float64          `json:"lastPrice"`
	Spike        bool             `json:"spike"`
	Frequencies  [10]float64      `json:"frequencies"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// tracker owns the analysis state of one instrument. Only the stream goroutine
// writes to it; readers take the read lock.
type tracker struct {
	mu          sync.RWMutex
	entry       catalog.Entry
	engine      engine.Engine
	window      *window.Window
	transitions *transition.Tracker

	totalTicks int
	entropy    float64
	status     models.Status
	published  models.Status
	direction  models.Direction
	quality    float64
	lastDigit  int
	lastPrice  decimal.Decimal
	spike      bool
	updatedAt  time.Time
}

func newTracker(entry catalog.Entry, windowSize int) *tracker {
	return &tracker{
		entry:       entry,
		engine:      engine.New(entry.Symbol),
		window:      window.New(windowSize),
		transitions: transition.New(),
		status:      models.StatusWaiting,
		published:   models.StatusWaiting,
		direction:   models.DirectionDown,
		quality:     classify.QualityScore(0),
	}
}

// apply normalizes ev through the engine, pushes the sample and re-derives
// every statistic. The returned result is classified with the publish policy;
// the tracker itself keeps the gated status.
func (t *tracker) apply(ev models.Event, gated, publish classify.Policy) (classify.Result, engine.Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.engine.Normalize(ev)
	if !ok {
		return classify.Result{}, engine.Sample{}, false
	}

	var prev *decimal.Decimal
	if last, ok := t.window.Last(); ok {
		p := last.Price
		prev = &p
	}

	t.window.Push(s.Tick())
	t.transitions.Observe(s.Digit)
	t.totalTicks++

	h := entropy.Compute(t.window.Snapshot())
	in := classify.Input{
		Empty:     t.window.IsEmpty(),
		Full:      t.window.IsFull(),
		Entropy:   h,
		Previous:  prev,
		Price:     s.Price,
		LastDigit: s.Digit,
	}
	res := gated.Classify(in)

	t.entropy = h
	t.status = res.Status
	t.direction = res.Direction
	t.quality = res.Quality
	t.lastDigit = s.Digit
	t.lastPrice = s.Price
	t.spike = s.Spike
	t.updatedAt = s.Time

	if publish.Mode != gated.Mode || publish.Threshold != gated.Threshold {
		res.Status = publish.Status(in.Empty, in.Full, h)
	}
	t.published = res.Status
	return res, s, true
}

func (t *tracker) record(res classify.Result, now time.Time) models.MarketRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return models.MarketRecord{
		Symbol:       t.entry.Symbol,
		Name:         t.entry.Name,
		Entropy:      math.Round(t.entropy*1000) / 1000,
		Status:       res.Status,
		Direction:    res.Direction,
		QualityScore: classify.FormatQuality(res.Quality),
		Price:        t.lastPrice.InexactFloat64(),
		LastDigit:    res.LastDigit,
		LastUpdate:   now.UnixMilli(),
	}
}

func (t *tracker) state() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return State{
		Symbol:       t.entry.Symbol,
		Name:         t.entry.Name,
		Category:     t.entry.Category,
		Engine:       t.engine.Kind(),
		Entropy:      t.entropy,
		Normalized:   entropy.Normalize(t.entropy),
		Status:       t.status,
		Published:    t.published,
		Direction:    t.direction,
		Quality:      t.quality,
		QualityScore: classify.FormatQuality(t.quality),
		TotalTicks:   t.totalTicks,
		WindowLen:    t.window.Len(),
		WindowCap:    t.window.Cap(),
		LastDigit:    t.lastDigit,
		LastPrice:    t.lastPrice.InexactFloat64(),
		Spike:        t.spike,
		Frequencies:  entropy.Frequencies(t.window.Snapshot()),
		UpdatedAt:    t.updatedAt,
	}
}

func (t *tracker) kind() engine.Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.engine.Kind()
}

func (t *tracker) mode() engine.StreamMode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.engine.Mode()
}

func (t *tracker) digits() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.window.Digits()
}

func (t *tracker) matrix() transition.Matrix {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.transitions.Matrix()
}

// reset clears all session state and replaces the engine with a fresh one.
func (t *tracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.engine = engine.New(t.entry.Symbol)
	t.window.Reset()
	t.transitions.Reset()
	t.totalTicks = 0
	t.entropy = 0
	t.status = models.StatusWaiting
	t.published = models.StatusWaiting
	t.direction = models.DirectionDown
	t.quality = classify.QualityScore(0)
	t.lastDigit = 0
	t.lastPrice = decimal.Zero
	t.spike = false
	t.updatedAt = time.Time{}
}
