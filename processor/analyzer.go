// Package processor routes stream events to per-instrument trackers and turns
// each accepted sample into a published market record.
package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appconfig "digitflow/config"
	"digitflow/internal/catalog"
	"digitflow/internal/classify"
	"digitflow/internal/engine"
	"digitflow/internal/metrics"
	"digitflow/internal/prediction"
	"digitflow/internal/transition"
	"digitflow/logger"
	"digitflow/models"
)

// Publisher accepts records for asynchronous delivery. Enqueue must not block.
type Publisher interface {
	Enqueue(rec models.MarketRecord) bool
}

// Archiver receives every normalized tick.
type Archiver interface {
	Add(symbol string, tick models.Tick)
}

// SignalRecorder is offered every record together with its prediction.
type SignalRecorder interface {
	Offer(rec models.MarketRecord, p models.Prediction) bool
}

// Subscription is what the stream needs to know to subscribe one instrument.
type Subscription struct {
	Symbol string
	Mode   engine.StreamMode
}

type Option func(*Analyzer)

func WithPublisher(p Publisher) Option { return func(a *Analyzer) { a.publisher = p } }

func WithArchiver(ar Archiver) Option { return func(a *Analyzer) { a.archiver = ar } }

func WithSignals(s SignalRecorder) Option { return func(a *Analyzer) { a.signals = s } }

// Analyzer owns one tracker per tracked instrument. Handle is called from a
// single goroutine; the read accessors are safe from any goroutine.
type Analyzer struct {
	windowSize int
	lookback   int
	gated      classify.Policy
	publish    classify.Policy

	mu       sync.RWMutex
	order    []string
	trackers map[string]*tracker

	publisher Publisher
	archiver  Archiver
	signals   SignalRecorder

	log     *logger.Log
	now     func() time.Time
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// NewAnalyzer creates empty trackers for entries.
func NewAnalyzer(cfg *appconfig.Config, entries []catalog.Entry, opts ...Option) (*Analyzer, error) {
	mode, err := classify.ParseMode(cfg.Classification.PublishPolicy)
	if err != nil {
		return nil, err
	}
	publish := classify.Quick(cfg.Classification.QuickThreshold)
	if mode == classify.ModeGated {
		publish = classify.Gated(cfg.Classification.ReadyThreshold)
	}

	a := &Analyzer{
		windowSize: cfg.Analysis.WindowSize,
		lookback:   cfg.Prediction.ParityLookback,
		gated:      classify.Gated(cfg.Classification.ReadyThreshold),
		publish:    publish,
		log:        logger.GetLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Replace(entries)
	return a, nil
}

// Start consumes events until ctx ends or the channel closes.
func (a *Analyzer) Start(ctx context.Context, events <-chan models.Event) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return fmt.Errorf("analyzer already running")
	}
	a.running = true

	a.log.WithComponent("analyzer").WithFields(logger.Fields{
		"instruments":    len(a.Subscriptions()),
		"window_size":    a.windowSize,
		"publish_policy": a.publish.Mode,
	}).Info("starting analyzer")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.Handle(ev)
			}
		}
	}()
	return nil
}

// Stop waits for the event loop to exit. The context given to Start must be
// cancelled or the channel closed first.
func (a *Analyzer) Stop() {
	a.wg.Wait()
	a.runMu.Lock()
	a.running = false
	a.runMu.Unlock()
	a.log.WithComponent("analyzer").Info("analyzer stopped")
}

// Handle runs the full pipeline for one event: normalize, window push,
// entropy, transitions, classification and hand-off to the publisher.
func (a *Analyzer) Handle(ev models.Event) (models.MarketRecord, bool) {
	log := a.log.WithComponent("analyzer")

	if ev.Kind == models.EventError {
		if ev.Err != nil {
			log.WithFields(logger.Fields{"code": ev.Err.Code, "msg_type": ev.Err.MsgType, "symbol": ev.Symbol}).Warn(ev.Err.Message)
		}
		return models.MarketRecord{}, false
	}

	a.mu.RLock()
	tr, ok := a.trackers[ev.Symbol]
	a.mu.RUnlock()
	if !ok {
		log.WithFields(logger.Fields{"symbol": ev.Symbol, "kind": ev.Kind.String()}).Debug("event for untracked instrument")
		metrics.EmitDropMetric(a.log, metrics.DropMetricUnknownSymbol, ev.Symbol, "route")
		return models.MarketRecord{}, false
	}

	res, sample, ok := tr.apply(ev, a.gated, a.publish)
	if !ok {
		return models.MarketRecord{}, false
	}
	rec := tr.record(res, a.now())

	logger.IncrementTicks()
	metrics.ObserveTick(rec.Symbol, string(tr.kind()), rec.Entropy, res.Quality)

	if a.archiver != nil {
		a.archiver.Add(rec.Symbol, sample.Tick())
	}
	if a.publisher != nil {
		a.publisher.Enqueue(rec)
	}
	if a.signals != nil {
		if p, ok := a.Predict(rec.Symbol); ok {
			a.signals.Offer(rec, p)
		}
	}
	return rec, true
}

// Replace swaps the tracked set for entries. Every tracker starts empty with
// a fresh engine, including ones that were tracked before.
func (a *Analyzer) Replace(entries []catalog.Entry) {
	trackers := make(map[string]*tracker, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, dup := trackers[e.Symbol]; dup {
			continue
		}
		trackers[e.Symbol] = newTracker(e, a.windowSize)
		order = append(order, e.Symbol)
	}

	a.mu.Lock()
	previous := a.order
	a.trackers = trackers
	a.order = order
	a.mu.Unlock()

	for _, sym := range previous {
		if _, ok := trackers[sym]; !ok {
			metrics.ForgetSymbol(sym)
		}
	}
}

// Reset clears the session state of one instrument.
func (a *Analyzer) Reset(symbol string) bool {
	a.mu.RLock()
	tr, ok := a.trackers[symbol]
	a.mu.RUnlock()
	if ok {
		tr.reset()
	}
	return ok
}

// Subscriptions lists tracked instruments in catalog order.
func (a *Analyzer) Subscriptions() []Subscription {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Subscription, 0, len(a.order))
	for _, sym := range a.order {
		out = append(out, Subscription{Symbol: sym, Mode: a.trackers[sym].mode()})
	}
	return out
}

func (a *Analyzer) State(symbol string) (State, bool) {
	a.mu.RLock()
	tr, ok := a.trackers[symbol]
	a.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	return tr.state(), true
}

// States returns every tracked instrument, Ready ones first, then catalog order.
func (a *Analyzer) States() []State {
	a.mu.RLock()
	out := make([]State, 0, len(a.order))
	for _, sym := range a.order {
		out = append(out, a.trackers[sym].state())
	}
	a.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Status == models.StatusReady && out[j].Status != models.StatusReady
	})
	return out
}

// Predict computes the heuristic call for symbol from its current state. It
// is actionable when the last published record was Ready, so the call agrees
// with what sinks and the signal history saw.
func (a *Analyzer) Predict(symbol string) (models.Prediction, bool) {
	a.mu.RLock()
	tr, ok := a.trackers[symbol]
	a.mu.RUnlock()
	if !ok {
		return models.Prediction{}, false
	}
	st := tr.state()
	return prediction.Predict(prediction.Input{
		Symbol:    st.Symbol,
		Status:    st.Published,
		Direction: st.Direction,
		Quality:   st.Quality,
		Digits:    tr.digits(),
		Spike:     st.Spike,
	}, a.lookback), true
}

// Transitions returns the session transition matrix for symbol.
func (a *Analyzer) Transitions(symbol string) (transition.Matrix, bool) {
	a.mu.RLock()
	tr, ok := a.trackers[symbol]
	a.mu.RUnlock()
	if !ok {
		return transition.Matrix{}, false
	}
	return tr.matrix(), true
}
