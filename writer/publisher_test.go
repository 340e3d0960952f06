package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	appconfig "digitflow/config"
	"digitflow/internal/channel"
	"digitflow/models"
)

type fakeSink struct {
	name string
	err  error

	mu      sync.Mutex
	records []models.MarketRecord
	closed  bool
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Write(_ context.Context, rec models.MarketRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) written() []models.MarketRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.MarketRecord(nil), f.records...)
}

func runPublisher(t *testing.T, workers int, recs []models.MarketRecord, sinks ...Sink) *Publisher {
	t.Helper()
	ch := channel.NewChannels(1, len(recs)+1)
	p := NewPublisher(appconfig.PublishConfig{Workers: workers}, ch, sinks...)
	for _, rec := range recs {
		if !p.Enqueue(rec) {
			t.Fatalf("enqueue %s failed", rec.Symbol)
		}
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ch.Close()
	p.Stop()
	return p
}

func TestPublisherFanOut(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	recs := []models.MarketRecord{{Symbol: "R_10"}, {Symbol: "R_25"}, {Symbol: "BOOM500"}}

	p := runPublisher(t, 2, recs, a, b)

	if len(a.written()) != 3 || len(b.written()) != 3 {
		t.Fatalf("writes = %d/%d, want 3/3", len(a.written()), len(b.written()))
	}
	if !a.closed || !b.closed {
		t.Fatalf("sinks not closed on stop")
	}
	if got := p.Stats().RecordsWritten; got != 6 {
		t.Fatalf("records written = %d, want 6", got)
	}
}

func TestPublisherKeepsSymbolOrder(t *testing.T) {
	sink := &fakeSink{name: "ordered"}
	var recs []models.MarketRecord
	for i := 0; i < 40; i++ {
		sym := fmt.Sprintf("R_%d", 10*(i%4+1))
		recs = append(recs, models.MarketRecord{Symbol: sym, LastUpdate: int64(i)})
	}

	runPublisher(t, 4, recs, sink)

	last := map[string]int64{}
	for _, rec := range sink.written() {
		if prev, ok := last[rec.Symbol]; ok && rec.LastUpdate < prev {
			t.Fatalf("%s written out of order: %d after %d", rec.Symbol, rec.LastUpdate, prev)
		}
		last[rec.Symbol] = rec.LastUpdate
	}
	if len(sink.written()) != 40 {
		t.Fatalf("written = %d, want 40", len(sink.written()))
	}
}

func TestPublisherSinkFailuresAreIsolated(t *testing.T) {
	denied := &fakeSink{name: "denied", err: fmt.Errorf("%w: bucket policy", ErrPermissionDenied)}
	broken := &fakeSink{name: "broken", err: errors.New("connection reset")}
	ok := &fakeSink{name: "ok"}

	p := runPublisher(t, 1, []models.MarketRecord{{Symbol: "R_50"}}, denied, broken, ok)

	if len(ok.written()) != 1 {
		t.Fatalf("healthy sink missed the record")
	}
	stats := p.Stats()
	if stats.ErrorsCount != 2 || stats.RecordsWritten != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestPublisherEnqueueDropsWhenFull(t *testing.T) {
	ch := channel.NewChannels(1, 1)
	p := NewPublisher(appconfig.PublishConfig{}, ch)

	if !p.Enqueue(models.MarketRecord{Symbol: "R_10"}) {
		t.Fatalf("first enqueue should succeed")
	}
	if p.Enqueue(models.MarketRecord{Symbol: "R_10"}) {
		t.Fatalf("second enqueue should drop")
	}
	if p.dropped.Load() != 1 {
		t.Fatalf("dropped = %d", p.dropped.Load())
	}
}

func TestShardIsStable(t *testing.T) {
	for _, sym := range []string{"R_10", "1HZ100V", "CRASH1000"} {
		first := shard(sym, 8)
		for i := 0; i < 5; i++ {
			if shard(sym, 8) != first {
				t.Fatalf("shard for %s changed", sym)
			}
		}
		if first < 0 || first >= 8 {
			t.Fatalf("shard %d out of range", first)
		}
	}
	if shard("R_10", 1) != 0 {
		t.Fatalf("single worker must use shard 0")
	}
}
