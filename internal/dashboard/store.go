package dashboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"digitflow/internal/metrics"
	"digitflow/models"
)

// MarketStore keeps the latest published record per symbol. It is registered
// as a publish sink so the API serves exactly what the other sinks received.
type MarketStore struct {
	mu      sync.RWMutex
	records map[string]models.MarketRecord
}

func NewMarketStore() *MarketStore {
	return &MarketStore{records: make(map[string]models.MarketRecord)}
}

func (m *MarketStore) Name() string { return "dashboard" }

func (m *MarketStore) Write(_ context.Context, rec models.MarketRecord) error {
	m.mu.Lock()
	m.records[rec.Symbol] = rec
	m.mu.Unlock()
	return nil
}

func (m *MarketStore) Close() error { return nil }

func (m *MarketStore) Get(symbol string) (models.MarketRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[symbol]
	return rec, ok
}

// Records lists Ready to Trade instruments first, then by symbol.
func (m *MarketStore) Records() []models.MarketRecord {
	m.mu.RLock()
	out := make([]models.MarketRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Ready() != out[j].Ready() {
			return out[i].Ready()
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (m *MarketStore) Forget(symbol string) {
	m.mu.Lock()
	delete(m.records, symbol)
	m.mu.Unlock()
}

func (m *MarketStore) Clear() {
	m.mu.Lock()
	m.records = make(map[string]models.MarketRecord)
	m.mu.Unlock()
}

// metricStore retains the most recent structured metrics.
type metricStore struct {
	mu    sync.RWMutex
	items []metrics.Metric
	limit int
}

func newMetricStore(limit int) *metricStore {
	if limit <= 0 {
		limit = 200
	}
	return &metricStore{limit: limit}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, metric)
	if len(s.items) > s.limit {
		s.items = append([]metrics.Metric(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *metricStore) snapshot() []metrics.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Metric, len(s.items))
	copy(out, s.items)
	return out
}

// logRecord is a captured log entry as served by /api/logs.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook retaining the most recent entries.
type logStore struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{limit: limit}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}

	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}

	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}

			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items = append(s.items, record)
	if len(s.items) > s.limit {
		s.items = append([]logRecord(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *logStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, len(s.items))
	copy(out, s.items)
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}
