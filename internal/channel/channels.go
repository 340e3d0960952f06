// Package channel carries decoded stream events to the analyzer and computed
// records to the publisher.
package channel

import (
	"context"
	"sync"
	"time"

	"digitflow/internal/metrics"
	"digitflow/logger"
	"digitflow/models"
)

// ChannelStats tracks enqueue/dropped counters.
type ChannelStats struct {
	EventsSent     int64
	RecordsSent    int64
	RecordsDropped int64
}

// Channels exposes the event and record streams.
type Channels struct {
	Events  chan models.Event
	Records chan models.MarketRecord

	stats ChannelStats
	mu    sync.RWMutex
	log   *logger.Log
}

// NewChannels allocates the buffered event and record channels.
func NewChannels(eventBufferSize, recordBufferSize int) *Channels {
	log := logger.GetLogger()
	ch := &Channels{
		Events:  make(chan models.Event, eventBufferSize),
		Records: make(chan models.MarketRecord, recordBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"event_buffer_size":  eventBufferSize,
		"record_buffer_size": recordBufferSize,
	}).Info("channels initialized")

	return ch
}

// Close closes both channels. Producers must have stopped.
func (c *Channels) Close() {
	close(c.Events)
	close(c.Records)
	c.log.WithComponent("channels").Info("channels closed")
}

// SendEvent blocks until the event is queued or ctx ends. Events are never
// dropped so per-instrument arrival order is kept.
func (c *Channels) SendEvent(ctx context.Context, ev models.Event) bool {
	select {
	case c.Events <- ev:
		c.mu.Lock()
		c.stats.EventsSent++
		c.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

// SendRecord enqueues a record for publishing without blocking. A full queue
// drops the record.
func (c *Channels) SendRecord(ctx context.Context, rec models.MarketRecord) bool {
	select {
	case c.Records <- rec:
		c.mu.Lock()
		c.stats.RecordsSent++
		c.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	default:
		c.mu.Lock()
		c.stats.RecordsDropped++
		c.mu.Unlock()
		return false
	}
}

// GetStats returns a snapshot of the telemetry counters.
func (c *Channels) GetStats() ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// StartMetricsReporting emits queue lengths every interval until ctx ends.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.GetStats()
				metrics.EmitMetric(c.log, "channels", "event_queue_length", len(c.Events), "gauge", logger.Fields{"capacity": cap(c.Events)})
				metrics.EmitMetric(c.log, "channels", "record_queue_length", len(c.Records), "gauge", logger.Fields{"capacity": cap(c.Records)})
				metrics.EmitMetric(c.log, "channels", "records_dropped", stats.RecordsDropped, "counter", nil)
			}
		}
	}()
}
