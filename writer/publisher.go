// Package writer delivers market records to the configured sinks and archives
// raw ticks. Delivery is best effort: failures are logged and counted, never
// retried and never fed back into the analysis pipeline.
package writer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	appconfig "digitflow/config"
	"digitflow/internal/channel"
	"digitflow/internal/metrics"
	"digitflow/logger"
	"digitflow/models"
)

// ErrPermissionDenied is returned by sinks when the store rejects a write for
// lack of access. Such failures are expected in read-only deployments and are
// only logged at debug level.
var ErrPermissionDenied = errors.New("permission denied")

// ErrQueueFull is reported when a record is dropped because the publish queue
// has no room.
var ErrQueueFull = errors.New("publish queue full")

// Sink is a key-value store of the latest record per symbol.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec models.MarketRecord) error
	Close() error
}

// Publisher drains the record channel and fans every record out to all sinks.
// Records of one symbol always go to the same worker so their writes stay in
// order.
type Publisher struct {
	cfg      appconfig.PublishConfig
	channels *channel.Channels
	sinks    []Sink
	log      *logger.Log

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	queues  []chan models.MarketRecord

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

func NewPublisher(cfg appconfig.PublishConfig, ch *channel.Channels, sinks ...Sink) *Publisher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Publisher{
		cfg:      cfg,
		channels: ch,
		sinks:    sinks,
		log:      logger.GetLogger(),
		wg:       &sync.WaitGroup{},
	}
}

// AddSink registers another sink. It must be called before Start.
func (p *Publisher) AddSink(s Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// Enqueue hands rec to the publish queue without blocking. A full queue drops
// the record.
func (p *Publisher) Enqueue(rec models.MarketRecord) bool {
	if p.channels.SendRecord(context.Background(), rec) {
		return true
	}
	p.dropped.Add(1)
	metrics.EmitDropMetric(p.log, metrics.DropMetricPublishQueue, rec.Symbol, "enqueue")
	p.log.WithComponent("publisher").WithError(ErrQueueFull).WithFields(logger.Fields{"symbol": rec.Symbol}).Warn("dropping record")
	return false
}

func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("publisher already running")
	}
	p.running = true
	p.ctx = ctx

	names := make([]string, 0, len(p.sinks))
	for _, s := range p.sinks {
		names = append(names, s.Name())
	}
	p.log.WithComponent("publisher").WithFields(logger.Fields{
		"sinks":   names,
		"workers": p.cfg.Workers,
	}).Info("starting publisher")

	p.queues = make([]chan models.MarketRecord, p.cfg.Workers)
	for i := range p.queues {
		p.queues[i] = make(chan models.MarketRecord, 64)
		p.wg.Add(1)
		go p.worker(p.queues[i])
	}

	p.wg.Add(1)
	go p.dispatch()
	return nil
}

// Stop waits for in-flight writes, closes every sink and reports totals. The
// context given to Start must be cancelled or the record channel closed first.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			p.log.WithComponent("publisher").WithError(err).WithField("sink", s.Name()).Warn("failed to close sink")
		}
	}
	metrics.ReportWriter(p.log, "publisher", p.Stats())
}

func (p *Publisher) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		RecordsWritten: p.written.Load(),
		ErrorsCount:    p.failed.Load(),
		QueueLen:       len(p.channels.Records),
		QueueCap:       cap(p.channels.Records),
	}
}

func (p *Publisher) dispatch() {
	defer p.wg.Done()
	defer func() {
		for _, q := range p.queues {
			close(q)
		}
	}()
	for {
		select {
		case <-p.ctx.Done():
			return
		case rec, ok := <-p.channels.Records:
			if !ok {
				return
			}
			q := p.queues[shard(rec.Symbol, len(p.queues))]
			select {
			case q <- rec:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *Publisher) worker(queue <-chan models.MarketRecord) {
	defer p.wg.Done()
	for rec := range queue {
		p.publish(rec)
	}
}

func (p *Publisher) publish(rec models.MarketRecord) {
	for _, s := range p.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		err := s.Write(ctx, rec)
		cancel()

		metrics.IncrementPublish(s.Name(), err == nil)
		if err == nil {
			p.written.Add(1)
			logger.IncrementPublishes()
			logger.LogDataFlowEntry(p.log.WithComponent("publisher").WithFields(logger.Fields{"symbol": rec.Symbol}),
				"publisher", s.Name(), 1, "market_record")
			continue
		}

		p.failed.Add(1)
		entry := p.log.WithComponent("publisher").WithError(err).WithFields(logger.Fields{
			"sink":   s.Name(),
			"symbol": rec.Symbol,
		})
		if errors.Is(err, ErrPermissionDenied) {
			entry.Debug("sink denied write")
			continue
		}
		entry.Warn("sink write failed")
	}
}

func shard(symbol string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}
