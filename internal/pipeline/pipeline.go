// Package pipeline wires the stream session, analyzer, publisher, archive and
// dashboard into one runnable unit shared by the collector and the watcher.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	appconfig "digitflow/config"
	"digitflow/internal/catalog"
	"digitflow/internal/channel"
	"digitflow/internal/dashboard"
	"digitflow/internal/metrics"
	"digitflow/internal/prediction"
	"digitflow/logger"
	"digitflow/processor"
	"digitflow/reader/deriv"
	"digitflow/writer"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	eventBuffer     = 4096
	shutdownTimeout = 30 * time.Second
)

type options struct {
	interactive bool
	sinks       []writer.Sink
}

type Option func(*options)

// Interactive enables instrument switching through the dashboard.
func Interactive() Option { return func(o *options) { o.interactive = true } }

// WithSinks adds sinks on top of the configured ones.
func WithSinks(sinks ...writer.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// Pipeline owns every long-running component.
type Pipeline struct {
	cfg  *appconfig.Config
	log  *logger.Log
	opts options

	channels  *channel.Channels
	analyzer  *processor.Analyzer
	publisher *writer.Publisher
	archive   *writer.TickArchive
	signals   *prediction.SignalLog
	dashboard *dashboard.Server
	session   *deriv.Session
}

// New builds the components for entries. Sink construction failures are
// returned; nothing is started.
func New(ctx context.Context, cfg *appconfig.Config, entries []catalog.Entry, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg, log: logger.GetLogger()}
	for _, opt := range opts {
		opt(&p.opts)
	}
	if cfg.Metrics.Prometheus {
		metrics.Init()
	}

	p.channels = channel.NewChannels(eventBuffer, cfg.Publish.QueueSize)
	p.signals = prediction.NewSignalLog(cfg.Prediction.SignalDebounce, cfg.Prediction.SignalHistory)

	sinks, s3Client, sqlite, err := buildSinks(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.publisher = writer.NewPublisher(cfg.Publish, p.channels, append(sinks, p.opts.sinks...)...)

	analyzerOpts := []processor.Option{processor.WithPublisher(p.publisher), processor.WithSignals(p.signals)}
	if cfg.Archive.Enabled {
		if s3Client == nil {
			if s3Client, err = writer.NewS3Client(ctx, cfg.Storage.S3); err != nil {
				return nil, err
			}
		}
		if p.archive, err = writer.NewTickArchive(cfg, s3Client); err != nil {
			return nil, fmt.Errorf("tick archive: %w", err)
		}
		analyzerOpts = append(analyzerOpts, processor.WithArchiver(p.archive))
	}

	if p.analyzer, err = processor.NewAnalyzer(cfg, entries, analyzerOpts...); err != nil {
		return nil, err
	}

	dashOpts := []dashboard.Option{dashboard.WithSignals(p.signals)}
	if p.opts.interactive {
		dashOpts = append(dashOpts, dashboard.WithSelector(p.Switch))
	}
	if p.dashboard, err = dashboard.NewServer(cfg.Dashboard, p.log, p.analyzer, dashOpts...); err != nil {
		return nil, err
	}
	if markets := p.dashboard.Markets(); markets != nil {
		p.publisher.AddSink(markets)
		if sqlite != nil {
			p.restore(ctx, sqlite, markets, entries)
		}
	}

	p.session = deriv.NewSession(cfg.Stream, p.analyzer, p.channels.SendEvent)
	return p, nil
}

func buildSinks(ctx context.Context, cfg *appconfig.Config) ([]writer.Sink, *s3.Client, *writer.SQLiteSink, error) {
	var (
		sinks    []writer.Sink
		s3Client *s3.Client
		sqlite   *writer.SQLiteSink
	)
	for _, name := range cfg.Publish.Sinks {
		switch name {
		case appconfig.SinkS3:
			client, err := writer.NewS3Client(ctx, cfg.Storage.S3)
			if err != nil {
				return nil, nil, nil, err
			}
			s3Client = client
			sink, err := writer.NewS3Sink(cfg, client)
			if err != nil {
				return nil, nil, nil, err
			}
			sinks = append(sinks, sink)
		case appconfig.SinkKafka:
			sink, err := writer.NewKafkaSink(cfg)
			if err != nil {
				return nil, nil, nil, err
			}
			sinks = append(sinks, sink)
		case appconfig.SinkSQLite:
			sink, err := writer.NewSQLiteSink(ctx, cfg)
			if err != nil {
				return nil, nil, nil, err
			}
			sqlite = sink
			sinks = append(sinks, sink)
		default:
			return nil, nil, nil, fmt.Errorf("unknown sink %q", name)
		}
	}
	return sinks, s3Client, sqlite, nil
}

// restore seeds markets with the records persisted by a previous run and
// reports how many were written.
func (p *Pipeline) restore(ctx context.Context, sqlite *writer.SQLiteSink, markets writer.Sink, entries []catalog.Entry) int {
	log := p.log.WithComponent("pipeline")
	recs, err := sqlite.Load(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to restore market records")
		return 0
	}
	tracked := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		tracked[e.Symbol] = struct{}{}
	}
	restored := 0
	for _, rec := range recs {
		if _, ok := tracked[rec.Symbol]; !ok {
			continue
		}
		if err := markets.Write(ctx, rec); err != nil {
			log.WithError(err).WithFields(logger.Fields{"sink": markets.Name(), "symbol": rec.Symbol}).Warn("failed to restore market record")
			continue
		}
		restored++
	}
	log.WithField("records", restored).Info("restored market records")
	return restored
}

func (p *Pipeline) Analyzer() *processor.Analyzer { return p.analyzer }

func (p *Pipeline) Signals() *prediction.SignalLog { return p.signals }

// Switch moves an interactive session to symbol.
func (p *Pipeline) Switch(ctx context.Context, symbol string) error {
	if err := p.session.Switch(ctx, symbol); err != nil {
		return err
	}
	if markets := p.dashboard.Markets(); markets != nil {
		markets.Clear()
	}
	return nil
}

// Run starts every component and blocks until ctx ends or the session or
// dashboard fails, then shuts down in dependency order.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.channels.StartMetricsReporting(ctx, p.cfg.Metrics.Report)
	if p.archive != nil {
		if err := p.archive.Start(ctx); err != nil {
			return err
		}
	}
	if err := p.publisher.Start(ctx); err != nil {
		return err
	}
	if err := p.analyzer.Start(ctx, p.channels.Events); err != nil {
		return err
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) {
		errOnce.Do(func() { runErr = err })
		cancel()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.session.Run(ctx); err != nil {
			fail(fmt.Errorf("stream session: %w", err))
		}
	}()
	if p.dashboard != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.dashboard.Run(ctx, p.cfg.App.Name); err != nil {
				fail(fmt.Errorf("dashboard: %w", err))
			}
		}()
	}
	p.log.WithComponent("pipeline").WithFields(logger.Fields{
		"instruments": len(p.analyzer.Subscriptions()),
		"sinks":       p.cfg.Publish.Sinks,
		"archive":     p.archive != nil,
		"dashboard":   p.dashboard.Address(),
	}).Info("all components started")

	<-ctx.Done()
	p.shutdown(&wg)
	return runErr
}

func (p *Pipeline) shutdown(wg *sync.WaitGroup) {
	log := p.log.WithComponent("pipeline")
	log.Info("starting graceful shutdown")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		p.analyzer.Stop()
		p.channels.Close()
		if p.archive != nil {
			p.archive.Stop()
		}
		p.publisher.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(shutdownTimeout):
		log.Warn("graceful shutdown timeout exceeded")
	}
}
