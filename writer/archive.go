package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	appconfig "digitflow/config"
	"digitflow/internal/metrics"
	"digitflow/logger"
	"digitflow/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

type tickParquetRecord struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Price     string  `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	PriceF    float64 `parquet:"name=price_f, type=DOUBLE"`
	Digit     int32   `parquet:"name=digit, type=INT32"`
}

type tickBatch struct {
	Symbol    string
	Ticks     []models.Tick
	Timestamp time.Time
	Reason    string
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// TickArchive buffers normalized ticks per symbol and uploads them to S3 as
// parquet files when a buffer fills up or the flush interval elapses.
type TickArchive struct {
	cfg    appconfig.ArchiveConfig
	bucket string
	client objectPutter
	log    *logger.Log

	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup

	mu      sync.Mutex
	buffer  map[string][]models.Tick
	jobCh   chan tickBatch
	running bool

	files atomic.Int64
	bytes atomic.Int64
	fails atomic.Int64
}

func NewTickArchive(cfg *appconfig.Config, client objectPutter) (*TickArchive, error) {
	if cfg.Storage.S3.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}
	if client == nil {
		return nil, fmt.Errorf("nil s3 client")
	}
	ac := cfg.Archive
	if ac.MaxBuffer <= 0 {
		ac.MaxBuffer = 500
	}
	if ac.FlushInterval <= 0 {
		ac.FlushInterval = 5 * time.Minute
	}
	ac.Prefix = strings.Trim(ac.Prefix, "/")

	jobCapacity := ac.MaxBuffer / 4
	if jobCapacity < 16 {
		jobCapacity = 16
	}
	return &TickArchive{
		cfg:    ac,
		bucket: cfg.Storage.S3.Bucket,
		client: client,
		log:    logger.GetLogger(),
		wg:     &sync.WaitGroup{},
		buffer: make(map[string][]models.Tick),
		jobCh:  make(chan tickBatch, jobCapacity),
	}, nil
}

func (a *TickArchive) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("tick archive already running")
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.log.WithComponent("tick_archive").WithFields(logger.Fields{
		"flush_interval": a.cfg.FlushInterval,
		"max_buffer":     a.cfg.MaxBuffer,
		"bucket":         a.bucket,
	}).Info("starting tick archive")

	a.wg.Add(2)
	go a.flushLoop()
	go a.uploadWorker()
	return nil
}

// Stop flushes every buffer and waits for pending uploads.
func (a *TickArchive) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.flushLocked("shutdown")
	close(a.jobCh)
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	metrics.ReportWriter(a.log, "tick_archive", metrics.WriterStats{
		FilesWritten: a.files.Load(),
		BytesWritten: a.bytes.Load(),
		ErrorsCount:  a.fails.Load(),
		QueueLen:     len(a.jobCh),
		QueueCap:     cap(a.jobCh),
	})
	a.log.WithComponent("tick_archive").Info("tick archive stopped")
}

// Add buffers one tick. A full buffer is handed to the upload worker.
func (a *TickArchive) Add(symbol string, t models.Tick) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.buffer[symbol] = append(a.buffer[symbol], t)
	if len(a.buffer[symbol]) >= a.cfg.MaxBuffer {
		a.enqueue(symbol, a.buffer[symbol], "max_buffer")
		delete(a.buffer, symbol)
	}
}

func (a *TickArchive) flushLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flushBuffers("interval")
		}
	}
}

func (a *TickArchive) flushBuffers(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		a.flushLocked(reason)
	}
}

func (a *TickArchive) flushLocked(reason string) {
	for symbol, ticks := range a.buffer {
		if len(ticks) > 0 {
			a.enqueue(symbol, ticks, reason)
		}
	}
	a.buffer = make(map[string][]models.Tick)
}

// enqueue must be called with mu held. It never blocks; when the upload queue
// is full the batch is dropped.
func (a *TickArchive) enqueue(symbol string, ticks []models.Tick, reason string) {
	batch := tickBatch{Symbol: symbol, Ticks: ticks, Timestamp: ticks[len(ticks)-1].Time, Reason: reason}
	if batch.Timestamp.IsZero() {
		batch.Timestamp = time.Now().UTC()
	}
	select {
	case a.jobCh <- batch:
	default:
		a.fails.Add(1)
		metrics.EmitDropMetric(a.log, metrics.DropMetricArchiveBuffer, symbol, reason)
		a.log.WithComponent("tick_archive").WithFields(logger.Fields{"symbol": symbol, "ticks": len(ticks)}).Warn("upload queue full, dropping batch")
	}
}

func (a *TickArchive) uploadWorker() {
	defer a.wg.Done()
	for batch := range a.jobCh {
		a.processBatch(batch)
	}
}

func (a *TickArchive) processBatch(batch tickBatch) {
	entryLog := a.log.WithComponent("tick_archive").WithFields(logger.Fields{
		"symbol":       batch.Symbol,
		"record_count": len(batch.Ticks),
		"reason":       batch.Reason,
	})

	data, err := a.createParquet(batch)
	if err != nil {
		a.fails.Add(1)
		entryLog.WithError(err).Error("failed to create tick parquet")
		return
	}

	key := a.objectKey(batch)
	if err := a.upload(key, data); err != nil {
		a.fails.Add(1)
		entryLog.WithError(err).WithField("key", key).Error("failed to upload tick parquet")
		return
	}

	a.files.Add(1)
	a.bytes.Add(int64(len(data)))
	entryLog.WithFields(logger.Fields{"s3_key": key, "file_size": len(data)}).Info("tick batch uploaded")
}

func (a *TickArchive) createParquet(batch tickBatch) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(tickParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(a.cfg.Compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, t := range batch.Ticks {
		rec := tickParquetRecord{
			Symbol:    batch.Symbol,
			Timestamp: t.Time.UnixMilli(),
			Price:     t.Price.String(),
			PriceF:    t.Price.InexactFloat64(),
			Digit:     int32(t.Digit),
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write tick record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize tick parquet: %w", err)
	}
	return mem.Bytes(), nil
}

func (a *TickArchive) objectKey(batch tickBatch) string {
	filename := fmt.Sprintf("%s_%s_%s.parquet",
		strings.ToUpper(batch.Symbol),
		time.Now().UTC().Format("20060102150405"),
		uuid.NewString(),
	)
	return path.Join(
		a.cfg.Prefix,
		fmt.Sprintf("symbol=%s", strings.ToUpper(batch.Symbol)),
		fmt.Sprintf("date=%s", batch.Timestamp.UTC().Format("2006-01-02")),
		filename,
	)
}

func (a *TickArchive) upload(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  a.cfg.Compression,
		},
	})
	if err != nil {
		return classifyS3Error(fmt.Errorf("upload tick parquet: %w", err))
	}
	return nil
}
