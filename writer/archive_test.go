package writer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	appconfig "digitflow/config"
	"digitflow/models"

	"github.com/shopspring/decimal"
)

func archiveConfig() *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Storage.S3.Bucket = "digitflow-archive"
	cfg.Archive.Enabled = true
	cfg.Archive.Prefix = "ticks"
	cfg.Archive.MaxBuffer = 3
	cfg.Archive.FlushInterval = time.Hour
	cfg.Archive.Compression = "snappy"
	return &cfg
}

func tickAt(price string, digit int, ts time.Time) models.Tick {
	return models.Tick{Price: decimal.RequireFromString(price), Digit: digit, Time: ts}
}

func TestTickArchiveFlushesFullBuffer(t *testing.T) {
	putter := &fakePutter{}
	archive, err := NewTickArchive(archiveConfig(), putter)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	if err := archive.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ts := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	archive.Add("R_10", tickAt("6543.21", 1, ts))
	archive.Add("R_10", tickAt("6543.22", 2, ts.Add(2*time.Second)))
	archive.Add("R_10", tickAt("6543.23", 3, ts.Add(4*time.Second)))
	archive.Add("R_25", tickAt("1234.5", 5, ts))
	archive.Stop()

	puts := putter.puts()
	if len(puts) != 2 {
		t.Fatalf("uploads = %d, want 2", len(puts))
	}
	var r10 *putCall
	for i := range puts {
		if strings.Contains(puts[i].key, "symbol=R_10/") {
			r10 = &puts[i]
		}
	}
	if r10 == nil {
		t.Fatalf("no R_10 upload in %+v", puts)
	}
	if !strings.HasPrefix(r10.key, "ticks/symbol=R_10/date=2024-03-09/R_10_") || !strings.HasSuffix(r10.key, ".parquet") {
		t.Fatalf("unexpected key %s", r10.key)
	}
	if !bytes.HasPrefix(r10.body, []byte("PAR1")) {
		t.Fatalf("body is not parquet")
	}
	if r10.meta["compression"] != "snappy" {
		t.Fatalf("metadata = %v", r10.meta)
	}
	if archive.files.Load() != 2 {
		t.Fatalf("files = %d", archive.files.Load())
	}
}

func TestTickArchiveIgnoresTicksWhenStopped(t *testing.T) {
	putter := &fakePutter{}
	archive, err := NewTickArchive(archiveConfig(), putter)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	archive.Add("R_10", tickAt("1", 1, time.Now()))
	if err := archive.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	archive.Stop()
	if len(putter.puts()) != 0 {
		t.Fatalf("tick added before start was archived")
	}
}

func TestTickArchiveUploadFailureCounted(t *testing.T) {
	putter := &fakePutter{err: context.DeadlineExceeded}
	archive, err := NewTickArchive(archiveConfig(), putter)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	if err := archive.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	archive.Add("R_10", tickAt("1.5", 5, time.Now()))
	archive.Stop()
	if archive.fails.Load() != 1 {
		t.Fatalf("fails = %d, want 1", archive.fails.Load())
	}
}

func TestNewTickArchiveValidates(t *testing.T) {
	cfg := archiveConfig()
	cfg.Storage.S3.Bucket = ""
	if _, err := NewTickArchive(cfg, &fakePutter{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
	if _, err := NewTickArchive(archiveConfig(), nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
