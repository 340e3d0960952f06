package writer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	appconfig "digitflow/config"
	"digitflow/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type putCall struct {
	bucket string
	key    string
	body   []byte
	meta   map[string]string
}

type fakePutter struct {
	err error

	mu    sync.Mutex
	calls []putCall
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, putCall{
		bucket: aws.ToString(in.Bucket),
		key:    aws.ToString(in.Key),
		body:   body,
		meta:   in.Metadata,
	})
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) puts() []putCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]putCall(nil), f.calls...)
}

func s3TestConfig() *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Storage.S3.Bucket = "digitflow-test"
	cfg.Storage.S3.Prefix = "/markets/"
	return &cfg
}

func TestS3SinkWritesRecordPerSymbol(t *testing.T) {
	putter := &fakePutter{}
	sink, err := NewS3Sink(s3TestConfig(), putter)
	if err != nil {
		t.Fatalf("new s3 sink: %v", err)
	}

	rec := models.MarketRecord{Symbol: "JUMP_25", Status: models.StatusReady, QualityScore: "42.0"}
	if err := sink.Write(context.Background(), rec); err != nil {
		t.Fatalf("write: %v", err)
	}

	puts := putter.puts()
	if len(puts) != 1 {
		t.Fatalf("puts = %d", len(puts))
	}
	if puts[0].bucket != "digitflow-test" || puts[0].key != "markets/JUMP_25.json" {
		t.Fatalf("unexpected target %s/%s", puts[0].bucket, puts[0].key)
	}
	var decoded models.MarketRecord
	if err := json.Unmarshal(puts[0].body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Symbol != "JUMP_25" || decoded.Status != models.StatusReady {
		t.Fatalf("decoded = %+v", decoded)
	}
	if puts[0].meta["status"] != string(models.StatusReady) {
		t.Fatalf("status metadata = %q", puts[0].meta["status"])
	}
}

func TestS3SinkAccessDenied(t *testing.T) {
	putter := &fakePutter{err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}}
	sink, err := NewS3Sink(s3TestConfig(), putter)
	if err != nil {
		t.Fatalf("new s3 sink: %v", err)
	}
	err = sink.Write(context.Background(), models.MarketRecord{Symbol: "R_10"})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}

	putter.err = &smithy.GenericAPIError{Code: "SlowDown"}
	err = sink.Write(context.Background(), models.MarketRecord{Symbol: "R_10"})
	if err == nil || errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("throttling should not be permission denied: %v", err)
	}
}

func TestS3SinkRequiresBucket(t *testing.T) {
	cfg := appconfig.Default()
	if _, err := NewS3Sink(&cfg, &fakePutter{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
