package writer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	appconfig "digitflow/config"
	"digitflow/logger"
	"digitflow/models"

	kafka "github.com/segmentio/kafka-go"
)

type fakeMessageWriter struct {
	err    error
	msgs   []kafka.Message
	closed bool
}

func (f *fakeMessageWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeMessageWriter) Close() error {
	f.closed = true
	return nil
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Storage.Kafka.Brokers = nil
	if _, err := NewKafkaSink(&cfg); err == nil {
		t.Fatalf("expected error without brokers")
	}

	cfg.Storage.Kafka.Brokers = []string{"localhost:9092"}
	sink, err := NewKafkaSink(&cfg)
	if err != nil {
		t.Fatalf("new kafka sink: %v", err)
	}
	if _, ok := sink.writer.(*kafka.Writer); !ok {
		t.Fatalf("writer type = %T", sink.writer)
	}
}

func TestKafkaSinkKeysBySymbol(t *testing.T) {
	fw := &fakeMessageWriter{}
	sink := &KafkaSink{topic: "markets", writer: fw, log: logger.GetLogger()}

	rec := models.MarketRecord{Symbol: "CRASH1000", Status: models.StatusChoppy, Entropy: 3.02}
	if err := sink.Write(context.Background(), rec); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("messages = %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "CRASH1000" {
		t.Fatalf("key = %s", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(models.StatusChoppy) {
		t.Fatalf("headers = %+v", msg.Headers)
	}
	var decoded models.MarketRecord
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Entropy != 3.02 {
		t.Fatalf("entropy = %v", decoded.Entropy)
	}

	if err := sink.Close(); err != nil || !fw.closed {
		t.Fatalf("close: %v closed=%v", err, fw.closed)
	}
}

func TestKafkaSinkAuthorizationFailure(t *testing.T) {
	sink := &KafkaSink{writer: &fakeMessageWriter{err: kafka.TopicAuthorizationFailed}, log: logger.GetLogger()}
	if err := sink.Write(context.Background(), models.MarketRecord{Symbol: "R_10"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}

	sink.writer = &fakeMessageWriter{err: kafka.LeaderNotAvailable}
	if err := sink.Write(context.Background(), models.MarketRecord{Symbol: "R_10"}); errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("leader error should not be permission denied")
	}
}
