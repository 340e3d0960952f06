package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	appconfig "digitflow/config"
	"digitflow/logger"
	"digitflow/models"

	kafka "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each record keyed by symbol, so a compacted topic holds
// the latest record per instrument.
type KafkaSink struct {
	topic  string
	writer messageWriter
	log    *logger.Log
}

func NewKafkaSink(cfg *appconfig.Config) (*KafkaSink, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	k := &KafkaSink{
		topic: cfg.Storage.Kafka.Topic,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:                  cfg.Storage.Kafka.Topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		log: logger.GetLogger(),
	}
	k.log.WithComponent("kafka_sink").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("kafka sink initialized")
	return k, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) message(rec models.MarketRecord) (kafka.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal record: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rec.Symbol),
		Value: data,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(rec.Status)},
		},
	}, nil
}

func (k *KafkaSink) Write(ctx context.Context, rec models.MarketRecord) error {
	msg, err := k.message(rec)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		if errors.Is(err, kafka.TopicAuthorizationFailed) || errors.Is(err, kafka.ClusterAuthorizationFailed) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("write %s: %w", rec.Symbol, err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
