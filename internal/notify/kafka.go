package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/neogan74/auditlens/internal/audit"
	"github.com/twmb/franz-go/pkg/kgo"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaConfig configures the Kafka notifier.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Kafka publishes records as JSON, keyed by record id.
type Kafka struct {
	client producer
	topic  string
}

// NewKafka creates a producer client. Brokers are dialed lazily on first produce.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka notifier requires brokers and a topic")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Kafka{client: client, topic: cfg.Topic}, nil
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Notify(ctx context.Context, rec *audit.Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	res := k.client.ProduceSync(ctx, &kgo.Record{
		Topic: k.topic,
		Key:   []byte(rec.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "severity", Value: []byte(rec.Severity)},
			{Key: "event_type", Value: []byte(rec.EventType)},
		},
	})
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("failed to publish record %s: %w", rec.ID, err)
	}
	return nil
}

func (k *Kafka) Close() {
	k.client.Close()
}
