package journal

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
)

// KafkaConfig points the audit stream at a topic.
type KafkaConfig struct {
	Brokers      []string      `json:"brokers" yaml:"brokers" validate:"required_with=Topic"`
	Topic        string        `json:"topic" yaml:"topic"`
	BatchTimeout time.Duration `json:"batchTimeout" yaml:"batch_timeout"`
}

// KafkaSink publishes envelopes keyed by subject so one order or symbol
// stays on one partition.
type KafkaSink struct {
	w *kafka.Writer
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 50 * time.Millisecond
	}
	return &KafkaSink{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: batch,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, entries []Entry) error {
	msgs, err := kafkaMessages(entries)
	if err != nil {
		return err
	}
	if err := s.w.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(err, "write kafka messages")
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}

func kafkaMessages(entries []Entry) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		value, err := e.Envelope()
		if err != nil {
			return nil, errors.Wrapf(err, "encode envelope seq %d", e.Seq)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Subject),
			Value: value,
			Time:  e.Time,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(e.Kind.String())},
			},
		})
	}
	return msgs, nil
}
