package mq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds Kafka connection and batching settings.
type KafkaConfig struct {
	Brokers      []string           `yaml:"brokers"`
	ClientID     string             `yaml:"clientID"`
	BatchSize    int                `yaml:"batchSize"`
	BatchTimeout time.Duration      `yaml:"batchTimeout"`
	DialTimeout  time.Duration      `yaml:"dialTimeout"`
	WriteTimeout time.Duration      `yaml:"writeTimeout"`
	RequiredAcks kafka.RequiredAcks `yaml:"requiredAcks"`
	Compression  string             `yaml:"compression"`
}

// KafkaProducer implements Producer on top of segmentio/kafka-go.
type KafkaProducer struct {
	cfg    KafkaConfig
	writer *kafka.Writer
}

// NewKafkaProducer creates a Kafka-backed producer.
func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = kafka.RequireOne
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: cfg.RequiredAcks,
		Compression:  parseCompression(cfg.Compression),
		// Topics are created by ops tooling; do not auto-create on publish.
		AllowAutoTopicCreation: false,
	}

	return &KafkaProducer{cfg: cfg, writer: writer}, nil
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

// Publish publishes one message to the topic.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, message *Message) error {
	return p.PublishBatch(ctx, topic, []*Message{message})
}

// PublishBatch publishes several messages to the topic in one write.
func (p *KafkaProducer) PublishBatch(ctx context.Context, topic string, messages []*Message) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if len(messages) == 0 {
		return nil
	}

	kafkaMessages := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}

		headers := make([]kafka.Header, 0, len(msg.Headers)+1)
		headers = append(headers, kafka.Header{Key: "message_id", Value: []byte(msg.ID)})
		for k, v := range msg.Headers {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}

		kafkaMessages = append(kafkaMessages, kafka.Message{
			Topic:   topic,
			Key:     []byte(msg.Key),
			Value:   msg.Body,
			Headers: headers,
			Time:    msg.Timestamp,
		})
	}
	if len(kafkaMessages) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, kafkaMessages...); err != nil {
		return fmt.Errorf("kafka write messages failed: %w", err)
	}
	return nil
}

// Ping dials the first broker to verify connectivity.
func (p *KafkaProducer) Ping(ctx context.Context) error {
	dialer := &kafka.Dialer{
		ClientID:  p.cfg.ClientID,
		Timeout:   p.cfg.DialTimeout,
		DualStack: true,
	}
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("kafka dial timed out: %w", err)
		}
		return fmt.Errorf("kafka dial failed: %w", err)
	}
	return conn.Close()
}

// Close closes the underlying writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
