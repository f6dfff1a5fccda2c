package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Options configures the Kafka consumer, producer and batching
type Options struct {
	Brokers       []string
	GroupID       string
	InputTopic    string
	IncidentTopic string // empty disables publishing; incidents are only logged
	BatchSize     int
	FlushInterval time.Duration
	RateLimit     float64 // batches per second, 0 = unlimited
	Burst         int
}

// Validate checks the options needed to connect
func (o Options) Validate() error {
	if len(o.Brokers) == 0 {
		return errors.New("stream: at least one broker is required")
	}
	if o.GroupID == "" {
		return errors.New("stream: consumer group is required")
	}
	if o.InputTopic == "" {
		return errors.New("stream: input topic is required")
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("stream: batch size must be at least 1, got %d", o.BatchSize)
	}
	if o.FlushInterval <= 0 {
		return errors.New("stream: flush interval must be positive")
	}
	return nil
}

// NewKafkaReader creates a consumer-group reader for the transaction topic.
// Offsets are committed explicitly after each batch.
func NewKafkaReader(opts Options, logger *zap.SugaredLogger) (*kafka.Reader, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        opts.Brokers,
		GroupID:        opts.GroupID,
		Topic:          opts.InputTopic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        opts.FlushInterval,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debugw(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Errorw(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	logger.Infow("Kafka consumer initialized",
		"brokers", opts.Brokers,
		"topic", opts.InputTopic,
		"group", opts.GroupID)
	return reader, nil
}

// NewKafkaWriter creates a producer for the incident topic, or nil when no
// incident topic is configured.
func NewKafkaWriter(opts Options, logger *zap.SugaredLogger) *kafka.Writer {
	if opts.IncidentTopic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.IncidentTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debugw(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Errorw(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Infow("Kafka producer initialized",
		"brokers", opts.Brokers,
		"topic", opts.IncidentTopic)
	return writer
}
