// Package stream fans committed audit entries out to a Kafka topic for
// downstream compliance consumers. Streaming is best-effort: the database
// audit_log stays the record of truth.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"govconsent/internal/audit"
)

const defaultProduceTimeout = 2 * time.Second

// ErrCircuitOpen is returned while the breaker is skipping produce attempts.
var ErrCircuitOpen = errors.New("audit stream circuit open")

// KafkaSink produces one record per audit entry, keyed by target identity so
// all entries about one owner land on the same partition in order.
type KafkaSink struct {
	client  *kgo.Client
	topic   string
	breaker *CircuitBreaker
	logger  *slog.Logger
	timeout time.Duration
}

type Option func(*KafkaSink)

func WithLogger(logger *slog.Logger) Option {
	return func(s *KafkaSink) {
		s.logger = logger
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(s *KafkaSink) {
		s.breaker = cb
	}
}

func WithProduceTimeout(d time.Duration) Option {
	return func(s *KafkaSink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewKafkaSink(brokers []string, topic string, opts ...Option) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka sink requires a topic")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	s := &KafkaSink{
		client:  client,
		topic:   topic,
		breaker: NewCircuitBreaker(5, 30*time.Second),
		timeout: defaultProduceTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureTopic creates the topic when missing. An existing topic is not an error.
func (s *KafkaSink) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Publish produces entry synchronously within the sink's produce timeout.
func (s *KafkaSink) Publish(ctx context.Context, entry audit.Entry) error {
	if !s.breaker.Allow() {
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(entry.TargetID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "category", Value: []byte(entry.Action.Category())},
		},
		Timestamp: entry.Timestamp,
	}

	produceCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		if s.breaker.RecordFailure() && s.logger != nil {
			s.logger.WarnContext(ctx, "audit stream circuit opened", "topic", s.topic, "error", err)
		}
		return fmt.Errorf("produce audit entry: %w", err)
	}
	s.breaker.RecordSuccess()
	return nil
}

// Close flushes buffered records and closes the client.
func (s *KafkaSink) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.client.Flush(ctx)
	s.client.Close()
}
