// Package notify publishes change events for committed writes so
// downstream consumers (cache invalidators, search indexers) can react
// without polling the database.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/skothari-dev/loom/internal/core"
)

// ErrNotifierClosed is returned when publishing through a closed notifier.
var ErrNotifierClosed = errors.New("notifier is closed")

// KafkaNotifier publishes change events to a Kafka topic. Events are
// keyed by table name, so all changes to one table land on the same
// partition in commit order.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
	mu     sync.RWMutex
	closed bool
}

// KafkaConfig holds the settings for the Kafka notifier.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequiredAcks int // 0, 1, or -1 (all)
}

// NewKafkaNotifier creates a Kafka-backed change notifier.
func NewKafkaNotifier(config KafkaConfig) (*KafkaNotifier, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}

	log.Printf("[NOTIFY] Initializing Kafka notifier (brokers: %v, topic: %s)", config.Brokers, config.Topic)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		MaxAttempts:  3,
		Async:        false,
	}

	return &KafkaNotifier{writer: writer, topic: config.Topic}, nil
}

// Publish sends one change event to the topic.
func (n *KafkaNotifier) Publish(ctx context.Context, event core.ChangeEvent) error {
	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return ErrNotifierClosed
	}
	n.mu.RUnlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Table),
		Value: payload,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish change event for %s: %w", event.Table, err)
	}

	log.Printf("[NOTIFY] Published %s event for %s (id %d)", event.Op, event.Table, event.ID)
	return nil
}

// Close flushes pending messages and closes the writer.
func (n *KafkaNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	return n.writer.Close()
}
