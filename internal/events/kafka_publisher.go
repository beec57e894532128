package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wookieewrath/OnMyWay/internal/models"
)

type Kind string

const (
	KindRequestCreated Kind = "request.created"
	KindProfileUpdated Kind = "user.profile_updated"
	KindUserDeleted    Kind = "user.deleted"
)

// Event describes a change committed to the backend. Subject is the
// document id the event is about.
type Event struct {
	Kind    Kind            `json:"kind"`
	Subject string          `json:"subject"`
	At      time.Time       `json:"at"`
	Request *models.Request `json:"request,omitempty"`
}

// Publisher hands events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

// Publish keys messages by subject so events for one document stay ordered.
func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Subject), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Decode parses a message value written by KafkaPublisher.
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, err
	}
	if e.Kind == "" {
		return Event{}, fmt.Errorf("event without kind")
	}
	return e, nil
}
