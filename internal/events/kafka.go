package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events as JSON, keyed by correlation id.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (p *KafkaPublisher) SaveEvents(ctx context.Context, events []CycleEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("failed to encode event %s to json: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.ID),
			Value: value,
			Time:  e.At,
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(e.Kind)},
			},
		})
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		return len(events), nil
	}
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		done := 0
		for _, e := range writeErrs {
			if e != nil {
				break
			}
			done++
		}
		return done, fmt.Errorf("failed to publish %d of %d events: %w", writeErrs.Count(), len(events), err)
	}
	return 0, fmt.Errorf("failed to publish events: %w", err)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
