// Package events publishes pipeline lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

// TypeGenerationCompleted marks a run that produced and persisted an artifact.
const TypeGenerationCompleted = "generation.completed"

// GenerationCompleted is the payload of TypeGenerationCompleted.
type GenerationCompleted struct {
	Type             string    `json:"type"`
	RecordID         string    `json:"record_id"`
	Runner           string    `json:"runner"`
	Date             string    `json:"date"`
	GeneratedPrompt  string    `json:"generated_prompt"`
	ArtifactLocation string    `json:"artifact_location"`
	CompletedAt      time.Time `json:"completed_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Producer writes JSON messages keyed by record id so events for one record
// stay ordered within a partition.
type Producer struct {
	writer  messageWriter
	timeout time.Duration
}

// NewProducer connects a writer to brokers for topic.
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if topic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}
	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	}
	return &Producer{writer: w, timeout: 3 * time.Second}, nil
}

func (p *Producer) Close() error { return p.writer.Close() }

// PublishGenerationCompleted emits one completion event.
func (p *Producer) PublishGenerationCompleted(ctx context.Context, ev GenerationCompleted) error {
	ev.Type = TypeGenerationCompleted
	return p.publishJSON(ctx, ev.RecordID, ev)
}

func (p *Producer) publishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	})
}
