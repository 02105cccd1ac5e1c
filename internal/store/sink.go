// Package store persists one record per successful pipeline run.
package store

import (
	"context"
	"errors"
	"fmt"

	"dailystory/internal/domain"
	"dailystory/internal/events"
)

// Sink appends generation records. Implementations create their schema on
// first use.
type Sink interface {
	AppendRecord(ctx context.Context, rec domain.GenerationRecord) error
}

// MultiSink writes to every sink in order and joins the failures.
type MultiSink []Sink

func (m MultiSink) AppendRecord(ctx context.Context, rec domain.GenerationRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.AppendRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type completionPublisher interface {
	PublishGenerationCompleted(ctx context.Context, ev events.GenerationCompleted) error
}

// EventSink announces persisted records on the event bus.
type EventSink struct {
	publisher completionPublisher
}

func NewEventSink(p completionPublisher) *EventSink {
	return &EventSink{publisher: p}
}

func (s *EventSink) AppendRecord(ctx context.Context, rec domain.GenerationRecord) error {
	err := s.publisher.PublishGenerationCompleted(ctx, events.GenerationCompleted{
		RecordID:         rec.ID,
		Runner:           rec.Runner,
		Date:             rec.Date(),
		GeneratedPrompt:  rec.GeneratedPrompt,
		ArtifactLocation: rec.ArtifactLocation,
		CompletedAt:      rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("store: publish completion: %w", err)
	}
	return nil
}
