package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dailystory/internal/domain"
	"dailystory/internal/infra"
	"dailystory/internal/sqlinline"
)

// PostgresSink writes generation_records through the marker-tagged runner.
type PostgresSink struct {
	sql infra.SQLExecutor

	mu     sync.Mutex
	inited bool
}

func NewPostgresSink(sql infra.SQLExecutor) *PostgresSink {
	return &PostgresSink{sql: sql}
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return nil
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QEnsureGenerationRecords); err != nil {
		return fmt.Errorf("store: create generation_records: %w", err)
	}
	s.inited = true
	return nil
}

func (s *PostgresSink) AppendRecord(ctx context.Context, rec domain.GenerationRecord) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := s.sql.Exec(ctx, sqlinline.QInsertGenerationRecord,
		rec.ID, rec.Runner, rec.Date(), rec.Timestamp,
		rec.SystemInstruction, rec.UserInstruction, rec.GeneratedPrompt, rec.ArtifactLocation,
	)
	if err != nil {
		return fmt.Errorf("store: insert generation_records: %w", err)
	}
	return nil
}

// Recent lists the newest records first.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]domain.GenerationRecord, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sql.Query(ctx, sqlinline.QSelectRecentGenerationRecords, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.GenerationRecord
	for rows.Next() {
		var rec domain.GenerationRecord
		var created time.Time
		if err := rows.Scan(&rec.ID, &rec.Runner, &created, &rec.SystemInstruction, &rec.UserInstruction, &rec.GeneratedPrompt, &rec.ArtifactLocation); err != nil {
			return nil, err
		}
		rec.Timestamp = created
		out = append(out, rec)
	}
	return out, rows.Err()
}
