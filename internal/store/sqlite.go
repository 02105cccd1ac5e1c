package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dailystory/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS daily_images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    record_id TEXT NOT NULL,
    runner TEXT NOT NULL,
    date TEXT NOT NULL,
    created_at TEXT NOT NULL,
    system_prompt TEXT NOT NULL,
    user_prompt TEXT NOT NULL,
    generated_prompt TEXT NOT NULL,
    image_path TEXT NOT NULL,
    image_data BLOB
)`

// SQLiteSink is the embedded default store. It keeps the artifact bytes next
// to the prompts so a record survives the storage directory being pruned.
type SQLiteSink struct {
	db        *sql.DB
	storeBlob bool

	mu     sync.Mutex
	inited bool
}

// StoredImage is one daily_images row without its blob.
type StoredImage struct {
	ID              int64
	RecordID        string
	Runner          string
	Date            string
	GeneratedPrompt string
	ImagePath       string
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string, storeBlob bool) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteSink{db: db, storeBlob: storeBlob}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

func (s *SQLiteSink) ensureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("store: create daily_images: %w", err)
	}
	s.inited = true
	return nil
}

func (s *SQLiteSink) AppendRecord(ctx context.Context, rec domain.GenerationRecord) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	var blob []byte
	if s.storeBlob {
		data, err := os.ReadFile(rec.ArtifactLocation)
		if err != nil {
			return fmt.Errorf("store: read artifact: %w", err)
		}
		blob = data
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO daily_images (record_id, runner, date, created_at, system_prompt, user_prompt, generated_prompt, image_path, image_data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Runner, rec.Date(), rec.Timestamp.UTC().Format(time.RFC3339),
		rec.SystemInstruction, rec.UserInstruction, rec.GeneratedPrompt, rec.ArtifactLocation, blob,
	)
	if err != nil {
		return fmt.Errorf("store: insert daily_images: %w", err)
	}
	return nil
}

// Recent lists the newest rows first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]StoredImage, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, record_id, runner, date, generated_prompt, image_path
FROM daily_images ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query daily_images: %w", err)
	}
	defer rows.Close()
	var out []StoredImage
	for rows.Next() {
		var img StoredImage
		if err := rows.Scan(&img.ID, &img.RecordID, &img.Runner, &img.Date, &img.GeneratedPrompt, &img.ImagePath); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// ExportArtifact writes the stored bytes of row id to w.
func (s *SQLiteSink) ExportArtifact(ctx context.Context, id int64, w io.Writer) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT image_data FROM daily_images WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: image %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("store: load image %d: %w", id, err)
	}
	if len(blob) == 0 {
		return fmt.Errorf("store: image %d has no stored bytes", id)
	}
	_, err = w.Write(blob)
	return err
}
