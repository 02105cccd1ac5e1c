// Package app wires configuration into the collaborators shared by the
// scheduler daemon and the command line tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dailystory/internal/events"
	"dailystory/internal/imaging"
	"dailystory/internal/infra"
	"dailystory/internal/infra/credentials"
	"dailystory/internal/pipeline"
	"dailystory/internal/publish/telegram"
	"dailystory/internal/storage"
	"dailystory/internal/store"
)

// Components holds everything built from config. Close releases them.
type Components struct {
	Config    *infra.Config
	Logger    infra.Logger
	Factory   pipeline.Factory
	Shared    pipeline.Shared
	SQLite    *store.SQLiteSink
	Postgres  *store.PostgresSink
	KeyStore  *credentials.Store
	Publisher *telegram.Client

	closers []func() error
}

// Build constructs the components. A Postgres pool is opened only when
// DATABASE_URL is set.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	storagePath := cfg.StoragePath
	if abs, err := filepath.Abs(storagePath); err == nil {
		storagePath = abs
	}
	files, err := storage.NewFileStore(storagePath, nil)
	if err != nil {
		return nil, err
	}
	watermarker, err := imaging.NewWatermarker(cfg.FontPath)
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() error { pool.Close(); return nil })
		runner := infra.NewSQLRunner(pool, logger)
		c.KeyStore = credentials.NewStore(runner)
		c.Postgres = store.NewPostgresSink(runner)
	}

	sink, err := c.buildSinks(ctx)
	if err != nil {
		return nil, err
	}

	tgClient, err := infra.NewHTTPClient(2*time.Minute, cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	publisher, err := telegram.NewClient(telegram.Options{
		Token:      cfg.TelegramToken,
		BaseURL:    cfg.TelegramBaseURL,
		HTTPClient: tgClient,
		Logger:     &c.Logger,
	})
	if err != nil {
		return nil, err
	}
	c.Publisher = publisher

	c.Shared = pipeline.Shared{
		Files:     files,
		Post:      pipeline.ImagePostProcessor{Watermarker: watermarker},
		Sink:      sink,
		Publisher: publisher,
	}
	c.Factory = pipeline.Factory{
		Config: cfg,
		Keys:   c.KeyStore,
		Logger: &c.Logger,
	}
	ok = true
	return c, nil
}

func (c *Components) buildSinks(ctx context.Context) (store.Sink, error) {
	cfg := c.Config
	var sinks store.MultiSink
	for _, name := range cfg.RecordSinks {
		switch name {
		case "sqlite":
			s, err := store.OpenSQLite(cfg.SQLitePath, cfg.SQLiteBlob)
			if err != nil {
				return nil, err
			}
			c.SQLite = s
			c.closers = append(c.closers, s.Close)
			sinks = append(sinks, s)
		case "postgres":
			if c.Postgres == nil {
				return nil, fmt.Errorf("DATABASE_URL is required for the postgres record sink")
			}
			sinks = append(sinks, c.Postgres)
		case "dynamo":
			s, err := store.NewDynamoSink(ctx, cfg.AWSRegion, cfg.DynamoTable, cfg.DynamoEndpoint)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)
		default:
			return nil, fmt.Errorf("unsupported record sink %q", name)
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, producer.Close)
		sinks = append(sinks, store.NewEventSink(producer))
	}
	if len(sinks) == 0 {
		return nil, errors.New("at least one record sink is required")
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// Runners builds the enabled default runners.
func (c *Components) Runners(ctx context.Context) ([]*pipeline.Runner, error) {
	return c.Factory.Runners(ctx, pipeline.DefaultDefinitions(), c.Shared)
}

// Runner builds one named runner regardless of ENABLED_RUNNERS.
func (c *Components) Runner(ctx context.Context, name string) (*pipeline.Runner, error) {
	def, ok := pipeline.Lookup(pipeline.DefaultDefinitions(), name)
	if !ok {
		return nil, fmt.Errorf("unknown runner %q", name)
	}
	return c.Factory.Runner(ctx, def, c.Shared)
}

// Close releases resources in reverse order of creation.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
