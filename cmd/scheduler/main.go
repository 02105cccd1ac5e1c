package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dailystory/internal/app"
	"dailystory/internal/http/handlers"
	httpapi "dailystory/internal/http/httpapi"
	"dailystory/internal/infra"
	"dailystory/internal/schedule"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("tz", cfg.Timezone).Msg("scheduler: invalid timezone")
	}

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: failed to build components")
	}
	defer components.Close()

	runners, err := components.Runners(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: no runners")
	}

	sched := schedule.New(schedule.Options{
		Location:       loc,
		StopOnOverload: cfg.TextOverloadPolicy == infra.OverloadStop,
		Logger:         &logger,
	})
	for _, r := range runners {
		r := r
		err := sched.Add(schedule.Entry{
			Name: r.Name(),
			Hour: r.Definition().Hour,
			Run: func(ctx context.Context) error {
				_, err := r.Run(ctx)
				return err
			},
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: failed to add entry")
		}
	}

	var records handlers.RecordLister
	if components.SQLite != nil {
		records = components.SQLite
	}
	router := httpapi.NewRouter(handlers.NewApp(sched, records, logger))
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(gctx)
	})
	g.Go(func() error {
		if addr := server.Addr(); addr != "" {
			logger.Info().Str("addr", addr).Msg("scheduler: status api listening")
		}
		return server.Serve(gctx, cfg.HTTPIdleTimeout)
	})

	err = g.Wait()
	switch {
	case errors.Is(err, schedule.ErrOverloadShutdown):
		logger.Error().Err(err).Msg("scheduler: stopped by overload policy")
		components.Close()
		os.Exit(2)
	case err != nil:
		logger.Error().Err(err).Msg("scheduler: stopped with error")
		components.Close()
		os.Exit(1)
	}
	logger.Info().Msg("scheduler: stopped")
}
