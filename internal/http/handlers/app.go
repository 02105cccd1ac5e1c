package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"dailystory/internal/infra"
	"dailystory/internal/schedule"
	"dailystory/internal/store"
)

// RunnerControl is the slice of the scheduler the status API needs.
type RunnerControl interface {
	Statuses() []schedule.Status
	TriggerAsync(name string) error
}

// RecordLister lists persisted artifacts, newest first.
type RecordLister interface {
	Recent(ctx context.Context, limit int) ([]store.StoredImage, error)
}

type App struct {
	Runners RunnerControl
	// Records is optional; the records route answers 404 without it.
	Records RecordLister
	Logger  infra.Logger
}

func NewApp(runners RunnerControl, records RecordLister, logger infra.Logger) *App {
	return &App{Runners: runners, Records: records, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}
