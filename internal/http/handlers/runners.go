package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dailystory/internal/middleware"
	"dailystory/internal/schedule"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) ListRunners(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Runners.Statuses()})
}

// RunRunner starts a run in the background and answers 202 right away;
// runs take minutes.
func (a *App) RunRunner(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := a.Runners.TriggerAsync(name)
	switch {
	case errors.Is(err, schedule.ErrUnknownEntry):
		a.error(w, http.StatusNotFound, "unknown runner")
		return
	case err != nil:
		a.error(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	a.Logger.Info().
		Str("runner", name).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("http: manual run triggered")
	a.json(w, http.StatusAccepted, map[string]string{"status": "started", "runner": name})
}

func (a *App) RecentRecords(w http.ResponseWriter, r *http.Request) {
	if a.Records == nil {
		a.error(w, http.StatusNotFound, "records are not available")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			a.error(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	rows, err := a.Records.Recent(r.Context(), limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("http: list records failed")
		a.error(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, map[string]any{
			"id":               row.ID,
			"record_id":        row.RecordID,
			"runner":           row.Runner,
			"date":             row.Date,
			"generated_prompt": row.GeneratedPrompt,
			"image_path":       row.ImagePath,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
