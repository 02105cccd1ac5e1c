package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"dailystory/internal/http/handlers"
	"dailystory/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/runners", func(r chi.Router) {
		r.Get("/", app.ListRunners)
		r.With(middleware.RateLimit(30*time.Second, 2)).Post("/{name}/run", app.RunRunner)
	})
	r.Get("/v1/records", app.RecentRecords)

	return r
}
