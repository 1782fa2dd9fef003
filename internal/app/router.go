package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/platform/httpx"
	"github.com/stockbook/stockbook/internal/reception"
	"github.com/stockbook/stockbook/internal/reservation"
	"github.com/stockbook/stockbook/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	LedgerHandler      *ledger.Handler
	ReceptionHandler   *reception.Handler
	ReservationHandler *reservation.Handler
	JobsClient         *jobs.Client
	Pool               *pgxpool.Pool
}

// NewRouter constructs the chi.Router with stockbook defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("healthz db ping", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.ReceptionHandler != nil {
			params.ReceptionHandler.MountRoutes(r)
		}
		if params.ReservationHandler != nil {
			params.ReservationHandler.MountRoutes(r)
		}
		if params.JobsClient != nil {
			r.Post("/admin/maxcost/reconcile", func(w http.ResponseWriter, req *http.Request) {
				info, err := params.JobsClient.EnqueueMaxCostReconcile(req.Context())
				if err != nil {
					params.Logger.Error("enqueue maxcost reconcile", slog.Any("error", err))
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
					return
				}
				httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID})
			})
		}
	})

	return r
}
