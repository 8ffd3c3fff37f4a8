package httpx

import (
	"log/slog"
	"net/http"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Projects  *service.ProjectService
	Schedules *service.ScheduleService
	Assets    *service.AssetService
	Runs      *service.TestRunService
	Reports   core.ReportGenerator
	Logger    *slog.Logger
}

// NewRouter creates and configures the API router with logging and panic
// recovery applied to every route.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	registerProjectRoutes(mux, &ProjectHandlers{Svc: services.Projects})
	registerScheduleRoutes(mux, &ScheduleHandlers{Svc: services.Schedules})
	registerAssetRoutes(mux, &AssetHandlers{Svc: services.Assets})
	registerRunRoutes(mux, &RunHandlers{Svc: services.Runs, Reports: services.Reports})
	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
