package router

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/vidfetch/vidfetch/api/v1"
	"github.com/vidfetch/vidfetch/internal/auth"
	"github.com/vidfetch/vidfetch/internal/service"
)

// Limits carries the per-route request budgets.
type Limits struct {
	DownloadPerMinute int
	FormatsPerMinute  int
}

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, downloadSvc service.Download, hub *v1.EventHub, apiKey string, limits Limits) *mux.Router {

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		backends := downloadSvc.BackendHealth(r.Context())
		healthy := false
		for _, ok := range backends {
			if ok {
				healthy = true
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(map[string]any{
			"status":   statusWord(healthy),
			"backends": backends,
		}); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	downloadHandler := v1.NewDownloadHandler(logger, downloadSvc)

	r.Use(v1.RequestID)
	r.Use(downloadHandler.Log)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(mux.MiddlewareFunc(auth.Middleware(apiKey)))

	if hub != nil {
		api.Handle("/events", v1.NewEventsHandler(logger, hub)).Methods("GET")
	}

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/formats", downloadHandler.Formats)
	get.Use(mux.MiddlewareFunc(v1.RateLimit(limits.FormatsPerMinute)))

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/download", downloadHandler.Download)
	post.Use(mux.MiddlewareFunc(v1.RateLimit(limits.DownloadPerMinute)))
	post.Use(v1.MiddlewareDownloadValidation)

	return r
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
