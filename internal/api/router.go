package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/merchant-insights/internal/api/handlers"
	"github.com/dvloznov/merchant-insights/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers served by the router. Documents may
// be nil when uploads are disabled.
type Handlers struct {
	Enrich    *handlers.EnrichHandler
	Documents *handlers.DocumentsHandler
	Jobs      *handlers.JobsHandler
}

// NewRouter registers every endpoint and wraps the mux in the standard
// middleware chain.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/enrich", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			h.Enrich.Enrich(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/documents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if h.Documents == nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Document uploads are not configured")
			return
		}
		h.Documents.Upload(w, r)
	})

	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.Jobs.ListJobs(w, r)
		case http.MethodPost:
			h.Jobs.Enqueue(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.Jobs.GetJob(w, r, jobID)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(
		middleware.Recovery(log)(
			middleware.Logger(log)(
				middleware.CORS(mux),
			),
		),
	)
}
