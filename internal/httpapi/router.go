// Package httpapi assembles the service's HTTP surface: SDK-facing
// ingestion, dashboard-facing management, the live issue stream, and the
// /health endpoint, wired together with gorilla/mux and the
// request-id/logging/recovery/metrics middleware chain. /metrics is served
// by a separate listener (see cmd/issuewatch) so scraping never shares a
// port, timeout budget, or access log with dashboard/SDK traffic.
package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Ap3pp3rs94/issuewatch/internal/deadletter"
	"github.com/Ap3pp3rs94/issuewatch/internal/httpauth"
	"github.com/Ap3pp3rs94/issuewatch/internal/ingest"
	"github.com/Ap3pp3rs94/issuewatch/internal/metrics"
	"github.com/Ap3pp3rs94/issuewatch/internal/query"
	"github.com/Ap3pp3rs94/issuewatch/internal/registry"
	"github.com/Ap3pp3rs94/issuewatch/internal/shard"
	"github.com/Ap3pp3rs94/issuewatch/internal/stream"
	"github.com/Ap3pp3rs94/issuewatch/pkg/telemetry"
)

// Config bundles every collaborator the router needs to build handlers.
type Config struct {
	Service string
	Env     string

	Registry     registry.Registry
	RegistryDB   *sql.DB
	Shards       *shard.Pool
	DeadLetter   *deadletter.Ledger
	Stream       *stream.Hub
	Log          *telemetry.Logger
	Metrics      *metrics.Registry
	MaxBodyBytes int64
}

// NewRouter builds the full mux.Router for the service.
func NewRouter(cfg Config) http.Handler {
	coordinator := &ingest.Coordinator{
		Registry:     cfg.Registry,
		Shards:       cfg.Shards,
		Log:          cfg.Log,
		Metrics:      cfg.Metrics,
		DeadLetter:   cfg.DeadLetter,
		Stream:       cfg.Stream,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
	facade := &query.Facade{
		Registry:   cfg.Registry,
		Shards:     cfg.Shards,
		Log:        cfg.Log,
		DeadLetter: cfg.DeadLetter,
	}
	streamH := newStreamHandler(cfg.Registry, cfg.Stream)
	healthH := &HealthHandler{Service: cfg.Service, Env: cfg.Env, DB: cfg.RegistryDB, Shards: cfg.Shards}

	r := mux.NewRouter()

	// Ingestion (SDK-facing): no bearer-token auth, its own auth resolution.
	r.HandleFunc("/api/{project_id}/envelope", coordinator.ServeEnvelope).Methods(http.MethodPost).Name("ingest_envelope")
	r.HandleFunc("/api/{project_id}/envelope/", coordinator.ServeEnvelope).Methods(http.MethodPost).Name("ingest_envelope")
	r.HandleFunc("/api/{project_id}/store", coordinator.ServeStore).Methods(http.MethodPost).Name("ingest_store")
	r.HandleFunc("/api/{project_id}/store/", coordinator.ServeStore).Methods(http.MethodPost).Name("ingest_store")

	// Management (dashboard-facing): requires a caller identity.
	mgmt := r.PathPrefix("/api/projects/{slug}").Subrouter()
	mgmt.Use(httpauth.RequireUser)
	mgmt.HandleFunc("/issues", facade.GetIssues).Methods(http.MethodGet).Name("get_issues")
	mgmt.HandleFunc("/issues/{id}", facade.GetIssue).Methods(http.MethodGet).Name("get_issue")
	mgmt.HandleFunc("/issues/{id}", facade.UpdateIssue).Methods(http.MethodPatch, http.MethodPut).Name("update_issue")
	mgmt.HandleFunc("/issues/{id}", facade.DeleteIssue).Methods(http.MethodDelete).Name("delete_issue")
	mgmt.HandleFunc("/issues/{id}/events", facade.GetIssueEvents).Methods(http.MethodGet).Name("get_issue_events")
	mgmt.HandleFunc("/events/latest", facade.GetLatestEvents).Methods(http.MethodGet).Name("get_latest_events")
	mgmt.HandleFunc("/events/{event_id}", facade.GetEvent).Methods(http.MethodGet).Name("get_event")
	mgmt.HandleFunc("/stats", facade.GetStats).Methods(http.MethodGet).Name("get_stats")
	mgmt.HandleFunc("/deadletter", facade.GetDeadLetters).Methods(http.MethodGet).Name("get_deadletter")
	mgmt.Handle("/stream", streamH).Methods(http.MethodGet).Name("stream")

	r.Handle("/health", healthH).Methods(http.MethodGet).Name("health")

	return withMiddleware(cfg, r)
}

func withMiddleware(cfg Config, r *mux.Router) http.Handler {
	var h http.Handler = r
	if cfg.Metrics != nil {
		h = metricsMiddleware(cfg.Metrics, r, h)
	}
	h = recoverer(cfg.Log, h)
	h = withLogging(cfg.Log, h)
	h = withRequestID(h)
	return h
}

// metricsMiddleware labels each request with its matched route name (a
// low-cardinality label) rather than the raw path, keeping the metric's
// label set bounded regardless of path-variable cardinality.
func metricsMiddleware(m *metrics.Registry, r *mux.Router, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		route := "unmatched"
		var match mux.RouteMatch
		if r.Match(req, &match) && match.Route != nil {
			if name := match.Route.GetName(); name != "" {
				route = name
			}
		}
		m.Middleware(route, next).ServeHTTP(w, req)
	})
}
