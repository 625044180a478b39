// Package query is the Query Facade (spec §4.5): the dashboard-facing HTTP
// handlers for issues, events, and stats, each scoped to a project resolved
// by slug in the context of the authenticated caller.
package query

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Ap3pp3rs94/issuewatch/internal/deadletter"
	"github.com/Ap3pp3rs94/issuewatch/internal/httpauth"
	"github.com/Ap3pp3rs94/issuewatch/internal/model"
	"github.com/Ap3pp3rs94/issuewatch/internal/registry"
	"github.com/Ap3pp3rs94/issuewatch/internal/shard"
	apierrors "github.com/Ap3pp3rs94/issuewatch/pkg/errors"
	"github.com/Ap3pp3rs94/issuewatch/pkg/telemetry"
)

// Shards is the subset of *shard.Pool the facade needs.
type Shards interface {
	Get(projectID string) (*shard.Store, error)
}

// Facade handles /api/projects/{slug}/... management requests.
type Facade struct {
	Registry   registry.Registry
	Shards     Shards
	Log        *telemetry.Logger
	DeadLetter *deadletter.Ledger
}

// resolveProject resolves {slug} against the Registry for the calling user,
// per spec §4.5: lack of access is reported identically to nonexistence.
func (f *Facade) resolveProject(w http.ResponseWriter, r *http.Request) (model.Project, *shard.Store, bool) {
	slug := mux.Vars(r)["slug"]
	userID := httpauth.UserIDFromContext(r.Context())
	if userID == "" {
		apierrors.Write(w, apierrors.MissingAuth, "missing caller identity")
		return model.Project{}, nil, false
	}

	proj, err := f.Registry.GetProjectBySlug(r.Context(), slug, userID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			apierrors.Write(w, apierrors.ProjectNotFound, "project not found")
			return model.Project{}, nil, false
		}
		f.logError(r, "registry lookup failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return model.Project{}, nil, false
	}

	store, err := f.Shards.Get(proj.ID)
	if err != nil {
		f.logError(r, "shard open failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return model.Project{}, nil, false
	}
	return proj, store, true
}

// GetIssues handles GET /api/projects/{slug}/issues.
func (f *Facade) GetIssues(w http.ResponseWriter, r *http.Request) {
	_, store, ok := f.resolveProject(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := model.IssueFilter{
		Status:      model.Status(q.Get("status")),
		Level:       model.Level(q.Get("level")),
		Query:       q.Get("query"),
		Environment: q.Get("environment"),
		Sort:        q.Get("sort"),
		Cursor:      q.Get("cursor"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}

	page, err := store.GetIssues(r.Context(), filter)
	if err != nil {
		f.logError(r, "get_issues failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetIssue handles GET /api/projects/{slug}/issues/{id}.
func (f *Facade) GetIssue(w http.ResponseWriter, r *http.Request) {
	_, store, ok := f.resolveProject(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	issue, buckets, err := store.GetIssue(r.Context(), id)
	if err != nil {
		if errors.Is(err, shard.ErrIssueNotFound) {
			apierrors.Write(w, apierrors.IssueNotFound, "issue not found")
			return
		}
		f.logError(r, "get_issue failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issue": issue, "stats": buckets})
}

type updateIssueRequest struct {
	Status *model.Status `json:"status"`
}

// UpdateIssue handles PATCH/PUT /api/projects/{slug}/issues/{id}.
func (f *Facade) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	_, store, ok := f.resolveProject(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	var req updateIssueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		apierrors.Write(w, apierrors.ParseFailed, "invalid request body")
		return
	}

	issue, err := store.UpdateIssue(r.Context(), id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, shard.ErrIssueNotFound):
			apierrors.Write(w, apierrors.IssueNotFound, "issue not found")
		case errors.Is(err, shard.ErrNoUpdates):
			apierrors.Write(w, apierrors.NoUpdates, "no updates supplied")
		case errors.Is(err, shard.ErrInvalidStatus):
			apierrors.Write(w, apierrors.MissingFields, "invalid status value")
		default:
			f.logError(r, "update_issue failed", err)
			apierrors.Write(w, apierrors.InternalError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// DeleteIssue handles DELETE /api/projects/{slug}/issues/{id}.
func (f *Facade) DeleteIssue(w http.ResponseWriter, r *http.Request) {
	_, store, ok := f.resolveProject(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := store.DeleteIssue(r.Context(), id); err != nil {
		if errors.Is(err, shard.ErrIssueNotFound) {
			apierrors.Write(w, apierrors.IssueNotFound, "issue not found")
			return
		}
		f.logError(r, "delete_issue failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetIssueEvents handles GET /api/projects/{slug}/issues/{id}/events.
func (f *Facade) GetIssueEvents(w http.ResponseWriter, r *http.Request) {
	_, store, ok := f.resolveProject(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	page, err := store.GetIssueEvents(r.Context(), id, q.Get("cursor"), limit)
	if err != nil {
		f.logError(r, "get_issue_events failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetEvent handles GET /api/projects/{slug}/events/{event_id}.
func (f *Facade) GetEvent(w http.ResponseWriter, r *http.Request) {
	_, store, ok := f.resolveProject(w, r)
	if !ok {
		return
	}
	eventID := mux.Vars(r)["event_id"]
	ev, err := store.GetEvent(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, shard.ErrEventNotFound) {
			apierrors.Write(w, apierrors.EventNotFound, "event not found")
			return
		}
		f.logError(r, "get_event failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GetLatestEvents handles GET /api/projects/{slug}/events/latest.
func (f *Facade) GetLatestEvents(w http.ResponseWriter, r *http.Request) {
	_, store, ok := f.resolveProject(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := store.GetLatestEvents(r.Context(), limit)
	if err != nil {
		f.logError(r, "get_latest_events failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GetStats handles GET /api/projects/{slug}/stats.
func (f *Facade) GetStats(w http.ResponseWriter, r *http.Request) {
	_, store, ok := f.resolveProject(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var start, end *time.Time
	if s, err := time.Parse(time.RFC3339, q.Get("start")); err == nil {
		start = &s
	}
	if e, err := time.Parse(time.RFC3339, q.Get("end")); err == nil {
		end = &e
	}
	result, err := store.GetStats(r.Context(), q.Get("interval"), start, end)
	if err != nil {
		f.logError(r, "get_stats failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetDeadLetters handles GET /api/projects/{slug}/deadletter.
func (f *Facade) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	proj, _, ok := f.resolveProject(w, r)
	if !ok {
		return
	}
	var records []deadletter.Record
	if f.DeadLetter != nil {
		records = f.DeadLetter.List(proj.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": records})
}

func (f *Facade) logError(r *http.Request, msg string, err error) {
	if f.Log == nil {
		return
	}
	f.Log.Error(r.Context(), msg, map[string]any{"error": err})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
