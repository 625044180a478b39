// Package ingest is the Ingestion Coordinator (spec §4.4): the SDK-facing
// HTTP handler that authenticates a request against the Project Registry,
// decodes its envelope or legacy body, and dispatches each event to the
// owning Project Shard.
package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Ap3pp3rs94/issuewatch/internal/deadletter"
	"github.com/Ap3pp3rs94/issuewatch/internal/envelope"
	"github.com/Ap3pp3rs94/issuewatch/internal/metrics"
	"github.com/Ap3pp3rs94/issuewatch/internal/registry"
	"github.com/Ap3pp3rs94/issuewatch/internal/shard"
	"github.com/Ap3pp3rs94/issuewatch/internal/stream"
	apierrors "github.com/Ap3pp3rs94/issuewatch/pkg/errors"
	"github.com/Ap3pp3rs94/issuewatch/pkg/telemetry"
)

// Shards is the subset of *shard.Pool the coordinator needs.
type Shards interface {
	Get(projectID string) (*shard.Store, error)
}

// Coordinator handles POST /api/{project_id}/envelope and /store.
type Coordinator struct {
	Registry     registry.Registry
	Shards       Shards
	Log          *telemetry.Logger
	Metrics      *metrics.Registry
	DeadLetter   *deadletter.Ledger
	Stream       *stream.Hub
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 5 << 20 // 5 MiB

// ServeEnvelope handles the canonical envelope ingestion path.
func (c *Coordinator) ServeEnvelope(w http.ResponseWriter, r *http.Request) {
	c.serve(w, r, true)
}

// ServeStore handles the legacy single-JSON-event ingestion path.
func (c *Coordinator) ServeStore(w http.ResponseWriter, r *http.Request) {
	c.serve(w, r, false)
}

func (c *Coordinator) serve(w http.ResponseWriter, r *http.Request, preferEnvelope bool) {
	if r.Method != http.MethodPost {
		apierrors.Write(w, apierrors.MethodNotAllowed, "method not allowed")
		return
	}

	urlProjectID := mux.Vars(r)["project_id"]

	publicKey := resolveAuth(r)
	if publicKey == "" {
		apierrors.Write(w, apierrors.MissingAuth, "missing sentry auth")
		return
	}

	proj, err := c.Registry.GetProjectByKey(r.Context(), publicKey)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			apierrors.Write(w, apierrors.InvalidAuth, "unknown public key")
			return
		}
		c.logError(r, "registry lookup failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}
	if urlProjectID != "" && urlProjectID != proj.ID {
		apierrors.Write(w, apierrors.ProjectMismatch, "project id does not match auth")
		return
	}

	maxBytes := c.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		apierrors.Write(w, apierrors.BodyTooLarge, "request body too large")
		return
	}

	body, err = envelope.Decompress(body, r.Header.Get("Content-Encoding"))
	if err != nil {
		apierrors.Write(w, apierrors.DecompressionFailed, "could not decompress body")
		return
	}

	events, parseErr := decodeEvents(body, preferEnvelope)
	if parseErr != nil {
		apierrors.Write(w, apierrors.ParseFailed, "could not parse request body")
		return
	}

	store, err := c.Shards.Get(proj.ID)
	if err != nil {
		c.logError(r, "shard open failed", err)
		apierrors.Write(w, apierrors.InternalError, "internal error")
		return
	}

	var firstID string
	for _, ev := range events {
		if r.Context().Err() != nil {
			break
		}
		start := time.Now()
		result, err := store.Ingest(r.Context(), ev.Fields, ev.Raw)
		if err != nil {
			c.Metrics.ObserveIngest("store_error", time.Since(start))
			c.logError(r, "ingest failed", err)
			c.recordFailure(proj.ID, ev, err)
			continue
		}
		c.Metrics.ObserveIngest("ok", time.Since(start))
		if firstID == "" {
			firstID = result.EventID
		}
		c.publish(r, store, proj.ID, result.EventID)
	}
	if firstID == "" && len(events) > 0 {
		// All ingests failed: report the first event's own id per spec §4.4.
		if eid, _ := events[0].Fields["event_id"].(string); eid != "" {
			firstID = eid
		}
	}

	writeIDResponse(w, firstID)
}

// publish best-effort forwards the just-ingested event to live stream
// subscribers. It never reports an error to the caller: the stream is
// additive observability, not part of the ingest contract.
func (c *Coordinator) publish(r *http.Request, store *shard.Store, projectID, eventID string) {
	if c.Stream == nil || c.Stream.SubscriberCount(projectID) == 0 {
		return
	}
	ev, err := store.GetEvent(r.Context(), eventID)
	if err != nil {
		return
	}
	c.Stream.Publish(projectID, ev)
}

func (c *Coordinator) recordFailure(projectID string, ev envelope.RawEvent, err error) {
	if c.DeadLetter == nil {
		return
	}
	eventID, _ := ev.Fields["event_id"].(string)
	c.DeadLetter.Record(deadletter.Record{
		ProjectID: projectID,
		EventID:   eventID,
		Reason:    err.Error(),
		Stage:     "write",
	})
}

func (c *Coordinator) logError(r *http.Request, msg string, err error) {
	if c.Log == nil {
		return
	}
	c.Log.Error(r.Context(), msg, map[string]any{"error": err})
}

func decodeEvents(body []byte, preferEnvelope bool) ([]envelope.RawEvent, error) {
	looksLegacy := envelope.LooksLikeLegacyEvent(body)
	if preferEnvelope && !looksLegacy {
		env, err := envelope.Parse(body)
		if err != nil {
			return nil, err
		}
		return envelope.ExtractEvents(env), nil
	}
	ev, err := envelope.ParseLegacyEvent(body)
	if err != nil {
		return nil, err
	}
	return []envelope.RawEvent{ev}, nil
}

// resolveAuth implements the auth resolution order from spec §4.4: query
// param, then X-Sentry-Auth header, then HTTP Basic auth.
func resolveAuth(r *http.Request) string {
	if key := strings.TrimSpace(r.URL.Query().Get("sentry_key")); key != "" {
		return key
	}
	if key := envelope.ParseAuthHeader(r.Header.Get("X-Sentry-Auth")); key != "" {
		return key
	}
	if key := envelope.ParseBasicAuth(r.Header.Get("Authorization")); key != "" {
		return key
	}
	return ""
}

func writeIDResponse(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if id == "" {
		_, _ = w.Write([]byte(`{"id":null}`))
		return
	}
	b, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		_, _ = w.Write([]byte(`{"id":null}`))
		return
	}
	_, _ = w.Write(b)
}
