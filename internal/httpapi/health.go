package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Ap3pp3rs94/issuewatch/internal/shard"
	"github.com/Ap3pp3rs94/issuewatch/pkg/telemetry"
)

// HealthHandler serves GET /health: a snapshot of the registry connection
// and the shard pool, in the shape pkg/telemetry.HealthSnapshot defines.
type HealthHandler struct {
	Service string
	Env     string
	DB      *sql.DB
	Shards  *shard.Pool
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	comps := []telemetry.ComponentStatus{h.registryComponent(r, now)}
	if h.Shards != nil {
		comps = append(comps, telemetry.ComponentStatus{
			Name:      "shard_pool",
			Status:    telemetry.StatusOK,
			CheckedAt: now,
			Details:   map[string]string{"open_handles": itoa(h.Shards.Len())},
		})
	}

	snapshot, err := telemetry.NewHealthSnapshot(h.Service, h.Env, comps, now)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal_error","message":"could not build health snapshot"}`))
		return
	}

	status := http.StatusOK
	if snapshot.Overall == telemetry.StatusDegraded {
		status = http.StatusOK
	} else if snapshot.Overall == telemetry.StatusFatal {
		status = http.StatusServiceUnavailable
	}

	b, err := json.Marshal(snapshot)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func (h *HealthHandler) registryComponent(r *http.Request, now time.Time) telemetry.ComponentStatus {
	c := telemetry.ComponentStatus{Name: "registry", CheckedAt: now}
	if h.DB == nil {
		c.Status = telemetry.StatusUnknown
		return c
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.PingContext(ctx); err != nil {
		c.Status = telemetry.StatusFatal
		c.Message = "registry unreachable"
		return c
	}
	c.Status = telemetry.StatusOK
	return c
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
