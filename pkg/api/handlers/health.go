package handlers

import (
	"net/http"
	"time"

	"github.com/pictorhq/pictor/pkg/gradient"
	"github.com/pictorhq/pictor/pkg/store/meta"
	"github.com/pictorhq/pictor/pkg/store/object"
)

// Response is the standard health response wrapper.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	meta    meta.Store
	objects object.Store
	worker  *gradient.Worker
}

// NewHealthHandler creates the health handler. Any dependency may be nil;
// nil stores are skipped in readiness checks.
func NewHealthHandler(metaStore meta.Store, objects object.Store, worker *gradient.Worker) *HealthHandler {
	return &HealthHandler{meta: metaStore, objects: objects, worker: worker}
}

// Liveness handles GET /health. Always healthy while the process runs.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// Readiness handles GET /health/ready: both backing stores must answer.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if h.meta != nil {
		if err := h.meta.Ping(r.Context()); err != nil {
			checks["meta"] = err.Error()
			healthy = false
		} else {
			checks["meta"] = "ok"
		}
	}
	if h.objects != nil {
		if err := h.objects.Ping(r.Context()); err != nil {
			checks["objects"] = err.Error()
			healthy = false
		} else {
			checks["objects"] = "ok"
		}
	}

	resp := Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      checks,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// GradientStats handles GET /health/gradient: worker throughput snapshot.
func (h *HealthHandler) GradientStats(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		writeJSON(w, http.StatusOK, Response{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Data:      gradient.Stats{},
		})
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      h.worker.Stats(),
	})
}
