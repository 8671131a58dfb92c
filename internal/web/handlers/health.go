package handlers

import (
	"context"
	"net/http"
	"time"
)

// TemplateCounter reports the size of the in-memory template population.
type TemplateCounter interface {
	Count() int
}

// HealthHandler serves the load-balancer health endpoint.
type HealthHandler struct {
	model FaceModel
	store TemplateCounter
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(model FaceModel, store TemplateCounter) *HealthHandler {
	return &HealthHandler{model: model, store: store}
}

// Get reports service health, including model server reachability.
// Returns 503 when the model server is unreachable since recognition
// cannot work without it.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	modelCheck := "ok"
	if err := h.model.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		modelCheck = "unreachable"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	respondJSON(w, status, map[string]any{
		"status":    overall,
		"templates": h.store.Count(),
		"checks": map[string]string{
			"face_model": modelCheck,
		},
	})
}
