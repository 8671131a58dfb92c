package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/faceid"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/store"
)

// TemplateManager is the store surface the template endpoints need.
type TemplateManager interface {
	UpsertPrimary(ctx context.Context, employeeID string, embedding []float32, quality, confidence float64, source store.Source) (*store.Template, error)
	TemplatesFor(employeeID string) []store.Template
	RemoveTemplate(ctx context.Context, employeeID string, slot int) error
}

// FaceModel is the model server surface used during enrollment.
type FaceModel interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
	Quality(ctx context.Context, image []byte) (float64, error)
	Ping(ctx context.Context) error
}

// TemplatesHandler serves template administration endpoints.
type TemplatesHandler struct {
	store TemplateManager
	model FaceModel
	log   *logger.Logger
}

// NewTemplatesHandler creates a templates handler.
func NewTemplatesHandler(store TemplateManager, model FaceModel, log *logger.Logger) *TemplatesHandler {
	return &TemplatesHandler{store: store, model: model, log: log}
}

// templateResponse is the wire format of a stored template. The embedding
// itself never leaves the service.
type templateResponse struct {
	EmployeeID         string     `json:"employee_id"`
	Slot               int        `json:"slot"`
	IsPrimary          bool       `json:"is_primary"`
	QualityScore       float64    `json:"quality_score"`
	ConfidenceScore    float64    `json:"confidence_score"`
	MatchCount         int        `json:"match_count"`
	AvgMatchConfidence float64    `json:"avg_match_confidence"`
	CreatedFrom        string     `json:"created_from"`
	CreatedAt          time.Time  `json:"created_at"`
	LastMatched        *time.Time `json:"last_matched,omitempty"`
}

func templateResponses(templates []store.Template) []templateResponse {
	out := make([]templateResponse, 0, len(templates))
	for i := range templates {
		t := &templates[i]
		out = append(out, templateResponse{
			EmployeeID:         t.EmployeeID,
			Slot:               t.Slot,
			IsPrimary:          t.IsPrimary(),
			QualityScore:       t.QualityScore,
			ConfidenceScore:    t.ConfidenceScore,
			MatchCount:         t.MatchCount,
			AvgMatchConfidence: t.AvgMatchConfidence,
			CreatedFrom:        string(t.CreatedFrom),
			CreatedAt:          t.CreatedAt,
			LastMatched:        t.LastMatched,
		})
	}
	return out
}

// EnrollPrimary handles POST /employees/{id}/templates/primary. The
// uploaded photo becomes the permanent slot 0 template, overwriting any
// previous one.
func (h *TemplatesHandler) EnrollPrimary(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	if employeeID == "" {
		respondError(w, http.StatusBadRequest, "missing employee id")
		return
	}

	photo, ok := readImageFile(w, r)
	if !ok {
		return
	}

	normalized, err := faceid.NormalizeFrame(photo)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable image")
		return
	}

	embedding, err := h.model.Extract(r.Context(), normalized)
	if err != nil {
		if errors.Is(err, faceid.ErrNoFace) {
			respondError(w, http.StatusUnprocessableEntity, "no face detected in photo")
			return
		}
		h.log.Warn("enrollment extraction failed",
			"employee_id", sanitizeForLog(employeeID), "error", err)
		respondError(w, http.StatusBadGateway, "face model unavailable")
		return
	}

	quality, err := h.model.Quality(r.Context(), normalized)
	if err != nil {
		h.log.Warn("enrollment quality estimation failed, storing with zero quality",
			"employee_id", sanitizeForLog(employeeID), "error", err)
		quality = 0
	}

	tpl, err := h.store.UpsertPrimary(r.Context(), employeeID, embedding, quality, 1.0, store.SourceAdminUpload)
	if err != nil {
		if errors.Is(err, store.ErrInvalidEmbedding) {
			respondError(w, http.StatusUnprocessableEntity, "invalid embedding")
			return
		}
		h.log.Error("failed to store primary template",
			"employee_id", sanitizeForLog(employeeID), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store template")
		return
	}

	respondJSON(w, http.StatusCreated, templateResponses([]store.Template{*tpl})[0])
}

// List handles GET /employees/{id}/templates.
func (h *TemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	if employeeID == "" {
		respondError(w, http.StatusBadRequest, "missing employee id")
		return
	}

	templates := h.store.TemplatesFor(employeeID)
	respondJSON(w, http.StatusOK, map[string]any{
		"employee_id": employeeID,
		"templates":   templateResponses(templates),
	})
}

// DeleteSlot handles DELETE /employees/{id}/templates/{slot}. This is the
// administrative override; it can remove the primary template too.
func (h *TemplatesHandler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "id")
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid slot")
		return
	}

	if err := h.store.RemoveTemplate(r.Context(), employeeID, slot); err != nil {
		if errors.Is(err, store.ErrTemplateNotFound) {
			respondError(w, http.StatusNotFound, "template not found")
			return
		}
		h.log.Error("failed to delete template",
			"employee_id", sanitizeForLog(employeeID), "slot", slot, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"employee_id": employeeID,
		"slot":        slot,
		"deleted":     true,
	})
}
