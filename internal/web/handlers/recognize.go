package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/faceid"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// Recognizer is the pipeline surface the kiosk endpoint needs.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (*recognition.Verdict, error)
}

// RecognizeHandler serves the kiosk recognition endpoint.
type RecognizeHandler struct {
	pipeline Recognizer
	log      *logger.Logger
}

// NewRecognizeHandler creates a recognize handler.
func NewRecognizeHandler(pipeline Recognizer, log *logger.Logger) *RecognizeHandler {
	return &RecognizeHandler{pipeline: pipeline, log: log}
}

// recognizeResponse is the wire format of a recognition verdict.
type recognizeResponse struct {
	Status       string  `json:"status"`
	Recognized   bool    `json:"recognized"`
	EmployeeID   string  `json:"employee_id,omitempty"`
	EmployeeHint string  `json:"employee_hint,omitempty"`
	Similarity   float64 `json:"similarity"`
	Confidence   string  `json:"confidence"`
	MatchedSlot  *int    `json:"matched_slot,omitempty"`
	Learned      bool    `json:"learned"`
	EvictedSlot  *int    `json:"evicted_slot,omitempty"`
}

// Recognize handles POST /attendance/recognize. The frame arrives as a
// multipart file; the verdict always comes back with status 200 so kiosks
// can distinguish outcomes without parsing error bodies. Only system
// failures produce an error status.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	frame, ok := readImageFile(w, r)
	if !ok {
		return
	}

	normalized, err := faceid.NormalizeFrame(frame)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable image")
		return
	}

	verdict, err := h.pipeline.Recognize(r.Context(), normalized)
	if err != nil {
		if errors.Is(err, recognition.ErrExtractionFailed) {
			h.log.Warn("embedding extraction failed", "error", err)
			respondError(w, http.StatusBadGateway, "face model unavailable")
			return
		}
		h.log.Error("recognition failed", "error", err)
		respondError(w, http.StatusInternalServerError, "recognition failed")
		return
	}

	respondJSON(w, http.StatusOK, verdictResponse(verdict))
}

func verdictResponse(v *recognition.Verdict) recognizeResponse {
	return recognizeResponse{
		Status:       string(v.Status),
		Recognized:   v.Recognized,
		EmployeeID:   v.EmployeeID,
		EmployeeHint: v.EmployeeHint,
		Similarity:   v.Similarity,
		Confidence:   string(v.Tier),
		MatchedSlot:  v.MatchedSlot,
		Learned:      v.Learned,
		EvictedSlot:  v.EvictedSlot,
	}
}
