package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/kozaktomas/face-attendance/internal/faceid"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/store"
)

const defaultCandidateCount = 5

// SnapshotStore provides the template snapshot for exact re-ranking.
type SnapshotStore interface {
	Snapshot(ctx context.Context) ([]store.Template, error)
}

// CandidatesHandler serves the diagnostic nearest-candidates endpoint. The
// graph index narrows the field, the exact scorer produces the ranking
// shown to the operator; the authoritative recognition path is untouched.
type CandidatesHandler struct {
	index *store.CandidateIndex
	store SnapshotStore
	model FaceModel
	log   *logger.Logger
}

// NewCandidatesHandler creates a candidates handler.
func NewCandidatesHandler(index *store.CandidateIndex, snapshots SnapshotStore, model FaceModel, log *logger.Logger) *CandidatesHandler {
	return &CandidatesHandler{index: index, store: snapshots, model: model, log: log}
}

// candidateResponse is one ranked candidate.
type candidateResponse struct {
	EmployeeID string  `json:"employee_id"`
	Slot       int     `json:"slot"`
	Similarity float64 `json:"similarity"`
	MatchCount int     `json:"match_count"`
}

// Find handles POST /candidates. Accepts a photo and an optional k query
// parameter.
func (h *CandidatesHandler) Find(w http.ResponseWriter, r *http.Request) {
	k := defaultCandidateCount
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 50 {
			respondError(w, http.StatusBadRequest, "k must be between 1 and 50")
			return
		}
		k = parsed
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
		h.log.Warn("candidate extraction failed", "error", err)
		respondError(w, http.StatusBadGateway, "face model unavailable")
		return
	}

	snapshot, err := h.store.Snapshot(r.Context())
	if err != nil {
		h.log.Error("failed to load template snapshot", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load templates")
		return
	}

	// Narrow with the graph, re-rank the survivors exactly. Oversampling
	// compensates for approximation at the boundary.
	approx := h.index.Search(embedding, k*4)
	matches := recognition.TopCandidates(embedding, restrictToCandidates(snapshot, approx), k)

	out := make([]candidateResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, candidateResponse{
			EmployeeID: m.EmployeeID,
			Slot:       m.Slot,
			Similarity: m.Similarity,
			MatchCount: m.MatchCount,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"candidates": out,
		"count":      len(out),
	})
}

// RebuildIndex handles POST /candidates/rebuild-index.
func (h *CandidatesHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.store.Snapshot(r.Context())
	if err != nil {
		h.log.Error("failed to load template snapshot", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load templates")
		return
	}

	h.index.Rebuild(snapshot)
	respondJSON(w, http.StatusOK, map[string]any{
		"indexed": h.index.Count(),
	})
}

// restrictToCandidates filters a snapshot to the templates the graph
// returned. An empty candidate set falls back to the whole snapshot so a
// stale or empty index degrades to exact search instead of empty results.
func restrictToCandidates(snapshot []store.Template, candidates []store.Candidate) []store.Template {
	if len(candidates) == 0 {
		return snapshot
	}
	keep := make(map[string]map[int]bool, len(candidates))
	for _, c := range candidates {
		if keep[c.EmployeeID] == nil {
			keep[c.EmployeeID] = make(map[int]bool)
		}
		keep[c.EmployeeID][c.Slot] = true
	}

	var out []store.Template
	for i := range snapshot {
		t := &snapshot[i]
		if keep[t.EmployeeID][t.Slot] {
			out = append(out, *t)
		}
	}
	return out
}
