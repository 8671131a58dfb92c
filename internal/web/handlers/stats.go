package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/store"
)

// PopulationStats is the store surface the stats endpoint needs.
type PopulationStats interface {
	Stats() store.Stats
}

// StatsHandler serves population statistics.
type StatsHandler struct {
	store PopulationStats
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(store PopulationStats) *StatsHandler {
	return &StatsHandler{store: store}
}

// Get handles GET /stats.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Stats())
}

// ConfigHandler exposes the active recognition tunables, read-only.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler creates a config handler.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// Get handles GET /config.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"recognition": map[string]float64{
			"recognition_threshold":          h.cfg.Recognition.RecognitionThreshold,
			"high_confidence_threshold":      h.cfg.Recognition.HighConfidenceThreshold,
			"very_high_confidence_threshold": h.cfg.Recognition.VeryHighConfidenceThreshold,
			"min_quality_for_learning":       h.cfg.Recognition.MinQualityForLearning,
			"min_confidence_for_learning":    h.cfg.Recognition.MinConfidenceForLearning,
		},
		"scorer": map[string]any{
			"quality_weight":    h.cfg.Scorer.QualityWeight,
			"usage_weight":      h.cfg.Scorer.UsageWeight,
			"confidence_weight": h.cfg.Scorer.ConfidenceWeight,
			"recency_weight":    h.cfg.Scorer.RecencyWeight,
			"match_count_cap":   h.cfg.Scorer.MatchCountCap,
			"age_cap_days":      h.cfg.Scorer.AgeCapDays,
		},
		"embedding_dim": h.cfg.FaceID.EmbeddingDim,
	})
}
