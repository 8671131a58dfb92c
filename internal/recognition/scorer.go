package recognition

import (
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/store"
)

// Scorer decides which secondary template a learning candidate should
// replace, and whether the replacement is justified. Pure decision logic,
// no I/O.
type Scorer struct {
	cfg config.ScorerConfig
}

// NewScorer creates a scorer with the given tunables.
func NewScorer(cfg config.ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the keep-worth of a template. Lower score means stronger
// eviction candidate. The combination weights quality, proven usage,
// average match confidence and recency; usage is capped so a single
// heavily-matched template cannot become unevictable forever.
func (s *Scorer) Score(t *store.Template, now time.Time) float64 {
	usage := float64(t.MatchCount)
	if limit := float64(s.cfg.MatchCountCap); usage > limit {
		usage = limit
	}
	usage /= float64(s.cfg.MatchCountCap)

	age := t.AgeDays(now)
	if age > s.cfg.AgeCapDays {
		age = s.cfg.AgeCapDays
	}
	if age < 0 {
		age = 0
	}
	recency := 1 - age/s.cfg.AgeCapDays

	return s.cfg.QualityWeight*t.QualityScore +
		s.cfg.UsageWeight*usage +
		s.cfg.ConfidenceWeight*t.AvgMatchConfidence +
		s.cfg.RecencyWeight*recency
}

// PickEvictionCandidate returns the secondary template with the lowest
// keep-worth score. Ties resolve to the lower slot so the choice is
// reproducible. Returns nil for an empty input.
func (s *Scorer) PickEvictionCandidate(secondaries []*store.Template, now time.Time) *store.Template {
	var worst *store.Template
	var worstScore float64
	for _, t := range secondaries {
		if t == nil || t.IsPrimary() {
			continue
		}
		score := s.Score(t, now)
		if worst == nil || score < worstScore || (score == worstScore && t.Slot < worst.Slot) {
			worst = t
			worstScore = score
		}
	}
	return worst
}

// gainEpsilon absorbs float64 rounding in the gain comparisons so a gain
// exactly at a configured threshold counts as reaching it
// (0.78-0.70 evaluates below 0.08 in raw float64).
const gainEpsilon = 1e-9

// gainAtLeast reports whether a score difference reaches a threshold,
// treating exact-boundary gains as reached.
func gainAtLeast(gain, threshold float64) bool {
	return gain >= threshold-gainEpsilon
}

// ShouldReplace applies the ordered replacement rules; the first rule that
// matches wins.
func (s *Scorer) ShouldReplace(worst *store.Template, candQuality, candConfidence float64) bool {
	cfg := &s.cfg

	// 1. Substantial quality improvement.
	if gainAtLeast(candQuality-worst.QualityScore, cfg.QualityGainReplace) {
		return true
	}
	// 2. Substantial confidence improvement over the proven average.
	if gainAtLeast(candConfidence-worst.AvgMatchConfidence, cfg.ConfidenceGainReplace) {
		return true
	}
	// 3. Low-evidence templates are cheap to discard.
	if worst.MatchCount <= cfg.LowEvidenceMatchCount &&
		(candQuality > worst.QualityScore || candConfidence > worst.AvgMatchConfidence) {
		return true
	}
	// 4. Weak template, strong candidate.
	if worst.QualityScore < cfg.WeakQualityFloor && candQuality >= cfg.StrongQualityBar {
		return true
	}
	// 5. Combined moderate improvement.
	if gainAtLeast(candQuality-worst.QualityScore, cfg.ModerateQualityGain) &&
		gainAtLeast(candConfidence-worst.AvgMatchConfidence, cfg.ModerateConfidenceGain) {
		return true
	}
	return false
}
