package recognition

import (
	"errors"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// ErrExtractionFailed marks a failed or timed-out embedding extraction.
// It is a system error, distinct from "no known face matched": callers
// retry with a new image, this core does not.
var ErrExtractionFailed = errors.New("embedding extraction failed")

// Tier is the discrete confidence classification of a similarity score.
type Tier string

const (
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierVeryHigh Tier = "VERY_HIGH"
)

// Status is the terminal outcome of a recognition attempt. Spoof rejection,
// an empty template population and a miss are all expected outcomes of
// normal operation and are reported here rather than as errors, so a kiosk
// can show the right message for each.
type Status string

const (
	StatusRecognized    Status = "recognized"
	StatusNoMatch       Status = "no_match"
	StatusNoTemplates   Status = "no_templates"
	StatusSpoofRejected Status = "spoof_rejected"
)

// Verdict is the result of one recognition attempt.
type Verdict struct {
	Status     Status
	Recognized bool

	EmployeeID   string // set when recognized
	EmployeeHint string // best-effort nearest employee on a miss, for observability
	Similarity   float64
	Tier         Tier
	MatchedSlot  *int

	Learned     bool // a learning candidate was queued (async) or applied (sync)
	EvictedSlot *int // set when learning replaced a template before the verdict was built
}

// classifyTier maps a similarity score onto the configured threshold
// ladder.
func classifyTier(similarity float64, cfg *config.RecognitionConfig) Tier {
	switch {
	case similarity >= cfg.VeryHighConfidenceThreshold:
		return TierVeryHigh
	case similarity >= cfg.HighConfidenceThreshold:
		return TierHigh
	case similarity >= cfg.RecognitionThreshold:
		return TierMedium
	default:
		return TierLow
	}
}
