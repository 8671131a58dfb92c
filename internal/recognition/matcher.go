package recognition

import (
	"sort"

	"github.com/kozaktomas/face-attendance/internal/store"
)

// Match is the result of a best-match search over the template population.
type Match struct {
	EmployeeID string
	Slot       int
	Similarity float64
	MatchCount int // match count of the winning template, used for tie-breaks
}

// FindBestMatch finds the employee whose best template is most similar to
// the query. Each employee votes with its single best template rather than
// an average, so one poor secondary cannot drag down a good primary.
//
// Ties on similarity resolve to the template with the higher match count
// (longer track record), then to the lower employee ID, so repeated calls
// on the same snapshot always return the same winner. No threshold is
// applied here; thresholding is pipeline policy.
//
// The second return value is false when no template produced any match.
func FindBestMatch(query []float32, templates []store.Template) (Match, bool) {
	candidates := bestPerEmployee(query, templates)
	if len(candidates) == 0 {
		return Match{}, false
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if betterMatch(c, best) {
			best = c
		}
	}
	return best, true
}

// TopCandidates returns the k best-matching employees in descending
// similarity order, one entry per employee. Intended for diagnostics
// ("who else was close"), not for attendance decisions.
func TopCandidates(query []float32, templates []store.Template, k int) []Match {
	candidates := bestPerEmployee(query, templates)
	sort.Slice(candidates, func(i, j int) bool {
		return betterMatch(candidates[i], candidates[j])
	})
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// bestPerEmployee reduces the population to each employee's single best
// template match.
func bestPerEmployee(query []float32, templates []store.Template) []Match {
	uq, ok := unitVector(query)
	if !ok {
		return nil
	}

	best := make(map[string]Match)
	var order []string
	for i := range templates {
		t := &templates[i]
		m := Match{
			EmployeeID: t.EmployeeID,
			Slot:       t.Slot,
			Similarity: similarityToUnit(uq, t.Embedding),
			MatchCount: t.MatchCount,
		}

		prev, seen := best[t.EmployeeID]
		if !seen {
			best[t.EmployeeID] = m
			order = append(order, t.EmployeeID)
			continue
		}
		// Within one employee prefer higher similarity; on an exact tie the
		// template with more recorded matches, then the lower slot.
		if m.Similarity > prev.Similarity ||
			(m.Similarity == prev.Similarity && m.MatchCount > prev.MatchCount) ||
			(m.Similarity == prev.Similarity && m.MatchCount == prev.MatchCount && m.Slot < prev.Slot) {
			best[t.EmployeeID] = m
		}
	}

	out := make([]Match, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

// betterMatch reports whether a should rank ahead of b.
func betterMatch(a, b Match) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if a.MatchCount != b.MatchCount {
		return a.MatchCount > b.MatchCount
	}
	return a.EmployeeID < b.EmployeeID
}
