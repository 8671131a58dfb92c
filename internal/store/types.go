// Package store owns the per-employee face template slots. It is the only
// component allowed to mutate templates; everything else works with
// read-only snapshots.
package store

import (
	"time"
)

// Slot layout: slot 0 is the admin-provided primary template, slots 1-3 are
// rolling secondary templates learned from live recognitions.
const (
	PrimarySlot   = 0
	SecondarySlot = 1
	MaxSlots      = 4
)

// Source records how a template came to exist.
type Source string

const (
	SourceAdminUpload       Source = "ADMIN_UPLOAD"
	SourceAttendanceLearned Source = "ATTENDANCE_LEARNED"
	SourceRegistration      Source = "REGISTRATION"
)

// Template is a single stored biometric reference for an employee.
type Template struct {
	EmployeeID string
	Slot       int
	Embedding  []float32

	QualityScore    float64 // image quality at creation, [0,1]
	ConfidenceScore float64 // extraction/match confidence at creation, [0,1]

	MatchCount         int     // times this template won a successful recognition
	AvgMatchConfidence float64 // running mean of winning similarities

	CreatedFrom Source
	CreatedAt   time.Time
	LastMatched *time.Time
}

// AgeDays returns the template age in fractional days at the given time.
func (t *Template) AgeDays(now time.Time) float64 {
	return now.Sub(t.CreatedAt).Hours() / 24
}

// IsPrimary reports whether the template occupies the permanent slot.
func (t *Template) IsPrimary() bool {
	return t.Slot == PrimarySlot
}

// Clone returns a deep copy, including the embedding.
func (t *Template) Clone() Template {
	c := *t
	c.Embedding = make([]float32, len(t.Embedding))
	copy(c.Embedding, t.Embedding)
	if t.LastMatched != nil {
		lm := *t.LastMatched
		c.LastMatched = &lm
	}
	return c
}

// OutcomeKind classifies the result of a secondary template proposal.
type OutcomeKind string

const (
	OutcomeInserted OutcomeKind = "inserted"
	OutcomeReplaced OutcomeKind = "replaced"
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome is the result of ProposeSecondary.
type Outcome struct {
	Kind    OutcomeKind
	Slot    int       // slot written for inserted/replaced
	Evicted *Template // metadata of the evicted template for replaced
	Reason  string    // rejection reason for rejected
}
