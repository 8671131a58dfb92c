package store

import (
	"context"
	"errors"
)

// ErrInvalidEmbedding marks a malformed or zero-norm vector presented to
// the store. Such vectors are rejected locally and never persisted.
var ErrInvalidEmbedding = errors.New("invalid embedding")

// ErrTemplateNotFound is returned when an (employee, slot) pair does not
// exist.
var ErrTemplateNotFound = errors.New("template not found")

// ErrSlotConflict is returned by a Repository when a write lost a race on
// the (employee_id, slot) uniqueness constraint. The store resolves it
// internally with a single fresh-slot retry; it never reaches callers.
var ErrSlotConflict = errors.New("template slot conflict")

// Repository is the persistence boundary behind the in-memory store. The
// store is a cached, atomic façade over it: every accepted mutation is
// written through, and on restart the store is rehydrated from it before
// serving any match.
type Repository interface {
	// LoadAll returns every stored template.
	LoadAll(ctx context.Context) ([]Template, error)
	// LoadEmployee returns the templates of a single employee.
	LoadEmployee(ctx context.Context, employeeID string) ([]Template, error)
	// Upsert creates or overwrites the (employee_id, slot) row.
	Upsert(ctx context.Context, t *Template) error
	// UpdateMatchStats persists the running match statistics of a template.
	UpdateMatchStats(ctx context.Context, t *Template) error
	// DeleteSlot removes one template row.
	DeleteSlot(ctx context.Context, employeeID string, slot int) error
	// DeleteEmployee removes all template rows of an employee.
	DeleteEmployee(ctx context.Context, employeeID string) error
}
