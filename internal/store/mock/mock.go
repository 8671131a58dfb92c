// Package mock provides an in-memory Repository implementation with error
// injection for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/store"
)

// TemplateRepository is an in-memory mock of store.Repository.
type TemplateRepository struct {
	mu   sync.Mutex
	rows map[string]store.Template

	// Error injection
	LoadAllError         error
	LoadEmployeeError    error
	UpsertError          error
	UpdateMatchError     error
	DeleteError          error
	ConflictOnNextUpsert bool // next Upsert fails with ErrSlotConflict

	UpsertCalls int
}

// NewTemplateRepository creates an empty mock repository.
func NewTemplateRepository() *TemplateRepository {
	return &TemplateRepository{rows: make(map[string]store.Template)}
}

func key(employeeID string, slot int) string {
	return fmt.Sprintf("%s/%d", employeeID, slot)
}

// Seed inserts a template directly, bypassing error injection.
func (r *TemplateRepository) Seed(t store.Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[key(t.EmployeeID, t.Slot)] = t.Clone()
}

// Row returns the stored row for an (employee, slot) pair, if present.
func (r *TemplateRepository) Row(employeeID string, slot int) (store.Template, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[key(employeeID, slot)]
	return t, ok
}

// LoadAll returns every stored template.
func (r *TemplateRepository) LoadAll(ctx context.Context) ([]store.Template, error) {
	if r.LoadAllError != nil {
		return nil, r.LoadAllError
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Template, 0, len(r.rows))
	for _, t := range r.rows {
		out = append(out, t.Clone())
	}
	return out, nil
}

// LoadEmployee returns the templates of a single employee.
func (r *TemplateRepository) LoadEmployee(ctx context.Context, employeeID string) ([]store.Template, error) {
	if r.LoadEmployeeError != nil {
		return nil, r.LoadEmployeeError
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Template
	for _, t := range r.rows {
		if t.EmployeeID == employeeID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Upsert creates or overwrites a row.
func (r *TemplateRepository) Upsert(ctx context.Context, t *store.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UpsertCalls++
	if r.ConflictOnNextUpsert {
		r.ConflictOnNextUpsert = false
		return store.ErrSlotConflict
	}
	if r.UpsertError != nil {
		return r.UpsertError
	}
	r.rows[key(t.EmployeeID, t.Slot)] = t.Clone()
	return nil
}

// UpdateMatchStats persists match statistics.
func (r *TemplateRepository) UpdateMatchStats(ctx context.Context, t *store.Template) error {
	if r.UpdateMatchError != nil {
		return r.UpdateMatchError
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key(t.EmployeeID, t.Slot)]
	if !ok {
		return store.ErrTemplateNotFound
	}
	row.MatchCount = t.MatchCount
	row.AvgMatchConfidence = t.AvgMatchConfidence
	if t.LastMatched != nil {
		lm := *t.LastMatched
		row.LastMatched = &lm
	}
	r.rows[key(t.EmployeeID, t.Slot)] = row
	return nil
}

// DeleteSlot removes one row.
func (r *TemplateRepository) DeleteSlot(ctx context.Context, employeeID string, slot int) error {
	if r.DeleteError != nil {
		return r.DeleteError
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, key(employeeID, slot))
	return nil
}

// DeleteEmployee removes all rows of an employee.
func (r *TemplateRepository) DeleteEmployee(ctx context.Context, employeeID string) error {
	if r.DeleteError != nil {
		return r.DeleteError
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, t := range r.rows {
		if t.EmployeeID == employeeID {
			delete(r.rows, k)
		}
	}
	return nil
}
