package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/platform/logger"
)

// ReplacementPolicy decides evictions among secondary templates. The
// recognition scorer implements it; the store stays free of policy
// constants.
type ReplacementPolicy interface {
	PickEvictionCandidate(secondaries []*Template, now time.Time) *Template
	ShouldReplace(worst *Template, candQuality, candConfidence float64) bool
}

// Store holds all face templates in memory, enforces the slot invariants
// and writes every accepted mutation through to the repository.
//
// Mutations for one employee are serialized by a per-employee lock.
// Snapshot reads copy under short critical sections, so matching is never
// blocked by a busy employee for long and sees at worst a slightly stale
// view of other employees.
type Store struct {
	dim    int
	repo   Repository
	policy ReplacementPolicy
	log    *logger.Logger
	now    func() time.Time

	mu        sync.RWMutex
	employees map[string]*employeeSlots
}

// employeeSlots is the fixed slot array of one employee.
type employeeSlots struct {
	mu    sync.Mutex
	slots [MaxSlots]*Template
}

// New creates an empty store for embeddings of the given dimension.
// Call Rehydrate before serving matches.
func New(dim int, repo Repository, policy ReplacementPolicy, log *logger.Logger) *Store {
	return &Store{
		dim:       dim,
		repo:      repo,
		policy:    policy,
		log:       log,
		now:       time.Now,
		employees: make(map[string]*employeeSlots),
	}
}

// Rehydrate replaces the in-memory state with the repository contents.
func (s *Store) Rehydrate(ctx context.Context) error {
	templates, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	employees := make(map[string]*employeeSlots)
	for i := range templates {
		t := templates[i]
		if t.Slot < 0 || t.Slot >= MaxSlots {
			s.log.Warn("ignoring template with out-of-range slot",
				"employee_id", t.EmployeeID, "slot", t.Slot)
			continue
		}
		entry := employees[t.EmployeeID]
		if entry == nil {
			entry = &employeeSlots{}
			employees[t.EmployeeID] = entry
		}
		entry.slots[t.Slot] = &t
	}

	s.mu.Lock()
	s.employees = employees
	s.mu.Unlock()

	s.log.Info("template store rehydrated",
		"templates", len(templates), "employees", len(employees))
	return nil
}

// entry returns the slot array for an employee, creating it when create is
// set.
func (s *Store) entry(employeeID string, create bool) *employeeSlots {
	s.mu.RLock()
	e := s.employees[employeeID]
	s.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.employees[employeeID]; e == nil {
		e = &employeeSlots{}
		s.employees[employeeID] = e
	}
	return e
}

// validateEmbedding rejects vectors of the wrong dimension or zero norm.
func (s *Store) validateEmbedding(embedding []float32) error {
	if len(embedding) != s.dim {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrInvalidEmbedding, len(embedding), s.dim)
	}
	var sumSq float64
	for _, v := range embedding {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return fmt.Errorf("%w: zero norm", ErrInvalidEmbedding)
	}
	return nil
}

// Snapshot returns a deep copy of all templates, ordered by employee and
// slot. The copy is safe to read while mutations continue.
func (s *Store) Snapshot(ctx context.Context) ([]Template, error) {
	s.mu.RLock()
	entries := make(map[string]*employeeSlots, len(s.employees))
	for id, e := range s.employees {
		entries[id] = e
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Template
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e := entries[id]
		e.mu.Lock()
		for _, t := range e.slots {
			if t != nil {
				out = append(out, t.Clone())
			}
		}
		e.mu.Unlock()
	}
	return out, nil
}

// TemplatesFor returns a deep copy of one employee's templates, ordered by
// slot.
func (s *Store) TemplatesFor(employeeID string) []Template {
	e := s.entry(employeeID, false)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Template
	for _, t := range e.slots {
		if t != nil {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Count returns the number of stored templates.
func (s *Store) Count() int {
	s.mu.RLock()
	entries := make([]*employeeSlots, 0, len(s.employees))
	for _, e := range s.employees {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		for _, t := range e.slots {
			if t != nil {
				n++
			}
		}
		e.mu.Unlock()
	}
	return n
}

// UpsertPrimary creates or overwrites the permanent slot 0 template. This
// is the administrative path; the learning path can never touch slot 0.
func (s *Store) UpsertPrimary(ctx context.Context, employeeID string, embedding []float32, quality, confidence float64, source Source) (*Template, error) {
	if err := s.validateEmbedding(embedding); err != nil {
		return nil, err
	}

	e := s.entry(employeeID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	t := s.newTemplate(employeeID, PrimarySlot, embedding, quality, confidence, source)
	if err := s.repo.Upsert(ctx, t); err != nil {
		return nil, fmt.Errorf("persist primary template: %w", err)
	}
	e.slots[PrimarySlot] = t

	out := t.Clone()
	return &out, nil
}

// ProposeSecondary is the single mutating entry point of the learning
// path. An empty secondary slot takes the candidate directly; with all
// slots full the replacement policy picks the weakest secondary and
// decides whether the candidate earns its place. Slot 0 is never
// considered.
//
// A write that loses a persistence race on the slot key is retried once
// after refreshing the employee from the repository; the conflict never
// escapes as an error.
func (s *Store) ProposeSecondary(ctx context.Context, employeeID string, embedding []float32, quality, confidence float64, source Source) (Outcome, error) {
	if err := s.validateEmbedding(embedding); err != nil {
		return Outcome{}, err
	}

	e := s.entry(employeeID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	outcome, err := s.proposeLocked(ctx, e, employeeID, embedding, quality, confidence, source)
	if err == ErrSlotConflict {
		// Another writer got the row first; refresh this employee and try
		// the slot selection once more.
		if refreshErr := s.refreshLocked(ctx, e, employeeID); refreshErr != nil {
			return Outcome{}, fmt.Errorf("refresh after slot conflict: %w", refreshErr)
		}
		outcome, err = s.proposeLocked(ctx, e, employeeID, embedding, quality, confidence, source)
	}
	if err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// proposeLocked applies one insert-or-replace attempt. Caller holds the
// employee lock.
func (s *Store) proposeLocked(ctx context.Context, e *employeeSlots, employeeID string, embedding []float32, quality, confidence float64, source Source) (Outcome, error) {
	// Empty secondary slot wins outright.
	for slot := SecondarySlot; slot < MaxSlots; slot++ {
		if e.slots[slot] != nil {
			continue
		}
		t := s.newTemplate(employeeID, slot, embedding, quality, confidence, source)
		if err := s.repo.Upsert(ctx, t); err != nil {
			return Outcome{}, err
		}
		e.slots[slot] = t
		return Outcome{Kind: OutcomeInserted, Slot: slot}, nil
	}

	// All secondary slots taken: ask the policy for the eviction candidate.
	secondaries := make([]*Template, 0, MaxSlots-SecondarySlot)
	for slot := SecondarySlot; slot < MaxSlots; slot++ {
		secondaries = append(secondaries, e.slots[slot])
	}
	worst := s.policy.PickEvictionCandidate(secondaries, s.now())
	if worst == nil {
		return Outcome{Kind: OutcomeRejected, Reason: "no eviction candidate"}, nil
	}
	if !s.policy.ShouldReplace(worst, quality, confidence) {
		return Outcome{
			Kind:   OutcomeRejected,
			Reason: fmt.Sprintf("candidate does not outscore slot %d", worst.Slot),
		}, nil
	}

	// Replace in place: the row keeps its slot identity, the content and
	// statistics start over.
	evicted := worst.Clone()
	evicted.Embedding = nil // metadata only
	t := s.newTemplate(employeeID, worst.Slot, embedding, quality, confidence, source)
	if err := s.repo.Upsert(ctx, t); err != nil {
		return Outcome{}, err
	}
	e.slots[worst.Slot] = t
	return Outcome{Kind: OutcomeReplaced, Slot: worst.Slot, Evicted: &evicted}, nil
}

// refreshLocked reloads one employee's slots from the repository. Caller
// holds the employee lock.
func (s *Store) refreshLocked(ctx context.Context, e *employeeSlots, employeeID string) error {
	templates, err := s.repo.LoadEmployee(ctx, employeeID)
	if err != nil {
		return err
	}
	var slots [MaxSlots]*Template
	for i := range templates {
		t := templates[i]
		if t.Slot >= 0 && t.Slot < MaxSlots {
			slots[t.Slot] = &t
		}
	}
	e.slots = slots
	return nil
}

// RecordMatch updates the winning template's statistics after a successful
// recognition: increments the match count, folds the similarity into the
// running mean and stamps the match time.
func (s *Store) RecordMatch(ctx context.Context, employeeID string, slot int, similarity float64) error {
	if slot < 0 || slot >= MaxSlots {
		return fmt.Errorf("%w: slot %d", ErrTemplateNotFound, slot)
	}

	e := s.entry(employeeID, false)
	if e == nil {
		return fmt.Errorf("%w: employee %s", ErrTemplateNotFound, employeeID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.slots[slot]
	if t == nil {
		return fmt.Errorf("%w: employee %s slot %d", ErrTemplateNotFound, employeeID, slot)
	}

	t.MatchCount++
	n := float64(t.MatchCount)
	t.AvgMatchConfidence = (t.AvgMatchConfidence*(n-1) + similarity) / n
	now := s.now()
	t.LastMatched = &now

	if err := s.repo.UpdateMatchStats(ctx, t); err != nil {
		return fmt.Errorf("persist match stats: %w", err)
	}
	return nil
}

// RemoveTemplate removes one template. Administrative path; this is the
// only way slot 0 ever goes away short of deleting the employee.
func (s *Store) RemoveTemplate(ctx context.Context, employeeID string, slot int) error {
	if slot < 0 || slot >= MaxSlots {
		return fmt.Errorf("%w: slot %d", ErrTemplateNotFound, slot)
	}
	e := s.entry(employeeID, false)
	if e == nil {
		return fmt.Errorf("%w: employee %s", ErrTemplateNotFound, employeeID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.slots[slot] == nil {
		return fmt.Errorf("%w: employee %s slot %d", ErrTemplateNotFound, employeeID, slot)
	}
	if err := s.repo.DeleteSlot(ctx, employeeID, slot); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	e.slots[slot] = nil
	return nil
}

// RemoveEmployee removes all templates of an employee (cascade on employee
// deletion).
func (s *Store) RemoveEmployee(ctx context.Context, employeeID string) error {
	e := s.entry(employeeID, false)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	if err := s.repo.DeleteEmployee(ctx, employeeID); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("delete employee templates: %w", err)
	}
	e.slots = [MaxSlots]*Template{}
	e.mu.Unlock()

	s.mu.Lock()
	delete(s.employees, employeeID)
	s.mu.Unlock()
	return nil
}

// newTemplate builds a fresh template with copied embedding and zeroed
// statistics.
func (s *Store) newTemplate(employeeID string, slot int, embedding []float32, quality, confidence float64, source Source) *Template {
	emb := make([]float32, len(embedding))
	copy(emb, embedding)
	return &Template{
		EmployeeID:      employeeID,
		Slot:            slot,
		Embedding:       emb,
		QualityScore:    quality,
		ConfidenceScore: confidence,
		CreatedFrom:     source,
		CreatedAt:       s.now(),
	}
}
