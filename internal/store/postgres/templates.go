package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/store"
)

// TemplateRepository is the PostgreSQL implementation of store.Repository.
type TemplateRepository struct {
	pool *Pool
}

// NewTemplateRepository creates a template repository on top of the pool.
func NewTemplateRepository(pool *Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

const templateColumns = `employee_id, slot, embedding, quality_score, confidence_score,
	       match_count, avg_match_confidence, created_from, created_at, last_matched`

// LoadAll returns every stored template.
func (r *TemplateRepository) LoadAll(ctx context.Context) ([]store.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM face_templates
		ORDER BY employee_id, slot
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	return scanTemplates(rows)
}

// LoadEmployee returns the templates of a single employee.
func (r *TemplateRepository) LoadEmployee(ctx context.Context, employeeID string) ([]store.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM face_templates
		WHERE employee_id = $1
		ORDER BY slot
	`

	rows, err := r.pool.Query(ctx, query, employeeID)
	if err != nil {
		return nil, fmt.Errorf("query employee templates: %w", err)
	}
	defer rows.Close()

	return scanTemplates(rows)
}

// Upsert creates or overwrites the (employee_id, slot) row. It updates
// first and falls back to an insert; an insert losing the race to another
// writer surfaces as store.ErrSlotConflict so the caller can refresh its
// view and decide again.
func (r *TemplateRepository) Upsert(ctx context.Context, t *store.Template) error {
	vec := pgvector.NewVector(t.Embedding)

	res, err := r.pool.Exec(ctx, `
		UPDATE face_templates
		SET embedding = $3, quality_score = $4, confidence_score = $5,
		    match_count = $6, avg_match_confidence = $7, created_from = $8,
		    created_at = $9, last_matched = $10
		WHERE employee_id = $1 AND slot = $2
	`, t.EmployeeID, t.Slot, vec, t.QualityScore, t.ConfidenceScore,
		t.MatchCount, t.AvgMatchConfidence, string(t.CreatedFrom), t.CreatedAt, t.LastMatched)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO face_templates (employee_id, slot, embedding, quality_score, confidence_score,
			match_count, avg_match_confidence, created_from, created_at, last_matched)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.EmployeeID, t.Slot, vec, t.QualityScore, t.ConfidenceScore,
		t.MatchCount, t.AvgMatchConfidence, string(t.CreatedFrom), t.CreatedAt, t.LastMatched)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrSlotConflict
		}
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// UpdateMatchStats persists the running match statistics of a template.
func (r *TemplateRepository) UpdateMatchStats(ctx context.Context, t *store.Template) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE face_templates
		SET match_count = $3, avg_match_confidence = $4, last_matched = $5
		WHERE employee_id = $1 AND slot = $2
	`, t.EmployeeID, t.Slot, t.MatchCount, t.AvgMatchConfidence, t.LastMatched)
	if err != nil {
		return fmt.Errorf("update match stats: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrTemplateNotFound
	}
	return nil
}

// DeleteSlot removes one template row.
func (r *TemplateRepository) DeleteSlot(ctx context.Context, employeeID string, slot int) error {
	res, err := r.pool.Exec(ctx,
		"DELETE FROM face_templates WHERE employee_id = $1 AND slot = $2", employeeID, slot)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrTemplateNotFound
	}
	return nil
}

// DeleteEmployee removes all template rows of an employee.
func (r *TemplateRepository) DeleteEmployee(ctx context.Context, employeeID string) error {
	if _, err := r.pool.Exec(ctx,
		"DELETE FROM face_templates WHERE employee_id = $1", employeeID); err != nil {
		return fmt.Errorf("delete employee templates: %w", err)
	}
	return nil
}

// Count returns the total number of stored templates.
func (r *TemplateRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_templates").Scan(&count); err != nil {
		return 0, fmt.Errorf("count templates: %w", err)
	}
	return count, nil
}

// isUniqueViolation reports whether the error is a PostgreSQL unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// scanTemplates reads all rows into templates.
func scanTemplates(rows *sql.Rows) ([]store.Template, error) {
	var templates []store.Template
	for rows.Next() {
		t, err := scanTemplateRow(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// scanTemplateRow scans a single row into a Template.
func scanTemplateRow(scanner interface{ Scan(...any) error }) (store.Template, error) {
	var t store.Template
	var vec pgvector.Vector
	var createdFrom string
	var lastMatched sql.NullTime

	err := scanner.Scan(
		&t.EmployeeID, &t.Slot, &vec, &t.QualityScore, &t.ConfidenceScore,
		&t.MatchCount, &t.AvgMatchConfidence, &createdFrom, &t.CreatedAt, &lastMatched,
	)
	if err != nil {
		return t, fmt.Errorf("scan template: %w", err)
	}

	t.Embedding = vec.Slice()
	t.CreatedFrom = store.Source(createdFrom)
	if lastMatched.Valid {
		lm := lastMatched.Time
		t.LastMatched = &lm
	}
	return t, nil
}
