package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/directory"
)

// ErrEmployeeNotFound is returned when an employee ID is not in the local
// roster mirror.
var ErrEmployeeNotFound = errors.New("employee not found")

// EmployeeRepository stores the local mirror of the HR roster.
type EmployeeRepository struct {
	pool *Pool
}

// NewEmployeeRepository creates an employee repository on top of the pool.
func NewEmployeeRepository(pool *Pool) *EmployeeRepository {
	return &EmployeeRepository{pool: pool}
}

// Upsert creates or updates one roster entry.
func (r *EmployeeRepository) Upsert(ctx context.Context, e *directory.Employee) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO employees (id, full_name, normalized_name, department, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    normalized_name = EXCLUDED.normalized_name,
		    department = EXCLUDED.department,
		    active = EXCLUDED.active,
		    updated_at = NOW()
	`, e.ID, e.FullName, e.NormalizedName, e.Department, e.Active)
	if err != nil {
		return fmt.Errorf("upsert employee: %w", err)
	}
	return nil
}

// Get returns one roster entry by ID.
func (r *EmployeeRepository) Get(ctx context.Context, id string) (*directory.Employee, error) {
	var e directory.Employee
	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, normalized_name, department, active, created_at, updated_at
		FROM employees
		WHERE id = $1
	`, id).Scan(&e.ID, &e.FullName, &e.NormalizedName, &e.Department, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmployeeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query employee: %w", err)
	}
	return &e, nil
}

// List returns the full local roster, ordered by ID.
func (r *EmployeeRepository) List(ctx context.Context) ([]directory.Employee, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, full_name, normalized_name, department, active, created_at, updated_at
		FROM employees
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var employees []directory.Employee
	for rows.Next() {
		var e directory.Employee
		if err := rows.Scan(&e.ID, &e.FullName, &e.NormalizedName, &e.Department,
			&e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return employees, nil
}

// Delete removes one roster entry. Template rows cascade.
func (r *EmployeeRepository) Delete(ctx context.Context, id string) error {
	res, err := r.pool.Exec(ctx, "DELETE FROM employees WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrEmployeeNotFound
	}
	return nil
}
