package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// HRMirror reads the employee roster from the HR system's MySQL database.
// Read-only; the HR system owns the data.
type HRMirror struct {
	db *sql.DB
}

// NewHRMirror opens a connection pool to the HR database.
func NewHRMirror(dsn string) (*HRMirror, error) {
	if dsn == "" {
		return nil, errors.New("HR database DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open HR database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping HR database: %w", err)
	}

	return &HRMirror{db: db}, nil
}

// Close closes the connection pool.
func (m *HRMirror) Close() error {
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			return fmt.Errorf("closing HR database connection: %w", err)
		}
	}
	return nil
}

// ListActive returns the active employees from the HR roster. Names are
// normalized on the way out so the local mirror never stores raw-only
// entries.
func (m *HRMirror) ListActive(ctx context.Context) ([]Employee, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT employee_id, full_name, COALESCE(department, ''), active
		FROM employees
		WHERE active = 1
		ORDER BY employee_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query HR employees: %w", err)
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.FullName, &e.Department, &e.Active); err != nil {
			return nil, fmt.Errorf("scan HR employee: %w", err)
		}
		e.NormalizedName = NormalizeName(e.FullName)
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate HR employees: %w", err)
	}
	return employees, nil
}
