// Package directory holds the employee roster. The roster is owned by the
// HR system; this service keeps a local mirror so recognition results can
// be resolved to names without a round trip.
package directory

import (
	"time"
)

// Employee is one roster entry.
type Employee struct {
	ID             string    `json:"id"`
	FullName       string    `json:"full_name"`
	NormalizedName string    `json:"normalized_name"`
	Department     string    `json:"department"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
