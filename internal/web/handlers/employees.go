package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/directory"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/store/postgres"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// EmployeeDirectory is the roster surface the employee endpoints need.
type EmployeeDirectory interface {
	List(ctx context.Context) ([]directory.Employee, error)
	Get(ctx context.Context, id string) (*directory.Employee, error)
	Upsert(ctx context.Context, e *directory.Employee) error
	Delete(ctx context.Context, id string) error
}

// TemplateRemover cascades template removal on employee deletion.
type TemplateRemover interface {
	RemoveEmployee(ctx context.Context, employeeID string) error
}

// EmployeesHandler serves the roster endpoints.
type EmployeesHandler struct {
	repo      EmployeeDirectory
	templates TemplateRemover
	log       *logger.Logger
}

// NewEmployeesHandler creates an employees handler.
func NewEmployeesHandler(repo EmployeeDirectory, templates TemplateRemover, log *logger.Logger) *EmployeesHandler {
	return &EmployeesHandler{repo: repo, templates: templates, log: log}
}

// employeeRequest is the wire format of a roster create/update.
type employeeRequest struct {
	FullName   string `json:"full_name"`
	Department string `json:"department"`
	Active     *bool  `json:"active"`
}

// List handles GET /employees.
func (h *EmployeesHandler) List(w http.ResponseWriter, r *http.Request) {
	employees, err := h.repo.List(r.Context())
	if err != nil {
		h.log.Error("failed to list employees", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list employees")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"employees": employees,
		"count":     len(employees),
	})
}

// Get handles GET /employees/{id}.
func (h *EmployeesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	employee, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, postgres.ErrEmployeeNotFound) {
			respondError(w, http.StatusNotFound, "employee not found")
			return
		}
		h.log.Error("failed to get employee", "employee_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get employee")
		return
	}
	respondJSON(w, http.StatusOK, employee)
}

// Put handles PUT /employees/{id}: creates or updates one roster entry.
func (h *EmployeesHandler) Put(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req employeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.FullName == "" {
		respondError(w, http.StatusBadRequest, "full_name is required")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	employee := &directory.Employee{
		ID:             id,
		FullName:       req.FullName,
		NormalizedName: directory.NormalizeName(req.FullName),
		Department:     req.Department,
		Active:         active,
	}
	if err := h.repo.Upsert(r.Context(), employee); err != nil {
		h.log.Error("failed to upsert employee", "employee_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to save employee")
		return
	}

	respondJSON(w, http.StatusOK, employee)
}

// Delete handles DELETE /employees/{id}. Templates go with the roster
// entry, in memory and in the database.
func (h *EmployeesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.templates.RemoveEmployee(r.Context(), id); err != nil {
		h.log.Error("failed to remove employee templates", "employee_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete employee")
		return
	}
	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, postgres.ErrEmployeeNotFound) {
			respondError(w, http.StatusNotFound, "employee not found")
			return
		}
		h.log.Error("failed to delete employee", "employee_id", sanitizeForLog(id), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete employee")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"employee_id": id,
		"deleted":     true,
	})
}
