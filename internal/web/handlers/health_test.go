package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeCounter struct {
	count int
}

func (f *fakeCounter) Count() int { return f.count }

func TestHealthModelReachable(t *testing.T) {
	h := NewHealthHandler(&fakeFaceModel{}, &fakeCounter{count: 12})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status    string            `json:"status"`
		Templates int               `json:"templates"`
		Checks    map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %q", resp.Status)
	}
	if resp.Templates != 12 {
		t.Errorf("expected 12 templates, got %d", resp.Templates)
	}
	if resp.Checks["face_model"] != "ok" {
		t.Errorf("unexpected model check: %v", resp.Checks)
	}
}

func TestHealthModelDown(t *testing.T) {
	model := &fakeFaceModel{pingErr: errors.New("connection refused")}
	h := NewHealthHandler(model, &fakeCounter{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %q", resp.Status)
	}
	if resp.Checks["face_model"] != "unreachable" {
		t.Errorf("unexpected model check: %v", resp.Checks)
	}
}
