package handlers

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/directory"
	"github.com/kozaktomas/face-attendance/internal/platform/logger"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/store"
	"github.com/kozaktomas/face-attendance/internal/store/postgres"
)

// requestWithChiParams creates a request with chi URL parameters.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// multipartImageRequest builds a multipart request with a small JPEG in
// the "file" field.
func multipartImageRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	var imgBuf bytes.Buffer
	if err := jpeg.Encode(&imgBuf, img, nil); err != nil {
		t.Fatalf("encode test image: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(imgBuf.Bytes()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func testLogger() *logger.Logger {
	return logger.NewNop()
}

type fakeRecognizer struct {
	verdict *recognition.Verdict
	err     error
	calls   int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte) (*recognition.Verdict, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.verdict, nil
}

type fakeFaceModel struct {
	embedding  []float32
	extractErr error
	quality    float64
	qualityErr error
	pingErr    error
}

func (f *fakeFaceModel) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeFaceModel) Extract(ctx context.Context, image []byte) ([]float32, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.embedding, nil
}

func (f *fakeFaceModel) Quality(ctx context.Context, image []byte) (float64, error) {
	if f.qualityErr != nil {
		return 0, f.qualityErr
	}
	return f.quality, nil
}

type fakeTemplateManager struct {
	templates  []store.Template
	upserted   *store.Template
	upsertErr  error
	removed    []int
	removeErr  error
	removedIDs []string
}

func (f *fakeTemplateManager) UpsertPrimary(ctx context.Context, employeeID string, embedding []float32, quality, confidence float64, source store.Source) (*store.Template, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	t := store.Template{
		EmployeeID:      employeeID,
		Slot:            store.PrimarySlot,
		Embedding:       embedding,
		QualityScore:    quality,
		ConfidenceScore: confidence,
		CreatedFrom:     source,
	}
	f.upserted = &t
	return &t, nil
}

func (f *fakeTemplateManager) TemplatesFor(employeeID string) []store.Template {
	return f.templates
}

func (f *fakeTemplateManager) RemoveTemplate(ctx context.Context, employeeID string, slot int) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, slot)
	return nil
}

func (f *fakeTemplateManager) RemoveEmployee(ctx context.Context, employeeID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removedIDs = append(f.removedIDs, employeeID)
	return nil
}

type fakeEmployeeDirectory struct {
	employees map[string]*directory.Employee
	listErr   error
}

func newFakeEmployeeDirectory() *fakeEmployeeDirectory {
	return &fakeEmployeeDirectory{employees: make(map[string]*directory.Employee)}
}

func (f *fakeEmployeeDirectory) List(ctx context.Context) ([]directory.Employee, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []directory.Employee
	for _, e := range f.employees {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeEmployeeDirectory) Get(ctx context.Context, id string) (*directory.Employee, error) {
	e, ok := f.employees[id]
	if !ok {
		return nil, postgres.ErrEmployeeNotFound
	}
	return e, nil
}

func (f *fakeEmployeeDirectory) Upsert(ctx context.Context, e *directory.Employee) error {
	f.employees[e.ID] = e
	return nil
}

func (f *fakeEmployeeDirectory) Delete(ctx context.Context, id string) error {
	if _, ok := f.employees[id]; !ok {
		return postgres.ErrEmployeeNotFound
	}
	delete(f.employees, id)
	return nil
}
