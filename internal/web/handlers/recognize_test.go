package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/recognition"
)

func TestRecognizeRecognized(t *testing.T) {
	slot := 1
	h := NewRecognizeHandler(&fakeRecognizer{verdict: &recognition.Verdict{
		Status:      recognition.StatusRecognized,
		Recognized:  true,
		EmployeeID:  "emp-1",
		Similarity:  0.93,
		Tier:        recognition.TierVeryHigh,
		MatchedSlot: &slot,
		Learned:     true,
	}}, testLogger())

	req := multipartImageRequest(t, http.MethodPost, "/attendance/recognize")
	rec := httptest.NewRecorder()
	h.Recognize(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp recognizeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Recognized || resp.EmployeeID != "emp-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Confidence != "VERY_HIGH" {
		t.Errorf("expected VERY_HIGH confidence, got %s", resp.Confidence)
	}
	if resp.MatchedSlot == nil || *resp.MatchedSlot != 1 {
		t.Errorf("expected matched slot 1, got %v", resp.MatchedSlot)
	}
	if !resp.Learned {
		t.Error("expected learned flag")
	}
}

func TestRecognizeSpoof(t *testing.T) {
	h := NewRecognizeHandler(&fakeRecognizer{verdict: &recognition.Verdict{
		Status: recognition.StatusSpoofRejected,
		Tier:   recognition.TierLow,
	}}, testLogger())

	req := multipartImageRequest(t, http.MethodPost, "/attendance/recognize")
	rec := httptest.NewRecorder()
	h.Recognize(rec, req)

	// Spoof is an expected outcome, not an HTTP error.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp recognizeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "spoof_rejected" || resp.Recognized {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestRecognizeExtractionFailure(t *testing.T) {
	h := NewRecognizeHandler(&fakeRecognizer{
		err: fmt.Errorf("%w: model timeout", recognition.ErrExtractionFailed),
	}, testLogger())

	req := multipartImageRequest(t, http.MethodPost, "/attendance/recognize")
	rec := httptest.NewRecorder()
	h.Recognize(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for extraction failure, got %d", rec.Code)
	}
}

func TestRecognizeMissingFile(t *testing.T) {
	h := NewRecognizeHandler(&fakeRecognizer{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/attendance/recognize", strings.NewReader("not multipart"))
	rec := httptest.NewRecorder()
	h.Recognize(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

// A frame whose final chunk crosses the size cap must be rejected with
// 413 before the pipeline runs.
func TestRecognizeFrameTooLarge(t *testing.T) {
	recognizer := &fakeRecognizer{}
	h := NewRecognizeHandler(recognizer, testLogger())

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(bytes.Repeat([]byte{0xff}, maxFrameBytes+1)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/attendance/recognize", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	h.Recognize(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if recognizer.calls != 0 {
		t.Errorf("oversized frame must not reach the pipeline, got %d calls", recognizer.calls)
	}
}
