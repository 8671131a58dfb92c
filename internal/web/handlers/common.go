// Package handlers implements the HTTP handlers of the attendance API.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// maxFrameBytes caps uploaded frame size.
const maxFrameBytes = 10 << 20

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// readImageFile reads the uploaded "file" part of a multipart request.
func readImageFile(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if err := r.ParseMultipartForm(maxFrameBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file")
		return nil, false
	}
	defer file.Close()

	// Read one byte past the cap so an oversized part is detected even
	// when its final chunk ends exactly at EOF.
	buf, err := io.ReadAll(io.LimitReader(file, maxFrameBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read file")
		return nil, false
	}
	if len(buf) > maxFrameBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "file too large")
		return nil, false
	}
	if len(buf) == 0 {
		respondError(w, http.StatusBadRequest, "empty file")
		return nil, false
	}
	return buf, true
}

