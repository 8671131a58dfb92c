// Package faceid talks to the face model server over HTTP. The server
// hosts the embedding, liveness and quality models; this package is the
// only place that knows its wire format.
package faceid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:8000"

// ErrNoFace is returned when the model server finds no face in the frame.
var ErrNoFace = errors.New("no face detected")

// Client calls the face model server.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a client. The timeout applies per call.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// embedResponse is the wire format of the embedding endpoint.
type embedResponse struct {
	FacesCount int       `json:"faces_count"`
	Embedding  []float32 `json:"embedding"`
	Confidence float64   `json:"confidence"`
	Dim        int       `json:"dim"`
	Model      string    `json:"model"`
}

// livenessResponse is the wire format of the liveness endpoint.
type livenessResponse struct {
	Live  bool    `json:"live"`
	Score float64 `json:"score"`
}

// qualityResponse is the wire format of the quality endpoint.
type qualityResponse struct {
	Quality float64 `json:"quality"`
}

// postMultipartImage posts the frame as a multipart form to the given
// endpoint. The part carries an explicit Content-Type from magic byte
// detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	mimeType := detectMIMEType(imageData)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Extract detects the largest face in the frame and returns its embedding.
func (c *Client) Extract(ctx context.Context, image []byte) ([]float32, error) {
	body, err := c.postMultipartImage(ctx, "/v1/face/embed", image)
	if err != nil {
		return nil, err
	}

	var embResp embedResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if embResp.FacesCount == 0 || len(embResp.Embedding) == 0 {
		return nil, ErrNoFace
	}

	return embResp.Embedding, nil
}

// IsLive asks the anti-spoofing model whether the frame shows a live face.
func (c *Client) IsLive(ctx context.Context, image []byte) (bool, error) {
	body, err := c.postMultipartImage(ctx, "/v1/face/liveness", image)
	if err != nil {
		return false, err
	}

	var liveResp livenessResponse
	if err := json.Unmarshal(body, &liveResp); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}

	return liveResp.Live, nil
}

// Quality estimates the face image quality in [0,1].
func (c *Client) Quality(ctx context.Context, image []byte) (float64, error) {
	body, err := c.postMultipartImage(ctx, "/v1/face/quality", image)
	if err != nil {
		return 0, err
	}

	var qResp qualityResponse
	if err := json.Unmarshal(body, &qResp); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}

	return qResp.Quality, nil
}

// Ping checks whether the model server is reachable and serving.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("model server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
