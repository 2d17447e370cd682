// Package apiclient submits images from the web frontend to the inference API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Prediction is the inference API's answer.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Upload is the image being submitted.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// APIError is a non-2xx answer from the inference API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("inference api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("inference api returned %d: %s", e.StatusCode, e.Detail)
}

// Client talks to the inference API's dispatch endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client posting to endpoint, e.g. http://localhost:8000/predict.
func New(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Predict uploads the image for target ("brain" or "eye") in the given mode.
func (c *Client) Predict(ctx context.Context, upload Upload, target, mode string) (*Prediction, error) {
	body, contentType, err := encodeForm(upload, target, mode)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call inference api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: detail(raw)}
	}

	var prediction Prediction
	if err := json.Unmarshal(raw, &prediction); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &prediction, nil
}

func encodeForm(upload Upload, target, mode string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.Filename))
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := mw.WriteField("target", target); err != nil {
		return nil, "", fmt.Errorf("write target: %w", err)
	}
	if err := mw.WriteField("type", mode); err != nil {
		return nil, "", fmt.Errorf("write type: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// detail extracts the error text of a {"detail": ...} body, falling back to
// the raw body.
func detail(raw []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return strings.TrimSpace(string(raw))
}
