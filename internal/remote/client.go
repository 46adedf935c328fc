package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tomfahy/studycache/internal/session"
)

// StatusError is returned when the remote service answered with a failure
// status code. Its presence distinguishes "remote rejected the request" from
// a transport failure, which surfaces as a wrapped *url.Error with no status.
type StatusError struct {
	Status      int
	ContentType string
	Body        []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d: %s", e.Status, e.Body)
}

// Message extracts a human-readable message from the error body. JSON bodies
// are searched for an "error" or "message" field; anything else is returned
// as opaque text.
func (e *StatusError) Message() string {
	if strings.Contains(e.ContentType, "application/json") {
		var parsed struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(e.Body, &parsed); err == nil {
			if parsed.Error != "" {
				return parsed.Error
			}
			if parsed.Message != "" {
				return parsed.Message
			}
		}
	}
	return string(e.Body)
}

// Client issues authenticated requests against the study-content service.
// User identity and bearer token are read from the shared session at call
// time, so an auth transition applies to every subsequent request without
// the client being told.
type Client struct {
	baseURL string
	http    *http.Client
	session *session.Session
	log     *slog.Logger
}

// NewClient creates a client for the service at baseURL. httpClient and
// logger may be nil, in which case http.DefaultClient and slog.Default()
// are used.
func NewClient(baseURL string, sess *session.Session, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		session: sess,
		log:     logger,
	}
}

// Request sends a JSON request and returns the raw response body. A non-nil
// body is JSON-encoded. Caller-supplied headers take precedence over the
// defaults on conflict. Failure statuses return *StatusError; transport
// failures return the wrapped transport error.
func (c *Client) Request(ctx context.Context, method, path string, body any, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body for %s: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req, headers)

	return c.do(req, path)
}

// Upload sends a multipart form with the given fields and one file part.
// The Content-Type header is left to the multipart writer so the boundary
// is set correctly; the payload is never JSON-encoded.
func (c *Client) Upload(ctx context.Context, path string, fields map[string]string, fileField, filename string, file io.Reader) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}
	fw, err := writer.CreateFormFile(fileField, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuthHeaders(req, nil)

	return c.do(req, path)
}

// setAuthHeaders attaches identity and tracing headers, then applies any
// caller-supplied overrides.
func (c *Client) setAuthHeaders(req *http.Request, overrides map[string]string) {
	req.Header.Set("X-Request-Id", uuid.NewString())
	if userID := c.session.UserID(); userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for name, value := range overrides {
		req.Header.Set(name, value)
	}
}

func (c *Client) do(req *http.Request, path string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		contentType := resp.Header.Get("Content-Type")
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = mediaType
		}
		c.log.Debug("remote rejected request",
			"path", path,
			"status", resp.StatusCode,
			"request_id", req.Header.Get("X-Request-Id"),
		)
		return nil, &StatusError{
			Status:      resp.StatusCode,
			ContentType: contentType,
			Body:        respBody,
		}
	}
	return respBody, nil
}
