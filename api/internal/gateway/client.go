package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is the single chokepoint for calls to the grading backend. Every
// request goes through do(), which attaches the bearer token, tags the request
// with an X-Request-ID and classifies the outcome. A 401 on any endpoint fires
// the unauthorized hook before the error is returned.
type Client struct {
	baseURL      string
	httpc        *http.Client // ordinary calls
	extractc     *http.Client // extraction runs model inference, give it room
	unauthorized func(token string)
}

func New(baseURL string, timeout, extractTimeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpc:    &http.Client{Timeout: timeout},
		extractc: &http.Client{Timeout: extractTimeout},
	}
}

// SetUnauthorizedHook registers the session-expiry callback. It is invoked
// with the token the failing request carried, for every endpoint that comes
// back 401.
func (c *Client) SetUnauthorizedHook(fn func(token string)) { c.unauthorized = fn }

func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return nil, newError(KindValidation, 0, "Username and password must not be empty.", nil)
	}
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	var out LoginResponse
	if err := c.do(ctx, c.httpc, http.MethodPost, "/api/auth/login", "", "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, newError(KindValidation, 0, "", fmt.Errorf("login: response carries no access_token"))
	}
	return &out, nil
}

func (c *Client) CurrentUser(ctx context.Context, token string) (*User, error) {
	var out User
	if err := c.do(ctx, c.httpc, http.MethodGet, "/api/auth/me", token, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Extract uploads the document and returns the answer sheet the backend read
// off it. Long-running; uses the dedicated extract client.
func (c *Client) Extract(ctx context.Context, token string, doc *Document) (*ExtractedData, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(fileHeader("file", doc.Name, doc.MIME))
	if err != nil {
		return nil, newError(KindServer, 0, "", fmt.Errorf("extract: build multipart: %w", err))
	}
	if _, err := part.Write(doc.Bytes); err != nil {
		return nil, newError(KindServer, 0, "", fmt.Errorf("extract: build multipart: %w", err))
	}
	if err := mw.Close(); err != nil {
		return nil, newError(KindServer, 0, "", fmt.Errorf("extract: build multipart: %w", err))
	}
	var out ExtractedData
	if err := c.do(ctx, c.extractc, http.MethodPost, "/api/extract-answers", token, mw.FormDataContentType(), &buf, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Grade submits the untouched extraction payload together with the full
// correction map. The backend is stateless per call, so both travel whole.
func (c *Client) Grade(ctx context.Context, token string, extracted *ExtractedData, corrections map[string]string) (*GradingResult, error) {
	body, _ := json.Marshal(map[string]any{
		"extracted_data":    extracted,
		"corrected_answers": corrections,
	})
	var out GradingResult
	if err := c.do(ctx, c.httpc, http.MethodPost, "/api/grade-with-corrections", token, "application/json", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Results(ctx context.Context, token string, skip, limit int) ([]GradingResult, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	q.Set("limit", strconv.Itoa(limit))
	var out []GradingResult
	if err := c.do(ctx, c.httpc, http.MethodGet, "/api/test-results?"+q.Encode(), token, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, c.httpc, http.MethodGet, "/health", "", "", nil, &out)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path, token, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return newError(KindServer, 0, "", err)
	}
	reqID := uuid.New().String()
	req.Header.Set("X-Request-ID", reqID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		slog.Warn("backend call failed", "method", method, "path", path, "request_id", reqID, "err", err)
		return newError(KindNetwork, 0, "", err)
	}
	defer resp.Body.Close()
	slog.Debug("backend call", "method", method, "path", path,
		"status", resp.StatusCode, "request_id", reqID, "duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if c.unauthorized != nil {
			c.unauthorized(token)
		}
		return newError(KindAuthExpired, resp.StatusCode, readDetail(resp.Body), nil)
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return newError(KindValidation, resp.StatusCode, readDetail(resp.Body), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		x, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newError(KindServer, resp.StatusCode, detailFromBytes(x),
			fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(x))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(KindServer, resp.StatusCode, "", fmt.Errorf("%s %s: bad JSON: %w", method, path, err))
	}
	return nil
}

// readDetail pulls the structured error message out of an error body, so the
// user sees the server's own words. Missing or unreadable detail falls back to
// the per-kind message.
func readDetail(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return detailFromBytes(b)
}

func detailFromBytes(b []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Detail)
}

func fileHeader(field, filename, mime string) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if mime == "" {
		mime = "application/octet-stream"
	}
	h.Set("Content-Type", mime)
	return h
}
