package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

func init() {
	Register("http", NewHTTPBackend)
}

// HTTPBackend stores objects on a storage service speaking plain PUT/DELETE
type HTTPBackend struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewHTTPBackend creates a backend for cfg.HTTPEndpoint
func NewHTTPBackend(cfg Config) (Backend, error) {
	if cfg.HTTPEndpoint == "" {
		return nil, errors.New("HTTP endpoint is not set")
	}
	if _, err := url.Parse(cfg.HTTPEndpoint); err != nil {
		return nil, fmt.Errorf("invalid HTTP endpoint: %w", err)
	}
	return &HTTPBackend{
		endpoint: strings.TrimRight(cfg.HTTPEndpoint, "/"),
		token:    cfg.HTTPToken,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

func (b *HTTPBackend) Name() string     { return "http" }
func (b *HTTPBackend) Configured() bool { return b.token != "" }

func (b *HTTPBackend) PublicURL(id string) string {
	return b.endpoint + "/" + url.PathEscape(id)
}

// uploadResponse is the optional JSON body returned by the service
type uploadResponse struct {
	URL string `json:"url"`
}

func (b *HTTPBackend) Upload(ctx context.Context, id string, r io.Reader, size int64, mime string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.PublicURL(id), r)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", mime)
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed uploadResponse
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil && parsed.URL != "" {
		return parsed.URL, nil
	}
	return b.PublicURL(id), nil
}

func (b *HTTPBackend) Delete(ctx context.Context, id, _ string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.PublicURL(id), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to delete: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, fmt.Errorf("delete failed with status %d", resp.StatusCode)
	}
	return true, nil
}
