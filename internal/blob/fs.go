package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

func init() {
	Register("fs", NewFSBackend)
}

// FSBackend writes objects to a directory served by some other process
type FSBackend struct {
	dir       string
	publicURL string
}

// NewFSBackend creates a backend rooted at cfg.FSDir
func NewFSBackend(cfg Config) (Backend, error) {
	if cfg.FSDir == "" {
		return nil, errors.New("FS directory is not set")
	}
	if err := os.MkdirAll(cfg.FSDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FSBackend{dir: cfg.FSDir, publicURL: strings.TrimRight(cfg.FSPublicURL, "/")}, nil
}

func (b *FSBackend) Name() string     { return "fs" }
func (b *FSBackend) Configured() bool { return true }

func (b *FSBackend) PublicURL(id string) string {
	if b.publicURL == "" {
		return (&url.URL{Scheme: "file", Path: b.path(id)}).String()
	}
	return b.publicURL + "/" + url.PathEscape(id)
}

func (b *FSBackend) path(id string) string {
	return filepath.Join(b.dir, filepath.Base(id))
}

func (b *FSBackend) Upload(ctx context.Context, id string, r io.Reader, _ int64, _ string) (string, error) {
	tmp, err := os.CreateTemp(b.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path(id)); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return b.PublicURL(id), nil
}

func (b *FSBackend) Delete(_ context.Context, id, _ string) (bool, error) {
	err := os.Remove(b.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete blob: %w", err)
	}
	return true, nil
}

// contextReader stops reading once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
