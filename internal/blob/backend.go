// Package blob uploads recorded audio to a storage backend, with bounded
// retries and an inline fallback for small recordings.
package blob

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Backend stores audio objects and serves them under a public URL
type Backend interface {
	Name() string
	// Configured reports whether the backend has everything it needs to upload
	Configured() bool
	Upload(ctx context.Context, id string, r io.Reader, size int64, mime string) (string, error)
	// Delete removes the object. It returns false when there was nothing to delete.
	Delete(ctx context.Context, id, url string) (bool, error)
	PublicURL(id string) string
}

// Config carries the settings of every backend; each backend reads its own fields
type Config struct {
	Backend string

	HTTPEndpoint string
	HTTPToken    string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PublicURL string

	FSDir       string
	FSPublicURL string
}

// Factory builds a backend from cfg
type Factory func(cfg Config) (Backend, error)

// DefaultBackend is used when Config.Backend is empty
const DefaultBackend = "http"

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available by name
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Backends returns the registered backend names
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend builds the backend named in cfg. Unknown names and factory
// errors yield a backend that reports itself unconfigured, along with the reason.
func NewBackend(cfg Config) (Backend, error) {
	name := cfg.Backend
	if name == "" {
		name = DefaultBackend
	}

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return Unconfigured{name: name}, fmt.Errorf("unknown blob backend %q", name)
	}

	backend, err := factory(cfg)
	if err != nil {
		return Unconfigured{name: name}, fmt.Errorf("blob backend %s: %w", name, err)
	}
	return backend, nil
}

// Unconfigured refuses every call with ErrNotConfigured
type Unconfigured struct {
	name string
}

func (u Unconfigured) Name() string          { return u.name }
func (Unconfigured) Configured() bool        { return false }
func (Unconfigured) PublicURL(string) string { return "" }

func (Unconfigured) Upload(context.Context, string, io.Reader, int64, string) (string, error) {
	return "", ErrNotConfigured
}

func (Unconfigured) Delete(context.Context, string, string) (bool, error) {
	return false, ErrNotConfigured
}
