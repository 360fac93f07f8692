package blob

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"readaloud/internal/journal"
	"readaloud/internal/notify"
)

const (
	// UploadTimeout bounds a single upload attempt
	UploadTimeout = 3 * time.Minute
	// MaxAttempts is the number of upload attempts before falling back
	MaxAttempts = 2
	// RetryDelay separates upload attempts
	RetryDelay = 2 * time.Second
	// EmbedLimit is the size below which a failed upload is stored inline
	EmbedLimit = 4 << 20
)

var (
	// ErrUploadTimeout is returned when an attempt exceeds the upload timeout
	ErrUploadTimeout = errors.New("upload timed out")
	// ErrNotConfigured is returned when no usable backend is configured
	ErrNotConfigured = errors.New("blob storage is not configured")
)

// UploadError is returned when every attempt failed and the blob is too large to embed
type UploadError struct {
	ID   string
	Size int
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed (%d bytes): %v", e.ID, e.Size, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// StoredBlob describes where a recording ended up
type StoredBlob struct {
	URL      string `json:"url"`
	Embedded bool   `json:"embedded"`
}

// ProgressFunc receives the number of bytes sent so far
type ProgressFunc func(sent, total int64)

// Uploader applies the timeout, retry and fallback rules on top of a Backend
type Uploader struct {
	backend    Backend
	notifier   notify.Notifier
	journal    journal.Recorder
	logger     *zap.Logger
	timeout    time.Duration
	retryDelay time.Duration
}

// Option configures an Uploader
type Option func(*Uploader)

// WithTimeout overrides UploadTimeout
func WithTimeout(d time.Duration) Option {
	return func(u *Uploader) { u.timeout = d }
}

// WithRetryDelay overrides RetryDelay
func WithRetryDelay(d time.Duration) Option {
	return func(u *Uploader) { u.retryDelay = d }
}

// WithNotifier reports uploads that could not be stored
func WithNotifier(n notify.Notifier) Option {
	return func(u *Uploader) { u.notifier = n }
}

// WithJournal records fallbacks and failures
func WithJournal(r journal.Recorder) Option {
	return func(u *Uploader) { u.journal = r }
}

// NewUploader wraps backend. A nil backend is treated as unconfigured.
func NewUploader(backend Backend, logger *zap.Logger, opts ...Option) *Uploader {
	if backend == nil {
		backend = Unconfigured{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	u := &Uploader{
		backend:    backend,
		notifier:   notify.Nop{},
		journal:    journal.Nop{},
		logger:     logger,
		timeout:    UploadTimeout,
		retryDelay: RetryDelay,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Configured reports whether uploads can be attempted
func (u *Uploader) Configured() bool {
	return u.backend.Configured()
}

// Budget is the longest Store can take: every attempt timing out plus the delays between them
func (u *Uploader) Budget() time.Duration {
	return MaxAttempts*u.timeout + (MaxAttempts-1)*u.retryDelay
}

// Backend returns the name of the active backend
func (u *Uploader) Backend() string {
	return u.backend.Name()
}

type uploadResult struct {
	url string
	err error
}

// Upload makes one attempt bounded by the upload timeout. The attempt is
// abandoned when the timeout fires even if the backend ignores ctx.
func (u *Uploader) Upload(ctx context.Context, id string, data []byte, mime string, onProgress ProgressFunc) (string, error) {
	if !u.backend.Configured() {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	done := make(chan uploadResult, 1)
	go func() {
		r := &progressReader{r: bytes.NewReader(data), total: int64(len(data)), onProgress: onProgress}
		url, err := u.backend.Upload(ctx, id, r, int64(len(data)), mime)
		done <- uploadResult{url: url, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.url, nil
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s: %v", ErrUploadTimeout, u.timeout, res.err)
		}
		return "", fmt.Errorf("%s upload of %s: %w", u.backend.Name(), id, res.err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrUploadTimeout, u.timeout)
		}
		return "", ctx.Err()
	}
}

// Store uploads data with retries. When every attempt fails, blobs below
// EmbedLimit come back as a data URL and larger ones as an *UploadError.
func (u *Uploader) Store(ctx context.Context, id string, data []byte, mime string, onProgress ProgressFunc) (StoredBlob, error) {
	var url string
	attempts := 0

	err := retry.Do(ctx, retry.WithMaxRetries(MaxAttempts-1, retry.NewConstant(u.retryDelay)), func(ctx context.Context) error {
		attempts++
		var err error
		url, err = u.Upload(ctx, id, data, mime, onProgress)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotConfigured) {
			return err
		}
		u.logger.Warn("Upload attempt failed",
			zap.String("id", id),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		return retry.RetryableError(err)
	})
	if err == nil {
		return StoredBlob{URL: url}, nil
	}

	if len(data) < EmbedLimit {
		u.logger.Warn("Storing recording inline after failed upload",
			zap.String("id", id),
			zap.Int("size", len(data)),
			zap.Error(err),
		)
		u.record(ctx, journal.OutcomeEmbedded, id, err)
		return StoredBlob{URL: DataURL(mime, data), Embedded: true}, nil
	}

	uerr := &UploadError{ID: id, Size: len(data), Err: err}
	u.logger.Error("Recording could not be stored", zap.String("id", id), zap.Int("size", len(data)), zap.Error(err))
	u.record(ctx, journal.OutcomeFailed, id, err)
	u.notifier.Notify(ctx, fmt.Sprintf("A recording (%d MB) could not be uploaded: %v", len(data)>>20, err))
	return StoredBlob{}, uerr
}

// Delete removes an uploaded blob. Inline data URLs need no backend call.
func (u *Uploader) Delete(ctx context.Context, id, url string) bool {
	if IsDataURL(url) {
		return true
	}
	if !u.backend.Configured() {
		return false
	}
	deleted, err := u.backend.Delete(ctx, id, url)
	if err != nil {
		u.logger.Warn("Failed to delete blob", zap.String("id", id), zap.Error(err))
		return false
	}
	return deleted
}

func (u *Uploader) record(ctx context.Context, outcome, id string, err error) {
	e := journal.Event{
		At:      time.Now(),
		Kind:    journal.KindUpload,
		Outcome: outcome,
		Count:   1,
		Detail:  id + ": " + err.Error(),
	}
	if jerr := u.journal.Record(ctx, e); jerr != nil {
		u.logger.Warn("Failed to write sync journal", zap.Error(jerr))
	}
}

// DataURL encodes data as a base64 data URL
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// IsDataURL reports whether url holds inline data
func IsDataURL(url string) bool {
	return strings.HasPrefix(url, "data:")
}

type progressReader struct {
	r          io.Reader
	sent       atomic.Int64
	total      int64
	onProgress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.onProgress != nil {
		p.onProgress(p.sent.Add(int64(n)), p.total)
	}
	return n, err
}
