package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"readaloud/internal/journal"
)

var errQuota = errors.New("quota exceeded")

// fakeBackend fails, hangs or succeeds on demand
type fakeBackend struct {
	mu         sync.Mutex
	err        error
	hang       bool
	calls      int
	deleted    []string
	configured bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{configured: true}
}

func (f *fakeBackend) Name() string               { return "fake" }
func (f *fakeBackend) Configured() bool           { return f.configured }
func (f *fakeBackend) PublicURL(id string) string { return "https://cdn.example/" + id }

func (f *fakeBackend) Upload(ctx context.Context, id string, r io.Reader, size int64, mime string) (string, error) {
	f.mu.Lock()
	f.calls++
	hang, err := f.hang, f.err
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if _, rerr := io.Copy(io.Discard, r); rerr != nil {
		return "", rerr
	}
	if err != nil {
		return "", err
	}
	return f.PublicURL(id), nil
}

func (f *fakeBackend) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) Delete(ctx context.Context, id, url string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return true, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, text)
}

func newTestUploader(backend Backend, opts ...Option) *Uploader {
	opts = append([]Option{WithRetryDelay(time.Millisecond)}, opts...)
	return NewUploader(backend, zap.NewNop(), opts...)
}

func TestStore_Success(t *testing.T) {
	backend := newFakeBackend()
	u := newTestUploader(backend)

	var lastSent, lastTotal int64
	blob, err := u.Store(context.Background(), "r1", []byte("audio"), "audio/webm", func(sent, total int64) {
		lastSent, lastTotal = sent, total
	})

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/r1", blob.URL)
	assert.False(t, blob.Embedded)
	assert.Equal(t, 1, backend.Calls())
	assert.Equal(t, int64(5), lastSent)
	assert.Equal(t, int64(5), lastTotal)
}

func TestStore_SmallBlobEmbedded(t *testing.T) {
	backend := newFakeBackend()
	backend.err = errQuota
	j := journal.NewMemory()
	u := newTestUploader(backend, WithJournal(j))

	data := make([]byte, 3<<20)
	blob, err := u.Store(context.Background(), "r1", data, "audio/webm", nil)

	require.NoError(t, err)
	assert.True(t, blob.Embedded)
	assert.True(t, strings.HasPrefix(blob.URL, "data:audio/webm;base64,"))
	assert.Equal(t, MaxAttempts, backend.Calls())

	events := j.Events()
	require.Len(t, events, 1)
	assert.Equal(t, journal.OutcomeEmbedded, events[0].Outcome)
}

func TestStore_LargeBlobFails(t *testing.T) {
	backend := newFakeBackend()
	backend.err = errQuota
	notifier := &recordingNotifier{}
	u := newTestUploader(backend, WithNotifier(notifier))

	data := make([]byte, 10<<20)
	_, err := u.Store(context.Background(), "r1", data, "audio/webm", nil)

	require.Error(t, err)
	var uerr *UploadError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "r1", uerr.ID)
	assert.ErrorIs(t, err, errQuota)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, MaxAttempts, backend.Calls())
	assert.Len(t, notifier.notices, 1)
}

func TestStore_EmbedBoundary(t *testing.T) {
	backend := newFakeBackend()
	backend.err = errQuota
	u := newTestUploader(backend)

	blob, err := u.Store(context.Background(), "below", make([]byte, EmbedLimit-1), "audio/webm", nil)
	require.NoError(t, err)
	assert.True(t, blob.Embedded)

	_, err = u.Store(context.Background(), "at", make([]byte, EmbedLimit), "audio/webm", nil)
	assert.Error(t, err)
}

func TestUpload_Timeout(t *testing.T) {
	backend := newFakeBackend()
	backend.hang = true
	u := newTestUploader(backend, WithTimeout(20*time.Millisecond))

	_, err := u.Upload(context.Background(), "r1", []byte("audio"), "audio/webm", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadTimeout)
	assert.NotErrorIs(t, err, errQuota)
}

func TestUpload_TimeoutIsDistinguishableAfterRetries(t *testing.T) {
	backend := newFakeBackend()
	backend.hang = true
	u := newTestUploader(backend, WithTimeout(10*time.Millisecond))

	_, err := u.Store(context.Background(), "r1", make([]byte, 5<<20), "audio/webm", nil)

	assert.ErrorIs(t, err, ErrUploadTimeout)
	assert.Equal(t, MaxAttempts, backend.Calls())
}

func TestUpload_BackendErrorWrapped(t *testing.T) {
	backend := newFakeBackend()
	backend.err = errQuota
	u := newTestUploader(backend)

	_, err := u.Upload(context.Background(), "r1", []byte("audio"), "audio/webm", nil)

	assert.ErrorIs(t, err, errQuota)
	assert.NotErrorIs(t, err, ErrUploadTimeout)
}

func TestUploader_NotConfigured(t *testing.T) {
	backend := newFakeBackend()
	backend.configured = false
	u := newTestUploader(backend)

	assert.False(t, u.Configured())
	_, err := u.Upload(context.Background(), "r1", []byte("audio"), "audio/webm", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	blob, err := u.Store(context.Background(), "r1", []byte("audio"), "audio/webm", nil)
	require.NoError(t, err)
	assert.True(t, blob.Embedded)
	assert.Equal(t, 0, backend.Calls())
	assert.Equal(t, DataURL("audio/webm", []byte("audio")), blob.URL)
}

func TestUploader_Delete(t *testing.T) {
	backend := newFakeBackend()
	u := newTestUploader(backend)
	ctx := context.Background()

	assert.True(t, u.Delete(ctx, "r1", "data:audio/webm;base64,AAAA"))
	assert.Empty(t, backend.deleted)

	assert.True(t, u.Delete(ctx, "r2", "https://cdn.example/r2"))
	assert.Equal(t, []string{"r2"}, backend.deleted)

	assert.False(t, NewUploader(nil, nil).Delete(ctx, "r3", "https://cdn.example/r3"))
}

func TestUploader_Budget(t *testing.T) {
	u := NewUploader(nil, nil)
	assert.Equal(t, 2*UploadTimeout+RetryDelay, u.Budget())

	u = NewUploader(nil, nil, WithTimeout(time.Minute), WithRetryDelay(time.Second))
	assert.Equal(t, 2*time.Minute+time.Second, u.Budget())
}
