// Package api exposes the sync and lock entry points over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"readaloud/internal/blob"
	"readaloud/internal/journal"
	"readaloud/internal/locks"
	"readaloud/internal/retryqueue"
	"readaloud/internal/syncer"
)

const (
	requestTimeout    = 2 * time.Minute
	readHeaderTimeout = 10 * time.Second
	// bodyReadTimeout bounds reading an upload body
	bodyReadTimeout = 5 * time.Minute
	timeoutMargin   = 30 * time.Second
	recentEvents    = 20
	maxAudioBytes   = 256 << 20
)

// Uploads stores recorded audio
type Uploads interface {
	Configured() bool
	// Budget is the longest Store may take
	Budget() time.Duration
	Store(ctx context.Context, id string, data []byte, mime string, onProgress blob.ProgressFunc) (blob.StoredBlob, error)
}

// Schedule reports the background sync state
type Schedule interface {
	IsRunning() bool
	NextSync() *time.Time
}

// Deps are the components served by the API. Journal, Uploads and Scheduler may be nil.
type Deps struct {
	Engine    *syncer.Engine
	Queue     *retryqueue.Queue
	Locks     *locks.Manager
	Journal   journal.Reader
	Uploads   Uploads
	Scheduler Schedule
}

// Server wraps the chi router and the http.Server
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the router and registers every route
func NewServer(port string, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	// Uploads run under the uploader's own per-attempt timeouts
	r.Post("/api/chapters/{chapterID}/recordings", s.uploadRecording)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(requestTimeout))

		r.Get("/health", s.health)

		r.Route("/api", func(api chi.Router) {
			api.Get("/status", s.status)

			api.Route("/sync", func(sync chi.Router) {
				sync.Post("/", s.syncFromRemote)
				sync.Post("/push", s.syncToRemote)
				sync.Post("/pending", s.processPending)
				sync.Post("/force", s.forceResync)
			})

			api.Route("/locks", func(l chi.Router) {
				l.Get("/", s.activeLocks)
				l.Get("/{chapterID}", s.checkLock)
				l.Post("/{chapterID}", s.acquireLock)
				l.Delete("/{chapterID}", s.releaseLock)
			})
		})
	})

	writeTimeout := requestTimeout
	if deps.Uploads != nil && deps.Uploads.Budget() > writeTimeout {
		writeTimeout = deps.Uploads.Budget()
	}

	s.router = r
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       bodyReadTimeout,
		WriteTimeout:      bodyReadTimeout + writeTimeout + timeoutMargin,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server is closed
func (s *Server) ListenAndServe() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}
