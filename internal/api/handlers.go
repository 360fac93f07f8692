package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"readaloud/internal/blob"
	"readaloud/internal/journal"
	"readaloud/internal/locks"
	"readaloud/internal/models"
)

// Status is the body of GET /api/status
type Status struct {
	RemoteAvailable  bool            `json:"remote_available"`
	BlobConfigured   bool            `json:"blob_configured"`
	PendingOps       int             `json:"pending_operations"`
	SchedulerRunning bool            `json:"scheduler_running"`
	NextSync         *time.Time      `json:"next_sync,omitempty"`
	Recent           []journal.Event `json:"recent,omitempty"`
}

type acquireRequest struct {
	ReaderID   string `json:"reader_id"`
	ReaderName string `json:"reader_name"`
	// Exclusive refuses the lease when another reader holds it
	Exclusive bool `json:"exclusive"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	status := Status{
		RemoteAvailable: s.deps.Engine.Available(),
		PendingOps:      s.deps.Queue.Len(),
	}
	if s.deps.Uploads != nil {
		status.BlobConfigured = s.deps.Uploads.Configured()
	}
	if s.deps.Scheduler != nil {
		status.SchedulerRunning = s.deps.Scheduler.IsRunning()
		status.NextSync = s.deps.Scheduler.NextSync()
	}
	if s.deps.Journal != nil {
		recent, err := s.deps.Journal.Recent(r.Context(), recentEvents)
		if err != nil {
			s.logger.Warn("Failed to read sync journal", zap.Error(err))
		} else {
			status.Recent = recent
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) syncFromRemote(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Engine.SyncFromRemote(r.Context()))
}

func (s *Server) syncToRemote(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Engine.SyncToRemote(r.Context()))
}

func (s *Server) processPending(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Engine.ProcessPendingOperations(r.Context()))
}

func (s *Server) forceResync(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Engine.ForceResync(r.Context()))
}

func (s *Server) activeLocks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Locks.ActiveLocks(r.Context()))
}

func (s *Server) checkLock(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	reader := r.URL.Query().Get("reader")
	s.writeJSON(w, http.StatusOK, s.deps.Locks.CheckLock(r.Context(), chapterID, reader))
}

func (s *Server) acquireLock(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")

	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReaderID == "" {
		s.writeError(w, http.StatusBadRequest, "reader_id is required")
		return
	}

	if !req.Exclusive {
		s.writeJSON(w, http.StatusOK, s.deps.Locks.Acquire(r.Context(), chapterID, req.ReaderID, req.ReaderName))
		return
	}

	lock, err := s.deps.Locks.TryAcquire(r.Context(), chapterID, req.ReaderID, req.ReaderName)
	switch {
	case errors.Is(err, locks.ErrHeld):
		s.writeJSON(w, http.StatusConflict, s.deps.Locks.CheckLock(r.Context(), chapterID, req.ReaderID))
	case err != nil:
		s.logger.Error("Failed to acquire lock", zap.String("chapter_id", chapterID), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writeJSON(w, http.StatusOK, lock)
	}
}

func (s *Server) releaseLock(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	reader := r.URL.Query().Get("reader")
	if reader == "" {
		s.writeError(w, http.StatusBadRequest, "reader is required")
		return
	}
	s.deps.Locks.Release(r.Context(), chapterID, reader)
	w.WriteHeader(http.StatusNoContent)
}

// uploadRecording stores the request body as the audio of a new recording.
// Query: reader (required), duration in seconds.
func (s *Server) uploadRecording(w http.ResponseWriter, r *http.Request) {
	chapterID := chi.URLParam(r, "chapterID")
	// A recording without a local chapter would be purged as an orphan on the next pull
	if _, ok := s.deps.Engine.Chapter(chapterID); !ok {
		s.writeError(w, http.StatusNotFound, "chapter not found")
		return
	}
	reader := r.URL.Query().Get("reader")
	if reader == "" {
		s.writeError(w, http.StatusBadRequest, "reader is required")
		return
	}
	duration, err := parseDuration(r.URL.Query().Get("duration"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid duration")
		return
	}
	if s.deps.Uploads == nil {
		s.writeError(w, http.StatusServiceUnavailable, blob.ErrNotConfigured.Error())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	if len(data) == 0 {
		s.writeError(w, http.StatusBadRequest, "empty recording")
		return
	}
	mime := r.Header.Get("Content-Type")
	if mime == "" {
		mime = "audio/webm"
	}

	id := uuid.NewString()
	stored, err := s.deps.Uploads.Store(r.Context(), id, data, mime, nil)
	if err != nil {
		var uerr *blob.UploadError
		if errors.As(err, &uerr) {
			s.writeError(w, http.StatusBadGateway, uerr.Error())
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	rec := s.deps.Engine.SaveRecording(r.Context(), models.Recording{
		ID:              id,
		ChapterID:       chapterID,
		ReaderID:        reader,
		AudioURL:        stored.URL,
		DurationSeconds: duration,
	})
	s.writeJSON(w, http.StatusCreated, rec)
}

func parseDuration(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		return 0, errors.New("invalid duration")
	}
	return d, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}
