package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jupiterclapton/cenackle/services/feedsync/internal/adapters/primary/gesture"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/domain"
	"github.com/jupiterclapton/cenackle/services/feedsync/internal/core/ports"
)

type ImpressionRecorder interface {
	Track(postID string)
}

type ModeReporter interface {
	Degraded() bool
}

// Server expose l'état du moteur en lecture seule, plus les commandes
// refresh / loadMore / applyLocalUpdate.
type Server struct {
	engine      ports.FeedEngine
	gestures    *gesture.Controller
	impressions ImpressionRecorder
	mode        ModeReporter
	metrics     http.Handler
	router      chi.Router
}

type Option func(*Server)

func WithImpressions(r ImpressionRecorder) Option { return func(s *Server) { s.impressions = r } }
func WithModeReporter(m ModeReporter) Option      { return func(s *Server) { s.mode = m } }
func WithMetrics(h http.Handler) Option           { return func(s *Server) { s.metrics = h } }

func NewServer(engine ports.FeedEngine, gestures *gesture.Controller, opts ...Option) *Server {
	s := &Server{engine: engine, gestures: gestures}
	for _, o := range opts {
		o(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/feed", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Get("/stream", s.handleStream)
		r.Put("/key", s.handleActivate)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/more", s.handleLoadMore)
		r.Post("/check", s.handleCheckNewer)
		r.Post("/scroll", s.handleScroll)
	})

	r.Route("/posts/{postID}", func(r chi.Router) {
		r.Post("/like", s.mutation(domain.MutationLike))
		r.Delete("/like", s.mutation(domain.MutationUnlike))
		r.Post("/bookmark", s.mutation(domain.MutationBookmark))
		r.Delete("/bookmark", s.mutation(domain.MutationUnbookmark))
		r.Delete("/", s.mutation(domain.MutationDelete))
		r.Post("/impression", s.handleImpression)
	})

	if s.gestures != nil {
		r.Route("/gesture", func(r chi.Router) {
			r.Post("/start", s.handleGestureStart)
			r.Post("/move", s.handleGestureMove)
			r.Post("/end", s.handleGestureEnd)
		})
	}

	s.router = r
}

// --- feed ---

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var key domain.FeedKey
	if err := json.NewDecoder(r.Body).Decode(&key); err != nil {
		writeError(w, http.StatusBadRequest, "invalid feed key")
		return
	}
	s.command(w, s.engine.Activate(r.Context(), key))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.engine.Refresh(r.Context()))
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.engine.LoadMore(r.Context()))
}

func (s *Server) handleCheckNewer(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.engine.CheckForNewer(r.Context()))
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Offset float64 `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid scroll offset")
		return
	}
	s.engine.SetScrollOffset(req.Offset)
	w.WriteHeader(http.StatusNoContent)
}

// handleStream pousse chaque nouveau snapshot en server-sent events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	snaps, unsubscribe := s.engine.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				slog.Error("❌ Snapshot encoding failed", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "event: snapshot\nid: %d\ndata: %s\n\n", snap.Version, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// --- posts ---

func (s *Server) mutation(kind domain.MutationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID := chi.URLParam(r, "postID")
		s.command(w, s.engine.ApplyLocalUpdate(r.Context(), postID, kind))
	}
}

func (s *Server) handleImpression(w http.ResponseWriter, r *http.Request) {
	if s.impressions != nil {
		s.impressions.Track(chi.URLParam(r, "postID"))
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- gesture ---

type pointer struct {
	Y         float64 `json:"y"`
	ScrollTop float64 `json:"scrollTop"`
}

func (s *Server) handleGestureStart(w http.ResponseWriter, r *http.Request) {
	var p pointer
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pointer")
		return
	}
	writeJSON(w, http.StatusOK, s.gestures.Start(p.Y, p.ScrollTop))
}

func (s *Server) handleGestureMove(w http.ResponseWriter, r *http.Request) {
	var p pointer
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pointer")
		return
	}
	writeJSON(w, http.StatusOK, s.gestures.Move(p.Y, p.ScrollTop))
}

func (s *Server) handleGestureEnd(w http.ResponseWriter, r *http.Request) {
	triggered, err := s.gestures.End(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"triggered": triggered,
		"feed":      s.engine.Snapshot(),
	})
}

// --- health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	mode := "push"
	if s.mode != nil && s.mode.Degraded() {
		mode = "polling"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "events": mode})
}

// --- helpers ---

func (s *Server) command(w http.ResponseWriter, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Warn("Command failed", "status", status, "error", err)
	}
	var me *domain.MutationError
	if errors.As(err, &me) {
		writeJSON(w, status, map[string]any{"error": err.Error(), "rolledBack": true})
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var fe *domain.FetchError
	var me *domain.MutationError
	switch {
	case errors.Is(err, domain.ErrInvalidFeedKey), errors.Is(err, domain.ErrInvalidPageRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPostNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoActiveFeed):
		return http.StatusConflict
	case errors.As(err, &me), errors.As(err, &fe):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
