// Package api is the admission surface consumed by the Discord-facing
// command layer: submit a resync job, poll it, cancel it, read queue
// stats. Everything except the health check and metrics sits behind the
// shared API secret.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"resyncbot/logger"
	"resyncbot/monitor"
	"resyncbot/pipeline"
	"resyncbot/queue"
	"resyncbot/tracks"
	"resyncbot/usage"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Classifier decides the tier a requester is admitted under.
type Classifier interface {
	Classify(ctx context.Context, requesterID string) queue.Tier
}

// Server wires the scheduler and its collaborators to HTTP handlers.
type Server struct {
	sched      *queue.Scheduler
	classifier Classifier
	usage      *usage.Tracker
	pipeline   *pipeline.Client
	tracks     *tracks.Store // nil when no track database is configured
	secret     string
}

func NewServer(sched *queue.Scheduler, classifier Classifier, tracker *usage.Tracker, pipe *pipeline.Client, trackStore *tracks.Store, secret string) *Server {
	return &Server{
		sched:      sched,
		classifier: classifier,
		usage:      tracker,
		pipeline:   pipe,
		tracks:     trackStore,
		secret:     secret,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	r.Get("/", s.handleHealth)
	r.Handle("/metrics", monitor.Handler())

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireSecret)
		protected.Post("/resync", s.handleSubmit)
		protected.Get("/jobs/{id}", s.handleStatus)
		protected.Delete("/jobs/{id}", s.handleCancel)
		protected.Get("/stats", s.handleStats)
		protected.Get("/tracks/match", s.handleTrackMatch)
	})

	return r
}

// requireSecret guards the admission routes with the shared secret.
func (s *Server) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret != "" && r.Header.Get("X-API-Secret") != s.secret {
			writeError(w, http.StatusUnauthorized, "invalid or missing API secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type submitRequest struct {
	RequesterID string            `json:"requester_id"`
	Tier        string            `json:"tier,omitempty"` // hint only, classification wins
	Command     string            `json:"command"`
	VideoURL    string            `json:"video_url,omitempty"`
	AudioURL    string            `json:"audio_url,omitempty"`
	AudioOffset string            `json:"audio_offset,omitempty"`
	TrackID     string            `json:"track_id,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type submitResponse struct {
	JobID         string `json:"job_id"`
	Tier          string `json:"tier"`
	State         string `json:"state"`
	Position      int    `json:"position"`
	EstimatedWait string `json:"estimated_wait,omitempty"`
	Message       string `json:"message,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "requester_id is required")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	if req.Tier != "" {
		if _, err := queue.ParseTier(req.Tier); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	tier := s.classifier.Classify(r.Context(), req.RequesterID)

	if s.usage != nil {
		if err := s.usage.Check(req.RequesterID, req.Command, tier == queue.TierPremium); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
	}

	payload := queue.Payload{
		Command:     req.Command,
		VideoURL:    req.VideoURL,
		AudioURL:    req.AudioURL,
		AudioOffset: req.AudioOffset,
		TrackID:     req.TrackID,
		Extra:       req.Extra,
	}

	// Random resyncs with no track chosen yet get one from the database.
	if req.Command == pipeline.CommandRandomResync && payload.TrackID == "" && s.tracks != nil {
		track, err := s.tracks.Random(r.Context())
		if err != nil {
			logger.Warn("Random track pick failed", "error", err)
		} else {
			payload.TrackID = track.ID
			payload.AudioURL = track.URL
		}
	}

	handle, message, err := s.sched.Submit(queue.Job{
		RequesterID: req.RequesterID,
		Tier:        tier,
		Payload:     payload,
	})
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrUnknownTier):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, queue.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if s.usage != nil {
		s.usage.Log(req.RequesterID, req.Command)
	}

	status, _ := s.sched.Status(handle)
	writeJSON(w, http.StatusAccepted, submitResponse{
		JobID:         handle.ID,
		Tier:          string(tier),
		State:         string(status.State),
		Position:      status.Position,
		EstimatedWait: status.EstimatedWait,
		Message:       message,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	handle := queue.Handle{ID: chi.URLParam(r, "id")}
	status, err := s.sched.Status(handle)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	handle := queue.Handle{ID: chi.URLParam(r, "id")}
	cancelled, err := s.sched.Cancel(handle)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if !cancelled {
		writeJSON(w, http.StatusConflict, map[string]any{
			"cancelled": false,
			"reason":    "job already dispatched or finished",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": monitor.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"queue":  s.sched.Stats(),
		"uptime": monitor.Uptime().Round(time.Second).String(),
	}

	if s.usage != nil {
		stats["recent_commands"] = s.usage.RecentCount(5 * time.Minute)
	}
	if s.pipeline != nil {
		if backend, err := s.pipeline.Stats(r.Context()); err != nil {
			stats["backend"] = map[string]string{"error": err.Error()}
		} else {
			stats["backend"] = backend
		}
	}
	if s.tracks != nil {
		if count, err := s.tracks.Count(r.Context()); err == nil {
			stats["track_count"] = count
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTrackMatch(w http.ResponseWriter, r *http.Request) {
	if s.tracks == nil {
		writeError(w, http.StatusServiceUnavailable, "track database not configured")
		return
	}

	bpm, err := strconv.Atoi(r.URL.Query().Get("bpm"))
	if err != nil || bpm <= 0 {
		writeError(w, http.StatusBadRequest, "bpm must be a positive integer")
		return
	}
	tolerance := 5
	if t := r.URL.Query().Get("tolerance"); t != "" {
		if tolerance, err = strconv.Atoi(t); err != nil || tolerance < 0 {
			writeError(w, http.StatusBadRequest, "tolerance must be a non-negative integer")
			return
		}
	}

	matches, err := s.tracks.FindByBPM(r.Context(), bpm, tolerance)
	if errors.Is(err, tracks.ErrNoMatch) {
		writeJSON(w, http.StatusOK, []tracks.Track{})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
