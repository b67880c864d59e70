package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"petsim/internal/jobqueue"
	"petsim/internal/models"
	"petsim/internal/pet"
	"petsim/internal/petservice"
	"petsim/internal/telemetry"
)

// Jobs is the job administration the API exposes.
type Jobs interface {
	List(ctx context.Context) ([]models.Job, error)
	Get(ctx context.Context, name string) (models.Job, error)
	Trigger(ctx context.Context, name string) (models.Job, error)
}

// Pets is the owner-facing pet service.
type Pets interface {
	Create(ctx context.Context, ownerID int64, in petservice.NewPet) (models.Pet, error)
	Get(ctx context.Context, id, ownerID int64) (models.Pet, error)
	UpdateStats(ctx context.Context, id, ownerID int64, d pet.Delta) (models.Pet, error)
	UpdateStatsWithChances(ctx context.Context, id, ownerID int64, cd pet.ChanceDelta) (models.Pet, error)
	StartSearch(ctx context.Context, id, ownerID int64) (models.Pet, error)
	Restore(ctx context.Context, id, ownerID int64) (pet.RestoreResult, models.Pet, error)
	Delete(ctx context.Context, id, ownerID int64) error
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Limiter throttles owner requests.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// OwnerHeader carries the authenticated owner id, set by the upstream gateway.
const OwnerHeader = "X-Owner-ID"

// Server wires HTTP handlers for the admin surface.
type Server struct {
	jobs    Jobs
	pets    Pets
	db      Pinger
	limiter Limiter
	log     *slog.Logger
}

// New constructs the API server. limiter may be nil.
func New(jobs Jobs, pets Pets, db Pinger, limiter Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{jobs: jobs, pets: pets, db: db, limiter: limiter, log: log}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{name}", s.handleGetJob)
		r.Post("/{name}/trigger", s.handleTrigger)
	})

	r.Route("/pets", func(r chi.Router) {
		r.Use(requireOwner)
		r.Use(s.rateLimit)
		r.Post("/", s.handleCreatePet)
		r.Get("/{id}", s.handleGetPet)
		r.Delete("/{id}", s.handleDeletePet)
		r.Post("/{id}/search", s.handleSearch)
		r.Post("/{id}/restore", s.handleRestore)
		r.Patch("/{id}/stats", s.handleUpdateStats)
		r.Patch("/{id}/stats/chances", s.handleUpdateStatsWithChances)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Trigger(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info("job triggered", "job", job.Name)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleCreatePet(w http.ResponseWriter, r *http.Request) {
	var req petservice.NewPet
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	p, err := s.pets.Create(r.Context(), ownerFrom(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPet(w http.ResponseWriter, r *http.Request) {
	id, ok := petID(w, r)
	if !ok {
		return
	}
	p, err := s.pets.Get(r.Context(), id, ownerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePet(w http.ResponseWriter, r *http.Request) {
	id, ok := petID(w, r)
	if !ok {
		return
	}
	if err := s.pets.Delete(r.Context(), id, ownerFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := petID(w, r)
	if !ok {
		return
	}
	p, err := s.pets.StartSearch(r.Context(), id, ownerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":     "The search has started. Come back in 5 hours.",
		"search_ends": p.SearchStartedAt.Add(pet.SearchDuration),
		"pet":         p,
	})
}

type restoreResponse struct {
	Outcome          string      `json:"outcome"`
	Message          string      `json:"message"`
	RemainingSeconds int64       `json:"remaining_seconds,omitempty"`
	Pet              *models.Pet `json:"pet,omitempty"`
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, ok := petID(w, r)
	if !ok {
		return
	}
	res, p, err := s.pets.Restore(r.Context(), id, ownerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body := restoreResponse{Outcome: res.Outcome.String(), Message: res.Message()}
	switch res.Outcome {
	case pet.RestorePending:
		body.RemainingSeconds = int64(res.Remaining.Seconds())
	case pet.Restored:
		body.Pet = &p
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUpdateStats(w http.ResponseWriter, r *http.Request) {
	id, ok := petID(w, r)
	if !ok {
		return
	}
	var d pet.Delta
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	p, err := s.pets.UpdateStats(r.Context(), id, ownerFrom(r), d)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateStatsWithChances(w http.ResponseWriter, r *http.Request) {
	id, ok := petID(w, r)
	if !ok {
		return
	}
	var cd pet.ChanceDelta
	if err := json.NewDecoder(r.Body).Decode(&cd); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	p, err := s.pets.UpdateStatsWithChances(r.Context(), id, ownerFrom(r), cd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// fail maps service errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, jobqueue.ErrJobNotFound), errors.Is(err, petservice.ErrPetNotFound):
		code = http.StatusNotFound
	case errors.Is(err, petservice.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, petservice.ErrInvalidPet):
		code = http.StatusBadRequest
	case errors.Is(err, petservice.ErrPetLost), errors.Is(err, pet.ErrNotLost), errors.Is(err, pet.ErrSearchNotStarted):
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

type ownerKey struct{}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := strconv.ParseInt(r.Header.Get(OwnerHeader), 10, 64)
		if err != nil || owner <= 0 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid " + OwnerHeader})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

// rateLimit applies the per-owner token bucket. Limiter errors let the request through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			allowed, _, err := s.limiter.Allow(r.Context(), fmt.Sprintf("owner:%d", ownerFrom(r)))
			if err != nil {
				s.log.Warn("rate limiter unavailable", "error", err)
			} else if !allowed {
				telemetry.RateLimitRejects.Inc()
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func ownerFrom(r *http.Request) int64 {
	owner, _ := r.Context().Value(ownerKey{}).(int64)
	return owner
}

func petID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid pet id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
