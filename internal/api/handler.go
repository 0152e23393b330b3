// Package api exposes the HTTP surface: submission, status and result
// endpoints plus a paginated job listing. Submission is the only synchronous
// part of the pipeline; everything after the queued row is written happens in
// the dispatcher and workers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gistd/gistd/internal/cache"
	"github.com/gistd/gistd/internal/extract"
	"github.com/gistd/gistd/internal/job"
	"github.com/gistd/gistd/internal/metrics"
)

type Handler struct {
	store      job.Store
	cache      cache.Cache
	extractor  extract.Extractor
	log        zerolog.Logger
	maxTextLen int
}

func NewHandler(store job.Store, c cache.Cache, e extract.Extractor, log zerolog.Logger, maxTextLen int) *Handler {
	return &Handler{
		store:      store,
		cache:      c,
		extractor:  e,
		log:        log.With().Str("component", "api").Logger(),
		maxTextLen: maxTextLen,
	}
}

// RegisterRoutes attaches the API endpoints to mux. The submit handler is
// wrapped separately by the caller so rate limiting applies to it alone.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, submit http.Handler) {
	mux.Handle("POST /api/submit", submit)
	mux.HandleFunc("GET /api/status/{id}", h.Status)
	mux.HandleFunc("GET /api/result/{id}", h.Result)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/health", h.Health)
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encode errors after WriteHeader mean a broken connection; nothing to do.
	_ = json.NewEncoder(w).Encode(env)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxTextLen)+64*1024)

	var req job.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, "request body too large")
			return
		}
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := req.Validate(h.maxTextLen); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	content := req.Text
	if req.URL != "" {
		extracted, err := h.extractor.Extract(req.URL)
		if err != nil {
			h.log.Warn().Err(err).Str("url", req.URL).Msg("extraction failed")
			metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		content = extracted
	}

	now := time.Now().UTC()
	j := &job.Job{
		ID:        uuid.New().String(),
		URL:       req.URL,
		Content:   content,
		Status:    job.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// A lookup error is just a miss; the job takes the slow path.
	fp := cache.Fingerprint(content)
	summary, hit, err := h.cache.Lookup(r.Context(), fp)
	if err != nil {
		h.log.Warn().Err(err).Msg("cache lookup")
	}

	if hit {
		j.Status = job.StatusCompleted
		j.Summary = summary
		j.Cached = true
	}

	if err := h.store.Create(r.Context(), j); err != nil {
		h.log.Error().Err(err).Msg("create job")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	data := map[string]any{"job_id": j.ID, "status": j.Status}
	if hit {
		metrics.SubmissionsTotal.WithLabelValues("cached").Inc()
		writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Summary served from cache", Data: data})
		return
	}
	metrics.SubmissionsTotal.WithLabelValues("queued").Inc()
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: "Job queued for processing", Data: data})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	j, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.log.Error().Err(err).Msg("get job")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if j == nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	data := map[string]any{
		"job_id":     j.ID,
		"status":     j.Status,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
	switch j.Status {
	case job.StatusFailed:
		data["error_message"] = j.ErrorMessage
		writeJSON(w, http.StatusUnprocessableEntity, envelope{Success: false, Message: "Job failed", Data: data})
	case job.StatusCompleted:
		data["cached"] = j.Cached
		data["processing_time_ms"] = j.ProcessingTimeMS
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
	default:
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
	}
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	j, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.log.Error().Err(err).Msg("get job")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if j == nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	switch j.Status {
	case job.StatusFailed:
		writeJSON(w, http.StatusUnprocessableEntity, envelope{
			Success: false,
			Message: "Job failed",
			Data:    map[string]any{"job_id": j.ID, "status": j.Status, "error_message": j.ErrorMessage},
		})
	case job.StatusCompleted:
		data := map[string]any{
			"job_id":             j.ID,
			"summary":            j.Summary,
			"cached":             j.Cached,
			"processing_time_ms": j.ProcessingTimeMS,
		}
		if j.URL != "" {
			data["original_url"] = j.URL
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
	default:
		writeJSON(w, http.StatusAccepted, envelope{
			Success: true,
			Message: "Job is not yet completed",
			Data:    map[string]any{"job_id": j.ID, "status": j.Status},
		})
	}
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("list jobs")
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	}})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "ok"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
