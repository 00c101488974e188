// Prefero - Content Recommendation Training and Serving Engine
// Copyright 2026 Prefero Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/preferolabs/prefero

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/preferolabs/prefero/internal/events"
	"github.com/preferolabs/prefero/internal/logging"
	"github.com/preferolabs/prefero/internal/scheduler"
	"github.com/preferolabs/prefero/internal/state"
	"github.com/preferolabs/prefero/internal/validation"
)

// handleRecommendations serves GET /api/v1/recommendations/user/{userID}.
func (router *Router) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	userID := chi.URLParam(r, "userID")
	if userID == "" {
		rw.BadRequest("user ID is required")
		return
	}

	limit := router.deps.Cfg.API.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			rw.BadRequest("limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > router.deps.Cfg.API.MaxLimit {
		limit = router.deps.Cfg.API.MaxLimit
	}
	category := r.URL.Query().Get("category")

	items, err := router.deps.Recommender.GetRecommendations(r.Context(), userID, limit, category)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Str("user_id", userID).Msg("Recommendation request failed")
		rw.ServiceUnavailable("recommendations are temporarily unavailable")
		return
	}

	rw.Success(map[string]any{
		"user_id":         userID,
		"recommendations": items,
		"model_version":   router.deps.Recommender.ModelVersion(),
	})
}

type interactionRequest struct {
	UserID    string     `json:"user_id" validate:"required,max=256"`
	ContentID string     `json:"content_id" validate:"required,max=256"`
	Value     float64    `json:"value" validate:"required,gte=0,lte=5"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// handleRecordInteraction serves POST /api/v1/interactions.
func (router *Router) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	event := events.InteractionRecorded{
		UserID:    req.UserID,
		ContentID: req.ContentID,
		Value:     req.Value,
		Timestamp: ts,
	}
	if err := router.deps.Publisher.PublishInteraction(r.Context(), event); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to record interaction")
		rw.InternalError("failed to record interaction")
		return
	}

	rw.Accepted(map[string]any{"recorded": true})
}

type trainRequest struct {
	Force     bool `json:"force"`
	Epochs    int  `json:"epochs" validate:"gte=0,lte=1000"`
	BatchSize int  `json:"batch_size" validate:"gte=0,lte=100000"`
}

// handleTriggerTraining serves POST /api/v1/train.
func (router *Router) handleTriggerTraining(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	req := trainRequest{}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			rw.BadRequest("invalid JSON body")
			return
		}
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	jobID, err := router.deps.Scheduler.TriggerManual(r.Context(), scheduler.Overrides{
		Force:     req.Force,
		Epochs:    req.Epochs,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrRetrainInProgress) {
			rw.Conflict(ErrCodeTrainingInProgress, "a training run is already in progress")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to trigger training")
		rw.InternalError("failed to trigger training")
		return
	}

	rw.Accepted(map[string]any{"job_id": jobID})
}

// handleJobStatus serves GET /api/v1/train/{jobID}.
func (router *Router) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	jobID := chi.URLParam(r, "jobID")
	job, err := router.deps.Jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, state.ErrJobNotFound) {
			rw.NotFound("training job not found")
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).Str("job_id", jobID).Msg("Failed to read job record")
		rw.InternalError("failed to read job status")
		return
	}

	rw.Success(job)
}

// handleTrainingStatus serves GET /api/v1/train/status with a
// scheduler overview.
func (router *Router) handleTrainingStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	ctx := r.Context()

	count, err := router.deps.Counter.Get(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to read interaction counter")
		rw.InternalError("failed to read training status")
		return
	}

	status := map[string]any{
		"is_retraining":      router.deps.Scheduler.InFlight(),
		"interactions_since": count,
		"model_version":      router.deps.Recommender.ModelVersion(),
	}
	if last, ok, err := router.deps.Training.LastRetrainingTime(ctx); err == nil && ok {
		status["last_retraining_time"] = last
	}
	if jobs, err := router.deps.Jobs.List(ctx); err == nil {
		status["recent_jobs"] = jobs
	}

	rw.Success(status)
}

// handleListModels serves GET /api/v1/models.
func (router *Router) handleListModels(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	versions, err := router.deps.Models.Versions()
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to list model versions")
		rw.InternalError("failed to list model versions")
		return
	}
	current, err := router.deps.Models.CurrentVersion()
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to resolve current model version")
		rw.InternalError("failed to resolve current model version")
		return
	}

	rw.Success(map[string]any{
		"current":  current,
		"versions": versions,
	})
}

// handlePruneModels serves POST /api/v1/models/prune. Pruning only
// ever happens through this explicit call.
func (router *Router) handlePruneModels(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	keep := router.deps.Cfg.Model.KeepVersions
	if err := router.deps.Models.Prune(keep); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to prune model versions")
		rw.InternalError("failed to prune model versions")
		return
	}

	versions, err := router.deps.Models.Versions()
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to list model versions")
		rw.InternalError("failed to list model versions")
		return
	}

	rw.Success(map[string]any{
		"kept":      keep,
		"remaining": len(versions),
	})
}

// handleHealth serves GET /api/v1/health.
func (router *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := router.deps.DB.Ping(r.Context()); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Health check failed")
		rw.ServiceUnavailable("database unavailable")
		return
	}

	rw.Success(map[string]any{
		"status":        "ok",
		"model_version": router.deps.Recommender.ModelVersion(),
	})
}
