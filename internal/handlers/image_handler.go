package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/luminapix/backend/internal/config"
	"github.com/luminapix/backend/internal/models"
	"github.com/luminapix/backend/internal/services"
	"github.com/luminapix/backend/internal/storage"
)

type ImageHandler struct {
	db         *sql.DB
	jobs       *services.JobService
	ledger     *services.LedgerService
	estimator  *services.CostEstimator
	dispatcher *services.DispatchService
	store      *storage.LocalStore
	storageCfg *config.StorageConfig
	validator  *services.ValidationHelper
}

func NewImageHandler(db *sql.DB, jobs *services.JobService, ledger *services.LedgerService, estimator *services.CostEstimator, dispatcher *services.DispatchService, store *storage.LocalStore, storageCfg *config.StorageConfig) *ImageHandler {
	return &ImageHandler{
		db:         db,
		jobs:       jobs,
		ledger:     ledger,
		estimator:  estimator,
		dispatcher: dispatcher,
		store:      store,
		storageCfg: storageCfg,
		validator:  services.NewValidationHelper(),
	}
}

type processRequest struct {
	Operation   string          `json:"operation" validate:"required,oneof=enhance upscale"`
	Params      json.RawMessage `json:"params"`
	Images      []string        `json:"images" validate:"required,min=1"`
	CallbackURL string          `json:"callback_url" validate:"omitempty,url"`
}

// ProcessImages admits a new transform job
// @Summary Submit an image transform job
// @Description Reserves credits and queues an enhance or upscale job
// @Tags Images
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body processRequest true "Job submission"
// @Success 202 {object} object{job_id=string,status=string,estimated_time=int,credits_used=int64,credits_remaining=int64}
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /images/process [post]
func (h *ImageHandler) ProcessImages(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req processRequest

	r.Body = http.MaxBytesReader(w, r.Body, 50_331_648)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if len(req.Images) > h.storageCfg.MaxImagesPerRequest {
		services.SendErrorResponse(w, fmt.Sprintf("At most %d images per request", h.storageCfg.MaxImagesPerRequest), http.StatusBadRequest, nil)
		return
	}

	op := models.Operation(req.Operation)
	params, err := h.decodeParams(op, req.Params)
	if err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	cost := h.estimator.EstimateCost(op, params, len(req.Images))
	estimatedTime := h.estimator.EstimateDuration(op, params, len(req.Images))

	jobID := uuid.NewString()
	if _, err := h.store.SaveInputs(jobID, req.Images); err != nil {
		h.store.DeleteAll(jobID)
		if errors.Is(err, storage.ErrInvalidPayload) {
			services.SendErrorResponse(w, "Invalid image payload", http.StatusBadRequest, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to store images", http.StatusInternalServerError, nil)
		return
	}

	job := &models.Job{
		ID:              jobID,
		AccountID:       accountID,
		Operation:       op,
		Parameters:      params,
		CreditsReserved: cost,
		InputImages:     req.Images,
		CallbackURL:     req.CallbackURL,
	}

	entry, err := h.admit(r, job, cost)
	if errors.Is(err, services.ErrInsufficientFunds) {
		h.store.DeleteAll(jobID)
		services.SendErrorResponse(w, err.Error(), http.StatusPaymentRequired, nil)
		return
	}
	if errors.Is(err, services.ErrNotFound) {
		h.store.DeleteAll(jobID)
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		h.store.DeleteAll(jobID)
		services.SendErrorResponse(w, "Failed to create job", http.StatusInternalServerError, nil)
		return
	}

	if err := h.dispatcher.Submit(r.Context(), job); err != nil {
		services.SendErrorResponse(w, "Processing queue unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":            job.ID,
		"status":            string(job.Status),
		"estimated_time":    estimatedTime,
		"credits_used":      cost,
		"credits_remaining": entry.BalanceAfter,
	})
}

// admit reserves credits and creates the job in one transaction.
func (h *ImageHandler) admit(r *http.Request, job *models.Job, cost int64) (*models.LedgerEntry, error) {
	tx, err := h.db.BeginTx(r.Context(), nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	reason := fmt.Sprintf("%s job %s", job.Operation, job.ID)
	entry, err := h.ledger.ReserveTx(r.Context(), tx, job.AccountID, cost, reason)
	if err != nil {
		return nil, err
	}

	if err := h.jobs.CreateTx(r.Context(), tx, job); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// decodeParams parses the flat params object for the given operation,
// applying defaults before validation.
func (h *ImageHandler) decodeParams(op models.Operation, raw json.RawMessage) (models.JobParams, error) {
	switch op {
	case models.OpEnhance:
		p := models.EnhanceParams{Quality: "medium"}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return models.JobParams{}, err
			}
		}
		if err := h.validator.ValidateStruct(&p); err != nil {
			return models.JobParams{}, err
		}
		return models.JobParams{Enhance: &p}, nil
	case models.OpUpscale:
		p := models.UpscaleParams{Factor: 2}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return models.JobParams{}, err
			}
		}
		if err := h.validator.ValidateStruct(&p); err != nil {
			return models.JobParams{}, err
		}
		return models.JobParams{Upscale: &p}, nil
	default:
		return models.JobParams{}, fmt.Errorf("unsupported operation %q", op)
	}
}

// JobStatus returns one job's lifecycle view
// @Summary Get job status
// @Tags Images
// @Produce json
// @Security BearerAuth
// @Param jobID path string true "Job ID"
// @Success 200 {object} models.Job
// @Failure 404 {object} services.ErrorResponse
// @Router /images/status/{jobID} [get]
func (h *ImageHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "jobID"), accountID)
	if errors.Is(err, services.ErrNotFound) {
		services.SendErrorResponse(w, "Job not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to load job", http.StatusInternalServerError, nil)
		return
	}

	// Input payloads are large and not useful in status responses.
	job.InputImages = nil

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// ListJobs lists the account's jobs
// @Summary List jobs
// @Tags Images
// @Produce json
// @Security BearerAuth
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Page offset" default(0)
// @Success 200 {object} object{jobs=[]models.Job,count=int}
// @Router /images/jobs [get]
func (h *ImageHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := queryInt(r, "limit", 20, 100)
	offset := queryInt(r, "offset", 0, 1<<30)

	status := models.JobStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.JobQueued, models.JobProcessing, models.JobCompleted, models.JobFailed, models.JobCancelled:
	default:
		services.SendErrorResponse(w, "Invalid status filter", http.StatusBadRequest, nil)
		return
	}

	jobs, err := h.jobs.List(r.Context(), accountID, status, limit, offset)
	if err != nil {
		services.SendErrorResponse(w, "Failed to list jobs", http.StatusInternalServerError, nil)
		return
	}

	for i := range jobs {
		jobs[i].InputImages = nil
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob cancels a queued job and refunds its reservation
// @Summary Cancel a queued job
// @Tags Images
// @Produce json
// @Security BearerAuth
// @Param jobID path string true "Job ID"
// @Success 200 {object} object{job_id=string,status=string}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /images/jobs/{jobID} [delete]
func (h *ImageHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	jobID := chi.URLParam(r, "jobID")
	err := h.jobs.Cancel(r.Context(), jobID, accountID)
	if errors.Is(err, services.ErrNotFound) {
		services.SendErrorResponse(w, "Job not found", http.StatusNotFound, nil)
		return
	}
	if errors.Is(err, services.ErrInvalidState) {
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to cancel job", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"job_id": jobID,
		"status": string(models.JobCancelled),
	})
}

// DownloadResult streams one output image of a completed job
// @Summary Download a result image
// @Tags Images
// @Produce png
// @Security BearerAuth
// @Param jobID path string true "Job ID"
// @Param index path int true "Output index"
// @Success 200 {file} binary
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /images/download/{jobID}/{index} [get]
func (h *ImageHandler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobs.Get(r.Context(), jobID, accountID)
	if errors.Is(err, services.ErrNotFound) {
		services.SendErrorResponse(w, "Job not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to load job", http.StatusInternalServerError, nil)
		return
	}

	if job.Status != models.JobCompleted {
		services.SendErrorResponse(w, fmt.Sprintf("Job is %s, results are available once completed", job.Status), http.StatusConflict, nil)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= len(job.OutputImages) {
		services.SendErrorResponse(w, "Output index out of range", http.StatusNotFound, nil)
		return
	}

	path, err := h.store.OutputPath(jobID, fmt.Sprintf("output_%d.png", index))
	if err != nil {
		services.SendErrorResponse(w, "Result artifact missing", http.StatusNotFound, nil)
		return
	}

	http.ServeFile(w, r, path)
}

func queryInt(r *http.Request, key string, def, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return def
	}
	if val > max {
		return max
	}
	return val
}
