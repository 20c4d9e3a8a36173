package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/merchant-insights/internal/api/middleware"
	"github.com/dvloznov/merchant-insights/internal/app"
	"github.com/dvloznov/merchant-insights/internal/domain"
	"github.com/dvloznov/merchant-insights/internal/jobs"
	"github.com/dvloznov/merchant-insights/internal/logger"
	"github.com/dvloznov/merchant-insights/internal/pipeline"
	"github.com/google/uuid"
)

// maxUploadBytes bounds statement uploads.
const maxUploadBytes = 20 << 20

// Enricher is satisfied by *app.App.
type Enricher interface {
	EnrichDocument(ctx context.Context, ref string) (*pipeline.PipelineState, error)
	EnrichTransactions(ctx context.Context, txs []domain.Transaction) (*pipeline.BatchResult, error)
}

// Uploader is satisfied by *documents.Store.
type Uploader interface {
	UploadBytes(ctx context.Context, bucket, object string, data []byte) (string, error)
}

// EnrichRequest is the body of POST /api/enrich and POST /api/jobs. Exactly
// one of DocumentRef and Transactions is set; jobs only accept DocumentRef.
type EnrichRequest struct {
	DocumentRef   string               `json:"document_ref"`
	NotifyAddress string               `json:"notify_address,omitempty"`
	Transactions  []domain.Transaction `json:"transactions,omitempty"`
}

// EnrichResponse is returned by POST /api/enrich.
type EnrichResponse struct {
	RunID  string                `json:"run_id,omitempty"`
	Result *pipeline.BatchResult `json:"result"`
	Error  string                `json:"error,omitempty"`
}

// EnrichHandler runs enrichment synchronously.
type EnrichHandler struct {
	svc Enricher
}

// NewEnrichHandler creates a new enrich handler.
func NewEnrichHandler(svc Enricher) *EnrichHandler {
	return &EnrichHandler{svc: svc}
}

// Enrich handles POST /api/enrich
func (h *EnrichHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hasDoc := strings.TrimSpace(req.DocumentRef) != ""
	if hasDoc == (req.Transactions != nil) {
		middleware.WriteError(w, http.StatusBadRequest, "Exactly one of document_ref and transactions is required")
		return
	}

	var (
		resp EnrichResponse
		err  error
	)
	if hasDoc {
		var state *pipeline.PipelineState
		state, err = h.svc.EnrichDocument(ctx, req.DocumentRef)
		if state != nil {
			resp.RunID = state.RunID
			resp.Result = state.Result
		}
	} else {
		resp.Result, err = h.svc.EnrichTransactions(ctx, req.Transactions)
	}

	if err != nil {
		status, message := errorStatus(err)
		log.Error().Err(err).Str("document_ref", req.DocumentRef).Int("status", status).Msg("Enrichment failed")
		if resp.Result == nil {
			middleware.WriteError(w, status, message)
			return
		}
		resp.Error = message
		middleware.WriteJSON(w, status, resp)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// errorStatus maps an enrichment error to an HTTP status and client message.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		return http.StatusNotFound, "Document not found"
	case app.IsInputError(err):
		return http.StatusUnprocessableEntity, fmt.Sprintf("Document could not be processed: %v", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "Enrichment did not finish in time"
	default:
		return http.StatusBadGateway, "Enrichment failed"
	}
}

// DocumentsHandler stores uploaded statements.
type DocumentsHandler struct {
	uploader Uploader
	bucket   string
}

// NewDocumentsHandler creates a new documents handler. An empty bucket
// disables uploads.
func NewDocumentsHandler(uploader Uploader, bucket string) *DocumentsHandler {
	return &DocumentsHandler{uploader: uploader, bucket: bucket}
}

// Upload handles POST /api/documents?filename=statement.pdf
// The request body is the raw document.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if h.bucket == "" || h.uploader == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Document uploads are not configured")
		return
	}

	filename := filepath.Base(r.URL.Query().Get("filename"))
	if filename == "." || filename == "/" || filename == "" {
		filename = "statement.pdf"
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Could not read request body")
		return
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Document is empty")
		return
	}
	if len(data) > maxUploadBytes {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Document is too large")
		return
	}

	objectName := fmt.Sprintf("uploads/%s/%s-%s", time.Now().Format("2006/01/02"), uuid.NewString(), filename)
	ref, err := h.uploader.UploadBytes(ctx, h.bucket, objectName, data)
	if err != nil {
		log.Error().Err(err).Str("object", objectName).Msg("Failed to upload document")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload document")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"document_ref": ref,
		"bytes":        len(data),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	publisher jobs.Publisher
	store     jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(publisher jobs.Publisher, store jobs.JobStore) *JobsHandler {
	return &JobsHandler{publisher: publisher, store: store}
}

// Enqueue handles POST /api/jobs
func (h *JobsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.DocumentRef) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "document_ref is required")
		return
	}

	job := &jobs.EnrichDocumentJob{
		DocumentRef:   req.DocumentRef,
		NotifyAddress: req.NotifyAddress,
	}
	if err := h.publisher.PublishEnrichDocument(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue enrichment job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue enrichment job")
		return
	}

	log.Info().Str("job_id", job.JobID).Str("document_ref", job.DocumentRef).Msg("Enrichment job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":       job.JobID,
		"document_ref": job.DocumentRef,
		"status":       string(job.Status),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		DocumentRef: query.Get("document_ref"),
		Status:      jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
