package http

import (
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

	"github.com/custodia-labs/sercha-chat/internal/core/domain"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ReadyResponse reports each checked component
// @Description Readiness status per component
type ReadyResponse struct {
	Status     string            `json:"status" example:"ready"`
	Components map[string]string `json:"components"`
}

// QueryRequest is the body of POST /api/v1/query
// @Description Question to answer against the index
type QueryRequest struct {
	Query string `json:"query" example:"What does the ingest job do?"`
}

// JobAccepted is returned when a job has been submitted
// @Description Submitted job handle
type JobAccepted struct {
	JobID string `json:"job_id" example:"4f7c2a4e-8a43-4f0c-9a9e-0d1b8c7f5e21"`
}

// JobResponse is the status view of a job
// @Description Job status view
type JobResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind" example:"GENERATE"`
	State       string     `json:"state" example:"RUNNING"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobResultResponse carries a job's result or, while it runs, its state
// @Description Job result
type JobResultResponse struct {
	JobID  string `json:"job_id"`
	State  string `json:"state" example:"SUCCEEDED"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MemoryResponse is the conversation window
// @Description Conversation window, oldest turn first
type MemoryResponse struct {
	Turns   []domain.Turn `json:"turns"`
	Context string        `json:"context"`
}

func newJobResponse(job *domain.Job) JobResponse {
	return JobResponse{
		ID:          job.ID,
		Kind:        string(job.Kind),
		State:       string(job.State),
		Attempts:    job.Attempts,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the job store and queue
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse  "A component is unreachable"
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready", Components: make(map[string]string, len(s.pingers))}
	status := http.StatusOK

	for name, p := range s.pingers {
		if p == nil {
			continue
		}
		if err := p.Ping(r.Context()); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "ok"
	}

	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Chat endpoints

// handleQuery godoc
// @Summary      Ask a question
// @Description  Retrieves context, records the question and submits a GENERATE job
// @Tags         Chat
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      QueryRequest  true  "Question"
// @Success      202      {object}  JobAccepted
// @Failure      400      {object}  ErrorResponse  "Empty query or invalid body"
// @Failure      401      {object}  ErrorResponse  "Unauthorized"
// @Failure      503      {object}  ErrorResponse  "No index loaded"
// @Router       /query [post]
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.chatService.Ask(r.Context(), req.Query)
	if err != nil {
		s.writeServiceError(w, err, "failed to submit query")
		return
	}

	writeJSON(w, http.StatusAccepted, JobAccepted{JobID: id})
}

// handleMemory godoc
// @Summary      Conversation window
// @Description  Returns the turns in the shared window and the context sent to the generator
// @Tags         Chat
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  MemoryResponse
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Router       /memory [get]
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	turns := s.chatService.History()
	if turns == nil {
		turns = []domain.Turn{}
	}
	writeJSON(w, http.StatusOK, MemoryResponse{
		Turns:   turns,
		Context: s.chatService.Context(),
	})
}

// Ingest endpoints

// handleUploadDocument godoc
// @Summary      Ingest a document
// @Description  Stores the uploaded file and submits an INGEST job that chunks, embeds and indexes it
// @Tags         Documents
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        file           formData  file    true   "Document (.txt, .md, .html, .pdf)"
// @Param        index          formData  string  false  "Target index name"
// @Param        max_sentences  formData  int     false  "Sentences per chunk"
// @Param        append         formData  bool    false  "Append to the current index version"
// @Success      202            {object}  JobAccepted
// @Failure      400            {object}  ErrorResponse  "Missing file or invalid field"
// @Failure      401            {object}  ErrorResponse  "Unauthorized"
// @Failure      413            {object}  ErrorResponse  "Upload too large"
// @Router       /documents [post]
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	in := domain.IngestInput{Index: strings.TrimSpace(r.FormValue("index"))}
	if in.Index != "" {
		if err := domain.ValidateIndexName(in.Index); err != nil {
			writeError(w, http.StatusBadRequest, "invalid index name")
			return
		}
	}

	if v := r.FormValue("max_sentences"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "max_sentences must be a positive integer")
			return
		}
		in.MaxSentences = n
	}
	if v := r.FormValue("append"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "append must be a boolean")
			return
		}
		in.Append = b
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer func() { _ = file.Close() }()

	path, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.logger.Error("failed to store upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	in.Path = path

	id, err := s.ingestService.Ingest(r.Context(), in)
	if err != nil {
		_ = os.Remove(path)
		s.writeServiceError(w, err, "failed to submit ingest job")
		return
	}

	writeJSON(w, http.StatusAccepted, JobAccepted{JobID: id})
}

// saveUpload copies the upload under a fresh name that keeps the original
// extension, so the extractor registry can dispatch on it.
func (s *Server) saveUpload(src io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	dst, err := os.CreateTemp(s.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", fmt.Errorf("close upload: %w", err)
	}
	return dst.Name(), nil
}

// handleGetIndex godoc
// @Summary      Index info
// @Description  Describes the published version of an index
// @Tags         Documents
// @Produce      json
// @Security     BearerAuth
// @Param        name  path      string  true  "Index name"
// @Success      200   {object}  domain.IndexInfo
// @Failure      401   {object}  ErrorResponse  "Unauthorized"
// @Failure      404   {object}  ErrorResponse  "Index not published"
// @Router       /indexes/{name} [get]
func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info := s.ingestService.IndexInfo(name)
	if info == nil {
		writeError(w, http.StatusNotFound, "index not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Job endpoints

// handleGetJob godoc
// @Summary      Job status
// @Description  Returns the status view of a job
// @Tags         Jobs
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  JobResponse
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Failure      404  {object}  ErrorResponse  "Unknown job"
// @Router       /jobs/{id} [get]
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobService.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

// handleGetJobResult godoc
// @Summary      Job result
// @Description  Returns the result of a SUCCEEDED job without blocking. Jobs still running answer 202 with their state.
// @Tags         Jobs
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  JobResultResponse
// @Success      202  {object}  JobResultResponse  "Not ready"
// @Failure      401  {object}  ErrorResponse      "Unauthorized"
// @Failure      404  {object}  ErrorResponse      "Unknown job"
// @Failure      422  {object}  JobResultResponse  "Job failed"
// @Router       /jobs/{id}/result [get]
func (s *Server) handleGetJobResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := s.jobService.Result(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, JobResultResponse{
			JobID:  id,
			State:  string(domain.JobStateSucceeded),
			Result: result,
		})
		return
	}

	var failed *domain.JobFailedError
	switch {
	case errors.As(err, &failed):
		writeJSON(w, http.StatusUnprocessableEntity, JobResultResponse{
			JobID: id,
			State: string(domain.JobStateFailed),
			Error: failed.Message,
		})
	case errors.Is(err, domain.ErrJobNotReady):
		// the job may have finished between the two reads, so the
		// response is built from this one snapshot
		job, statusErr := s.jobService.Status(r.Context(), id)
		if statusErr != nil {
			s.writeServiceError(w, statusErr, "failed to get job")
			return
		}
		switch job.State {
		case domain.JobStateSucceeded:
			writeJSON(w, http.StatusOK, JobResultResponse{JobID: id, State: string(job.State), Result: job.Result})
		case domain.JobStateFailed:
			writeJSON(w, http.StatusUnprocessableEntity, JobResultResponse{JobID: id, State: string(job.State), Error: job.Error})
		default:
			writeJSON(w, http.StatusAccepted, JobResultResponse{JobID: id, State: string(job.State)})
		}
	default:
		s.writeServiceError(w, err, "failed to get job result")
	}
}

// handleJobStats godoc
// @Summary      Job statistics
// @Description  Returns job counts by state
// @Tags         Jobs
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.JobStats
// @Failure      401  {object}  ErrorResponse  "Unauthorized"
// @Router       /jobs/stats [get]
func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobService.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "failed to get job stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Helper functions

// writeServiceError maps domain errors to HTTP statuses. Anything unmapped
// is logged and reported with the generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrJobFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrRetrieverUnavailable),
		errors.Is(err, domain.ErrEmbeddingUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error(message, "error", err)
		writeError(w, http.StatusInternalServerError, message)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
