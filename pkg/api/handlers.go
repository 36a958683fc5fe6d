package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/driftwatch/driftwatch/pkg/adapter"
	"github.com/driftwatch/driftwatch/pkg/coordinator"
	"github.com/driftwatch/driftwatch/pkg/measurement"
	"github.com/driftwatch/driftwatch/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeError maps domain errors onto HTTP statuses: malformed input is
// 400, unresolvable identity is 404 or 422, a reused run id is 409,
// everything else is 500.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var formatErr *adapter.FormatError
	if errors.As(err, &formatErr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var identityErr *coordinator.IdentityError
	if errors.As(err, &identityErr) {
		status := http.StatusUnprocessableEntity
		if identityErr.Subject == "project" {
			status = http.StatusNotFound
		}

		writeJSON(w, status, errorResponse{err.Error()})

		return
	}

	if store.IsConflict(err) {
		writeJSON(w, http.StatusConflict, errorResponse{err.Error()})

		return
	}

	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{err.Error()})

		return
	}

	s.log.WithError(err).Error("Request failed")
	writeJSON(w, http.StatusInternalServerError,
		errorResponse{"internal error"})
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFormats lists the supported submission formats.
func (s *server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	formats := s.adapters.Formats()
	sort.Strings(formats)

	writeJSON(w, http.StatusOK, map[string]any{
		"formats": formats,
		"default": s.cfg.Global.DefaultFormat,
	})
}

// --- Projects ---

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type createProjectRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
}

func (s *server) handleListProjects(
	w http.ResponseWriter, r *http.Request,
) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, projects)
}

func (s *server) handleCreateProject(
	w http.ResponseWriter, r *http.Request,
) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if !slugRe.MatchString(req.Slug) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"slug must be lowercase alphanumeric with hyphens"})

		return
	}

	if req.Name == "" {
		req.Name = req.Slug
	}

	if _, err := s.store.GetProjectBySlug(
		r.Context(), req.Slug,
	); err == nil {
		writeJSON(w, http.StatusConflict,
			errorResponse{"project already exists"})

		return
	}

	project := &store.Project{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Public:      req.Public,
	}

	if err := s.store.CreateProject(r.Context(), project); err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, project)
}

func (s *server) handleGetProject(
	w http.ResponseWriter, r *http.Request,
) {
	project, err := s.store.GetProjectBySlug(
		r.Context(), chi.URLParam(r, "slug"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, project)
}

// --- Reports ---

type submitReportRequest struct {
	Branch   string `json:"branch"`
	Testbed  string `json:"testbed"`
	RunID    string `json:"run_id"`
	GitHash  string `json:"git_hash"`
	PRNumber *int   `json:"pr_number"`
	Format   string `json:"format"`
	Raw      string `json:"raw"`
}

func (s *server) handleSubmitReport(
	w http.ResponseWriter, r *http.Request,
) {
	var req submitReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	result, err := s.coordinator.Submit(r.Context(), coordinator.SubmitRequest{
		Identity: measurement.RunIdentity{
			ProjectSlug: chi.URLParam(r, "slug"),
			Branch:      req.Branch,
			Testbed:     req.Testbed,
			RunID:       req.RunID,
			GitHash:     req.GitHash,
			PRNumber:    req.PRNumber,
		},
		Format: req.Format,
		Raw:    []byte(req.Raw),
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// --- History ---

func (s *server) handleHistory(
	w http.ResponseWriter, r *http.Request,
) {
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"limit must be a non-negative integer"})

			return
		}

		limit = n
	}

	if q.Get("benchmark") == "" || q.Get("measure") == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"benchmark and measure are required"})

		return
	}

	entries, err := s.coordinator.History(
		r.Context(), coordinator.HistoryRequest{
			ProjectSlug: chi.URLParam(r, "slug"),
			Branch:      q.Get("branch"),
			Testbed:     q.Get("testbed"),
			Benchmark:   q.Get("benchmark"),
			Measure:     q.Get("measure"),
			Limit:       limit,
		},
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// --- Alerts ---

func (s *server) handleListAlerts(
	w http.ResponseWriter, r *http.Request,
) {
	project, err := s.store.GetProjectBySlug(
		r.Context(), chi.URLParam(r, "slug"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	alerts, err := s.store.ListAlerts(r.Context(), project.ID, limit)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, alerts)
}

// --- Thresholds ---

type createThresholdRequest struct {
	Branch           string   `json:"branch"`
	Testbed          string   `json:"testbed"`
	Measure          string   `json:"measure"`
	Window           *int     `json:"window"`
	MinSamples       *int     `json:"min_samples"`
	MaxPercentChange *float64 `json:"max_percent_change"`
	SigmaMultiplier  *float64 `json:"sigma_multiplier"`
}

// handleCreateThreshold stores a policy override. Scope fields name
// existing dimensions; an empty field leaves that dimension unbound.
func (s *server) handleCreateThreshold(
	w http.ResponseWriter, r *http.Request,
) {
	var req createThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	project, err := s.store.GetProjectBySlug(
		r.Context(), chi.URLParam(r, "slug"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	threshold := &store.Threshold{
		ProjectID:        project.ID,
		Window:           req.Window,
		MinSamples:       req.MinSamples,
		MaxPercentChange: req.MaxPercentChange,
		SigmaMultiplier:  req.SigmaMultiplier,
	}

	if req.Branch != "" {
		branch, err := s.store.GetBranchByName(
			r.Context(), project.ID, req.Branch,
		)
		if err != nil {
			s.writeError(w, err)

			return
		}

		threshold.BranchID = &branch.ID
	}

	if req.Testbed != "" {
		testbed, err := s.store.GetTestbedByName(
			r.Context(), project.ID, req.Testbed,
		)
		if err != nil {
			s.writeError(w, err)

			return
		}

		threshold.TestbedID = &testbed.ID
	}

	if req.Measure != "" {
		measure, err := s.store.GetMeasureByName(
			r.Context(), project.ID, req.Measure,
		)
		if err != nil {
			s.writeError(w, err)

			return
		}

		threshold.MeasureID = &measure.ID
	}

	if err := s.store.CreateThreshold(r.Context(), threshold); err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, threshold)
}

// --- Artifacts ---

type artifactUploadRequest struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type artifactUploadResponse struct {
	UploadURL   string `json:"upload_url"`
	StoragePath string `json:"storage_path"`
}

// handleArtifactUploadURL returns a presigned PUT URL for one artifact.
// The row is created on confirm, after the client finished the upload.
func (s *server) handleArtifactUploadURL(
	w http.ResponseWriter, r *http.Request,
) {
	if s.presigner == nil {
		writeJSON(w, http.StatusNotImplemented,
			errorResponse{"artifact storage is not configured"})

		return
	}

	var req artifactUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.FileName == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"file_name is required"})

		return
	}

	if req.FileSize <= 0 || req.FileSize > s.cfg.API.Artifacts.MaxSize {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"file_size is out of range"})

		return
	}

	slug := chi.URLParam(r, "slug")

	project, err := s.store.GetProjectBySlug(r.Context(), slug)
	if err != nil {
		s.writeError(w, err)

		return
	}

	runID := chi.URLParam(r, "runID")

	if _, err := s.store.GetReportByRunID(
		r.Context(), project.ID, runID,
	); err != nil {
		s.writeError(w, err)

		return
	}

	key := artifactKey(slug, runID, req.FileName)

	url, err := s.presigner.PresignUpload(r.Context(), key, req.FileSize)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, artifactUploadResponse{
		UploadURL:   url,
		StoragePath: key,
	})
}

type artifactConfirmRequest struct {
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	StoragePath string `json:"storage_path"`
}

// handleArtifactConfirm records a completed upload against the report.
func (s *server) handleArtifactConfirm(
	w http.ResponseWriter, r *http.Request,
) {
	var req artifactConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.StoragePath == "" || req.FileName == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"storage_path and file_name are required"})

		return
	}

	project, err := s.store.GetProjectBySlug(
		r.Context(), chi.URLParam(r, "slug"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	report, err := s.store.GetReportByRunID(
		r.Context(), project.ID, chi.URLParam(r, "runID"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	artifact := &store.Artifact{
		ReportID:    report.ID,
		StoragePath: req.StoragePath,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
	}

	if err := s.store.CreateArtifact(r.Context(), artifact); err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusCreated, artifact)
}

func (s *server) handleListArtifacts(
	w http.ResponseWriter, r *http.Request,
) {
	project, err := s.store.GetProjectBySlug(
		r.Context(), chi.URLParam(r, "slug"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	report, err := s.store.GetReportByRunID(
		r.Context(), project.ID, chi.URLParam(r, "runID"),
	)
	if err != nil {
		s.writeError(w, err)

		return
	}

	artifacts, err := s.store.ListArtifacts(r.Context(), report.ID)
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, artifacts)
}
