// Package client is the HTTP client for the driftwatch API, used by
// the CLI and by CI integrations.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/driftwatch/driftwatch/pkg/coordinator"
	"github.com/driftwatch/driftwatch/pkg/store"
)

const defaultTimeout = 60 * time.Second

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// Client talks to one driftwatch server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for the given server. The token may be empty
// for read-only use against public endpoints.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	body, out any,
) error {
	var reqBody io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}

		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, reqBody,
	)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}

		msg := resp.Status
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil &&
			apiErr.Error != "" {
			msg = apiErr.Error
		}

		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// Health checks server reachability.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}

// CreateProjectRequest creates a new project.
type CreateProjectRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"public"`
}

// CreateProject creates a new project.
func (c *Client) CreateProject(
	ctx context.Context, req CreateProjectRequest,
) (*store.Project, error) {
	var project store.Project
	if err := c.do(
		ctx, http.MethodPost, "/api/v1/projects/", req, &project,
	); err != nil {
		return nil, err
	}

	return &project, nil
}

// ListProjects lists all projects.
func (c *Client) ListProjects(
	ctx context.Context,
) ([]store.Project, error) {
	var projects []store.Project
	if err := c.do(
		ctx, http.MethodGet, "/api/v1/projects/", nil, &projects,
	); err != nil {
		return nil, err
	}

	return projects, nil
}

// GetProject fetches a single project by slug.
func (c *Client) GetProject(
	ctx context.Context, slug string,
) (*store.Project, error) {
	var project store.Project
	if err := c.do(
		ctx, http.MethodGet, "/api/v1/projects/"+slug+"/", nil, &project,
	); err != nil {
		return nil, err
	}

	return &project, nil
}

// SubmitReportRequest is one run submission.
type SubmitReportRequest struct {
	Branch   string `json:"branch"`
	Testbed  string `json:"testbed"`
	RunID    string `json:"run_id"`
	GitHash  string `json:"git_hash"`
	PRNumber *int   `json:"pr_number"`
	Format   string `json:"format"`
	Raw      string `json:"raw"`
}

// SubmitReport submits raw benchmark output for a project.
func (c *Client) SubmitReport(
	ctx context.Context,
	projectSlug string,
	req SubmitReportRequest,
) (*coordinator.SubmitResult, error) {
	var result coordinator.SubmitResult
	if err := c.do(
		ctx, http.MethodPost,
		"/api/v1/projects/"+projectSlug+"/reports",
		req, &result,
	); err != nil {
		return nil, err
	}

	return &result, nil
}

// History fetches one series, oldest-first.
func (c *Client) History(
	ctx context.Context,
	projectSlug, branch, testbed, benchmark, measure string,
	limit int,
) ([]store.HistoryEntry, error) {
	query := url.Values{}
	query.Set("branch", branch)
	query.Set("testbed", testbed)
	query.Set("benchmark", benchmark)
	query.Set("measure", measure)

	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/v1/projects/" + projectSlug +
		"/history?" + query.Encode()

	var entries []store.HistoryEntry
	if err := c.do(
		ctx, http.MethodGet, path, nil, &entries,
	); err != nil {
		return nil, err
	}

	return entries, nil
}

// ListAlerts lists recent alerts for a project.
func (c *Client) ListAlerts(
	ctx context.Context, projectSlug string, limit int,
) ([]store.Alert, error) {
	path := "/api/v1/projects/" + projectSlug + "/alerts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var alerts []store.Alert
	if err := c.do(ctx, http.MethodGet, path, nil, &alerts); err != nil {
		return nil, err
	}

	return alerts, nil
}

// ArtifactUploadURL holds a presigned upload target.
type ArtifactUploadURL struct {
	UploadURL   string `json:"upload_url"`
	StoragePath string `json:"storage_path"`
}

// UploadArtifact uploads one local file as a report artifact: request
// a presigned URL, PUT the file, confirm.
func (c *Client) UploadArtifact(
	ctx context.Context,
	projectSlug, runID, filePath string,
) (*store.Artifact, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}

	name := filepath.Base(filePath)
	base := "/api/v1/projects/" + projectSlug +
		"/reports/" + runID + "/artifacts"

	var target ArtifactUploadURL
	if err := c.do(ctx, http.MethodPost, base+"/upload-url", map[string]any{
		"file_name": name,
		"file_size": info.Size(),
	}, &target); err != nil {
		return nil, err
	}

	if err := c.putFile(
		ctx, target.UploadURL, filePath, info.Size(),
	); err != nil {
		return nil, err
	}

	var artifact store.Artifact
	if err := c.do(ctx, http.MethodPost, base+"/confirm", map[string]any{
		"file_name":    name,
		"file_size":    info.Size(),
		"storage_path": target.StoragePath,
	}, &artifact); err != nil {
		return nil, err
	}

	return &artifact, nil
}

// putFile PUTs a local file to a presigned URL.
func (c *Client) putFile(
	ctx context.Context, url, filePath string, size int64,
) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}

	req.ContentLength = size

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Status:  resp.StatusCode,
			Message: "upload failed",
		}
	}

	return nil
}
