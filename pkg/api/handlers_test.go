package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/pkg/adapter"
	"github.com/driftwatch/driftwatch/pkg/config"
	"github.com/driftwatch/driftwatch/pkg/coordinator"
	"github.com/driftwatch/driftwatch/pkg/store"
)

const (
	testToken   = "test-token"
	readerToken = "reader-token"
)

func newTestServer(t *testing.T) *server {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		Global: config.GlobalConfig{
			DefaultFormat: "jsonlines",
			DefaultBranch: "main",
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{
				Path: filepath.Join(t.TempDir(), "test.db"),
			},
		},
		Detection: config.DetectionConfig{
			MaxPercentChange: 10.0,
			SigmaMultiplier:  2.0,
		},
	}

	s := &server{
		log: log,
		cfg: cfg,
	}

	s.store = store.NewStore(log, &cfg.Database)
	require.NoError(t, s.store.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, s.store.Stop())
	})

	require.NoError(t, s.store.SeedTokens(
		context.Background(),
		[]config.AuthToken{
			{Name: "test", Token: testToken},
			{Name: "viewer", Token: readerToken, Role: store.RoleReader},
		},
	))

	s.adapters = adapter.DefaultSet()
	s.coordinator = coordinator.New(log, cfg, s.store, s.adapters)

	return s
}

func doRequest(
	t *testing.T,
	s *server,
	method, path string,
	body any,
	authed bool,
) *httptest.ResponseRecorder {
	t.Helper()

	reqBody := bytes.NewBuffer(nil)

	if body != nil {
		require.NoError(t, json.NewEncoder(reqBody).Encode(body))
	}

	req := httptest.NewRequest(method, path, reqBody)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}

	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	return rec
}

func createTestProject(t *testing.T, s *server) {
	t.Helper()

	rec := doRequest(t, s, http.MethodPost, "/api/v1/projects/",
		map[string]any{"slug": "driftwatch", "name": "Driftwatch"}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func submitBody(runID string, value float64) map[string]any {
	return map[string]any{
		"testbed": "ci-runner",
		"run_id":  runID,
		"raw": fmt.Sprintf(
			`{"benchmark":"parse/large","measure":"latency","value":%v,"unit":"ns"}`,
			value,
		),
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/health", nil, false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleFormats(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/formats", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Formats []string `json:"formats"`
		Default string   `json:"default"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "jsonlines", resp.Default)
	assert.Contains(t, resp.Formats, "criterion")
	assert.Contains(t, resp.Formats, "gobench")
}

func TestCreateProjectRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/projects/",
		map[string]any{"slug": "driftwatch"}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(
		http.MethodPost, "/api/v1/projects/",
		bytes.NewBufferString(`{"slug":"driftwatch"}`),
	)
	req.Header.Set("Authorization", "Bearer wrong-token")

	badRec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(badRec, req)
	assert.Equal(t, http.StatusUnauthorized, badRec.Code)
}

func TestCreateProject(t *testing.T) {
	s := newTestServer(t)

	createTestProject(t, s)

	// Duplicate slug.
	rec := doRequest(t, s, http.MethodPost, "/api/v1/projects/",
		map[string]any{"slug": "driftwatch"}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Invalid slug.
	rec = doRequest(t, s, http.MethodPost, "/api/v1/projects/",
		map[string]any{"slug": "Not A Slug"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet,
		"/api/v1/projects/driftwatch/", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet,
		"/api/v1/projects/missing/", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitReport(t *testing.T) {
	s := newTestServer(t)
	createTestProject(t, s)

	rec := doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports",
		submitBody("run-1", 100), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result coordinator.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "run-1", result.RunID)
	require.Len(t, result.Results, 1)

	// Reused run id.
	rec = doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports",
		submitBody("run-1", 101), true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown project.
	rec = doRequest(t, s, http.MethodPost,
		"/api/v1/projects/missing/reports",
		submitBody("run-2", 100), true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed raw output.
	body := submitBody("run-3", 100)
	body["raw"] = `{"benchmark":`

	rec = doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports", body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unsupported format.
	body = submitBody("run-4", 100)
	body["format"] = "hyperfine"

	rec = doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports", body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing testbed.
	body = submitBody("run-5", 100)
	delete(body, "testbed")

	rec = doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports", body, true)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	s := newTestServer(t)
	createTestProject(t, s)

	for i, value := range []float64{100, 102, 98} {
		rec := doRequest(t, s, http.MethodPost,
			"/api/v1/projects/driftwatch/reports",
			submitBody(fmt.Sprintf("run-%d", i), value), true)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/projects/driftwatch/history"+
			"?testbed=ci-runner&benchmark=parse/large&measure=latency",
		nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []store.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 3)
	assert.InDelta(t, 100.0, entries[0].Value, 0.001)

	// benchmark and measure are mandatory.
	rec = doRequest(t, s, http.MethodGet,
		"/api/v1/projects/driftwatch/history?testbed=ci-runner",
		nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A bad limit is rejected.
	rec = doRequest(t, s, http.MethodGet,
		"/api/v1/projects/driftwatch/history"+
			"?testbed=ci-runner&benchmark=parse/large&measure=latency&limit=x",
		nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertsEndpoint(t *testing.T) {
	s := newTestServer(t)
	createTestProject(t, s)

	for i, value := range []float64{100, 101, 99, 100} {
		rec := doRequest(t, s, http.MethodPost,
			"/api/v1/projects/driftwatch/reports",
			submitBody(fmt.Sprintf("run-%d", i), value), true)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports",
		submitBody("run-bad", 150), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, s, http.MethodGet,
		"/api/v1/projects/driftwatch/alerts", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var alerts []store.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.NotEmpty(t, alerts)
	assert.Equal(t, store.AlertRegression, alerts[0].Status)
}

func TestCreateThresholdEndpoint(t *testing.T) {
	s := newTestServer(t)
	createTestProject(t, s)

	rec := doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports",
		submitBody("run-0", 100), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	tight := 2.0

	rec = doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/thresholds",
		map[string]any{
			"measure":            "latency",
			"max_percent_change": tight,
		}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	// The override applies to the next submission.
	rec = doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports",
		submitBody("run-1", 105), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result coordinator.SubmitResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "regression", string(result.Status))

	// Scoping to an unknown measure is a 404.
	rec = doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/thresholds",
		map[string]any{"measure": "nope"}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArtifactEndpointsWithoutStorage(t *testing.T) {
	s := newTestServer(t)
	createTestProject(t, s)

	rec := doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports",
		submitBody("run-1", 100), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	// No S3 configured: upload URLs are unavailable but listing works.
	rec = doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports/run-1/artifacts/upload-url",
		map[string]any{"file_name": "flame.svg", "file_size": 1024}, true)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = doRequest(t, s, http.MethodGet,
		"/api/v1/projects/driftwatch/reports/run-1/artifacts/", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func doReaderRequest(
	t *testing.T,
	s *server,
	method, path string,
	body any,
) *httptest.ResponseRecorder {
	t.Helper()

	reqBody := bytes.NewBuffer(nil)

	if body != nil {
		require.NoError(t, json.NewEncoder(reqBody).Encode(body))
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Authorization", "Bearer "+readerToken)

	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	return rec
}

func TestReaderTokenCannotWrite(t *testing.T) {
	s := newTestServer(t)
	createTestProject(t, s)

	rec := doRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports",
		submitBody("run-1", 100), true)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Mutating routes reject read-only tokens.
	rec = doReaderRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/reports",
		submitBody("run-2", 100))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doReaderRequest(t, s, http.MethodPost, "/api/v1/projects/",
		map[string]any{"slug": "other"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doReaderRequest(t, s, http.MethodPost,
		"/api/v1/projects/driftwatch/thresholds",
		map[string]any{"max_percent_change": 2.0})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Authenticated reads still work.
	rec = doReaderRequest(t, s, http.MethodGet,
		"/api/v1/projects/driftwatch/reports/run-1/artifacts/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
