package apihandlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soilscope/internal/app"
	"soilscope/internal/config"
	"soilscope/internal/models"
)

const squareFeature = `{"type":"Feature","properties":{"name":"North Field"},
"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}`

func newTestServer(t *testing.T) (*gin.Engine, *app.App) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)
	cfg.Database.Driver = "memory"
	cfg.Ingest.Width, cfg.Ingest.Height = 10, 10
	cfg.Report.OutputDir = t.TempDir()
	cfg.Report.Narrative.Provider = "none"

	a, err := app.NewApp(cfg, app.Options{NoQueue: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	router := gin.New()
	RegisterRoutes(router, NewAPIHandler(a))
	return router, a
}

func do(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func submit(t *testing.T, router http.Handler) JobResponse {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"region":     json.RawMessage(squareFeature),
		"start_date": "2024-01-01",
		"end_date":   "2024-01-31",
	})
	require.NoError(t, err)
	w := do(router, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		Data JobResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestSubmitJobHandler(t *testing.T) {
	router, _ := newTestServer(t)
	job := submit(t, router)

	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "North Field", job.RegionName)
	assert.Equal(t, "2024-01-01", job.StartDate)
	assert.Equal(t, "2024-01-31", job.EndDate)
}

func TestSubmitJobHandler_BadRequests(t *testing.T) {
	router, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing region", `{"start_date":"2024-01-01","end_date":"2024-01-31"}`},
		{"bad date", `{"region":` + squareFeature + `,"start_date":"01/02/2024","end_date":"2024-01-31"}`},
		{"end before start", `{"region":` + squareFeature + `,"start_date":"2024-02-01","end_date":"2024-01-01"}`},
		{"range too long", `{"region":` + squareFeature + `,"start_date":"1900-01-01","end_date":"9999-12-31"}`},
		{"open ring", `{"region":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1]]]},"start_date":"2024-01-01","end_date":"2024-01-31"}`},
		{"point geometry", `{"region":{"type":"Point","coordinates":[0,0]},"start_date":"2024-01-01","end_date":"2024-01-31"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/v1/jobs", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"code":"bad_request"`)
		})
	}
}

func TestGetJobHandler(t *testing.T) {
	router, _ := newTestServer(t)
	job := submit(t, router)

	w := do(router, http.MethodGet, "/api/v1/jobs/"+job.ID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), job.ID.String())

	w = do(router, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/v1/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobsHandler(t *testing.T) {
	router, _ := newTestServer(t)
	submit(t, router)
	submit(t, router)

	w := do(router, http.MethodGet, "/api/v1/jobs?status=pending&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Items []JobResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Items, 1)

	w = do(router, http.MethodGet, "/api/v1/jobs?status=running", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(router, http.MethodGet, "/api/v1/jobs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResultAndReportHandlers(t *testing.T) {
	router, a := newTestServer(t)
	job := submit(t, router)
	base := "/api/v1/jobs/" + job.ID.String()

	w := do(router, http.MethodGet, base+"/result", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "result of a pending job")

	stored, err := a.JobService.Get(context.Background(), job.ID)
	require.NoError(t, err)
	d, err := stored.Descriptor()
	require.NoError(t, err)
	_, err = a.Orchestrator.Run(context.Background(), d)
	require.NoError(t, err)

	w = do(router, http.MethodGet, base+"/result", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data models.ResultBundle `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, job.ID, resp.Data.JobID)
	assert.Equal(t, "g/kg", resp.Data.SOC.Unit)
	assert.NotEmpty(t, resp.Data.Report.ReportKey)

	w = do(router, http.MethodGet, base+"/report", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "North Field")

	w = do(router, http.MethodGet, base+"/maps/soc", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = do(router, http.MethodGet, base+"/maps/ph", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthHandler(t *testing.T) {
	router, _ := newTestServer(t)
	w := do(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
