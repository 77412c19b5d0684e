package apihandlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"soilscope/internal/app"
	"soilscope/internal/models"
	"soilscope/internal/services"
	"soilscope/internal/store"
)

type APIHandler struct {
	App *app.App
}

func NewAPIHandler(app *app.App) *APIHandler {
	return &APIHandler{App: app}
}

// SubmitJobRequest is the body of POST /api/v1/jobs.
type SubmitJobRequest struct {
	Region    json.RawMessage `json:"region"` // GeoJSON Feature or geometry
	Name      string          `json:"name"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
}

// JobResponse is the public view of a job.
type JobResponse struct {
	ID         uuid.UUID        `json:"id"`
	Status     models.JobStatus `json:"status"`
	RegionName string           `json:"region_name"`
	StartDate  string           `json:"start_date"`
	EndDate    string           `json:"end_date"`
	Error      string           `json:"error,omitempty"`
	TaskID     string           `json:"task_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func toJobResponse(j *models.Job) JobResponse {
	resp := JobResponse{
		ID:         j.ID,
		Status:     j.Status,
		RegionName: j.RegionName,
		StartDate:  j.StartDate.Format(time.DateOnly),
		EndDate:    j.EndDate.Format(time.DateOnly),
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if j.ErrorMessage != nil {
		resp.Error = *j.ErrorMessage
	}
	if j.TaskID != nil {
		resp.TaskID = *j.TaskID
	}
	return resp
}

func parseSubmitRequest(c *gin.Context) (services.SubmitParams, error) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return services.SubmitParams{}, err
	}
	if len(req.Region) == 0 || req.StartDate == "" || req.EndDate == "" {
		return services.SubmitParams{}, fmt.Errorf("missing required fields: region, start_date, and end_date")
	}
	start, err := services.ParseDate(req.StartDate)
	if err != nil {
		return services.SubmitParams{}, err
	}
	end, err := services.ParseDate(req.EndDate)
	if err != nil {
		return services.SubmitParams{}, err
	}
	return services.SubmitParams{Region: req.Region, Name: req.Name, Start: start, End: end}, nil
}

// SubmitJobHandler creates and enqueues an analysis job.
func (h *APIHandler) SubmitJobHandler(c *gin.Context) {
	params, err := parseSubmitRequest(c)
	if err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	job, err := h.App.JobService.Submit(c.Request.Context(), params)
	if err != nil {
		respondError(c, "SubmitJobHandler", err)
		return
	}
	c.Header("Location", "/api/v1/jobs/"+job.ID.String())
	c.JSON(http.StatusAccepted, gin.H{"data": toJobResponse(job)})
}

func parseListFilter(c *gin.Context) (store.ListFilter, error) {
	filter := store.ListFilter{Limit: store.DefaultListLimit}
	if s := c.Query("status"); s != "" {
		status, err := models.ParseJobStatus(s)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			return filter, fmt.Errorf("invalid limit: %s", l)
		}
		filter.Limit = parsed
	}
	if o := c.Query("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			return filter, fmt.Errorf("invalid offset: %s", o)
		}
		filter.Offset = parsed
	}
	return filter, nil
}

func (h *APIHandler) ListJobsHandler(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}
	jobs, err := h.App.JobService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "ListJobsHandler", err)
		return
	}
	items := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = toJobResponse(j)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func parseJobID(c *gin.Context) (uuid.UUID, error) {
	raw := c.Param("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("Invalid job ID format: %s", raw)
	}
	return id, nil
}

func (h *APIHandler) GetJobHandler(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	job, err := h.App.JobService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, "GetJobHandler", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": toJobResponse(job)})
}

// GetResultHandler returns prediction statistics and report links of a
// completed job.
func (h *APIHandler) GetResultHandler(c *gin.Context) {
	id, err := parseJobID(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	res, err := h.App.JobService.Result(c.Request.Context(), id)
	if err != nil {
		respondError(c, "GetResultHandler", err)
		return
	}
	base := "/api/v1/jobs/" + id.String()
	c.JSON(http.StatusOK, gin.H{
		"data": res,
		"links": gin.H{
			"report":       base + "/report",
			"soc_map":      base + "/maps/soc",
			"moisture_map": base + "/maps/moisture",
		},
	})
}

func (h *APIHandler) GetReportHandler(c *gin.Context) {
	h.serveArtifact(c, func(r models.ReportReference) string { return r.ReportKey })
}

func (h *APIHandler) GetMapHandler(c *gin.Context) {
	var pick func(models.ReportReference) string
	switch models.Target(c.Param("target")) {
	case models.TargetSOC:
		pick = func(r models.ReportReference) string { return r.SOCMapKey }
	case models.TargetMoisture:
		pick = func(r models.ReportReference) string { return r.MoistureMapKey }
	default:
		NotFound(c, "Unknown map: "+c.Param("target"))
		return
	}
	h.serveArtifact(c, pick)
}

func (h *APIHandler) serveArtifact(c *gin.Context, pick func(models.ReportReference) string) {
	id, err := parseJobID(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	rc, key, err := h.App.JobService.OpenArtifact(c.Request.Context(), id, pick)
	if err != nil {
		respondError(c, "serveArtifact", err)
		return
	}
	defer rc.Close()

	contentType := "application/octet-stream"
	switch path.Ext(key) {
	case ".html":
		contentType = "text/html; charset=utf-8"
	case ".png":
		contentType = "image/png"
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", contentType)
	_, _ = io.Copy(c.Writer, rc)
}

func (h *APIHandler) HealthHandler(c *gin.Context) {
	if err := h.App.JobStore.Ping(c.Request.Context()); err != nil {
		JSONError(c, http.StatusServiceUnavailable, "unavailable", "job store: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RegisterRoutes mounts the API on router.
func RegisterRoutes(router gin.IRouter, h *APIHandler) {
	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", h.SubmitJobHandler)
			jobs.GET("", h.ListJobsHandler)
			jobs.GET("/:id", h.GetJobHandler)
			jobs.GET("/:id/result", h.GetResultHandler)
			jobs.GET("/:id/report", h.GetReportHandler)
			jobs.GET("/:id/maps/:target", h.GetMapHandler)
		}
	}
	router.GET("/health", h.HealthHandler)
}
