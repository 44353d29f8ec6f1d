package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/david/grant-importer/internal/auth"
	"github.com/david/grant-importer/internal/config"
	"github.com/david/grant-importer/internal/credentials"
	"github.com/david/grant-importer/internal/ingest"
	"github.com/david/grant-importer/internal/models"
)

type GrantStore interface {
	ListGrants(ctx context.Context, q models.GrantQuery) (*models.GrantPage, error)
	GetGrant(ctx context.Context, id string) (*models.StoredGrant, error)
	Stats(ctx context.Context) (*models.GrantStats, error)
	PublishDrafts(ctx context.Context, n int) (int, error)
}

type Importer interface {
	Trigger(ctx context.Context, kind models.RunKind, params ingest.RunParams) (models.ImportResult, error)
	Begin(ctx context.Context, kind models.RunKind) (*ingest.Run, error)
}

type Registry interface {
	Ping(ctx context.Context) error
	ClearCache(ctx context.Context) error
}

type Credentials interface {
	Set(ctx context.Context, provider, key string) error
	Clear(ctx context.Context, provider string) error
	Status(ctx context.Context) ([]credentials.Status, error)
}

type AIPinger interface {
	Provider() string
	Ping(ctx context.Context) (string, error)
}

type Schedule interface {
	IsRunning() bool
	NextRun() *time.Time
}

// Deps are the components the HTTP layer exposes. Optional ones may be
// nil; their routes then answer 503.
type Deps struct {
	Grants      GrantStore
	Importer    Importer
	History     ingest.HistorySink
	Registry    Registry
	Credentials Credentials
	AI          AIPinger
	Schedule    Schedule
	Auth        *auth.Service
}

type Server struct {
	Echo   *echo.Echo
	deps   Deps
	logger *slog.Logger

	jobTimeout time.Duration

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string               `json:"id"`
	Status    string               `json:"status"` // running, completed, failed
	StartedAt time.Time            `json:"started_at"`
	EndedAt   time.Time            `json:"ended_at,omitempty"`
	Result    *models.ImportResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func NewServer(cfg config.Server, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				logger.Error("request", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	}))

	allowedOrigins := cfg.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, auth.AdminHeader},
	}))

	s := &Server{
		Echo:       e,
		deps:       deps,
		logger:     logger,
		jobTimeout: 30 * time.Minute,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/grants", s.handleListGrants)
	api.GET("/grants/:id", s.handleGetGrant)
	api.GET("/stats", s.handleGetStats)
	api.POST("/auth/login", s.handleLogin)

	admin := api.Group("/admin")
	admin.Use(s.deps.Auth.Middleware)
	admin.POST("/import", s.handleTriggerImport)
	admin.GET("/import/jobs/:id", s.handleJobStatus)
	admin.GET("/import/history", s.handleImportHistory)
	admin.GET("/import/last", s.handleLastImport)
	admin.GET("/schedule", s.handleSchedule)
	admin.POST("/source/ping", s.handleSourcePing)
	admin.POST("/source/cache/clear", s.handleClearCache)
	admin.GET("/credentials", s.handleCredentialStatus)
	admin.PUT("/credentials/:provider", s.handleSetCredential)
	admin.DELETE("/credentials/:provider", s.handleClearCredential)
	admin.POST("/ai/ping", s.handleAIPing)
	admin.POST("/grants/publish", s.handlePublishDrafts)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.Echo.Shutdown(ctx)
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func unavailable(c echo.Context, what string) error {
	return errorJSON(c, http.StatusServiceUnavailable, what+" is not configured")
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListGrants(c echo.Context) error {
	limit := 20
	offset := 0
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}
	status := c.QueryParam("status")
	if status == "" {
		status = models.StatusPublish
	}

	page, err := s.deps.Grants.ListGrants(c.Request().Context(), models.GrantQuery{
		Query:  strings.TrimSpace(c.QueryParam("q")),
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list grants", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleGetGrant(c echo.Context) error {
	g, err := s.deps.Grants.GetGrant(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ingest.ErrGrantNotFound) {
		return errorJSON(c, http.StatusNotFound, "grant not found")
	}
	if err != nil {
		s.logger.Error("failed to get grant", "id", c.Param("id"), "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, g)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.deps.Grants.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to load stats", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	resp, err := s.deps.Auth.Login(req)
	switch {
	case errors.Is(err, auth.ErrLoginDisabled):
		return errorJSON(c, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrInvalidCreds):
		return errorJSON(c, http.StatusUnauthorized, "invalid credentials")
	case err != nil:
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, resp)
}

// handleTriggerImport starts a manual run. By default the run continues in
// the background and the response carries a job id to poll; with
// ?wait=true the handler blocks and returns the ImportResult.
func (s *Server) handleTriggerImport(c echo.Context) error {
	var params ingest.RunParams
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&params); err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid run parameters")
		}
	}

	if strings.EqualFold(c.QueryParam("wait"), "true") {
		res, err := s.deps.Importer.Trigger(c.Request().Context(), models.RunManual, params)
		if errors.Is(err, ingest.ErrAlreadyRunning) {
			return errorJSON(c, http.StatusConflict, err.Error())
		}
		if err != nil {
			return c.JSON(http.StatusBadGateway, map[string]any{"error": err.Error(), "result": res})
		}
		return c.JSON(http.StatusOK, res)
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]any{
			"error":  "An import job is already running",
			"job_id": job.ID,
		})
	}

	// WithoutCancel detaches the run from the HTTP request.
	jobCtx, jobCancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), s.jobTimeout)

	// Take the run lock before answering so contention is a 409, not a
	// failed job.
	run, err := s.deps.Importer.Begin(jobCtx, models.RunManual)
	if err != nil {
		s.jobMu.Unlock()
		jobCancel()
		if errors.Is(err, ingest.ErrAlreadyRunning) {
			return errorJSON(c, http.StatusConflict, err.Error())
		}
		return errorJSON(c, http.StatusBadGateway, err.Error())
	}

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()
		res, err := run.Execute(jobCtx, params)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		if res.RunID != uuid.Nil {
			job.Result = &res
		}
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			s.logger.Error("import job failed", "job_id", jobID, "error", err)
			return
		}
		job.Status = "completed"
		s.logger.Info("import job completed", "job_id", jobID, "created", res.Created)
	}()

	return c.JSON(http.StatusAccepted, map[string]any{
		"message": "Import job started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/import/jobs/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != c.Param("id") {
		return errorJSON(c, http.StatusNotFound, "job not found")
	}

	resp := map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleImportHistory(c echo.Context) error {
	n, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := s.deps.History.History(c.Request().Context(), n)
	if err != nil {
		s.logger.Error("failed to load import history", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleLastImport(c echo.Context) error {
	last, err := s.deps.History.Last(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to load last import", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	if last == nil {
		return errorJSON(c, http.StatusNotFound, "no import has run yet")
	}
	return c.JSON(http.StatusOK, last)
}

func (s *Server) handleSchedule(c echo.Context) error {
	if s.deps.Schedule == nil {
		return c.JSON(http.StatusOK, map[string]any{"running": false})
	}
	resp := map[string]any{"running": s.deps.Schedule.IsRunning()}
	if next := s.deps.Schedule.NextRun(); next != nil {
		resp["next_run"] = next
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSourcePing(c echo.Context) error {
	if s.deps.Registry == nil {
		return unavailable(c, "registry client")
	}
	if err := s.deps.Registry.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleClearCache(c echo.Context) error {
	if s.deps.Registry == nil {
		return unavailable(c, "registry client")
	}
	if err := s.deps.Registry.ClearCache(c.Request().Context()); err != nil {
		s.logger.Error("failed to clear cache", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "cache cleared"})
}

func (s *Server) handleCredentialStatus(c echo.Context) error {
	if s.deps.Credentials == nil {
		return unavailable(c, "credential store")
	}
	st, err := s.deps.Credentials.Status(c.Request().Context())
	if err != nil {
		s.logger.Error("failed to load credential status", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleSetCredential(c echo.Context) error {
	if s.deps.Credentials == nil {
		return unavailable(c, "credential store")
	}
	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := c.Bind(&body); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	err := s.deps.Credentials.Set(c.Request().Context(), c.Param("provider"), body.APIKey)
	return s.credentialResult(c, err, "credential saved")
}

func (s *Server) handleClearCredential(c echo.Context) error {
	if s.deps.Credentials == nil {
		return unavailable(c, "credential store")
	}
	err := s.deps.Credentials.Clear(c.Request().Context(), c.Param("provider"))
	return s.credentialResult(c, err, "credential cleared")
}

func (s *Server) credentialResult(c echo.Context, err error, msg string) error {
	switch {
	case errors.Is(err, credentials.ErrUnknownProvider):
		return errorJSON(c, http.StatusNotFound, err.Error())
	case errors.Is(err, credentials.ErrEmptyCredential):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("credential update failed", "provider", c.Param("provider"), "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": msg, "provider": c.Param("provider")})
}

func (s *Server) handleAIPing(c echo.Context) error {
	if s.deps.AI == nil {
		return unavailable(c, "AI provider")
	}
	reply, err := s.deps.AI.Ping(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]any{
			"ok":       false,
			"provider": s.deps.AI.Provider(),
			"error":    err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "provider": s.deps.AI.Provider(), "reply": reply})
}

func (s *Server) handlePublishDrafts(c echo.Context) error {
	n := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return errorJSON(c, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		n = parsed
	}
	published, err := s.deps.Grants.PublishDrafts(c.Request().Context(), n)
	if err != nil {
		s.logger.Error("failed to publish drafts", "error", err)
		return errorJSON(c, http.StatusInternalServerError, "Internal Server Error")
	}
	return c.JSON(http.StatusOK, map[string]int{"published": published})
}
