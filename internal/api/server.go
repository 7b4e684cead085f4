package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/applications"
	"github.com/david/grant-desk/internal/assistant"
	"github.com/david/grant-desk/internal/auth"
	"github.com/david/grant-desk/internal/config"
	"github.com/david/grant-desk/internal/grants"
	"github.com/david/grant-desk/internal/metrics"
	"github.com/david/grant-desk/internal/models"
	"github.com/david/grant-desk/internal/retrieval"
	"github.com/david/grant-desk/internal/sources"
)

// UpstreamTokens persists the bearer token used against the grants backend.
type UpstreamTokens interface {
	Set(token string) error
	Clear() error
}

type Deps struct {
	Grants       *grants.Service
	Applications *applications.Service
	Auth         *auth.Service
	Writer       *assistant.Writer
	Analyzer     *assistant.Analyzer
	Templates    *assistant.Templates
	Sources      *sources.Manager
	Metrics      *metrics.Tracker
	Tokens       UpstreamTokens // nil when the token comes from configuration
	Logger       *zap.Logger
}

type Server struct {
	Echo *echo.Echo

	grants       *grants.Service
	applications *applications.Service
	auth         *auth.Service
	writer       *assistant.Writer
	analyzer     *assistant.Analyzer
	templates    *assistant.Templates
	sources      *sources.Manager
	metrics      *metrics.Tracker
	tokens       UpstreamTokens
	logger       *zap.Logger
	adminSecret  string

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
	jobTimeout time.Duration
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(d Deps, cfg config.Server) (*Server, error) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	secret, err := adminSecret(cfg.AdminSecret, d.Logger)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("10M"))

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Echo:         e,
		grants:       d.Grants,
		applications: d.Applications,
		auth:         d.Auth,
		writer:       d.Writer,
		analyzer:     d.Analyzer,
		templates:    d.Templates,
		sources:      d.Sources,
		metrics:      d.Metrics,
		tokens:       d.Tokens,
		logger:       d.Logger,
		adminSecret:  secret,
		jobTimeout:   30 * time.Minute,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/health/grants", s.handleGrantsHealth)

	api.GET("/grants", s.handleListGrants)
	api.POST("/grants/search", s.handleSearchGrants)
	api.GET("/grants/categories", s.handleCategories)
	api.GET("/grants/high-priority", s.handleHighPriority)
	api.GET("/grants/closing-soon", s.handleClosingSoon)
	api.POST("/grants/recommendations", s.handleRecommendations)
	api.GET("/grants/:id", s.handleGetGrant)

	api.GET("/sources", s.handleListSources)
	api.GET("/sources/stats", s.handleSourceStats)
	api.GET("/metrics", s.handleMetrics)

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Protected Routes
	apps := api.Group("/applications")
	apps.Use(s.auth.Middleware)
	apps.GET("", s.handleListApplications)
	apps.POST("", s.handleStartApplication)
	apps.GET("/stats", s.handleApplicationStats)
	apps.GET("/:id", s.handleGetApplication)
	apps.POST("/:id/answers", s.handleSaveAnswer)
	apps.POST("/:id/ai-content", s.handleApplyAIContent)
	apps.POST("/:id/comments", s.handleAddComment)
	apps.PUT("/:id/priority", s.handleSetPriority)
	apps.POST("/:id/submit", s.handleSubmit)

	asst := api.Group("/assistant")
	asst.Use(s.auth.Middleware)
	asst.POST("/generate", s.handleGenerate)
	asst.POST("/professional", s.handleGenerateProfessional)
	asst.POST("/analyze", s.handleAnalyze)
	asst.POST("/quality", s.handleQuality)
	asst.POST("/extract", s.handleExtractPDF)
	asst.GET("/history", s.handleHistory)
	asst.GET("/history/:section", s.handleHistory)
	asst.DELETE("/history/:section", s.handleClearHistory)
	asst.GET("/templates", s.handleTemplates)
	asst.POST("/templates", s.handleAddTemplate)
	asst.GET("/templates/:id", s.handleGetTemplate)

	admin := api.Group("/admin")
	admin.Use(s.adminMiddleware)
	admin.POST("/sources/sync", s.handleSyncAll)
	admin.POST("/sources/:id/toggle", s.handleToggleSource)
	admin.POST("/sources/:id/sync", s.handleSyncSource)
	admin.GET("/job/:id", s.handleJobStatus)
	admin.POST("/applications/:id/decision", s.handleDecision)
	admin.POST("/grants/refresh", s.handleRefreshGrants)
	admin.DELETE("/grants/cache", s.handleClearGrantCache)
	admin.PUT("/upstream-token", s.handleSetUpstreamToken)
	admin.DELETE("/upstream-token", s.handleClearUpstreamToken)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

// Shutdown stops accepting requests and cancels a running background job.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.auth.Signup(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return s.fail(c, err)
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.auth.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// fail maps service errors to a status and a message that is safe to show.
// Anything unrecognised is logged and answered with a generic 500.
func (s *Server) fail(c echo.Context, err error) error {
	var exhausted *retrieval.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		s.logger.Warn("grant retrieval exhausted", zap.Strings("tiers", exhausted.Messages()))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "grants temporarily unavailable"})
	case errors.Is(err, grants.ErrRecommendationsUnavailable):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "recommendations temporarily unavailable"})
	case errors.Is(err, retrieval.ErrNoCredential), errors.Is(err, retrieval.ErrUnauthorized):
		s.logger.Warn("upstream rejected credentials", zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "upstream authentication failed"})
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, sources.ErrUnknownSource):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown source"})
	case errors.Is(err, applications.ErrForbidden):
		return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, applications.ErrAlreadySubmitted),
		errors.Is(err, applications.ErrInvalidTransition),
		errors.Is(err, applications.ErrNotEditable),
		errors.Is(err, assistant.ErrDuplicateTemplate):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, applications.ErrInvalidInput),
		errors.Is(err, applications.ErrEmptyAnswer),
		errors.Is(err, applications.ErrEmptyComment),
		errors.Is(err, models.ErrUnknownSection),
		errors.Is(err, models.ErrEmptySection),
		errors.Is(err, models.ErrSectionTooLong),
		errors.Is(err, models.ErrSectionContent):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	s.logger.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id", applications.ErrInvalidInput)
	}
	return id, nil
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Check X-Admin-Secret header or Bearer token
		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader != "" && s.isAdminSecret(adminHeader) {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if s.isAdminSecret(authHeader[7:]) {
				return next(c)
			}
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func (s *Server) isAdminSecret(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.adminSecret)) == 1
}

// adminSecret returns the configured secret or, when none is set, a random
// one that lives as long as the process.
func adminSecret(configured string, logger *zap.Logger) (string, error) {
	if secret := strings.TrimSpace(configured); secret != "" {
		return secret, nil
	}
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate admin secret fallback: %w", err)
	}
	logger.Warn("server.admin_secret is not set; using ephemeral in-memory fallback secret")
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
