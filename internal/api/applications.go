package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/david/grant-desk/internal/auth"
	"github.com/david/grant-desk/internal/models"
)

type startApplicationRequest struct {
	GrantID  models.GrantID `json:"grant_id"`
	Title    string         `json:"title"`
	Priority string         `json:"priority"`
}

type answerRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type aiContentRequest struct {
	Section string `json:"section"`
	Content string `json:"content"`
}

type commentRequest struct {
	Comment string `json:"comment"`
}

type priorityRequest struct {
	Priority string `json:"priority"`
}

type decisionRequest struct {
	Approved *bool   `json:"approved"`
	Funding  float64 `json:"funding"`
}

// caller returns the authenticated user id and the application id from the
// path. The auth middleware has already rejected anonymous requests.
func caller(c echo.Context) (string, int64, error) {
	uid, err := auth.UserIDFromContext(c)
	if err != nil {
		return "", 0, err
	}
	if c.Param("id") == "" {
		return uid.String(), 0, nil
	}
	id, err := pathID(c)
	if err != nil {
		return "", 0, err
	}
	return uid.String(), id, nil
}

func (s *Server) handleListApplications(c echo.Context) error {
	userID, _, err := caller(c)
	if err != nil {
		return s.fail(c, err)
	}
	apps, err := s.applications.List(c.Request().Context(), userID)
	if err != nil {
		return s.fail(c, err)
	}
	if apps == nil {
		apps = []models.Application{}
	}
	return c.JSON(http.StatusOK, apps)
}

func (s *Server) handleApplicationStats(c echo.Context) error {
	userID, _, err := caller(c)
	if err != nil {
		return s.fail(c, err)
	}
	stats, err := s.applications.Stats(c.Request().Context(), userID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleStartApplication(c echo.Context) error {
	userID, _, err := caller(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req startApplicationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	app, err := s.applications.Start(c.Request().Context(), userID, req.GrantID, req.Title, priority)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, app)
}

func (s *Server) handleGetApplication(c echo.Context) error {
	userID, id, err := caller(c)
	if err != nil {
		return s.fail(c, err)
	}
	app, err := s.applications.Get(c.Request().Context(), userID, id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, app)
}

func (s *Server) handleSaveAnswer(c echo.Context) error {
	userID, id, err := caller(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	ans, err := s.applications.SaveAnswer(c.Request().Context(), userID, id, req.Question, req.Answer)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, ans)
}

func (s *Server) handleApplyAIContent(c echo.Context) error {
	userID, id, err := caller(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req aiContentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	ans, err := s.applications.ApplyAIContent(c.Request().Context(), userID, id, req.Section, req.Content)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, ans)
}

func (s *Server) handleAddComment(c echo.Context) error {
	userID, id, err := caller(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	comment, err := s.applications.AddComment(c.Request().Context(), userID, id, req.Comment)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, comment)
}

func (s *Server) handleSetPriority(c echo.Context) error {
	userID, id, err := caller(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req priorityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := s.applications.SetPriority(c.Request().Context(), userID, id, req.Priority); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"priority": req.Priority})
}

func (s *Server) handleSubmit(c echo.Context) error {
	userID, id, err := caller(c)
	if err != nil {
		return s.fail(c, err)
	}
	app, err := s.applications.Submit(c.Request().Context(), userID, id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, app)
}

func (s *Server) handleDecision(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req decisionRequest
	if err := c.Bind(&req); err != nil || req.Approved == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "approved is required"})
	}
	if req.Funding < 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "funding must not be negative"})
	}
	app, err := s.applications.Decide(c.Request().Context(), id, *req.Approved, req.Funding)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, app)
}
