package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/david/grant-desk/internal/assistant"
)

const maxUploadBytes = 10 << 20

type analyzeRequest struct {
	Content string                 `json:"content"`
	Grant   assistant.GrantContext `json:"grant_context"`
}

type qualityRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleGenerate(c echo.Context) error {
	var req assistant.ContentRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Section) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "section is required"})
	}
	return c.JSON(http.StatusOK, s.writer.Generate(c.Request().Context(), req))
}

func (s *Server) handleGenerateProfessional(c echo.Context) error {
	var req assistant.ContentRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Section) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "section is required"})
	}
	return c.JSON(http.StatusOK, s.writer.GenerateProfessional(c.Request().Context(), req))
}

// handleAnalyze always answers 200 for non-empty content: an unreachable or
// confused model yields neutral scores rather than an error.
func (s *Server) handleAnalyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}
	return c.JSON(http.StatusOK, s.analyzer.Analyze(c.Request().Context(), req.Content, req.Grant))
}

func (s *Server) handleQuality(c echo.Context) error {
	var req qualityRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	return c.JSON(http.StatusOK, assistant.QuickQualityCheck(req.Content))
}

// handleExtractPDF takes a multipart "file" upload of grant guidelines and
// returns its text layer with a quality check of that text.
func (s *Server) handleExtractPDF(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file is required"})
	}
	if fh.Size > maxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
	}
	f, err := fh.Open()
	if err != nil {
		return s.fail(c, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return s.fail(c, err)
	}

	text, err := assistant.ExtractPDFText(data)
	if err != nil {
		s.logger.Info("pdf extraction failed", zap.String("file", fh.Filename), zap.Error(err))
		msg := "could not read pdf"
		if errors.Is(err, assistant.ErrNoPDFText) {
			msg = assistant.ErrNoPDFText.Error()
		}
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": msg})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"filename": fh.Filename,
		"text":     text,
		"quality":  assistant.QuickQualityCheck(text),
	})
}

func (s *Server) handleHistory(c echo.Context) error {
	history := s.writer.History(c.Param("section"))
	if history == nil {
		history = []assistant.Response{}
	}
	return c.JSON(http.StatusOK, history)
}

func (s *Server) handleClearHistory(c echo.Context) error {
	s.writer.ClearHistory(c.Param("section"))
	return c.NoContent(http.StatusNoContent)
}

// handleTemplates lists templates, optionally for one category. sort=success
// or sort=usage ranks them instead.
func (s *Server) handleTemplates(c echo.Context) error {
	limit := 5
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 50 {
		limit = v
	}

	var list []assistant.Template
	switch c.QueryParam("sort") {
	case "success":
		list = s.templates.Top(limit)
	case "usage":
		list = s.templates.MostUsed(limit)
	default:
		if category := c.QueryParam("category"); category != "" {
			list = s.templates.ByCategory(category)
		} else {
			list = s.templates.All()
		}
	}
	if list == nil {
		list = []assistant.Template{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetTemplate(c echo.Context) error {
	tpl, ok := s.templates.ByID(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "template not found"})
	}
	return c.JSON(http.StatusOK, tpl)
}

func (s *Server) handleAddTemplate(c echo.Context) error {
	var tpl assistant.Template
	if err := c.Bind(&tpl); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if strings.TrimSpace(tpl.ID) == "" || strings.TrimSpace(tpl.Name) == "" || len(tpl.Sections) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "id, name and sections are required"})
	}
	tpl.UsageCount = 0
	if err := s.templates.Add(tpl); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, tpl)
}
