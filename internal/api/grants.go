package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/david/grant-desk/internal/models"
)

func (s *Server) handleGrantsHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.grants.Health(c.Request().Context()))
}

// handleListGrants serves the full list; any filter in the query string
// turns it into a search.
func (s *Server) handleListGrants(c echo.Context) error {
	filters := models.SearchFilters{
		Category:       c.QueryParam("category"),
		SearchTerm:     c.QueryParam("q"),
		Status:         c.QueryParam("status"),
		DeadlineBefore: c.QueryParam("deadline_before"),
	}
	if v, err := strconv.ParseFloat(c.QueryParam("min_amount"), 64); err == nil && v > 0 {
		filters.MinAmount = v
	}
	if v, err := strconv.ParseFloat(c.QueryParam("max_amount"), 64); err == nil && v > 0 {
		filters.MaxAmount = v
	}

	ctx := c.Request().Context()
	if filters == (models.SearchFilters{}) {
		res, err := s.grants.List(ctx)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
	res, err := s.grants.Search(ctx, filters)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSearchGrants(c echo.Context) error {
	var filters models.SearchFilters
	if err := c.Bind(&filters); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	res, err := s.grants.Search(c.Request().Context(), filters)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleCategories(c echo.Context) error {
	cats, err := s.grants.Categories(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"categories": cats})
}

func (s *Server) handleHighPriority(c echo.Context) error {
	res, err := s.grants.HighPriority(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleClosingSoon(c echo.Context) error {
	res, err := s.grants.ClosingSoon(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRecommendations(c echo.Context) error {
	var profile models.RecommendationProfile
	if err := c.Bind(&profile); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	recs, err := s.grants.Recommendations(c.Request().Context(), profile)
	if err != nil {
		return s.fail(c, err)
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	return c.JSON(http.StatusOK, map[string]any{"recommendations": recs})
}

func (s *Server) handleGetGrant(c echo.Context) error {
	g, err := s.grants.Get(c.Request().Context(), models.GrantID(c.Param("id")))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (s *Server) handleRefreshGrants(c echo.Context) error {
	res, err := s.grants.Refresh(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleClearGrantCache(c echo.Context) error {
	s.grants.ClearCache()
	return c.NoContent(http.StatusNoContent)
}
