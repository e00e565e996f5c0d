package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edutrack/grade-service/internal/services"
	"github.com/edutrack/grade-service/internal/utils"
)

type DashboardHandler struct {
	BaseHandler
	service services.DashboardService
}

func NewDashboardHandler(service services.DashboardService, logger utils.Logger) *DashboardHandler {
	return &DashboardHandler{
		BaseHandler: NewBaseHandler(logger),
		service:     service,
	}
}

// ===== DASHBOARD ENDPOINTS =====

// GetDashboardStats returns overall dashboard statistics
// @Summary Get dashboard statistics
// @Description Get overview counts and performance metrics for a term. term_id 0 or absent means the active term.
// @Tags dashboard
// @Accept json
// @Produce json
// @Param term_id query uint false "Term ID (default: active term)"
// @Success 200 {object} services.DashboardStatsResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 404 {object} ErrorResponse "Unknown term"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/stats [get]
func (h *DashboardHandler) GetDashboardStats(c *gin.Context) {
	h.LogRequest(c, "Getting dashboard stats")

	termID := h.parseTermQuery(c)

	stats, err := h.service.GetDashboardStats(c.Request.Context(), termID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetClassPerformance returns per-class performance for a term
// @Summary Get class performance
// @Description Get student counts, average percentage and low-point rate per class
// @Tags dashboard
// @Accept json
// @Produce json
// @Param term_id query uint false "Term ID (default: active term)"
// @Param limit query int false "Number of classes to return (default: 10, max: 50)"
// @Success 200 {array} services.ClassPerformanceResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/class-performance [get]
func (h *DashboardHandler) GetClassPerformance(c *gin.Context) {
	h.LogRequest(c, "Getting class performance")

	termID := h.parseTermQuery(c)
	limit := h.parseLimitQuery(c, 10, 50)

	performance, err := h.service.GetClassPerformance(c.Request.Context(), termID, limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, performance)
}

// GetTeacherActivity returns grading activity per teacher
// @Summary Get teacher activity
// @Description Get grades entered, class counts and last entry time per teacher
// @Tags dashboard
// @Accept json
// @Produce json
// @Param term_id query uint false "Term ID (default: active term)"
// @Param limit query int false "Number of teachers to return (default: 10, max: 50)"
// @Success 200 {array} services.TeacherActivityResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/teacher-activity [get]
func (h *DashboardHandler) GetTeacherActivity(c *gin.Context) {
	h.LogRequest(c, "Getting teacher activity")

	termID := h.parseTermQuery(c)
	limit := h.parseLimitQuery(c, 10, 50)

	activity, err := h.service.GetTeacherActivity(c.Request.Context(), termID, limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, activity)
}

// GetSubjectFlags returns flagged-student counts per subject
// @Summary Get flag counts by subject
// @Tags dashboard
// @Accept json
// @Produce json
// @Param term_id query uint false "Term ID (default: active term)"
// @Success 200 {array} services.SubjectFlagResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/subject-flags [get]
func (h *DashboardHandler) GetSubjectFlags(c *gin.Context) {
	h.LogRequest(c, "Getting subject flags")

	termID := h.parseTermQuery(c)

	flags, err := h.service.GetSubjectFlags(c.Request.Context(), termID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, flags)
}

// GetScoreDistribution returns the score band distribution
// @Summary Get score distribution
// @Description Get the distribution of grades across score bands with counts and percentages
// @Tags dashboard
// @Accept json
// @Produce json
// @Param term_id query uint false "Term ID (default: active term)"
// @Success 200 {array} services.ScoreBandResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/score-distribution [get]
func (h *DashboardHandler) GetScoreDistribution(c *gin.Context) {
	h.LogRequest(c, "Getting score distribution")

	termID := h.parseTermQuery(c)

	distribution, err := h.service.GetScoreDistribution(c.Request.Context(), termID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, distribution)
}

// GetGradingTrends returns grading volume and averages over time
// @Summary Get grading trends
// @Description Get grade counts, low points and averages grouped by time period
// @Tags dashboard
// @Accept json
// @Produce json
// @Param term_id query uint false "Term ID (default: active term)"
// @Param period query string false "Time period: week or month (default: month)"
// @Success 200 {array} services.GradingTrendResponse
// @Failure 400 {object} ErrorResponse "Bad request - invalid period"
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/grading-trends [get]
func (h *DashboardHandler) GetGradingTrends(c *gin.Context) {
	h.LogRequest(c, "Getting grading trends")

	termID := h.parseTermQuery(c)
	period := c.DefaultQuery("period", "month")

	trends, err := h.service.GetGradingTrends(c.Request.Context(), termID, period)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, trends)
}

// GetRecentGrades returns the most recently recorded grades
// @Summary Get recent grades
// @Tags dashboard
// @Accept json
// @Produce json
// @Param limit query int false "Number of grades to return (default: 10, max: 50)"
// @Success 200 {array} services.RecentGradeResponse
// @Failure 401 {object} ErrorResponse "Unauthorized"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /dashboard/recent-grades [get]
func (h *DashboardHandler) GetRecentGrades(c *gin.Context) {
	h.LogRequest(c, "Getting recent grades")

	limit := h.parseLimitQuery(c, 10, 50)

	grades, err := h.service.GetRecentGrades(c.Request.Context(), limit)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, grades)
}

// ===== HELPER METHODS =====

// parseTermQuery reads term_id, zero meaning the active term
func (h *DashboardHandler) parseTermQuery(c *gin.Context) uint {
	if termID := h.parseUintQuery(c, "term_id"); termID != nil {
		return *termID
	}
	return 0
}

func (h *DashboardHandler) parseLimitQuery(c *gin.Context, defaultValue, maxValue int) int {
	limit := h.parseIntQuery(c, "limit", defaultValue)
	if limit < 1 {
		limit = defaultValue
	}
	if limit > maxValue {
		limit = maxValue
	}
	return limit
}

// ===== ERROR HANDLING =====

func (h *DashboardHandler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTermNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Term not found",
		})
	case errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "Unauthorized",
		})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Forbidden",
		})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
