package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edutrack/grade-service/internal/services"
	"github.com/edutrack/grade-service/internal/utils"
)

type ProgressHandler struct {
	BaseHandler
	progressService services.ProgressService
}

func NewProgressHandler(progressService services.ProgressService, logger utils.Logger) *ProgressHandler {
	return &ProgressHandler{
		BaseHandler:     NewBaseHandler(logger),
		progressService: progressService,
	}
}

// GetStudentSummary returns a student's progress summary
// @Summary Get student progress summary
// @Description Returns grade count, low points, average percentage, topic coverage and flag state for one student in a class and term
// @Tags progress
// @Accept json
// @Produce json
// @Param student_id path uint true "Student ID"
// @Param class_id path uint true "Class ID"
// @Param term_id path uint true "Term ID"
// @Success 200 {object} services.ProgressSummaryResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /progress/student/{student_id}/class/{class_id}/term/{term_id} [get]
func (h *ProgressHandler) GetStudentSummary(c *gin.Context) {
	studentID := h.parseIDParam(c, "student_id")
	if studentID == 0 {
		return
	}
	classID := h.parseIDParam(c, "class_id")
	if classID == 0 {
		return
	}
	termID := h.parseIDParam(c, "term_id")
	if termID == 0 {
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	summary, err := h.progressService.GetStudentSummary(c.Request.Context(), studentID, classID, termID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetClassSummary returns progress summaries for a whole class
// @Summary Get class progress summary
// @Description Returns one summary row per enrolled student, graded or not
// @Tags progress
// @Accept json
// @Produce json
// @Param class_id path uint true "Class ID"
// @Param term_id path uint true "Term ID"
// @Success 200 {object} services.ClassProgressResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /progress/class/{class_id}/term/{term_id} [get]
func (h *ProgressHandler) GetClassSummary(c *gin.Context) {
	classID := h.parseIDParam(c, "class_id")
	if classID == 0 {
		return
	}
	termID := h.parseIDParam(c, "term_id")
	if termID == 0 {
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	summary, err := h.progressService.GetClassSummary(c.Request.Context(), classID, termID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ===== ERROR HANDLING =====

func (h *ProgressHandler) handleServiceError(c *gin.Context, err error) {
	var permissionError *services.PermissionError
	if errors.As(err, &permissionError) {
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Access denied",
			Details: map[string]interface{}{
				"resource": permissionError.Resource,
				"action":   permissionError.Action,
				"reason":   permissionError.Reason,
			},
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Student not found"})
	case errors.Is(err, services.ErrClassNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Class not found"})
	case errors.Is(err, services.ErrTermNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Term not found"})
	case errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Forbidden"})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
