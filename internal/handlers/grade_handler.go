package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/edutrack/grade-service/internal/services"
	"github.com/edutrack/grade-service/internal/utils"
	"github.com/edutrack/grade-service/internal/validator"
)

type GradeHandler struct {
	BaseHandler
	gradeService services.GradeService
	validator    *validator.Validator
}

func NewGradeHandler(
	gradeService services.GradeService,
	validator *validator.Validator,
	logger utils.Logger,
) *GradeHandler {
	return &GradeHandler{
		BaseHandler:  NewBaseHandler(logger),
		gradeService: gradeService,
		validator:    validator,
	}
}

// SubmitGrade records a new grade
// @Summary Submit grade
// @Description Records a grade for a student. When an active grade already exists for the same student, class, term, topic and subtopic, the on_conflict field decides whether to replace, retake or skip; without it a 409 conflict is returned.
// @Tags grades
// @Accept json
// @Produce json
// @Param grade body services.SubmitGradeRequest true "Grade data"
// @Success 201 {object} services.SubmitGradeResult
// @Success 200 {object} services.SubmitGradeResult "Submission skipped"
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Existing active grade, no resolution given"
// @Router /grades [post]
func (h *GradeHandler) SubmitGrade(c *gin.Context) {
	var req services.SubmitGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	result, err := h.gradeService.Submit(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Action == services.ActionSkipped {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// GetGrade retrieves a grade by ID
// @Summary Get grade
// @Description Retrieves a grade by its ID
// @Tags grades
// @Accept json
// @Produce json
// @Param id path uint true "Grade ID"
// @Success 200 {object} services.GradeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /grades/{id} [get]
func (h *GradeHandler) GetGrade(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	grade, err := h.gradeService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, grade)
}

// GetGradeWithDetails retrieves a grade with reference data preloaded
// @Summary Get grade with details
// @Description Retrieves a grade with student, class, topic and term details
// @Tags grades
// @Accept json
// @Produce json
// @Param id path uint true "Grade ID"
// @Success 200 {object} services.GradeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /grades/{id}/details [get]
func (h *GradeHandler) GetGradeWithDetails(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	grade, err := h.gradeService.GetByIDWithDetails(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, grade)
}

// UpdateGrade corrects an existing grade in place
// @Summary Update grade
// @Description Corrects marks, date or notes on an existing grade. The low-point classification is recomputed.
// @Tags grades
// @Accept json
// @Produce json
// @Param id path uint true "Grade ID"
// @Param grade body services.UpdateGradeRequest true "Grade update data"
// @Success 200 {object} services.GradeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Grade is closed"
// @Router /grades/{id} [put]
func (h *GradeHandler) UpdateGrade(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Updating grade", "grade_id", id)

	var req services.UpdateGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	grade, err := h.gradeService.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, grade)
}

// DeleteGrade deletes a grade
// @Summary Delete grade
// @Description Deletes a grade. Retakes pointing at it survive with the link cleared.
// @Tags grades
// @Accept json
// @Produce json
// @Param id path uint true "Grade ID"
// @Success 204 "No content"
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /grades/{id} [delete]
func (h *GradeHandler) DeleteGrade(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Deleting grade", "grade_id", id)

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	if err := h.gradeService.Delete(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ReassignGrade reassigns a homework grade
// @Summary Reassign homework
// @Description Closes a homework grade and appends a fresh zero-mark attempt for the student to redo.
// @Tags grades
// @Accept json
// @Produce json
// @Param id path uint true "Grade ID"
// @Param reassignment body services.ReassignGradeRequest true "Reassignment data"
// @Success 201 {object} services.GradeResponse
// @Failure 400 {object} ErrorResponse "Not a homework grade"
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse "Already reassigned"
// @Router /grades/{id}/reassign [post]
func (h *GradeHandler) ReassignGrade(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Reassigning homework grade", "grade_id", id)

	var req services.ReassignGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	grade, err := h.gradeService.Reassign(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grade)
}

// ListGrades lists grades with filters
// @Summary List grades
// @Description Lists grades with optional filtering. Teachers only see records from their own classes.
// @Tags grades
// @Accept json
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param size query int false "Page size" default(20)
// @Param student_id query uint false "Student ID"
// @Param class_id query uint false "Class ID"
// @Param term_id query uint false "Term ID"
// @Param topic_id query uint false "Topic ID"
// @Param work_type query string false "Work type (classwork, homework)"
// @Param low_points query bool false "Only low-point grades"
// @Success 200 {object} services.GradeListResponse
// @Failure 403 {object} ErrorResponse
// @Router /grades [get]
func (h *GradeHandler) ListGrades(c *gin.Context) {
	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	filters := h.parseGradeFilters(c)
	grades, err := h.gradeService.List(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, grades)
}

// GetStudentTermGrades lists a student's grades for a class and term
// @Summary Get student grades for a term
// @Tags grades
// @Accept json
// @Produce json
// @Param student_id path uint true "Student ID"
// @Param class_id path uint true "Class ID"
// @Param term_id path uint true "Term ID"
// @Success 200 {object} services.GradeListResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /grades/student/{student_id}/class/{class_id}/term/{term_id} [get]
func (h *GradeHandler) GetStudentTermGrades(c *gin.Context) {
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

	grades, err := h.gradeService.GetByStudentTerm(c.Request.Context(), studentID, classID, termID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, grades)
}

// GetClassTermGrades lists all grades for a class and term
// @Summary Get class grades for a term
// @Tags grades
// @Accept json
// @Produce json
// @Param class_id path uint true "Class ID"
// @Param term_id path uint true "Term ID"
// @Success 200 {object} services.GradeListResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /grades/class/{class_id}/term/{term_id} [get]
func (h *GradeHandler) GetClassTermGrades(c *gin.Context) {
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

	grades, err := h.gradeService.GetByClassTerm(c.Request.Context(), classID, termID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, grades)
}

// GetRetakeChain returns a grade's retake history
// @Summary Get retake chain
// @Description Returns the full retake chain the grade belongs to, oldest attempt first
// @Tags grades
// @Accept json
// @Produce json
// @Param id path uint true "Grade ID"
// @Success 200 {array} services.GradeResponse
// @Failure 404 {object} ErrorResponse
// @Router /grades/{id}/retake-chain [get]
func (h *GradeHandler) GetRetakeChain(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	chain, err := h.gradeService.GetRetakeChain(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, chain)
}

// BatchEntry records grades for several students in one call
// @Summary Batch grade entry
// @Description Records a batch of grades for one class and term. Rows are processed in order; failed rows are reported per row and skipped, while the first unresolved conflict stops the batch and defers every later row. Committed rows are never rolled back.
// @Tags grades
// @Accept json
// @Produce json
// @Param batch body services.BatchEntryRequest true "Batch entry data"
// @Success 200 {object} services.BatchEntryResult "All rows succeeded"
// @Success 207 {object} services.BatchEntryResult "Partial success"
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /grades/batch [post]
func (h *GradeHandler) BatchEntry(c *gin.Context) {
	var req services.BatchEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Batch grade entry", "class_id", req.ClassID, "term_id", req.TermID, "rows", len(req.Entries))

	result, err := h.gradeService.BatchEntry(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	status := http.StatusOK
	if result.Failed > 0 || result.Conflicted > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}

// CanEditGrade reports whether the caller may edit a grade
// @Summary Check edit permission
// @Tags grades
// @Accept json
// @Produce json
// @Param id path uint true "Grade ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} ErrorResponse
// @Router /grades/{id}/can-edit [get]
func (h *GradeHandler) CanEditGrade(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.GetUserID(c)
	if !ok {
		return
	}

	canEdit, err := h.gradeService.CanEdit(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"can_edit": canEdit})
}

// ===== HELPER METHODS =====

func (h *GradeHandler) parseGradeFilters(c *gin.Context) repositories.GradeFilters {
	page := h.parseIntQuery(c, "page", 1)
	size := h.parseIntQuery(c, "size", 20)
	if size > 100 {
		size = 100
	}

	filters := repositories.GradeFilters{
		StudentID: h.parseUintQuery(c, "student_id"),
		ClassID:   h.parseUintQuery(c, "class_id"),
		TermID:    h.parseUintQuery(c, "term_id"),
		TopicID:   h.parseUintQuery(c, "topic_id"),
		Limit:     size,
		Offset:    (page - 1) * size,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	if workType := c.Query("work_type"); workType != "" {
		wt := models.WorkType(workType)
		filters.WorkType = &wt
	}
	if lowPoints := c.Query("low_points"); lowPoints == "true" {
		isLow := true
		filters.IsLowPoint = &isLow
	}

	return filters
}

func (h *GradeHandler) handleServiceError(c *gin.Context, err error) {
	var fieldError *services.FieldValidationError
	if errors.As(err, &fieldError) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: map[string]interface{}{
				"field":   fieldError.Field,
				"message": fieldError.Message,
				"value":   fieldError.Value,
			},
		})
		return
	}

	var conflictError *services.ConflictError
	if errors.As(err, &conflictError) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: conflictError.Message,
			Details: map[string]interface{}{
				"existing_grade_id": conflictError.ExistingGradeID,
			},
		})
		return
	}

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
	case errors.Is(err, services.ErrGradeNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Grade not found"})
	case errors.Is(err, services.ErrStudentNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Student not found"})
	case errors.Is(err, services.ErrClassNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Class not found"})
	case errors.Is(err, services.ErrTermNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Term not found"})
	case errors.Is(err, services.ErrTopicNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Topic not found"})
	case errors.Is(err, services.ErrSubtopicNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Subtopic not found"})
	case errors.Is(err, services.ErrStudentNotEnrolled):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Student is not enrolled in this class",
		})
	case errors.Is(err, services.ErrNotHomework):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Only homework grades can be reassigned",
		})
	case errors.Is(err, services.ErrGradeClosed):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Grade is closed and can no longer be modified",
		})
	case errors.Is(err, services.ErrGradeConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "An active grade already exists for this student and topic",
		})
	case errors.Is(err, services.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: err.Error(),
		})
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "Unauthorized"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "Forbidden"})
	default:
		h.LogError(c, err, "Unexpected service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
