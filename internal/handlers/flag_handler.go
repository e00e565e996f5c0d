package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/services"
	"github.com/edutrack/grade-service/internal/utils"
)

type FlagHandler struct {
	BaseHandler
	flagService services.FlagService
}

func NewFlagHandler(flagService services.FlagService, logger utils.Logger) *FlagHandler {
	return &FlagHandler{
		BaseHandler: NewBaseHandler(logger),
		flagService: flagService,
	}
}

// GetClassFlags lists flagged students in a class
// @Summary Get class flags
// @Description Lists students whose low-point count reached a flag level for the given class and term, worst first
// @Tags flags
// @Accept json
// @Produce json
// @Param class_id path uint true "Class ID"
// @Param term_id path uint true "Term ID"
// @Success 200 {object} services.FlagListResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /flags/class/{class_id}/term/{term_id} [get]
func (h *FlagHandler) GetClassFlags(c *gin.Context) {
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

	flags, err := h.flagService.GetClassFlags(c.Request.Context(), classID, termID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, flags)
}

// GetStudentFlag returns one student's flag state
// @Summary Get student flag
// @Tags flags
// @Accept json
// @Produce json
// @Param student_id path uint true "Student ID"
// @Param class_id path uint true "Class ID"
// @Param term_id path uint true "Term ID"
// @Success 200 {object} services.StudentFlagResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /flags/student/{student_id}/class/{class_id}/term/{term_id} [get]
func (h *FlagHandler) GetStudentFlag(c *gin.Context) {
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

	flag, err := h.flagService.GetStudentFlag(c.Request.Context(), studentID, classID, termID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, flag)
}

// RecordContact records a parent contact for a flagged student
// @Summary Record parent contact
// @Description Records that parents were contacted. One record per student, term and contact type; recording again updates the existing one.
// @Tags flags
// @Accept json
// @Produce json
// @Param contact body services.UpdateContactRequest true "Contact data"
// @Success 201 {object} models.ParentContact
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /flags/contacts [post]
func (h *FlagHandler) RecordContact(c *gin.Context) {
	var req services.UpdateContactRequest
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

	h.LogRequest(c, "Recording parent contact", "student_id", req.StudentID, "contact_type", req.ContactType)

	contact, err := h.flagService.RecordContact(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, contact)
}

// UpdateContactStatus updates the status of a parent contact
// @Summary Update contact status
// @Tags flags
// @Accept json
// @Produce json
// @Param id path uint true "Contact ID"
// @Param status body object{status=string} true "New status (pending, contacted, resolved)"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /flags/contacts/{id}/status [put]
func (h *FlagHandler) UpdateContactStatus(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req struct {
		Status models.ContactStatus `json:"status" binding:"required"`
	}
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

	if err := h.flagService.UpdateContactStatus(c.Request.Context(), id, req.Status, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Contact status updated successfully",
	})
}

// GetContacts lists the contacts recorded for a student in a term
// @Summary Get parent contacts
// @Tags flags
// @Accept json
// @Produce json
// @Param student_id path uint true "Student ID"
// @Param term_id path uint true "Term ID"
// @Success 200 {array} models.ParentContact
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /flags/contacts/student/{student_id}/term/{term_id} [get]
func (h *FlagHandler) GetContacts(c *gin.Context) {
	studentID := h.parseIDParam(c, "student_id")
	if studentID == 0 {
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

	contacts, err := h.flagService.GetContacts(c.Request.Context(), studentID, termID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, contacts)
}

// ===== ERROR HANDLING =====

func (h *FlagHandler) handleServiceError(c *gin.Context, err error) {
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
	case errors.Is(err, services.ErrContactNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "Contact not found"})
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
