package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edutrack/grade-service/internal/services"
	"github.com/edutrack/grade-service/internal/utils"
)

// Uploads above this size are rejected before parsing
const maxImportSize = 5 << 20

type ImportHandler struct {
	BaseHandler
	importService services.ImportService
}

func NewImportHandler(importService services.ImportService, logger utils.Logger) *ImportHandler {
	return &ImportHandler{
		BaseHandler:   NewBaseHandler(logger),
		importService: importService,
	}
}

// ImportGradeSheet imports grades from an uploaded spreadsheet
// @Summary Import grade sheet
// @Description Parses an uploaded .xlsx workbook and records its rows as a batch grade entry. Parse errors abort the upload; per-row business failures are reported in the result.
// @Tags import
// @Accept multipart/form-data
// @Produce json
// @Param class_id path uint true "Class ID"
// @Param term_id path uint true "Term ID"
// @Param file formData file true "Grade sheet (.xlsx)"
// @Success 200 {object} services.BatchEntryResult "All rows succeeded"
// @Success 207 {object} services.BatchEntryResult "Partial success"
// @Failure 400 {object} ErrorResponse "Unreadable sheet or parse error"
// @Failure 403 {object} ErrorResponse
// @Router /import/class/{class_id}/term/{term_id} [post]
func (h *ImportHandler) ImportGradeSheet(c *gin.Context) {
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

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Missing file upload",
			Details: err.Error(),
		})
		return
	}
	if fileHeader.Size > maxImportSize {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "File too large",
			Details: fmt.Sprintf("maximum upload size is %d bytes", maxImportSize),
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Failed to read upload", err)
		return
	}
	defer file.Close()

	h.LogRequest(c, "Importing grade sheet",
		"class_id", classID, "term_id", termID, "filename", fileHeader.Filename, "size", fileHeader.Size)

	result, err := h.importService.ImportGradeSheet(c.Request.Context(), file, classID, termID, userID)
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

// DownloadTemplate generates a grade sheet template for a class
// @Summary Download grade sheet template
// @Description Generates an .xlsx template prefilled with the class roster
// @Tags import
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param class_id path uint true "Class ID"
// @Param term_id path uint true "Term ID"
// @Success 200 {file} binary
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /import/class/{class_id}/term/{term_id}/template [get]
func (h *ImportHandler) DownloadTemplate(c *gin.Context) {
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

	data, err := h.importService.GenerateTemplate(c.Request.Context(), classID, termID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	filename := fmt.Sprintf("grades_class_%d_term_%d.xlsx", classID, termID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// ===== ERROR HANDLING =====

func (h *ImportHandler) handleServiceError(c *gin.Context, err error) {
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
