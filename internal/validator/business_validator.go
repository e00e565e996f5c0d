package validator

import (
	"time"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/go-playground/validator/v10"
)

// registerGradeRules registers custom rule validators for grade requests
func registerGradeRules(v *validator.Validate) {
	// Total marks must be a positive whole-ish number; zero-total work
	// cannot be graded
	v.RegisterValidation("total_marks", func(fl validator.FieldLevel) bool {
		total := fl.Field().Float()
		return total >= 1
	})

	// work type validation
	v.RegisterValidation("work_type", func(fl validator.FieldLevel) bool {
		wt := models.WorkType(fl.Field().String())
		return wt == models.WorkClasswork || wt == models.WorkHomework
	})

	// work subtype validation
	v.RegisterValidation("work_subtype", func(fl validator.FieldLevel) bool {
		ws := models.WorkSubtype(fl.Field().String())
		return ws == models.SubtypeWorksheet || ws == models.SubtypePastPaper
	})

	// conflict resolution validation
	v.RegisterValidation("conflict_resolution", func(fl validator.FieldLevel) bool {
		r := ConflictResolution(fl.Field().String())
		return r == ResolutionReplace || r == ResolutionRetake || r == ResolutionSkip
	})

	// contact type validation
	v.RegisterValidation("contact_type", func(fl validator.FieldLevel) bool {
		ct := models.ContactType(fl.Field().String())
		return ct == models.ContactMessage || ct == models.ContactCall || ct == models.ContactMeeting
	})

	// contact status validation
	v.RegisterValidation("contact_status", func(fl validator.FieldLevel) bool {
		cs := models.ContactStatus(fl.Field().String())
		return cs == models.ContactPending || cs == models.ContactContacted || cs == models.ContactResolved
	})
}

// ValidateGradeSubmit validates a grade submission, combining struct
// tags with cross-field business rules
func (v *Validator) ValidateGradeSubmit(req *GradeSubmitRequest) ValidationErrors {
	var errors ValidationErrors

	if err := v.Validate(req); err != nil {
		if ve, ok := err.(ValidationErrors); ok {
			errors = append(errors, ve...)
		}
	}

	errors = append(errors, validateGradeBusinessRules(req)...)

	return errors
}

// ValidateGradeUpdate validates an in-place grade correction against the
// existing grade
func (v *Validator) ValidateGradeUpdate(req *GradeUpdateRequest, existing *models.Grade) ValidationErrors {
	var errors ValidationErrors

	if err := v.Validate(req); err != nil {
		if ve, ok := err.(ValidationErrors); ok {
			errors = append(errors, ve...)
		}
	}

	// Resolve the effective marks after the update
	marks := existing.MarksObtained
	total := existing.TotalMarks
	if req.MarksObtained != nil {
		marks = *req.MarksObtained
	}
	if req.TotalMarks != nil {
		total = *req.TotalMarks
	}

	if marks > total {
		errors = append(errors, ValidationError{
			Field:   "marks_obtained",
			Message: "cannot exceed total marks",
			Value:   marks,
			Rule:    "marks_range",
		})
	}

	if req.HomeworkSubmitted != nil && existing.WorkType != models.WorkHomework {
		errors = append(errors, ValidationError{
			Field:   "homework_submitted",
			Message: "only applies to homework grades",
			Value:   *req.HomeworkSubmitted,
			Rule:    "business_logic",
		})
	}

	return errors
}

// ValidateBatchEntry validates a batch grade entry request. Per-entry
// failures carry the entry index so the caller can report row-level
// outcomes.
func (v *Validator) ValidateBatchEntry(req *BatchGradeEntryRequest) ValidationErrors {
	var errors ValidationErrors

	if req.ClassID == 0 {
		errors = append(errors, ValidationError{
			Field: "class_id", Message: "is required", Rule: "required",
		})
	}
	if req.TermID == 0 {
		errors = append(errors, ValidationError{
			Field: "term_id", Message: "is required", Rule: "required",
		})
	}
	if len(req.Entries) == 0 {
		errors = append(errors, ValidationError{
			Field: "entries", Message: "must contain at least one grade", Rule: "min",
		})
	}

	return errors
}

// ValidateEntry validates one row of a batch without failing siblings
func (v *Validator) ValidateEntry(entry *GradeSubmitRequest, classID, termID uint) ValidationErrors {
	var errors ValidationErrors

	if entry.ClassID != classID {
		errors = append(errors, ValidationError{
			Field:   "class_id",
			Message: "must match the batch class",
			Value:   entry.ClassID,
			Rule:    "business_logic",
		})
	}
	if entry.TermID != termID {
		errors = append(errors, ValidationError{
			Field:   "term_id",
			Message: "must match the batch term",
			Value:   entry.TermID,
			Rule:    "business_logic",
		})
	}

	errors = append(errors, v.ValidateGradeSubmit(entry)...)

	return errors
}

// validateGradeBusinessRules validates cross-field rules for submissions
func validateGradeBusinessRules(req *GradeSubmitRequest) ValidationErrors {
	var errors ValidationErrors

	if req.MarksObtained > req.TotalMarks {
		errors = append(errors, ValidationError{
			Field:   "marks_obtained",
			Message: "cannot exceed total marks",
			Value:   req.MarksObtained,
			Rule:    "marks_range",
		})
	}

	if !req.AssessedDate.IsZero() && req.AssessedDate.After(time.Now().AddDate(0, 0, 1)) {
		errors = append(errors, ValidationError{
			Field:   "assessed_date",
			Message: "cannot be in the future",
			Value:   req.AssessedDate,
			Rule:    "business_logic",
		})
	}

	if req.HomeworkSubmitted != nil && req.WorkType != models.WorkHomework {
		errors = append(errors, ValidationError{
			Field:   "homework_submitted",
			Message: "only applies to homework grades",
			Value:   *req.HomeworkSubmitted,
			Rule:    "business_logic",
		})
	}

	return errors
}
