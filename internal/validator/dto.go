package validator

import (
	"time"

	"github.com/edutrack/grade-service/internal/models"
)

// ConflictResolution tells the grade engine what to do when a
// submission hits a key that already has an active grade.
type ConflictResolution string

const (
	ResolutionReplace ConflictResolution = "replace"
	ResolutionRetake  ConflictResolution = "retake"
	ResolutionSkip    ConflictResolution = "skip"
)

// GradeSubmitRequest represents the request structure for recording a grade
type GradeSubmitRequest struct {
	StudentID     uint               `json:"student_id" validate:"required"`
	ClassID       uint               `json:"class_id" validate:"required"`
	TermID        uint               `json:"term_id" validate:"required"`
	TopicID       uint               `json:"topic_id" validate:"required"`
	SubtopicID    *uint              `json:"subtopic_id"`
	MarksObtained float64            `json:"marks_obtained" validate:"min=0"`
	TotalMarks    float64            `json:"total_marks" validate:"required,total_marks"`
	WorkType      models.WorkType    `json:"work_type" validate:"required,work_type"`
	WorkSubtype   models.WorkSubtype `json:"work_subtype" validate:"required,work_subtype"`
	AssessedDate  time.Time          `json:"assessed_date" validate:"required"`
	Notes         *string            `json:"notes" validate:"omitempty,max=1000"`

	// Homework only; ignored for classwork.
	HomeworkSubmitted *bool `json:"homework_submitted"`

	// How to handle an existing active grade for the same key. Empty
	// means the submission fails with a conflict so the caller can ask.
	OnConflict ConflictResolution `json:"on_conflict" validate:"omitempty,conflict_resolution"`
}

// GradeUpdateRequest represents an in-place correction of a recorded grade
type GradeUpdateRequest struct {
	MarksObtained *float64   `json:"marks_obtained" validate:"omitempty,min=0"`
	TotalMarks    *float64   `json:"total_marks" validate:"omitempty,total_marks"`
	AssessedDate  *time.Time `json:"assessed_date"`
	Notes         *string    `json:"notes" validate:"omitempty,max=1000"`

	HomeworkSubmitted *bool `json:"homework_submitted"`
}

// BatchGradeEntryRequest represents one sheet of grades entered together
type BatchGradeEntryRequest struct {
	ClassID uint                 `json:"class_id" validate:"required"`
	TermID  uint                 `json:"term_id" validate:"required"`
	Entries []GradeSubmitRequest `json:"entries" validate:"required,min=1,max=500,dive"`
}

// ReassignRequest represents reassigning a piece of homework
type ReassignRequest struct {
	NewTotalMarks *float64   `json:"new_total_marks" validate:"omitempty,total_marks"`
	DueDate       *time.Time `json:"due_date"`
	Notes         *string    `json:"notes" validate:"omitempty,max=1000"`
}

// ContactUpdateRequest represents updating a parent contact record
type ContactUpdateRequest struct {
	StudentID   uint                 `json:"student_id" validate:"required"`
	TermID      uint                 `json:"term_id" validate:"required"`
	ContactType models.ContactType   `json:"contact_type" validate:"required,contact_type"`
	Status      models.ContactStatus `json:"status" validate:"required,contact_status"`
	Notes       *string              `json:"notes" validate:"omitempty,max=1000"`
}
