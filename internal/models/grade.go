package models

import (
	"time"

	"gorm.io/datatypes"
)

type WorkType string

const (
	WorkClasswork WorkType = "classwork"
	WorkHomework  WorkType = "homework"
)

type WorkSubtype string

const (
	SubtypeWorksheet WorkSubtype = "worksheet"
	SubtypePastPaper WorkSubtype = "pastpaper"
)

// LowPointThreshold is the pass boundary: a grade below this percentage
// is a low point. Exactly 80 is not a low point.
const LowPointThreshold = 80

// Grade is one assessed attempt for a student against a topic (and
// optionally a subtopic) within a class and term.
//
// For a given (student, class, term, topic, subtopic) key at most one
// grade is "active" (is_retake = false AND is_reassigned = false); the
// partial unique index below serializes concurrent submissions for the
// same key. Retake chains link back through OriginalGradeID and carry
// strictly increasing attempt numbers.
type Grade struct {
	ID uint `json:"id" gorm:"primaryKey"`

	// Grade key
	StudentID  uint  `json:"student_id" gorm:"not null;index;uniqueIndex:idx_active_grade_key,where:is_retake = false AND is_reassigned = false"`
	ClassID    uint  `json:"class_id" gorm:"not null;index;uniqueIndex:idx_active_grade_key,where:is_retake = false AND is_reassigned = false"`
	CourseID   uint  `json:"course_id" gorm:"not null;index"`
	TermID     uint  `json:"term_id" gorm:"not null;index;uniqueIndex:idx_active_grade_key,where:is_retake = false AND is_reassigned = false"`
	TopicID    uint  `json:"topic_id" gorm:"not null;uniqueIndex:idx_active_grade_key,where:is_retake = false AND is_reassigned = false"`
	SubtopicID *uint `json:"subtopic_id" gorm:"uniqueIndex:idx_active_grade_key,where:is_retake = false AND is_reassigned = false"`

	// Measured
	MarksObtained float64 `json:"marks_obtained" gorm:"not null"`
	TotalMarks    float64 `json:"total_marks" gorm:"not null"`
	Percentage    int     `json:"percentage" gorm:"not null"`
	IsLowPoint    bool    `json:"is_low_point" gorm:"not null;default:false;index"`

	// Classification
	WorkType    WorkType    `json:"work_type" gorm:"not null;size:20;index"`
	WorkSubtype WorkSubtype `json:"work_subtype" gorm:"not null;size:20"`

	// Lineage
	AttemptNumber   int   `json:"attempt_number" gorm:"not null;default:1"`
	IsRetake        bool  `json:"is_retake" gorm:"not null;default:false"`
	IsReassigned    bool  `json:"is_reassigned" gorm:"not null;default:false"`
	OriginalGradeID *uint `json:"original_grade_id" gorm:"index"`

	// Temporal
	AssessedDate datatypes.Date `json:"assessed_date" gorm:"not null;index"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`

	// Optional
	Notes             *string `json:"notes" gorm:"type:text"`
	HomeworkSubmitted *bool   `json:"homework_submitted"` // nil for classwork

	// Metadata
	RecordedBy string `json:"recorded_by" gorm:"not null;index;size:255"`

	// Relations
	Student  Student   `json:"student" gorm:"foreignKey:StudentID"`
	Class    Class     `json:"class" gorm:"foreignKey:ClassID"`
	Course   Course    `json:"course" gorm:"foreignKey:CourseID"`
	Term     Term      `json:"term" gorm:"foreignKey:TermID"`
	Topic    Topic     `json:"topic" gorm:"foreignKey:TopicID"`
	Subtopic *Subtopic `json:"subtopic,omitempty" gorm:"foreignKey:SubtopicID"`
}

func (Grade) TableName() string {
	return "grades"
}

// GradeKey identifies the lineage a submission belongs to. SubtopicID
// nil means the grade was recorded at topic granularity.
type GradeKey struct {
	StudentID  uint  `json:"student_id"`
	ClassID    uint  `json:"class_id"`
	TermID     uint  `json:"term_id"`
	TopicID    uint  `json:"topic_id"`
	SubtopicID *uint `json:"subtopic_id"`
}

// Key extracts the lineage key of a grade.
func (g *Grade) Key() GradeKey {
	return GradeKey{
		StudentID:  g.StudentID,
		ClassID:    g.ClassID,
		TermID:     g.TermID,
		TopicID:    g.TopicID,
		SubtopicID: g.SubtopicID,
	}
}

// IsActive reports whether this grade is the current original for its
// key, i.e. neither part of a retake chain nor closed by reassignment.
func (g *Grade) IsActive() bool {
	return !g.IsRetake && !g.IsReassigned
}
