package repositories

import (
	"time"

	"github.com/edutrack/grade-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type GradeFilters struct {
	StudentID   *uint               `json:"student_id"`
	ClassID     *uint               `json:"class_id"`
	TermID      *uint               `json:"term_id"`
	TopicID     *uint               `json:"topic_id"`
	WorkType    *models.WorkType    `json:"work_type"`
	WorkSubtype *models.WorkSubtype `json:"work_subtype"`
	IsLowPoint  *bool               `json:"is_low_point"`
	RecordedBy  *string             `json:"recorded_by"`
	DateFrom    *time.Time          `json:"date_from"`
	DateTo      *time.Time          `json:"date_to"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
	SortBy      string              `json:"sort_by"`    // "assessed_date", "percentage", "created_at"
	SortOrder   string              `json:"sort_order"` // "asc", "desc"
}

type ContactFilters struct {
	StudentID *uint                 `json:"student_id"`
	TermID    *uint                 `json:"term_id"`
	Status    *models.ContactStatus `json:"status"`
	Limit     int                   `json:"limit"`
	Offset    int                   `json:"offset"`
}

// ===== SHARED AGGREGATE STRUCTS =====

// LowPointCount is one row of a grouped low-point aggregation.
type LowPointCount struct {
	StudentID uint  `json:"student_id"`
	ClassID   uint  `json:"class_id"`
	Count     int64 `json:"count"`
}

// StudentTermStats aggregates one student's grades within a class and term.
type StudentTermStats struct {
	StudentID         uint    `json:"student_id"`
	GradeCount        int64   `json:"grade_count"`
	LowPointCount     int64   `json:"low_point_count"`
	AveragePercentage float64 `json:"average_percentage"`
	LatestAssessed    *time.Time
}

// TopicCoverage reports how many distinct topics of a course have at
// least one grade for a student.
type TopicCoverage struct {
	StudentID     uint  `json:"student_id"`
	TopicsGraded  int64 `json:"topics_graded"`
	SubtopicCount int64 `json:"subtopics_graded"`
}
