package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// DashboardRepository interface for institute-wide analytics operations
type DashboardRepository interface {
	// Dashboard totals
	GetTotalStudents(ctx context.Context, tx *gorm.DB) (int64, error)
	GetTotalClasses(ctx context.Context, tx *gorm.DB) (int64, error)
	GetTotalGrades(ctx context.Context, tx *gorm.DB, termID uint) (int64, error)
	GetTotalLowPoints(ctx context.Context, tx *gorm.DB, termID uint) (int64, error)

	// Metrics
	GetAveragePercentage(ctx context.Context, tx *gorm.DB, termID uint) (float64, error)
	GetClassPerformance(ctx context.Context, tx *gorm.DB, termID uint, limit int) ([]ClassPerformanceData, error)
	GetTeacherActivity(ctx context.Context, tx *gorm.DB, termID uint, limit int) ([]TeacherActivityData, error)
	GetSubjectLowPointBreakdown(ctx context.Context, tx *gorm.DB, termID uint) ([]SubjectLowPointRow, error)

	// Distribution: grade counts bucketed by percentage band
	GetScoreDistribution(ctx context.Context, tx *gorm.DB, termID uint) ([]ScoreBandData, error)

	// Trends
	GetGradingTrends(ctx context.Context, tx *gorm.DB, termID uint, period string) ([]GradingTrendData, error)

	// Recent activities
	GetRecentGrades(ctx context.Context, tx *gorm.DB, limit int) ([]RecentGradeData, error)
}

// Data structures for dashboard responses

type ClassPerformanceData struct {
	ClassID           uint    `json:"class_id"`
	ClassName         string  `json:"class_name"`
	SubjectName       string  `json:"subject_name"`
	StudentCount      int64   `json:"student_count"`
	GradeCount        int64   `json:"grade_count"`
	AveragePercentage float64 `json:"average_percentage"`
	LowPointRate      float64 `json:"low_point_rate"`
}

type TeacherActivityData struct {
	TeacherID     string     `json:"teacher_id"`
	TeacherName   string     `json:"teacher_name"`
	GradesEntered int64      `json:"grades_entered"`
	ClassCount    int64      `json:"class_count"`
	LastEntry     *time.Time `json:"last_entry,omitempty"`
}

// SubjectLowPointRow is one student's low-point count within one class,
// labelled with the class's subject. One row per student and class so
// counts are never multiplied by the student's number of grade rows;
// the flag breakpoint rule is applied by the service.
type SubjectLowPointRow struct {
	SubjectID   uint   `json:"subject_id"`
	SubjectName string `json:"subject_name"`
	StudentID   uint   `json:"student_id"`
	LowPoints   int    `json:"low_points"`
}

type ScoreBandData struct {
	Band       string  `json:"band"` // "below_60", "60_to_79", "80_and_above"
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

type GradingTrendData struct {
	Period            string  `json:"period"`
	Grades            int64   `json:"grades"`
	LowPoints         int64   `json:"low_points"`
	AveragePercentage float64 `json:"average_percentage"`
	Date              time.Time
}

type RecentGradeData struct {
	ID           uint      `json:"id"`
	StudentID    uint      `json:"student_id"`
	StudentName  string    `json:"student_name"`
	ClassName    string    `json:"class_name"`
	TopicName    string    `json:"topic_name"`
	Percentage   int       `json:"percentage"`
	IsLowPoint   bool      `json:"is_low_point"`
	IsRetake     bool      `json:"is_retake"`
	RecordedBy   string    `json:"recorded_by"`
	AssessedDate time.Time `json:"assessed_date"`
	CreatedAt    time.Time `json:"created_at"`
}
