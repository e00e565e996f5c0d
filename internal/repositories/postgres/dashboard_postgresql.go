package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"gorm.io/gorm"
)

type dashboardRepository struct {
	db *gorm.DB
}

func NewDashboardRepository(db *gorm.DB) repositories.DashboardRepository {
	return &dashboardRepository{db: db}
}

func (r *dashboardRepository) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// ===== DASHBOARD TOTALS =====

func (r *dashboardRepository) GetTotalStudents(ctx context.Context, tx *gorm.DB) (int64, error) {
	db := r.getDB(tx)
	var count int64

	if err := db.WithContext(ctx).
		Model(&models.Student{}).
		Where("deleted_at IS NULL").
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to get total students: %w", err)
	}

	return count, nil
}

func (r *dashboardRepository) GetTotalClasses(ctx context.Context, tx *gorm.DB) (int64, error) {
	db := r.getDB(tx)
	var count int64

	if err := db.WithContext(ctx).
		Model(&models.Class{}).
		Where("deleted_at IS NULL").
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to get total classes: %w", err)
	}

	return count, nil
}

func (r *dashboardRepository) GetTotalGrades(ctx context.Context, tx *gorm.DB, termID uint) (int64, error) {
	db := r.getDB(tx)
	var count int64

	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Where("term_id = ?", termID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to get total grades: %w", err)
	}

	return count, nil
}

func (r *dashboardRepository) GetTotalLowPoints(ctx context.Context, tx *gorm.DB, termID uint) (int64, error) {
	db := r.getDB(tx)
	var count int64

	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Where("term_id = ? AND is_low_point = ?", termID, true).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to get total low points: %w", err)
	}

	return count, nil
}

// ===== METRICS =====

func (r *dashboardRepository) GetAveragePercentage(ctx context.Context, tx *gorm.DB, termID uint) (float64, error) {
	db := r.getDB(tx)

	var result struct {
		AvgPercentage float64
	}

	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Where("term_id = ?", termID).
		Select("COALESCE(AVG(percentage), 0) as avg_percentage").
		Scan(&result).Error; err != nil {
		return 0, fmt.Errorf("failed to get average percentage: %w", err)
	}

	return result.AvgPercentage, nil
}

func (r *dashboardRepository) GetClassPerformance(ctx context.Context, tx *gorm.DB, termID uint, limit int) ([]repositories.ClassPerformanceData, error) {
	db := r.getDB(tx)

	var results []repositories.ClassPerformanceData

	if err := db.WithContext(ctx).
		Table("grades").
		Select("classes.id as class_id, "+
			"classes.name as class_name, "+
			"subjects.name as subject_name, "+
			"COUNT(DISTINCT grades.student_id) as student_count, "+
			"COUNT(grades.id) as grade_count, "+
			"COALESCE(AVG(grades.percentage), 0) as average_percentage, "+
			"COALESCE(AVG(CASE WHEN grades.is_low_point THEN 1.0 ELSE 0.0 END) * 100, 0) as low_point_rate").
		Joins("JOIN classes ON grades.class_id = classes.id").
		Joins("JOIN courses ON classes.course_id = courses.id").
		Joins("JOIN subjects ON courses.subject_id = subjects.id").
		Where("grades.term_id = ?", termID).
		Group("classes.id, classes.name, subjects.name").
		Order("grade_count DESC").
		Limit(limit).
		Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to get class performance: %w", err)
	}

	return results, nil
}

func (r *dashboardRepository) GetTeacherActivity(ctx context.Context, tx *gorm.DB, termID uint, limit int) ([]repositories.TeacherActivityData, error) {
	db := r.getDB(tx)

	var results []repositories.TeacherActivityData

	if err := db.WithContext(ctx).
		Table("grades").
		Select("grades.recorded_by as teacher_id, "+
			"COALESCE(users.full_name, '') as teacher_name, "+
			"COUNT(grades.id) as grades_entered, "+
			"COUNT(DISTINCT grades.class_id) as class_count, "+
			"MAX(grades.created_at) as last_entry").
		Joins("LEFT JOIN users ON grades.recorded_by = users.id").
		Where("grades.term_id = ?", termID).
		Group("grades.recorded_by, users.full_name").
		Order("grades_entered DESC").
		Limit(limit).
		Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to get teacher activity: %w", err)
	}

	return results, nil
}

func (r *dashboardRepository) GetSubjectLowPointBreakdown(ctx context.Context, tx *gorm.DB, termID uint) ([]repositories.SubjectLowPointRow, error) {
	db := r.getDB(tx)

	// Low points are rolled up per student and class before the subject
	// joins; joining raw grade rows would scale every count by the
	// student's number of grades.
	counts := db.Table("grades").
		Select("student_id, class_id, COUNT(*) FILTER (WHERE is_low_point) as low_points").
		Where("term_id = ?", termID).
		Group("student_id, class_id")

	var rows []repositories.SubjectLowPointRow

	if err := db.WithContext(ctx).
		Table("(?) as counts", counts).
		Select("subjects.id as subject_id, "+
			"subjects.name as subject_name, "+
			"counts.student_id, "+
			"counts.low_points").
		Joins("JOIN classes ON counts.class_id = classes.id").
		Joins("JOIN courses ON classes.course_id = courses.id").
		Joins("JOIN subjects ON courses.subject_id = subjects.id").
		Where("counts.low_points > 0").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get subject low point breakdown: %w", err)
	}

	return rows, nil
}

// ===== SCORE DISTRIBUTION =====

func (r *dashboardRepository) GetScoreDistribution(ctx context.Context, tx *gorm.DB, termID uint) ([]repositories.ScoreBandData, error) {
	db := r.getDB(tx)

	var results []struct {
		Band  string
		Count int64
	}

	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Select(`CASE
			WHEN percentage < 60 THEN 'below_60'
			WHEN percentage < 80 THEN '60_to_79'
			ELSE '80_and_above'
		END as band, COUNT(*) as count`).
		Where("term_id = ?", termID).
		Group("band").
		Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to get score distribution: %w", err)
	}

	// Calculate total for percentages
	var total int64
	for _, r := range results {
		total += r.Count
	}

	var distribution []repositories.ScoreBandData
	for _, r := range results {
		percentage := float64(0)
		if total > 0 {
			percentage = float64(r.Count) / float64(total) * 100
		}

		distribution = append(distribution, repositories.ScoreBandData{
			Band:       r.Band,
			Count:      r.Count,
			Percentage: percentage,
		})
	}

	return distribution, nil
}

// ===== TRENDS =====

type trendWindow struct {
	label string
	start time.Time
}

type trendBucket struct {
	Bucket        time.Time
	Grades        int64
	LowPoints     int64
	AvgPercentage float64
}

// GetGradingTrends aggregates every window of the period in one grouped
// query and fills the empty windows in memory.
func (r *dashboardRepository) GetGradingTrends(ctx context.Context, tx *gorm.DB, termID uint, period string) ([]repositories.GradingTrendData, error) {
	db := r.getDB(tx)

	windows := trendWindows(period, time.Now())

	var buckets []trendBucket
	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Select("date_trunc(?, created_at) as bucket, "+
			"COUNT(*) as grades, "+
			"COUNT(*) FILTER (WHERE is_low_point) as low_points, "+
			"COALESCE(AVG(percentage), 0) as avg_percentage", trendTruncUnit(period)).
		Where("term_id = ? AND created_at >= ?", termID, windows[0].start).
		Group("bucket").
		Scan(&buckets).Error; err != nil {
		return nil, fmt.Errorf("failed to get grading trends: %w", err)
	}

	return fillTrendWindows(windows, buckets), nil
}

// trendWindows lays out the report windows for a period, oldest first.
// Window starts line up with date_trunc boundaries so grouped buckets
// map straight onto them.
func trendWindows(period string, now time.Time) []trendWindow {
	var windows []trendWindow

	switch period {
	case "week":
		// Last 7 days
		for i := 6; i >= 0; i-- {
			day := now.AddDate(0, 0, -i)
			start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
			windows = append(windows, trendWindow{label: start.Format("Mon"), start: start})
		}
	case "month":
		// Last 4 calendar weeks, Monday start
		monday := startOfWeek(now)
		for i := 3; i >= 0; i-- {
			windows = append(windows, trendWindow{label: fmt.Sprintf("W%d", 4-i), start: monday.AddDate(0, 0, -i*7)})
		}
	default:
		// Last 12 months
		for i := 11; i >= 0; i-- {
			month := now.AddDate(0, -i, 0)
			start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
			windows = append(windows, trendWindow{label: start.Format("Jan"), start: start})
		}
	}

	return windows
}

func startOfWeek(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	monday := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -monday)
}

func trendTruncUnit(period string) string {
	switch period {
	case "week":
		return "day"
	case "month":
		return "week"
	default:
		return "month"
	}
}

// fillTrendWindows maps grouped buckets onto the window layout; windows
// without grades come back zeroed instead of missing.
func fillTrendWindows(windows []trendWindow, buckets []trendBucket) []repositories.GradingTrendData {
	byDate := make(map[string]trendBucket, len(buckets))
	for _, b := range buckets {
		byDate[b.Bucket.Format("2006-01-02")] = b
	}

	results := make([]repositories.GradingTrendData, 0, len(windows))
	for _, w := range windows {
		bucket := byDate[w.start.Format("2006-01-02")]
		results = append(results, repositories.GradingTrendData{
			Period:            w.label,
			Grades:            bucket.Grades,
			LowPoints:         bucket.LowPoints,
			AveragePercentage: bucket.AvgPercentage,
			Date:              w.start,
		})
	}

	return results
}

// ===== RECENT ACTIVITIES =====

func (r *dashboardRepository) GetRecentGrades(ctx context.Context, tx *gorm.DB, limit int) ([]repositories.RecentGradeData, error) {
	db := r.getDB(tx)

	var rows []repositories.RecentGradeData

	if err := db.WithContext(ctx).
		Table("grades").
		Select("grades.id, grades.student_id, students.full_name as student_name, "+
			"classes.name as class_name, topics.name as topic_name, "+
			"grades.percentage, grades.is_low_point, grades.is_retake, "+
			"grades.recorded_by, grades.assessed_date, grades.created_at").
		Joins("LEFT JOIN students ON grades.student_id = students.id").
		Joins("LEFT JOIN classes ON grades.class_id = classes.id").
		Joins("LEFT JOIN topics ON grades.topic_id = topics.id").
		Order("grades.created_at DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get recent grades: %w", err)
	}

	return rows, nil
}
