package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/edutrack/grade-service/internal/cache"
	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"gorm.io/gorm"
)

// ===== RESPONSE DTOs =====

type DashboardStatsResponse struct {
	TermID   uint              `json:"term_id"`
	TermName string            `json:"term_name"`
	Overview DashboardOverview `json:"overview"`
	Metrics  DashboardMetrics  `json:"metrics"`
}

type DashboardOverview struct {
	TotalStudents  int64 `json:"total_students"`
	TotalClasses   int64 `json:"total_classes"`
	TotalGrades    int64 `json:"total_grades"`
	TotalLowPoints int64 `json:"total_low_points"`
}

type DashboardMetrics struct {
	AveragePercentage float64 `json:"average_percentage"`
	LowPointRate      float64 `json:"low_point_rate"`
}

type ClassPerformanceResponse struct {
	ClassID           uint    `json:"class_id"`
	ClassName         string  `json:"class_name"`
	SubjectName       string  `json:"subject_name"`
	StudentCount      int64   `json:"student_count"`
	GradeCount        int64   `json:"grade_count"`
	AveragePercentage float64 `json:"average_percentage"`
	LowPointRate      float64 `json:"low_point_rate"`
}

type TeacherActivityResponse struct {
	TeacherID     string     `json:"teacher_id"`
	TeacherName   string     `json:"teacher_name"`
	GradesEntered int64      `json:"grades_entered"`
	ClassCount    int64      `json:"class_count"`
	LastEntry     *time.Time `json:"last_entry,omitempty"`
	LastEntryAgo  string     `json:"last_entry_ago,omitempty"`
}

type SubjectFlagResponse struct {
	SubjectID       uint   `json:"subject_id"`
	SubjectName     string `json:"subject_name"`
	FlaggedStudents int64  `json:"flagged_students"`
	TotalFlagLevel  int64  `json:"total_flag_level"`
}

type ScoreBandResponse struct {
	Band       string  `json:"band"`
	Name       string  `json:"name"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

type GradingTrendResponse struct {
	Period            string  `json:"period"`
	Grades            int64   `json:"grades"`
	LowPoints         int64   `json:"low_points"`
	AveragePercentage float64 `json:"average_percentage"`
}

type RecentGradeResponse struct {
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
	TimeAgo      string    `json:"time_ago"`
}

// ===== SERVICE INTERFACE =====

type DashboardService interface {
	// Core dashboard endpoints; termID 0 means the active term
	GetDashboardStats(ctx context.Context, termID uint) (*DashboardStatsResponse, error)
	GetClassPerformance(ctx context.Context, termID uint, limit int) ([]ClassPerformanceResponse, error)
	GetTeacherActivity(ctx context.Context, termID uint, limit int) ([]TeacherActivityResponse, error)
	GetSubjectFlags(ctx context.Context, termID uint) ([]SubjectFlagResponse, error)
	GetScoreDistribution(ctx context.Context, termID uint) ([]ScoreBandResponse, error)
	GetGradingTrends(ctx context.Context, termID uint, period string) ([]GradingTrendResponse, error)
	GetRecentGrades(ctx context.Context, limit int) ([]RecentGradeResponse, error)
}

// ===== SERVICE IMPLEMENTATION =====

type dashboardService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
	cache  *cache.CacheManager
}

func NewDashboardService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, cacheManager *cache.CacheManager) DashboardService {
	return &dashboardService{
		repo:   repo,
		db:     db,
		logger: logger,
		cache:  cacheManager,
	}
}

func (s *dashboardService) GetDashboardStats(ctx context.Context, termID uint) (*DashboardStatsResponse, error) {
	s.logger.Info("Getting dashboard stats", "term_id", termID)

	term, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("stats:term:%d", term.ID)
	var response DashboardStatsResponse

	err = s.cache.Dashboard.CacheOrExecute(ctx, cacheKey, &response, cache.DashboardCacheConfig.TTL, func() (interface{}, error) {
		return s.buildDashboardStats(ctx, term)
	})
	if err != nil {
		return nil, err
	}

	return &response, nil
}

func (s *dashboardService) buildDashboardStats(ctx context.Context, term *models.Term) (*DashboardStatsResponse, error) {
	totalStudents, err := s.repo.Dashboard().GetTotalStudents(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get total students: %w", err)
	}

	totalClasses, err := s.repo.Dashboard().GetTotalClasses(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get total classes: %w", err)
	}

	totalGrades, err := s.repo.Dashboard().GetTotalGrades(ctx, nil, term.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get total grades: %w", err)
	}

	totalLowPoints, err := s.repo.Dashboard().GetTotalLowPoints(ctx, nil, term.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get total low points: %w", err)
	}

	averagePercentage, err := s.repo.Dashboard().GetAveragePercentage(ctx, nil, term.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get average percentage: %w", err)
	}

	lowPointRate := 0.0
	if totalGrades > 0 {
		lowPointRate = float64(totalLowPoints) / float64(totalGrades) * 100
	}

	return &DashboardStatsResponse{
		TermID:   term.ID,
		TermName: term.Name,
		Overview: DashboardOverview{
			TotalStudents:  totalStudents,
			TotalClasses:   totalClasses,
			TotalGrades:    totalGrades,
			TotalLowPoints: totalLowPoints,
		},
		Metrics: DashboardMetrics{
			AveragePercentage: roundFloat(averagePercentage, 1),
			LowPointRate:      roundFloat(lowPointRate, 1),
		},
	}, nil
}

func (s *dashboardService) GetClassPerformance(ctx context.Context, termID uint, limit int) ([]ClassPerformanceResponse, error) {
	s.logger.Info("Getting class performance", "term_id", termID, "limit", limit)

	term, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 50 {
		limit = 10
	}

	cacheKey := fmt.Sprintf("classes:term:%d:limit:%d", term.ID, limit)
	var response []ClassPerformanceResponse

	err = s.cache.Dashboard.CacheOrExecute(ctx, cacheKey, &response, cache.DashboardCacheConfig.TTL, func() (interface{}, error) {
		performance, err := s.repo.Dashboard().GetClassPerformance(ctx, nil, term.ID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to get class performance: %w", err)
		}

		result := make([]ClassPerformanceResponse, len(performance))
		for i, p := range performance {
			result[i] = ClassPerformanceResponse{
				ClassID:           p.ClassID,
				ClassName:         p.ClassName,
				SubjectName:       p.SubjectName,
				StudentCount:      p.StudentCount,
				GradeCount:        p.GradeCount,
				AveragePercentage: roundFloat(p.AveragePercentage, 1),
				LowPointRate:      roundFloat(p.LowPointRate, 1),
			}
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	return response, nil
}

func (s *dashboardService) GetTeacherActivity(ctx context.Context, termID uint, limit int) ([]TeacherActivityResponse, error) {
	s.logger.Info("Getting teacher activity", "term_id", termID, "limit", limit)

	term, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 50 {
		limit = 10
	}

	activity, err := s.repo.Dashboard().GetTeacherActivity(ctx, nil, term.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get teacher activity: %w", err)
	}

	response := make([]TeacherActivityResponse, len(activity))
	for i, a := range activity {
		response[i] = TeacherActivityResponse{
			TeacherID:     a.TeacherID,
			TeacherName:   a.TeacherName,
			GradesEntered: a.GradesEntered,
			ClassCount:    a.ClassCount,
			LastEntry:     a.LastEntry,
		}
		if a.LastEntry != nil {
			response[i].LastEntryAgo = formatTimeAgo(*a.LastEntry)
		}
	}

	return response, nil
}

func (s *dashboardService) GetSubjectFlags(ctx context.Context, termID uint) ([]SubjectFlagResponse, error) {
	s.logger.Info("Getting subject flag counts", "term_id", termID)

	term, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("subject_flags:term:%d", term.ID)
	var response []SubjectFlagResponse

	err = s.cache.Dashboard.CacheOrExecute(ctx, cacheKey, &response, cache.DashboardCacheConfig.TTL, func() (interface{}, error) {
		rows, err := s.repo.Dashboard().GetSubjectLowPointBreakdown(ctx, nil, term.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get subject low point breakdown: %w", err)
		}
		return aggregateSubjectFlags(rows), nil
	})
	if err != nil {
		return nil, err
	}

	return response, nil
}

func (s *dashboardService) GetScoreDistribution(ctx context.Context, termID uint) ([]ScoreBandResponse, error) {
	s.logger.Info("Getting score distribution", "term_id", termID)

	term, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("distribution:term:%d", term.ID)
	var response []ScoreBandResponse

	err = s.cache.Dashboard.CacheOrExecute(ctx, cacheKey, &response, cache.DashboardCacheConfig.TTL, func() (interface{}, error) {
		distribution, err := s.repo.Dashboard().GetScoreDistribution(ctx, nil, term.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get score distribution: %w", err)
		}

		result := make([]ScoreBandResponse, len(distribution))
		for i, d := range distribution {
			result[i] = ScoreBandResponse{
				Band:       d.Band,
				Name:       getScoreBandName(d.Band),
				Count:      d.Count,
				Percentage: roundFloat(d.Percentage, 1),
			}
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	return response, nil
}

func (s *dashboardService) GetGradingTrends(ctx context.Context, termID uint, period string) ([]GradingTrendResponse, error) {
	s.logger.Info("Getting grading trends", "term_id", termID, "period", period)

	if period == "" {
		period = "month"
	}
	if period != "week" && period != "month" && period != "year" {
		return nil, NewValidationError("period", "must be 'week', 'month', or 'year'", period)
	}

	term, err := s.resolveTerm(ctx, termID)
	if err != nil {
		return nil, err
	}

	trends, err := s.repo.Dashboard().GetGradingTrends(ctx, nil, term.ID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to get grading trends: %w", err)
	}

	response := make([]GradingTrendResponse, len(trends))
	for i, t := range trends {
		response[i] = GradingTrendResponse{
			Period:            t.Period,
			Grades:            t.Grades,
			LowPoints:         t.LowPoints,
			AveragePercentage: roundFloat(t.AveragePercentage, 1),
		}
	}

	return response, nil
}

func (s *dashboardService) GetRecentGrades(ctx context.Context, limit int) ([]RecentGradeResponse, error) {
	s.logger.Info("Getting recent grades", "limit", limit)

	if limit <= 0 || limit > 50 {
		limit = 10
	}

	grades, err := s.repo.Dashboard().GetRecentGrades(ctx, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent grades: %w", err)
	}

	response := make([]RecentGradeResponse, len(grades))
	for i, g := range grades {
		response[i] = RecentGradeResponse{
			ID:           g.ID,
			StudentID:    g.StudentID,
			StudentName:  g.StudentName,
			ClassName:    g.ClassName,
			TopicName:    g.TopicName,
			Percentage:   g.Percentage,
			IsLowPoint:   g.IsLowPoint,
			IsRetake:     g.IsRetake,
			RecordedBy:   g.RecordedBy,
			AssessedDate: g.AssessedDate,
			CreatedAt:    g.CreatedAt,
			TimeAgo:      formatTimeAgo(g.CreatedAt),
		}
	}

	return response, nil
}

// ===== HELPER FUNCTIONS =====

// aggregateSubjectFlags rolls per-student low-point counts up to
// subject level. A student is one flagged student per subject no matter
// how many of its classes they are flagged in, while every flagged
// class contributes its own level to the sum.
func aggregateSubjectFlags(rows []repositories.SubjectLowPointRow) []SubjectFlagResponse {
	type subjectAcc struct {
		name    string
		flagged map[uint]bool
		levels  int64
	}

	bySubject := make(map[uint]*subjectAcc)
	order := make([]uint, 0)

	for _, row := range rows {
		acc := bySubject[row.SubjectID]
		if acc == nil {
			acc = &subjectAcc{name: row.SubjectName, flagged: make(map[uint]bool)}
			bySubject[row.SubjectID] = acc
			order = append(order, row.SubjectID)
		}

		level := models.FlagLevelForLowPoints(row.LowPoints)
		if level == models.FlagNone {
			continue
		}
		acc.flagged[row.StudentID] = true
		acc.levels += int64(level)
	}

	result := make([]SubjectFlagResponse, 0, len(order))
	for _, subjectID := range order {
		acc := bySubject[subjectID]
		result = append(result, SubjectFlagResponse{
			SubjectID:       subjectID,
			SubjectName:     acc.name,
			FlaggedStudents: int64(len(acc.flagged)),
			TotalFlagLevel:  acc.levels,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].FlaggedStudents != result[j].FlaggedStudents {
			return result[i].FlaggedStudents > result[j].FlaggedStudents
		}
		return result[i].SubjectID < result[j].SubjectID
	})

	return result
}

// resolveTerm maps termID 0 to the currently active term
func (s *dashboardService) resolveTerm(ctx context.Context, termID uint) (*models.Term, error) {
	if termID == 0 {
		term, err := s.repo.Reference().GetActiveTerm(ctx, nil)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return nil, ErrTermNotFound
			}
			return nil, fmt.Errorf("failed to get active term: %w", err)
		}
		return term, nil
	}

	term, err := s.repo.Reference().GetTerm(ctx, nil, termID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrTermNotFound
		}
		return nil, fmt.Errorf("failed to get term: %w", err)
	}
	return term, nil
}

func roundFloat(val float64, precision int) float64 {
	ratio := 1.0
	for i := 0; i < precision; i++ {
		ratio *= 10
	}
	return float64(int(val*ratio+0.5)) / ratio
}

func formatTimeAgo(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%d giây trước", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%d phút trước", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%d giờ trước", int(duration.Hours()))
	} else if duration < 7*24*time.Hour {
		return fmt.Sprintf("%d ngày trước", int(duration.Hours()/24))
	} else if duration < 30*24*time.Hour {
		return fmt.Sprintf("%d tuần trước", int(duration.Hours()/(24*7)))
	} else if duration < 365*24*time.Hour {
		return fmt.Sprintf("%d tháng trước", int(duration.Hours()/(24*30)))
	} else {
		return fmt.Sprintf("%d năm trước", int(duration.Hours()/(24*365)))
	}
}

func getScoreBandName(band string) string {
	bandNames := map[string]string{
		"below_60":     "Dưới 60%",
		"60_to_79":     "Từ 60% đến 79%",
		"80_and_above": "Từ 80% trở lên",
	}

	if name, ok := bandNames[band]; ok {
		return name
	}
	return band
}
