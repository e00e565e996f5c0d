package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edutrack/grade-service/internal/cache"
	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"gorm.io/gorm"
)

type progressService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
	cache  *cache.CacheManager
}

func NewProgressService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, cacheManager *cache.CacheManager) ProgressService {
	return &progressService{
		repo:   repo,
		db:     db,
		logger: logger,
		cache:  cacheManager,
	}
}

// ===== STUDENT SUMMARY =====

func (s *progressService) GetStudentSummary(ctx context.Context, studentID, classID, termID uint, userID string) (*ProgressSummaryResponse, error) {
	class, err := s.getManagedClass(ctx, classID, userID, "read progress")
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("student:%d:class:%d:term:%d", studentID, classID, termID)
	var summary ProgressSummaryResponse

	err = s.cache.Summary.CacheOrExecute(ctx, cacheKey, &summary, cache.SummaryCacheConfig.TTL, func() (interface{}, error) {
		return s.buildStudentSummary(ctx, studentID, class, termID)
	})
	if err != nil {
		return nil, err
	}

	return &summary, nil
}

// buildStudentSummary derives the whole summary from one grade query;
// every attempt counts, retakes and reassignments included
func (s *progressService) buildStudentSummary(ctx context.Context, studentID uint, class *models.Class, termID uint) (*ProgressSummaryResponse, error) {
	if _, err := s.repo.Reference().GetStudent(ctx, nil, studentID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	grades, err := s.repo.Grade().GetByStudentTerm(ctx, nil, studentID, class.ID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to get grades: %w", err)
	}

	topicsTotal, err := s.repo.Reference().CountTopicsByCourse(ctx, nil, class.CourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to count course topics: %w", err)
	}

	summary := &ProgressSummaryResponse{
		StudentID:   studentID,
		TermID:      termID,
		TopicsTotal: int(topicsTotal),
	}

	var percentageSum float64
	var latest time.Time
	topics := make(map[uint]struct{})

	for _, g := range grades {
		summary.GradeCount++
		percentageSum += float64(g.Percentage)
		if g.IsLowPoint {
			summary.LowPointCount++
		}
		topics[g.TopicID] = struct{}{}

		assessed := time.Time(g.AssessedDate)
		if assessed.After(latest) {
			latest = assessed
		}
	}

	summary.TopicsGraded = len(topics)
	if summary.GradeCount > 0 {
		summary.AveragePercentage = roundFloat(percentageSum/float64(summary.GradeCount), 2)
		summary.LatestAssessed = &latest
	}

	level := models.FlagLevelForLowPoints(summary.LowPointCount)
	summary.FlagLevel = level
	summary.FlagLabel = level.Label()

	return summary, nil
}

// ===== CLASS SUMMARY =====

// GetClassSummary returns one summary row per enrolled student, built
// from batched grouped queries rather than per-student reads
func (s *progressService) GetClassSummary(ctx context.Context, classID, termID uint, userID string) (*ClassProgressResponse, error) {
	class, err := s.getManagedClass(ctx, classID, userID, "read progress")
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("class:%d:term:%d", classID, termID)
	var response ClassProgressResponse

	err = s.cache.Summary.CacheOrExecute(ctx, cacheKey, &response, cache.SummaryCacheConfig.TTL, func() (interface{}, error) {
		return s.buildClassSummary(ctx, class, termID)
	})
	if err != nil {
		return nil, err
	}

	return &response, nil
}

func (s *progressService) buildClassSummary(ctx context.Context, class *models.Class, termID uint) (*ClassProgressResponse, error) {
	students, err := s.repo.Reference().GetEnrolledStudents(ctx, nil, class.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrolled students: %w", err)
	}

	stats, err := s.repo.Grade().GetStudentTermStats(ctx, nil, class.ID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to get student stats: %w", err)
	}
	statsByStudent := make(map[uint]repositories.StudentTermStats, len(stats))
	for _, st := range stats {
		statsByStudent[st.StudentID] = st
	}

	coverage, err := s.repo.Grade().GetTopicCoverage(ctx, nil, class.ID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to get topic coverage: %w", err)
	}
	coverageByStudent := make(map[uint]repositories.TopicCoverage, len(coverage))
	for _, c := range coverage {
		coverageByStudent[c.StudentID] = c
	}

	topicsTotal, err := s.repo.Reference().CountTopicsByCourse(ctx, nil, class.CourseID)
	if err != nil {
		return nil, fmt.Errorf("failed to count course topics: %w", err)
	}

	rows := make([]*ProgressSummaryResponse, 0, len(students))
	for _, student := range students {
		row := &ProgressSummaryResponse{
			StudentID:   student.ID,
			TermID:      termID,
			TopicsTotal: int(topicsTotal),
		}

		if st, ok := statsByStudent[student.ID]; ok {
			row.GradeCount = int(st.GradeCount)
			row.LowPointCount = int(st.LowPointCount)
			row.AveragePercentage = roundFloat(st.AveragePercentage, 2)
			row.LatestAssessed = st.LatestAssessed
		}
		if cov, ok := coverageByStudent[student.ID]; ok {
			row.TopicsGraded = int(cov.TopicsGraded)
		}

		level := models.FlagLevelForLowPoints(row.LowPointCount)
		row.FlagLevel = level
		row.FlagLabel = level.Label()

		rows = append(rows, row)
	}

	return &ClassProgressResponse{
		ClassID:  class.ID,
		TermID:   termID,
		Students: rows,
		Total:    len(rows),
	}, nil
}

// ===== HELPERS =====

func (s *progressService) getManagedClass(ctx context.Context, classID uint, userID, action string) (*models.Class, error) {
	class, err := s.repo.Reference().GetClass(ctx, nil, classID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("failed to get class: %w", err)
	}

	if class.TeacherID == userID {
		return class, nil
	}

	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user role: %w", err)
	}
	if user.Role == models.RoleAdmin {
		return class, nil
	}

	return nil, NewPermissionError(userID, classID, "class", action, "not class owner or admin")
}
