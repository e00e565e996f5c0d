package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/edutrack/grade-service/internal/cache"
	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type GradePostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewGradePostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.GradeRepository {
	return &GradePostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (g *GradePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return g.db
}

// applyKey narrows a query to one (student, class, term, topic, subtopic)
// lineage. A nil subtopic id matches topic-level grades only.
func applyKey(query *gorm.DB, key models.GradeKey) *gorm.DB {
	query = query.Where("student_id = ? AND class_id = ? AND term_id = ? AND topic_id = ?",
		key.StudentID, key.ClassID, key.TermID, key.TopicID)
	if key.SubtopicID != nil {
		return query.Where("subtopic_id = ?", *key.SubtopicID)
	}
	return query.Where("subtopic_id IS NULL")
}

// ===== BASIC CRUD OPERATIONS =====

// Create inserts a new grade and invalidates affected caches
func (g *GradePostgreSQL) Create(ctx context.Context, tx *gorm.DB, grade *models.Grade) error {
	db := g.getDB(tx)
	if err := db.WithContext(ctx).Create(grade).Error; err != nil {
		if repositories.IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create grade: %w", err)
	}

	cache.InvalidateGradeCache(ctx, g.cacheManager, grade.ID, grade.StudentID, grade.ClassID, grade.TermID)

	return nil
}

// GetByID retrieves a grade by ID with caching
func (g *GradePostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Grade, error) {
	db := g.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var grade models.Grade

	err := g.cacheManager.Grade.CacheOrExecute(ctx, cacheKey, &grade, cache.GradeCacheConfig.TTL, func() (interface{}, error) {
		var dbGrade models.Grade
		if err := db.WithContext(ctx).First(&dbGrade, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, gorm.ErrRecordNotFound
			}
			return nil, fmt.Errorf("failed to get grade: %w", err)
		}
		return &dbGrade, nil
	})

	if err != nil {
		return nil, err
	}

	return &grade, nil
}

// GetByIDWithDetails retrieves a grade with all related data
func (g *GradePostgreSQL) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.Grade, error) {
	db := g.getDB(tx)
	var grade models.Grade
	if err := db.WithContext(ctx).
		Preload("Student").
		Preload("Class").
		Preload("Term").
		Preload("Topic").
		Preload("Subtopic").
		First(&grade, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get grade with details: %w", err)
	}
	return &grade, nil
}

// Update updates a grade
func (g *GradePostgreSQL) Update(ctx context.Context, tx *gorm.DB, grade *models.Grade) error {
	db := g.getDB(tx)
	if err := db.WithContext(ctx).Save(grade).Error; err != nil {
		if repositories.IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to update grade: %w", err)
	}

	cache.InvalidateGradeCache(ctx, g.cacheManager, grade.ID, grade.StudentID, grade.ClassID, grade.TermID)

	return nil
}

// Delete hard deletes a grade
func (g *GradePostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := g.getDB(tx)

	// Get key fields before deleting for cache invalidation
	var grade models.Grade
	if err := db.WithContext(ctx).Select("id, student_id, class_id, term_id").First(&grade, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gorm.ErrRecordNotFound
		}
		return fmt.Errorf("failed to get grade before delete: %w", err)
	}

	if err := db.WithContext(ctx).Delete(&models.Grade{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete grade: %w", err)
	}

	cache.InvalidateGradeCache(ctx, g.cacheManager, id, grade.StudentID, grade.ClassID, grade.TermID)

	return nil
}

// ===== LINEAGE OPERATIONS =====

// GetSetForKey returns every grade for a lineage key, latest attempt first
func (g *GradePostgreSQL) GetSetForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) ([]*models.Grade, error) {
	db := g.getDB(tx)
	var grades []*models.Grade

	query := applyKey(db.WithContext(ctx).Model(&models.Grade{}), key)
	if err := query.Order("attempt_number DESC").Find(&grades).Error; err != nil {
		return nil, fmt.Errorf("failed to get grade set: %w", err)
	}

	return grades, nil
}

// GetActiveForKey returns the single active grade for a key, or
// gorm.ErrRecordNotFound when the key has no active grade
func (g *GradePostgreSQL) GetActiveForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) (*models.Grade, error) {
	db := g.getDB(tx)
	var grade models.Grade

	query := applyKey(db.WithContext(ctx).Model(&models.Grade{}), key).
		Where("is_retake = ? AND is_reassigned = ?", false, false)
	if err := query.First(&grade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get active grade: %w", err)
	}

	return &grade, nil
}

// DeleteSetForKey removes every grade for a lineage key and returns the
// number of rows deleted
func (g *GradePostgreSQL) DeleteSetForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) (int64, error) {
	db := g.getDB(tx)

	result := applyKey(db.WithContext(ctx), key).Delete(&models.Grade{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete grade set: %w", result.Error)
	}

	cache.InvalidateGradeCache(ctx, g.cacheManager, 0, key.StudentID, key.ClassID, key.TermID)

	return result.RowsAffected, nil
}

// GetRetakeChain returns the retakes linked to an original grade,
// ordered by attempt number ascending
func (g *GradePostgreSQL) GetRetakeChain(ctx context.Context, tx *gorm.DB, originalID uint) ([]*models.Grade, error) {
	db := g.getDB(tx)
	var grades []*models.Grade

	if err := db.WithContext(ctx).
		Where("original_grade_id = ?", originalID).
		Order("attempt_number ASC").
		Find(&grades).Error; err != nil {
		return nil, fmt.Errorf("failed to get retake chain: %w", err)
	}

	return grades, nil
}

// NullifyOriginalRefs clears original_grade_id on grades referencing a
// grade that is being deleted
func (g *GradePostgreSQL) NullifyOriginalRefs(ctx context.Context, tx *gorm.DB, originalID uint) error {
	db := g.getDB(tx)

	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Where("original_grade_id = ?", originalID).
		Update("original_grade_id", nil).Error; err != nil {
		return fmt.Errorf("failed to nullify original grade refs: %w", err)
	}

	return nil
}

// ===== QUERY OPERATIONS =====

// List retrieves grades with filters and pagination
func (g *GradePostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.GradeFilters) ([]*models.Grade, int64, error) {
	db := g.getDB(tx)
	var grades []*models.Grade
	var total int64

	query := db.WithContext(ctx).Model(&models.Grade{})
	query = g.helpers.ApplyGradeFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count grades: %w", err)
	}

	query = g.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	if err := query.Preload("Topic").Preload("Subtopic").Find(&grades).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list grades: %w", err)
	}

	return grades, total, nil
}

// GetByStudentTerm returns all grades (every attempt) for one student in
// a class and term
func (g *GradePostgreSQL) GetByStudentTerm(ctx context.Context, tx *gorm.DB, studentID, classID, termID uint) ([]*models.Grade, error) {
	db := g.getDB(tx)
	var grades []*models.Grade

	if err := db.WithContext(ctx).
		Where("student_id = ? AND class_id = ? AND term_id = ?", studentID, classID, termID).
		Preload("Topic").
		Preload("Subtopic").
		Order("assessed_date ASC, attempt_number ASC").
		Find(&grades).Error; err != nil {
		return nil, fmt.Errorf("failed to get grades by student and term: %w", err)
	}

	return grades, nil
}

// GetByClassTerm returns all grades for a class within a term
func (g *GradePostgreSQL) GetByClassTerm(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]*models.Grade, error) {
	db := g.getDB(tx)
	var grades []*models.Grade

	if err := db.WithContext(ctx).
		Where("class_id = ? AND term_id = ?", classID, termID).
		Preload("Topic").
		Preload("Subtopic").
		Order("student_id ASC, assessed_date ASC").
		Find(&grades).Error; err != nil {
		return nil, fmt.Errorf("failed to get grades by class and term: %w", err)
	}

	return grades, nil
}

// ===== AGGREGATIONS =====

// CountLowPoints counts low-point grades for one student in a class and
// term. Retakes count: a low retake is a low point like any other.
func (g *GradePostgreSQL) CountLowPoints(ctx context.Context, tx *gorm.DB, studentID, classID, termID uint) (int64, error) {
	db := g.getDB(tx)
	var count int64

	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Where("student_id = ? AND class_id = ? AND term_id = ? AND is_low_point = ?",
			studentID, classID, termID, true).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count low points: %w", err)
	}

	return count, nil
}

// CountLowPointsByStudent returns low-point counts grouped by student
// for a whole class in one query
func (g *GradePostgreSQL) CountLowPointsByStudent(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]repositories.LowPointCount, error) {
	db := g.getDB(tx)
	var results []repositories.LowPointCount

	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Select("student_id, class_id, COUNT(*) as count").
		Where("class_id = ? AND term_id = ? AND is_low_point = ?", classID, termID, true).
		Group("student_id, class_id").
		Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count low points by student: %w", err)
	}

	return results, nil
}

// GetStudentTermStats aggregates grade count, low-point count and
// average percentage per student for a class and term
func (g *GradePostgreSQL) GetStudentTermStats(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]repositories.StudentTermStats, error) {
	db := g.getDB(tx)
	var results []repositories.StudentTermStats

	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Select("student_id, "+
			"COUNT(*) as grade_count, "+
			"COUNT(*) FILTER (WHERE is_low_point) as low_point_count, "+
			"COALESCE(AVG(percentage), 0) as average_percentage, "+
			"MAX(assessed_date) as latest_assessed").
		Where("class_id = ? AND term_id = ?", classID, termID).
		Group("student_id").
		Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to get student term stats: %w", err)
	}

	return results, nil
}

// GetTopicCoverage reports distinct topics and subtopics graded per
// student for a class and term
func (g *GradePostgreSQL) GetTopicCoverage(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]repositories.TopicCoverage, error) {
	db := g.getDB(tx)
	var results []repositories.TopicCoverage

	if err := db.WithContext(ctx).
		Model(&models.Grade{}).
		Select("student_id, "+
			"COUNT(DISTINCT topic_id) as topics_graded, "+
			"COUNT(DISTINCT subtopic_id) as subtopic_count").
		Where("class_id = ? AND term_id = ?", classID, termID).
		Group("student_id").
		Scan(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to get topic coverage: %w", err)
	}

	return results, nil
}

// ===== VALIDATION AND CHECKS =====

// ExistsActiveForKey reports whether a key already has an active grade
func (g *GradePostgreSQL) ExistsActiveForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) (bool, error) {
	db := g.getDB(tx)
	var count int64

	query := applyKey(db.WithContext(ctx).Model(&models.Grade{}), key).
		Where("is_retake = ? AND is_reassigned = ?", false, false)
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check active grade existence: %w", err)
	}

	return count > 0, nil
}
