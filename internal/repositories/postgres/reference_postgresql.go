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

type ReferencePostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewReferencePostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.ReferenceRepository {
	return &ReferencePostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (r *ReferencePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

// ===== ROSTER =====

func (r *ReferencePostgreSQL) GetStudent(ctx context.Context, tx *gorm.DB, id uint) (*models.Student, error) {
	db := r.getDB(tx)
	var student models.Student
	if err := db.WithContext(ctx).First(&student, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return &student, nil
}

func (r *ReferencePostgreSQL) GetStudentsByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Student, error) {
	db := r.getDB(tx)
	var students []*models.Student
	if len(ids) == 0 {
		return students, nil
	}
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&students).Error; err != nil {
		return nil, fmt.Errorf("failed to get students by ids: %w", err)
	}
	return students, nil
}

func (r *ReferencePostgreSQL) GetClass(ctx context.Context, tx *gorm.DB, id uint) (*models.Class, error) {
	db := r.getDB(tx)
	var class models.Class
	if err := db.WithContext(ctx).Preload("Course").First(&class, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get class: %w", err)
	}
	return &class, nil
}

func (r *ReferencePostgreSQL) GetClassesByTeacher(ctx context.Context, tx *gorm.DB, teacherID string) ([]*models.Class, error) {
	db := r.getDB(tx)
	var classes []*models.Class
	if err := db.WithContext(ctx).
		Where("teacher_id = ?", teacherID).
		Preload("Course").
		Find(&classes).Error; err != nil {
		return nil, fmt.Errorf("failed to get classes by teacher: %w", err)
	}
	return classes, nil
}

func (r *ReferencePostgreSQL) GetEnrolledStudents(ctx context.Context, tx *gorm.DB, classID uint) ([]*models.Student, error) {
	db := r.getDB(tx)
	var students []*models.Student
	if err := db.WithContext(ctx).
		Model(&models.Student{}).
		Joins("JOIN enrollments ON enrollments.student_id = students.id").
		Where("enrollments.class_id = ?", classID).
		Order("students.full_name ASC").
		Find(&students).Error; err != nil {
		return nil, fmt.Errorf("failed to get enrolled students: %w", err)
	}
	return students, nil
}

func (r *ReferencePostgreSQL) IsEnrolled(ctx context.Context, tx *gorm.DB, studentID, classID uint) (bool, error) {
	db := r.getDB(tx)
	var count int64

	cacheKey := fmt.Sprintf("enrollment:%d:%d", studentID, classID)
	var cached bool
	if err := r.cacheManager.Exists.Get(ctx, cacheKey, &cached); err == nil {
		return cached, nil
	}

	if err := db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("student_id = ? AND class_id = ?", studentID, classID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}

	enrolled := count > 0
	if enrolled {
		// Only cache positive results; a missing enrollment may be added
		// at any moment.
		_ = r.cacheManager.Exists.Set(ctx, cacheKey, enrolled, cache.ExistsCacheConfig.TTL)
	}

	return enrolled, nil
}

// ===== CURRICULUM =====

func (r *ReferencePostgreSQL) GetTerm(ctx context.Context, tx *gorm.DB, id uint) (*models.Term, error) {
	db := r.getDB(tx)
	var term models.Term
	if err := db.WithContext(ctx).First(&term, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get term: %w", err)
	}
	return &term, nil
}

func (r *ReferencePostgreSQL) GetActiveTerm(ctx context.Context, tx *gorm.DB) (*models.Term, error) {
	db := r.getDB(tx)
	var term models.Term
	if err := db.WithContext(ctx).Where("is_active = ?", true).First(&term).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get active term: %w", err)
	}
	return &term, nil
}

func (r *ReferencePostgreSQL) GetTopic(ctx context.Context, tx *gorm.DB, id uint) (*models.Topic, error) {
	db := r.getDB(tx)
	var topic models.Topic
	if err := db.WithContext(ctx).First(&topic, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get topic: %w", err)
	}
	return &topic, nil
}

func (r *ReferencePostgreSQL) GetSubtopic(ctx context.Context, tx *gorm.DB, id uint) (*models.Subtopic, error) {
	db := r.getDB(tx)
	var subtopic models.Subtopic
	if err := db.WithContext(ctx).First(&subtopic, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get subtopic: %w", err)
	}
	return &subtopic, nil
}

func (r *ReferencePostgreSQL) GetTopicsByCourse(ctx context.Context, tx *gorm.DB, courseID uint) ([]*models.Topic, error) {
	db := r.getDB(tx)
	var topics []*models.Topic
	if err := db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Preload("Subtopics").
		Order("sort_order ASC").
		Find(&topics).Error; err != nil {
		return nil, fmt.Errorf("failed to get topics by course: %w", err)
	}
	return topics, nil
}

func (r *ReferencePostgreSQL) GetCourse(ctx context.Context, tx *gorm.DB, id uint) (*models.Course, error) {
	db := r.getDB(tx)
	var course models.Course
	if err := db.WithContext(ctx).Preload("Subject").First(&course, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &course, nil
}

func (r *ReferencePostgreSQL) CountTopicsByCourse(ctx context.Context, tx *gorm.DB, courseID uint) (int64, error) {
	db := r.getDB(tx)
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.Topic{}).
		Where("course_id = ?", courseID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count topics by course: %w", err)
	}
	return count, nil
}
