package repositories

import (
	"context"

	"github.com/edutrack/grade-service/internal/models"
	"gorm.io/gorm"
)

// GradeRepository interface for grade lifecycle operations
type GradeRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, grade *models.Grade) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Grade, error)
	GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.Grade, error) // Include student, topic, subtopic
	Update(ctx context.Context, tx *gorm.DB, grade *models.Grade) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Lineage operations. The "set" for a key is every grade sharing the
	// (student, class, term, topic, subtopic) key, ordered by attempt
	// number descending so index 0 is the latest attempt.
	GetSetForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) ([]*models.Grade, error)
	GetActiveForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) (*models.Grade, error)
	DeleteSetForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) (int64, error)
	GetRetakeChain(ctx context.Context, tx *gorm.DB, originalID uint) ([]*models.Grade, error)
	NullifyOriginalRefs(ctx context.Context, tx *gorm.DB, originalID uint) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters GradeFilters) ([]*models.Grade, int64, error)
	GetByStudentTerm(ctx context.Context, tx *gorm.DB, studentID, classID, termID uint) ([]*models.Grade, error)
	GetByClassTerm(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]*models.Grade, error)

	// Aggregations
	CountLowPoints(ctx context.Context, tx *gorm.DB, studentID, classID, termID uint) (int64, error)
	CountLowPointsByStudent(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]LowPointCount, error)
	GetStudentTermStats(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]StudentTermStats, error)
	GetTopicCoverage(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]TopicCoverage, error)

	// Validation and checks
	ExistsActiveForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) (bool, error)
}

// ContactRepository interface for parent contact records
type ContactRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ParentContact, error)
	GetByStudentTerm(ctx context.Context, tx *gorm.DB, studentID, termID uint) ([]*models.ParentContact, error)
	GetByStudentsTerm(ctx context.Context, tx *gorm.DB, studentIDs []uint, termID uint) ([]*models.ParentContact, error)
	List(ctx context.Context, tx *gorm.DB, filters ContactFilters) ([]*models.ParentContact, int64, error)
	Upsert(ctx context.Context, tx *gorm.DB, contact *models.ParentContact) error
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ContactStatus) error
}
