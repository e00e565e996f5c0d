package repositories

import (
	"context"

	"github.com/edutrack/grade-service/internal/models"
	"gorm.io/gorm"
)

// ReferenceRepository interface for curriculum and roster reads. The
// grade service never writes these tables; ownership lives in the
// administration surfaces.
type ReferenceRepository interface {
	// Roster
	GetStudent(ctx context.Context, tx *gorm.DB, id uint) (*models.Student, error)
	GetStudentsByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Student, error)
	GetClass(ctx context.Context, tx *gorm.DB, id uint) (*models.Class, error)
	GetClassesByTeacher(ctx context.Context, tx *gorm.DB, teacherID string) ([]*models.Class, error)
	GetEnrolledStudents(ctx context.Context, tx *gorm.DB, classID uint) ([]*models.Student, error)
	IsEnrolled(ctx context.Context, tx *gorm.DB, studentID, classID uint) (bool, error)

	// Curriculum
	GetTerm(ctx context.Context, tx *gorm.DB, id uint) (*models.Term, error)
	GetActiveTerm(ctx context.Context, tx *gorm.DB) (*models.Term, error)
	GetTopic(ctx context.Context, tx *gorm.DB, id uint) (*models.Topic, error)
	GetSubtopic(ctx context.Context, tx *gorm.DB, id uint) (*models.Subtopic, error)
	GetTopicsByCourse(ctx context.Context, tx *gorm.DB, courseID uint) ([]*models.Topic, error)
	GetCourse(ctx context.Context, tx *gorm.DB, id uint) (*models.Course, error)
	CountTopicsByCourse(ctx context.Context, tx *gorm.DB, courseID uint) (int64, error)
}

// UserFilters defines filters for user queries
type UserFilters struct {
	Query  string // Search query for name or email
	Limit  int    // Page size
	Offset int    // Offset for pagination
}

// UserRepository interface for user operations (minimal for grade service)
type UserRepository interface {
	// Basic read operations (grade service is not owner of user data)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)

	// List and search operations
	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)
	Search(ctx context.Context, query string, filters UserFilters) ([]*models.User, int64, error)
}
