package postgres

import (
	"context"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"gorm.io/gorm"
)

// SharedHelpers contains common database operations
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// CountGradesByStudent counts grades for a student in a class and term
func (h *SharedHelpers) CountGradesByStudent(ctx context.Context, studentID, classID, termID uint) (int64, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&models.Grade{}).
		Where("student_id = ? AND class_id = ? AND term_id = ?", studentID, classID, termID).
		Count(&count).Error
	return count, err
}

// ApplyGradeFilters applies common filters to grade queries
func (h *SharedHelpers) ApplyGradeFilters(query *gorm.DB, filters repositories.GradeFilters) *gorm.DB {
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.ClassID != nil {
		query = query.Where("class_id = ?", *filters.ClassID)
	}
	if filters.TermID != nil {
		query = query.Where("term_id = ?", *filters.TermID)
	}
	if filters.TopicID != nil {
		query = query.Where("topic_id = ?", *filters.TopicID)
	}
	if filters.WorkType != nil {
		query = query.Where("work_type = ?", *filters.WorkType)
	}
	if filters.WorkSubtype != nil {
		query = query.Where("work_subtype = ?", *filters.WorkSubtype)
	}
	if filters.IsLowPoint != nil {
		query = query.Where("is_low_point = ?", *filters.IsLowPoint)
	}
	if filters.RecordedBy != nil {
		query = query.Where("recorded_by = ?", *filters.RecordedBy)
	}
	if filters.DateFrom != nil {
		query = query.Where("assessed_date >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("assessed_date <= ?", *filters.DateTo)
	}
	return query
}

// ApplyContactFilters applies common filters to parent contact queries
func (h *SharedHelpers) ApplyContactFilters(query *gorm.DB, filters repositories.ContactFilters) *gorm.DB {
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.TermID != nil {
		query = query.Where("term_id = ?", *filters.TermID)
	}
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	return query
}

// ApplyPaginationAndSort applies pagination and sorting with SQL injection protection
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	// Whitelist allowed sort columns
	allowedSortColumns := map[string]bool{
		"created_at":     true,
		"updated_at":     true,
		"id":             true,
		"assessed_date":  true,
		"percentage":     true,
		"attempt_number": true,
		"student_id":     true,
	}

	// Validate and set sort column
	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "assessed_date"
	}

	// Validate and set sort order
	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	return query
}
