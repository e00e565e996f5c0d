package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactPostgreSQL struct {
	db      *gorm.DB
	helpers *SharedHelpers
}

func NewContactPostgreSQL(db *gorm.DB) repositories.ContactRepository {
	return &ContactPostgreSQL{
		db:      db,
		helpers: NewSharedHelpers(db),
	}
}

func (c *ContactPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return c.db
}

func (c *ContactPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ParentContact, error) {
	db := c.getDB(tx)
	var contact models.ParentContact
	if err := db.WithContext(ctx).First(&contact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get parent contact: %w", err)
	}
	return &contact, nil
}

func (c *ContactPostgreSQL) GetByStudentTerm(ctx context.Context, tx *gorm.DB, studentID, termID uint) ([]*models.ParentContact, error) {
	db := c.getDB(tx)
	var contacts []*models.ParentContact
	if err := db.WithContext(ctx).
		Where("student_id = ? AND term_id = ?", studentID, termID).
		Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("failed to get parent contacts: %w", err)
	}
	return contacts, nil
}

// GetByStudentsTerm batch-loads contact records for many students at
// once so flag listings avoid per-student queries
func (c *ContactPostgreSQL) GetByStudentsTerm(ctx context.Context, tx *gorm.DB, studentIDs []uint, termID uint) ([]*models.ParentContact, error) {
	db := c.getDB(tx)
	var contacts []*models.ParentContact
	if len(studentIDs) == 0 {
		return contacts, nil
	}
	if err := db.WithContext(ctx).
		Where("student_id IN ? AND term_id = ?", studentIDs, termID).
		Find(&contacts).Error; err != nil {
		return nil, fmt.Errorf("failed to get parent contacts for students: %w", err)
	}
	return contacts, nil
}

func (c *ContactPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.ContactFilters) ([]*models.ParentContact, int64, error) {
	db := c.getDB(tx)
	var contacts []*models.ParentContact
	var total int64

	query := db.WithContext(ctx).Model(&models.ParentContact{})
	query = c.helpers.ApplyContactFilters(query, filters)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count parent contacts: %w", err)
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("created_at DESC").Preload("Student").Find(&contacts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list parent contacts: %w", err)
	}

	return contacts, total, nil
}

// Upsert inserts or refreshes the contact record for a
// (student, term, contact type) key
func (c *ContactPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, contact *models.ParentContact) error {
	db := c.getDB(tx)
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "student_id"}, {Name: "term_id"}, {Name: "contact_type"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"status", "notes", "contacted_by", "contacted_at", "updated_at"}),
		}).
		Create(contact).Error; err != nil {
		return fmt.Errorf("failed to upsert parent contact: %w", err)
	}
	return nil
}

func (c *ContactPostgreSQL) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ContactStatus) error {
	db := c.getDB(tx)
	result := db.WithContext(ctx).
		Model(&models.ParentContact{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update parent contact status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
