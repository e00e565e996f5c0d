package models

import "time"

type ContactType string

const (
	ContactMessage ContactType = "message"
	ContactCall    ContactType = "call"
	ContactMeeting ContactType = "meeting"
)

type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactContacted ContactStatus = "contacted"
	ContactResolved  ContactStatus = "resolved"
)

// ParentContact records one intervention action taken for a flagged
// student within a term. Its CRUD lives in the contact-log surface;
// this service only reads contact status to decorate flag views.
type ParentContact struct {
	ID          uint          `json:"id" gorm:"primaryKey"`
	StudentID   uint          `json:"student_id" gorm:"not null;index;uniqueIndex:idx_student_term_contact"`
	TermID      uint          `json:"term_id" gorm:"not null;index;uniqueIndex:idx_student_term_contact"`
	ContactType ContactType   `json:"contact_type" gorm:"not null;size:20;uniqueIndex:idx_student_term_contact"`
	Status      ContactStatus `json:"status" gorm:"not null;default:pending;index"`

	Notes       *string    `json:"notes" gorm:"type:text"`
	ContactedBy string     `json:"contacted_by" gorm:"size:255"`
	ContactedAt *time.Time `json:"contacted_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Student Student `json:"student" gorm:"foreignKey:StudentID"`
}

func (ParentContact) TableName() string {
	return "parent_contacts"
}
