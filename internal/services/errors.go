package services

import (
	"errors"
	"fmt"
)

// ===== SENTINEL ERRORS =====

var (
	ErrValidationFailed = errors.New("validation failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")

	ErrGradeNotFound    = errors.New("grade not found")
	ErrStudentNotFound  = errors.New("student not found")
	ErrClassNotFound    = errors.New("class not found")
	ErrTermNotFound     = errors.New("term not found")
	ErrTopicNotFound    = errors.New("topic not found")
	ErrSubtopicNotFound = errors.New("subtopic not found")
	ErrContactNotFound  = errors.New("parent contact not found")

	ErrStudentNotEnrolled = errors.New("student not enrolled in class")
	ErrGradeConflict      = errors.New("active grade already exists for this key")
	ErrNotHomework        = errors.New("grade is not a homework grade")
	ErrGradeClosed        = errors.New("grade is closed and cannot be modified")
)

// ===== PERMISSION ERROR =====

// PermissionError carries who tried to do what to which resource
type PermissionError struct {
	UserID   string
	Resource string
	ID       uint
	Action   string
	Reason   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s", e.UserID, e.Action, e.Resource, e.ID, e.Reason)
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrForbidden
}

func NewPermissionError(userID string, id uint, resource, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:   userID,
		Resource: resource,
		ID:       id,
		Action:   action,
		Reason:   reason,
	}
}

// ===== CONFLICT ERROR =====

// ConflictError reports a submission that collided with an existing
// active grade, including what the caller can do about it
type ConflictError struct {
	ExistingGradeID uint
	Message         string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s (existing grade %d)", e.Message, e.ExistingGradeID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrGradeConflict
}

func NewConflictError(existingID uint, message string) *ConflictError {
	return &ConflictError{
		ExistingGradeID: existingID,
		Message:         message,
	}
}

// ===== FIELD VALIDATION ERROR =====

// FieldValidationError reports a single invalid field
type FieldValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func NewValidationError(field, message string, value interface{}) *FieldValidationError {
	return &FieldValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
