package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edutrack/grade-service/internal/events"
	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/edutrack/grade-service/internal/validator"
)

// NotificationEventService publishes notification intents to the event
// bus; delivery (push, email, SMS) is owned by the notification platform
type NotificationEventService interface {
	SendBulkNotification(ctx context.Context, userIDs []uint, notification *NotificationRequest) error
	NotifyLowPoint(ctx context.Context, grade *models.Grade, studentName string) error
	NotifyStudentFlagged(ctx context.Context, studentID, classID, termID uint, lowPointCount int) error
	NotifyHomeworkReassigned(ctx context.Context, originalGradeID, newGradeID, studentID uint, reassignedBy string) error
}

// ===== EVENT PAYLOADS =====

type BulkNotificationEvent struct {
	UserIDs      []uint                      `json:"user_ids"`
	Type         models.NotificationType     `json:"type"`
	Title        string                      `json:"title"`
	Message      string                      `json:"message"`
	Priority     models.NotificationPriority `json:"priority"`
	TotalTargets int                         `json:"total_targets"`
}

type notificationEventService struct {
	repo           repositories.Repository
	eventPublisher events.EventPublisher
	logger         *slog.Logger
	validator      *validator.Validator
}

func NewNotificationEventService(repo repositories.Repository, eventPublisher events.EventPublisher, logger *slog.Logger, validator *validator.Validator) NotificationEventService {
	return &notificationEventService{
		repo:           repo,
		eventPublisher: eventPublisher,
		logger:         logger,
		validator:      validator,
	}
}

// SendBulkNotification publishes one notification intent for a set of
// users
func (s *notificationEventService) SendBulkNotification(ctx context.Context, userIDs []uint, notification *NotificationRequest) error {
	if len(userIDs) == 0 {
		return NewValidationError("user_ids", "must contain at least one user", userIDs)
	}
	if notification == nil || notification.Title == "" || notification.Message == "" {
		return NewValidationError("notification", "title and message are required", nil)
	}

	priority := notification.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	event := &BulkNotificationEvent{
		UserIDs:      userIDs,
		Type:         notification.Type,
		Title:        notification.Title,
		Message:      notification.Message,
		Priority:     priority,
		TotalTargets: len(userIDs),
	}

	if err := s.eventPublisher.Publish(ctx, "system.bulk_notification", event); err != nil {
		return fmt.Errorf("failed to publish bulk notification: %w", err)
	}

	s.logger.Info("Bulk notification published",
		"type", string(notification.Type), "targets", len(userIDs))

	return nil
}

// NotifyLowPoint tells the student's guardians a low point was recorded
func (s *notificationEventService) NotifyLowPoint(ctx context.Context, grade *models.Grade, studentName string) error {
	notification := &NotificationRequest{
		Type:  models.NotificationLowPointRecorded,
		Title: "Low point recorded",
		Message: fmt.Sprintf("%s scored %d%% (attempt %d), below the %d%% threshold",
			studentName, grade.Percentage, grade.AttemptNumber, models.LowPointThreshold),
		Priority: models.PriorityNormal,
	}

	return s.SendBulkNotification(ctx, []uint{grade.StudentID}, notification)
}

// NotifyStudentFlagged escalates when a student's accumulated low points
// cross an intervention step
func (s *notificationEventService) NotifyStudentFlagged(ctx context.Context, studentID, classID, termID uint, lowPointCount int) error {
	level := models.FlagLevelForLowPoints(lowPointCount)
	if level == models.FlagNone {
		return nil
	}

	priority := models.PriorityHigh
	if level == models.FlagMeeting {
		priority = models.PriorityUrgent
	}

	notification := &NotificationRequest{
		Type:  models.NotificationStudentFlagged,
		Title: "Student flagged for intervention",
		Message: fmt.Sprintf("Student has %d low points this term: %s",
			lowPointCount, level.Label()),
		Priority: priority,
	}

	if err := s.SendBulkNotification(ctx, []uint{studentID}, notification); err != nil {
		return err
	}

	s.logger.Warn("Intervention notification sent",
		"student_id", studentID, "class_id", classID, "term_id", termID,
		"low_point_count", lowPointCount, "flag_level", int(level))

	return nil
}

// NotifyHomeworkReassigned informs the student a fresh attempt is due
func (s *notificationEventService) NotifyHomeworkReassigned(ctx context.Context, originalGradeID, newGradeID, studentID uint, reassignedBy string) error {
	notification := &NotificationRequest{
		Type:     models.NotificationHomeworkReassigned,
		Title:    "Homework reassigned",
		Message:  "A piece of homework was reassigned; a new attempt is due",
		Priority: models.PriorityNormal,
	}

	if err := s.SendBulkNotification(ctx, []uint{studentID}, notification); err != nil {
		return err
	}

	s.logger.Info("Reassignment notification sent",
		"original_grade_id", originalGradeID, "new_grade_id", newGradeID,
		"student_id", studentID, "reassigned_by", reassignedBy)

	return nil
}
