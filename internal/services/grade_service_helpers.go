package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/edutrack/grade-service/internal/events"
	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/edutrack/grade-service/internal/validator"
	"gorm.io/datatypes"
)

// ===== SUBMISSION DECISION =====

// decideSubmission resolves a submission against the current active
// grade for its key. No active grade always creates; with an active
// grade the caller's resolution decides, and no resolution surfaces the
// conflict so the caller can ask the teacher what to do.
func decideSubmission(active *models.Grade, resolution validator.ConflictResolution) (SubmitAction, error) {
	if active == nil {
		return ActionCreated, nil
	}

	switch resolution {
	case validator.ResolutionReplace:
		return ActionReplaced, nil
	case validator.ResolutionRetake:
		return ActionRetake, nil
	case validator.ResolutionSkip:
		return ActionSkipped, nil
	default:
		return ActionConflict, NewConflictError(active.ID,
			"an active grade already exists for this student and work")
	}
}

// nextAttemptNumber returns the attempt number for a new grade appended
// to a set. Sets are ordered latest attempt first.
func nextAttemptNumber(set []*models.Grade) int {
	if len(set) == 0 {
		return 1
	}
	return set[0].AttemptNumber + 1
}

func isConflictError(err error) bool {
	return errors.Is(err, ErrGradeConflict)
}

// ===== LOOKUP HELPERS =====

// getActiveGrade returns the active grade for a key, or nil when the
// key has none
func (s *gradeService) getActiveGrade(ctx context.Context, key models.GradeKey) (*models.Grade, error) {
	active, err := s.repo.Grade().GetActiveForKey(ctx, nil, key)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active grade: %w", err)
	}
	return active, nil
}

// mapCreateError converts a unique index violation into a conflict the
// caller can resolve. Two teachers submitting the same key at once race
// on the partial unique index; the loser re-enters conflict handling.
func (s *gradeService) mapCreateError(ctx context.Context, key models.GradeKey, err error) error {
	if !repositories.IsUniqueViolation(err) {
		return fmt.Errorf("failed to create grade: %w", err)
	}

	active, lookupErr := s.getActiveGrade(ctx, key)
	if lookupErr != nil || active == nil {
		return NewConflictError(0, "an active grade was created concurrently for this student and work")
	}

	return NewConflictError(active.ID, "an active grade was created concurrently for this student and work")
}

// ===== PERMISSION HELPERS =====

func (s *gradeService) getUserRole(ctx context.Context, userID string) (models.UserRole, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to get user role: %w", err)
	}
	return user.Role, nil
}

// getManagedClass fetches a class and verifies the user may manage its
// grades (owning teacher or admin). Missing classes report not-found;
// existing but unowned classes report the permission error.
func (s *gradeService) getManagedClass(ctx context.Context, classID uint, userID, action string) (*models.Class, error) {
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

	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}
	if userRole == models.RoleAdmin {
		return class, nil
	}

	return nil, NewPermissionError(userID, classID, "class", action, "not class owner or admin")
}

// canManageGrade reports whether the user owns the grade's class or is
// an admin
func (s *gradeService) canManageGrade(ctx context.Context, grade *models.Grade, userID string) (bool, error) {
	class, err := s.repo.Reference().GetClass(ctx, nil, grade.ClassID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrClassNotFound
		}
		return false, fmt.Errorf("failed to get class: %w", err)
	}

	if class.TeacherID == userID {
		return true, nil
	}

	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return false, err
	}

	return userRole == models.RoleAdmin, nil
}

// ===== REFERENCE VALIDATION =====

// validateSubmitReferences checks every referenced entity exists and
// fits together before a grade is recorded
func (s *gradeService) validateSubmitReferences(ctx context.Context, req *SubmitGradeRequest, class *models.Class) error {
	if _, err := s.repo.Reference().GetStudent(ctx, nil, req.StudentID); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrStudentNotFound
		}
		return fmt.Errorf("failed to get student: %w", err)
	}

	enrolled, err := s.repo.Reference().IsEnrolled(ctx, nil, req.StudentID, req.ClassID)
	if err != nil {
		return fmt.Errorf("failed to check enrollment: %w", err)
	}
	if !enrolled {
		return ErrStudentNotEnrolled
	}

	if _, err := s.repo.Reference().GetTerm(ctx, nil, req.TermID); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTermNotFound
		}
		return fmt.Errorf("failed to get term: %w", err)
	}

	topic, err := s.repo.Reference().GetTopic(ctx, nil, req.TopicID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrTopicNotFound
		}
		return fmt.Errorf("failed to get topic: %w", err)
	}
	if topic.CourseID != class.CourseID {
		return NewValidationError("topic_id", "does not belong to the class course", req.TopicID)
	}

	if req.SubtopicID != nil {
		subtopic, err := s.repo.Reference().GetSubtopic(ctx, nil, *req.SubtopicID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrSubtopicNotFound
			}
			return fmt.Errorf("failed to get subtopic: %w", err)
		}
		if subtopic.TopicID != req.TopicID {
			return NewValidationError("subtopic_id", "does not belong to the topic", *req.SubtopicID)
		}
	}

	return nil
}

// ===== BUILDERS =====

// buildGrade constructs a classified grade from a submission. Lineage
// fields are filled in by the submission executor.
func (s *gradeService) buildGrade(req *SubmitGradeRequest, class *models.Class, userID string) *models.Grade {
	grade := &models.Grade{
		StudentID:     req.StudentID,
		ClassID:       req.ClassID,
		CourseID:      class.CourseID,
		TermID:        req.TermID,
		TopicID:       req.TopicID,
		SubtopicID:    req.SubtopicID,
		MarksObtained: req.MarksObtained,
		TotalMarks:    req.TotalMarks,
		WorkType:      req.WorkType,
		WorkSubtype:   req.WorkSubtype,
		AssessedDate:  datatypes.Date(req.AssessedDate),
		Notes:         req.Notes,
		RecordedBy:    userID,
	}

	if req.WorkType == models.WorkHomework {
		grade.HomeworkSubmitted = req.HomeworkSubmitted
		if grade.HomeworkSubmitted == nil {
			grade.HomeworkSubmitted = boolPtr(true)
		}
	}

	applyClassification(grade)

	return grade
}

func (s *gradeService) applyGradeUpdates(grade *models.Grade, req *UpdateGradeRequest) {
	if req.MarksObtained != nil {
		grade.MarksObtained = *req.MarksObtained
	}
	if req.TotalMarks != nil {
		grade.TotalMarks = *req.TotalMarks
	}
	if req.AssessedDate != nil {
		grade.AssessedDate = datatypes.Date(*req.AssessedDate)
	}
	if req.Notes != nil {
		grade.Notes = req.Notes
	}
	if req.HomeworkSubmitted != nil {
		grade.HomeworkSubmitted = req.HomeworkSubmitted
	}
}

func (s *gradeService) buildGradeResponse(grade *models.Grade, canManage bool) *GradeResponse {
	return &GradeResponse{
		Grade:     grade,
		CanEdit:   canManage && !grade.IsReassigned,
		CanDelete: canManage,
	}
}

func (s *gradeService) buildGradeListResponse(grades []*models.Grade, total int64, limit, offset int) *GradeListResponse {
	responses := make([]*GradeResponse, 0, len(grades))
	for _, g := range grades {
		responses = append(responses, s.buildGradeResponse(g, true))
	}

	size := limit
	if size <= 0 {
		size = len(grades)
	}
	page := 1
	if limit > 0 {
		page = offset/limit + 1
	}

	return &GradeListResponse{
		Grades: responses,
		Total:  total,
		Page:   page,
		Size:   size,
	}
}

// ===== EVENTS =====

// publishEvent fires an event without failing the request; broker
// trouble is logged and the write stands
func (s *gradeService) publishEvent(ctx context.Context, eventType string, data interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, data); err != nil {
		s.logger.Error("Failed to publish event", "event_type", eventType, "error", err)
	}
}

func (s *gradeService) publishGradeEvent(ctx context.Context, eventType string, grade *models.Grade) {
	s.publishEvent(ctx, eventType, &events.GradeEventData{
		GradeID:       grade.ID,
		StudentID:     grade.StudentID,
		ClassID:       grade.ClassID,
		TermID:        grade.TermID,
		TopicID:       grade.TopicID,
		SubtopicID:    grade.SubtopicID,
		Percentage:    grade.Percentage,
		IsLowPoint:    grade.IsLowPoint,
		IsRetake:      grade.IsRetake,
		AttemptNumber: grade.AttemptNumber,
		RecordedBy:    grade.RecordedBy,
	})
}

// maybeFlagStudent publishes a student.flagged event when the low point
// that was just recorded pushed the student's flag level up a step.
// Callers invoke it only after a write that added a low-point row, so
// the pre-write count is one less than the current count; edits that
// keep a grade low leave the count alone and never re-flag.
func (s *gradeService) maybeFlagStudent(ctx context.Context, grade *models.Grade) {
	count, err := s.repo.Grade().CountLowPoints(ctx, nil, grade.StudentID, grade.ClassID, grade.TermID)
	if err != nil {
		s.logger.Error("Failed to count low points for flag check", "student_id", grade.StudentID, "error", err)
		return
	}

	level := models.FlagLevelForLowPoints(int(count))
	previous := models.FlagLevelForLowPoints(int(count) - 1)
	if level == previous || level == models.FlagNone {
		return
	}

	s.logger.Warn("Student flag level raised",
		"student_id", grade.StudentID, "class_id", grade.ClassID,
		"term_id", grade.TermID, "low_point_count", count, "flag_level", int(level))

	s.publishEvent(ctx, events.EventStudentFlagged, &events.StudentFlaggedEventData{
		StudentID:     grade.StudentID,
		ClassID:       grade.ClassID,
		TermID:        grade.TermID,
		LowPointCount: int(count),
		FlagLevel:     int(level),
		FlagStatus:    level.Label(),
	})

	if s.notifier != nil {
		if err := s.notifier.NotifyStudentFlagged(ctx, grade.StudentID, grade.ClassID, grade.TermID, int(count)); err != nil {
			s.logger.Error("Failed to send flag notification",
				"student_id", grade.StudentID, "error", err)
		}
	}
}

// notifyLowPoint sends the guardian notification for a freshly recorded
// low point; notification trouble never fails the write
func (s *gradeService) notifyLowPoint(ctx context.Context, grade *models.Grade) {
	if s.notifier == nil {
		return
	}

	student, err := s.repo.Reference().GetStudent(ctx, nil, grade.StudentID)
	if err != nil {
		s.logger.Error("Failed to load student for low point notification",
			"student_id", grade.StudentID, "error", err)
		return
	}

	if err := s.notifier.NotifyLowPoint(ctx, grade, student.FullName); err != nil {
		s.logger.Error("Failed to send low point notification",
			"grade_id", grade.ID, "error", err)
	}
}

func boolPtr(b bool) *bool {
	return &b
}
