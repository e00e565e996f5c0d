package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edutrack/grade-service/internal/events"
	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/edutrack/grade-service/internal/validator"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type gradeService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	events    events.EventPublisher
	notifier  NotificationEventService
}

func NewGradeService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, notifier NotificationEventService) GradeService {
	return &gradeService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		events:    publisher,
		notifier:  notifier,
	}
}

// ===== SUBMISSION =====

func (s *gradeService) Submit(ctx context.Context, req *SubmitGradeRequest, userID string) (*SubmitGradeResult, error) {
	s.logger.Info("Recording grade",
		"student_id", req.StudentID, "class_id", req.ClassID, "term_id", req.TermID,
		"topic_id", req.TopicID, "recorded_by", userID)

	// Validate request with business rules
	if errs := s.validator.ValidateGradeSubmit(req); len(errs) > 0 {
		return nil, errs
	}

	// Check class ownership
	class, err := s.getManagedClass(ctx, req.ClassID, userID, "record grade")
	if err != nil {
		return nil, err
	}

	// Validate referenced entities
	if err := s.validateSubmitReferences(ctx, req, class); err != nil {
		return nil, err
	}

	key := models.GradeKey{
		StudentID:  req.StudentID,
		ClassID:    req.ClassID,
		TermID:     req.TermID,
		TopicID:    req.TopicID,
		SubtopicID: req.SubtopicID,
	}

	active, err := s.getActiveGrade(ctx, key)
	if err != nil {
		return nil, err
	}

	action, err := decideSubmission(active, req.OnConflict)
	if err != nil {
		return nil, err
	}

	if action == ActionSkipped {
		s.logger.Info("Grade submission skipped, keeping existing grade", "grade_id", active.ID)
		return &SubmitGradeResult{
			Action: ActionSkipped,
			Grade:  s.buildGradeResponse(active, true),
		}, nil
	}

	grade, err := s.executeSubmission(ctx, req, class, key, active, action, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Grade recorded successfully",
		"grade_id", grade.ID, "action", string(action),
		"attempt_number", grade.AttemptNumber, "percentage", grade.Percentage,
		"is_low_point", grade.IsLowPoint)

	s.publishGradeEvent(ctx, events.EventGradeRecorded, grade)
	if grade.IsLowPoint {
		s.notifyLowPoint(ctx, grade)
		s.maybeFlagStudent(ctx, grade)
	}

	return &SubmitGradeResult{
		Action: action,
		Grade:  s.buildGradeResponse(grade, true),
	}, nil
}

// executeSubmission applies the decided action against storage. A unique
// constraint violation means a concurrent submission created the active
// grade first; it is reported back as a conflict the caller can resolve.
func (s *gradeService) executeSubmission(ctx context.Context, req *SubmitGradeRequest, class *models.Class, key models.GradeKey, active *models.Grade, action SubmitAction, userID string) (*models.Grade, error) {
	grade := s.buildGrade(req, class, userID)

	switch action {
	case ActionCreated:
		grade.AttemptNumber = 1
		if err := s.repo.Grade().Create(ctx, nil, grade); err != nil {
			return nil, s.mapCreateError(ctx, key, err)
		}

	case ActionReplaced:
		grade.AttemptNumber = 1
		err := s.repo.WithTransaction(ctx, func(r repositories.Repository) error {
			if _, err := r.Grade().DeleteSetForKey(ctx, nil, key); err != nil {
				return fmt.Errorf("failed to replace grade set: %w", err)
			}
			return r.Grade().Create(ctx, nil, grade)
		})
		if err != nil {
			return nil, s.mapCreateError(ctx, key, err)
		}

	case ActionRetake:
		set, err := s.repo.Grade().GetSetForKey(ctx, nil, key)
		if err != nil {
			return nil, fmt.Errorf("failed to get grade set: %w", err)
		}
		grade.IsRetake = true
		grade.OriginalGradeID = &active.ID
		grade.AttemptNumber = nextAttemptNumber(set)
		if err := s.repo.Grade().Create(ctx, nil, grade); err != nil {
			return nil, fmt.Errorf("failed to create retake: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported submission action: %s", action)
	}

	return grade, nil
}

// ===== GET OPERATIONS =====

func (s *gradeService) GetByID(ctx context.Context, id uint, userID string) (*GradeResponse, error) {
	grade, err := s.repo.Grade().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrGradeNotFound
		}
		return nil, fmt.Errorf("failed to get grade: %w", err)
	}

	canManage, err := s.canManageGrade(ctx, grade, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, id, "grade", "read", "not class owner or admin")
	}

	return s.buildGradeResponse(grade, true), nil
}

func (s *gradeService) GetByIDWithDetails(ctx context.Context, id uint, userID string) (*GradeResponse, error) {
	grade, err := s.repo.Grade().GetByIDWithDetails(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrGradeNotFound
		}
		return nil, fmt.Errorf("failed to get grade with details: %w", err)
	}

	canManage, err := s.canManageGrade(ctx, grade, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, id, "grade", "read", "not class owner or admin")
	}

	return s.buildGradeResponse(grade, true), nil
}

// ===== UPDATE AND DELETE =====

func (s *gradeService) Update(ctx context.Context, id uint, req *UpdateGradeRequest, userID string) (*GradeResponse, error) {
	s.logger.Info("Updating grade", "grade_id", id, "user_id", userID)

	grade, err := s.repo.Grade().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrGradeNotFound
		}
		return nil, fmt.Errorf("failed to get grade: %w", err)
	}

	canManage, err := s.canManageGrade(ctx, grade, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, id, "grade", "update", "not class owner or admin")
	}

	// A reassigned original is closed; corrections go to its successor
	if grade.IsReassigned {
		return nil, ErrGradeClosed
	}

	if errs := s.validator.ValidateGradeUpdate(req, grade); len(errs) > 0 {
		return nil, errs
	}

	wasLowPoint := grade.IsLowPoint
	s.applyGradeUpdates(grade, req)
	applyClassification(grade)

	if err := s.repo.Grade().Update(ctx, nil, grade); err != nil {
		return nil, fmt.Errorf("failed to update grade: %w", err)
	}

	s.logger.Info("Grade updated successfully", "grade_id", id, "percentage", grade.Percentage)

	s.publishGradeEvent(ctx, events.EventGradeUpdated, grade)
	// Editing a grade that was already low leaves the student's count
	// where it was; only a correction that newly lowers the grade can
	// move the flag level
	if grade.IsLowPoint && !wasLowPoint {
		s.maybeFlagStudent(ctx, grade)
	}

	return s.buildGradeResponse(grade, true), nil
}

func (s *gradeService) Delete(ctx context.Context, id uint, userID string) error {
	s.logger.Info("Deleting grade", "grade_id", id, "user_id", userID)

	grade, err := s.repo.Grade().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrGradeNotFound
		}
		return fmt.Errorf("failed to get grade: %w", err)
	}

	canManage, err := s.canManageGrade(ctx, grade, userID)
	if err != nil {
		return err
	}
	if !canManage {
		return NewPermissionError(userID, id, "grade", "delete", "not class owner or admin")
	}

	// Retakes keep existing but lose the back-reference to the deleted
	// original; lineage pointers are historical, never ownership
	err = s.repo.WithTransaction(ctx, func(r repositories.Repository) error {
		if err := r.Grade().NullifyOriginalRefs(ctx, nil, id); err != nil {
			return err
		}
		return r.Grade().Delete(ctx, nil, id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete grade: %w", err)
	}

	s.logger.Info("Grade deleted successfully", "grade_id", id)

	s.publishGradeEvent(ctx, events.EventGradeDeleted, grade)

	return nil
}

// ===== HOMEWORK REASSIGNMENT =====

func (s *gradeService) Reassign(ctx context.Context, id uint, req *ReassignGradeRequest, userID string) (*GradeResponse, error) {
	s.logger.Info("Reassigning homework", "grade_id", id, "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	grade, err := s.repo.Grade().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrGradeNotFound
		}
		return nil, fmt.Errorf("failed to get grade: %w", err)
	}

	canManage, err := s.canManageGrade(ctx, grade, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, id, "grade", "reassign", "not class owner or admin")
	}

	if grade.WorkType != models.WorkHomework {
		return nil, ErrNotHomework
	}
	if grade.IsReassigned {
		return nil, ErrGradeClosed
	}

	newGrade, err := s.createReassignment(ctx, grade, req, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Homework reassigned successfully",
		"original_grade_id", grade.ID, "new_grade_id", newGrade.ID,
		"attempt_number", newGrade.AttemptNumber)

	s.publishEvent(ctx, events.EventGradeReassigned, &events.ReassignmentEventData{
		OriginalGradeID: grade.ID,
		NewGradeID:      newGrade.ID,
		StudentID:       grade.StudentID,
		ClassID:         grade.ClassID,
		ReassignedBy:    userID,
	})

	if s.notifier != nil {
		if err := s.notifier.NotifyHomeworkReassigned(ctx, grade.ID, newGrade.ID, grade.StudentID, userID); err != nil {
			s.logger.Error("Failed to send reassignment notification",
				"grade_id", grade.ID, "new_grade_id", newGrade.ID, "error", err)
		}
	}

	// The successor starts at zero marks, which is a low point until the
	// student hands the work in and the grade is corrected
	s.maybeFlagStudent(ctx, newGrade)

	return s.buildGradeResponse(newGrade, true), nil
}

// createReassignment closes the original and appends the successor in
// one transaction. Closing first frees the active slot in the partial
// unique index for the successor row.
func (s *gradeService) createReassignment(ctx context.Context, original *models.Grade, req *ReassignGradeRequest, userID string) (*models.Grade, error) {
	totalMarks := original.TotalMarks
	if req.NewTotalMarks != nil {
		totalMarks = *req.NewTotalMarks
	}

	assessedDate := time.Now()
	if req.DueDate != nil {
		assessedDate = *req.DueDate
	}

	newGrade := &models.Grade{
		StudentID:         original.StudentID,
		ClassID:           original.ClassID,
		CourseID:          original.CourseID,
		TermID:            original.TermID,
		TopicID:           original.TopicID,
		SubtopicID:        original.SubtopicID,
		MarksObtained:     0,
		TotalMarks:        totalMarks,
		WorkType:          models.WorkHomework,
		WorkSubtype:       original.WorkSubtype,
		OriginalGradeID:   &original.ID,
		AssessedDate:      datatypes.Date(assessedDate),
		Notes:             req.Notes,
		HomeworkSubmitted: boolPtr(false),
		RecordedBy:        userID,
	}
	applyClassification(newGrade)

	err := s.repo.WithTransaction(ctx, func(r repositories.Repository) error {
		set, err := r.Grade().GetSetForKey(ctx, nil, original.Key())
		if err != nil {
			return fmt.Errorf("failed to get grade set: %w", err)
		}
		newGrade.AttemptNumber = nextAttemptNumber(set)

		original.IsReassigned = true
		if err := r.Grade().Update(ctx, nil, original); err != nil {
			return fmt.Errorf("failed to close original grade: %w", err)
		}

		return r.Grade().Create(ctx, nil, newGrade)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reassign homework: %w", err)
	}

	return newGrade, nil
}

// ===== LIST OPERATIONS =====

func (s *gradeService) List(ctx context.Context, filters repositories.GradeFilters, userID string) (*GradeListResponse, error) {
	userRole, err := s.getUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch userRole {
	case models.RoleAdmin:
		// Admins see everything

	case models.RoleTeacher:
		// Teachers: own classes only
		if filters.ClassID != nil {
			if _, err := s.getManagedClass(ctx, *filters.ClassID, userID, "list grades"); err != nil {
				return nil, err
			}
		} else {
			filters.RecordedBy = &userID
		}

	default:
		return nil, NewPermissionError(userID, 0, "grade", "list", "insufficient role permissions")
	}

	grades, total, err := s.repo.Grade().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list grades: %w", err)
	}

	return s.buildGradeListResponse(grades, total, filters.Limit, filters.Offset), nil
}

func (s *gradeService) GetByStudentTerm(ctx context.Context, studentID, classID, termID uint, userID string) (*GradeListResponse, error) {
	if _, err := s.getManagedClass(ctx, classID, userID, "read grades"); err != nil {
		return nil, err
	}

	grades, err := s.repo.Grade().GetByStudentTerm(ctx, nil, studentID, classID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to get student grades: %w", err)
	}

	return s.buildGradeListResponse(grades, int64(len(grades)), 0, 0), nil
}

func (s *gradeService) GetByClassTerm(ctx context.Context, classID, termID uint, userID string) (*GradeListResponse, error) {
	if _, err := s.getManagedClass(ctx, classID, userID, "read grades"); err != nil {
		return nil, err
	}

	grades, err := s.repo.Grade().GetByClassTerm(ctx, nil, classID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to get class grades: %w", err)
	}

	return s.buildGradeListResponse(grades, int64(len(grades)), 0, 0), nil
}

func (s *gradeService) GetRetakeChain(ctx context.Context, id uint, userID string) ([]*GradeResponse, error) {
	grade, err := s.repo.Grade().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrGradeNotFound
		}
		return nil, fmt.Errorf("failed to get grade: %w", err)
	}

	canManage, err := s.canManageGrade(ctx, grade, userID)
	if err != nil {
		return nil, err
	}
	if !canManage {
		return nil, NewPermissionError(userID, id, "grade", "read", "not class owner or admin")
	}

	// Walk to the root of the lineage first so the chain is complete even
	// when called with a retake id
	root := grade
	if grade.OriginalGradeID != nil {
		root, err = s.repo.Grade().GetByID(ctx, nil, *grade.OriginalGradeID)
		if err != nil && !repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("failed to get original grade: %w", err)
		}
		if root == nil {
			root = grade
		}
	}

	chain, err := s.repo.Grade().GetRetakeChain(ctx, nil, root.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get retake chain: %w", err)
	}

	responses := make([]*GradeResponse, 0, len(chain)+1)
	responses = append(responses, s.buildGradeResponse(root, true))
	for _, g := range chain {
		responses = append(responses, s.buildGradeResponse(g, true))
	}

	return responses, nil
}

// ===== BATCH ENTRY =====

// BatchEntry processes a sheet of grades sequentially. Rows fail or
// skip independently, but the first unresolved conflict stops the
// batch: the remaining students are deferred untouched until the
// teacher resolves the conflict and resubmits. Committed rows are
// never rolled back.
func (s *gradeService) BatchEntry(ctx context.Context, req *BatchEntryRequest, userID string) (*BatchEntryResult, error) {
	started := time.Now()

	s.logger.Info("Starting batch grade entry",
		"class_id", req.ClassID, "term_id", req.TermID,
		"entries", len(req.Entries), "user_id", userID)

	if errs := s.validator.ValidateBatchEntry(req); len(errs) > 0 {
		return nil, errs
	}

	if _, err := s.getManagedClass(ctx, req.ClassID, userID, "batch entry"); err != nil {
		return nil, err
	}

	result := &BatchEntryResult{
		ClassID: req.ClassID,
		TermID:  req.TermID,
		Total:   len(req.Entries),
		Results: make([]BatchRowResult, 0, len(req.Entries)),
	}

entries:
	for i := range req.Entries {
		entry := req.Entries[i]
		row := BatchRowResult{Index: i, StudentID: entry.StudentID}

		if errs := s.validator.ValidateEntry(&entry, req.ClassID, req.TermID); len(errs) > 0 {
			row.Error = errs.Error()
			result.Failed++
			result.Results = append(result.Results, row)
			continue
		}

		res, err := s.Submit(ctx, &entry, userID)
		switch {
		case err == nil:
			row.Action = res.Action
			if res.Grade != nil && res.Grade.Grade != nil {
				row.GradeID = res.Grade.ID
			}
			if res.Action == ActionSkipped {
				result.Skipped++
			} else {
				result.Succeeded++
			}

		case isConflictError(err):
			// Later students wait until the teacher resolves this
			// conflict and resubmits; none of them is committed past it
			row.Action = ActionConflict
			row.Error = err.Error()
			result.Conflicted++
			result.Results = append(result.Results, row)

			for j := i + 1; j < len(req.Entries); j++ {
				result.Results = append(result.Results, BatchRowResult{
					Index:     j,
					StudentID: req.Entries[j].StudentID,
					Action:    ActionDeferred,
				})
				result.Deferred++
			}
			break entries

		default:
			row.Error = err.Error()
			result.Failed++
		}

		result.Results = append(result.Results, row)
	}

	s.logger.Info("Batch grade entry completed",
		"class_id", req.ClassID, "succeeded", result.Succeeded,
		"skipped", result.Skipped, "conflicted", result.Conflicted,
		"deferred", result.Deferred, "failed", result.Failed,
		"duration", time.Since(started))

	s.publishEvent(ctx, events.EventBatchEntryCompleted, &events.BatchEntryEventData{
		ClassID:      req.ClassID,
		TermID:       req.TermID,
		Succeeded:    result.Succeeded,
		Failed:       result.Failed,
		Conflicted:   result.Conflicted,
		Deferred:     result.Deferred,
		SubmittedBy:  userID,
		DurationMsec: time.Since(started).Milliseconds(),
	})

	return result, nil
}

// ===== PERMISSION CHECKS =====

func (s *gradeService) CanEdit(ctx context.Context, gradeID uint, userID string) (bool, error) {
	grade, err := s.repo.Grade().GetByID(ctx, nil, gradeID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return false, ErrGradeNotFound
		}
		return false, fmt.Errorf("failed to get grade: %w", err)
	}

	canManage, err := s.canManageGrade(ctx, grade, userID)
	if err != nil {
		return false, err
	}

	return canManage && !grade.IsReassigned, nil
}
