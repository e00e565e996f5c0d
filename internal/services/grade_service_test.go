package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/edutrack/grade-service/internal/events"
	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/edutrack/grade-service/internal/validator"
)

type gradeTestEnv struct {
	service   GradeService
	repo      *stubRepository
	publisher *events.MockEventPublisher
}

func newGradeTestEnv(t *testing.T) *gradeTestEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	publisher := events.NewMockEventPublisher(logger)
	repo := newStubRepository()
	seedTestData(repo)

	v := validator.New()
	notifier := NewNotificationEventService(repo, publisher, logger, v)
	service := NewGradeService(repo, nil, logger, v, publisher, notifier)

	return &gradeTestEnv{service: service, repo: repo, publisher: publisher}
}

func submitRequest(studentID, topicID uint, marks, total float64) *SubmitGradeRequest {
	return &SubmitGradeRequest{
		StudentID:     studentID,
		ClassID:       1,
		TermID:        1,
		TopicID:       topicID,
		MarksObtained: marks,
		TotalMarks:    total,
		WorkType:      models.WorkClasswork,
		WorkSubtype:   models.SubtypeWorksheet,
		AssessedDate:  time.Now().AddDate(0, 0, -1),
	}
}

func homeworkRequest(studentID, topicID uint, marks, total float64) *SubmitGradeRequest {
	req := submitRequest(studentID, topicID, marks, total)
	req.WorkType = models.WorkHomework
	req.WorkSubtype = models.SubtypePastPaper
	return req
}

func countEventsOfType(published []events.Event, eventType string) int {
	count := 0
	for _, e := range published {
		if e.Type == eventType {
			count++
		}
	}
	return count
}

func countNotificationsOfType(published []events.Event, notificationType models.NotificationType) int {
	count := 0
	for _, e := range published {
		if e.Type != "system.bulk_notification" {
			continue
		}
		if data, ok := e.Data.(*BulkNotificationEvent); ok && data.Type == notificationType {
			count++
		}
	}
	return count
}

// ===== SUBMISSION =====

func TestGradeService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("First_Attempt", func(t *testing.T) {
		env := newGradeTestEnv(t)

		res, err := env.service.Submit(ctx, submitRequest(1, 1, 72, 90), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		if res.Action != ActionCreated {
			t.Errorf("Expected action %q, got %q", ActionCreated, res.Action)
		}
		if res.Grade.AttemptNumber != 1 {
			t.Errorf("Expected attempt 1, got %d", res.Grade.AttemptNumber)
		}
		if res.Grade.Percentage != 80 {
			t.Errorf("Expected 80%%, got %d%%", res.Grade.Percentage)
		}
		// 80 is the threshold itself, not below it
		if res.Grade.IsLowPoint {
			t.Error("80% should not be a low point")
		}
		if !res.Grade.CanEdit {
			t.Error("Fresh grade should be editable by the class owner")
		}

		published := env.publisher.GetPublishedEvents()
		if countEventsOfType(published, events.EventGradeRecorded) != 1 {
			t.Errorf("Expected one %s event, got %d", events.EventGradeRecorded, len(published))
		}
	})

	t.Run("Low_Point_Classification", func(t *testing.T) {
		env := newGradeTestEnv(t)

		res, err := env.service.Submit(ctx, submitRequest(1, 1, 40, 60), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		// 40/60 rounds half-up to 67
		if res.Grade.Percentage != 67 {
			t.Errorf("Expected 67%%, got %d%%", res.Grade.Percentage)
		}
		if !res.Grade.IsLowPoint {
			t.Error("67% should be a low point")
		}
	})

	t.Run("Conflict_Without_Resolution", func(t *testing.T) {
		env := newGradeTestEnv(t)

		first, err := env.service.Submit(ctx, submitRequest(1, 1, 72, 90), "teacher-1")
		if err != nil {
			t.Fatalf("First submit failed: %v", err)
		}

		_, err = env.service.Submit(ctx, submitRequest(1, 1, 50, 90), "teacher-1")
		if !errors.Is(err, ErrGradeConflict) {
			t.Fatalf("Expected grade conflict, got %v", err)
		}

		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("Expected *ConflictError, got %T", err)
		}
		if conflict.ExistingGradeID != first.Grade.ID {
			t.Errorf("Expected existing grade %d in conflict, got %d", first.Grade.ID, conflict.ExistingGradeID)
		}
	})

	t.Run("Skip_Keeps_Existing", func(t *testing.T) {
		env := newGradeTestEnv(t)

		first, err := env.service.Submit(ctx, submitRequest(1, 1, 72, 90), "teacher-1")
		if err != nil {
			t.Fatalf("First submit failed: %v", err)
		}

		req := submitRequest(1, 1, 10, 90)
		req.OnConflict = validator.ResolutionSkip

		res, err := env.service.Submit(ctx, req, "teacher-1")
		if err != nil {
			t.Fatalf("Skip submit failed: %v", err)
		}
		if res.Action != ActionSkipped {
			t.Errorf("Expected action %q, got %q", ActionSkipped, res.Action)
		}
		if res.Grade.ID != first.Grade.ID {
			t.Errorf("Skip should return the existing grade %d, got %d", first.Grade.ID, res.Grade.ID)
		}

		set, _ := env.repo.grade.GetSetForKey(ctx, nil, first.Grade.Key())
		if len(set) != 1 {
			t.Errorf("Skip should not write a new row; set has %d rows", len(set))
		}
	})

	t.Run("Retake_Appends_Attempt", func(t *testing.T) {
		env := newGradeTestEnv(t)

		first, err := env.service.Submit(ctx, submitRequest(1, 1, 40, 60), "teacher-1")
		if err != nil {
			t.Fatalf("First submit failed: %v", err)
		}

		req := submitRequest(1, 1, 55, 60)
		req.OnConflict = validator.ResolutionRetake

		res, err := env.service.Submit(ctx, req, "teacher-1")
		if err != nil {
			t.Fatalf("Retake submit failed: %v", err)
		}
		if res.Action != ActionRetake {
			t.Errorf("Expected action %q, got %q", ActionRetake, res.Action)
		}
		if !res.Grade.IsRetake {
			t.Error("Retake grade should be marked IsRetake")
		}
		if res.Grade.AttemptNumber != 2 {
			t.Errorf("Expected attempt 2, got %d", res.Grade.AttemptNumber)
		}
		if res.Grade.OriginalGradeID == nil || *res.Grade.OriginalGradeID != first.Grade.ID {
			t.Errorf("Retake should reference original grade %d", first.Grade.ID)
		}

		// The original stays active; retakes never replace it
		active, err := env.repo.grade.GetActiveForKey(ctx, nil, first.Grade.Key())
		if err != nil {
			t.Fatalf("Active grade lookup failed: %v", err)
		}
		if active.ID != first.Grade.ID {
			t.Errorf("Original grade %d should stay active, found %d", first.Grade.ID, active.ID)
		}
	})

	t.Run("Replace_Restarts_Numbering", func(t *testing.T) {
		env := newGradeTestEnv(t)

		first, err := env.service.Submit(ctx, submitRequest(1, 1, 40, 60), "teacher-1")
		if err != nil {
			t.Fatalf("First submit failed: %v", err)
		}

		retake := submitRequest(1, 1, 45, 60)
		retake.OnConflict = validator.ResolutionRetake
		if _, err := env.service.Submit(ctx, retake, "teacher-1"); err != nil {
			t.Fatalf("Retake submit failed: %v", err)
		}

		replace := submitRequest(1, 1, 58, 60)
		replace.OnConflict = validator.ResolutionReplace

		res, err := env.service.Submit(ctx, replace, "teacher-1")
		if err != nil {
			t.Fatalf("Replace submit failed: %v", err)
		}
		if res.Action != ActionReplaced {
			t.Errorf("Expected action %q, got %q", ActionReplaced, res.Action)
		}
		if res.Grade.AttemptNumber != 1 {
			t.Errorf("Replace should restart numbering at 1, got %d", res.Grade.AttemptNumber)
		}

		set, _ := env.repo.grade.GetSetForKey(ctx, nil, first.Grade.Key())
		if len(set) != 1 {
			t.Fatalf("Replace should delete the whole set first; set has %d rows", len(set))
		}
		if set[0].Percentage != 97 {
			t.Errorf("Expected replacement at 97%%, got %d%%", set[0].Percentage)
		}
	})

	t.Run("Subtopic_Keys_Are_Distinct", func(t *testing.T) {
		env := newGradeTestEnv(t)

		if _, err := env.service.Submit(ctx, submitRequest(1, 1, 72, 90), "teacher-1"); err != nil {
			t.Fatalf("Topic-level submit failed: %v", err)
		}

		subtopicID := uint(11)
		req := submitRequest(1, 1, 50, 90)
		req.SubtopicID = &subtopicID

		// Same topic, different subtopic: separate key, no conflict
		res, err := env.service.Submit(ctx, req, "teacher-1")
		if err != nil {
			t.Fatalf("Subtopic submit failed: %v", err)
		}
		if res.Action != ActionCreated {
			t.Errorf("Expected action %q, got %q", ActionCreated, res.Action)
		}
	})

	t.Run("Homework_Submitted_Defaults_True", func(t *testing.T) {
		env := newGradeTestEnv(t)

		res, err := env.service.Submit(ctx, homeworkRequest(1, 1, 8, 10), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Grade.HomeworkSubmitted == nil || !*res.Grade.HomeworkSubmitted {
			t.Error("Graded homework should default to submitted")
		}
	})
}

func TestGradeService_Submit_Validation(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	tests := []struct {
		name   string
		mutate func(*SubmitGradeRequest)
	}{
		{"Marks_Exceed_Total", func(r *SubmitGradeRequest) { r.MarksObtained = 95 }},
		{"Zero_Total", func(r *SubmitGradeRequest) { r.TotalMarks = 0; r.MarksObtained = 0 }},
		{"Bad_Work_Type", func(r *SubmitGradeRequest) { r.WorkType = "exam" }},
		{"Future_Assessed_Date", func(r *SubmitGradeRequest) { r.AssessedDate = time.Now().AddDate(0, 1, 0) }},
		{"Homework_Flag_On_Classwork", func(r *SubmitGradeRequest) { r.HomeworkSubmitted = boolPtr(true) }},
		{"Bad_Resolution", func(r *SubmitGradeRequest) { r.OnConflict = "merge" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := submitRequest(1, 1, 72, 90)
			tt.mutate(req)

			if _, err := env.service.Submit(ctx, req, "teacher-1"); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestGradeService_Submit_References(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	t.Run("Missing_Class", func(t *testing.T) {
		req := submitRequest(1, 1, 72, 90)
		req.ClassID = 404

		if _, err := env.service.Submit(ctx, req, "teacher-1"); !errors.Is(err, ErrClassNotFound) {
			t.Errorf("Expected class not found, got %v", err)
		}
	})

	t.Run("Unowned_Class", func(t *testing.T) {
		if _, err := env.service.Submit(ctx, submitRequest(1, 1, 72, 90), "teacher-2"); !errors.Is(err, ErrForbidden) {
			t.Errorf("Expected forbidden, got %v", err)
		}
	})

	t.Run("Admin_Can_Record_Anywhere", func(t *testing.T) {
		if _, err := env.service.Submit(ctx, submitRequest(1, 2, 72, 90), "admin-1"); err != nil {
			t.Errorf("Admin submit failed: %v", err)
		}
	})

	t.Run("Student_Not_Enrolled", func(t *testing.T) {
		req := submitRequest(2, 1, 72, 90)
		req.ClassID = 2
		req.TermID = 1

		if _, err := env.service.Submit(ctx, req, "teacher-2"); !errors.Is(err, ErrStudentNotEnrolled) {
			t.Errorf("Expected not enrolled, got %v", err)
		}
	})

	t.Run("Missing_Student", func(t *testing.T) {
		req := submitRequest(404, 1, 72, 90)

		if _, err := env.service.Submit(ctx, req, "teacher-1"); !errors.Is(err, ErrStudentNotFound) {
			t.Errorf("Expected student not found, got %v", err)
		}
	})

	t.Run("Topic_From_Other_Course", func(t *testing.T) {
		req := submitRequest(1, 99, 72, 90)

		if _, err := env.service.Submit(ctx, req, "teacher-1"); !errors.Is(err, ErrValidationFailed) {
			t.Errorf("Expected validation failure for cross-course topic, got %v", err)
		}
	})

	t.Run("Subtopic_Of_Other_Topic", func(t *testing.T) {
		subtopicID := uint(11)
		req := submitRequest(1, 2, 72, 90)
		req.SubtopicID = &subtopicID

		if _, err := env.service.Submit(ctx, req, "teacher-1"); !errors.Is(err, ErrValidationFailed) {
			t.Errorf("Expected validation failure for mismatched subtopic, got %v", err)
		}
	})
}

func TestGradeService_FlagEscalation(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	// Two low points: below every flag breakpoint, no escalation event
	for topic := uint(1); topic <= 2; topic++ {
		if _, err := env.service.Submit(ctx, submitRequest(1, topic, 30, 60), "teacher-1"); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if n := countEventsOfType(env.publisher.GetPublishedEvents(), events.EventStudentFlagged); n != 0 {
		t.Fatalf("Expected no flag events below threshold, got %d", n)
	}

	// Third low point crosses into message territory
	if _, err := env.service.Submit(ctx, submitRequest(1, 3, 30, 60), "teacher-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	published := env.publisher.GetPublishedEvents()
	if n := countEventsOfType(published, events.EventStudentFlagged); n != 1 {
		t.Fatalf("Expected exactly one flag event at the third low point, got %d", n)
	}

	var flagged *events.StudentFlaggedEventData
	for _, e := range published {
		if e.Type == events.EventStudentFlagged {
			flagged = e.Data.(*events.StudentFlaggedEventData)
		}
	}
	if flagged.LowPointCount != 3 {
		t.Errorf("Expected 3 low points in event, got %d", flagged.LowPointCount)
	}
	if flagged.FlagLevel != int(models.FlagMessage) {
		t.Errorf("Expected flag level %d, got %d", models.FlagMessage, flagged.FlagLevel)
	}

	// A fourth low point steps the level again
	if _, err := env.service.Submit(ctx, submitRequest(1, 4, 30, 60), "teacher-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if n := countEventsOfType(env.publisher.GetPublishedEvents(), events.EventStudentFlagged); n != 2 {
		t.Errorf("Expected a second flag event at four low points, got %d", n)
	}

	// Guardians hear about every low point, intervention only on steps
	published = env.publisher.GetPublishedEvents()
	if n := countNotificationsOfType(published, models.NotificationLowPointRecorded); n != 4 {
		t.Errorf("Expected 4 low point notifications, got %d", n)
	}
	if n := countNotificationsOfType(published, models.NotificationStudentFlagged); n != 2 {
		t.Errorf("Expected 2 intervention notifications, got %d", n)
	}
}

func TestGradeService_FlagEscalation_EditKeepingGradeLowDoesNotReflag(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	// Exactly on the first breakpoint: three low points, one flag event
	var gradeID uint
	for topic := uint(1); topic <= 3; topic++ {
		res, err := env.service.Submit(ctx, submitRequest(1, topic, 30, 60), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		gradeID = res.Grade.ID
	}
	if n := countEventsOfType(env.publisher.GetPublishedEvents(), events.EventStudentFlagged); n != 1 {
		t.Fatalf("Expected one flag event at three low points, got %d", n)
	}

	// Correcting a low grade to another low score leaves the count at
	// three; the student must not be flagged again
	marks := 25.0
	updated, err := env.service.Update(ctx, gradeID, &UpdateGradeRequest{MarksObtained: &marks}, "teacher-1")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.IsLowPoint {
		t.Fatal("Edited grade should still be a low point")
	}

	if n := countEventsOfType(env.publisher.GetPublishedEvents(), events.EventStudentFlagged); n != 1 {
		t.Errorf("Edit keeping the grade low must not re-flag, got %d flag events", n)
	}
}

// ===== UPDATE AND DELETE =====

func TestGradeService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("Reclassifies_On_Correction", func(t *testing.T) {
		env := newGradeTestEnv(t)

		res, err := env.service.Submit(ctx, submitRequest(1, 1, 50, 100), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if !res.Grade.IsLowPoint {
			t.Fatal("50% should start as a low point")
		}

		marks := 85.0
		updated, err := env.service.Update(ctx, res.Grade.ID, &UpdateGradeRequest{MarksObtained: &marks}, "teacher-1")
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.Percentage != 85 {
			t.Errorf("Expected 85%%, got %d%%", updated.Percentage)
		}
		if updated.IsLowPoint {
			t.Error("85% should no longer be a low point")
		}

		if n := countEventsOfType(env.publisher.GetPublishedEvents(), events.EventGradeUpdated); n != 1 {
			t.Errorf("Expected one update event, got %d", n)
		}
	})

	t.Run("Rejects_Closed_Grade", func(t *testing.T) {
		env := newGradeTestEnv(t)

		res, err := env.service.Submit(ctx, homeworkRequest(1, 1, 3, 10), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if _, err := env.service.Reassign(ctx, res.Grade.ID, &ReassignGradeRequest{}, "teacher-1"); err != nil {
			t.Fatalf("Reassign failed: %v", err)
		}

		marks := 9.0
		if _, err := env.service.Update(ctx, res.Grade.ID, &UpdateGradeRequest{MarksObtained: &marks}, "teacher-1"); !errors.Is(err, ErrGradeClosed) {
			t.Errorf("Expected closed grade error, got %v", err)
		}
	})

	t.Run("Not_Found", func(t *testing.T) {
		env := newGradeTestEnv(t)

		marks := 9.0
		if _, err := env.service.Update(ctx, 404, &UpdateGradeRequest{MarksObtained: &marks}, "teacher-1"); !errors.Is(err, ErrGradeNotFound) {
			t.Errorf("Expected grade not found, got %v", err)
		}
	})
}

func TestGradeService_Delete(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	first, err := env.service.Submit(ctx, submitRequest(1, 1, 40, 60), "teacher-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	retakeReq := submitRequest(1, 1, 55, 60)
	retakeReq.OnConflict = validator.ResolutionRetake
	retake, err := env.service.Submit(ctx, retakeReq, "teacher-1")
	if err != nil {
		t.Fatalf("Retake failed: %v", err)
	}

	if err := env.service.Delete(ctx, first.Grade.ID, "teacher-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := env.service.GetByID(ctx, first.Grade.ID, "teacher-1"); !errors.Is(err, ErrGradeNotFound) {
		t.Errorf("Expected deleted grade to be gone, got %v", err)
	}

	// The retake survives but its lineage pointer is cleared
	survivor, err := env.repo.grade.GetByID(ctx, nil, retake.Grade.ID)
	if err != nil {
		t.Fatalf("Retake lookup failed: %v", err)
	}
	if survivor.OriginalGradeID != nil {
		t.Error("Deleting the original should nullify the retake's back-reference")
	}

	if n := countEventsOfType(env.publisher.GetPublishedEvents(), events.EventGradeDeleted); n != 1 {
		t.Errorf("Expected one delete event, got %d", n)
	}
}

// ===== REASSIGNMENT =====

func TestGradeService_Reassign(t *testing.T) {
	ctx := context.Background()

	t.Run("Appends_Zero_Mark_Successor", func(t *testing.T) {
		env := newGradeTestEnv(t)

		original, err := env.service.Submit(ctx, homeworkRequest(1, 1, 3, 10), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		newTotal := 20.0
		successor, err := env.service.Reassign(ctx, original.Grade.ID, &ReassignGradeRequest{NewTotalMarks: &newTotal}, "teacher-1")
		if err != nil {
			t.Fatalf("Reassign failed: %v", err)
		}

		if successor.MarksObtained != 0 {
			t.Errorf("Successor should start at 0 marks, got %v", successor.MarksObtained)
		}
		if successor.TotalMarks != 20 {
			t.Errorf("Expected overridden total 20, got %v", successor.TotalMarks)
		}
		if successor.AttemptNumber != 2 {
			t.Errorf("Expected attempt 2, got %d", successor.AttemptNumber)
		}
		if !successor.IsLowPoint {
			t.Error("Zero-mark successor should classify as a low point")
		}
		if successor.HomeworkSubmitted == nil || *successor.HomeworkSubmitted {
			t.Error("Successor homework should start unsubmitted")
		}
		if successor.OriginalGradeID == nil || *successor.OriginalGradeID != original.Grade.ID {
			t.Errorf("Successor should reference original %d", original.Grade.ID)
		}
		if successor.WorkSubtype != models.SubtypePastPaper {
			t.Errorf("Successor should inherit the subtype, got %s", successor.WorkSubtype)
		}

		// Original stays in history, closed
		closed, err := env.repo.grade.GetByID(ctx, nil, original.Grade.ID)
		if err != nil {
			t.Fatalf("Original lookup failed: %v", err)
		}
		if !closed.IsReassigned {
			t.Error("Original should be marked reassigned")
		}
		if closed.MarksObtained != 3 {
			t.Errorf("Original marks should be untouched, got %v", closed.MarksObtained)
		}

		if n := countEventsOfType(env.publisher.GetPublishedEvents(), events.EventGradeReassigned); n != 1 {
			t.Errorf("Expected one reassignment event, got %d", n)
		}
		if n := countNotificationsOfType(env.publisher.GetPublishedEvents(), models.NotificationHomeworkReassigned); n != 1 {
			t.Errorf("Expected one reassignment notification, got %d", n)
		}
	})

	t.Run("Classwork_Cannot_Be_Reassigned", func(t *testing.T) {
		env := newGradeTestEnv(t)

		res, err := env.service.Submit(ctx, submitRequest(1, 1, 40, 60), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		if _, err := env.service.Reassign(ctx, res.Grade.ID, &ReassignGradeRequest{}, "teacher-1"); !errors.Is(err, ErrNotHomework) {
			t.Errorf("Expected not-homework error, got %v", err)
		}
	})

	t.Run("Reassign_Twice_Is_Rejected", func(t *testing.T) {
		env := newGradeTestEnv(t)

		original, err := env.service.Submit(ctx, homeworkRequest(1, 1, 3, 10), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if _, err := env.service.Reassign(ctx, original.Grade.ID, &ReassignGradeRequest{}, "teacher-1"); err != nil {
			t.Fatalf("First reassign failed: %v", err)
		}

		if _, err := env.service.Reassign(ctx, original.Grade.ID, &ReassignGradeRequest{}, "teacher-1"); !errors.Is(err, ErrGradeClosed) {
			t.Errorf("Expected closed grade error, got %v", err)
		}
	})

	t.Run("Unowned_Class_Is_Forbidden", func(t *testing.T) {
		env := newGradeTestEnv(t)

		original, err := env.service.Submit(ctx, homeworkRequest(1, 1, 3, 10), "teacher-1")
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		if _, err := env.service.Reassign(ctx, original.Grade.ID, &ReassignGradeRequest{}, "teacher-2"); !errors.Is(err, ErrForbidden) {
			t.Errorf("Expected forbidden, got %v", err)
		}
	})
}

// ===== LINEAGE =====

func TestGradeService_GetRetakeChain(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	first, err := env.service.Submit(ctx, submitRequest(1, 1, 40, 60), "teacher-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	retakeReq := submitRequest(1, 1, 55, 60)
	retakeReq.OnConflict = validator.ResolutionRetake
	retake, err := env.service.Submit(ctx, retakeReq, "teacher-1")
	if err != nil {
		t.Fatalf("Retake failed: %v", err)
	}

	// Asking for the chain from the retake should still surface the root
	chain, err := env.service.GetRetakeChain(ctx, retake.Grade.ID, "teacher-1")
	if err != nil {
		t.Fatalf("GetRetakeChain failed: %v", err)
	}

	if len(chain) != 2 {
		t.Fatalf("Expected chain of 2, got %d", len(chain))
	}
	if chain[0].ID != first.Grade.ID {
		t.Errorf("Chain should start at the root grade %d, got %d", first.Grade.ID, chain[0].ID)
	}
	if chain[1].ID != retake.Grade.ID {
		t.Errorf("Chain should end at the retake %d, got %d", retake.Grade.ID, chain[1].ID)
	}
}

// ===== LIST =====

func TestGradeService_List(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	if _, err := env.service.Submit(ctx, submitRequest(1, 1, 72, 90), "teacher-1"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	req := submitRequest(1, 2, 50, 90)
	req.ClassID = 2
	req.StudentID = 1
	if _, err := env.service.Submit(ctx, req, "teacher-2"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	t.Run("Admin_Sees_All", func(t *testing.T) {
		res, err := env.service.List(ctx, repositories.GradeFilters{}, "admin-1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if res.Total != 2 {
			t.Errorf("Expected 2 grades, got %d", res.Total)
		}
	})

	t.Run("Teacher_Sees_Own_Records", func(t *testing.T) {
		res, err := env.service.List(ctx, repositories.GradeFilters{}, "teacher-1")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if res.Total != 1 {
			t.Errorf("Expected 1 grade, got %d", res.Total)
		}
	})

	t.Run("Teacher_Cannot_Filter_Unowned_Class", func(t *testing.T) {
		classID := uint(2)
		if _, err := env.service.List(ctx, repositories.GradeFilters{ClassID: &classID}, "teacher-1"); !errors.Is(err, ErrForbidden) {
			t.Errorf("Expected forbidden, got %v", err)
		}
	})

	t.Run("Students_Cannot_List", func(t *testing.T) {
		if _, err := env.service.List(ctx, repositories.GradeFilters{}, "student-1"); !errors.Is(err, ErrForbidden) {
			t.Errorf("Expected forbidden, got %v", err)
		}
	})
}

// ===== BATCH ENTRY =====

func TestGradeService_BatchEntry(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	// Student 2 already has an active grade on topic 1; their batch row
	// carries no resolution, so it conflicts and stops the batch
	if _, err := env.service.Submit(ctx, submitRequest(2, 1, 70, 90), "teacher-1"); err != nil {
		t.Fatalf("Seed submit failed: %v", err)
	}
	env.publisher.ClearEvents()

	req := &BatchEntryRequest{
		ClassID: 1,
		TermID:  1,
		Entries: []SubmitGradeRequest{
			*submitRequest(1, 1, 72, 90),
			*submitRequest(2, 1, 40, 90),
			*submitRequest(3, 1, 80, 90),
		},
	}

	result, err := env.service.BatchEntry(ctx, req, "teacher-1")
	if err != nil {
		t.Fatalf("BatchEntry failed: %v", err)
	}

	if result.Total != 3 {
		t.Errorf("Expected total 3, got %d", result.Total)
	}
	if result.Succeeded != 1 || result.Conflicted != 1 || result.Deferred != 1 || result.Failed != 0 {
		t.Errorf("Expected 1 succeeded, 1 conflicted, 1 deferred, 0 failed; got %d/%d/%d/%d",
			result.Succeeded, result.Conflicted, result.Deferred, result.Failed)
	}
	if len(result.Results) != 3 {
		t.Fatalf("Expected 3 row results, got %d", len(result.Results))
	}

	// Rows come back in submission order
	if result.Results[0].Action != ActionCreated || result.Results[0].StudentID != 1 {
		t.Errorf("Row 0 should be a created grade for student 1, got %+v", result.Results[0])
	}
	if result.Results[1].Action != ActionConflict || result.Results[1].Error == "" {
		t.Errorf("Row 1 should be the stopping conflict, got %+v", result.Results[1])
	}
	if result.Results[2].Action != ActionDeferred || result.Results[2].StudentID != 3 {
		t.Errorf("Row 2 should be deferred untouched, got %+v", result.Results[2])
	}

	// The row behind the conflict was never attempted
	deferredKey := models.GradeKey{StudentID: 3, ClassID: 1, TermID: 1, TopicID: 1}
	if _, err := env.repo.grade.GetActiveForKey(ctx, nil, deferredKey); !repositories.IsNotFoundError(err) {
		t.Errorf("Deferred student must not be committed, got %v", err)
	}

	// The conflict must not undo the row committed before it
	key := models.GradeKey{StudentID: 1, ClassID: 1, TermID: 1, TopicID: 1}
	if _, err := env.repo.grade.GetActiveForKey(ctx, nil, key); err != nil {
		t.Errorf("Committed row should survive the conflict behind it: %v", err)
	}

	published := env.publisher.GetPublishedEvents()
	if n := countEventsOfType(published, events.EventBatchEntryCompleted); n != 1 {
		t.Errorf("Expected one batch completion event, got %d", n)
	}
	for _, e := range published {
		if e.Type == events.EventBatchEntryCompleted {
			data := e.Data.(*events.BatchEntryEventData)
			if data.Conflicted != 1 || data.Deferred != 1 {
				t.Errorf("Expected 1 conflicted and 1 deferred in event, got %d/%d", data.Conflicted, data.Deferred)
			}
		}
	}
}

func TestGradeService_BatchEntry_FailedRowDoesNotStopBatch(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	badRow := *submitRequest(1, 1, 95, 90) // marks above total
	result, err := env.service.BatchEntry(ctx, &BatchEntryRequest{
		ClassID: 1,
		TermID:  1,
		Entries: []SubmitGradeRequest{badRow, *submitRequest(2, 1, 72, 90)},
	}, "teacher-1")
	if err != nil {
		t.Fatalf("BatchEntry failed: %v", err)
	}

	if result.Failed != 1 || result.Succeeded != 1 || result.Deferred != 0 {
		t.Errorf("Invalid row should fail alone, got %+v", result)
	}
	if result.Results[0].Error == "" {
		t.Errorf("Row 0 should carry the validation error, got %+v", result.Results[0])
	}
}

func TestGradeService_BatchEntry_ConflictDefersLaterStudents(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	if _, err := env.service.Submit(ctx, submitRequest(1, 1, 70, 90), "teacher-1"); err != nil {
		t.Fatalf("Seed submit failed: %v", err)
	}

	// Student 1 conflicts on the very first row; student 2's perfectly
	// valid row must wait until that conflict is resolved
	result, err := env.service.BatchEntry(ctx, &BatchEntryRequest{
		ClassID: 1,
		TermID:  1,
		Entries: []SubmitGradeRequest{
			*submitRequest(1, 1, 60, 90),
			*submitRequest(2, 1, 85, 90),
		},
	}, "teacher-1")
	if err != nil {
		t.Fatalf("BatchEntry failed: %v", err)
	}

	if result.Succeeded != 0 || result.Conflicted != 1 || result.Deferred != 1 {
		t.Errorf("Expected 0 succeeded, 1 conflicted, 1 deferred; got %d/%d/%d",
			result.Succeeded, result.Conflicted, result.Deferred)
	}

	key := models.GradeKey{StudentID: 2, ClassID: 1, TermID: 1, TopicID: 1}
	if _, err := env.repo.grade.GetActiveForKey(ctx, nil, key); !repositories.IsNotFoundError(err) {
		t.Errorf("Student behind the conflict must not be committed, got %v", err)
	}
}

func TestGradeService_BatchEntry_MismatchedRows(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	wrongClass := *submitRequest(1, 1, 72, 90)
	wrongClass.ClassID = 2

	result, err := env.service.BatchEntry(ctx, &BatchEntryRequest{
		ClassID: 1,
		TermID:  1,
		Entries: []SubmitGradeRequest{wrongClass},
	}, "teacher-1")
	if err != nil {
		t.Fatalf("BatchEntry failed: %v", err)
	}

	if result.Failed != 1 {
		t.Errorf("Row with foreign class id should fail, got %+v", result)
	}
}

// ===== PERMISSIONS =====

func TestGradeService_CanEdit(t *testing.T) {
	ctx := context.Background()
	env := newGradeTestEnv(t)

	original, err := env.service.Submit(ctx, homeworkRequest(1, 1, 3, 10), "teacher-1")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	canEdit, err := env.service.CanEdit(ctx, original.Grade.ID, "teacher-1")
	if err != nil {
		t.Fatalf("CanEdit failed: %v", err)
	}
	if !canEdit {
		t.Error("Class owner should be able to edit")
	}

	canEdit, err = env.service.CanEdit(ctx, original.Grade.ID, "teacher-2")
	if err != nil {
		t.Fatalf("CanEdit failed: %v", err)
	}
	if canEdit {
		t.Error("Non-owner should not be able to edit")
	}

	if _, err := env.service.Reassign(ctx, original.Grade.ID, &ReassignGradeRequest{}, "teacher-1"); err != nil {
		t.Fatalf("Reassign failed: %v", err)
	}

	canEdit, err = env.service.CanEdit(ctx, original.Grade.ID, "teacher-1")
	if err != nil {
		t.Fatalf("CanEdit failed: %v", err)
	}
	if canEdit {
		t.Error("Closed grade should not be editable")
	}
}
