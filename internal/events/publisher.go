package events

import (
	"context"
	"time"
)

// Event is the envelope every message published by this service wraps
// its payload in.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Source    string      `json:"source"`
	Version   string      `json:"version"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Event types emitted by the grade service
const (
	EventGradeRecorded       = "grade.recorded"
	EventGradeUpdated        = "grade.updated"
	EventGradeDeleted        = "grade.deleted"
	EventGradeReassigned     = "grade.reassigned"
	EventStudentFlagged      = "student.flagged"
	EventBatchEntryCompleted = "grades.batch_completed"
)

const (
	eventSource  = "grade-service"
	eventVersion = "1.0"
)

// EventPublisher publishes domain events to the message broker
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
	Close() error
}

// ===== EVENT PAYLOADS =====

// GradeEventData is the payload for grade lifecycle events
type GradeEventData struct {
	GradeID       uint   `json:"grade_id"`
	StudentID     uint   `json:"student_id"`
	ClassID       uint   `json:"class_id"`
	TermID        uint   `json:"term_id"`
	TopicID       uint   `json:"topic_id"`
	SubtopicID    *uint  `json:"subtopic_id,omitempty"`
	Percentage    int    `json:"percentage"`
	IsLowPoint    bool   `json:"is_low_point"`
	IsRetake      bool   `json:"is_retake"`
	AttemptNumber int    `json:"attempt_number"`
	RecordedBy    string `json:"recorded_by"`
}

// ReassignmentEventData is the payload for homework reassignment events
type ReassignmentEventData struct {
	OriginalGradeID uint   `json:"original_grade_id"`
	NewGradeID      uint   `json:"new_grade_id"`
	StudentID       uint   `json:"student_id"`
	ClassID         uint   `json:"class_id"`
	ReassignedBy    string `json:"reassigned_by"`
}

// StudentFlaggedEventData is the payload emitted when a student's flag
// level rises within a term
type StudentFlaggedEventData struct {
	StudentID     uint   `json:"student_id"`
	ClassID       uint   `json:"class_id"`
	TermID        uint   `json:"term_id"`
	LowPointCount int    `json:"low_point_count"`
	FlagLevel     int    `json:"flag_level"`
	FlagStatus    string `json:"flag_status"`
}

// BatchEntryEventData is the payload for batch grade entry completion
type BatchEntryEventData struct {
	ClassID      uint   `json:"class_id"`
	TermID       uint   `json:"term_id"`
	Succeeded    int    `json:"succeeded"`
	Failed       int    `json:"failed"`
	Conflicted   int    `json:"conflicted"`
	Deferred     int    `json:"deferred"`
	SubmittedBy  string `json:"submitted_by"`
	DurationMsec int64  `json:"duration_msec"`
}
