package services

import (
	"context"
	"io"
	"time"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/edutrack/grade-service/internal/validator"
)

// ===== REQUEST/RESPONSE DTOs =====

// Use business validator types
type SubmitGradeRequest = validator.GradeSubmitRequest
type UpdateGradeRequest = validator.GradeUpdateRequest
type BatchEntryRequest = validator.BatchGradeEntryRequest
type ReassignGradeRequest = validator.ReassignRequest
type UpdateContactRequest = validator.ContactUpdateRequest

type GradeResponse struct {
	*models.Grade
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

type GradeListResponse struct {
	Grades []*GradeResponse `json:"grades"`
	Total  int64            `json:"total"`
	Page   int              `json:"page"`
	Size   int              `json:"size"`
}

// SubmitAction tells the caller how a submission was resolved against
// any existing active grade for the same key.
type SubmitAction string

const (
	ActionCreated  SubmitAction = "created"
	ActionReplaced SubmitAction = "replaced"
	ActionRetake   SubmitAction = "retake"
	ActionSkipped  SubmitAction = "skipped"
	ActionConflict SubmitAction = "conflict"
	ActionDeferred SubmitAction = "deferred"
)

type SubmitGradeResult struct {
	Action SubmitAction   `json:"action"`
	Grade  *GradeResponse `json:"grade,omitempty"`
}

// ===== BATCH ENTRY DTOs =====

// BatchRowResult reports the outcome of one row in a batch. Failed rows
// never abort the batch; an unresolved conflict does, and every row
// after it comes back deferred and untouched.
type BatchRowResult struct {
	Index     int          `json:"index"`
	StudentID uint         `json:"student_id"`
	Action    SubmitAction `json:"action,omitempty"`
	GradeID   uint         `json:"grade_id,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type BatchEntryResult struct {
	ClassID    uint             `json:"class_id"`
	TermID     uint             `json:"term_id"`
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	Skipped    int              `json:"skipped"`
	Conflicted int              `json:"conflicted"`
	Deferred   int              `json:"deferred"`
	Failed     int              `json:"failed"`
	Results    []BatchRowResult `json:"results"`
}

// ===== FLAG RELATED DTOs =====

type ContactBadge struct {
	ContactType models.ContactType   `json:"contact_type"`
	Status      models.ContactStatus `json:"status"`
	ContactedAt *time.Time           `json:"contacted_at,omitempty"`
}

type StudentFlagResponse struct {
	StudentID     uint             `json:"student_id"`
	StudentName   string           `json:"student_name,omitempty"`
	LowPointCount int              `json:"low_point_count"`
	FlagLevel     models.FlagLevel `json:"flag_level"`
	FlagLabel     string           `json:"flag_label"`
	Contacts      []ContactBadge   `json:"contacts,omitempty"`
}

type FlagListResponse struct {
	ClassID uint                   `json:"class_id"`
	TermID  uint                   `json:"term_id"`
	Flags   []*StudentFlagResponse `json:"flags"`
	Total   int                    `json:"total"`
}

// ===== PROGRESS RELATED DTOs =====

type ProgressSummaryResponse struct {
	StudentID         uint             `json:"student_id"`
	TermID            uint             `json:"term_id"`
	GradeCount        int              `json:"grade_count"`
	LowPointCount     int              `json:"low_point_count"`
	AveragePercentage float64          `json:"average_percentage"`
	FlagLevel         models.FlagLevel `json:"flag_level"`
	FlagLabel         string           `json:"flag_label"`
	TopicsGraded      int              `json:"topics_graded"`
	TopicsTotal       int              `json:"topics_total"`
	LatestAssessed    *time.Time       `json:"latest_assessed,omitempty"`
}

type ClassProgressResponse struct {
	ClassID  uint                       `json:"class_id"`
	TermID   uint                       `json:"term_id"`
	Students []*ProgressSummaryResponse `json:"students"`
	Total    int                        `json:"total"`
}

// ===== NOTIFICATION DTOs =====

type NotificationRequest struct {
	Type     models.NotificationType     `json:"type" validate:"required"`
	Title    string                      `json:"title" validate:"required,max=200"`
	Message  string                      `json:"message" validate:"required,max=2000"`
	Priority models.NotificationPriority `json:"priority"`
}

// ===== SERVICE INTERFACES =====

type GradeService interface {
	// Core submission and CRUD operations
	Submit(ctx context.Context, req *SubmitGradeRequest, userID string) (*SubmitGradeResult, error)
	GetByID(ctx context.Context, id uint, userID string) (*GradeResponse, error)
	GetByIDWithDetails(ctx context.Context, id uint, userID string) (*GradeResponse, error)
	Update(ctx context.Context, id uint, req *UpdateGradeRequest, userID string) (*GradeResponse, error)
	Delete(ctx context.Context, id uint, userID string) error

	// Homework reassignment
	Reassign(ctx context.Context, id uint, req *ReassignGradeRequest, userID string) (*GradeResponse, error)

	// List operations
	List(ctx context.Context, filters repositories.GradeFilters, userID string) (*GradeListResponse, error)
	GetByStudentTerm(ctx context.Context, studentID, classID, termID uint, userID string) (*GradeListResponse, error)
	GetByClassTerm(ctx context.Context, classID, termID uint, userID string) (*GradeListResponse, error)
	GetRetakeChain(ctx context.Context, id uint, userID string) ([]*GradeResponse, error)

	// Batch entry
	BatchEntry(ctx context.Context, req *BatchEntryRequest, userID string) (*BatchEntryResult, error)

	// Permission checks
	CanEdit(ctx context.Context, gradeID uint, userID string) (bool, error)
}

type FlagService interface {
	// Aggregated flag views
	GetClassFlags(ctx context.Context, classID, termID uint, userID string) (*FlagListResponse, error)
	GetStudentFlag(ctx context.Context, studentID, classID, termID uint, userID string) (*StudentFlagResponse, error)

	// Parent contact tracking
	RecordContact(ctx context.Context, req *UpdateContactRequest, userID string) (*models.ParentContact, error)
	UpdateContactStatus(ctx context.Context, contactID uint, status models.ContactStatus, userID string) error
	GetContacts(ctx context.Context, studentID, termID uint, userID string) ([]*models.ParentContact, error)
}

type ProgressService interface {
	GetStudentSummary(ctx context.Context, studentID, classID, termID uint, userID string) (*ProgressSummaryResponse, error)
	GetClassSummary(ctx context.Context, classID, termID uint, userID string) (*ClassProgressResponse, error)
}

type ImportService interface {
	// ImportGradeSheet parses an uploaded spreadsheet into a batch entry
	// request and runs it through the grade service.
	ImportGradeSheet(ctx context.Context, reader io.Reader, classID, termID uint, userID string) (*BatchEntryResult, error)
	GenerateTemplate(ctx context.Context, classID, termID uint, userID string) ([]byte, error)
}

// ===== SERVICE MANAGER =====

type ServiceManager interface {
	// Core service getters
	Grade() GradeService
	Flag() FlagService
	Progress() ProgressService
	Dashboard() DashboardService

	// Additional service getters
	Import() ImportService
	Notification() NotificationEventService

	// Health and lifecycle
	Initialize(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
