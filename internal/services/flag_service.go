package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/edutrack/grade-service/internal/cache"
	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/edutrack/grade-service/internal/validator"
	"gorm.io/gorm"
)

type flagService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	cache     *cache.CacheManager
}

func NewFlagService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, cacheManager *cache.CacheManager) FlagService {
	return &flagService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
		cache:     cacheManager,
	}
}

// ===== FLAG VIEWS =====

// GetClassFlags lists the flagged students of a class with contact
// badges, built from one grouped low-point query
func (s *flagService) GetClassFlags(ctx context.Context, classID, termID uint, userID string) (*FlagListResponse, error) {
	if _, err := s.getManagedClass(ctx, classID, userID, "read flags"); err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("class:%d:term:%d", classID, termID)
	var response FlagListResponse

	err := s.cache.Flags.CacheOrExecute(ctx, cacheKey, &response, cache.FlagsCacheConfig.TTL, func() (interface{}, error) {
		return s.buildClassFlags(ctx, classID, termID)
	})
	if err != nil {
		return nil, err
	}

	return &response, nil
}

func (s *flagService) buildClassFlags(ctx context.Context, classID, termID uint) (*FlagListResponse, error) {
	counts, err := s.repo.Grade().CountLowPointsByStudent(ctx, nil, classID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to count low points: %w", err)
	}

	// Only flagged students are listed; students below three low points
	// stay off the intervention radar
	flagged := make([]repositories.LowPointCount, 0, len(counts))
	studentIDs := make([]uint, 0, len(counts))
	for _, c := range counts {
		if models.FlagLevelForLowPoints(int(c.Count)) == models.FlagNone {
			continue
		}
		flagged = append(flagged, c)
		studentIDs = append(studentIDs, c.StudentID)
	}

	students, err := s.repo.Reference().GetStudentsByIDs(ctx, nil, studentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get students: %w", err)
	}
	names := make(map[uint]string, len(students))
	for _, st := range students {
		names[st.ID] = st.FullName
	}

	badges, err := s.contactBadges(ctx, studentIDs, termID)
	if err != nil {
		return nil, err
	}

	flags := make([]*StudentFlagResponse, 0, len(flagged))
	for _, c := range flagged {
		level := models.FlagLevelForLowPoints(int(c.Count))
		flags = append(flags, &StudentFlagResponse{
			StudentID:     c.StudentID,
			StudentName:   names[c.StudentID],
			LowPointCount: int(c.Count),
			FlagLevel:     level,
			FlagLabel:     level.Label(),
			Contacts:      badges[c.StudentID],
		})
	}

	// Worst first
	sort.Slice(flags, func(i, j int) bool {
		if flags[i].LowPointCount != flags[j].LowPointCount {
			return flags[i].LowPointCount > flags[j].LowPointCount
		}
		return flags[i].StudentID < flags[j].StudentID
	})

	return &FlagListResponse{
		ClassID: classID,
		TermID:  termID,
		Flags:   flags,
		Total:   len(flags),
	}, nil
}

func (s *flagService) GetStudentFlag(ctx context.Context, studentID, classID, termID uint, userID string) (*StudentFlagResponse, error) {
	if _, err := s.getManagedClass(ctx, classID, userID, "read flags"); err != nil {
		return nil, err
	}

	student, err := s.repo.Reference().GetStudent(ctx, nil, studentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	count, err := s.repo.Grade().CountLowPoints(ctx, nil, studentID, classID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to count low points: %w", err)
	}

	badges, err := s.contactBadges(ctx, []uint{studentID}, termID)
	if err != nil {
		return nil, err
	}

	level := models.FlagLevelForLowPoints(int(count))
	return &StudentFlagResponse{
		StudentID:     studentID,
		StudentName:   student.FullName,
		LowPointCount: int(count),
		FlagLevel:     level,
		FlagLabel:     level.Label(),
		Contacts:      badges[studentID],
	}, nil
}

// ===== PARENT CONTACT TRACKING =====

func (s *flagService) RecordContact(ctx context.Context, req *UpdateContactRequest, userID string) (*models.ParentContact, error) {
	s.logger.Info("Recording parent contact",
		"student_id", req.StudentID, "term_id", req.TermID,
		"contact_type", string(req.ContactType), "user_id", userID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	if err := s.requireStaff(ctx, userID, "record contact"); err != nil {
		return nil, err
	}

	if _, err := s.repo.Reference().GetStudent(ctx, nil, req.StudentID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student: %w", err)
	}

	contact := &models.ParentContact{
		StudentID:   req.StudentID,
		TermID:      req.TermID,
		ContactType: req.ContactType,
		Status:      req.Status,
		Notes:       req.Notes,
		ContactedBy: userID,
	}
	if req.Status != models.ContactPending {
		now := time.Now()
		contact.ContactedAt = &now
	}

	if err := s.repo.Contact().Upsert(ctx, nil, contact); err != nil {
		return nil, fmt.Errorf("failed to record contact: %w", err)
	}

	s.invalidateFlagCaches(ctx)

	return contact, nil
}

func (s *flagService) UpdateContactStatus(ctx context.Context, contactID uint, status models.ContactStatus, userID string) error {
	s.logger.Info("Updating contact status", "contact_id", contactID, "status", string(status), "user_id", userID)

	if status != models.ContactPending && status != models.ContactContacted && status != models.ContactResolved {
		return NewValidationError("status", "must be pending, contacted or resolved", status)
	}

	if err := s.requireStaff(ctx, userID, "update contact"); err != nil {
		return err
	}

	if err := s.repo.Contact().UpdateStatus(ctx, nil, contactID, status); err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrContactNotFound
		}
		return fmt.Errorf("failed to update contact status: %w", err)
	}

	s.invalidateFlagCaches(ctx)

	return nil
}

func (s *flagService) GetContacts(ctx context.Context, studentID, termID uint, userID string) ([]*models.ParentContact, error) {
	if err := s.requireStaff(ctx, userID, "read contacts"); err != nil {
		return nil, err
	}

	contacts, err := s.repo.Contact().GetByStudentTerm(ctx, nil, studentID, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}

	return contacts, nil
}

// ===== HELPERS =====

// contactBadges loads contact records for a set of students in one query
func (s *flagService) contactBadges(ctx context.Context, studentIDs []uint, termID uint) (map[uint][]ContactBadge, error) {
	if len(studentIDs) == 0 {
		return map[uint][]ContactBadge{}, nil
	}

	contacts, err := s.repo.Contact().GetByStudentsTerm(ctx, nil, studentIDs, termID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contacts: %w", err)
	}

	badges := make(map[uint][]ContactBadge)
	for _, c := range contacts {
		badges[c.StudentID] = append(badges[c.StudentID], ContactBadge{
			ContactType: c.ContactType,
			Status:      c.Status,
			ContactedAt: c.ContactedAt,
		})
	}

	return badges, nil
}

func (s *flagService) getManagedClass(ctx context.Context, classID uint, userID, action string) (*models.Class, error) {
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

	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user role: %w", err)
	}
	if user.Role == models.RoleAdmin {
		return class, nil
	}

	return nil, NewPermissionError(userID, classID, "class", action, "not class owner or admin")
}

// requireStaff allows teachers and admins only
func (s *flagService) requireStaff(ctx context.Context, userID, action string) error {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user role: %w", err)
	}
	if user.Role != models.RoleTeacher && user.Role != models.RoleAdmin {
		return NewPermissionError(userID, 0, "contact", action, "insufficient role permissions")
	}
	return nil
}

func (s *flagService) invalidateFlagCaches(ctx context.Context) {
	if err := s.cache.Flags.InvalidatePattern(ctx, "*"); err != nil {
		s.logger.Error("Failed to invalidate flag caches", "error", err)
	}
}
