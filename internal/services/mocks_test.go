package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// In-memory repository stubs shared by the service tests. They mimic
// the storage semantics the services rely on: the partial unique index
// on the active grade key and gorm's not-found error.

type stubRepository struct {
	grade   *stubGradeRepo
	contact *stubContactRepo
	ref     *stubReferenceRepo
	user    *stubUserRepo
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		grade: &stubGradeRepo{
			grades: make(map[uint]*models.Grade),
		},
		contact: &stubContactRepo{
			contacts: make(map[uint]*models.ParentContact),
		},
		ref: &stubReferenceRepo{
			students:    make(map[uint]*models.Student),
			classes:     make(map[uint]*models.Class),
			terms:       make(map[uint]*models.Term),
			topics:      make(map[uint]*models.Topic),
			subtopics:   make(map[uint]*models.Subtopic),
			courses:     make(map[uint]*models.Course),
			enrollments: make(map[uint][]uint),
		},
		user: &stubUserRepo{
			users: make(map[string]*models.User),
		},
	}
}

// seedTestData fills the reference stubs with the shared fixture: two
// teachers with a class each, one active term, a math course with six
// topics, and three students enrolled in class 1.
func seedTestData(repo *stubRepository) {
	repo.user.users["teacher-1"] = &models.User{ID: "teacher-1", FullName: "Giang Nguyen", Role: models.RoleTeacher}
	repo.user.users["teacher-2"] = &models.User{ID: "teacher-2", FullName: "Minh Tran", Role: models.RoleTeacher}
	repo.user.users["admin-1"] = &models.User{ID: "admin-1", FullName: "Admin", Role: models.RoleAdmin}
	repo.user.users["student-1"] = &models.User{ID: "student-1", FullName: "Student", Role: models.RoleStudent}

	repo.ref.courses[1] = &models.Course{ID: 1, Name: "IGCSE Mathematics"}
	repo.ref.courses[2] = &models.Course{ID: 2, Name: "IGCSE Physics"}
	repo.ref.classes[1] = &models.Class{ID: 1, Name: "Math A1", CourseID: 1, TeacherID: "teacher-1"}
	repo.ref.classes[2] = &models.Class{ID: 2, Name: "Math B2", CourseID: 1, TeacherID: "teacher-2"}
	repo.ref.terms[1] = &models.Term{ID: 1, Name: "Term 1", IsActive: true}

	for i := uint(1); i <= 6; i++ {
		repo.ref.topics[i] = &models.Topic{ID: i, Name: "Topic", CourseID: 1}
	}
	repo.ref.topics[99] = &models.Topic{ID: 99, Name: "Mechanics", CourseID: 2}
	repo.ref.subtopics[11] = &models.Subtopic{ID: 11, Name: "Fractions", TopicID: 1}

	repo.ref.students[1] = &models.Student{ID: 1, FullName: "An Pham"}
	repo.ref.students[2] = &models.Student{ID: 2, FullName: "Binh Le"}
	repo.ref.students[3] = &models.Student{ID: 3, FullName: "Chi Vo"}
	repo.ref.enrollments[1] = []uint{1, 2, 3}
	repo.ref.enrollments[2] = []uint{1}
}

// seedGrade writes a classified grade straight into the grade stub
func seedGrade(repo *stubRepository, studentID, topicID uint, marks, total float64) *models.Grade {
	grade := &models.Grade{
		StudentID:     studentID,
		ClassID:       1,
		CourseID:      1,
		TermID:        1,
		TopicID:       topicID,
		MarksObtained: marks,
		TotalMarks:    total,
		WorkType:      models.WorkClasswork,
		WorkSubtype:   models.SubtypeWorksheet,
		AttemptNumber: 1,
		AssessedDate:  datatypes.Date(time.Now().AddDate(0, 0, -1)),
		RecordedBy:    "teacher-1",
	}
	applyClassification(grade)
	if err := repo.grade.Create(context.Background(), nil, grade); err != nil {
		panic(err)
	}
	return grade
}

func (r *stubRepository) Grade() repositories.GradeRepository         { return r.grade }
func (r *stubRepository) Contact() repositories.ContactRepository     { return r.contact }
func (r *stubRepository) Reference() repositories.ReferenceRepository { return r.ref }
func (r *stubRepository) User() repositories.UserRepository           { return r.user }
func (r *stubRepository) Dashboard() repositories.DashboardRepository { return nil }
func (r *stubRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return fn(r)
}
func (r *stubRepository) Ping(ctx context.Context) error { return nil }
func (r *stubRepository) Close() error                   { return nil }

// ===== GRADE REPO STUB =====

type stubGradeRepo struct {
	mu     sync.Mutex
	nextID uint
	grades map[uint]*models.Grade
}

func keyMatches(g *models.Grade, key models.GradeKey) bool {
	if g.StudentID != key.StudentID || g.ClassID != key.ClassID ||
		g.TermID != key.TermID || g.TopicID != key.TopicID {
		return false
	}
	if key.SubtopicID == nil {
		return g.SubtopicID == nil
	}
	return g.SubtopicID != nil && *g.SubtopicID == *key.SubtopicID
}

func (r *stubGradeRepo) Create(ctx context.Context, tx *gorm.DB, grade *models.Grade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if grade.IsActive() {
		for _, existing := range r.grades {
			if existing.IsActive() && keyMatches(existing, grade.Key()) {
				return gorm.ErrDuplicatedKey
			}
		}
	}

	r.nextID++
	grade.ID = r.nextID
	grade.CreatedAt = time.Now()
	copied := *grade
	r.grades[grade.ID] = &copied
	return nil
}

func (r *stubGradeRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Grade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	grade, ok := r.grades[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *grade
	return &copied, nil
}

func (r *stubGradeRepo) GetByIDWithDetails(ctx context.Context, tx *gorm.DB, id uint) (*models.Grade, error) {
	return r.GetByID(ctx, tx, id)
}

func (r *stubGradeRepo) Update(ctx context.Context, tx *gorm.DB, grade *models.Grade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.grades[grade.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	copied := *grade
	r.grades[grade.ID] = &copied
	return nil
}

func (r *stubGradeRepo) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.grades[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.grades, id)
	return nil
}

func (r *stubGradeRepo) GetSetForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) ([]*models.Grade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var set []*models.Grade
	for _, g := range r.grades {
		if keyMatches(g, key) {
			copied := *g
			set = append(set, &copied)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i].AttemptNumber > set[j].AttemptNumber })
	return set, nil
}

func (r *stubGradeRepo) GetActiveForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) (*models.Grade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.grades {
		if g.IsActive() && keyMatches(g, key) {
			copied := *g
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubGradeRepo) DeleteSetForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, g := range r.grades {
		if keyMatches(g, key) {
			delete(r.grades, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *stubGradeRepo) GetRetakeChain(ctx context.Context, tx *gorm.DB, originalID uint) ([]*models.Grade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chain []*models.Grade
	for _, g := range r.grades {
		if g.OriginalGradeID != nil && *g.OriginalGradeID == originalID {
			copied := *g
			chain = append(chain, &copied)
		}
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].AttemptNumber < chain[j].AttemptNumber })
	return chain, nil
}

func (r *stubGradeRepo) NullifyOriginalRefs(ctx context.Context, tx *gorm.DB, originalID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.grades {
		if g.OriginalGradeID != nil && *g.OriginalGradeID == originalID {
			g.OriginalGradeID = nil
		}
	}
	return nil
}

func (r *stubGradeRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.GradeFilters) ([]*models.Grade, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var grades []*models.Grade
	for _, g := range r.grades {
		if filters.StudentID != nil && g.StudentID != *filters.StudentID {
			continue
		}
		if filters.ClassID != nil && g.ClassID != *filters.ClassID {
			continue
		}
		if filters.TermID != nil && g.TermID != *filters.TermID {
			continue
		}
		if filters.IsLowPoint != nil && g.IsLowPoint != *filters.IsLowPoint {
			continue
		}
		if filters.RecordedBy != nil && g.RecordedBy != *filters.RecordedBy {
			continue
		}
		copied := *g
		grades = append(grades, &copied)
	}
	sort.Slice(grades, func(i, j int) bool { return grades[i].ID < grades[j].ID })
	return grades, int64(len(grades)), nil
}

func (r *stubGradeRepo) GetByStudentTerm(ctx context.Context, tx *gorm.DB, studentID, classID, termID uint) ([]*models.Grade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var grades []*models.Grade
	for _, g := range r.grades {
		if g.StudentID == studentID && g.ClassID == classID && g.TermID == termID {
			copied := *g
			grades = append(grades, &copied)
		}
	}
	sort.Slice(grades, func(i, j int) bool { return grades[i].ID < grades[j].ID })
	return grades, nil
}

func (r *stubGradeRepo) GetByClassTerm(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]*models.Grade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var grades []*models.Grade
	for _, g := range r.grades {
		if g.ClassID == classID && g.TermID == termID {
			copied := *g
			grades = append(grades, &copied)
		}
	}
	sort.Slice(grades, func(i, j int) bool { return grades[i].ID < grades[j].ID })
	return grades, nil
}

func (r *stubGradeRepo) CountLowPoints(ctx context.Context, tx *gorm.DB, studentID, classID, termID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, g := range r.grades {
		if g.StudentID == studentID && g.ClassID == classID && g.TermID == termID && g.IsLowPoint {
			count++
		}
	}
	return count, nil
}

func (r *stubGradeRepo) CountLowPointsByStudent(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]repositories.LowPointCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[uint]int64)
	for _, g := range r.grades {
		if g.ClassID == classID && g.TermID == termID && g.IsLowPoint {
			counts[g.StudentID]++
		}
	}

	var results []repositories.LowPointCount
	for studentID, count := range counts {
		results = append(results, repositories.LowPointCount{StudentID: studentID, ClassID: classID, Count: count})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StudentID < results[j].StudentID })
	return results, nil
}

func (r *stubGradeRepo) GetStudentTermStats(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]repositories.StudentTermStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type agg struct {
		count  int64
		low    int64
		sumPct float64
		latest time.Time
	}
	byStudent := make(map[uint]*agg)
	for _, g := range r.grades {
		if g.ClassID != classID || g.TermID != termID {
			continue
		}
		a, ok := byStudent[g.StudentID]
		if !ok {
			a = &agg{}
			byStudent[g.StudentID] = a
		}
		a.count++
		a.sumPct += float64(g.Percentage)
		if g.IsLowPoint {
			a.low++
		}
		assessed := time.Time(g.AssessedDate)
		if assessed.After(a.latest) {
			a.latest = assessed
		}
	}

	var results []repositories.StudentTermStats
	for studentID, a := range byStudent {
		latest := a.latest
		results = append(results, repositories.StudentTermStats{
			StudentID:         studentID,
			GradeCount:        a.count,
			LowPointCount:     a.low,
			AveragePercentage: a.sumPct / float64(a.count),
			LatestAssessed:    &latest,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StudentID < results[j].StudentID })
	return results, nil
}

func (r *stubGradeRepo) GetTopicCoverage(ctx context.Context, tx *gorm.DB, classID, termID uint) ([]repositories.TopicCoverage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make(map[uint]map[uint]struct{})
	subtopics := make(map[uint]map[uint]struct{})
	for _, g := range r.grades {
		if g.ClassID != classID || g.TermID != termID {
			continue
		}
		if topics[g.StudentID] == nil {
			topics[g.StudentID] = make(map[uint]struct{})
			subtopics[g.StudentID] = make(map[uint]struct{})
		}
		topics[g.StudentID][g.TopicID] = struct{}{}
		if g.SubtopicID != nil {
			subtopics[g.StudentID][*g.SubtopicID] = struct{}{}
		}
	}

	var results []repositories.TopicCoverage
	for studentID, t := range topics {
		results = append(results, repositories.TopicCoverage{
			StudentID:     studentID,
			TopicsGraded:  int64(len(t)),
			SubtopicCount: int64(len(subtopics[studentID])),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StudentID < results[j].StudentID })
	return results, nil
}

func (r *stubGradeRepo) ExistsActiveForKey(ctx context.Context, tx *gorm.DB, key models.GradeKey) (bool, error) {
	_, err := r.GetActiveForKey(ctx, tx, key)
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ===== CONTACT REPO STUB =====

type stubContactRepo struct {
	mu       sync.Mutex
	nextID   uint
	contacts map[uint]*models.ParentContact
}

func (r *stubContactRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ParentContact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contact, ok := r.contacts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *contact
	return &copied, nil
}

func (r *stubContactRepo) GetByStudentTerm(ctx context.Context, tx *gorm.DB, studentID, termID uint) ([]*models.ParentContact, error) {
	return r.GetByStudentsTerm(ctx, tx, []uint{studentID}, termID)
}

func (r *stubContactRepo) GetByStudentsTerm(ctx context.Context, tx *gorm.DB, studentIDs []uint, termID uint) ([]*models.ParentContact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[uint]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		wanted[id] = struct{}{}
	}

	var contacts []*models.ParentContact
	for _, c := range r.contacts {
		if _, ok := wanted[c.StudentID]; ok && c.TermID == termID {
			copied := *c
			contacts = append(contacts, &copied)
		}
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })
	return contacts, nil
}

func (r *stubContactRepo) List(ctx context.Context, tx *gorm.DB, filters repositories.ContactFilters) ([]*models.ParentContact, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var contacts []*models.ParentContact
	for _, c := range r.contacts {
		copied := *c
		contacts = append(contacts, &copied)
	}
	return contacts, int64(len(contacts)), nil
}

func (r *stubContactRepo) Upsert(ctx context.Context, tx *gorm.DB, contact *models.ParentContact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.contacts {
		if existing.StudentID == contact.StudentID && existing.TermID == contact.TermID &&
			existing.ContactType == contact.ContactType {
			contact.ID = existing.ID
			copied := *contact
			r.contacts[existing.ID] = &copied
			return nil
		}
	}

	r.nextID++
	contact.ID = r.nextID
	copied := *contact
	r.contacts[contact.ID] = &copied
	return nil
}

func (r *stubContactRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.ContactStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	contact, ok := r.contacts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	contact.Status = status
	return nil
}

// ===== REFERENCE REPO STUB =====

type stubReferenceRepo struct {
	students    map[uint]*models.Student
	classes     map[uint]*models.Class
	terms       map[uint]*models.Term
	topics      map[uint]*models.Topic
	subtopics   map[uint]*models.Subtopic
	courses     map[uint]*models.Course
	enrollments map[uint][]uint // classID -> studentIDs
}

func (r *stubReferenceRepo) GetStudent(ctx context.Context, tx *gorm.DB, id uint) (*models.Student, error) {
	student, ok := r.students[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return student, nil
}

func (r *stubReferenceRepo) GetStudentsByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Student, error) {
	var students []*models.Student
	for _, id := range ids {
		if s, ok := r.students[id]; ok {
			students = append(students, s)
		}
	}
	return students, nil
}

func (r *stubReferenceRepo) GetClass(ctx context.Context, tx *gorm.DB, id uint) (*models.Class, error) {
	class, ok := r.classes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return class, nil
}

func (r *stubReferenceRepo) GetClassesByTeacher(ctx context.Context, tx *gorm.DB, teacherID string) ([]*models.Class, error) {
	var classes []*models.Class
	for _, c := range r.classes {
		if c.TeacherID == teacherID {
			classes = append(classes, c)
		}
	}
	return classes, nil
}

func (r *stubReferenceRepo) GetEnrolledStudents(ctx context.Context, tx *gorm.DB, classID uint) ([]*models.Student, error) {
	var students []*models.Student
	for _, id := range r.enrollments[classID] {
		if s, ok := r.students[id]; ok {
			students = append(students, s)
		}
	}
	return students, nil
}

func (r *stubReferenceRepo) IsEnrolled(ctx context.Context, tx *gorm.DB, studentID, classID uint) (bool, error) {
	for _, id := range r.enrollments[classID] {
		if id == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (r *stubReferenceRepo) GetTerm(ctx context.Context, tx *gorm.DB, id uint) (*models.Term, error) {
	term, ok := r.terms[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return term, nil
}

func (r *stubReferenceRepo) GetActiveTerm(ctx context.Context, tx *gorm.DB) (*models.Term, error) {
	for _, t := range r.terms {
		if t.IsActive {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubReferenceRepo) GetTopic(ctx context.Context, tx *gorm.DB, id uint) (*models.Topic, error) {
	topic, ok := r.topics[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return topic, nil
}

func (r *stubReferenceRepo) GetSubtopic(ctx context.Context, tx *gorm.DB, id uint) (*models.Subtopic, error) {
	subtopic, ok := r.subtopics[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return subtopic, nil
}

func (r *stubReferenceRepo) GetTopicsByCourse(ctx context.Context, tx *gorm.DB, courseID uint) ([]*models.Topic, error) {
	var topics []*models.Topic
	for _, t := range r.topics {
		if t.CourseID == courseID {
			topics = append(topics, t)
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].ID < topics[j].ID })
	return topics, nil
}

func (r *stubReferenceRepo) GetCourse(ctx context.Context, tx *gorm.DB, id uint) (*models.Course, error) {
	course, ok := r.courses[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return course, nil
}

func (r *stubReferenceRepo) CountTopicsByCourse(ctx context.Context, tx *gorm.DB, courseID uint) (int64, error) {
	var count int64
	for _, t := range r.topics {
		if t.CourseID == courseID {
			count++
		}
	}
	return count, nil
}

// ===== USER REPO STUB =====

type stubUserRepo struct {
	users map[string]*models.User
}

func (r *stubUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (r *stubUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUserRepo) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	var users []*models.User
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *stubUserRepo) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	var users []*models.User
	for _, u := range r.users {
		users = append(users, u)
	}
	return users, int64(len(users)), nil
}

func (r *stubUserRepo) Search(ctx context.Context, query string, filters repositories.UserFilters) ([]*models.User, int64, error) {
	var users []*models.User
	for _, u := range r.users {
		if strings.Contains(strings.ToLower(u.FullName), strings.ToLower(query)) {
			users = append(users, u)
		}
	}
	return users, int64(len(users)), nil
}
