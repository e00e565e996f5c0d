package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/edutrack/grade-service/internal/cache"
	"github.com/edutrack/grade-service/internal/repositories"
	"gorm.io/gorm"
)

// stubDashboardRepo serves canned aggregates
type stubDashboardRepo struct {
	students  int64
	classes   int64
	grades    int64
	lowPoints int64
	average   float64

	performance      []repositories.ClassPerformanceData
	activity         []repositories.TeacherActivityData
	subjectBreakdown []repositories.SubjectLowPointRow
	distribution     []repositories.ScoreBandData
	trends           []repositories.GradingTrendData
	recent           []repositories.RecentGradeData
}

func (r *stubDashboardRepo) GetTotalStudents(ctx context.Context, tx *gorm.DB) (int64, error) {
	return r.students, nil
}
func (r *stubDashboardRepo) GetTotalClasses(ctx context.Context, tx *gorm.DB) (int64, error) {
	return r.classes, nil
}
func (r *stubDashboardRepo) GetTotalGrades(ctx context.Context, tx *gorm.DB, termID uint) (int64, error) {
	return r.grades, nil
}
func (r *stubDashboardRepo) GetTotalLowPoints(ctx context.Context, tx *gorm.DB, termID uint) (int64, error) {
	return r.lowPoints, nil
}
func (r *stubDashboardRepo) GetAveragePercentage(ctx context.Context, tx *gorm.DB, termID uint) (float64, error) {
	return r.average, nil
}
func (r *stubDashboardRepo) GetClassPerformance(ctx context.Context, tx *gorm.DB, termID uint, limit int) ([]repositories.ClassPerformanceData, error) {
	if limit < len(r.performance) {
		return r.performance[:limit], nil
	}
	return r.performance, nil
}
func (r *stubDashboardRepo) GetTeacherActivity(ctx context.Context, tx *gorm.DB, termID uint, limit int) ([]repositories.TeacherActivityData, error) {
	return r.activity, nil
}
func (r *stubDashboardRepo) GetSubjectLowPointBreakdown(ctx context.Context, tx *gorm.DB, termID uint) ([]repositories.SubjectLowPointRow, error) {
	return r.subjectBreakdown, nil
}
func (r *stubDashboardRepo) GetScoreDistribution(ctx context.Context, tx *gorm.DB, termID uint) ([]repositories.ScoreBandData, error) {
	return r.distribution, nil
}
func (r *stubDashboardRepo) GetGradingTrends(ctx context.Context, tx *gorm.DB, termID uint, period string) ([]repositories.GradingTrendData, error) {
	return r.trends, nil
}
func (r *stubDashboardRepo) GetRecentGrades(ctx context.Context, tx *gorm.DB, limit int) ([]repositories.RecentGradeData, error) {
	return r.recent, nil
}

type dashboardStubRepository struct {
	*stubRepository
	dashboard *stubDashboardRepo
}

func (r *dashboardStubRepository) Dashboard() repositories.DashboardRepository {
	return r.dashboard
}

func newDashboardTestEnv(t *testing.T) (DashboardService, *stubDashboardRepo) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := newStubRepository()
	seedTestData(base)

	dashboard := &stubDashboardRepo{}
	repo := &dashboardStubRepository{stubRepository: base, dashboard: dashboard}

	service := NewDashboardService(repo, nil, logger, cache.NewCacheManager(nil))
	return service, dashboard
}

func TestDashboardService_GetDashboardStats(t *testing.T) {
	ctx := context.Background()
	service, dashboard := newDashboardTestEnv(t)

	dashboard.students = 120
	dashboard.classes = 8
	dashboard.grades = 640
	dashboard.lowPoints = 96
	dashboard.average = 81.256

	// Term 0 resolves to the active term
	stats, err := service.GetDashboardStats(ctx, 0)
	if err != nil {
		t.Fatalf("GetDashboardStats failed: %v", err)
	}

	if stats.TermID != 1 {
		t.Errorf("Expected active term 1, got %d", stats.TermID)
	}
	if stats.Overview.TotalStudents != 120 || stats.Overview.TotalGrades != 640 {
		t.Errorf("Unexpected overview: %+v", stats.Overview)
	}
	if stats.Metrics.AveragePercentage != 81.3 {
		t.Errorf("Expected rounded average 81.3, got %v", stats.Metrics.AveragePercentage)
	}
	// 96/640 = 15%
	if stats.Metrics.LowPointRate != 15.0 {
		t.Errorf("Expected low point rate 15.0, got %v", stats.Metrics.LowPointRate)
	}
}

func TestDashboardService_GetDashboardStats_UnknownTerm(t *testing.T) {
	ctx := context.Background()
	service, _ := newDashboardTestEnv(t)

	if _, err := service.GetDashboardStats(ctx, 404); !errors.Is(err, ErrTermNotFound) {
		t.Errorf("Expected term not found, got %v", err)
	}
}

func TestDashboardService_GetClassPerformance(t *testing.T) {
	ctx := context.Background()
	service, dashboard := newDashboardTestEnv(t)

	dashboard.performance = []repositories.ClassPerformanceData{
		{ClassID: 1, ClassName: "Math A1", SubjectName: "Mathematics", StudentCount: 20, GradeCount: 110, AveragePercentage: 84.27, LowPointRate: 9.99},
		{ClassID: 2, ClassName: "Math B2", SubjectName: "Mathematics", StudentCount: 18, GradeCount: 95, AveragePercentage: 72.5, LowPointRate: 28.4},
	}

	res, err := service.GetClassPerformance(ctx, 1, 10)
	if err != nil {
		t.Fatalf("GetClassPerformance failed: %v", err)
	}

	if len(res) != 2 {
		t.Fatalf("Expected 2 classes, got %d", len(res))
	}
	if res[0].AveragePercentage != 84.3 {
		t.Errorf("Expected rounded 84.3, got %v", res[0].AveragePercentage)
	}
	if res[1].LowPointRate != 28.4 {
		t.Errorf("Expected 28.4, got %v", res[1].LowPointRate)
	}
}

func TestDashboardService_GetScoreDistribution(t *testing.T) {
	ctx := context.Background()
	service, dashboard := newDashboardTestEnv(t)

	dashboard.distribution = []repositories.ScoreBandData{
		{Band: "below_60", Count: 40, Percentage: 10.04},
		{Band: "60_to_79", Count: 120, Percentage: 30.12},
		{Band: "80_and_above", Count: 238, Percentage: 59.84},
	}

	res, err := service.GetScoreDistribution(ctx, 1)
	if err != nil {
		t.Fatalf("GetScoreDistribution failed: %v", err)
	}

	if len(res) != 3 {
		t.Fatalf("Expected 3 bands, got %d", len(res))
	}
	if res[0].Name != "Dưới 60%" {
		t.Errorf("Unexpected band name %q", res[0].Name)
	}
	if res[2].Name != "Từ 80% trở lên" {
		t.Errorf("Unexpected band name %q", res[2].Name)
	}
	if res[1].Percentage != 30.1 {
		t.Errorf("Expected rounded 30.1, got %v", res[1].Percentage)
	}
}

func TestDashboardService_GetGradingTrends(t *testing.T) {
	ctx := context.Background()
	service, dashboard := newDashboardTestEnv(t)

	dashboard.trends = []repositories.GradingTrendData{
		{Period: "2026-07", Grades: 300, LowPoints: 45, AveragePercentage: 80.55},
		{Period: "2026-08", Grades: 340, LowPoints: 51, AveragePercentage: 79.94},
	}

	res, err := service.GetGradingTrends(ctx, 1, "")
	if err != nil {
		t.Fatalf("GetGradingTrends failed: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("Expected 2 periods, got %d", len(res))
	}
	if res[0].AveragePercentage != 80.6 {
		t.Errorf("Expected rounded 80.6, got %v", res[0].AveragePercentage)
	}

	if _, err := service.GetGradingTrends(ctx, 1, "decade"); !errors.Is(err, ErrValidationFailed) {
		t.Errorf("Expected validation error for bad period, got %v", err)
	}
}

func TestDashboardService_GetSubjectFlags(t *testing.T) {
	ctx := context.Background()
	service, dashboard := newDashboardTestEnv(t)

	// Mathematics: students 1 and 2 are flagged, student 3 sits below
	// the first breakpoint. Physics: student 1 is flagged in two
	// classes and must count once but contribute both levels.
	dashboard.subjectBreakdown = []repositories.SubjectLowPointRow{
		{SubjectID: 1, SubjectName: "Mathematics", StudentID: 1, LowPoints: 3},
		{SubjectID: 1, SubjectName: "Mathematics", StudentID: 2, LowPoints: 6},
		{SubjectID: 1, SubjectName: "Mathematics", StudentID: 3, LowPoints: 1},
		{SubjectID: 2, SubjectName: "Physics", StudentID: 1, LowPoints: 4},
		{SubjectID: 2, SubjectName: "Physics", StudentID: 1, LowPoints: 3},
	}

	res, err := service.GetSubjectFlags(ctx, 1)
	if err != nil {
		t.Fatalf("GetSubjectFlags failed: %v", err)
	}

	if len(res) != 2 {
		t.Fatalf("Expected 2 subjects, got %d", len(res))
	}

	// Mathematics leads with two flagged students
	math := res[0]
	if math.SubjectName != "Mathematics" {
		t.Fatalf("Expected Mathematics first, got %q", math.SubjectName)
	}
	if math.FlaggedStudents != 2 {
		t.Errorf("Expected 2 flagged students, got %d", math.FlaggedStudents)
	}
	// 3 low points is level 1, 6 is level 3
	if math.TotalFlagLevel != 4 {
		t.Errorf("Expected total flag level 4, got %d", math.TotalFlagLevel)
	}

	physics := res[1]
	if physics.FlaggedStudents != 1 {
		t.Errorf("Expected 1 distinct flagged student, got %d", physics.FlaggedStudents)
	}
	// Levels 2 and 1 from the two classes
	if physics.TotalFlagLevel != 3 {
		t.Errorf("Expected total flag level 3, got %d", physics.TotalFlagLevel)
	}
}

func TestDashboardService_GetTeacherActivity(t *testing.T) {
	ctx := context.Background()
	service, dashboard := newDashboardTestEnv(t)

	lastEntry := time.Now().Add(-2 * time.Hour)
	dashboard.activity = []repositories.TeacherActivityData{
		{TeacherID: "teacher-1", TeacherName: "Giang Nguyen", GradesEntered: 75, ClassCount: 2, LastEntry: &lastEntry},
		{TeacherID: "teacher-2", TeacherName: "Minh Tran", GradesEntered: 0, ClassCount: 1},
	}

	res, err := service.GetTeacherActivity(ctx, 1, 10)
	if err != nil {
		t.Fatalf("GetTeacherActivity failed: %v", err)
	}

	if len(res) != 2 {
		t.Fatalf("Expected 2 teachers, got %d", len(res))
	}
	if res[0].LastEntryAgo == "" {
		t.Error("Expected a relative timestamp for the active teacher")
	}
	if res[1].LastEntryAgo != "" {
		t.Error("Teacher with no entries should have no relative timestamp")
	}
}

func TestRoundFloat(t *testing.T) {
	tests := []struct {
		val       float64
		precision int
		expected  float64
	}{
		{81.256, 1, 81.3},
		{81.24, 1, 81.2},
		{79.666, 2, 79.67},
		{15.0, 1, 15.0},
		{0, 2, 0},
	}

	for _, tt := range tests {
		if got := roundFloat(tt.val, tt.precision); got != tt.expected {
			t.Errorf("roundFloat(%v, %d) = %v, want %v", tt.val, tt.precision, got, tt.expected)
		}
	}
}

func TestGetScoreBandName(t *testing.T) {
	if got := getScoreBandName("below_60"); got != "Dưới 60%" {
		t.Errorf("Unexpected name %q", got)
	}
	if got := getScoreBandName("unknown_band"); got != "unknown_band" {
		t.Errorf("Unknown band should pass through, got %q", got)
	}
}
