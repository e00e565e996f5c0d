package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/edutrack/grade-service/internal/models"
	"github.com/edutrack/grade-service/internal/repositories"
	"github.com/edutrack/grade-service/internal/validator"
	"github.com/xuri/excelize/v2"
)

// Worksheet layout shared by upload parsing and template generation.
// One row per grade; student_id and student_name are prefilled by the
// template, student_name is ignored on upload.
var sheetColumns = []string{
	"student_id", "student_name", "topic_id", "subtopic_id",
	"marks_obtained", "total_marks", "work_type", "work_subtype",
	"assessed_date", "homework_submitted", "on_conflict", "notes",
}

const (
	sheetName       = "Grades"
	sheetDateLayout = "2006-01-02"
)

type importService struct {
	grades GradeService
	repo   repositories.Repository
	logger *slog.Logger
}

func NewImportService(grades GradeService, repo repositories.Repository, logger *slog.Logger) ImportService {
	return &importService{
		grades: grades,
		repo:   repo,
		logger: logger,
	}
}

// ===== UPLOAD =====

// ImportGradeSheet parses an uploaded worksheet and runs the rows
// through batch entry. Rows that cannot be parsed fail the upload
// before anything is written.
func (s *importService) ImportGradeSheet(ctx context.Context, reader io.Reader, classID, termID uint, userID string) (*BatchEntryResult, error) {
	s.logger.Info("Importing grade sheet", "class_id", classID, "term_id", termID, "user_id", userID)

	f, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, NewValidationError("file", "is not a readable spreadsheet", nil)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet: %w", err)
	}
	if len(rows) < 2 {
		return nil, NewValidationError("file", "contains no grade rows", nil)
	}

	columns, err := mapColumns(rows[0])
	if err != nil {
		return nil, err
	}

	entries := make([]SubmitGradeRequest, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}

		entry, err := parseGradeRow(row, columns, classID, termID)
		if err != nil {
			return nil, NewValidationError(fmt.Sprintf("row_%d", i+2), err.Error(), nil)
		}
		entries = append(entries, *entry)
	}

	if len(entries) == 0 {
		return nil, NewValidationError("file", "contains no grade rows", nil)
	}

	return s.grades.BatchEntry(ctx, &BatchEntryRequest{
		ClassID: classID,
		TermID:  termID,
		Entries: entries,
	}, userID)
}

// ===== TEMPLATE =====

// GenerateTemplate builds a worksheet prefilled with the class roster
func (s *importService) GenerateTemplate(ctx context.Context, classID, termID uint, userID string) ([]byte, error) {
	s.logger.Info("Generating grade sheet template", "class_id", classID, "term_id", termID)

	if _, err := s.repo.Reference().GetClass(ctx, nil, classID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("failed to get class: %w", err)
	}

	students, err := s.repo.Reference().GetEnrolledStudents(ctx, nil, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to get enrolled students: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create worksheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	for col, name := range sheetColumns {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheetName, cell, name)
	}

	for i, student := range students {
		idCell, _ := excelize.CoordinatesToCellName(1, i+2)
		nameCell, _ := excelize.CoordinatesToCellName(2, i+2)
		f.SetCellValue(sheetName, idCell, student.ID)
		f.SetCellValue(sheetName, nameCell, student.FullName)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write template: %w", err)
	}

	return buf.Bytes(), nil
}

// ===== PARSING HELPERS =====

func mapColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, required := range []string{"student_id", "topic_id", "marks_obtained", "total_marks", "work_type", "work_subtype", "assessed_date"} {
		if _, ok := columns[required]; !ok {
			return nil, NewValidationError("file", fmt.Sprintf("missing column %q", required), nil)
		}
	}

	return columns, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func cellValue(row []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseGradeRow(row []string, columns map[string]int, classID, termID uint) (*SubmitGradeRequest, error) {
	studentID, err := parseUint(cellValue(row, columns, "student_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid student_id: %v", err)
	}

	topicID, err := parseUint(cellValue(row, columns, "topic_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid topic_id: %v", err)
	}

	var subtopicID *uint
	if raw := cellValue(row, columns, "subtopic_id"); raw != "" {
		id, err := parseUint(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid subtopic_id: %v", err)
		}
		subtopicID = &id
	}

	marks, err := strconv.ParseFloat(cellValue(row, columns, "marks_obtained"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid marks_obtained: %v", err)
	}

	total, err := strconv.ParseFloat(cellValue(row, columns, "total_marks"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid total_marks: %v", err)
	}

	assessedDate, err := time.Parse(sheetDateLayout, cellValue(row, columns, "assessed_date"))
	if err != nil {
		return nil, fmt.Errorf("invalid assessed_date, expected %s: %v", sheetDateLayout, err)
	}

	entry := &SubmitGradeRequest{
		StudentID:     studentID,
		ClassID:       classID,
		TermID:        termID,
		TopicID:       topicID,
		SubtopicID:    subtopicID,
		MarksObtained: marks,
		TotalMarks:    total,
		WorkType:      models.WorkType(strings.ToLower(cellValue(row, columns, "work_type"))),
		WorkSubtype:   models.WorkSubtype(strings.ToLower(cellValue(row, columns, "work_subtype"))),
		AssessedDate:  assessedDate,
		OnConflict:    validator.ConflictResolution(strings.ToLower(cellValue(row, columns, "on_conflict"))),
	}

	if raw := cellValue(row, columns, "homework_submitted"); raw != "" {
		submitted, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid homework_submitted: %v", err)
		}
		entry.HomeworkSubmitted = &submitted
	}

	if notes := cellValue(row, columns, "notes"); notes != "" {
		entry.Notes = &notes
	}

	return entry, nil
}

func parseUint(raw string) (uint, error) {
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	if value == 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return uint(value), nil
}
