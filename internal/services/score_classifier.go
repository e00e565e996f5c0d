package services

import (
	"math"

	"github.com/edutrack/grade-service/internal/models"
)

// Score classification is deliberately pure: every path that records or
// edits a grade funnels through these functions so the stored
// percentage and low-point flag can never disagree.

// ComputePercentage converts raw marks to a whole percentage, rounding
// half up (66.5 becomes 67). Total marks must be validated positive
// before calling.
func ComputePercentage(marksObtained, totalMarks float64) int {
	return int(math.Floor(marksObtained/totalMarks*100 + 0.5))
}

// IsLowPoint reports whether a percentage falls below the threshold.
// Exactly the threshold is not a low point.
func IsLowPoint(percentage int) bool {
	return percentage < models.LowPointThreshold
}

// ClassifyScore computes both classification outputs in one call
func ClassifyScore(marksObtained, totalMarks float64) (percentage int, isLowPoint bool) {
	percentage = ComputePercentage(marksObtained, totalMarks)
	return percentage, IsLowPoint(percentage)
}

// applyClassification stamps the computed classification onto a grade
func applyClassification(grade *models.Grade) {
	grade.Percentage, grade.IsLowPoint = ClassifyScore(grade.MarksObtained, grade.TotalMarks)
}
