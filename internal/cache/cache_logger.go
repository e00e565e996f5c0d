package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// BatchInvalidate invalidates multiple patterns in batch
func BatchInvalidate(ctx context.Context, helper *CacheHelper, patterns []string) error {
	var lastErr error
	for _, pattern := range patterns {
		if err := helper.InvalidatePattern(ctx, pattern); err != nil {
			lastErr = err
			slog.ErrorContext(ctx, "Failed to invalidate pattern in batch",
				"error", err,
				"pattern", pattern)
		}
	}
	return lastErr
}

// InvalidateGradeCache invalidates every cache a grade write can touch:
// the grade itself, the student's summaries and flags for the term, and
// the dashboard aggregates.
func InvalidateGradeCache(ctx context.Context, cm *CacheManager, gradeID, studentID, classID, termID uint) {
	// Delete specific keys using single call
	SafeDelete(ctx, cm.Grade,
		fmt.Sprintf("id:%d", gradeID),
		fmt.Sprintf("details:%d", gradeID))

	// Invalidate patterns
	SafeInvalidatePattern(ctx, cm.Grade, fmt.Sprintf("student:%d:*", studentID))
	SafeInvalidatePattern(ctx, cm.Grade, "list:*")
	SafeInvalidatePattern(ctx, cm.Summary, fmt.Sprintf("class:%d:term:%d*", classID, termID))
	SafeInvalidatePattern(ctx, cm.Summary, fmt.Sprintf("student:%d:*", studentID))
	SafeInvalidatePattern(ctx, cm.Flags, fmt.Sprintf("class:%d:term:%d*", classID, termID))
	SafeInvalidatePattern(ctx, cm.Dashboard, "*")
}
