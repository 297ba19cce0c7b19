// Package repo – log entry persistence.
//
// LogEntry rows are append-only; the generation engine writes GEN_DIAG and
// GEN_QM diagnostic lines through AppendLog so quality signals survive
// beyond the transient output stream.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qinyu/go-testgen-backend/internal/domain"
)

// AppendLog inserts a log entry for a project. logType is a free-form small
// tag ("system", "generation", ...).
func AppendLog(ctx context.Context, db *gorm.DB, projectID, userID, logType, message string) error {
	e := &domain.LogEntry{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		LogType:   logType,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(e).Error
}

// ListLogsPage returns a paginated slice of log entries for a project,
// most recent first.
func ListLogsPage(ctx context.Context, db *gorm.DB, projectID string, offset, limit int) ([]domain.LogEntry, error) {
	var out []domain.LogEntry
	err := db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountLogs returns the total number of log entries stored for a project.
func CountLogs(ctx context.Context, db *gorm.DB, projectID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.LogEntry{}).
		Where("project_id = ?", projectID).
		Count(&total).Error
	return total, err
}
