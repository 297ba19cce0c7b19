// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/qinyu/go-testgen-backend/internal/domain"
)

// GenerationsStats returns aggregate metadata for a project's generation
// runs: the total number of rows and the maximum CreatedAt timestamp among
// those rows.
//
// It executes two lightweight queries against the generations table scoped
// to the provided projectID. When the project has no runs, the returned
// count is 0 and maxCreatedAt is nil.
func GenerationsStats(ctx context.Context, db *gorm.DB, projectID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Generation{}).Where("project_id = ?", projectID)

	// Count
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest created_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
