// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for persisted
// generation runs.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The orchestrator never touches
// Generation rows directly; it goes through these functions (the persistence
// collaborator contract).
//
// Error semantics:
//   - When a generation is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qinyu/go-testgen-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateGeneration inserts a new generation row with a UUID primary key and
// UTC creation timestamp. On success it returns the persisted row.
func CreateGeneration(ctx context.Context, db *gorm.DB, projectID, userID, requirement, result string) (*domain.Generation, error) {
	g := &domain.Generation{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		UserID:          userID,
		RequirementText: requirement,
		GeneratedResult: result,
		CreatedAt:       time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}

// FindLatestGeneration returns the most recent generation matching the
// project and the exact requirement text. When userID is non-empty the match
// is additionally scoped to that user. Returns ErrNotFound when no row
// matches.
func FindLatestGeneration(ctx context.Context, db *gorm.DB, projectID, userID, requirement string) (*domain.Generation, error) {
	q := db.WithContext(ctx).
		Where("project_id = ? AND requirement_text = ?", projectID, requirement)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var g domain.Generation
	if err := q.Order("created_at desc").First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// ReplaceGenerationResult overwrites the stored result payload of an
// existing generation. Returns ErrNotFound if the row does not exist.
func ReplaceGenerationResult(ctx context.Context, db *gorm.DB, id, result string) error {
	res := db.WithContext(ctx).
		Model(&domain.Generation{}).
		Where("id = ?", id).
		Update("generated_result", result)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeAppendGeneration concatenates extra cases onto the stored list of an
// existing generation. The stored payload is decoded, extended, and written
// back; a payload that does not decode as a list is treated as empty rather
// than surfaced, so a previously failed run can still be appended to.
func MergeAppendGeneration(ctx context.Context, db *gorm.DB, id string, extra []domain.TestCase) error {
	var g domain.Generation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return err
	}

	var existing []domain.TestCase
	if g.GeneratedResult != "" {
		_ = json.Unmarshal([]byte(g.GeneratedResult), &existing)
	}
	merged := append(existing, extra...)

	payload, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).
		Model(&domain.Generation{}).
		Where("id = ?", id).
		Update("generated_result", string(payload)).Error
}

// CountGenerations returns the total number of generation runs stored for a
// project.
func CountGenerations(ctx context.Context, db *gorm.DB, projectID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Generation{}).
		Where("project_id = ?", projectID).
		Count(&total).Error
	return total, err
}

// ListGenerationsPage returns a paginated slice of generation runs for a
// project, most recent first. Use CountGenerations for pagination metadata.
func ListGenerationsPage(ctx context.Context, db *gorm.DB, projectID string, offset, limit int) ([]domain.Generation, error) {
	var out []domain.Generation
	err := db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
