package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/qinyu/go-testgen-backend/internal/domain"
	"github.com/qinyu/go-testgen-backend/internal/repo"
)

// GenerationStore is the persistence collaborator contract consumed by the
// orchestrator. The orchestrator never talks to the database directly; the
// overwrite/append lookups and writes all go through this interface.
type GenerationStore interface {
	// FindLatest returns the most recent generation matching project and
	// exact requirement text, or (nil, nil) when none exists.
	FindLatest(ctx context.Context, projectID, userID, requirement string) (*domain.Generation, error)

	Create(ctx context.Context, projectID, userID, requirement, result string) (*domain.Generation, error)
	Replace(ctx context.Context, id, result string) error
	MergeAppend(ctx context.Context, id string, extra []domain.TestCase) error

	// LogEvent records a diagnostic line for the project. Best-effort;
	// implementations swallow their own errors.
	LogEvent(ctx context.Context, projectID, userID, logType, message string)
}

// GormStore backs GenerationStore with the repo package.
type GormStore struct {
	DB *gorm.DB
}

var _ GenerationStore = (*GormStore)(nil)

func (s *GormStore) FindLatest(ctx context.Context, projectID, userID, requirement string) (*domain.Generation, error) {
	g, err := repo.FindLatestGeneration(ctx, s.DB, projectID, userID, requirement)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return g, err
}

func (s *GormStore) Create(ctx context.Context, projectID, userID, requirement, result string) (*domain.Generation, error) {
	return repo.CreateGeneration(ctx, s.DB, projectID, userID, requirement, result)
}

func (s *GormStore) Replace(ctx context.Context, id, result string) error {
	return repo.ReplaceGenerationResult(ctx, s.DB, id, result)
}

func (s *GormStore) MergeAppend(ctx context.Context, id string, extra []domain.TestCase) error {
	return repo.MergeAppendGeneration(ctx, s.DB, id, extra)
}

func (s *GormStore) LogEvent(ctx context.Context, projectID, userID, logType, message string) {
	_ = repo.AppendLog(ctx, s.DB, projectID, userID, logType, message)
}
