// Package repo – knowledge document access.
//
// Knowledge documents are owned by the document CRUD surface; the generation
// engine only reads them (through the knowledge.Retriever). CreateKnowledgeDocument
// exists for seeding and tests.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qinyu/go-testgen-backend/internal/domain"
)

// ListKnowledgeDocuments returns up to max documents for a project, most
// recent first. max <= 0 means no limit.
func ListKnowledgeDocuments(ctx context.Context, db *gorm.DB, projectID string, max int) ([]domain.KnowledgeDocument, error) {
	q := db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at desc")
	if max > 0 {
		q = q.Limit(max)
	}
	var out []domain.KnowledgeDocument
	err := q.Find(&out).Error
	return out, err
}

// CreateKnowledgeDocument inserts a knowledge document row.
func CreateKnowledgeDocument(ctx context.Context, db *gorm.DB, projectID, filename, docType, content string) (*domain.KnowledgeDocument, error) {
	d := &domain.KnowledgeDocument{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Filename:  filename,
		DocType:   docType,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}
