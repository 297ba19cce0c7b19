// Retriever loads project knowledge documents and answers the two context
// queries the generation engine needs. Both methods are best-effort by
// contract: they return an empty string on any failure and never propagate
// errors, so a broken knowledge base degrades generation quality rather
// than aborting a run.
package knowledge

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/qinyu/go-testgen-backend/internal/repo"
)

// Retriever answers context queries over a project's knowledge documents.
type Retriever struct {
	DB *gorm.DB

	// MaxDocs caps how many documents are loaded per query (most recent
	// first). Zero means the default of 50.
	MaxDocs int

	Log zerolog.Logger
}

// NewRetriever constructs a Retriever with the default document cap.
func NewRetriever(db *gorm.DB, log zerolog.Logger) *Retriever {
	return &Retriever{DB: db, MaxDocs: 50, Log: log}
}

func (r *Retriever) maxDocs() int {
	if r.MaxDocs > 0 {
		return r.MaxDocs
	}
	return 50
}

// RelevantContext returns up to limit knowledge snippets relevant to the
// query, joined by blank lines. Empty string when nothing matches or the
// lookup fails.
func (r *Retriever) RelevantContext(ctx context.Context, query, projectID string, limit int) string {
	docs, err := repo.ListKnowledgeDocuments(ctx, r.DB, projectID, r.maxDocs())
	if err != nil {
		r.Log.Warn().Err(err).Str("project_id", projectID).Msg("knowledge lookup failed")
		return ""
	}
	if len(docs) == 0 {
		return ""
	}

	contents := make([]string, 0, len(docs))
	for _, d := range docs {
		contents = append(contents, d.Content)
	}
	hits := buildCorpus(contents).topK(query, limit)
	if len(hits) == 0 {
		return ""
	}

	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, h.Text)
	}
	return strings.Join(parts, "\n\n")
}

// AllContext returns the concatenated contents of every document in the
// project (up to the document cap), each prefixed by its filename. May be
// large; callers are expected to compress it before prompting.
func (r *Retriever) AllContext(ctx context.Context, projectID string) string {
	docs, err := repo.ListKnowledgeDocuments(ctx, r.DB, projectID, r.maxDocs())
	if err != nil {
		r.Log.Warn().Err(err).Str("project_id", projectID).Msg("knowledge lookup failed")
		return ""
	}
	if len(docs) == 0 {
		return ""
	}

	var b strings.Builder
	for _, d := range docs {
		b.WriteString("## ")
		b.WriteString(d.Filename)
		b.WriteString("\n")
		b.WriteString(d.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
