// Context preparer.
//
// Before each generation run the requirement text and the project's
// supporting knowledge are shaped to fit the model's context window: either
// compressed through the AI client or narrowed by semantic retrieval. Every
// step here is advisory. A failed compression or lookup degrades to the
// best text available and the run proceeds.
package services

import (
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/qinyu/go-testgen-backend/internal/ai"
)

// ContextRetriever is the slice of the knowledge capability the preparer
// needs: targeted snippet retrieval and whole-project concatenation.
type ContextRetriever interface {
	RelevantContext(ctx context.Context, query, projectID string, limit int) string
	AllContext(ctx context.Context, projectID string) string
}

const (
	// defaultCompressThreshold is the character count above which prepared
	// text gets one extra compression pass as a safety valve.
	defaultCompressThreshold = 120000

	retrievalQueryRunes = 200
	retrievalSnippets   = 3

	knowledgeCompressInstruction = "压缩以下项目知识库内容，保留所有功能点、业务规则和约束条件，去除重复和无关信息。" +
		"Compress the following project knowledge, preserving every feature, business rule and constraint."
	requirementCompressInstruction = "压缩以下需求描述，保留所有可测试的功能点和验收标准。" +
		"Compress the following requirement, preserving every testable behavior and acceptance criterion."
)

// ContextPreparer produces the requirement and supporting-context strings
// fed into generation prompts.
type ContextPreparer struct {
	AI        ai.Client
	Retriever ContextRetriever

	// CompressThreshold overrides the safety-valve character limit; zero
	// means the default.
	CompressThreshold int

	Log zerolog.Logger
}

func (p *ContextPreparer) threshold() int {
	if p.CompressThreshold > 0 {
		return p.CompressThreshold
	}
	return defaultCompressThreshold
}

// Prepare returns the (possibly compressed) requirement and supporting
// context for one run. It never fails; on every error path it falls back
// to the original or retrieved text.
func (p *ContextPreparer) Prepare(ctx context.Context, requirement, projectID string, compress bool) (string, string) {
	var support string
	if compress {
		support = p.compressedKnowledge(ctx, projectID)
		requirement = p.compressOrKeep(ctx, requirement, requirementCompressInstruction)
	} else {
		support = p.retrieve(ctx, requirement, projectID)
	}

	// Safety valve: one more pass when still oversized, original kept on
	// failure.
	if utf8.RuneCountInString(requirement) > p.threshold() {
		requirement = p.compressOrKeep(ctx, requirement, requirementCompressInstruction)
	}
	if utf8.RuneCountInString(support) > p.threshold() {
		support = p.compressOrKeep(ctx, support, knowledgeCompressInstruction)
	}
	return requirement, support
}

// compressedKnowledge compresses the whole project knowledge base, falling
// back to targeted retrieval when the base is empty or compression yields a
// provider error.
func (p *ContextPreparer) compressedKnowledge(ctx context.Context, projectID string) string {
	full := p.Retriever.AllContext(ctx, projectID)
	if full == "" {
		return ""
	}
	out := p.AI.Compress(ctx, full, knowledgeCompressInstruction)
	if out == "" || ai.IsProviderError(out) {
		p.Log.Warn().Str("project_id", projectID).Msg("knowledge compression failed, falling back to retrieval")
		return p.Retriever.RelevantContext(ctx, queryPrefix(full), projectID, retrievalSnippets)
	}
	return out
}

func (p *ContextPreparer) compressOrKeep(ctx context.Context, text, instruction string) string {
	if text == "" {
		return text
	}
	out := p.AI.Compress(ctx, text, instruction)
	if out == "" || ai.IsProviderError(out) {
		p.Log.Warn().Msg("compression failed, keeping original text")
		return text
	}
	return out
}

func (p *ContextPreparer) retrieve(ctx context.Context, requirement, projectID string) string {
	return p.Retriever.RelevantContext(ctx, queryPrefix(requirement), projectID, retrievalSnippets)
}

// queryPrefix trims the requirement to a retrieval-sized query.
func queryPrefix(s string) string {
	runes := []rune(s)
	if len(runes) <= retrievalQueryRunes {
		return s
	}
	return string(runes[:retrievalQueryRunes])
}
