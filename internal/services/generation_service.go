// Batch orchestrator.
//
// GenerateStream drives the whole run: plan batch sizes from the target
// count, stream one-or-more model calls per batch with bounded retries,
// inject a rolling de-duplication history into every prompt, supplement
// shortfalls, trim overshoot, persist per the requested mode, and emit
// quality metrics. The stream protocol it produces is documented on
// GenerateStream.
//
// The orchestrator owns no shared mutable state: every invocation carries
// its own history, plan, and buffers, so concurrent runs need no locking.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/qinyu/go-testgen-backend/internal/ai"
	"github.com/qinyu/go-testgen-backend/internal/domain"
)

const (
	defaultBatchSize     = 25
	defaultMaxAttempts   = 3
	defaultHistoryWindow = 50
	defaultMaxTokens     = 8192
	supplementRounds     = 3

	statusPrefix = "@@STATUS@@:"
	metricsLine  = "GEN_QM:"
	diagLine     = "GEN_DIAG:"

	logTypeGeneration = "generation"
)

// GenerateRequest is the caller-supplied input for one generation run.
type GenerateRequest struct {
	ProjectID   string
	UserID      string
	Requirement string
	DocType     string
	TargetCount int
	Compress    bool
	Overwrite   bool
	Append      bool
}

// GenerationService orchestrates test-case generation runs.
type GenerationService struct {
	AI       ai.Client
	Store    GenerationStore
	Preparer *ContextPreparer
	Log      zerolog.Logger

	// Tuning knobs; zero values select the defaults.
	BatchSize     int
	MaxAttempts   int
	HistoryWindow int
	MaxTokens     int
}

func (s *GenerationService) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return defaultBatchSize
}

func (s *GenerationService) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return defaultMaxAttempts
}

func (s *GenerationService) historyWindow() int {
	if s.HistoryWindow > 0 {
		return s.HistoryWindow
	}
	return defaultHistoryWindow
}

func (s *GenerationService) maxTokens() int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	return defaultMaxTokens
}

// history is the rolling de-duplication list injected into prompts. It
// only grows within a run; window() returns the most recent entries.
type history struct {
	entries []string
	seen    map[string]struct{}
	limit   int
}

func newHistory(limit int) *history {
	return &history{seen: make(map[string]struct{}), limit: limit}
}

func (h *history) add(cases []domain.TestCase) {
	for _, c := range cases {
		if c.Description == "" {
			continue
		}
		if _, dup := h.seen[c.Description]; dup {
			continue
		}
		h.seen[c.Description] = struct{}{}
		h.entries = append(h.entries, c.Summary())
	}
}

func (h *history) window() []string {
	if len(h.entries) <= h.limit {
		return h.entries
	}
	return h.entries[len(h.entries)-h.limit:]
}

// GenerateStream runs a full generation and writes its output through emit.
//
// Stream protocol, in order: @@STATUS@@:-prefixed progress lines, raw model
// chunks interleaved as produced, a GEN_QM: line with quality metrics and a
// GEN_DIAG: line with run diagnostics near the end, then a terminal status
// line. On a provider failure the last line is the verbatim sentinel text
// instead, after accumulated cases have been persisted.
//
// A non-nil return value only ever originates from emit (the consumer
// stopped reading) or from request validation; generation-level failures
// are reported in-band.
func (s *GenerationService) GenerateStream(ctx context.Context, req GenerateRequest, emit func(chunk string) error) error {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "GenerateStream",
		trace.WithAttributes(
			attribute.String("project.id", req.ProjectID),
			attribute.String("user.id", req.UserID),
			attribute.Int("target_count", req.TargetCount),
			attribute.Bool("append", req.Append),
			attribute.Bool("overwrite", req.Overwrite),
		),
	)
	defer span.End()

	if strings.TrimSpace(req.Requirement) == "" {
		return ErrEmptyRequirement
	}
	if req.TargetCount < 1 {
		return ErrInvalidTargetCount
	}

	existing, existingCases, err := s.loadExisting(ctx, req)
	if err != nil {
		s.Log.Warn().Err(err).Str("project_id", req.ProjectID).Msg("existing generation lookup failed")
	}

	target := req.TargetCount
	preexisting := 0
	hist := newHistory(s.historyWindow())
	if req.Append && existing != nil {
		preexisting = len(existingCases)
		hist.add(existingCases)
		if preexisting >= target {
			// Asking for "more" on an already-met target means one more
			// batch worth.
			target = preexisting + s.batchSize()
		}
	}
	remaining := target - preexisting

	if err := s.status(emit, "preparing context"); err != nil {
		return err
	}
	requirement, support := s.Preparer.Prepare(ctx, req.Requirement, req.ProjectID, req.Compress)

	size := s.batchSize()
	if remaining < size {
		size = remaining
	}
	if size < 1 {
		size = 1
	}
	totalBatches := (remaining + size - 1) / size

	s.Log.Info().
		Str("project_id", req.ProjectID).
		Int("target", target).
		Int("preexisting", preexisting).
		Int("batches", totalBatches).
		Msg("generation run planned")

	var cases []domain.TestCase
	for b := 1; b <= totalBatches && len(cases) < remaining; b++ {
		batchNeed := size
		if left := remaining - len(cases); left < batchNeed {
			batchNeed = left
		}
		if err := s.status(emit, "generating batch %d/%d", b, totalBatches); err != nil {
			return err
		}

		batchGot := 0
		for attempt := 1; attempt <= s.maxAttempts(); attempt++ {
			genBatches.Inc()
			if attempt > 1 {
				genRetries.Inc()
			}
			msgs := buildBatchMessages(promptInput{
				Requirement: requirement,
				Support:     support,
				DocType:     req.DocType,
				Count:       batchNeed - batchGot,
				StartID:     preexisting + len(cases) + batchGot + 1,
				History:     hist.window(),
				BatchNum:    b,
				BatchTotal:  totalBatches,
			})

			text, sentinel, err := s.streamOnce(ctx, msgs, emit)
			if err != nil {
				return err
			}
			if sentinel != "" {
				return s.failRun(ctx, req, emit, cases, existing, preexisting, sentinel)
			}
			if strings.TrimSpace(text) == "" {
				if attempt == s.maxAttempts() {
					return s.failRun(ctx, req, emit, cases, existing, preexisting,
						ai.ErrPrefix+" model returned no content after retries")
				}
				continue
			}

			got := s.parseBatch(text, preexisting+len(cases)+batchGot+1)
			if len(got) == 0 {
				continue
			}
			hist.add(got)
			cases = append(cases, got...)
			batchGot += len(got)
			if batchGot >= batchNeed {
				break
			}
		}
	}

	// Supplement the shortfall with single-shot calls.
	supplements := 0
	for len(cases) < remaining && supplements < supplementRounds {
		supplements++
		shortfall := remaining - len(cases)
		if err := s.status(emit, "supplementing %d cases, round %d/%d", shortfall, supplements, supplementRounds); err != nil {
			return err
		}
		genBatches.Inc()
		msgs := buildSupplementMessages(promptInput{
			Requirement: requirement,
			Support:     support,
			DocType:     req.DocType,
			StartID:     preexisting + len(cases) + 1,
			History:     hist.window(),
		}, shortfall)

		text := s.AI.Generate(ctx, msgs, s.maxTokens())
		if ai.IsProviderError(text) {
			return s.failRun(ctx, req, emit, cases, existing, preexisting, text)
		}
		got := s.parseBatch(text, preexisting+len(cases)+1)
		hist.add(got)
		cases = append(cases, got...)
	}

	if len(cases) == 0 {
		return s.failRun(ctx, req, emit, nil, existing, preexisting,
			ai.ErrPrefix+" no parsable test cases were produced")
	}

	// Trim only the newly generated tail; persisted records are never cut.
	if len(cases) > remaining {
		cases = cases[:remaining]
	}
	cases = RenumberCases(cases, preexisting+1)

	if err := s.status(emit, "persisting %d cases", len(cases)); err != nil {
		return err
	}
	if perr := s.persist(ctx, req, existing, cases); perr != nil {
		s.Log.Error().Err(perr).Str("project_id", req.ProjectID).Msg("generation persistence failed")
		return emit("\n" + ai.ErrPrefix + " failed to persist generated cases: " + perr.Error() + "\n")
	}

	metrics := SummarizeCases(cases)
	qm, _ := json.Marshal(metrics)
	if err := emit("\n" + metricsLine + string(qm) + "\n"); err != nil {
		return err
	}
	diag, _ := json.Marshal(map[string]any{
		"target":      target,
		"preexisting": preexisting,
		"generated":   len(cases),
		"batches":     totalBatches,
		"supplements": supplements,
		"shortfall":   remaining - len(cases),
	})
	if err := emit(diagLine + string(diag) + "\n"); err != nil {
		return err
	}
	s.Store.LogEvent(ctx, req.ProjectID, req.UserID, logTypeGeneration, metricsLine+string(qm))
	s.Store.LogEvent(ctx, req.ProjectID, req.UserID, logTypeGeneration, diagLine+string(diag))

	if len(cases) < remaining {
		genRuns.WithLabelValues(outcomeShortfall).Inc()
		return s.status(emit, "completed with shortfall, %d/%d cases", len(cases), remaining)
	}
	genRuns.WithLabelValues(outcomeCompleted).Inc()
	return s.status(emit, "completed, %d cases", len(cases))
}

// streamOnce performs one streaming call, forwarding every chunk to the
// caller while accumulating the full text. A sentinel chunk is recorded
// and returned after the stream ends; a non-nil error means the consumer
// stopped reading.
func (s *GenerationService) streamOnce(ctx context.Context, msgs []ai.Message, emit func(string) error) (string, string, error) {
	var buf strings.Builder
	sentinel := ""
	err := s.AI.GenerateStream(ctx, msgs, s.maxTokens(), func(chunk string) error {
		if sentinel == "" && ai.IsProviderError(chunk) {
			sentinel = chunk
			return nil
		}
		buf.WriteString(chunk)
		return emit(chunk)
	})
	if err != nil {
		return "", "", err
	}
	return buf.String(), sentinel, nil
}

func (s *GenerationService) parseBatch(text string, startID int) []domain.TestCase {
	v, fail := ParseModelOutput(text)
	if fail != nil {
		s.Log.Warn().Int("raw_len", len(fail.Raw)).Msg("batch output unparsable, retrying")
		return nil
	}
	return NormalizeCases(v, startID)
}

// failRun is the provider-failure exit: persist whatever accumulated,
// then make the verbatim sentinel text the last thing on the stream.
func (s *GenerationService) failRun(ctx context.Context, req GenerateRequest, emit func(string) error,
	cases []domain.TestCase, existing *domain.Generation, preexisting int, sentinel string) error {

	genRuns.WithLabelValues(outcomeFailed).Inc()
	if ai.IsProviderError(sentinel) {
		genProviderErrors.Inc()
	}
	if err := s.status(emit, "generation failed"); err != nil {
		return err
	}
	if len(cases) > 0 {
		cases = RenumberCases(cases, preexisting+1)
		if perr := s.persist(ctx, req, existing, cases); perr != nil {
			s.Log.Error().Err(perr).Msg("partial result persistence failed")
		}
	}
	s.Store.LogEvent(ctx, req.ProjectID, req.UserID, logTypeGeneration, sentinel)
	s.Log.Error().Str("project_id", req.ProjectID).Str("sentinel", sentinel).Msg("generation aborted by provider error")
	return emit("\n" + sentinel)
}

func (s *GenerationService) persist(ctx context.Context, req GenerateRequest, existing *domain.Generation, cases []domain.TestCase) error {
	switch {
	case req.Append && existing != nil:
		return s.Store.MergeAppend(ctx, existing.ID, cases)
	case req.Overwrite && existing != nil:
		payload, err := json.Marshal(cases)
		if err != nil {
			return err
		}
		return s.Store.Replace(ctx, existing.ID, string(payload))
	default:
		payload, err := json.Marshal(cases)
		if err != nil {
			return err
		}
		_, err = s.Store.Create(ctx, req.ProjectID, req.UserID, req.Requirement, string(payload))
		return err
	}
}

// loadExisting locates the record targeted by overwrite/append and decodes
// its stored case list. Create mode skips the lookup entirely.
func (s *GenerationService) loadExisting(ctx context.Context, req GenerateRequest) (*domain.Generation, []domain.TestCase, error) {
	if !req.Overwrite && !req.Append {
		return nil, nil, nil
	}
	g, err := s.Store.FindLatest(ctx, req.ProjectID, req.UserID, req.Requirement)
	if err != nil || g == nil {
		return nil, nil, err
	}
	var cases []domain.TestCase
	if g.GeneratedResult != "" {
		// Corrupt payloads count as empty; the run proceeds.
		_ = json.Unmarshal([]byte(g.GeneratedResult), &cases)
	}
	return g, cases, nil
}

func (s *GenerationService) status(emit func(string) error, format string, args ...any) error {
	return emit(statusPrefix + fmt.Sprintf(format, args...) + "\n")
}

// GenerateOnce is the non-streaming entry point: one model call, parsed
// and normalized, no persistence. Used for previews and small requests.
func (s *GenerationService) GenerateOnce(ctx context.Context, req GenerateRequest) ([]domain.TestCase, error) {
	tr := otel.Tracer("services/GenerationService")
	ctx, span := tr.Start(ctx, "GenerateOnce",
		trace.WithAttributes(
			attribute.String("project.id", req.ProjectID),
			attribute.Int("target_count", req.TargetCount),
		),
	)
	defer span.End()

	if strings.TrimSpace(req.Requirement) == "" {
		return nil, ErrEmptyRequirement
	}
	if req.TargetCount < 1 {
		return nil, ErrInvalidTargetCount
	}
	requirement, support := s.Preparer.Prepare(ctx, req.Requirement, req.ProjectID, req.Compress)

	msgs := buildBatchMessages(promptInput{
		Requirement: requirement,
		Support:     support,
		DocType:     req.DocType,
		Count:       req.TargetCount,
		StartID:     1,
	})
	text := s.AI.Generate(ctx, msgs, s.maxTokens())
	if ai.IsProviderError(text) {
		return nil, &ProviderError{Text: text}
	}
	v, fail := ParseModelOutput(text)
	if fail != nil {
		return nil, ErrUnparsableOutput
	}
	cases := NormalizeCases(v, 1)
	if len(cases) > req.TargetCount {
		cases = cases[:req.TargetCount]
	}
	return RenumberCases(cases, 1), nil
}

const estimateSystemPrompt = `你是一名测试经理。阅读需求后，估算完整覆盖该需求所需的测试用例数量。
只回答一个整数，不要输出其他内容。`

var firstIntRE = regexp.MustCompile(`\d+`)

// defaultEstimate is returned when the model reply contains no integer.
const defaultEstimate = 20

// EstimateCount asks the model how many cases a requirement needs. The
// reply is damped by 10% to counter model inflation and clamped to [5, 100].
func (s *GenerationService) EstimateCount(ctx context.Context, requirement string) (int, error) {
	if strings.TrimSpace(requirement) == "" {
		return 0, ErrEmptyRequirement
	}
	text := s.AI.Generate(ctx, ai.SystemUser(estimateSystemPrompt, requirement), 64)
	if ai.IsProviderError(text) {
		return 0, &ProviderError{Text: text}
	}
	m := firstIntRE.FindString(text)
	if m == "" {
		return defaultEstimate, nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return defaultEstimate, nil
	}
	n = n * 9 / 10
	if n < 5 {
		n = 5
	}
	if n > 100 {
		n = 100
	}
	return n, nil
}
