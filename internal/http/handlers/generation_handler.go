// Generation HTTP handlers.
//
// This file exposes the test-generation endpoints:
//   - POST /projects/{id}/generations          (streaming generation run)
//   - POST /projects/{id}/generations/preview  (single-shot, non-streaming)
//   - POST /projects/{id}/estimate             (case-count estimate)
//   - GET  /projects/{id}/generations          (list persisted runs, paginated)
//   - GET  /projects/{id}/logs                 (generation log, paginated)
//   - POST /projects/{id}/documents            (upload a knowledge document)
//   - GET  /projects/{id}/documents            (list knowledge documents)
//
// Handlers are transport-thin: they validate input, call the generation
// service, and translate results into HTTP responses. The streaming endpoint
// writes the orchestrator's raw protocol (status lines, model chunks, GEN_QM
// metrics) straight through with a flush per chunk.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/qinyu/go-testgen-backend/internal/domain"
	"github.com/qinyu/go-testgen-backend/internal/repo"
	"github.com/qinyu/go-testgen-backend/internal/services"
	"github.com/qinyu/go-testgen-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// GenerationRunner defines the generation operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type GenerationRunner interface {
	// GenerateStream runs a full batch generation, writing the stream
	// protocol through emit.
	GenerateStream(ctx context.Context, req services.GenerateRequest, emit func(chunk string) error) error
	// GenerateOnce runs a single non-streaming generation without persistence.
	GenerateOnce(ctx context.Context, req services.GenerateRequest) ([]domain.TestCase, error)
	// EstimateCount estimates how many cases a requirement needs.
	EstimateCount(ctx context.Context, requirement string) (int, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for generation runs, logs, and
// knowledge documents.
type Handlers struct {
	gen GenerationRunner
	db  *gorm.DB
}

// New constructs a Handlers instance bound to the generation service and
// database handle.
func New(gen GenerationRunner, db *gorm.DB) *Handlers {
	return &Handlers{gen: gen, db: db}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// GenerateRequest is the JSON payload for starting a generation run.
type GenerateRequest struct {
	// Requirement is the free-text requirement or OCR'd document content.
	Requirement string `json:"requirement" binding:"required" example:"用户登录模块：支持账号密码登录，密码错误三次锁定账户"`
	// DocType alters prompt framing: requirement | prototype | incomplete.
	DocType string `json:"doc_type" example:"requirement"`
	// TargetCount is the number of cases to produce (>= 1).
	TargetCount int `json:"target_count" binding:"required,min=1" example:"30"`
	// Compress requests knowledge/requirement compression before prompting.
	Compress bool `json:"compress"`
	// Overwrite replaces the latest matching run instead of creating one.
	Overwrite bool `json:"overwrite"`
	// Append merges new cases into the latest matching run.
	Append bool `json:"append"`
}

// EstimateRequest is the JSON payload for the case-count estimate endpoint.
type EstimateRequest struct {
	Requirement string `json:"requirement" binding:"required"`
}

// EstimateResponse carries the estimated case count.
type EstimateResponse struct {
	EstimatedCount int `json:"estimated_count"`
}

// PreviewResponse wraps the cases from a non-persisted single-shot run.
type PreviewResponse struct {
	Cases []domain.TestCase `json:"cases"`
}

// CreateDocumentRequest is the JSON payload for uploading a knowledge document.
type CreateDocumentRequest struct {
	Filename string `json:"filename" binding:"required,max=255"`
	DocType  string `json:"doc_type" example:"requirement"`
	Content  string `json:"content" binding:"required"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListGenerationsResponse wraps a page of persisted runs.
type ListGenerationsResponse struct {
	Generations []domain.Generation `json:"generations"`
	Pagination  Pagination          `json:"pagination"`
}

// ListLogsResponse wraps a page of log entries.
type ListLogsResponse struct {
	Logs       []domain.LogEntry `json:"logs"`
	Pagination Pagination        `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

func paginationFor(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// Generate godoc
// @ID          generateTestCases
// @Summary     Generate test cases (streaming)
// @Description Runs a batched generation and streams progress, raw model output, and quality metrics as plain text.
// @Tags        Generations
// @Accept      json
// @Produce     plain
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Project ID"
// @Param       body       body    handlers.GenerateRequest  true  "Generation parameters"
//
// @Success     200  {string} string "Generation stream"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /projects/{id}/generations [post]
func (h *Handlers) Generate(c *gin.Context) {
	projectID := c.Param("id")

	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "requirement and target_count (>=1) are required")
		return
	}
	if req.Overwrite && req.Append {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "overwrite and append are mutually exclusive")
		return
	}

	uid := userID(c)
	ctx := c.Request.Context()

	h.streamHeaders(c)

	// Create mode refuses to silently duplicate an identical run; the
	// caller is told which record to overwrite or append to instead.
	if !req.Overwrite && !req.Append {
		if g, err := repo.FindLatestGeneration(ctx, h.db, projectID, uid, req.Requirement); err == nil && g != nil {
			c.Writer.WriteString(`@@DUPLICATE@@:{"id": "` + g.ID + `"}` + "\n")
			c.Writer.Flush()
			return
		}
	}

	emit := func(chunk string) error {
		if _, err := c.Writer.WriteString(chunk); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	err := h.gen.GenerateStream(ctx, services.GenerateRequest{
		ProjectID:   projectID,
		UserID:      uid,
		Requirement: req.Requirement,
		DocType:     req.DocType,
		TargetCount: req.TargetCount,
		Compress:    req.Compress,
		Overwrite:   req.Overwrite,
		Append:      req.Append,
	}, emit)
	if err != nil {
		// Validation errors arrive before any stream output was produced;
		// consumer-gone errors have nobody left to tell.
		c.Writer.WriteString("Error: " + err.Error() + "\n")
		c.Writer.Flush()
	}
}

func (h *Handlers) streamHeaders(c *gin.Context) {
	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}

// Preview godoc
// @ID          previewTestCases
// @Summary     Generate a small case set without persisting
// @Tags        Generations
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Project ID"
// @Param       body  body  handlers.GenerateRequest  true  "Generation parameters"
//
// @Success     200  {object} handlers.PreviewResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     502  {object} handlers.ErrorResponse "Provider failure"
// @Router      /projects/{id}/generations/preview [post]
func (h *Handlers) Preview(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "requirement and target_count (>=1) are required")
		return
	}

	cases, err := h.gen.GenerateOnce(c.Request.Context(), services.GenerateRequest{
		ProjectID:   c.Param("id"),
		UserID:      userID(c),
		Requirement: req.Requirement,
		DocType:     req.DocType,
		TargetCount: req.TargetCount,
		Compress:    req.Compress,
	})
	if err != nil {
		status, code := generationErrorStatus(err)
		fail(c, status, code, err.Error())
		return
	}
	ok(c, http.StatusOK, PreviewResponse{Cases: cases})
}

// Estimate godoc
// @ID          estimateCaseCount
// @Summary     Estimate how many cases a requirement needs
// @Tags        Generations
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Project ID"
// @Param       body  body  handlers.EstimateRequest  true  "Requirement text"
//
// @Success     200  {object} handlers.EstimateResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     502  {object} handlers.ErrorResponse "Provider failure"
// @Router      /projects/{id}/estimate [post]
func (h *Handlers) Estimate(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "requirement is required")
		return
	}

	n, err := h.gen.EstimateCount(c.Request.Context(), req.Requirement)
	if err != nil {
		status, code := generationErrorStatus(err)
		fail(c, status, code, err.Error())
		return
	}
	ok(c, http.StatusOK, EstimateResponse{EstimatedCount: n})
}

// generationErrorStatus maps service errors onto HTTP status and error code.
func generationErrorStatus(err error) (int, string) {
	var pErr *services.ProviderError
	switch {
	case errors.Is(err, services.ErrEmptyRequirement), errors.Is(err, services.ErrInvalidTargetCount):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.As(err, &pErr):
		return http.StatusBadGateway, ErrCodeProviderFailed
	case errors.Is(err, services.ErrUnparsableOutput):
		return http.StatusBadGateway, ErrCodeGenerationFailed
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// ListGenerations godoc
// @ID          listGenerations
// @Summary     List persisted generation runs (paginated)
// @Description Returns a page of the project's generation runs. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Generations
// @Produce     json
//
// @Param       id             path    string  true  "Project ID"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListGenerationsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id}/generations [get]
func (h *Handlers) ListGenerations(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("id")
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := repo.GenerationsStats(ctx, h.db, projectID); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"generations:%s:%d:%d"`, projectID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	total, err := repo.CountGenerations(ctx, h.db, projectID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListGenerationsPage(ctx, h.db, projectID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListGenerationsResponse{
		Generations: items,
		Pagination:  paginationFor(page, pageSize, total),
	})
}

// ListLogs godoc
// @ID          listLogs
// @Summary     List generation log entries (paginated)
// @Tags        Logs
// @Produce     json
//
// @Param       id         path   string  true  "Project ID"
// @Param       page       query  int     false "Page number"    minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListLogsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id}/logs [get]
func (h *Handlers) ListLogs(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("id")
	page, pageSize := clampPagination(c)

	total, err := repo.CountLogs(ctx, h.db, projectID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListLogsPage(ctx, h.db, projectID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListLogsResponse{
		Logs:       items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// CreateDocument godoc
// @ID          createDocument
// @Summary     Upload a knowledge document
// @Tags        Documents
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Project ID"
// @Param       body  body  handlers.CreateDocumentRequest  true  "Document payload"
//
// @Success     201  {object} domain.KnowledgeDocument
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id}/documents [post]
func (h *Handlers) CreateDocument(c *gin.Context) {
	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "filename and content are required")
		return
	}

	doc, err := repo.CreateKnowledgeDocument(c.Request.Context(), h.db, c.Param("id"),
		strings.TrimSpace(req.Filename), req.DocType, req.Content)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, doc)
}

// ListDocuments godoc
// @ID          listDocuments
// @Summary     List knowledge documents
// @Tags        Documents
// @Produce     json
//
// @Param       id  path  string  true  "Project ID"
//
// @Success     200  {array} domain.KnowledgeDocument
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /projects/{id}/documents [get]
func (h *Handlers) ListDocuments(c *gin.Context) {
	docs, err := repo.ListKnowledgeDocuments(c.Request.Context(), h.db, c.Param("id"), 0)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, docs)
}
