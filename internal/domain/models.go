// Package domain defines the persistence models for generation runs,
// knowledge documents, and system logs. These types are mapped with GORM
// and form the core data layer of the test-generation platform.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Generation is a persisted generation run: the requirement text it was
// produced from and the final JSON-serialized list of TestCase records.
//
// Lifecycle:
//   - create mode always inserts a new row.
//   - overwrite mode locates the most recent row matching
//     (project, exact requirement text) and replaces GeneratedResult.
//   - append mode locates the same match and concatenates lists.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ProjectID / UserID: owning scope; indexed for lookup.
//   - RequirementText: the original (uncompressed) requirement.
//   - GeneratedResult: JSON array of canonical TestCase records.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
type Generation struct {
	ID              string         `json:"id"               gorm:"type:char(36);primaryKey"`
	ProjectID       string         `json:"project_id"       gorm:"type:varchar(64);not null;index:idx_project_generations,priority:1"`
	UserID          string         `json:"user_id"          gorm:"type:varchar(64);not null;index"`
	RequirementText string         `json:"requirement_text" gorm:"type:text;not null"`
	GeneratedResult string         `json:"generated_result" gorm:"type:text;not null"`
	CreatedAt       time.Time      `json:"created_at"       gorm:"index:idx_project_generations,priority:2"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-"                gorm:"index"`
}

// TableName returns the database table name for Generation.
func (Generation) TableName() string { return "generations" }

// KnowledgeDocument is a project-scoped knowledge snippet used by the
// retrieval capability to ground generation prompts. Documents are managed
// by the (out-of-scope) document CRUD surface; this layer only reads them.
type KnowledgeDocument struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	ProjectID string         `json:"project_id" gorm:"type:varchar(64);not null;index"`
	Filename  string         `json:"filename"   gorm:"type:varchar(255);not null"`
	DocType   string         `json:"doc_type"   gorm:"type:varchar(32);not null;default:'requirement'"`
	Content   string         `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for KnowledgeDocument.
func (KnowledgeDocument) TableName() string { return "knowledge_documents" }

// LogEntry is an append-only diagnostic record. Generation runs write
// GEN_DIAG and GEN_QM lines here so quality signals survive beyond the
// transient output stream.
type LogEntry struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	ProjectID string         `json:"project_id" gorm:"type:varchar(64);not null;index"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);index"`
	LogType   string         `json:"log_type"   gorm:"type:varchar(32);not null;default:'system'"`
	Message   string         `json:"message"    gorm:"type:text;not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"index"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for LogEntry.
func (LogEntry) TableName() string { return "log_entries" }
