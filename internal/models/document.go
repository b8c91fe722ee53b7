package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type DocType string

const (
	DocTypeLatex    DocType = "latex"
	DocTypeMarkdown DocType = "markdown"
)

// Document represents a co-authored, section-based document.
// KSUID primary keys are time-ordered, so sorting by ID sorts by creation time
// and keeps B-tree indexes from fragmenting.
type Document struct {
	ID        string         `json:"id" gorm:"type:char(27);primaryKey"`
	Title     string         `json:"title" gorm:"type:text;not null"`
	DocType   DocType        `json:"doc_type" gorm:"type:varchar(50);not null;default:'latex'"`
	Metadata  map[string]any `json:"metadata" gorm:"type:jsonb;serializer:json;default:'{}'"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"` // Soft delete support
}

// BeforeCreate hook generates KSUID before inserting
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	return nil
}

// Section is one independently lockable/editable subdivision of a document.
// Key is the stable name used by the collaboration protocol ("intro",
// "methods", ...); it is unique within a document.
type Section struct {
	ID         string    `json:"id" gorm:"type:char(27);primaryKey"`
	DocumentID string    `json:"document_id" gorm:"type:char(27);not null;index;uniqueIndex:idx_doc_section_key"`
	Key        string    `json:"key" gorm:"type:varchar(255);not null;uniqueIndex:idx_doc_section_key"`
	Title      string    `json:"title" gorm:"type:text"`
	Content    string    `json:"content" gorm:"type:text;not null;default:''"`
	Position   int       `json:"position" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Section) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ksuid.New().String()
	}
	return nil
}

type DocumentCreate struct {
	Title    string         `json:"title"`
	DocType  DocType        `json:"doc_type"`
	Sections []SectionSeed  `json:"sections"`
	Metadata map[string]any `json:"metadata"`
}

// SectionSeed describes a section to create alongside a new document.
type SectionSeed struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

// CommitInfo summarizes one version-control checkpoint of a document.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// SectionDelta is one changed section between two commits.
type SectionDelta struct {
	SectionKey string `json:"section_key"`
	Before     string `json:"before"`
	After      string `json:"after"`
}
