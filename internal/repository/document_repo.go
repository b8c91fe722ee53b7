package repository

import (
	"context"
	"fmt"

	"coauthor/internal/models"

	"gorm.io/gorm"
)

// DocumentRepositoryImpl handles all database operations for documents using
// GORM. It doesn't know about any interface; consumers declare what they need.
type DocumentRepositoryImpl struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository.
// Returns concrete type - "Accept interfaces, return structs"
func NewDocumentRepository(db *gorm.DB) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db}
}

// Create inserts a new document and its seed sections in one transaction.
// KSUIDs are auto-generated in the BeforeCreate hooks.
func (r *DocumentRepositoryImpl) Create(ctx context.Context, req *models.DocumentCreate) (*models.Document, error) {
	document := &models.Document{
		Title:    req.Title,
		DocType:  req.DocType,
		Metadata: req.Metadata,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(document).Error; err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		for i, seed := range req.Sections {
			section := &models.Section{
				DocumentID: document.ID,
				Key:        seed.Key,
				Title:      seed.Title,
				Position:   i,
			}
			if err := tx.Create(section).Error; err != nil {
				return fmt.Errorf("failed to create section %q: %w", seed.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return document, nil
}

// GetByID retrieves a document by its KSUID.
// Soft-deleted documents are automatically excluded.
func (r *DocumentRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document

	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// List returns all documents with pagination.
func (r *DocumentRepositoryImpl) List(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	var documents []*models.Document

	err := r.db.WithContext(ctx).
		Order("id DESC"). // KSUID is time-ordered, so sorting by ID = sorting by creation time
		Limit(limit).
		Offset(offset).
		Find(&documents).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	return documents, nil
}

// Delete performs a soft delete on the document. GORM sets DeletedAt instead
// of removing the row, so the document stays recoverable.
func (r *DocumentRepositoryImpl) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.Document{}, "id = ?", id)

	if result.Error != nil {
		return fmt.Errorf("failed to delete document: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("document not found: %s", id)
	}

	return nil
}
