package repository

import (
	"context"
	"fmt"

	"coauthor/internal/models"

	"gorm.io/gorm"
)

// SectionRepositoryImpl is the durable store for section content. Every
// persistence-debounce firing writes through here; the collaboration layer
// treats these rows, not its in-memory buffers, as the source of truth.
type SectionRepositoryImpl struct {
	db *gorm.DB
}

// NewSectionRepository creates a new section repository
func NewSectionRepository(db *gorm.DB) *SectionRepositoryImpl {
	return &SectionRepositoryImpl{db: db}
}

// ReadSection returns the stored content for one section of a document.
func (r *SectionRepositoryImpl) ReadSection(ctx context.Context, documentID, sectionKey string) (string, error) {
	var section models.Section

	err := r.db.WithContext(ctx).
		Where("document_id = ? AND key = ?", documentID, sectionKey).
		First(&section).Error

	if err == gorm.ErrRecordNotFound {
		return "", fmt.Errorf("section not found: %s/%s", documentID, sectionKey)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read section: %w", err)
	}

	return section.Content, nil
}

// WriteSection replaces the stored content for one section, creating the row
// on first write. Section-level last-writer-wins: whole content, no merging.
func (r *SectionRepositoryImpl) WriteSection(ctx context.Context, documentID, sectionKey, content string) error {
	var section models.Section

	err := r.db.WithContext(ctx).
		Where("document_id = ? AND key = ?", documentID, sectionKey).
		First(&section).Error

	if err == gorm.ErrRecordNotFound {
		section = models.Section{
			DocumentID: documentID,
			Key:        sectionKey,
			Content:    content,
		}
		if err := r.db.WithContext(ctx).Create(&section).Error; err != nil {
			return fmt.Errorf("failed to create section: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to find section: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Model(&section).
		Update("content", content).Error; err != nil {
		return fmt.Errorf("failed to write section: %w", err)
	}

	return nil
}

// ListByDocument returns all sections of a document in display order.
func (r *SectionRepositoryImpl) ListByDocument(ctx context.Context, documentID string) ([]*models.Section, error) {
	var sections []*models.Section

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("position ASC").
		Find(&sections).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}

	return sections, nil
}

// ContentsByDocument returns sectionKey -> content for a whole document.
// The git store snapshots from this map when a checkpoint is committed.
func (r *SectionRepositoryImpl) ContentsByDocument(ctx context.Context, documentID string) (map[string]string, error) {
	sections, err := r.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	contents := make(map[string]string, len(sections))
	for _, section := range sections {
		contents[section.Key] = section.Content
	}
	return contents, nil
}
