package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"docqa/internal/model"
	"docqa/internal/rag"
)

// documentListColumns leaves out content, which can be megabytes.
var documentListColumns = []string{
	"id", "owner_id", "title", "original_file_name", "file_type", "file_size",
	"index_status", "index_error", "chunk_count", "indexed_at", "created_at", "updated_at",
}

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByIDAndOwnerID(ctx context.Context, id string, ownerID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// ListByOwnerID returns one page of the owner's documents, newest first, and
// the owner's total document count.
func (r *DocumentRepository) ListByOwnerID(ctx context.Context, ownerID uint, page, limit int) ([]model.Document, int64, error) {
	scope := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&model.Document{}).Where("owner_id = ?", ownerID)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count documents failed: %w", err)
	}

	var list []model.Document
	if err := scope().Select(documentListColumns).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("list documents failed: %w", err)
	}
	return list, total, nil
}

// ListByIndexStatus returns every document in the given retrieval state,
// oldest first, with content.
func (r *DocumentRepository) ListByIndexStatus(ctx context.Context, status rag.IndexStatus) ([]model.Document, error) {
	var list []model.Document
	if err := r.db.WithContext(ctx).
		Where("index_status = ?", string(status)).
		Order("created_at ASC").
		Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list documents by index status failed: %w", err)
	}
	return list, nil
}

func (r *DocumentRepository) DeleteByIDAndOwnerID(ctx context.Context, id string, ownerID uint) error {
	if err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}

// SetIndexStatus records a retrieval state transition. The chunk count and
// indexed_at are only written when the document becomes Indexed; a failure
// keeps the previous count.
func (r *DocumentRepository) SetIndexStatus(ctx context.Context, documentID string, status rag.IndexStatus, chunkCount int, errMsg string) error {
	updates := map[string]interface{}{
		"index_status": string(status),
		"index_error":  errMsg,
	}
	if status == rag.StatusIndexed {
		updates["chunk_count"] = chunkCount
		updates["indexed_at"] = time.Now()
	}
	res := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", documentID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update document index status failed: %w", res.Error)
	}
	return nil
}
