package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"docqa/internal/model"
	"docqa/internal/pkg/textextract"
	"docqa/internal/rag"
)

var ErrDocumentNotFound = errors.New("document not found or access denied")

type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	GetByIDAndOwnerID(ctx context.Context, id string, ownerID uint) (*model.Document, error)
	ListByOwnerID(ctx context.Context, ownerID uint, page, limit int) ([]model.Document, int64, error)
	ListByIndexStatus(ctx context.Context, status rag.IndexStatus) ([]model.Document, error)
	DeleteByIDAndOwnerID(ctx context.Context, id string, ownerID uint) error
}

// Indexer is the retrieval side of the document lifecycle.
type Indexer interface {
	Ingest(ctx context.Context, doc rag.Document) (int, error)
	OnDocumentDeleted(ctx context.Context, documentID string) error
}

type IngestPublisher interface {
	PublishIngest(ctx context.Context, job model.IngestJob) error
}

type DocumentService struct {
	docs      DocumentStore
	indexer   Indexer
	publisher IngestPublisher
	limits    textextract.Limits
	async     bool
}

type UploadInput struct {
	OwnerID  uint
	FileName string
	Title    string
	Data     []byte
}

type DocumentList struct {
	Documents  []model.Document `json:"documents"`
	Pagination Pagination       `json:"pagination"`
}

// NewDocumentService wires document storage to the indexer. With async set
// and a publisher present, uploads are indexed by the ingest worker.
func NewDocumentService(docs DocumentStore, indexer Indexer, publisher IngestPublisher, limits textextract.Limits, async bool) *DocumentService {
	return &DocumentService{
		docs:      docs,
		indexer:   indexer,
		publisher: publisher,
		limits:    limits,
		async:     async,
	}
}

func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*model.Document, error) {
	if input.OwnerID == 0 {
		return nil, ErrInvalidInput
	}

	fileType, err := textextract.Validate(input.FileName, input.Data, s.limits)
	if err != nil {
		return nil, err
	}
	content, err := textextract.Extract(fileType, input.Data)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = textextract.Title(input.FileName)
	}

	doc := &model.Document{
		ID:               uuid.NewString(),
		OwnerID:          input.OwnerID,
		Title:            title,
		Content:          content,
		OriginalFileName: input.FileName,
		FileType:         fileType,
		FileSize:         int64(len(input.Data)),
		IndexStatus:      string(rag.StatusUploaded),
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	if s.async && s.publisher != nil {
		err := s.publisher.PublishIngest(ctx, model.IngestJob{DocumentID: doc.ID, OwnerID: doc.OwnerID})
		if err == nil {
			log.Printf("document %s queued for indexing", doc.ID)
			return doc, nil
		}
		log.Printf("publish ingest job failed, indexing inline: %v", err)
	}

	// An index failure leaves the document stored as index_failed so it
	// can be reprocessed; the upload itself still succeeds.
	if _, err := s.ingest(ctx, doc); err != nil {
		log.Printf("index document %s failed: %v", doc.ID, err)
	}
	return doc, nil
}

func (s *DocumentService) List(ctx context.Context, ownerID uint, page, limit int) (*DocumentList, error) {
	if ownerID == 0 {
		return nil, ErrInvalidInput
	}
	page, limit = normalizePage(page, limit)
	docs, total, err := s.docs.ListByOwnerID(ctx, ownerID, page, limit)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []model.Document{}
	}
	return &DocumentList{Documents: docs, Pagination: newPagination(page, limit, total)}, nil
}

func (s *DocumentService) Get(ctx context.Context, ownerID uint, id string) (*model.Document, error) {
	if ownerID == 0 || strings.TrimSpace(id) == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndOwnerID(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete removes the document's index entries before the record, so a failed
// index delete leaves the document visible for a retry.
func (s *DocumentService) Delete(ctx context.Context, ownerID uint, id string) error {
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.indexer.OnDocumentDeleted(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete document index entries failed: %w", err)
	}
	if err := s.docs.DeleteByIDAndOwnerID(ctx, doc.ID, ownerID); err != nil {
		return err
	}
	log.Printf("document %s deleted by user %d", doc.ID, ownerID)
	return nil
}

func (s *DocumentService) Reprocess(ctx context.Context, ownerID uint, id string) (int, error) {
	doc, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return 0, err
	}
	log.Printf("reprocessing document %s", doc.ID)
	return s.ingest(ctx, doc)
}

// Process indexes a queued document. A document deleted before the job ran
// is not an error.
func (s *DocumentService) Process(ctx context.Context, job model.IngestJob) error {
	doc, err := s.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil || doc.OwnerID != job.OwnerID {
		log.Printf("ingest job for missing document %s skipped", job.DocumentID)
		return nil
	}
	_, err = s.ingest(ctx, doc)
	return err
}

// Rehydrate re-ingests every document recorded as indexed. An in-process index
// starts empty, so without this the stored statuses would point at entries
// that no longer exist. It returns the number of documents indexed again.
func (s *DocumentService) Rehydrate(ctx context.Context) (int, error) {
	docs, err := s.docs.ListByIndexStatus(ctx, rag.StatusIndexed)
	if err != nil {
		return 0, err
	}
	restored := 0
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		if _, err := s.ingest(ctx, &docs[i]); err != nil {
			log.Printf("re-index document %s failed: %v", docs[i].ID, err)
			continue
		}
		restored++
	}
	log.Printf("re-indexed %d of %d stored documents", restored, len(docs))
	return restored, nil
}

// ingest runs the retrieval pipeline and mirrors the recorded status onto doc.
func (s *DocumentService) ingest(ctx context.Context, doc *model.Document) (int, error) {
	count, err := s.indexer.Ingest(ctx, rag.Document{
		ID:      doc.ID,
		OwnerID: ownerKey(doc.OwnerID),
		Title:   doc.Title,
		Content: doc.Content,
	})
	if err != nil {
		doc.IndexStatus = string(rag.StatusIndexFailed)
		doc.IndexError = err.Error()
		return 0, err
	}
	now := time.Now()
	doc.IndexStatus = string(rag.StatusIndexed)
	doc.IndexError = ""
	doc.ChunkCount = count
	doc.IndexedAt = &now
	return count, nil
}
