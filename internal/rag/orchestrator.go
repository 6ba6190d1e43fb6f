package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTopK            = 5
	DefaultGenerateTimeout = 60 * time.Second
	DefaultEmbedWorkers    = 4

	MinQuestionLength = 5
	MaxQuestionLength = 1000

	NoDocumentsAnswer      = "I don't have any relevant documents to answer your question. Please upload some documents first."
	GenerationFailedAnswer = "I was unable to generate an answer right now. Please try again later."
)

type IndexStatus string

const (
	StatusUploaded    IndexStatus = "uploaded"
	StatusIndexing    IndexStatus = "indexing"
	StatusIndexed     IndexStatus = "indexed"
	StatusIndexFailed IndexStatus = "index_failed"
)

type SessionStatus string

const (
	SessionAnswered  SessionStatus = "answered"
	SessionNoContext SessionStatus = "no_context"
	SessionFailed    SessionStatus = "failed"
)

// Ask outcomes reported to the Observer.
const (
	OutcomeAnswered         = "answered"
	OutcomeNoContext        = "no_context"
	OutcomeInvalid          = "invalid"
	OutcomeGenerationFailed = "generation_failed"
	OutcomeError            = "error"
)

type Document struct {
	ID      string
	OwnerID string
	Title   string
	Content string
}

type Generation struct {
	Answer       string
	TokensUsed   int
	ResponseTime time.Duration
}

type AnswerGenerator interface {
	Generate(ctx context.Context, question string, passages []RetrievalResult) (*Generation, error)
}

type RelevantDocument struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Session is the record persisted for every answered question. Times are in
// milliseconds.
type Session struct {
	ID                string
	OwnerID           string
	Question          string
	Answer            string
	Context           []RetrievalResult
	RelevantDocuments []RelevantDocument
	TokensUsed        int
	ResponseTime      int64
	GenerationTime    int64
	Status            SessionStatus
	Error             string
}

type RecordStore interface {
	Save(ctx context.Context, session *Session) (string, error)
}

type StatusRecorder interface {
	SetIndexStatus(ctx context.Context, documentID string, status IndexStatus, chunkCount int, errMsg string) error
}

type Observer interface {
	ObserveIngest(status IndexStatus, chunks int, elapsed time.Duration)
	ObserveAsk(outcome string, matches int, elapsed time.Duration)
}

type QAResult struct {
	SessionID         string             `json:"session_id"`
	Answer            string             `json:"answer"`
	Context           []RetrievalResult  `json:"context"`
	RelevantDocuments []RelevantDocument `json:"relevant_documents"`
	TokensUsed        int                `json:"tokens_used"`
	ResponseTime      int64              `json:"response_time"`
}

type Config struct {
	TopK            int
	GenerateTimeout time.Duration
	EmbedWorkers    int
}

// Dependencies are the collaborators of an Orchestrator. Status and Observer
// may be nil.
type Dependencies struct {
	Chunker   *Chunker
	Embedder  Embedder
	Index     VectorIndex
	Generator AnswerGenerator
	Store     RecordStore
	Status    StatusRecorder
	Observer  Observer
}

type Orchestrator struct {
	cfg       Config
	chunker   *Chunker
	embedder  Embedder
	index     VectorIndex
	generator AnswerGenerator
	store     RecordStore
	status    StatusRecorder
	observer  Observer
	now       func() time.Time
}

func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Embedder == nil:
		return nil, errors.New("orchestrator requires an embedder")
	case deps.Index == nil:
		return nil, errors.New("orchestrator requires a vector index")
	case deps.Generator == nil:
		return nil, errors.New("orchestrator requires an answer generator")
	case deps.Store == nil:
		return nil, errors.New("orchestrator requires a record store")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = DefaultEmbedWorkers
	}
	chunker := deps.Chunker
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Orchestrator{
		cfg:       cfg,
		chunker:   chunker,
		embedder:  deps.Embedder,
		index:     deps.Index,
		generator: deps.Generator,
		store:     deps.Store,
		status:    deps.Status,
		observer:  observer,
		now:       time.Now,
	}, nil
}

// Ingest chunks and embeds doc and replaces its entries in the index. It
// returns the number of chunks indexed. A document without indexable text
// loses its previous entries and is Indexed with zero chunks.
func (o *Orchestrator) Ingest(ctx context.Context, doc Document) (int, error) {
	if doc.ID == "" {
		return 0, &ValidationError{Err: ErrMissingDocument}
	}
	if doc.OwnerID == "" {
		return 0, &ValidationError{Err: ErrMissingOwner}
	}
	start := o.now()
	o.recordStatus(ctx, doc.ID, StatusIndexing, 0, "")

	chunks := o.chunker.Split(doc.ID, doc.Content)
	if len(chunks) == 0 {
		if err := o.index.Delete(ctx, doc.ID); err != nil {
			return 0, o.failIngest(ctx, doc.ID, start, fmt.Errorf("clear index entries failed: %w", err))
		}
		log.Printf("document %s has no indexable content", doc.ID)
		o.recordStatus(ctx, doc.ID, StatusIndexed, 0, "")
		o.observer.ObserveIngest(StatusIndexed, 0, o.now().Sub(start))
		return 0, nil
	}

	vectors, err := o.embedChunks(ctx, chunks)
	if err != nil {
		return 0, o.failIngest(ctx, doc.ID, start, fmt.Errorf("embed chunks failed: %w", err))
	}

	entries := make([]IndexEntry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = IndexEntry{
			ID:     ChunkID(doc.ID, chunk.Index),
			Vector: vectors[i],
			Metadata: Metadata{
				Title:       doc.Title,
				Content:     chunk.Text,
				DocumentID:  doc.ID,
				OwnerID:     doc.OwnerID,
				ChunkIndex:  chunk.Index,
				TotalChunks: chunk.TotalChunks,
			},
		}
	}
	if err := o.index.Upsert(ctx, entries); err != nil {
		return 0, o.failIngest(ctx, doc.ID, start, fmt.Errorf("upsert index entries failed: %w", err))
	}

	log.Printf("indexed document %s with %d chunks", doc.ID, len(chunks))
	o.recordStatus(ctx, doc.ID, StatusIndexed, len(chunks), "")
	o.observer.ObserveIngest(StatusIndexed, len(chunks), o.now().Sub(start))
	return len(chunks), nil
}

func (o *Orchestrator) embedChunks(ctx context.Context, chunks []Chunk) ([][]float64, error) {
	vectors := make([][]float64, len(chunks))
	dim := o.embedder.Dimension()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.EmbedWorkers)
	for i := range chunks {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec := o.embedder.Embed(chunks[i].Text)
			if len(vec) != dim {
				panic(fmt.Sprintf("rag: embedder returned %d components, want %d", len(vec), dim))
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (o *Orchestrator) failIngest(ctx context.Context, documentID string, start time.Time, err error) error {
	log.Printf("index document %s failed: %v", documentID, err)
	o.recordStatus(ctx, documentID, StatusIndexFailed, 0, err.Error())
	o.observer.ObserveIngest(StatusIndexFailed, 0, o.now().Sub(start))
	return &IndexingError{DocumentID: documentID, Err: err}
}

func (o *Orchestrator) recordStatus(ctx context.Context, documentID string, status IndexStatus, chunks int, errMsg string) {
	if o.status == nil {
		return
	}
	if err := o.status.SetIndexStatus(ctx, documentID, status, chunks, errMsg); err != nil {
		log.Printf("record index status %s for document %s failed: %v", status, documentID, err)
	}
}

// ValidateQuestion trims question and checks its length in characters.
func ValidateQuestion(question string) (string, error) {
	trimmed := strings.TrimSpace(question)
	n := utf8.RuneCountInString(trimmed)
	if n < MinQuestionLength {
		return "", &ValidationError{Err: ErrQuestionTooShort}
	}
	if n > MaxQuestionLength {
		return "", &ValidationError{Err: ErrQuestionTooLong}
	}
	return trimmed, nil
}

// Ask answers question from the passages owned by ownerID and persists the
// exchange. A failed generation still persists a session before the
// GenerationError is returned. When the session cannot be persisted Ask
// returns a StoreError and no answer.
func (o *Orchestrator) Ask(ctx context.Context, question, ownerID string) (*QAResult, error) {
	start := o.now()
	q, err := ValidateQuestion(question)
	if err == nil && ownerID == "" {
		err = &ValidationError{Err: ErrMissingOwner}
	}
	if err != nil {
		o.observer.ObserveAsk(OutcomeInvalid, 0, 0)
		return nil, err
	}

	matches, err := o.index.Query(ctx, Query{
		Vector:  o.embedder.Embed(q),
		K:       o.cfg.TopK,
		OwnerID: ownerID,
	})
	if err != nil {
		o.observer.ObserveAsk(OutcomeError, 0, o.now().Sub(start))
		return nil, fmt.Errorf("query vector index failed: %w", err)
	}

	session := &Session{
		OwnerID:           ownerID,
		Question:          q,
		Context:           []RetrievalResult{},
		RelevantDocuments: []RelevantDocument{},
	}

	if len(matches) == 0 {
		session.Answer = NoDocumentsAnswer
		session.Status = SessionNoContext
		return o.finish(ctx, session, OutcomeNoContext, start)
	}

	session.Context = matches
	session.RelevantDocuments = relevantDocuments(matches)

	genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	gen, genErr := o.generator.Generate(genCtx, q, matches)
	cancel()
	session.ResponseTime = o.now().Sub(start).Milliseconds()

	if genErr != nil {
		log.Printf("generate answer for owner %s failed: %v", ownerID, genErr)
		session.Answer = GenerationFailedAnswer
		session.Status = SessionFailed
		session.Error = genErr.Error()
		id, err := o.store.Save(ctx, session)
		o.observer.ObserveAsk(OutcomeGenerationFailed, len(matches), o.now().Sub(start))
		if err != nil {
			return nil, &StoreError{Op: "save qa session", Err: err}
		}
		return nil, &GenerationError{SessionID: id, Err: genErr}
	}

	session.Answer = gen.Answer
	session.TokensUsed = gen.TokensUsed
	session.GenerationTime = gen.ResponseTime.Milliseconds()
	session.Status = SessionAnswered
	return o.finish(ctx, session, OutcomeAnswered, start)
}

func (o *Orchestrator) finish(ctx context.Context, session *Session, outcome string, start time.Time) (*QAResult, error) {
	id, err := o.store.Save(ctx, session)
	if err != nil {
		o.observer.ObserveAsk(OutcomeError, len(session.Context), o.now().Sub(start))
		return nil, &StoreError{Op: "save qa session", Err: err}
	}
	session.ID = id
	o.observer.ObserveAsk(outcome, len(session.Context), o.now().Sub(start))
	return &QAResult{
		SessionID:         id,
		Answer:            session.Answer,
		Context:           session.Context,
		RelevantDocuments: session.RelevantDocuments,
		TokensUsed:        session.TokensUsed,
		ResponseTime:      session.ResponseTime,
	}, nil
}

// OnDocumentDeleted removes every index entry of the document.
func (o *Orchestrator) OnDocumentDeleted(ctx context.Context, documentID string) error {
	if documentID == "" {
		return &ValidationError{Err: ErrMissingDocument}
	}
	if err := o.index.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("delete index entries failed: %w", err)
	}
	return nil
}

func relevantDocuments(matches []RetrievalResult) []RelevantDocument {
	docs := make([]RelevantDocument, len(matches))
	for i, m := range matches {
		docs[i] = RelevantDocument{ID: m.ID, Title: m.Metadata.Title, Score: m.Score}
	}
	return docs
}

type nopObserver struct{}

func (nopObserver) ObserveIngest(IndexStatus, int, time.Duration) {}
func (nopObserver) ObserveAsk(string, int, time.Duration)         {}
