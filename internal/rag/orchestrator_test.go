package rag_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/rag"
	"docqa/internal/vectorindex/memory"
)

type stubGenerator struct {
	mu     sync.Mutex
	calls  int
	answer string
	err    error
	block  bool
}

func (g *stubGenerator) Generate(ctx context.Context, question string, passages []rag.RetrievalResult) (*rag.Generation, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return &rag.Generation{Answer: g.answer, TokensUsed: 42, ResponseTime: 15 * time.Millisecond}, nil
}

type memoryStore struct {
	mu       sync.Mutex
	sessions []rag.Session
	err      error
}

func (s *memoryStore) Save(_ context.Context, session *rag.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sessions = append(s.sessions, *session)
	return fmt.Sprintf("session-%d", len(s.sessions)), nil
}

type statusEvent struct {
	status rag.IndexStatus
	chunks int
	errMsg string
}

type statusLog struct {
	mu     sync.Mutex
	events map[string][]statusEvent
}

func (l *statusLog) SetIndexStatus(_ context.Context, documentID string, status rag.IndexStatus, chunks int, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.events == nil {
		l.events = make(map[string][]statusEvent)
	}
	l.events[documentID] = append(l.events[documentID], statusEvent{status, chunks, errMsg})
	return nil
}

func (l *statusLog) last(documentID string) statusEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev := l.events[documentID]
	return ev[len(ev)-1]
}

type countingIndex struct {
	rag.VectorIndex
	queries   int
	upsertErr error
}

func (c *countingIndex) Query(ctx context.Context, q rag.Query) ([]rag.RetrievalResult, error) {
	c.queries++
	return c.VectorIndex.Query(ctx, q)
}

func (c *countingIndex) Upsert(ctx context.Context, entries []rag.IndexEntry) error {
	if c.upsertErr != nil {
		return c.upsertErr
	}
	return c.VectorIndex.Upsert(ctx, entries)
}

type fixture struct {
	orch   *rag.Orchestrator
	index  *memory.Index
	spy    *countingIndex
	gen    *stubGenerator
	store  *memoryStore
	status *statusLog
}

func newFixture(t *testing.T, cfg rag.Config) *fixture {
	t.Helper()
	f := &fixture{
		index:  memory.New(rag.DefaultDimension),
		gen:    &stubGenerator{answer: "Revenue grew 12 percent."},
		store:  &memoryStore{},
		status: &statusLog{},
	}
	f.spy = &countingIndex{VectorIndex: f.index}
	orch, err := rag.NewOrchestrator(cfg, rag.Dependencies{
		Chunker:   rag.NewChunker(200, 40),
		Embedder:  rag.NewHashEmbedder(rag.DefaultDimension),
		Index:     f.spy,
		Generator: f.gen,
		Store:     f.store,
		Status:    f.status,
	})
	require.NoError(t, err)
	f.orch = orch
	return f
}

const report = `The quarterly report shows revenue growth of twelve percent across all regions.

Enterprise customers drove most of the expansion, while consumer sales stayed flat.

Operating costs decreased after the data center consolidation finished in the spring.

Hiring slowed in the second half of the year as the company focused on efficiency.`

func TestIngestThenAsk(t *testing.T) {
	f := newFixture(t, rag.Config{})
	ctx := context.Background()

	n, err := f.orch.Ingest(ctx, rag.Document{ID: "doc-1", OwnerID: "7", Title: "Q3 Report", Content: report})
	require.NoError(t, err)
	require.Greater(t, n, 1)
	assert.Equal(t, n, f.index.Len())
	assert.Equal(t, statusEvent{rag.StatusIndexed, n, ""}, f.status.last("doc-1"))
	assert.Equal(t, rag.StatusIndexing, f.status.events["doc-1"][0].status)

	res, err := f.orch.Ask(ctx, "  How much did revenue grow?  ", "7")
	require.NoError(t, err)
	assert.Equal(t, "session-1", res.SessionID)
	assert.Equal(t, "Revenue grew 12 percent.", res.Answer)
	assert.Equal(t, 42, res.TokensUsed)
	require.NotEmpty(t, res.Context)
	assert.LessOrEqual(t, len(res.Context), rag.DefaultTopK)
	require.Len(t, res.RelevantDocuments, len(res.Context))
	assert.Equal(t, "Q3 Report", res.RelevantDocuments[0].Title)
	for i := 1; i < len(res.Context); i++ {
		assert.GreaterOrEqual(t, res.Context[i-1].Score, res.Context[i].Score)
	}

	require.Len(t, f.store.sessions, 1)
	saved := f.store.sessions[0]
	assert.Equal(t, "How much did revenue grow?", saved.Question)
	assert.Equal(t, rag.SessionAnswered, saved.Status)
	assert.Equal(t, int64(15), saved.GenerationTime)
	assert.Equal(t, "7", saved.OwnerID)
}

func TestAskExactChunkMatchesItself(t *testing.T) {
	f := newFixture(t, rag.Config{})
	ctx := context.Background()
	_, err := f.orch.Ingest(ctx, rag.Document{ID: "doc-1", OwnerID: "7", Title: "Q3", Content: report})
	require.NoError(t, err)

	chunk := rag.NewChunker(200, 40).Split("doc-1", report)[1]
	results, err := f.index.Query(ctx, rag.Query{
		Vector:  rag.NewHashEmbedder(rag.DefaultDimension).Embed(chunk.Text),
		K:       3,
		OwnerID: "7",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, rag.ChunkID("doc-1", 1), results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestAskIsScopedToOwner(t *testing.T) {
	f := newFixture(t, rag.Config{})
	ctx := context.Background()
	_, err := f.orch.Ingest(ctx, rag.Document{ID: "a", OwnerID: "1", Title: "A", Content: report})
	require.NoError(t, err)
	_, err = f.orch.Ingest(ctx, rag.Document{ID: "b", OwnerID: "2", Title: "B", Content: "Notes about gardening tomatoes and watering schedules in summer."})
	require.NoError(t, err)

	res, err := f.orch.Ask(ctx, "How much did revenue grow?", "2")
	require.NoError(t, err)
	for _, r := range res.Context {
		assert.Equal(t, "2", r.Metadata.OwnerID)
		assert.Equal(t, "b", r.Metadata.DocumentID)
	}
}

func TestAskRejectsInvalidQuestion(t *testing.T) {
	f := newFixture(t, rag.Config{})

	_, err := f.orch.Ask(context.Background(), "hi", "7")
	var verr *rag.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, rag.ErrQuestionTooShort)

	_, err = f.orch.Ask(context.Background(), strings.Repeat("q", 1001), "7")
	assert.ErrorIs(t, err, rag.ErrQuestionTooLong)

	_, err = f.orch.Ask(context.Background(), "What changed?", "")
	assert.ErrorIs(t, err, rag.ErrMissingOwner)

	assert.Zero(t, f.spy.queries)
	assert.Zero(t, f.gen.calls)
	assert.Empty(t, f.store.sessions)
}

func TestAskWithoutDocuments(t *testing.T) {
	f := newFixture(t, rag.Config{})

	res, err := f.orch.Ask(context.Background(), "What is in my documents?", "7")
	require.NoError(t, err)
	assert.Equal(t, rag.NoDocumentsAnswer, res.Answer)
	assert.Zero(t, res.TokensUsed)
	assert.Zero(t, res.ResponseTime)
	assert.Empty(t, res.Context)
	assert.NotNil(t, res.RelevantDocuments)
	assert.Zero(t, f.gen.calls)

	require.Len(t, f.store.sessions, 1)
	assert.Equal(t, rag.SessionNoContext, f.store.sessions[0].Status)
	assert.Equal(t, "session-1", res.SessionID)
}

func TestAskGenerationFailurePersistsDegradedSession(t *testing.T) {
	f := newFixture(t, rag.Config{})
	ctx := context.Background()
	_, err := f.orch.Ingest(ctx, rag.Document{ID: "doc-1", OwnerID: "7", Title: "Q3", Content: report})
	require.NoError(t, err)
	f.gen.err = errors.New("upstream unavailable")

	res, err := f.orch.Ask(ctx, "How much did revenue grow?", "7")
	assert.Nil(t, res)
	var gerr *rag.GenerationError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "session-1", gerr.SessionID)

	require.Len(t, f.store.sessions, 1)
	saved := f.store.sessions[0]
	assert.Equal(t, rag.SessionFailed, saved.Status)
	assert.Equal(t, "upstream unavailable", saved.Error)
	assert.Equal(t, rag.GenerationFailedAnswer, saved.Answer)
	assert.NotEmpty(t, saved.Context)
}

func TestAskGenerationTimeout(t *testing.T) {
	f := newFixture(t, rag.Config{GenerateTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	_, err := f.orch.Ingest(ctx, rag.Document{ID: "doc-1", OwnerID: "7", Title: "Q3", Content: report})
	require.NoError(t, err)
	f.gen.block = true

	_, err = f.orch.Ask(ctx, "How much did revenue grow?", "7")
	var gerr *rag.GenerationError
	require.ErrorAs(t, err, &gerr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.Len(t, f.store.sessions, 1)
}

func TestAskStoreFailure(t *testing.T) {
	f := newFixture(t, rag.Config{})
	f.store.err = errors.New("connection refused")

	res, err := f.orch.Ask(context.Background(), "What is in my documents?", "7")
	assert.Nil(t, res)
	var serr *rag.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "save qa session", serr.Op)
}

func TestReprocessReplacesEntries(t *testing.T) {
	f := newFixture(t, rag.Config{})
	ctx := context.Background()
	doc := rag.Document{ID: "doc-1", OwnerID: "7", Title: "Q3", Content: report}

	first, err := f.orch.Ingest(ctx, doc)
	require.NoError(t, err)
	second, err := f.orch.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, first, f.index.Len())

	doc.Content = "A single short paragraph after the edit."
	n, err := f.orch.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.index.Len())
}

func TestIngestEmptyContentClearsEntries(t *testing.T) {
	f := newFixture(t, rag.Config{})
	ctx := context.Background()
	_, err := f.orch.Ingest(ctx, rag.Document{ID: "doc-1", OwnerID: "7", Content: report})
	require.NoError(t, err)

	n, err := f.orch.Ingest(ctx, rag.Document{ID: "doc-1", OwnerID: "7", Content: "   \n  "})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.index.Len())
	assert.Equal(t, statusEvent{rag.StatusIndexed, 0, ""}, f.status.last("doc-1"))
}

func TestIngestIndexFailure(t *testing.T) {
	f := newFixture(t, rag.Config{})
	f.spy.upsertErr = errors.New("index offline")

	_, err := f.orch.Ingest(context.Background(), rag.Document{ID: "doc-1", OwnerID: "7", Content: report})
	var ierr *rag.IndexingError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "doc-1", ierr.DocumentID)

	last := f.status.last("doc-1")
	assert.Equal(t, rag.StatusIndexFailed, last.status)
	assert.Contains(t, last.errMsg, "index offline")
}

func TestIngestRequiresOwner(t *testing.T) {
	f := newFixture(t, rag.Config{})
	_, err := f.orch.Ingest(context.Background(), rag.Document{ID: "doc-1", Content: report})
	assert.ErrorIs(t, err, rag.ErrMissingOwner)
}

func TestOnDocumentDeleted(t *testing.T) {
	f := newFixture(t, rag.Config{})
	ctx := context.Background()
	_, err := f.orch.Ingest(ctx, rag.Document{ID: "doc-1", OwnerID: "7", Content: report})
	require.NoError(t, err)

	require.NoError(t, f.orch.OnDocumentDeleted(ctx, "doc-1"))
	assert.Zero(t, f.index.Len())

	res, err := f.orch.Ask(ctx, "How much did revenue grow?", "7")
	require.NoError(t, err)
	assert.Equal(t, rag.NoDocumentsAnswer, res.Answer)
}

func TestNewOrchestratorRequiresCollaborators(t *testing.T) {
	_, err := rag.NewOrchestrator(rag.Config{}, rag.Dependencies{})
	assert.Error(t, err)
}
