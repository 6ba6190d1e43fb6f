package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/cache"
	"docqa/internal/model"
	"docqa/internal/rag"
)

type fakeSessions struct {
	mu        sync.Mutex
	records   []model.QASession
	listCalls int
	createErr error
}

func (f *fakeSessions) Create(_ context.Context, s *model.QASession) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *s)
	return nil
}

func (f *fakeSessions) ListByUserID(_ context.Context, userID uint, page, limit int) ([]model.QASession, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []model.QASession
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].UserID == userID {
			out = append(out, f.records[i])
		}
	}
	total := int64(len(out))
	start := (page - 1) * limit
	if start >= len(out) {
		return nil, total, nil
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (f *fakeSessions) GetByIDAndUserID(_ context.Context, id string, userID uint) (*model.QASession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ID == id && f.records[i].UserID == userID {
			cp := f.records[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSessions) UpdateFeedback(_ context.Context, id string, userID uint, rating int, feedback *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.records {
		if f.records[i].ID == id && f.records[i].UserID == userID {
			f.records[i].Rating = &rating
			f.records[i].Feedback = feedback
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSessions) Analytics(_ context.Context, userID uint) (*model.QAAnalytics, error) {
	return &model.QAAnalytics{TotalSessions: int64(len(f.records))}, nil
}

type fakeAsker struct {
	question, owner string
}

func (f *fakeAsker) Ask(_ context.Context, question, ownerID string) (*rag.QAResult, error) {
	f.question, f.owner = question, ownerID
	return &rag.QAResult{SessionID: "s-1", Answer: "ok"}, nil
}

func newHistoryCache(t *testing.T) (*cache.HistoryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisv9.NewClient(&redisv9.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewHistoryCache(client, time.Minute, 5*time.Second), mr
}

func sampleSession(owner string) *rag.Session {
	return &rag.Session{
		OwnerID:  owner,
		Question: "How many leave days?",
		Answer:   "Twenty.",
		Context: []rag.RetrievalResult{{
			ID:       "d1_chunk_0",
			Score:    0.8,
			Metadata: rag.Metadata{Title: "Handbook", Content: "twenty days", DocumentID: "d1", OwnerID: owner, TotalChunks: 1},
		}},
		RelevantDocuments: []rag.RelevantDocument{{ID: "d1", Title: "Handbook", Score: 0.8}},
		TokensUsed:        42,
		ResponseTime:      120,
		GenerationTime:    100,
		Status:            rag.SessionAnswered,
	}
}

func TestSessionRecorderSaveAndDetail(t *testing.T) {
	ctx := context.Background()
	store := &fakeSessions{}
	hc, mr := newHistoryCache(t)
	rec := NewSessionRecorder(store, hc)

	id, err := rec.Save(ctx, sampleSession("7"))
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.True(t, mr.Exists("qa:history-dirty:7"))

	require.Len(t, store.records, 1)
	assert.EqualValues(t, 7, store.records[0].UserID)
	assert.Equal(t, "answered", store.records[0].Status)
	assert.EqualValues(t, 120, store.records[0].ResponseTime)

	svc := NewQAService(&fakeAsker{}, store, hc)
	detail, err := svc.Session(ctx, 7, id)
	require.NoError(t, err)
	require.Len(t, detail.Context, 1)
	assert.Equal(t, "twenty days", detail.Context[0].Metadata.Content)
	assert.Equal(t, []rag.RelevantDocument{{ID: "d1", Title: "Handbook", Score: 0.8}}, detail.RelevantDocuments)

	_, err = svc.Session(ctx, 8, id)
	assert.ErrorIs(t, err, ErrQASessionNotFound)
}

func TestSessionRecorderRejectsBadOwner(t *testing.T) {
	_, err := NewSessionRecorder(&fakeSessions{}, nil).Save(context.Background(), sampleSession("alice"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSessionRecorderPropagatesStoreFailure(t *testing.T) {
	_, err := NewSessionRecorder(&fakeSessions{createErr: errors.New("db down")}, nil).Save(context.Background(), sampleSession("7"))
	assert.EqualError(t, err, "db down")
}

func TestAskPassesOwnerKey(t *testing.T) {
	asker := &fakeAsker{}
	svc := NewQAService(asker, &fakeSessions{}, nil)

	res, err := svc.Ask(context.Background(), 42, "What is the policy?")
	require.NoError(t, err)
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, "42", asker.owner)

	_, err = svc.Ask(context.Background(), 0, "What is the policy?")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHistoryCachesFirstPageUntilDirty(t *testing.T) {
	ctx := context.Background()
	store := &fakeSessions{}
	hc, mr := newHistoryCache(t)
	rec := NewSessionRecorder(store, hc)
	svc := NewQAService(&fakeAsker{}, store, hc)

	_, err := rec.Save(ctx, sampleSession("7"))
	require.NoError(t, err)

	// dirty marker set by the save keeps reads on the store
	first, err := svc.History(ctx, 7, 1, 10)
	require.NoError(t, err)
	assert.Len(t, first.Sessions, 1)
	assert.Equal(t, 1, store.listCalls)
	assert.False(t, mr.Exists("qa:history:7:10"))

	mr.FastForward(6 * time.Second)
	_, err = svc.History(ctx, 7, 1, 10)
	require.NoError(t, err)
	assert.True(t, mr.Exists("qa:history:7:10"))

	cached, err := svc.History(ctx, 7, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls)
	assert.Equal(t, Pagination{Page: 1, Limit: 10, Total: 1, Pages: 1}, cached.Pagination)
	assert.Equal(t, "How many leave days?", cached.Sessions[0].Question)

	_, err = svc.History(ctx, 7, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, store.listCalls)

	_, err = rec.Save(ctx, sampleSession("7"))
	require.NoError(t, err)
	assert.False(t, mr.Exists("qa:history:7:10"))
	fresh, err := svc.History(ctx, 7, 1, 10)
	require.NoError(t, err)
	assert.Len(t, fresh.Sessions, 2)
}

func TestFeedbackValidation(t *testing.T) {
	ctx := context.Background()
	store := &fakeSessions{}
	id, err := NewSessionRecorder(store, nil).Save(ctx, sampleSession("7"))
	require.NoError(t, err)
	svc := NewQAService(&fakeAsker{}, store, nil)

	assert.ErrorIs(t, svc.Feedback(ctx, FeedbackInput{UserID: 7, SessionID: id, Rating: 0}), ErrInvalidRating)
	assert.ErrorIs(t, svc.Feedback(ctx, FeedbackInput{UserID: 7, SessionID: id, Rating: 6}), ErrInvalidRating)
	assert.ErrorIs(t, svc.Feedback(ctx, FeedbackInput{
		UserID: 7, SessionID: id, Rating: 3, Feedback: strings.Repeat("é", 1001),
	}), ErrFeedbackTooLong)
	assert.ErrorIs(t, svc.Feedback(ctx, FeedbackInput{UserID: 8, SessionID: id, Rating: 3}), ErrQASessionNotFound)

	require.NoError(t, svc.Feedback(ctx, FeedbackInput{UserID: 7, SessionID: id, Rating: 4, Feedback: strings.Repeat("é", 1000)}))
	require.NotNil(t, store.records[0].Rating)
	assert.Equal(t, 4, *store.records[0].Rating)

	require.NoError(t, svc.Feedback(ctx, FeedbackInput{UserID: 7, SessionID: id, Rating: 5, Feedback: "   "}))
	assert.Nil(t, store.records[0].Feedback)
}
