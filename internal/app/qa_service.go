package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"docqa/internal/cache"
	"docqa/internal/model"
	"docqa/internal/rag"
)

const maxFeedbackLength = 1000

var (
	ErrQASessionNotFound = errors.New("qa session not found or access denied")
	ErrInvalidRating     = errors.New("rating must be between 1 and 5")
	ErrFeedbackTooLong   = errors.New("feedback must be less than 1000 characters")
)

type QASessionStore interface {
	Create(ctx context.Context, session *model.QASession) error
	ListByUserID(ctx context.Context, userID uint, page, limit int) ([]model.QASession, int64, error)
	GetByIDAndUserID(ctx context.Context, id string, userID uint) (*model.QASession, error)
	UpdateFeedback(ctx context.Context, id string, userID uint, rating int, feedback *string) (bool, error)
	Analytics(ctx context.Context, userID uint) (*model.QAAnalytics, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, userID uint, limit int) (*cache.HistoryPage, bool, error)
	SetHistory(ctx context.Context, userID uint, limit int, page *cache.HistoryPage) error
	Invalidate(ctx context.Context, userID uint) error
	IsDirty(ctx context.Context, userID uint) (bool, error)
}

type Asker interface {
	Ask(ctx context.Context, question, ownerID string) (*rag.QAResult, error)
}

// SessionRecorder persists retrieval sessions as QA records and marks the
// owner's cached history dirty.
type SessionRecorder struct {
	sessions     QASessionStore
	historyCache HistoryCache
}

func NewSessionRecorder(sessions QASessionStore, historyCache HistoryCache) *SessionRecorder {
	return &SessionRecorder{sessions: sessions, historyCache: historyCache}
}

func (r *SessionRecorder) Save(ctx context.Context, session *rag.Session) (string, error) {
	userID, err := strconv.ParseUint(session.OwnerID, 10, 64)
	if err != nil || userID == 0 {
		return "", fmt.Errorf("parse session owner %q failed: %w", session.OwnerID, ErrInvalidInput)
	}

	contextJSON, err := json.Marshal(session.Context)
	if err != nil {
		return "", fmt.Errorf("marshal session context failed: %w", err)
	}
	docsJSON, err := json.Marshal(session.RelevantDocuments)
	if err != nil {
		return "", fmt.Errorf("marshal relevant documents failed: %w", err)
	}

	record := &model.QASession{
		ID:                uuid.NewString(),
		UserID:            uint(userID),
		Question:          session.Question,
		Answer:            session.Answer,
		Context:           string(contextJSON),
		RelevantDocuments: string(docsJSON),
		TokensUsed:        session.TokensUsed,
		ResponseTime:      session.ResponseTime,
		GenerationTime:    session.GenerationTime,
		Status:            string(session.Status),
		Error:             session.Error,
	}
	if err := r.sessions.Create(ctx, record); err != nil {
		return "", err
	}

	if r.historyCache != nil {
		if err := r.historyCache.Invalidate(ctx, record.UserID); err != nil {
			log.Printf("invalidate qa history cache failed: %v", err)
		}
	}
	return record.ID, nil
}

type QAService struct {
	asker        Asker
	sessions     QASessionStore
	historyCache HistoryCache
}

type QAHistory struct {
	Sessions   []model.QASession `json:"sessions"`
	Pagination Pagination        `json:"pagination"`
}

// SessionDetail is a stored session with its retrieval context decoded.
type SessionDetail struct {
	model.QASession
	Context           []rag.RetrievalResult  `json:"context"`
	RelevantDocuments []rag.RelevantDocument `json:"relevant_documents"`
}

type FeedbackInput struct {
	UserID    uint
	SessionID string
	Rating    int
	Feedback  string
}

func NewQAService(asker Asker, sessions QASessionStore, historyCache HistoryCache) *QAService {
	return &QAService{
		asker:        asker,
		sessions:     sessions,
		historyCache: historyCache,
	}
}

func (s *QAService) Ask(ctx context.Context, userID uint, question string) (*rag.QAResult, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.asker.Ask(ctx, question, ownerKey(userID))
}

// History returns one page of the user's sessions, newest first. The first
// page is served from cache unless a recent write marked it dirty.
func (s *QAService) History(ctx context.Context, userID uint, page, limit int) (*QAHistory, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	page, limit = normalizePage(page, limit)
	cacheable := page == 1 && s.historyCache != nil

	if cacheable {
		dirty, err := s.historyCache.IsDirty(ctx, userID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, userID, limit); cacheErr == nil && hit {
				return &QAHistory{Sessions: cached.Sessions, Pagination: newPagination(page, limit, cached.Total)}, nil
			}
		}
	}

	sessions, total, err := s.sessions.ListByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.QASession{}
	}

	if cacheable {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, userID); dirtyErr == nil && !dirty {
			if err := s.historyCache.SetHistory(ctx, userID, limit, &cache.HistoryPage{Sessions: sessions, Total: total}); err != nil {
				log.Printf("cache qa history failed: %v", err)
			}
		}
	}
	return &QAHistory{Sessions: sessions, Pagination: newPagination(page, limit, total)}, nil
}

func (s *QAService) Session(ctx context.Context, userID uint, sessionID string) (*SessionDetail, error) {
	if userID == 0 || strings.TrimSpace(sessionID) == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.sessions.GetByIDAndUserID(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrQASessionNotFound
	}

	detail := &SessionDetail{
		QASession:         *session,
		Context:           []rag.RetrievalResult{},
		RelevantDocuments: []rag.RelevantDocument{},
	}
	if session.Context != "" {
		if err := json.Unmarshal([]byte(session.Context), &detail.Context); err != nil {
			return nil, fmt.Errorf("decode session context failed: %w", err)
		}
	}
	if session.RelevantDocuments != "" {
		if err := json.Unmarshal([]byte(session.RelevantDocuments), &detail.RelevantDocuments); err != nil {
			return nil, fmt.Errorf("decode relevant documents failed: %w", err)
		}
	}
	return detail, nil
}

func (s *QAService) Feedback(ctx context.Context, input FeedbackInput) error {
	if input.UserID == 0 || strings.TrimSpace(input.SessionID) == "" {
		return ErrInvalidInput
	}
	if input.Rating < 1 || input.Rating > 5 {
		return ErrInvalidRating
	}
	feedback := strings.TrimSpace(input.Feedback)
	if utf8.RuneCountInString(feedback) > maxFeedbackLength {
		return ErrFeedbackTooLong
	}

	var note *string
	if feedback != "" {
		note = &feedback
	}
	ok, err := s.sessions.UpdateFeedback(ctx, input.SessionID, input.UserID, input.Rating, note)
	if err != nil {
		return err
	}
	if !ok {
		return ErrQASessionNotFound
	}

	if s.historyCache != nil {
		if err := s.historyCache.Invalidate(ctx, input.UserID); err != nil {
			log.Printf("invalidate qa history cache failed: %v", err)
		}
	}
	log.Printf("feedback added to session %s: rating %d", input.SessionID, input.Rating)
	return nil
}

func (s *QAService) Analytics(ctx context.Context, userID uint) (*model.QAAnalytics, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessions.Analytics(ctx, userID)
}
