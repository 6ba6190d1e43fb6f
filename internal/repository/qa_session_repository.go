package repository

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"

	"docqa/internal/model"
)

type analyticsRow struct {
	TotalSessions   int64
	AvgResponseTime float64
	TotalTokens     int64
	AvgRating       float64
}

type QASessionRepository struct {
	db *gorm.DB
}

func NewQASessionRepository(db *gorm.DB) *QASessionRepository {
	return &QASessionRepository{db: db}
}

func (r *QASessionRepository) Create(ctx context.Context, session *model.QASession) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("create qa session failed: %w", err)
	}
	return nil
}

func (r *QASessionRepository) ListByUserID(ctx context.Context, userID uint, page, limit int) ([]model.QASession, int64, error) {
	scope := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&model.QASession{}).Where("user_id = ?", userID)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count qa sessions failed: %w", err)
	}

	var list []model.QASession
	if err := scope().Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("list qa sessions failed: %w", err)
	}
	return list, total, nil
}

func (r *QASessionRepository) GetByIDAndUserID(ctx context.Context, id string, userID uint) (*model.QASession, error) {
	var session model.QASession
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get qa session failed: %w", err)
	}
	return &session, nil
}

// UpdateFeedback reports whether a session owned by userID was updated.
func (r *QASessionRepository) UpdateFeedback(ctx context.Context, id string, userID uint, rating int, feedback *string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.QASession{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"rating": rating, "feedback": feedback})
	if res.Error != nil {
		return false, fmt.Errorf("update qa feedback failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *QASessionRepository) Analytics(ctx context.Context, userID uint) (*model.QAAnalytics, error) {
	var row analyticsRow
	err := r.db.WithContext(ctx).Model(&model.QASession{}).
		Select("COUNT(*) AS total_sessions, " +
			"COALESCE(AVG(response_time), 0) AS avg_response_time, " +
			"COALESCE(SUM(tokens_used), 0) AS total_tokens, " +
			"COALESCE(AVG(rating), 0) AS avg_rating").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("query qa analytics failed: %w", err)
	}
	return &model.QAAnalytics{
		TotalSessions:       row.TotalSessions,
		AverageResponseTime: int64(math.Round(row.AvgResponseTime)),
		TotalTokensUsed:     row.TotalTokens,
		AverageRating:       math.Round(row.AvgRating*10) / 10,
	}, nil
}
