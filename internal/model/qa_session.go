package model

import "time"

// QASession is one answered question. Context and RelevantDocuments hold JSON.
type QASession struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	Question          string    `gorm:"type:text;not null" json:"question"`
	Answer            string    `gorm:"type:text;not null" json:"answer"`
	Context           string    `gorm:"type:longtext" json:"-"`
	RelevantDocuments string    `gorm:"type:text" json:"-"`
	TokensUsed        int       `gorm:"not null;default:0" json:"tokens_used"`
	ResponseTime      int64     `gorm:"not null;default:0" json:"response_time"`
	GenerationTime    int64     `gorm:"not null;default:0" json:"generation_time"`
	Status            string    `gorm:"size:16;not null" json:"status"`
	Error             string    `gorm:"type:text" json:"error,omitempty"`
	Rating            *int      `json:"rating,omitempty"`
	Feedback          *string   `gorm:"type:text" json:"feedback,omitempty"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// QAAnalytics aggregates a user's sessions.
type QAAnalytics struct {
	TotalSessions       int64   `json:"total_sessions"`
	AverageResponseTime int64   `json:"average_response_time"`
	TotalTokensUsed     int64   `json:"total_tokens_used"`
	AverageRating       float64 `json:"average_rating"`
}
