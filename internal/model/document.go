package model

import "time"

// Document is an uploaded file and its extracted text. IndexStatus mirrors the
// retrieval state of its chunks.
type Document struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerID          uint       `gorm:"not null;index" json:"owner_id"`
	Title            string     `gorm:"size:256;not null" json:"title"`
	Content          string     `gorm:"type:longtext;not null" json:"content,omitempty"`
	OriginalFileName string     `gorm:"size:256;not null" json:"original_file_name"`
	FileType         string     `gorm:"size:16;not null" json:"file_type"`
	FileSize         int64      `gorm:"not null" json:"file_size"`
	IndexStatus      string     `gorm:"size:16;not null;index" json:"index_status"`
	IndexError       string     `gorm:"type:text" json:"index_error,omitempty"`
	ChunkCount       int        `gorm:"not null;default:0" json:"chunk_count"`
	IndexedAt        *time.Time `json:"indexed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
