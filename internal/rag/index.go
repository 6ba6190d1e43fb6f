package rag

import (
	"context"
	"fmt"
)

// Metadata travels with every indexed vector and is returned verbatim by
// queries.
type Metadata struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	DocumentID  string `json:"document_id"`
	OwnerID     string `json:"owner_id"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

type IndexEntry struct {
	ID       string
	Vector   []float64
	Metadata Metadata
}

type RetrievalResult struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// Query asks for the K entries closest to Vector. An empty OwnerID matches
// nothing.
type Query struct {
	Vector  []float64
	K       int
	OwnerID string
}

// VectorIndex stores chunk vectors namespaced by owner.
//
// Upsert replaces entries by id and, for every document touched, removes the
// entries whose chunk index is at or beyond the new TotalChunks. Both happen
// atomically with respect to readers of that document.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []IndexEntry) error
	Query(ctx context.Context, q Query) ([]RetrievalResult, error)
	Delete(ctx context.Context, documentID string) error
}

func ChunkID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, chunkIndex)
}
