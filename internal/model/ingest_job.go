package model

// IngestJob asks a worker to index a stored document.
type IngestJob struct {
	DocumentID string `json:"document_id"`
	OwnerID    uint   `json:"owner_id"`
}
