package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa/internal/app"
	"docqa/internal/model"
	"docqa/internal/pkg/textextract"
	"docqa/internal/rag"
	"docqa/internal/transport/http/response"
)

const uploadField = "document"

type DocumentService interface {
	Upload(ctx context.Context, input app.UploadInput) (*model.Document, error)
	List(ctx context.Context, ownerID uint, page, limit int) (*app.DocumentList, error)
	Get(ctx context.Context, ownerID uint, id string) (*model.Document, error)
	Delete(ctx context.Context, ownerID uint, id string) error
	Reprocess(ctx context.Context, ownerID uint, id string) (int, error)
}

type DocumentHandler struct {
	documents DocumentService
	maxBytes  int64
}

func NewDocumentHandler(documents DocumentService, maxBytes int64) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = textextract.DefaultMaxBytes
	}
	return &DocumentHandler{documents: documents, maxBytes: maxBytes}
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	file, err := c.FormFile(uploadField)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeInvalidFile, "no file uploaded")
		return
	}
	if file.Size > h.maxBytes {
		response.Error(c, http.StatusBadRequest, response.CodeInvalidFile,
			fmt.Sprintf("%s: maximum size is %dMB", textextract.ErrFileTooLarge, h.maxBytes>>20))
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}

	doc, err := h.documents.Upload(c.Request.Context(), app.UploadInput{
		OwnerID:  userID,
		FileName: file.Filename,
		Title:    c.PostForm("title"),
		Data:     data,
	})
	if err != nil {
		h.writeError(c, err, "upload document failed")
		return
	}

	summary := *doc
	summary.Content = ""
	response.Created(c, gin.H{"document": summary})
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	page, limit := pageParams(c)
	list, err := h.documents.List(c.Request.Context(), userID, page, limit)
	if err != nil {
		h.writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, list)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "get document failed")
		return
	}
	response.OK(c, gin.H{"document": doc})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted": true})
}

func (h *DocumentHandler) Reprocess(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	count, err := h.documents.Reprocess(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "reprocess document failed")
		return
	}
	response.OK(c, gin.H{"chunk_count": count})
}

func (h *DocumentHandler) writeError(c *gin.Context, err error, fallback string) {
	var indexErr *rag.IndexingError
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrDocumentNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
	case errors.Is(err, textextract.ErrUnsupportedType),
		errors.Is(err, textextract.ErrFileTooLarge),
		errors.Is(err, textextract.ErrFileTooSmall),
		errors.Is(err, textextract.ErrInvalidFormat),
		errors.Is(err, textextract.ErrNoText):
		response.Error(c, http.StatusBadRequest, response.CodeInvalidFile, err.Error())
	case errors.As(err, &indexErr):
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "document indexing failed")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
