package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa/internal/app"
	"docqa/internal/model"
	"docqa/internal/rag"
	"docqa/internal/transport/http/response"
)

type QAService interface {
	Ask(ctx context.Context, userID uint, question string) (*rag.QAResult, error)
	History(ctx context.Context, userID uint, page, limit int) (*app.QAHistory, error)
	Session(ctx context.Context, userID uint, sessionID string) (*app.SessionDetail, error)
	Feedback(ctx context.Context, input app.FeedbackInput) error
	Analytics(ctx context.Context, userID uint) (*model.QAAnalytics, error)
}

type QAHandler struct {
	qa QAService
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

type FeedbackRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func NewQAHandler(qa QAService) *QAHandler {
	return &QAHandler{qa: qa}
}

func (h *QAHandler) Ask(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.qa.Ask(c.Request.Context(), userID, req.Question)
	if err != nil {
		var (
			validationErr *rag.ValidationError
			generationErr *rag.GenerationError
		)
		switch {
		case errors.As(err, &validationErr):
			response.Error(c, http.StatusBadRequest, response.CodeInvalidQuestion, validationErr.Error())
		case errors.As(err, &generationErr):
			response.ErrorWithData(c, http.StatusBadGateway, response.CodeGenerationFailed,
				"answer generation failed", gin.H{"session_id": generationErr.SessionID})
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ask question failed")
		}
		return
	}
	response.OK(c, result)
}

func (h *QAHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	page, limit := pageParams(c)
	history, err := h.qa.History(c.Request.Context(), userID, page, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get qa history failed")
		return
	}
	response.OK(c, history)
}

func (h *QAHandler) Session(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	session, err := h.qa.Session(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrQASessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get qa session failed")
		}
		return
	}
	response.OK(c, gin.H{"session": session})
}

func (h *QAHandler) Feedback(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	err := h.qa.Feedback(c.Request.Context(), app.FeedbackInput{
		UserID:    userID,
		SessionID: c.Param("id"),
		Rating:    req.Rating,
		Feedback:  req.Feedback,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidRating), errors.Is(err, app.ErrFeedbackTooLong):
			response.Error(c, http.StatusBadRequest, response.CodeInvalidFeedback, err.Error())
		case errors.Is(err, app.ErrQASessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "save feedback failed")
		}
		return
	}
	response.OK(c, gin.H{"saved": true})
}

func (h *QAHandler) Analytics(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	stats, err := h.qa.Analytics(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get qa analytics failed")
		return
	}
	response.OK(c, gin.H{"analytics": stats})
}
