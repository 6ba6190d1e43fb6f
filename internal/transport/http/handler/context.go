package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docqa/internal/transport/http/middleware"
	"docqa/internal/transport/http/response"
)

// currentUser writes a 401 when the request carries no authenticated user.
func currentUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return 0, false
	}
	return userID, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return page, limit
}
