package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/pkg/jwtutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		id, _ := UserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id})
	})
	r.GET("/", handlers...)
	return r
}

func get(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthJWT(t *testing.T) {
	r := newEngine(AuthJWT("secret"))
	token, err := jwtutil.GenerateToken("secret", time.Hour, 9, "ada")
	require.NoError(t, err)
	other, err := jwtutil.GenerateToken("other", time.Hour, 9, "ada")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Token "+token).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer "+other).Code)

	w := get(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":9}`, w.Body.String())
}

func TestRateLimiterPerKey(t *testing.T) {
	var rejected []string
	limiter, err := NewRateLimiter("ask", 2, time.Minute, 10, "slow down", func(name string) {
		rejected = append(rejected, name)
	})
	require.NoError(t, err)

	key := "a"
	r := newEngine(limiter.Middleware(func(*gin.Context) string { return key }))

	assert.Equal(t, http.StatusOK, get(r, "").Code)
	assert.Equal(t, http.StatusOK, get(r, "").Code)
	w := get(r, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "slow down")
	assert.Equal(t, []string{"ask"}, rejected)

	key = "b"
	assert.Equal(t, http.StatusOK, get(r, "").Code)
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	limiter, err := NewRateLimiter("auth", 1, time.Hour, 1, "", nil)
	require.NoError(t, err)

	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("b"))
	// "a" was evicted by "b" and starts with a fresh bucket
	assert.True(t, limiter.Allow("a"))
}

func TestNewRateLimiterRejectsZeroRate(t *testing.T) {
	_, err := NewRateLimiter("x", 0, time.Minute, 1, "", nil)
	assert.Error(t, err)
}

func TestByUserFallsBackToIP(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "ip:10.0.0.1", ByUser(c))

	c.Set(ContextUserIDKey, uint(4))
	assert.Equal(t, "user:4", ByUser(c))
}
