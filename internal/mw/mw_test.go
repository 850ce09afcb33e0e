package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r *gin.Engine, method, path, user string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set(IdentityHeader, user)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCache_PerUserAndFlush(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0
	r := gin.New()
	r.Use(FlushOnWrite(store))
	r.GET("/queue", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.POST("/queue", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := do(r, http.MethodGet, "/queue", "1")
	second := do(r, http.MethodGet, "/queue", "1")
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, 1, calls)

	do(r, http.MethodGet, "/queue", "2")
	assert.Equal(t, 2, calls, "another user misses the cache")

	do(r, http.MethodPost, "/queue", "1")
	do(r, http.MethodGet, "/queue", "1")
	assert.Equal(t, 3, calls, "a write flushes cached views")
}

func TestCache_SkipsErrors(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0
	r := gin.New()
	r.GET("/boom", Cache(store, time.Minute), func(c *gin.Context) {
		calls++
		c.Status(http.StatusInternalServerError)
	})
	do(r, http.MethodGet, "/boom", "1")
	do(r, http.MethodGet, "/boom", "1")
	assert.Equal(t, 2, calls)
}

func TestRateLimiter_PerUser(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(0.001), 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "1").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "1").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet, "/", "1").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "2").Code)
}

func TestRequestLogger_AssignsID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()))
	var logged bool
	r.GET("/", func(c *gin.Context) {
		logged = zerolog.Ctx(c.Request.Context()) != nil
		c.Status(http.StatusOK)
	})

	w := do(r, http.MethodGet, "/", "")
	require.True(t, logged)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc")
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}
