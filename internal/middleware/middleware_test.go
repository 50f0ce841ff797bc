package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-guard/ai-guard/internal/auth"
	"github.com/ai-guard/ai-guard/internal/db/models"
	"github.com/ai-guard/ai-guard/internal/testutil"
)

func TestRequestIDGenerated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())

	var inContext string
	router.GET("/x", func(c *gin.Context) {
		inContext = c.GetString(RequestIDKey)
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))

	echoed := rec.Header().Get(RequestIDHeader)
	assert.Len(t, echoed, 16)
	assert.Equal(t, echoed, inContext)
}

func TestRequestIDReused(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID())
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(RequestIDHeader, "lb-supplied-id")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "lb-supplied-id", rec.Header().Get(RequestIDHeader))
}

func authFixture(t *testing.T, scopes []string) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := testutil.NewUserRepo()
	tokens := testutil.NewTokenRepo()
	gen, err := auth.GeneratePAT()
	require.NoError(t, err)
	user := users.Add(&models.User{Email: "a@example.com"})
	tokens.Add(&models.PersonalAccessToken{
		Identifier: gen.Identifier, Hash: gen.Hash, UserID: user.ID, Name: "t", Scopes: scopes,
	})

	validator := auth.NewValidator(users, tokens, nil)
	router := gin.New()
	router.GET("/guarded", Auth(validator), RequireScope(auth.ScopeProjectsRead), func(c *gin.Context) {
		principal := Principal(c)
		c.JSON(http.StatusOK, gin.H{"userId": principal.User.ID})
	})
	return router, gen.Token
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("valid token with scope", func(t *testing.T) {
		router, token := authFixture(t, []string{"projects:read"})
		req := httptest.NewRequest("GET", "/guarded", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		router, _ := authFixture(t, []string{"projects:read"})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/guarded", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "AUTHENTICATION_ERROR")
	})

	t.Run("insufficient scope", func(t *testing.T) {
		router, token := authFixture(t, []string{"api:read"})
		req := httptest.NewRequest("GET", "/guarded", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestManagementRateLimitNilClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ManagementRateLimit(nil, 10))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
		require.Equal(t, http.StatusOK, rec.Code, "pass-through without redis")
	}
}
