package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finflow-labs/sentinel/internal/policy"
	"github.com/finflow-labs/sentinel/internal/service"
)

const testJWTSecret = "test-secret"

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func resolveThrough(t *testing.T, authService *service.AuthService, header http.Header) (string, policy.Tier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var identifier string
	var tier policy.Tier

	router := gin.New()
	router.Use(Identity(authService, nil))
	router.GET("/", func(c *gin.Context) {
		identifier = Identifier(c)
		tier = TierOf(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:4711"
	req.Header = header
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	return identifier, tier
}

func TestIdentity_AnonymousFallsBackToIP(t *testing.T) {
	identifier, tier := resolveThrough(t, nil, http.Header{})

	assert.Equal(t, "ip:203.0.113.5", identifier)
	assert.Equal(t, policy.TierFree, tier)
}

func TestIdentity_BearerTokenResolvesUserAndTier(t *testing.T) {
	authService := service.NewAuthService(nil, testJWTSecret, 24)
	token := signTestToken(t, jwt.MapClaims{
		"user_id": "42",
		"tier":    "premium",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	identifier, tier := resolveThrough(t, authService, http.Header{
		"Authorization": {"Bearer " + token},
	})

	assert.Equal(t, "user:42", identifier)
	assert.Equal(t, policy.TierPremium, tier)
}

func TestIdentity_UnknownTierClaimDegradesToFree(t *testing.T) {
	authService := service.NewAuthService(nil, testJWTSecret, 24)
	token := signTestToken(t, jwt.MapClaims{
		"user_id": "42",
		"tier":    "platinum",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})

	identifier, tier := resolveThrough(t, authService, http.Header{
		"Authorization": {"Bearer " + token},
	})

	assert.Equal(t, "user:42", identifier)
	assert.Equal(t, policy.TierFree, tier)
}

func TestIdentity_BadTokenFallsBackToIP(t *testing.T) {
	authService := service.NewAuthService(nil, testJWTSecret, 24)

	for _, header := range []http.Header{
		{"Authorization": {"Bearer not-a-token"}},
		{"Authorization": {"Basic dXNlcjpwYXNz"}},
	} {
		identifier, tier := resolveThrough(t, authService, header)
		assert.Equal(t, "ip:203.0.113.5", identifier)
		assert.Equal(t, policy.TierFree, tier)
	}
}

func TestIdentity_ExpiredTokenFallsBackToIP(t *testing.T) {
	authService := service.NewAuthService(nil, testJWTSecret, 24)
	token := signTestToken(t, jwt.MapClaims{
		"user_id": "42",
		"tier":    "premium",
		"exp":     time.Now().Add(-time.Hour).Unix(),
	})

	identifier, _ := resolveThrough(t, authService, http.Header{
		"Authorization": {"Bearer " + token},
	})

	assert.Equal(t, "ip:203.0.113.5", identifier)
}

func TestIdentifier_DefaultsWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.5:4711"

	assert.Equal(t, "ip:203.0.113.5", Identifier(c))
	assert.Equal(t, policy.TierFree, TierOf(c))
}
