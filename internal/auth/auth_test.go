package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Username:           "admin",
		Password:           "s3cret-password",
		JWTSecret:          "0123456789abcdef0123456789abcdef",
		TokenTTL:           time.Minute,
		MaxLoginAttempts:   3,
		LoginWindowSeconds: 60,
	}
}

func TestAuthenticateSucceedsWithCorrectCredentials(t *testing.T) {
	a := New(testConfig(), nil)

	token, err := a.Authenticate("admin", "s3cret-password", "10.0.0.1:5555")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	a := New(testConfig(), nil)

	_, err := a.Authenticate("admin", "wrong", "10.0.0.2:5555")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateRateLimitsAfterRepeatedFailures(t *testing.T) {
	a := New(testConfig(), nil)
	ip := "10.0.0.3:5555"

	for i := 0; i < 3; i++ {
		_, err := a.Authenticate("admin", "wrong", ip)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := a.Authenticate("admin", "s3cret-password", ip)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.TokenTTL = -time.Minute
	a := New(cfg, nil)

	token, err := a.CreateToken("admin")
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenRejectsTamperedSignature(t *testing.T) {
	a := New(testConfig(), nil)

	token, err := a.CreateToken("admin")
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = a.ValidateToken(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := New(testConfig(), nil)

	router := gin.New()
	router.Use(a.Middleware())
	router.GET("/zones", func(c *gin.Context) { c.Status(200) })

	req := httptest.NewRequest("GET", "/zones", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code)
}

func TestMiddlewareAllowsValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := New(testConfig(), nil)

	token, err := a.CreateToken("admin")
	require.NoError(t, err)

	router := gin.New()
	router.Use(a.Middleware())
	router.GET("/zones", func(c *gin.Context) { c.Status(200) })

	req := httptest.NewRequest("GET", "/zones", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}
