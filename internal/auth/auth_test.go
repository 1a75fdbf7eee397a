package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret, tenant string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		TenantID:         tenant,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier("s3cr3t")
	tok := signToken(t, "s3cr3t", "tenant-a", false)
	claims, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", claims.TenantID)
}

func TestVerify_WrongSecretRejected(t *testing.T) {
	v := NewVerifier("s3cr3t")
	tok := signToken(t, "other-secret", "tenant-a", false)
	_, err := v.Verify(tok)
	require.Error(t, err)
}

func TestVerify_ExpiredRejected(t *testing.T) {
	v := NewVerifier("s3cr3t")
	tok := signToken(t, "s3cr3t", "tenant-a", true)
	_, err := v.Verify(tok)
	require.Error(t, err)
}

func TestMiddleware_MissingHeaderReturns401(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(NewVerifier("s3cr3t")))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_ValidTokenSetsTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewVerifier("s3cr3t")
	r := gin.New()
	r.Use(Middleware(v))
	r.GET("/x", func(c *gin.Context) {
		tenant, ok := TenantFromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, tenant)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "s3cr3t", "tenant-b", false))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-b", w.Body.String())
}
