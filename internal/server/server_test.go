package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ixlab-labs/igni/internal/config"
)

func newTestConfig() *config.Config {
	c := config.Default()
	c.Bind = ":0"
	return c
}

func TestBuildEngine_HealthzOK(t *testing.T) {
	s := New(newTestConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildEngine_MetricsExposed(t *testing.T) {
	s := New(newTestConfig(), zap.NewNop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "igni_")
}

func TestBuildEngine_JWTSecretGatesRoutes(t *testing.T) {
	c := newTestConfig()
	c.JWTSecret = "test-secret"
	s := New(c, zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v2/spec/whatever", nil)
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReapIdleSpecs_StopsOnContextCancel(t *testing.T) {
	c := newTestConfig()
	c.SpecIdleTime = 1
	s := New(c, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.reapIdleSpecs(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reapIdleSpecs did not return after context cancellation")
	}
}

func TestStart_ShutsDownOnContextCancel(t *testing.T) {
	s := New(newTestConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
}
