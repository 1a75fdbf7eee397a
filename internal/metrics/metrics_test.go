package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := NewRegistry()
	reg.PartsPushed.Inc()
	reg.ActiveSpecs.Set(3)

	r := gin.New()
	r.GET("/metrics", reg.Handler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "igni_parts_pushed_total 1")
	assert.Contains(t, body, "igni_active_specs 3")
}
