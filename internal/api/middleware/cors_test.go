package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newCORSRouter(allowedOrigins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SetupCORS(allowedOrigins))
	router.GET("/health_check", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestSetupCORS_AllowsAnyOriginWhenUnconfigured(t *testing.T) {
	router := newCORSRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/health_check", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSetupCORS_RestrictsToConfiguredOrigins(t *testing.T) {
	router := newCORSRouter([]string{"https://coordinator.feralfile.com"})

	req := httptest.NewRequest(http.MethodGet, "/health_check", nil)
	req.Header.Set("Origin", "https://coordinator.feralfile.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://coordinator.feralfile.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req2 := httptest.NewRequest(http.MethodGet, "/health_check", nil)
	req2.Header.Set("Origin", "https://evil.example")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Empty(t, rec2.Header().Get("Access-Control-Allow-Origin"))
}
