package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/psillyops/psillyops-backend/internal/logger"
)

func newRunHandler(t *testing.T) *ProductionRunHandler {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewProductionRunHandler(log, nil, nil, nil, nil)
}

func TestSkipStepRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newRunHandler(t)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Params = gin.Params{{Key: "id", Value: uuid.NewString()}}
	c.Request = httptest.NewRequest(http.MethodPost, "/steps/skip", strings.NewReader("{not json"))
	c.Request.Header.Set("Content-Type", "application/json")

	h.SkipStep(c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=%d got=%d (body=%s)", http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

// An empty body is fine (no reason given); the request proceeds to the auth
// check instead of failing the parse.
func TestSkipStepAllowsEmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newRunHandler(t)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Params = gin.Params{{Key: "id", Value: uuid.NewString()}}
	c.Request = httptest.NewRequest(http.MethodPost, "/steps/skip", nil)

	h.SkipStep(c)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: want=%d got=%d (body=%s)", http.StatusUnauthorized, rec.Code, rec.Body.String())
	}
}
