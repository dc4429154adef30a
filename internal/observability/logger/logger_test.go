package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsBusinessAndActor(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := orgcontext.WithBusinessID(context.Background(), snowflake.ID(77))
	ctx = orgcontext.WithActor(ctx, orgcontext.Actor{ID: "u1", Role: "owner"})
	ctx = orgcontext.WithRequestID(ctx, "req-1")

	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "77", fields["business_id"])
	assert.Equal(t, "u1", fields["actor_id"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestGinMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(GinMiddleware(zap.New(core), MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) {
		assert.NotEmpty(t, orgcontext.RequestIDFromContext(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "abc")
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc", w.Header().Get("X-Request-Id"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "http_request", logs.All()[0].Message)
}

func TestRequestIDFromRejectsUnsafeValues(t *testing.T) {
	assert.Equal(t, "req-42", requestIDFrom(" req-42 "))
	for _, raw := range []string{"", "has space", strings.Repeat("a", maxRequestIDLen+1), "line\nbreak"} {
		id := requestIDFrom(raw)
		_, err := uuid.Parse(id)
		assert.NoError(t, err, "raw %q", raw)
	}
}

func TestRequestLevel(t *testing.T) {
	assert.Equal(t, zapcore.ErrorLevel, requestLevel("/v1/invoices", http.StatusInternalServerError))
	assert.Equal(t, zapcore.DebugLevel, requestLevel("/health", http.StatusOK))
	assert.Equal(t, zapcore.WarnLevel, requestLevel("/public/invoices", http.StatusTooManyRequests))
	assert.Equal(t, zapcore.InfoLevel, requestLevel("/v1/invoices", http.StatusNotFound))
}
