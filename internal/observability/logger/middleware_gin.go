package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	RequestIDHeader = "X-Request-Id"
	maxRequestIDLen = 64
)

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	// Debug attaches the raw error to every failed request, not only 5xx.
	Debug bool
	// ErrorClassifier maps the last handler error to (type, code).
	ErrorClassifier func(err error) (string, string)
}

// GinMiddleware logs one line per request. Only the path is logged; the query
// string can hold a public viewing token.
func GinMiddleware(base *zap.Logger, cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFrom(c.GetHeader(RequestIDHeader))
		c.Header(RequestIDHeader, requestID)
		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(orgcontext.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if last := c.Errors.Last(); last != nil {
			fields = append(fields, errorFields(last.Err, cfg, status)...)
		}

		if ce := WithContext(c.Request.Context(), base).Check(requestLevel(route, status), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func errorFields(err error, cfg MiddlewareConfig, status int) []zap.Field {
	var fields []zap.Field
	if cfg.ErrorClassifier != nil {
		errType, code := cfg.ErrorClassifier(err)
		fields = append(fields, zap.String("error_type", errType), zap.String("error_code", code))
	}
	if cfg.Debug || status >= http.StatusInternalServerError {
		fields = append(fields, zap.Error(err))
	}
	return fields
}

func requestLevel(route string, status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status == http.StatusTooManyRequests:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// requestIDFrom accepts a caller supplied id when it is short and printable.
func requestIDFrom(header string) string {
	id := strings.TrimSpace(header)
	if id == "" || len(id) > maxRequestIDLen || strings.ContainsFunc(id, func(r rune) bool { return r < '!' || r > '~' }) {
		return uuid.NewString()
	}
	return id
}
