package middleware

import (
	"time"

	"github.com/annel0/rift-server/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// RequestLogger прикрепляет к каждому HTTP-запросу trace-id и пишет
// парные строки входа и выхода через глобальный logging.

type RequestLogger struct{}

func NewRequestLogger() *RequestLogger { return &RequestLogger{} }

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Если OpenTelemetry уже открыл спан, берём его trace-id,
		// иначе генерируем свой.
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set("trace_id", traceID)

		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logging.Info("[HTTP] ▶ %s %s ip=%s trace=%s", method, path, c.ClientIP(), traceID)

		c.Next()

		logging.Info("[HTTP] ◀ %s %s %d %s trace=%s",
			method, path, c.Writer.Status(), time.Since(start), traceID)
	}
}
