package api

import (
	"net/http"
	"strings"
	"time"

	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	tenantParam     = "tenantID"
)

// requestIDMiddleware tags every request with an id, taken from the
// X-Request-ID header when the caller sent one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(requestIDKey, reqID)
		c.Header(requestIDHeader, reqID)
		c.Next()
	}
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logger.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetString(requestIDKey),
		}
		if tenant := c.Param(tenantParam); tenant != "" {
			fields["tenant_id"] = tenant
		}
		entry := log.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request served")
		}
	}
}

// requireTenant rejects blank tenant path segments before any handler runs.
func requireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(c.Param(tenantParam)) == "" {
			respondError(c, errors.ValidationError(errors.CodeMissingField, "tenant_id", "", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
