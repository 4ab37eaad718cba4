package middleware

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderRequestID carries the request id in and out.
	HeaderRequestID = "X-Request-Id"
	// ContextRequestID is the key for the request id in gin context.
	ContextRequestID = "request_id"
)

// RequestID reuses an incoming X-Request-Id or mints one, and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Writer.Header().Set(HeaderRequestID, requestID)
		c.Set(ContextRequestID, requestID)
		c.Next()
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
