package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	outlit "github.com/outlithq/outlit-go"
	"go.uber.org/zap"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrNotFound           = errors.New("not_found")
	ErrInternal           = errors.New("internal_error")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: "request body is invalid"}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "resource not found"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "temporarily unavailable"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal error"}
	}
}

// respondWebhookError maps pipeline sentinels onto webhook ingress responses.
// Anything the provider should not redeliver is acknowledged with 200.
func (s *Server) respondWebhookError(c *gin.Context, provider string, err error) {
	switch {
	case errors.Is(err, outlit.ErrUnknownProvider):
		c.JSON(http.StatusNotFound, errorResponse{Error: errorPayload{Type: "not_found", Message: "unknown webhook provider"}})
	case errors.Is(err, outlit.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, errorResponse{Error: errorPayload{Type: "invalid_signature", Message: "webhook signature verification failed"}})
	case errors.Is(err, outlit.ErrEventIgnored):
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
	case errors.Is(err, outlit.ErrDuplicateWebhook), errors.Is(err, outlit.ErrStaleWebhook):
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": false})
	case errors.Is(err, outlit.ErrUnresolvedIdentity):
		s.log.Warn("webhook discarded, customer identity unresolved",
			zap.String("provider", provider),
		)
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": false})
	case errors.Is(err, outlit.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errorPayload{Type: "service_unavailable", Message: "shutting down"}})
	default:
		s.log.Error("webhook processing failed",
			zap.String("provider", provider),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: errorPayload{Type: "internal_error", Message: "internal error"}})
	}
}
