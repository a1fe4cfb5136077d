package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	outlit "github.com/outlithq/outlit-go"
	"go.uber.org/zap"
)

// maxWebhookBody bounds webhook payload reads. Stripe events are small; a
// megabyte leaves generous headroom.
const maxWebhookBody = 1 << 20

type trackRequest struct {
	AnonymousID string            `json:"anonymous_id"`
	Email       string            `json:"email"`
	UserID      string            `json:"user_id"`
	EventName   string            `json:"event_name" binding:"required"`
	Properties  outlit.Properties `json:"properties"`
}

func (s *Server) handleTrack(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if s.ingest.Get().Blocked(req.EventName) {
		c.JSON(http.StatusAccepted, gin.H{"accepted": false, "reason": "blocked"})
		return
	}

	ref := outlit.Ref{
		AnonymousID: req.AnonymousID,
		Email:       req.Email,
		UserID:      req.UserID,
	}
	s.client.TrackUser(ref, req.EventName, req.Properties)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

type identifyRequest struct {
	AnonymousID string            `json:"anonymous_id"`
	Email       string            `json:"email"`
	UserID      string            `json:"user_id"`
	Traits      outlit.Properties `json:"traits"`
}

func (s *Server) handleIdentify(c *gin.Context) {
	var req identifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ref := outlit.Ref{
		AnonymousID: req.AnonymousID,
		Email:       req.Email,
		UserID:      req.UserID,
	}
	if ref.Key() == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	s.client.Identify(ref, req.Traits)
	c.JSON(http.StatusOK, gin.H{"actor_key": ref.Key()})
}

type consentRequest struct {
	ActorKey string `json:"actor_key"`
	Action   string `json:"action" binding:"required"`
}

func (s *Server) handleConsent(c *gin.Context) {
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	var err error
	switch strings.ToLower(req.Action) {
	case "enable":
		err = s.client.Consent().Enable(ctx, req.ActorKey)
	case "disable":
		err = s.client.Consent().Disable(ctx, req.ActorKey)
	default:
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"actor_key": req.ActorKey,
		"enabled":   s.client.Consent().Enabled(ctx, req.ActorKey),
	})
}

func (s *Server) handleConsentStatus(c *gin.Context) {
	actorKey := c.Query("actor_key")
	c.JSON(http.StatusOK, gin.H{
		"actor_key": actorKey,
		"enabled":   s.client.Consent().Enabled(c.Request.Context(), actorKey),
	})
}

func (s *Server) handleFlush(c *gin.Context) {
	flushed := s.client.Flush(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"flushed": flushed})
}

func (s *Server) handleWebhook(c *gin.Context) {
	provider := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	evt, err := s.client.ParseWebhook(ctx, provider, payload, c.Request.Header)
	if err != nil {
		s.respondWebhookError(c, provider, err)
		return
	}

	// A distributed lock only matters when several replicas share the
	// customer table; single instances rely on the machine's keyed mutexes.
	if s.locker != nil {
		token, ok, lockErr := s.locker.TryLock(ctx, evt.CustomerID, s.cfg.WebhookLockTTL)
		if lockErr != nil || !ok {
			s.log.Warn("webhook lock unavailable, asking for redelivery",
				zap.String("customer", evt.CustomerID),
				zap.Error(lockErr),
			)
			c.JSON(http.StatusServiceUnavailable, gin.H{"received": false})
			return
		}
		defer func() {
			if err := s.locker.Release(ctx, evt.CustomerID, token); err != nil {
				s.log.Warn("webhook lock release failed", zap.Error(err))
			}
		}()
	}

	if err := s.client.ApplyWebhook(ctx, *evt); err != nil {
		s.respondWebhookError(c, provider, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "applied": true})
}
