package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/roadfuel/internal/gateway"
	"github.com/smallbiznis/roadfuel/internal/session"
	"github.com/smallbiznis/roadfuel/internal/wire"
	"go.uber.org/zap"
)

type beginSessionRequest struct {
	Token        string  `json:"token"`
	UserID       wire.ID `json:"user_id"`
	UserName     string  `json:"user_name"`
	UserEmail    string  `json:"user_email"`
	TenantDomain string  `json:"tenant_domain"`
}

// BeginSession stores the session handed over after sign-in, then reloads
// trips so an active journey survives a restart.
func (s *Server) BeginSession(c *gin.Context) {
	var req beginSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	err := s.sessions.Begin(ctx, session.Session{
		Token:        req.Token,
		UserID:       strings.TrimSpace(req.UserID.String()),
		UserName:     strings.TrimSpace(req.UserName),
		UserEmail:    strings.TrimSpace(req.UserEmail),
		TenantDomain: req.TenantDomain,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.trips.List(ctx); err != nil {
		s.log.Warn("session.trips.reload_failed", zap.String("reason", gateway.Reason(err)), zap.Error(err))
	}

	current, ok := s.sessions.Current()
	if !ok {
		// The reload hit a 401 and tore the session down again.
		AbortWithError(c, gateway.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": current})
}

func (s *Server) EndSession(c *gin.Context) {
	if err := s.sessions.Teardown(c.Request.Context(), "logout"); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
