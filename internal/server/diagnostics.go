package server

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/roadfuel/internal/offline"
	"github.com/smallbiznis/roadfuel/internal/syncer"
	"github.com/smallbiznis/roadfuel/pkg/db/pagination"
)

type pendingResponse struct {
	Session     bool             `json:"session"`
	Tenant      string           `json:"tenant,omitempty"`
	Pending     map[string]int64 `json:"pending"`
	Total       int64            `json:"total"`
	DeadLetters int64            `json:"dead_letters"`
}

func (s *Server) ListPending(c *gin.Context) {
	ctx := c.Request.Context()
	pending, err := s.orchestrator.Pending(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	buried, err := s.deadLetters.Count(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := pendingResponse{Pending: pending, DeadLetters: buried}
	for _, n := range pending {
		resp.Total += n
	}
	if _, ok := s.sessions.Current(); ok {
		resp.Session = true
		resp.Tenant = s.sessions.TenantDomain()
	}
	c.JSON(http.StatusOK, resp)
}

type syncResponse struct {
	Results []offline.Result `json:"results"`
	Total   offline.Result   `json:"total"`
	Error   string           `json:"error,omitempty"`
}

// TriggerSync is pull-to-refresh: every due and backed-off row is replayed.
func (s *Server) TriggerSync(c *gin.Context) {
	summary, err := s.orchestrator.Trigger(c.Request.Context(), syncer.TriggerManual, offline.SyncOptions{IgnoreBackoff: true})
	if err != nil && (isUnauthorized(err) || c.Request.Context().Err() != nil) {
		AbortWithError(c, err)
		return
	}
	resp := syncResponse{Results: summary.Results, Total: summary.Total}
	if resp.Results == nil {
		resp.Results = []offline.Result{}
	}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetJourney(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.sessions.Journey().Snapshot()})
}

type listDeadLettersRequest struct {
	pagination.Pagination
	Entity string `form:"entity"`
}

func (s *Server) ListDeadLetters(c *gin.Context) {
	var req listDeadLettersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entity := strings.TrimSpace(req.Entity)
	if entity != "" && !slices.Contains(s.deadLetters.Entities(), entity) {
		AbortWithError(c, newValidationError("entity", "invalid_entity", "unknown entity"))
		return
	}

	var after int64
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid page token"))
			return
		}
		after = cursor.ID
	}

	limit := req.Limit()
	rows, err := s.deadLetters.List(c.Request.Context(), entity, after, limit+1)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rows, pageInfo, err := pagination.Trim(rows, limit, func(dl offline.DeadLetter) int64 { return dl.ID })
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if rows == nil {
		rows = []offline.DeadLetter{}
	}

	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": pageInfo})
}

func (s *Server) RequeueDeadLetter(c *gin.Context) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	dl, err := s.deadLetters.Requeue(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": dl})
}
