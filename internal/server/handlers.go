package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/arena"
	"github.com/parleyhq/parley/internal/logging"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"active_debates": s.registry.Len(),
		"ws_clients":     s.hub.ClientCount(),
		"time":           time.Now().UTC(),
	})
}

func (s *Server) handleListDebates(c *gin.Context) {
	if s.archive == nil {
		respondUnavailable(c, "debate archive")
		return
	}
	limit := queryLimit(c, 20)
	offset := queryOffset(c)

	if query := c.Query("q"); query != "" {
		records, err := s.archive.SearchByTask(query, limit)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"debates": records, "limit": limit})
		return
	}

	records, err := s.archive.ListRecent(limit, offset)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.archive.Count()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"debates": records,
		"limit":   limit,
		"offset":  offset,
		"total":   total,
	})
}

// lookupDebate resolves :id as a debate id first, then as a slug.
func (s *Server) lookupDebate(c *gin.Context) (*arena.Result, bool) {
	id := c.Param("id")
	if !validSlug(id) {
		respondError(c, http.StatusBadRequest, "invalid debate id")
		return nil, false
	}
	rec, err := s.archive.GetByID(id)
	if err != nil {
		rec, err = s.archive.GetBySlug(id)
	}
	if err != nil {
		respondNotFound(c, "debate")
		return nil, false
	}
	var result arena.Result
	if err := json.Unmarshal(rec.ResultJSON, &result); err != nil {
		respondError(c, http.StatusInternalServerError, "stored artifact is unreadable")
		return nil, false
	}
	return &result, true
}

func (s *Server) handleGetDebate(c *gin.Context) {
	if s.archive == nil {
		respondUnavailable(c, "debate archive")
		return
	}
	result, ok := s.lookupDebate(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleExportDebate(c *gin.Context) {
	if s.archive == nil {
		respondUnavailable(c, "debate archive")
		return
	}
	result, ok := s.lookupDebate(c)
	if !ok {
		return
	}
	body, contentType, err := arena.Export(result, c.DefaultQuery("format", arena.FormatJSON), c.Query("table"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.Data(http.StatusOK, contentType, body)
}

func (s *Server) handleStartDebate(c *gin.Context) {
	if !s.limiter.Allow("http:" + c.ClientIP()) {
		respondRateLimited(c, s.config.AudienceBurst, time.Minute)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	var req startDebateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status := http.StatusBadRequest
		if err.Error() == "http: request body too large" {
			status = http.StatusRequestEntityTooLarge
		}
		respondError(c, status, "invalid request: "+err.Error())
		return
	}

	id, slug, err := s.debates.Start(req)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	logging.LogDebateEvent("debate_accepted", id, map[string]interface{}{"task": req.Task})
	c.JSON(http.StatusAccepted, gin.H{"id": id, "slug": slug, "loop_id": id})
}

func (s *Server) handleCancelDebate(c *gin.Context) {
	id := c.Param("id")
	if !validID(id) {
		respondError(c, http.StatusBadRequest, "invalid debate id")
		return
	}
	if !s.debates.Cancel(id) {
		respondNotFound(c, "running debate")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": id})
}

func (s *Server) handleListAgents(c *gin.Context) {
	type agentView struct {
		Name     string `json:"name"`
		Role     string `json:"role"`
		Model    string `json:"model"`
		Breaker  string `json:"breaker"`
		Failures int    `json:"failures"`
	}
	views := make([]agentView, 0, len(s.agents))
	for name, ag := range s.agents {
		views = append(views, agentView{
			Name:     name,
			Role:     string(ag.Role()),
			Model:    ag.Model(),
			Breaker:  string(s.breaker.State(name)),
			Failures: s.breaker.Failures(name),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	c.JSON(http.StatusOK, gin.H{"agents": views})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	if s.ledger == nil {
		respondUnavailable(c, "rating ledger")
		return
	}
	ratings, err := s.ledger.Leaderboard(queryLimit(c, 20))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": ratings})
}

func (s *Server) handleRecentMatches(c *gin.Context) {
	if s.ledger == nil {
		respondUnavailable(c, "rating ledger")
		return
	}
	matches, err := s.ledger.RecentMatches(queryLimit(c, 20))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) handleAgentMatches(c *gin.Context) {
	if s.ledger == nil {
		respondUnavailable(c, "rating ledger")
		return
	}
	name := c.Param("name")
	if !validAgentName(name) {
		respondError(c, http.StatusBadRequest, "invalid agent name")
		return
	}
	matches, err := s.ledger.MatchHistory(name, queryLimit(c, 20))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": name, "matches": matches})
}

func (s *Server) handleRecentInsights(c *gin.Context) {
	if s.archive == nil {
		respondUnavailable(c, "debate archive")
		return
	}
	insights, err := s.archive.RecentInsights(queryLimit(c, 20))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

func (s *Server) handleMemoryTierStats(c *gin.Context) {
	if s.memory == nil {
		respondUnavailable(c, "memory store")
		return
	}
	agentName := c.Query("agent")
	if agentName == "" || !validAgentName(agentName) {
		respondError(c, http.StatusBadRequest, "agent query parameter is required")
		return
	}
	stats, err := s.memory.Stats(agentName)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleFlipSummary(c *gin.Context) {
	if s.archive == nil {
		respondUnavailable(c, "debate archive")
		return
	}
	summary, err := s.archive.FlipSummary()
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"flips_by_agent": summary})
}

func (s *Server) handleRecentFlips(c *gin.Context) {
	if s.archive == nil {
		respondUnavailable(c, "debate archive")
		return
	}
	flips, err := s.archive.RecentFlips(queryLimit(c, 20))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"flips": flips})
}

// handleWebhook ingests an external event exactly once. A redelivered
// event id answers 200 without reprocessing.
func (s *Server) handleWebhook(c *gin.Context) {
	if s.webhooks == nil {
		respondUnavailable(c, "webhook store")
		return
	}
	source := c.Param("source")
	if !validID(source) {
		respondError(c, http.StatusBadRequest, "invalid webhook source")
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	var body struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.EventID == "" || !validID(body.EventID) {
		respondError(c, http.StatusBadRequest, "event_id is required")
		return
	}

	fresh, err := s.webhooks.MarkProcessed(body.EventID, source)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": body.EventID, "duplicate": !fresh})
}
