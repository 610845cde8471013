package server

import (
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
)

// MaxLimit caps the limit query parameter on list endpoints.
const MaxLimit = 100

var (
	safeIDPattern    = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	slugPattern      = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)
	agentNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)
)

func validID(id string) bool       { return safeIDPattern.MatchString(id) }
func validSlug(slug string) bool   { return slugPattern.MatchString(slug) }
func validAgentName(n string) bool { return agentNamePattern.MatchString(n) }

// queryLimit parses ?limit= with a default, clamped to [1, MaxLimit].
func queryLimit(c *gin.Context, def int) int {
	limit := def
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit
}

// queryOffset parses ?offset=, never negative.
func queryOffset(c *gin.Context) int {
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}
