package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/internal/sanitize"
)

// respondError sends a uniform error body. Messages pass through the
// secret scrubber so provider keys and local paths never reach clients.
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error":  sanitize.ScrubSecrets(message),
		"status": status,
	})
}

func respondNotFound(c *gin.Context, what string) {
	respondError(c, http.StatusNotFound, what+" not found")
}

func respondUnavailable(c *gin.Context, what string) {
	respondError(c, http.StatusServiceUnavailable, what+" is not configured")
}

// respondRateLimited sends 429 with the standard rate-limit headers.
func respondRateLimited(c *gin.Context, limit int, retryAfter time.Duration) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(retryAfter).Unix(), 10))
	c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	respondError(c, http.StatusTooManyRequests, "rate limit exceeded")
}
