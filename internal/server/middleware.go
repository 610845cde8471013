package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// requireAuth guards mutating endpoints. With no credential scheme
// configured the deployment is open and the guard passes everything, which
// matches single-user local use.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.auth.Enabled() {
			c.Next()
			return
		}
		subject, err := s.auth.Authenticate(c.GetHeader("Authorization"), c.GetHeader("X-API-Key"))
		if err != nil {
			c.Header("WWW-Authenticate", `Bearer realm="parley"`)
			respondError(c, http.StatusUnauthorized, "authentication required")
			c.Abort()
			return
		}
		c.Set("subject", subject)
		c.Next()
	}
}
