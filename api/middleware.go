package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/threadpass/pipeline/pkg/security"
)

// secretHeader carries the shared secret on internal routes.
const secretHeader = "X-Pipeline-Secret"

// RequestLogger logs one line per request with method, path, status, and
// latency.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// requireBrand validates the brand path parameter and runs the injected
// membership check.
func (s *Server) requireBrand(c *gin.Context) {
	brandID := c.Param("brandID")
	if err := security.ValidateBrandID(brandID); err != nil {
		writeError(c, err)
		return
	}
	if err := s.authorize(c, brandID); err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a member of this brand"})
		return
	}
	c.Next()
}

// requireSecret guards internal routes with a constant-time shared
// secret comparison. No configured secret disables the routes entirely.
func (s *Server) requireSecret(c *gin.Context) {
	if s.secret == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "internal routes disabled"})
		return
	}
	got := c.GetHeader(secretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}
	c.Next()
}
