package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one access line per request, tagged with the request id so
// a denial in the log can be matched against the audit trail.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		line := fmt.Sprintf("[%s] %s %s - %d - %v - %s",
			c.GetString("request_id"), method, path,
			c.Writer.Status(), time.Since(start), c.ClientIP())
		if limitType := c.Writer.Header().Get("X-RateLimit-Type"); limitType != "" {
			line += " " + limitType
		}
		log.Print(line)
	}
}
