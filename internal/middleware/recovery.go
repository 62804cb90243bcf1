package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery converts handler panics into 500s. A crash in one request must
// never take the enforcement pipeline down with it.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[%s] panic on %s %s: %v",
					c.GetString("request_id"), c.Request.Method, c.Request.URL.Path, r)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}
